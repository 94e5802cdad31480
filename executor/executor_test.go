package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signal is a future that is pending until fired.
type signal struct {
	waker   Waker
	fired   bool
	dropped bool
	polls   int
}

func (x *signal) Poll(cx *Context) (struct{}, Status) {
	x.polls++
	if x.fired {
		return struct{}{}, Ready
	}
	x.waker = cx.Waker()
	return struct{}{}, Pending
}

func (x *signal) Drop() { x.dropped = true }

func (x *signal) fire(t *testing.T) {
	t.Helper()
	x.fired = true
	require.NoError(t, x.waker.Wake())
}

func enter(t *testing.T, x *Executor) {
	t.Helper()
	require.NoError(t, x.Enter())
	t.Cleanup(func() { _ = x.Exit() })
}

func TestExecutor_Spawn_errors(t *testing.T) {
	x := New(nil)

	_, err := x.Spawn(Done(struct{}{}))
	assert.ErrorIs(t, err, ErrNoContext)

	enter(t, x)
	assert.ErrorIs(t, x.Enter(), ErrContextActive)

	_, err = x.Spawn(nil)
	assert.ErrorIs(t, err, ErrNilFuture)

	x.SetRecovering(true)
	_, err = x.Spawn(Done(struct{}{}))
	assert.ErrorIs(t, err, ErrRecovering)
	assert.Equal(t, 0, x.Len())
	assert.Equal(t, 0, x.Queued())
	x.SetRecovering(false)
}

func TestExecutor_Spawn_pollsOpportunistically(t *testing.T) {
	x := New(nil)
	enter(t, x)

	var polled bool
	id, err := x.Spawn(FutureFunc[struct{}](func(cx *Context) (struct{}, Status) {
		polled = true
		return struct{}{}, Ready
	}))
	require.NoError(t, err)
	assert.True(t, polled)
	assert.Equal(t, 0, x.Len(), `completed task must be reclaimed`)
	_, ok := x.State(id)
	assert.False(t, ok)
}

func TestExecutor_wakeDuringPollDoesNotRecurse(t *testing.T) {
	x := New(nil)
	enter(t, x)

	var (
		depth, maxDepth int
		order           []string
	)
	track := func(name string, body func(cx *Context) Status) Future[struct{}] {
		return FutureFunc[struct{}](func(cx *Context) (struct{}, Status) {
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
			defer func() { depth-- }()
			order = append(order, name)
			return struct{}{}, body(cx)
		})
	}

	b := &signal{}
	_, err := x.Spawn(track(`b`, func(cx *Context) Status {
		_, status := b.Poll(cx)
		return status
	}))
	require.NoError(t, err)

	var polledA int
	_, err = x.Spawn(track(`a`, func(cx *Context) Status {
		polledA++
		b.fire(t)
		// still inside a's poll, so b must only have been queued
		assert.Equal(t, []string{`b`, `a`}, order)
		assert.True(t, x.Polling())
		return Ready
	}))
	require.NoError(t, err)

	assert.Equal(t, 1, polledA)
	assert.Equal(t, []string{`b`, `a`, `b`}, order)
	assert.Equal(t, 1, maxDepth)
	assert.False(t, x.Polling())
	assert.Equal(t, 0, x.Len())
}

func TestExecutor_wakeOrderAndNoDoubleQueue(t *testing.T) {
	x := New(nil)
	enter(t, x)

	sigs := []*signal{{}, {}, {}}
	var order []int
	for i, s := range sigs {
		_, err := x.Spawn(FutureFunc[struct{}](func(cx *Context) (struct{}, Status) {
			if _, status := s.Poll(cx); status == Pending {
				return struct{}{}, Pending
			}
			order = append(order, i)
			return struct{}{}, Ready
		}))
		require.NoError(t, err)
	}
	require.Equal(t, 3, x.Len())

	// fire all from inside a poll, so the wakes queue rather than run
	_, err := x.Spawn(FutureFunc[struct{}](func(cx *Context) (struct{}, Status) {
		sigs[2].fire(t)
		sigs[0].fire(t)
		sigs[0].fire(t)
		sigs[1].fire(t)
		assert.Equal(t, 3, x.Queued())
		return struct{}{}, Ready
	}))
	require.NoError(t, err)

	assert.Equal(t, []int{2, 0, 1}, order)
	assert.Equal(t, 2, sigs[0].polls)
	assert.Equal(t, 0, x.Len())
}

func TestExecutor_danglingAndOutOfContextWakers(t *testing.T) {
	x := New(nil)
	require.NoError(t, x.Enter())

	s := &signal{}
	id, err := x.Spawn(s)
	require.NoError(t, err)
	state, ok := x.State(id)
	require.True(t, ok)
	assert.Equal(t, TaskPending, state)

	require.NoError(t, x.Exit())
	assert.ErrorIs(t, s.waker.Wake(), ErrNoContext)

	require.NoError(t, x.Enter())
	s.fire(t)
	_, ok = x.State(id)
	require.False(t, ok)

	// the task is gone, so the waker dangles
	assert.NoError(t, s.waker.Wake())

	// dangling wakers are ignored outside any context too
	require.NoError(t, x.Exit())
	assert.False(t, x.InContext())
	assert.NoError(t, s.waker.Wake())

	cancelled := &signal{}
	require.NoError(t, x.Enter())
	id, err = x.Spawn(cancelled)
	require.NoError(t, err)
	require.True(t, x.Cancel(id))
	require.NoError(t, x.Exit())
	assert.NoError(t, cancelled.waker.Wake())
	assert.NoError(t, Waker{}.Wake())
	assert.True(t, Waker{}.IsZero())
	assert.Equal(t, id, s.waker.Task())
}

func TestExecutor_CancelAll(t *testing.T) {
	x := New(nil)
	enter(t, x)

	a, b := &signal{}, &signal{}
	_, err := x.Spawn(a)
	require.NoError(t, err)
	idB, err := x.Spawn(b)
	require.NoError(t, err)

	assert.True(t, x.Cancel(idB))
	assert.False(t, x.Cancel(idB))
	assert.True(t, b.dropped)

	assert.Equal(t, 1, x.CancelAll())
	assert.True(t, a.dropped)
	assert.Equal(t, 0, x.Len())
	assert.NoError(t, a.waker.Wake())
	assert.Equal(t, 0, x.Queued())
}

func TestExecutor_Run_panicPropagates(t *testing.T) {
	x := New(nil)
	enter(t, x)

	assert.PanicsWithValue(t, `boom`, func() {
		_, _ = x.Spawn(FutureFunc[struct{}](func(cx *Context) (struct{}, Status) {
			panic(`boom`)
		}))
	})
	assert.False(t, x.Polling())
	_, ok := x.Current()
	assert.False(t, ok)
	assert.Equal(t, 1, x.CancelAll())
}

func TestExecutor_dropPanicIsContained(t *testing.T) {
	x := New(nil)
	enter(t, x)

	_, err := x.Spawn(&panickyDrop{})
	require.NoError(t, err)
	assert.NotPanics(t, func() { x.CancelAll() })
}

type panickyDrop struct{}

func (*panickyDrop) Poll(*Context) (struct{}, Status) { return struct{}{}, Pending }

func (*panickyDrop) Drop() { panic(`drop`) }

func TestJoin(t *testing.T) {
	x := New(nil)
	enter(t, x)

	a, b := &signal{}, &signal{}
	values := func(s *signal, v int) Future[int] {
		return FutureFunc[int](func(cx *Context) (int, Status) {
			if _, status := s.Poll(cx); status == Pending {
				return 0, Pending
			}
			return v, Ready
		})
	}
	var result []int
	_, err := x.Spawn(Async(func(aw *Awaiter) {
		result = Await(aw, Join(values(a, 1), values(b, 2), Done(3)))
	}))
	require.NoError(t, err)
	assert.Nil(t, result)

	b.fire(t)
	assert.Nil(t, result)
	a.fire(t)
	assert.Equal(t, []int{1, 2, 3}, result)
}

func TestJoin_Drop(t *testing.T) {
	a, b := &signal{fired: true}, &signal{}
	j := Join[struct{}](a, b)
	_, status := j.Poll(NewContext(Waker{}))
	require.Equal(t, Pending, status)
	j.(Dropper).Drop()
	assert.False(t, a.dropped)
	assert.True(t, b.dropped)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, `pending`, Pending.String())
	assert.Equal(t, `ready`, Ready.String())
	assert.Equal(t, `status(9)`, Status(9).String())
	assert.Equal(t, `completed`, TaskCompleted.String())
}
