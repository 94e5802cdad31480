package timers

import (
	"testing"
	"time"

	"github.com/joeycumines/go-icexec/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	now    uint64
	alarms []uint64
}

func (x *fakeHost) Time() uint64 { return x.now }

func (x *fakeHost) SetGlobalTimer(deadline uint64) { x.alarms = append(x.alarms, deadline) }

func (x *fakeHost) tick(h *Heap, now uint64) int {
	x.now = now
	return h.Tick(now)
}

func newHeap(host *fakeHost, spawner Spawner) *Heap {
	return New(&Config{Clock: host, Alarm: host, Spawner: spawner})
}

func TestHeap_oneShotFiresAtDeadline(t *testing.T) {
	host := &fakeHost{}
	h := newHeap(host, nil)

	var fired int
	id := h.SetTimer(5, Sync(func() { fired++ }))
	due, ok := h.Due(id)
	require.True(t, ok)
	assert.Equal(t, uint64(5), due)

	assert.Equal(t, 0, host.tick(h, 3))
	assert.Equal(t, 0, fired)
	assert.Equal(t, 1, host.tick(h, 5))
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, h.Len())
	assert.False(t, h.Clear(id), `fired one-shot timers cannot be cleared`)

	host.tick(h, 100)
	assert.Equal(t, 1, fired)
}

func TestHeap_intervalSkipsMissedPeriods(t *testing.T) {
	host := &fakeHost{}
	h := newHeap(host, nil)

	var fired []uint64
	id := h.SetTimerInterval(5, Sync(func() { fired = append(fired, host.now) }))

	host.tick(h, 5)
	due, _ := h.Due(id)
	assert.Equal(t, uint64(10), due)

	host.tick(h, 23)
	assert.Equal(t, []uint64{5, 23}, fired, `an overrun fires once`)
	due, _ = h.Due(id)
	assert.Equal(t, uint64(28), due, `rescheduled from the tick time`)

	host.tick(h, 27)
	assert.Len(t, fired, 2)
	host.tick(h, 28)
	assert.Len(t, fired, 3)
	assert.True(t, h.Clear(id))
	assert.False(t, h.Clear(id))
}

func TestHeap_orderingByDeadlineThenInsertion(t *testing.T) {
	host := &fakeHost{}
	h := newHeap(host, nil)

	var order []string
	add := func(name string, delay time.Duration) {
		h.SetTimer(delay, Sync(func() { order = append(order, name) }))
	}
	add(`c`, 7)
	add(`a1`, 3)
	add(`b`, 5)
	add(`a2`, 3)
	add(`a3`, 3)

	assert.Equal(t, 5, host.tick(h, 10))
	assert.Equal(t, []string{`a1`, `a2`, `a3`, `b`, `c`}, order)
}

func TestHeap_clearInsideClosure(t *testing.T) {
	host := &fakeHost{}
	h := newHeap(host, nil)

	var (
		order         []string
		self, sibling ID
	)
	self = h.SetTimerInterval(5, Sync(func() {
		order = append(order, `self`)
		assert.True(t, h.Clear(self))
		assert.True(t, h.Clear(sibling))
	}))
	sibling = h.SetTimer(5, Sync(func() { order = append(order, `sibling`) }))
	h.SetTimer(5, Sync(func() { order = append(order, `other`) }))

	assert.Equal(t, 2, host.tick(h, 5))
	assert.Equal(t, []string{`self`, `other`}, order)
	assert.Equal(t, 0, h.Len(), `a self-cleared interval must not be rescheduled`)
	host.tick(h, 50)
	assert.Equal(t, []string{`self`, `other`}, order)
}

func TestHeap_timersAddedDuringTickWaitForNextTick(t *testing.T) {
	host := &fakeHost{}
	h := newHeap(host, nil)

	var n int
	var rearm func()
	rearm = func() {
		n++
		h.SetTimer(0, Sync(rearm))
	}
	h.SetTimer(0, Sync(rearm))

	assert.Equal(t, 1, host.tick(h, 0))
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, host.tick(h, 0))
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, h.Len())
}

func TestHeap_globalTimer(t *testing.T) {
	host := &fakeHost{now: 100}
	h := newHeap(host, nil)

	h.SetTimer(50, Sync(func() {}))
	h.SetTimer(80, Sync(func() {}))
	early := h.SetTimer(20, Sync(func() {}))
	assert.Equal(t, []uint64{150, 120}, host.alarms)

	// clearing does not re-arm, the host tick is harmless
	h.Clear(early)
	assert.Equal(t, 0, host.tick(h, 120))
	assert.Equal(t, []uint64{150, 120, 150}, host.alarms)

	next, ok := h.Next()
	require.True(t, ok)
	assert.Equal(t, uint64(150), next)

	host.tick(h, 200)
	assert.Equal(t, []uint64{150, 120, 150}, host.alarms)
	_, ok = h.Next()
	assert.False(t, ok)

	h.SetTimer(1, Sync(func() {}))
	assert.Equal(t, []uint64{150, 120, 150, 201}, host.alarms)
}

func TestHeap_panicStillReschedules(t *testing.T) {
	host := &fakeHost{}
	h := newHeap(host, nil)

	var ran int
	id := h.SetTimerInterval(10, Sync(func() { ran++ }))
	h.SetTimer(10, Sync(func() { panic(`boom`) }))

	assert.PanicsWithValue(t, `boom`, func() { host.tick(h, 10) })
	assert.Equal(t, 1, ran)
	due, ok := h.Due(id)
	require.True(t, ok)
	assert.Equal(t, uint64(20), due)
	assert.Equal(t, 1, h.Len())
}

type recordingSpawner struct {
	futures []executor.Future[struct{}]
	err     error
}

func (x *recordingSpawner) Spawn(f executor.Future[struct{}]) (executor.TaskID, error) {
	x.futures = append(x.futures, f)
	return 0, x.err
}

func TestHeap_asyncFuncsAreSpawned(t *testing.T) {
	host := &fakeHost{}
	spawner := &recordingSpawner{}
	h := newHeap(host, spawner)

	f := executor.Done(struct{}{})
	h.SetTimer(1, func() executor.Future[struct{}] { return f })
	h.SetTimer(1, Sync(func() {}))
	host.tick(h, 1)
	require.Len(t, spawner.futures, 1)
	assert.Equal(t, f, spawner.futures[0])

	// without a spawner, the future is discarded
	h = newHeap(host, nil)
	h.SetTimer(1, func() executor.Future[struct{}] { return f })
	assert.NotPanics(t, func() { host.tick(h, 2) })
}

func TestHeap_Reset(t *testing.T) {
	host := &fakeHost{}
	h := newHeap(host, nil)
	id := h.SetTimer(1, Sync(func() { t.Fatal(`must not fire`) }))
	h.SetTimerInterval(1, Sync(func() { t.Fatal(`must not fire`) }))
	assert.Equal(t, 2, h.Reset())
	assert.False(t, h.Clear(id))
	assert.Equal(t, 0, host.tick(h, 10))
}

func TestHeap_deadlineSaturates(t *testing.T) {
	host := &fakeHost{now: ^uint64(0) - 1}
	h := newHeap(host, nil)
	id := h.SetTimer(time.Hour, Sync(func() {}))
	due, _ := h.Due(id)
	assert.Equal(t, ^uint64(0), due)

	id = h.SetTimer(-time.Second, Sync(func() {}))
	due, _ = h.Due(id)
	assert.Equal(t, host.now, due)
}

func TestNew_requiresClock(t *testing.T) {
	assert.Panics(t, func() { New(nil) })
	assert.Panics(t, func() { New(&Config{}) })
	h := New(&Config{Clock: ClockFunc(func() uint64 { return 0 })})
	assert.Panics(t, func() { h.SetTimer(0, nil) })
}
