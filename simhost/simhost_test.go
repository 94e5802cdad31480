package simhost

import (
	"testing"
	"time"

	"github.com/joeycumines/go-icexec"
	"github.com/joeycumines/go-icexec/call"
	"github.com/joeycumines/go-icexec/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	_, err := New(&Config{QueueCapacity: -1})
	assert.Error(t, err)

	_, err = New(&Config{Options: []icexec.Option{icexec.WithWarningRateLimits(nil)}})
	assert.ErrorIs(t, err, icexec.ErrInvalidRateLimits)

	h, err := New(&Config{Start: 42})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), h.Time())
	_, armed := h.Deadline()
	assert.False(t, armed)
}

func TestHost_performOutsideMessage(t *testing.T) {
	h, err := New(nil)
	require.NoError(t, err)
	code := h.Perform(1, &call.Request{Method: `m`})
	assert.Equal(t, call.SysFatal, code)
	assert.Empty(t, h.InFlight())
}

func TestHost_busy(t *testing.T) {
	h, err := New(nil)
	require.NoError(t, err)
	var nested, advance, upgrade error
	require.NoError(t, h.Update(func() {
		nested = h.Update(func() {})
		advance = h.Advance(time.Second)
		upgrade = h.Upgrade()
	}))
	assert.ErrorIs(t, nested, ErrBusy)
	assert.ErrorIs(t, advance, ErrBusy)
	assert.ErrorIs(t, upgrade, ErrBusy)
	assert.Equal(t, uint64(0), h.Time())
}

func TestHost_callsAreCommittedInDispatchOrder(t *testing.T) {
	h, err := New(nil)
	require.NoError(t, err)
	rt := h.Runtime()

	payload := []byte(`abc`)
	require.NoError(t, h.Update(func() {
		for _, method := range []string{`a`, `b`, `a`} {
			require.NoError(t, rt.SpawnFunc(func(a *executor.Awaiter) {
				_, _ = rt.Call(call.ManagementCanister, method).WithArgs(payload).Await(a)
			}))
		}
	}))
	payload[0] = 'x'

	calls := h.InFlight()
	require.Len(t, calls, 3)
	for i, c := range calls {
		assert.Equal(t, uint64(i+1), c.Seq)
		assert.Equal(t, []byte(`abc`), c.Request.Payload, `payload must be copied`)
	}
	first, ok := h.Find(`a`)
	require.True(t, ok)
	assert.Same(t, calls[0], first)
	_, ok = h.Find(`c`)
	assert.False(t, ok)

	require.NoError(t, h.Reject(first, call.CanisterReject, `no`))
	assert.ErrorIs(t, h.Reject(first, call.CanisterReject, `no`), ErrNotInFlight)
	next, _ := h.Find(`a`)
	assert.Same(t, calls[2], next)
}

func TestHost_globalTimer(t *testing.T) {
	h, err := New(nil)
	require.NoError(t, err)
	rt := h.Runtime()

	var fired []uint64
	require.NoError(t, h.Update(func() {
		rt.SetTimerInterval(2*time.Second, func() executor.Future[struct{}] {
			fired = append(fired, h.Time())
			return nil
		})
	}))
	deadline, ok := h.Deadline()
	require.True(t, ok)
	assert.Equal(t, uint64(2*time.Second), deadline)

	require.NoError(t, h.Advance(time.Second))
	assert.Empty(t, fired)
	require.NoError(t, h.Advance(time.Second))
	require.NoError(t, h.Advance(5*time.Second))
	assert.Equal(t, []uint64{uint64(2 * time.Second), uint64(7 * time.Second)}, fired)

	require.NoError(t, h.Upgrade())
	_, ok = h.Deadline()
	assert.False(t, ok)
}
