package call

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrincipal_String(t *testing.T) {
	for _, tc := range [...]struct {
		name string
		p    Principal
		text string
	}{
		{`management`, ManagementCanister, `aaaaa-aa`},
		{`ledger`, Principal{0, 0, 0, 0, 0, 0, 0, 2, 1, 1}, `ryjl3-tyaaa-aaaaa-aaaba-cai`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.text, tc.p.String())
			p, err := ParsePrincipal(tc.text)
			require.NoError(t, err)
			assert.True(t, tc.p.Equal(p))
		})
	}
}

func TestParsePrincipal_invalid(t *testing.T) {
	for _, s := range []string{
		`aaaaa-ab`,
		`AAAAA-AA`,
		`aaaaaaa`,
		`!!`,
		`ryjl3-tyaaa-aaaaa-aaaba-caa`,
	} {
		_, err := ParsePrincipal(s)
		assert.ErrorIs(t, err, ErrInvalidPrincipal, s)
	}
}

func TestRejectCode(t *testing.T) {
	code, err := ParseRejectCode(6)
	require.NoError(t, err)
	assert.Equal(t, SysUnknown, code)
	assert.Equal(t, `SysUnknown`, code.String())

	_, err = ParseRejectCode(0)
	var invalid *InvalidRejectCodeError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, `call: invalid reject code: 0`, err.Error())
	_, err = ParseRejectCode(7)
	assert.Error(t, err)

	assert.Equal(t, `RejectCode(9)`, RejectCode(9).String())
	assert.Equal(t,
		`call: rejected (CanisterError): oops`,
		(&RejectError{Code: CanisterError, Message: `oops`}).Error(),
	)
	assert.Equal(t,
		`call: rejected synchronously (SysTransient): failed to enqueue the call`,
		(&RejectError{Code: SysTransient, Message: syncRejectMessage, Sync: true}).Error(),
	)
	assert.True(t, (&RejectError{Code: DestinationInvalid}).IsClean())
	assert.False(t, (&RejectError{Code: SysUnknown}).IsClean())
}

func TestRequest_TimeoutSeconds(t *testing.T) {
	assert.Equal(t, uint32(0), (&Request{Mode: UnboundedWait, Timeout: time.Second}).TimeoutSeconds())
	assert.Equal(t, uint32(300), (&Request{Mode: BoundedWait}).TimeoutSeconds())
	assert.Equal(t, uint32(2), (&Request{Mode: BoundedWait, Timeout: 1500 * time.Millisecond}).TimeoutSeconds())
	assert.Equal(t, uint32(10), (&Request{Mode: BoundedWait, Timeout: 10 * time.Second}).TimeoutSeconds())
}

func TestBuilder_defaults(t *testing.T) {
	reg := NewRegistry(HostFunc(func(Handle, *Request) RejectCode { return NoError }), nil)
	req := reg.Call(ManagementCanister, `m`).Request()
	assert.Equal(t, BoundedWait, req.Mode)
	assert.Equal(t, DefaultTimeout, req.Timeout)

	req = reg.Call(ManagementCanister, `m`).WithBoundedWait(0).Request()
	assert.Equal(t, DefaultTimeout, req.Timeout)
	req = reg.Call(ManagementCanister, `m`).WithBoundedWait(time.Second).Request()
	assert.Equal(t, time.Second, req.Timeout)
	req = reg.Call(ManagementCanister, `m`).WithUnboundedWait().Request()
	assert.Equal(t, UnboundedWait, req.Mode)
	assert.Equal(t, `unbounded`, req.Mode.String())
	assert.Equal(t, `bounded`, BoundedWait.String())
}
