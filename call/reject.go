// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package call

import (
	"fmt"
)

type (
	// RejectCode classifies a rejected call. Zero is success.
	RejectCode uint32

	// RejectError is the error returned when a call is rejected, either by
	// the host synchronously, or asynchronously via the reject callback.
	RejectError struct {
		Message string
		Code    RejectCode
		// Sync indicates the host refused to enqueue the call, meaning it
		// was never sent.
		Sync bool
	}

	// InvalidRejectCodeError is returned by ParseRejectCode.
	InvalidRejectCodeError struct {
		Code uint32
	}
)

const (
	NoError            RejectCode = 0
	SysFatal           RejectCode = 1
	SysTransient       RejectCode = 2
	DestinationInvalid RejectCode = 3
	CanisterReject     RejectCode = 4
	CanisterError      RejectCode = 5
	SysUnknown         RejectCode = 6
)

// ParseRejectCode validates a raw reject code, as received from the host.
func ParseRejectCode(code uint32) (RejectCode, error) {
	if code < uint32(SysFatal) || code > uint32(SysUnknown) {
		return 0, &InvalidRejectCodeError{Code: code}
	}
	return RejectCode(code), nil
}

func (x RejectCode) String() string {
	switch x {
	case NoError:
		return `NoError`
	case SysFatal:
		return `SysFatal`
	case SysTransient:
		return `SysTransient`
	case DestinationInvalid:
		return `DestinationInvalid`
	case CanisterReject:
		return `CanisterReject`
	case CanisterError:
		return `CanisterError`
	case SysUnknown:
		return `SysUnknown`
	default:
		return fmt.Sprintf(`RejectCode(%d)`, uint32(x))
	}
}

func (x *RejectError) Error() string {
	if x.Sync {
		return fmt.Sprintf(`call: rejected synchronously (%s): %s`, x.Code, x.Message)
	}
	return fmt.Sprintf(`call: rejected (%s): %s`, x.Code, x.Message)
}

// IsClean reports whether the call definitely did not execute on the
// callee, i.e. it may be retried without risk of duplicating effects.
func (x *RejectError) IsClean() bool {
	if x.Sync {
		return true
	}
	switch x.Code {
	case SysFatal, SysTransient, DestinationInvalid:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether the call may succeed if retried immediately.
// The registry itself never retries.
func (x *RejectError) IsRetryable() bool {
	return x.Code == SysTransient
}

func (x *InvalidRejectCodeError) Error() string {
	return fmt.Sprintf(`call: invalid reject code: %d`, x.Code)
}
