package contracts

import (
	"errors"
	"fmt"
)

// ExitCode is the numeric result of a method call. Zero is success; every
// other value maps to a ContractError.
type ExitCode uint32

// ExitCodeOk is the success exit code.
const ExitCodeOk ExitCode = 0

// ContractError is the error surface contract methods and the executor
// share. Codes 1 through 7 are the well-known errors below, codes up to and
// including 255 are reserved, anything above is contract-specific.
//
// Use errors.Is against the sentinel values; distinct instances with the
// same code compare equal.
type ContractError struct {
	code uint32
}

// Well-known contract errors.
var (
	ErrBadInput       = &ContractError{code: 1}
	ErrBadOutput      = &ContractError{code: 2}
	ErrForbidden      = &ContractError{code: 3}
	ErrNotFound       = &ContractError{code: 4}
	ErrConflict       = &ContractError{code: 5}
	ErrInternalError  = &ContractError{code: 6}
	ErrNotImplemented = &ContractError{code: 7}
)

const maxReservedErrorCode = 255

// NewCustomError returns a contract-specific error. The second result is
// false when code falls inside the reserved range.
func NewCustomError(code uint32) (*ContractError, bool) {
	if code <= maxReservedErrorCode {
		return nil, false
	}
	return &ContractError{code: code}, true
}

// Code returns the numeric error code.
func (e *ContractError) Code() uint32 {
	return e.code
}

// ExitCode returns the exit code for the error. A nil error is success.
func (e *ContractError) ExitCode() ExitCode {
	if e == nil {
		return ExitCodeOk
	}
	return ExitCode(e.code)
}

// Err returns the ContractError for the exit code, or nil for success.
func (c ExitCode) Err() *ContractError {
	switch c {
	case ExitCodeOk:
		return nil
	case 1:
		return ErrBadInput
	case 2:
		return ErrBadOutput
	case 3:
		return ErrForbidden
	case 4:
		return ErrNotFound
	case 5:
		return ErrConflict
	case 6:
		return ErrInternalError
	case 7:
		return ErrNotImplemented
	default:
		return &ContractError{code: uint32(c)}
	}
}

func (e *ContractError) Error() string {
	switch e.code {
	case 1:
		return "bad input"
	case 2:
		return "bad output"
	case 3:
		return "forbidden"
	case 4:
		return "not found"
	case 5:
		return "conflict"
	case 6:
		return "internal error"
	case 7:
		return "not implemented"
	default:
		if e.code <= maxReservedErrorCode {
			return fmt.Sprintf("unknown contract error %d", e.code)
		}
		return fmt.Sprintf("custom contract error %d", e.code)
	}
}

// Is reports whether target is a ContractError with the same code, making
// errors.Is work across distinct instances.
func (e *ContractError) Is(target error) bool {
	t, ok := target.(*ContractError)
	return ok && t.code == e.code
}

// ExitCodeFromError converts an error returned by a method call to an exit
// code. A nil error is success; a non-ContractError collapses to the
// internal error code.
func ExitCodeFromError(err error) ExitCode {
	if err == nil {
		return ExitCodeOk
	}
	var ce *ContractError
	if errors.As(err, &ce) {
		return ce.ExitCode()
	}
	return ErrInternalError.ExitCode()
}
