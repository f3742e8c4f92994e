package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess         Code = 0
	CodeInternal        Code = 1
	CodeUsage           Code = 2
	CodeAuth            Code = 10
	CodeRateLimited     Code = 11
	CodeUnavailable     Code = 12
	CodeUnsupported     Code = 13
	CodeStale           Code = 14
	CodeBlocked         Code = 16
	CodeSafetyBlocked   Code = 20
	CodeNoRoute         Code = 21
	CodeUserRejected    Code = 22
	CodeSigner          Code = 23
	CodeActionTimeout   Code = 24
	CodeBatchRejected   Code = 25
	CodeExecutionFailed Code = 26
)

// Error is a typed CLI error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	cliErr, ok := As(err)
	return ok && cliErr.Code == code
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}

// TypeName is the stable string form used in error envelopes.
func (c Code) TypeName() string {
	switch c {
	case CodeUsage:
		return "usage_error"
	case CodeAuth:
		return "auth_error"
	case CodeRateLimited:
		return "rate_limited"
	case CodeUnavailable:
		return "unavailable"
	case CodeUnsupported:
		return "unsupported"
	case CodeStale:
		return "stale_data"
	case CodeBlocked:
		return "command_blocked"
	case CodeSafetyBlocked:
		return "safety_blocked"
	case CodeNoRoute:
		return "no_route"
	case CodeUserRejected:
		return "user_rejected"
	case CodeSigner:
		return "signer_error"
	case CodeActionTimeout:
		return "timeout"
	case CodeBatchRejected:
		return "batch_unsupported"
	case CodeExecutionFailed:
		return "execution_failed"
	default:
		return "internal_error"
	}
}
