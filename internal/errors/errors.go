package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess       Code = 0
	CodeInternal      Code = 1
	CodeUsage         Code = 2
	CodeRateLimited   Code = 11
	CodeUnsupported   Code = 13
	CodeStale         Code = 14
	CodePartialStrict Code = 15

	// Aggregator failures.
	CodeUpstreamTimeout      Code = 20
	CodeUpstream             Code = 21
	CodeNoAggregators        Code = 22
	CodeAllAggregatorsFailed Code = 23

	// Wallet session protocol failures. All of them are terminal for the session.
	CodeSessionNotFound       Code = 30
	CodeWalletRejected        Code = 31
	CodeDecryptionFailed      Code = 32
	CodeApprovalTimeout       Code = 33
	CodeSigningTimeout        Code = 34
	CodeInvalidWalletResponse Code = 35
	CodeBroadcastRejected     Code = 36
)

// Error is a typed error that carries a stable error code.
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

// Is reports whether the outermost typed error in err's chain carries code.
func Is(err error, code Code) bool {
	cErr, ok := As(err)
	return ok && cErr.Code == code
}

func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	if cErr, ok := As(err); ok {
		return cErr.Code
	}
	return CodeInternal
}

func ExitCode(err error) int {
	return int(CodeOf(err))
}
