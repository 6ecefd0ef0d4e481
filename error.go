package kvbrowse

import (
	"context"
	"errors"
	"fmt"
)

type ErrorCode int

const (
	Unknown ErrorCode = iota
	// ConnectionFailure means the remote store is unreachable or refused auth.
	ConnectionFailure
	// Timeout means an operation exceeded its deadline.
	Timeout
	// ProtocolFailure means the remote store replied with an unexpected shape
	// or the wrong type for the requested operation.
	ProtocolFailure
	// Cancelled means the request was superseded or explicitly cancelled.
	// It is silent by design and never surfaced for display.
	Cancelled
	// CacheConsistency means an internal key-tree invariant was violated.
	// It should never occur in correct operation; the coordinator logs it
	// and forcibly resets the cache.
	CacheConsistency
)

// Engine custom error.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

func (e Error) Error() string {
	return fmt.Sprintf("error code: %d, user data: %v, details: %v", e.Code, e.UserData, e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a code, keeping the original error reachable via errors.Is/As.
func NewError(code ErrorCode, err error) Error {
	return Error{Code: code, Err: err}
}

// CodeOf extracts the ErrorCode of err, mapping context errors to their
// engine equivalents. Unknown is returned for anything unrecognized.
func CodeOf(err error) ErrorCode {
	var e Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	return Unknown
}

// IsCancelled reports whether err represents a superseded or cancelled request.
func IsCancelled(err error) bool {
	return CodeOf(err) == Cancelled
}

// IsTimeout reports whether err represents a missed operation deadline.
func IsTimeout(err error) bool {
	return CodeOf(err) == Timeout
}
