package kvbrowse

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorCodeRoundTrip(t *testing.T) {
	cases := []ErrorCode{ConnectionFailure, Timeout, ProtocolFailure, Cancelled, CacheConsistency}
	for _, code := range cases {
		err := NewError(code, fmt.Errorf("cause %d", code))
		if got := CodeOf(err); got != code {
			t.Errorf("CodeOf(NewError(%d)) = %d", code, got)
		}
		// Wrapping must not hide the code.
		wrapped := fmt.Errorf("while doing work: %w", err)
		if got := CodeOf(wrapped); got != code {
			t.Errorf("CodeOf(wrapped %d) = %d", code, got)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("socket closed")
	err := NewError(ConnectionFailure, cause)
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
}

func TestContextErrorsMapToTaxonomy(t *testing.T) {
	if !IsTimeout(context.DeadlineExceeded) {
		t.Error("DeadlineExceeded not recognized as Timeout")
	}
	if !IsCancelled(context.Canceled) {
		t.Error("Canceled not recognized as Cancelled")
	}
	if IsCancelled(NewError(Timeout, context.DeadlineExceeded)) {
		t.Error("Timeout misread as Cancelled")
	}
	if CodeOf(errors.New("plain")) != Unknown {
		t.Error("plain error should map to Unknown")
	}
}

func TestNewUUIDUnique(t *testing.T) {
	a, b := NewUUID(), NewUUID()
	if a.IsNil() || b.IsNil() {
		t.Fatal("NewUUID returned nil UUID")
	}
	if a == b {
		t.Error("two NewUUID calls collided")
	}
}

func TestParseUUIDRoundTrip(t *testing.T) {
	a := NewUUID()
	b, err := ParseUUID(a.String())
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("round trip %v != %v", a, b)
	}
	if _, err := ParseUUID("not-a-uuid"); err == nil {
		t.Error("bad input parsed")
	}
	if !NilUUID.IsNil() {
		t.Error("NilUUID.IsNil() = false")
	}
}
