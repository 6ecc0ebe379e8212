package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Queue.Enqueue", ErrCapacityExceeded, "partition full")
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Error("DomainError should unwrap to its sentinel")
	}
	want := "Queue.Enqueue: partition full: queue capacity exceeded"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapOp(t *testing.T) {
	if WrapOp("op", nil) != nil {
		t.Error("WrapOp(nil) should be nil")
	}
	err := WrapOp("Store.ZAdd", ErrStoreUnavailable)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Error("WrapOp should preserve the sentinel")
	}
}

func TestIsRetryableError(t *testing.T) {
	retryable := []error{ErrCapacityExceeded, ErrCircuitOpen, ErrRateLimited, ErrStoreUnavailable}
	for _, err := range retryable {
		if !IsRetryableError(WrapOp("op", err)) {
			t.Errorf("%v should be retryable", err)
		}
	}
	terminal := []error{ErrNotFound, ErrInvalidInput, ErrHandlerFailed, nil}
	for _, err := range terminal {
		if IsRetryableError(err) {
			t.Errorf("%v should not be retryable", err)
		}
	}
}

func TestErrorCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorCode
	}{
		{nil, CodeUnknown},
		{ErrRateLimited, CodeRateLimited},
		{NewDomainError("op", ErrCircuitOpen, ""), CodeCircuitOpen},
		{fmt.Errorf("outer: %w", ErrOperationTimeout), CodeTimeout},
		{errors.New("something else"), CodeUnknown},
	}
	for _, tc := range cases {
		if got := ErrorCodeOf(tc.err); got != tc.want {
			t.Errorf("ErrorCodeOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
