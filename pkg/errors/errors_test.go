package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Class
	}{
		{name: "nil", err: nil, want: ClassUnknown},
		{name: "transport", err: NewTransportError(errors.New("dial tcp"), "HTTP request failed"), want: ClassTransport},
		{name: "wrapped protocol", err: fmt.Errorf("send: %w", NewProtocolError(nil, "HTTP 502")), want: ClassProtocol},
		{name: "retryable", err: NewRetryableError(errors.New("eof"), "read failed"), want: ClassTransport},
		{name: "submitter mismatch", err: fmt.Errorf("batch: %w", ErrSubmitterMismatch), want: ClassInvariant},
		{name: "missing identity", err: ErrMissingIdentity, want: ClassInvariant},
		{name: "cancelled", err: fmt.Errorf("post: %w", context.Canceled), want: ClassTransport},
		{name: "deadline", err: context.DeadlineExceeded, want: ClassTransport},
		{name: "contention", err: fmt.Errorf("claim: %w", NewContentionError(errors.New("held"), "course:X")), want: ClassContention},
		{name: "rejected", err: NewRejectionError(false, "GPA mismatch"), want: ClassDomain},
		{name: "rolled", err: NewRejectionError(true, "GE09 rolled"), want: ClassImmutable},
		{name: "plain", err: errors.New("boom"), want: ClassUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ClassOf(tt.err))
		})
	}
}

func TestSyncErrorUnwrap(t *testing.T) {
	t.Parallel()

	err := NewInvariantError(ErrSubmitterMismatch, "batch of 3")
	assert.True(t, errors.Is(err, ErrSubmitterMismatch))
	assert.True(t, IsInvariant(err))
	assert.Contains(t, err.Error(), "invariant error: invariant_violation - batch of 3")
}

func TestClassRecoverable(t *testing.T) {
	t.Parallel()

	assert.True(t, ClassTransport.Recoverable())
	assert.True(t, ClassProtocol.Recoverable())
	assert.False(t, ClassDomain.Recoverable())
	assert.False(t, ClassImmutable.Recoverable())
	assert.False(t, ClassInvariant.Recoverable())
	assert.False(t, ClassContention.Recoverable())
	assert.False(t, ClassUnknown.Recoverable())
}
