package errdefs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPredicates(t *testing.T) {
	tests := []struct {
		name string
		err  error
		pred func(error) bool
	}{
		{"not found", NotFound("grid", "abc"), IsNotFound},
		{"invalid state", InvalidState("grid %s cannot be paused from creating", "abc"), IsInvalidState},
		{"resource exhausted", fmt.Errorf("cpu: %w", ErrResourceExhausted), IsResourceExhausted},
		{"conflicting claim", fmt.Errorf("task xyz: %w", ErrConflictingClaim), IsConflictingClaim},
		{"no task", ErrNoTask, IsNoTask},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.pred(tt.err))
			assert.Error(t, tt.err)
		})
	}
}

func TestPredicatesDoNotCross(t *testing.T) {
	assert.False(t, IsNotFound(ErrInvalidState))
	assert.False(t, IsInvalidState(NotFound("task", "t1")))
	assert.False(t, IsNoTask(ErrConflictingClaim))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("worker w1: %w", ErrResourceExhausted)))
	assert.True(t, IsRetryable(ErrConflictingClaim))
	assert.False(t, IsRetryable(ErrNotFound))
	assert.False(t, IsRetryable(ErrInvalidState))
	assert.False(t, IsRetryable(nil))
}

func TestWrappedMessages(t *testing.T) {
	err := NotFound("worker", "w-123")
	assert.Contains(t, err.Error(), "worker w-123")

	err = InvalidState("function %s not startable from %s", "f-1", "running")
	assert.Contains(t, err.Error(), "f-1")
	assert.Contains(t, err.Error(), "running")
}
