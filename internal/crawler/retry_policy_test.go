package crawler

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyRetryable(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(2, nil)
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"503", &StatusError{Code: 503}, true},
		{"408", fmt.Errorf("wrapped: %w", &StatusError{Code: 408}), true},
		{"404", &StatusError{Code: 404}, false},
		{"403", &StatusError{Code: 403}, false},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"canceled", context.Canceled, false},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, p.Retryable(tt.err))
		})
	}
}

func TestRetryPolicyBudget(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(2, []int{503})
	err := &StatusError{Code: 503}
	assert.True(t, p.ShouldRetry(err, 0))
	assert.True(t, p.ShouldRetry(err, 1))
	assert.False(t, p.ShouldRetry(err, 2))
	assert.False(t, p.ShouldRetry(&StatusError{Code: 500}, 0), "custom code list replaces defaults")
}
