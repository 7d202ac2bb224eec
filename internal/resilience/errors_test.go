package resilience

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"

	"github.com/stefanos11892/GVD-Engine/internal/config"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("bad request"), false},
		{"explicit", NewTransientError(errors.New("x"), 503), true},
		{"wrapped explicit", eris.Wrap(NewTransientError(errors.New("x"), 429), "llm: call"), true},
		{"net timeout", timeoutErr{}, true},
		{"conn reset", fmt.Errorf("dial: %w", syscall.ECONNRESET), true},
		{"pattern", errors.New("Anthropic: Overloaded"), true},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("x: %w", context.DeadlineExceeded), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504, 529} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 404} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "transient", ClassifyError(NewTransientError(errors.New("x"), 503)))
	assert.Equal(t, "permanent", ClassifyError(errors.New("no such file")))
}

func TestDLQEntry_CanRetry(t *testing.T) {
	assert.True(t, (&DLQEntry{ErrorType: "transient", RetryCount: 0, MaxRetries: 3}).CanRetry())
	assert.False(t, (&DLQEntry{ErrorType: "transient", RetryCount: 3, MaxRetries: 3}).CanRetry())
	assert.False(t, (&DLQEntry{ErrorType: "permanent", MaxRetries: 3}).CanRetry())
}

func TestFromConfig(t *testing.T) {
	r := FromRetryConfig(config.RetryConfig{MaxAttempts: 5, InitialBackoffMs: 10, MaxBackoffMs: 100})
	assert.Equal(t, 5, r.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, r.InitialBackoff)
	assert.Equal(t, 100*time.Millisecond, r.MaxBackoff)

	assert.Equal(t, DefaultRetryConfig().MaxAttempts, FromRetryConfig(config.RetryConfig{}).MaxAttempts)

	c := FromCircuitConfig(config.CircuitConfig{FailureThreshold: 2, ResetTimeoutSecs: 7})
	assert.Equal(t, 2, c.FailureThreshold)
	assert.Equal(t, 7*time.Second, c.ResetTimeout)
}
