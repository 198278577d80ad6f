package retry

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	policy := Policy{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Method: http.MethodGet}

	final, info := Do(context.Background(), policy, func(ctx context.Context) Attempt {
		calls++
		if calls < 3 {
			return Attempt{StatusCode: http.StatusServiceUnavailable}
		}
		return Attempt{StatusCode: http.StatusOK}
	})

	assert.Equal(t, 3, calls)
	assert.Equal(t, http.StatusOK, final.StatusCode)
	assert.Equal(t, 3, info.Attempts)
	require.NotNil(t, info.FinalStatus)
	assert.Equal(t, http.StatusOK, *info.FinalStatus)
}

func TestDoStopsOnTerminalStatus(t *testing.T) {
	calls := 0
	policy := Policy{MaxAttempts: 5, InitialDelay: time.Millisecond, Method: http.MethodGet}

	_, info := Do(context.Background(), policy, func(ctx context.Context) Attempt {
		calls++
		return Attempt{StatusCode: http.StatusNotFound}
	})

	assert.Equal(t, 1, calls)
	assert.False(t, info.Retryable)
}

func TestDoRespectsNonIdempotentSafetyGate(t *testing.T) {
	calls := 0
	policy := Policy{MaxAttempts: 5, InitialDelay: time.Millisecond, Method: http.MethodPost}

	_, info := Do(context.Background(), policy, func(ctx context.Context) Attempt {
		calls++
		return Attempt{StatusCode: http.StatusServiceUnavailable}
	})

	assert.Equal(t, 1, calls, "POST without --force-retry or idempotency key must not be retried")
	assert.True(t, info.Retryable)
}

func TestDoForceRetryOverridesSafetyGate(t *testing.T) {
	calls := 0
	policy := Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, Method: http.MethodPost, ForceRetry: true}

	Do(context.Background(), policy, func(ctx context.Context) Attempt {
		calls++
		return Attempt{StatusCode: http.StatusServiceUnavailable}
	})

	assert.Equal(t, 3, calls)
}

func TestDoZeroMaxAttemptsDisablesRetry(t *testing.T) {
	calls := 0
	policy := Policy{MaxAttempts: 0, Method: http.MethodGet}

	Do(context.Background(), policy, func(ctx context.Context) Attempt {
		calls++
		return Attempt{StatusCode: http.StatusServiceUnavailable}
	})

	assert.Equal(t, 1, calls)
}

func TestParseRetryAfterSeconds(t *testing.T) {
	d := ParseRetryAfter("5")
	assert.Equal(t, 5*time.Second, d)
}

func TestParseRetryAfterEmpty(t *testing.T) {
	assert.Equal(t, time.Duration(0), ParseRetryAfter(""))
}

func TestAttemptRetryableNetworkError(t *testing.T) {
	a := Attempt{Err: context.DeadlineExceeded}
	assert.True(t, a.Retryable())
}
