// Package retry implements the Retry Layer of spec.md §4.5: a wrapper
// around a single HTTP attempt that decides whether to resend based on the
// retryability matrix, the idempotent-method safety gate, and an
// exponential-backoff-with-full-jitter schedule honoring Retry-After.
package retry

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/kioku/aperture/internal/logging"
	"github.com/kioku/aperture/pkg/apertureerr"
)

var log = logging.New("retry")

// idempotentMethods are retried by default; non-idempotent methods need
// --force-retry or an idempotency key (spec.md §4.5 "Safety gate").
var idempotentMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
}

// Policy is the effective retry configuration for one request.
type Policy struct {
	MaxAttempts       int // 0 disables retries entirely
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	Method            string
	ForceRetry        bool
	HasIdempotencyKey bool
}

func (p Policy) retriesAllowed() bool {
	if idempotentMethods[p.Method] {
		return true
	}
	return p.ForceRetry || p.HasIdempotencyKey
}

// Attempt is the outcome of one send, as reported by the caller's send function.
type Attempt struct {
	StatusCode int   // 0 if the request never got a response (network error)
	RetryAfter time.Duration
	Err        error // non-nil for network-layer failures
}

// Retryable reports whether this attempt's outcome is retryable, per
// spec.md §4.5's matrix.
func (a Attempt) Retryable() bool {
	if a.Err != nil {
		return true // DNS, connect, read-timeout: always retryable
	}
	switch a.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusRequestTimeout:
		return true
	}
	return a.StatusCode >= 500
}

// Send is the caller-supplied single-attempt function.
type Send func(ctx context.Context) Attempt

// Do runs Send under the policy, retrying while attempts remain,
// retryability holds, and (for non-idempotent methods) the safety gate is
// open. It returns the final Attempt and a RetryInfo summarizing the run.
func Do(ctx context.Context, policy Policy, send Send) (Attempt, apertureerr.RetryInfo) {
	info := apertureerr.RetryInfo{}
	var last Attempt

	for attempt := 1; ; attempt++ {
		last = send(ctx)
		info.Attempts = attempt

		if !last.Retryable() {
			info.Retryable = false
			return last, finalize(last, info)
		}
		if attempt >= maxAttemptsOrOne(policy) || !policy.retriesAllowed() {
			info.Retryable = true
			return last, finalize(last, info)
		}

		delay := backoffDelay(policy, attempt, last.RetryAfter)
		info.TotalDelayMs += delay.Milliseconds()
		log.Printf("attempt %d retryable (status=%d err=%v), sleeping %s", attempt, last.StatusCode, last.Err, delay)

		select {
		case <-ctx.Done():
			info.Retryable = true
			return last, finalize(last, info)
		case <-time.After(delay):
		}
	}
}

func maxAttemptsOrOne(p Policy) int {
	if p.MaxAttempts <= 0 {
		return 1 // retries disabled: one attempt, no resend
	}
	return p.MaxAttempts
}

func finalize(a Attempt, info apertureerr.RetryInfo) apertureerr.RetryInfo {
	if a.StatusCode != 0 {
		status := a.StatusCode
		info.FinalStatus = &status
	}
	return info
}

// backoffDelay implements `initial * 2^(attempt-1)` capped at MaxDelay, with
// full jitter (uniform in [0, delay]); Retry-After overrides the computed
// value when the response carried one.
func backoffDelay(p Policy, attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	base := float64(p.InitialDelay) * math.Pow(2, float64(attempt-1))
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && base > max {
		base = max
	}
	if base <= 0 {
		return 0
	}
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter timing, not security-sensitive
}

// ParseRetryAfter parses the Retry-After header: either a delta-seconds
// integer or an HTTP-date, per RFC 9110 §10.2.3.
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
