package apertureerr

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorStringIncludesKind(t *testing.T) {
	err := New(Validation, "missing required parameter")
	assert.Equal(t, "Validation: missing required parameter", err.Error())
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(Network, cause, "dial failed")
	assert.True(t, errors.Is(err, cause))
}

func TestRenderJSONIncludesRetryInfo(t *testing.T) {
	status := 503
	err := New(HttpError, "server unavailable").WithRetryInfo(RetryInfo{
		Attempts: 3, TotalDelayMs: 420, FinalStatus: &status, Retryable: true,
	})
	out := err.Render(true)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "HttpError", decoded["error_type"])
	retryInfo, ok := decoded["retry_info"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), retryInfo["attempts"])
}

func TestRenderHumanIncludesHint(t *testing.T) {
	err := New(Authentication, "env var unset").WithHint("set TKN in your environment")
	out := err.Render(false)
	assert.Contains(t, out, "Authentication: env var unset")
	assert.Contains(t, out, "Hint: set TKN in your environment")
}

func TestIsMatchesKind(t *testing.T) {
	err := New(Capture, "jq returned null")
	assert.True(t, Is(err, Capture))
	assert.False(t, Is(err, Runtime))
}
