package logging

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	require.NoError(t, os.Setenv(key, value))
	t.Cleanup(func() {
		if had {
			_ = os.Setenv(key, old)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

func TestComputeEnabled(t *testing.T) {
	tests := []struct {
		name    string
		debug   string
		ns      string
		enabled bool
	}{
		{"empty disables everything", "", "retry:backoff", false},
		{"star enables everything", "*", "retry:backoff", true},
		{"exact namespace match", "retry:backoff", "retry:backoff", true},
		{"prefix wildcard", "retry:*", "retry:backoff", true},
		{"prefix wildcard misses other namespace", "retry:*", "cache:store", false},
		{"exclusion wins", "*,-retry:backoff", "retry:backoff", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logEnv = tt.debug
			assert.Equal(t, tt.enabled, computeEnabled(tt.ns))
		})
	}
	logEnv = os.Getenv("APERTURE_LOG")
}

func TestLoggerEnabledReflectsConstructionTimeEnv(t *testing.T) {
	withEnv(t, "APERTURE_LOG", "cache:*")
	logEnv = os.Getenv("APERTURE_LOG")
	l := New("cache:store")
	assert.True(t, l.Enabled())

	l2 := New("retry:backoff")
	assert.False(t, l2.Enabled())
}

func TestRedactStripsBearerToken(t *testing.T) {
	in := "sending request with Authorization: Bearer sk-live-abc123XYZ"
	out := Redact(in)
	assert.NotContains(t, out, "sk-live-abc123XYZ")
	assert.Contains(t, out, "[REDACTED]")
}

func TestRedactStripsEnvStyleSecret(t *testing.T) {
	in := "resolved secret from env TKN_API_KEY=hunter2value"
	out := Redact(in)
	assert.NotContains(t, out, "hunter2value")
}
