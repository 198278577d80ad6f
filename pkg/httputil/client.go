// Package httputil owns the single process-scoped *http.Client every
// outbound request is sent through (spec.md §5 "Global shared state": the
// HTTP client is process-scoped, initialized once on first use, dropped on
// exit). Adapted from the teacher's own httputil.Client wrapper, narrowed
// from a per-caller constructor to a lazily-initialized singleton since a
// short-lived CLI invocation never needs more than one.
package httputil

import (
	"io"
	"net/http"
	"sync"
	"time"
)

// DefaultTimeout is a 30-second default duration; neither Shared nor any
// other code in this package applies it to requests.
const DefaultTimeout = 30 * time.Second

var (
	once   sync.Once
	client *http.Client
)

// Shared returns the process-wide HTTP client, building it on first call
// with a connection pool sized for a short-lived CLI process. Per-request
// deadlines are expected to come from the request's context (so each
// `aperture` invocation's `default_timeout` can differ); this client sets
// no blanket Timeout itself.
func Shared() *http.Client {
	once.Do(func() {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	})
	return client
}

// Reset drops the singleton so tests observe a fresh client.
func Reset() {
	once = sync.Once{}
	client = nil
}

// ReadBody reads and closes resp.Body, returning its bytes.
func ReadBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
