// Package executor wires the Retry Layer (pkg/retry) and Response Cache
// (pkg/responsecache) around the actual HTTP send, so that one call from
// the `api`/`exec` commands covers all of spec.md §4.5/§4.6: a cache
// lookup when eligible, the retry-governed attempt loop when not, and the
// cache write-back for an eligible 2xx miss.
package executor

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/kioku/aperture/internal/logging"
	"github.com/kioku/aperture/pkg/apertureerr"
	"github.com/kioku/aperture/pkg/httputil"
	"github.com/kioku/aperture/pkg/requestbuilder"
	"github.com/kioku/aperture/pkg/responsecache"
	"github.com/kioku/aperture/pkg/retry"
	"github.com/kioku/aperture/pkg/specmodel"
)

var log = logging.New("executor")

// CacheOptions controls the Response Cache's involvement for one request
// (spec.md §4.6 "Policy").
type CacheOptions struct {
	Enabled            bool
	AllowAuthenticated bool
	TTLSecs            int
	Store              *responsecache.Store
	Context            string
}

// Options bundles everything Execute needs beyond the built request.
type Options struct {
	Timeout time.Duration
	Retry   retry.Policy
	Cache   CacheOptions
}

// Result is the outcome of one Execute call.
type Result struct {
	Status    int
	Headers   http.Header
	Body      []byte
	FromCache bool
	RetryInfo apertureerr.RetryInfo
}

// Execute sends req, consulting and populating the response cache around
// the retry-governed attempt loop.
func Execute(ctx context.Context, req *requestbuilder.BuiltRequest, opts Options) (*Result, error) {
	key := ""
	if opts.Cache.Enabled && opts.Cache.Store != nil {
		key = cacheKey(opts.Cache.Context, req)
		if entry, ok := opts.Cache.Store.Get(key, time.Now().UnixNano()); ok {
			log.Printf("cache hit for %s %s", req.Method, req.URL)
			return &Result{Status: entry.Status, Headers: headersFromMap(entry.Headers), Body: entry.Body, FromCache: true}, nil
		}
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var result *Result
	var sendErr error

	policy := opts.Retry
	policy.Method = req.Method

	attempt, info := retry.Do(ctx, policy, func(ctx context.Context) retry.Attempt {
		r, err := send(ctx, req)
		if err != nil {
			sendErr = err
			return retry.Attempt{Err: classifyNetworkErr(err)}
		}
		result = r
		sendErr = nil
		retryAfter := retry.ParseRetryAfter(r.Headers.Get("Retry-After"))
		return retry.Attempt{StatusCode: r.Status, RetryAfter: retryAfter}
	})

	if attempt.Err != nil || result == nil {
		err := sendErr
		if err == nil {
			err = attempt.Err
		}
		return nil, apertureerr.Wrap(apertureerr.Network, err, "request failed").
			WithRetryInfo(info)
	}
	if result.Status >= 400 {
		body := result.Body
		if len(body) > 2048 {
			body = body[:2048]
		}
		return nil, apertureerr.New(apertureerr.HttpError, "non-2xx response").
			WithDetails(map[string]any{"status": result.Status, "body": string(body)}).
			WithRetryInfo(info)
	}

	result.RetryInfo = info

	if key != "" && responsecache.ShouldStore(result.Status, req.HasAuth, opts.Cache.AllowAuthenticated) {
		entry := &specmodel.ResponseCacheEntry{
			Key:      key,
			Status:   result.Status,
			Headers:  responsecache.ScrubHeaders(result.Headers),
			Body:     result.Body,
			StoredAt: time.Now().UnixNano(),
			TTLSecs:  opts.Cache.TTLSecs,
		}
		if err := opts.Cache.Store.Put(entry); err != nil {
			log.Printf("failed to store response cache entry: %v", err)
		}
	}

	return result, nil
}

func send(ctx context.Context, req *requestbuilder.BuiltRequest) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	for name, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}

	resp, err := httputil.Shared().Do(httpReq)
	if err != nil {
		return nil, err
	}
	body, err := httputil.ReadBody(resp)
	if err != nil {
		return nil, err
	}
	return &Result{Status: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}

// classifyNetworkErr is a hook point for distinguishing DNS/connect/TLS/
// timeout failures; today the retry layer only needs "is this a
// network-layer failure at all", which any non-nil err here signals.
func classifyNetworkErr(err error) error { return err }

// cacheKey derives the spec.md §4.6 key: method + normalized URL + sorted
// query + body + sorted non-auth headers, scoped to one context.
func cacheKey(context string, req *requestbuilder.BuiltRequest) string {
	u, _ := url.Parse(req.URL)
	normalized := req.URL
	sortedQuery := ""
	if u != nil {
		q := u.Query()
		sortedQuery = q.Encode()
		u.RawQuery = ""
		normalized = u.String()
	}

	nonAuth := map[string][]string{}
	for name, values := range responsecache.ScrubHeaders(headersFromBuilt(req.Headers)) {
		if strings.EqualFold(name, "Idempotency-Key") {
			continue
		}
		nonAuth[name] = values
	}

	return responsecache.Key(responsecache.KeyInput{
		Context:        context,
		Method:         req.Method,
		NormalizedURL:  normalized,
		SortedQuery:    sortedQuery,
		Body:           req.Body,
		NonAuthHeaders: nonAuth,
	})
}

func headersFromBuilt(h map[string][]string) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func headersFromMap(m map[string][]string) http.Header {
	out := make(http.Header, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// sortedHeaderNames is a small helper kept for callers that want a stable
// iteration order when rendering headers (e.g. dry-run descriptions).
func sortedHeaderNames(h http.Header) []string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
