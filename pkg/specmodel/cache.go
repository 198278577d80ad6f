package specmodel

// ResponseCacheEntry is one stored 2xx response under the response cache of
// spec.md §4.6. Key is the cache key derived from context + method + URL +
// sorted query + body + sorted non-auth headers; entries are not restricted
// by method, and authenticated responses are stored only when
// GlobalConfig.Cache.AllowAuthenticated is set.
type ResponseCacheEntry struct {
	Key      string
	Status   int
	Headers  map[string][]string
	Body     []byte
	StoredAt int64 // unix nanos, stamped by the caller (no time.Now in this package)
	TTLSecs  int
}
