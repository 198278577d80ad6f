// Package responsecache implements the on-disk response cache of spec.md
// §4.6: a content-addressed store of prior successful responses, guarded by
// an advisory file lock for concurrent writers and a fixed header
// scrub list so auth material never reaches disk.
package responsecache

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"

	"github.com/kioku/aperture/internal/logging"
	"github.com/kioku/aperture/pkg/apertureerr"
	"github.com/kioku/aperture/pkg/specmodel"
)

var log = logging.New("responsecache")

// scrubbedHeaders is the fixed list of spec.md §4.6; any header whose name
// (case-insensitive) is in this set, or starts with one of scrubbedPrefixes,
// is removed before a response is written to disk.
var scrubbedHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"x-api-key":           true,
	"x-api-token":         true,
	"api-key":             true,
	"token":               true,
	"bearer":              true,
	"cookie":              true,
}

var scrubbedPrefixes = []string{"x-auth-", "x-api-"}

func isScrubbed(name string) bool {
	lower := strings.ToLower(name)
	if scrubbedHeaders[lower] {
		return true
	}
	for _, prefix := range scrubbedPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// ScrubHeaders returns a copy of headers with every scrubbed name removed.
func ScrubHeaders(headers http.Header) map[string][]string {
	out := make(map[string][]string)
	for name, values := range headers {
		if isScrubbed(name) {
			continue
		}
		out[name] = values
	}
	return out
}

// KeyInput is the set of request facets that determine a cache key.
type KeyInput struct {
	Context        string
	Method         string
	NormalizedURL  string
	SortedQuery    string
	Body           []byte
	NonAuthHeaders map[string][]string // caller must have already excluded auth/idempotency/debug headers
}

// Key computes SHA-256(context || method || url || query || body ||
// sorted non-auth headers) as a hex string, per spec.md §4.6.
func Key(in KeyInput) string {
	h := sha256.New()
	h.Write([]byte(in.Context))
	h.Write([]byte(in.Method))
	h.Write([]byte(in.NormalizedURL))
	h.Write([]byte(in.SortedQuery))
	h.Write(in.Body)

	names := make([]string, 0, len(in.NonAuthHeaders))
	for name := range in.NonAuthHeaders {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		values := append([]string(nil), in.NonAuthHeaders[name]...)
		sort.Strings(values)
		h.Write([]byte(name))
		for _, v := range values {
			h.Write([]byte(v))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Store is a response cache rooted at one context's subdirectory.
type Store struct {
	dir      string
	lockPath string
}

// New returns a Store for the given per-context cache directory and
// sibling advisory-lock path.
func New(dir, lockPath string) *Store {
	return &Store{dir: dir, lockPath: lockPath}
}

// ShouldStore reports whether a response is eligible for caching at all:
// only 2xx responses, and only when no auth header was sent unless the
// caller has opted into allow_authenticated.
func ShouldStore(status int, requestHasAuth, allowAuthenticated bool) bool {
	if status < 200 || status >= 300 {
		return false
	}
	return !requestHasAuth || allowAuthenticated
}

// Put writes an entry via temp-file + rename, serialized against concurrent
// writers by an exclusive advisory lock on the sibling lock file.
func (s *Store) Put(entry *specmodel.ResponseCacheEntry) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return apertureerr.Wrap(apertureerr.Runtime, err, "create response cache directory").WithContext(s.dir)
	}

	lock := flock.New(s.lockPath)
	if err := lock.Lock(); err != nil {
		return apertureerr.Wrap(apertureerr.Runtime, err, "acquire response cache lock").WithContext(s.lockPath)
	}
	defer lock.Unlock()

	path := filepath.Join(s.dir, entry.Key)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return apertureerr.Wrap(apertureerr.Runtime, err, "create temp cache entry").WithContext(tmp)
	}
	if err := gob.NewEncoder(f).Encode(entry); err != nil {
		f.Close()
		return apertureerr.Wrap(apertureerr.Runtime, err, "encode cache entry").WithContext(tmp)
	}
	if err := f.Close(); err != nil {
		return apertureerr.Wrap(apertureerr.Runtime, err, "close temp cache entry").WithContext(tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return apertureerr.Wrap(apertureerr.Runtime, err, "rename cache entry into place").WithContext(path)
	}
	log.Printf("stored response cache entry %s (%d bytes)", entry.Key, len(entry.Body))
	return nil
}

// Get reads an entry if present and not expired relative to nowUnixNanos.
// Readers are lock-free: atomic writes via rename mean a reader never
// observes a partially-written file.
func (s *Store) Get(key string, nowUnixNanos int64) (*specmodel.ResponseCacheEntry, bool) {
	f, err := os.Open(filepath.Join(s.dir, key))
	if err != nil {
		return nil, false
	}
	defer f.Close()

	var entry specmodel.ResponseCacheEntry
	if err := gob.NewDecoder(f).Decode(&entry); err != nil {
		log.Printf("cache entry %s is corrupt, treating as miss: %v", key, err)
		return nil, false
	}

	if entry.TTLSecs > 0 {
		expiresAt := entry.StoredAt + int64(entry.TTLSecs)*1e9
		if nowUnixNanos >= expiresAt {
			return nil, false
		}
	}
	return &entry, true
}
