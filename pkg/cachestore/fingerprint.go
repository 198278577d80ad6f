// Package cachestore implements the Cached-Spec Loader of spec.md §4.
// Fingerprinting, gob (de)serialization of the Cached Spec, and the
// .metadata.json sidecar are all grounded on the teacher's
// pkg/cli/compile_cache.go, generalized from a single path->hash map to the
// cheap-then-exact (mtime, size, sha256) triple spec.md §3 requires.
package cachestore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"

	"github.com/kioku/aperture/internal/logging"
	"github.com/kioku/aperture/pkg/apertureerr"
	"github.com/kioku/aperture/pkg/specmodel"
)

var log = logging.New("cachestore")

// ComputeFingerprint stats and hashes a source file. The hash is always
// computed; NeedsRecompute lets callers skip this when mtime/size already
// prove the file unchanged.
func ComputeFingerprint(path string) (specmodel.Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return specmodel.Fingerprint{}, apertureerr.Wrap(apertureerr.Runtime, err, "stat source file").WithContext(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return specmodel.Fingerprint{}, apertureerr.Wrap(apertureerr.Runtime, err, "open source file").WithContext(path)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return specmodel.Fingerprint{}, apertureerr.Wrap(apertureerr.Runtime, err, "hash source file").WithContext(path)
	}

	return specmodel.Fingerprint{
		SHA256:       hex.EncodeToString(hasher.Sum(nil)),
		ModTimeNanos: info.ModTime().UnixNano(),
		Size:         info.Size(),
	}, nil
}

// NeedsRecompute implements the cheap-then-exact rule of spec.md §3's
// Fingerprint: the hash is only worth recomputing (and the cache only
// worth invalidating) once the inexpensive (mtime, size) pair disagrees.
func NeedsRecompute(path string, stored specmodel.Fingerprint) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return true, apertureerr.Wrap(apertureerr.Runtime, err, "stat source file").WithContext(path)
	}
	if info.ModTime().UnixNano() == stored.ModTimeNanos && info.Size() == stored.Size {
		log.Printf("%s unchanged by (mtime, size), skipping hash", path)
		return false, nil
	}

	current, err := ComputeFingerprint(path)
	if err != nil {
		return true, err
	}
	if current.SHA256 == stored.SHA256 {
		log.Printf("%s mtime/size changed but hash matches, cache still valid", path)
		return false, nil
	}
	return true, nil
}

// LoadMetadata reads the .cache/.metadata.json sidecar, or an empty one if
// the file does not yet exist.
func LoadMetadata(path string) (*specmodel.Metadata, error) {
	meta := &specmodel.Metadata{Version: 1, Fingerprints: make(map[string]specmodel.Fingerprint)}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return meta, nil
		}
		return nil, apertureerr.Wrap(apertureerr.Runtime, err, "read cache metadata").WithContext(path)
	}
	if err := json.Unmarshal(data, meta); err != nil {
		log.Printf("metadata file %s is corrupt, starting fresh: %v", path, err)
		return &specmodel.Metadata{Version: 1, Fingerprints: make(map[string]specmodel.Fingerprint)}, nil
	}
	return meta, nil
}

// SaveMetadata writes the sidecar via temp-file + rename (spec.md §6 atomicity).
func SaveMetadata(path string, meta *specmodel.Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return apertureerr.Wrap(apertureerr.Runtime, err, "marshal cache metadata")
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apertureerr.Wrap(apertureerr.Runtime, err, "write temp file").WithContext(tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return apertureerr.Wrap(apertureerr.Runtime, err, "rename temp file into place").WithContext(path)
	}
	return nil
}
