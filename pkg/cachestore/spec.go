package cachestore

import (
	"bytes"
	"encoding/gob"
	"os"

	"github.com/kioku/aperture/pkg/apertureerr"
	"github.com/kioku/aperture/pkg/specmodel"
)

// SaveSpec gob-encodes a Cached Spec and writes it atomically.
func SaveSpec(path string, spec *specmodel.CachedSpec) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(spec); err != nil {
		return apertureerr.Wrap(apertureerr.Runtime, err, "encode cached spec").WithContext(path)
	}
	if err := writeAtomic(path, buf.Bytes()); err != nil {
		return err
	}
	log.Printf("wrote cached spec to %s (%d commands)", path, len(spec.Commands))
	return nil
}

// LoadSpec gob-decodes a Cached Spec and checks its format version
// (spec.md §3 invariant 4).
func LoadSpec(path string) (*specmodel.CachedSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apertureerr.New(apertureerr.Specification, "no cached spec for this context").WithContext(path)
		}
		return nil, apertureerr.Wrap(apertureerr.Runtime, err, "read cached spec").WithContext(path)
	}

	var spec specmodel.CachedSpec
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&spec); err != nil {
		return nil, apertureerr.Wrap(apertureerr.Specification, err, "decode cached spec").WithContext(path)
	}
	if spec.FormatVersion != specmodel.FormatVersion {
		return nil, apertureerr.New(apertureerr.Specification, "cached spec format version mismatch").
			WithContext(path).
			WithDetails(map[string]any{"found": spec.FormatVersion, "expected": specmodel.FormatVersion}).
			WithHint("run `aperture config reinit` for this context")
	}
	return &spec, nil
}
