// Package specloader implements the "context name -> Cached Spec" runtime
// path of spec.md §2's data flow: check the fingerprint, reuse the gob
// cache when valid, otherwise re-run Validate+Transform and persist the
// refreshed cache.
package specloader

import (
	"os"
	"path/filepath"

	"github.com/kioku/aperture/internal/configdir"
	"github.com/kioku/aperture/internal/logging"
	"github.com/kioku/aperture/pkg/apertureerr"
	"github.com/kioku/aperture/pkg/cachestore"
	"github.com/kioku/aperture/pkg/openapidoc"
	"github.com/kioku/aperture/pkg/specmodel"
	"github.com/kioku/aperture/pkg/transformer"
	"github.com/kioku/aperture/pkg/validator"
)

var log = logging.New("specloader")

var sourceExtensions = []string{"yaml", "json"}

// FindSource locates the source file for a context, trying each supported
// extension in turn.
func FindSource(dirs *configdir.Dirs, context string) (string, error) {
	for _, ext := range sourceExtensions {
		path := dirs.SourcePath(context, ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", apertureerr.New(apertureerr.Specification, "no registered source for context").WithContext(context).
		WithHint("run `aperture config add " + context + " <file>`")
}

// Load returns the Cached Spec for a context, recompiling from source only
// when the fingerprint shows the source has actually changed.
func Load(dirs *configdir.Dirs, context string, mapping specmodel.CommandMapping, strict bool) (*specmodel.CachedSpec, error) {
	sourcePath, err := FindSource(dirs, context)
	if err != nil {
		return nil, err
	}

	meta, err := cachestore.LoadMetadata(dirs.CacheMetadata)
	if err != nil {
		return nil, err
	}

	cachedSpecPath := dirs.CachedSpecPath(context)
	stored, hasStored := meta.Fingerprints[context]

	if hasStored {
		if _, err := os.Stat(cachedSpecPath); err == nil {
			stale, err := cachestore.NeedsRecompute(sourcePath, stored)
			if err != nil {
				return nil, err
			}
			if !stale {
				spec, err := cachestore.LoadSpec(cachedSpecPath)
				if err == nil {
					log.Printf("using cached spec for %s", context)
					return spec, nil
				}
				log.Printf("cached spec for %s unusable (%v), recompiling", context, err)
			}
		}
	}

	return Recompile(dirs, context, sourcePath, mapping, strict)
}

// Recompile always re-validates and re-transforms the source, regardless of
// fingerprint state (used by `config add --force` and `config reinit`).
func Recompile(dirs *configdir.Dirs, context, sourcePath string, mapping specmodel.CommandMapping, strict bool) (*specmodel.CachedSpec, error) {
	if err := validator.ValidateContextName(context); err != nil {
		return nil, err
	}

	source, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, apertureerr.Wrap(apertureerr.Runtime, err, "read spec source").WithContext(sourcePath)
	}

	doc, err := openapidoc.Parse(source)
	if err != nil {
		return nil, err
	}

	result, err := validator.Validate(doc, mapping, strict)
	if err != nil {
		return nil, err
	}

	spec, err := transformer.Transform(context, doc, result.Skip, result.Skipped, mapping)
	if err != nil {
		return nil, err
	}

	cachedSpecPath := dirs.CachedSpecPath(context)
	if err := cachestore.SaveSpec(cachedSpecPath, spec); err != nil {
		return nil, err
	}

	fingerprint, err := cachestore.ComputeFingerprint(sourcePath)
	if err != nil {
		return nil, err
	}
	meta, err := cachestore.LoadMetadata(dirs.CacheMetadata)
	if err != nil {
		return nil, err
	}
	meta.Fingerprints[context] = fingerprint
	if err := cachestore.SaveMetadata(dirs.CacheMetadata, meta); err != nil {
		return nil, err
	}

	log.Printf("recompiled %s: %d commands, %d skipped", context, len(spec.Commands), len(spec.SkippedEndpoints))
	return spec, nil
}

// StoreSource copies user-provided source bytes verbatim into specs/<context>.<ext>.
func StoreSource(dirs *configdir.Dirs, context, ext string, data []byte) (string, error) {
	path := dirs.SourcePath(context, ext)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", apertureerr.Wrap(apertureerr.Runtime, err, "create specs directory")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", apertureerr.Wrap(apertureerr.Runtime, err, "write spec source").WithContext(path)
	}
	return path, nil
}
