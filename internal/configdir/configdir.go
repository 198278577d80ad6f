// Package configdir resolves Aperture's on-disk configuration root and the
// fixed layout beneath it (spec.md §6 "Configuration directory layout").
package configdir

import (
	"os"
	"path/filepath"
	"runtime"
)

// Root returns the configuration root: $APERTURE_CONFIG_DIR if set,
// otherwise the platform config directory's aperture/ subfolder.
func Root() (string, error) {
	if dir := os.Getenv("APERTURE_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	base, err := platformConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "aperture"), nil
}

func platformConfigDir() (string, error) {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir, nil
	}
	// os.UserConfigDir can fail if $HOME/%AppData% is unset; fall back to a
	// per-platform sensible default rather than erroring the whole process.
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(home, "AppData", "Roaming"), nil
	}
	return filepath.Join(home, ".config"), nil
}

// Dirs is the resolved set of paths under the config root.
type Dirs struct {
	Root          string
	Specs         string
	Cache         string
	CacheMetadata string
	Responses     string
	ResponseLock  string
	ConfigTOML    string
}

// Resolve builds the full Dirs layout and ensures every directory exists.
func Resolve() (*Dirs, error) {
	root, err := Root()
	if err != nil {
		return nil, err
	}
	d := &Dirs{
		Root:          root,
		Specs:         filepath.Join(root, "specs"),
		Cache:         filepath.Join(root, ".cache"),
		CacheMetadata: filepath.Join(root, ".cache", ".metadata.json"),
		Responses:     filepath.Join(root, ".cache", "responses"),
		ResponseLock:  filepath.Join(root, ".cache", "responses", ".aperture.lock"),
		ConfigTOML:    filepath.Join(root, "config.toml"),
	}
	for _, dir := range []string{d.Specs, d.Cache, d.Responses} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// SourcePath returns the path a context's source bytes would live at, for
// the given extension ("yaml" or "json").
func (d *Dirs) SourcePath(context, ext string) string {
	return filepath.Join(d.Specs, context+"."+ext)
}

// CachedSpecPath returns the path of a context's gob-serialized Cached Spec.
func (d *Dirs) CachedSpecPath(context string) string {
	return filepath.Join(d.Cache, context+".bin")
}

// ResponseCacheDir returns the per-context response cache subdirectory.
func (d *Dirs) ResponseCacheDir(context string) string {
	return filepath.Join(d.Responses, context)
}
