// Package configio reads and writes config.toml (spec.md §6), the
// GlobalConfig/ApiConfig settings store shared across all contexts.
package configio

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/kioku/aperture/internal/logging"
	"github.com/kioku/aperture/pkg/apertureerr"
	"github.com/kioku/aperture/pkg/specmodel"
)

var log = logging.New("configio")

// mu serializes read-modify-write cycles within this process; cross-process
// races still resolve "last writer wins" on rename, never a partial file
// (spec.md §5 "Shared-resource policy").
var mu sync.Mutex

// Load reads config.toml at path, returning DefaultGlobalConfig() if the
// file does not exist yet.
func Load(path string) (*specmodel.GlobalConfig, error) {
	mu.Lock()
	defer mu.Unlock()
	return loadLocked(path)
}

func loadLocked(path string) (*specmodel.GlobalConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := specmodel.DefaultGlobalConfig()
		return &cfg, nil
	}
	if err != nil {
		return nil, apertureerr.Wrap(apertureerr.Runtime, err, "read config.toml")
	}
	cfg := specmodel.DefaultGlobalConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, apertureerr.Wrap(apertureerr.Specification, err, "parse config.toml")
	}
	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename), per spec.md §5's
// "Config file" shared-resource policy.
func Save(path string, cfg *specmodel.GlobalConfig) error {
	mu.Lock()
	defer mu.Unlock()
	return saveLocked(path, cfg)
}

func saveLocked(path string, cfg *specmodel.GlobalConfig) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return apertureerr.Wrap(apertureerr.Runtime, err, "encode config.toml")
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".config-*.toml.tmp")
	if err != nil {
		return apertureerr.Wrap(apertureerr.Runtime, err, "create temp config file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return apertureerr.Wrap(apertureerr.Runtime, err, "write temp config file")
	}
	if err := tmp.Close(); err != nil {
		return apertureerr.Wrap(apertureerr.Runtime, err, "close temp config file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return apertureerr.Wrap(apertureerr.Runtime, err, "rename temp config file into place")
	}
	log.Printf("saved config to %s", path)
	return nil
}

// Mutate loads, applies fn, then saves, all under the same lock so
// concurrent in-process callers observe a consistent read-modify-write.
func Mutate(path string, fn func(cfg *specmodel.GlobalConfig) error) error {
	mu.Lock()
	defer mu.Unlock()
	cfg, err := loadLocked(path)
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	return saveLocked(path, cfg)
}

// EnsureApiConfig returns cfg.ApiConfigs[context], creating a zero-value
// entry if absent.
func EnsureApiConfig(cfg *specmodel.GlobalConfig, context string) specmodel.ApiConfig {
	if cfg.ApiConfigs == nil {
		cfg.ApiConfigs = map[string]specmodel.ApiConfig{}
	}
	apiCfg, ok := cfg.ApiConfigs[context]
	if !ok {
		apiCfg = specmodel.ApiConfig{
			EnvironmentURLs: map[string]string{},
			Secrets:         map[string]specmodel.SecretBinding{},
			CommandMapping: specmodel.CommandMapping{
				Groups:     map[string]string{},
				Operations: map[string]specmodel.CommandMappingOverride{},
			},
		}
	}
	if apiCfg.EnvironmentURLs == nil {
		apiCfg.EnvironmentURLs = map[string]string{}
	}
	if apiCfg.Secrets == nil {
		apiCfg.Secrets = map[string]specmodel.SecretBinding{}
	}
	return apiCfg
}
