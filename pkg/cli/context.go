// Package cli assembles Aperture's cobra command tree: the static `config`
// management surface of spec.md §6, the dynamically synthesized `api`
// subtree of §4.3, and the `search`/`exec`/`docs`/`overview`/`list-commands`
// discovery verbs. Adapted from the teacher's cmd/gh-aw/main.go root-command
// assembly pattern, generalized from a fixed command list to one built at
// runtime from whatever contexts are registered in config.toml.
package cli

import (
	"os"

	"github.com/kioku/aperture/internal/configdir"
	"github.com/kioku/aperture/internal/logging"
	"github.com/kioku/aperture/pkg/apertureerr"
	"github.com/kioku/aperture/pkg/configio"
	"github.com/kioku/aperture/pkg/specmodel"
)

var log = logging.New("cli")

// appContext bundles the resolved config directory layout and the loaded
// GlobalConfig, built once per process invocation and threaded through every
// command's RunE closure.
type appContext struct {
	dirs *configdir.Dirs
	cfg  *specmodel.GlobalConfig
}

func newAppContext() (*appContext, error) {
	dirs, err := configdir.Resolve()
	if err != nil {
		return nil, apertureerr.Wrap(apertureerr.Runtime, err, "resolve configuration directory")
	}
	cfg, err := configio.Load(dirs.ConfigTOML)
	if err != nil {
		return nil, err
	}
	return &appContext{dirs: dirs, cfg: cfg}, nil
}

// mutate reloads the on-disk config, applies fn, and persists the result,
// keeping ctx.cfg in sync with what was just written.
func (a *appContext) mutate(fn func(cfg *specmodel.GlobalConfig) error) error {
	if err := configio.Mutate(a.dirs.ConfigTOML, fn); err != nil {
		return err
	}
	cfg, err := configio.Load(a.dirs.ConfigTOML)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

// lookupEnv is the requestbuilder.Env implementation used everywhere
// Aperture resolves a secret: the process environment, nothing more
// (spec.md §4.4 "Authentication" — secrets are never read from config.toml).
func lookupEnv(name string) (string, bool) {
	return os.LookupEnv(name)
}
