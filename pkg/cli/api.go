package cli

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kioku/aperture/pkg/specloader"
	"github.com/kioku/aperture/pkg/specmodel"
	"github.com/kioku/aperture/pkg/synth"
)

// newAPICommand builds the `api` parent command: one child subtree per
// registered context, synthesized from its loaded Cached Spec.
func newAPICommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api <context>",
		Short: "Invoke a synthesized command from a registered API context",
	}

	app, err := newAppContext()
	if err != nil {
		cmd.RunE = func(*cobra.Command, []string) error { return err }
		return cmd
	}

	specs, loadErrs := loadAllSpecs(app)
	for context, loadErr := range loadErrs {
		log.Printf("skipping context %q: %v", context, loadErr)
	}

	dispatch := newDispatch(app, specs)
	for context, spec := range specs {
		ctxCmd, err := synth.BuildContextCommand(context, spec, dispatch, resolveBaseURL)
		if err != nil {
			log.Printf("failed to synthesize commands for %q: %v", context, err)
			continue
		}
		cmd.AddCommand(ctxCmd)
	}

	return cmd
}

// loadAllSpecs loads every registered context's Cached Spec, continuing past
// individual load failures so one broken context never blocks the rest.
func loadAllSpecs(app *appContext) (specIndex, map[string]error) {
	contexts := registeredContexts(app)
	specs := make(specIndex, len(contexts))
	errs := make(map[string]error)

	for _, context := range contexts {
		mapping := app.cfg.ApiConfigs[context].CommandMapping
		spec, err := specloader.Load(app.dirs, context, mapping, app.cfg.ApiConfigs[context].StrictModePref)
		if err != nil {
			errs[context] = err
			continue
		}
		specs[context] = spec
	}
	return specs, errs
}

// registeredContexts unions config.toml's api_configs keys with whatever
// source files are present under specs/, so a spec registered but not yet
// reflected in config.toml (e.g. after a crash between StoreSource and the
// config write) is still discoverable.
func registeredContexts(app *appContext) []string {
	seen := map[string]bool{}
	var contexts []string
	for name := range app.cfg.ApiConfigs {
		if !seen[name] {
			seen[name] = true
			contexts = append(contexts, name)
		}
	}
	entries, _ := os.ReadDir(app.dirs.Specs)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ext)
		if !seen[name] {
			seen[name] = true
			contexts = append(contexts, name)
		}
	}
	return contexts
}

func resolveBaseURL(context string, spec *specmodel.CachedSpec) string {
	app, err := newAppContext()
	if err != nil {
		return ""
	}
	apiCfg := app.cfg.ApiConfigs[context]
	if apiCfg.BaseURLOverride != "" {
		return apiCfg.BaseURLOverride
	}
	if len(spec.Servers) > 0 {
		return spec.Servers[0].URLTemplate
	}
	return ""
}
