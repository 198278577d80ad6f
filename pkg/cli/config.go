package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/kioku/aperture/internal/console"
	"github.com/kioku/aperture/pkg/apertureerr"
	"github.com/kioku/aperture/pkg/configio"
	"github.com/kioku/aperture/pkg/specloader"
	"github.com/kioku/aperture/pkg/specmodel"
)

// newConfigCommand builds the `config` subtree of spec.md §6: registering
// contexts, per-context URL/secret/mapping overrides, and the global
// settings (timeout, retry defaults, cache policy).
func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage registered API contexts and global settings",
	}

	var force, strict bool
	add := &cobra.Command{
		Use:   "add <context> <spec-file>",
		Short: "Register an OpenAPI specification under a new context name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext()
			if err != nil {
				return err
			}
			context, file := args[0], args[1]
			ext := strings.TrimPrefix(filepath.Ext(file), ".")
			if ext != "yaml" && ext != "yml" && ext != "json" {
				return apertureerr.New(apertureerr.Specification, "spec file must be .yaml, .yml, or .json").WithContext(file)
			}
			if ext == "yml" {
				ext = "yaml"
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return apertureerr.Wrap(apertureerr.Runtime, err, "read spec file").WithContext(file)
			}
			if !force {
				if _, statErr := specloader.FindSource(app.dirs, context); statErr == nil {
					return apertureerr.New(apertureerr.Specification, "context already registered").WithContext(context).
						WithHint("pass --force to overwrite")
				}
			}
			sourcePath, err := specloader.StoreSource(app.dirs, context, ext, data)
			if err != nil {
				return err
			}
			if err := app.mutate(func(cfg *specmodel.GlobalConfig) error {
				apiCfg := configio.EnsureApiConfig(cfg, context)
				cfg.ApiConfigs[context] = apiCfg
				return nil
			}); err != nil {
				return err
			}
			mapping := app.cfg.ApiConfigs[context].CommandMapping
			spec, err := specloader.Recompile(app.dirs, context, sourcePath, mapping, strict)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), console.FormatInfoMessage(
				fmt.Sprintf("registered %q: %d commands, %d skipped", context, len(spec.Commands), len(spec.SkippedEndpoints))))
			return nil
		},
	}
	add.Flags().BoolVar(&force, "force", false, "overwrite an already-registered context")
	add.Flags().BoolVar(&strict, "strict", false, "reject the spec instead of skipping infeasible endpoints")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered contexts",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext()
			if err != nil {
				return err
			}
			names := make([]string, 0, len(app.cfg.ApiConfigs))
			for name := range app.cfg.ApiConfigs {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <context>",
		Short: "Unregister a context and delete its stored spec and caches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext()
			if err != nil {
				return err
			}
			context := args[0]
			if err := app.mutate(func(cfg *specmodel.GlobalConfig) error {
				delete(cfg.ApiConfigs, context)
				return nil
			}); err != nil {
				return err
			}
			for _, ext := range []string{"yaml", "json"} {
				_ = os.Remove(app.dirs.SourcePath(context, ext))
			}
			_ = os.Remove(app.dirs.CachedSpecPath(context))
			_ = os.RemoveAll(app.dirs.ResponseCacheDir(context))
			fmt.Fprintln(cmd.OutOrStdout(), console.FormatInfoMessage("removed "+context))
			return nil
		},
	})

	var editStrict bool
	reinit := &cobra.Command{
		Use:   "reinit <context>",
		Short: "Force re-validation and re-transformation of a context's stored spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext()
			if err != nil {
				return err
			}
			context := args[0]
			sourcePath, err := specloader.FindSource(app.dirs, context)
			if err != nil {
				return err
			}
			mapping := app.cfg.ApiConfigs[context].CommandMapping
			spec, err := specloader.Recompile(app.dirs, context, sourcePath, mapping, editStrict)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), console.FormatInfoMessage(
				fmt.Sprintf("reinitialized %q: %d commands, %d skipped", context, len(spec.Commands), len(spec.SkippedEndpoints))))
			return nil
		},
	}
	reinit.Flags().BoolVar(&editStrict, "strict", false, "reject the spec instead of skipping infeasible endpoints")
	cmd.AddCommand(reinit)

	cmd.AddCommand(newEditCommand())
	cmd.AddCommand(newURLCommands()...)
	cmd.AddCommand(newSecretCommands()...)
	cmd.AddCommand(newMappingCommands()...)
	cmd.AddCommand(newCacheCommands()...)
	cmd.AddCommand(newSettingsCommands()...)

	return cmd
}

// editorAvailable probes whether name resolves to a runnable binary, the
// same "probe an external binary, fall back gracefully" idiom the teacher
// uses for its own external-tool checks.
func editorAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func newEditCommand() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "edit <context>",
		Short: "Open a context's stored spec source in $EDITOR, then recompile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext()
			if err != nil {
				return err
			}
			context := args[0]
			sourcePath, err := specloader.FindSource(app.dirs, context)
			if err != nil {
				return err
			}

			editor := os.Getenv("EDITOR")
			if editor == "" {
				editor = "vi"
			}
			if !editorAvailable(editor) {
				return apertureerr.New(apertureerr.Runtime, "editor not found on PATH").WithContext(editor).
					WithHint("set $EDITOR to an installed editor")
			}

			editCmd := exec.Command(editor, sourcePath)
			editCmd.Stdin = os.Stdin
			editCmd.Stdout = os.Stdout
			editCmd.Stderr = os.Stderr
			if err := editCmd.Run(); err != nil {
				return apertureerr.Wrap(apertureerr.Runtime, err, "run editor").WithContext(editor)
			}

			mapping := app.cfg.ApiConfigs[context].CommandMapping
			spec, err := specloader.Recompile(app.dirs, context, sourcePath, mapping, strict)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), console.FormatInfoMessage(
				fmt.Sprintf("recompiled %q after edit: %d commands, %d skipped", context, len(spec.Commands), len(spec.SkippedEndpoints))))
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "reject the spec instead of skipping infeasible endpoints")
	return cmd
}

func newURLCommands() []*cobra.Command {
	setURL := &cobra.Command{
		Use:   "set-url <context> <url>",
		Short: "Set the base URL override for a context (or an environment with --env)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, _ := cmd.Flags().GetString("env")
			app, err := newAppContext()
			if err != nil {
				return err
			}
			context, url := args[0], args[1]
			return app.mutate(func(cfg *specmodel.GlobalConfig) error {
				apiCfg := configio.EnsureApiConfig(cfg, context)
				if env == "" {
					apiCfg.BaseURLOverride = url
				} else {
					apiCfg.EnvironmentURLs[env] = url
				}
				cfg.ApiConfigs[context] = apiCfg
				return nil
			})
		},
	}
	setURL.Flags().String("env", "", "set this URL for a named environment instead of the default override")

	getURL := &cobra.Command{
		Use:   "get-url <context>",
		Short: "Print a context's effective base URL override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, _ := cmd.Flags().GetString("env")
			app, err := newAppContext()
			if err != nil {
				return err
			}
			apiCfg := app.cfg.ApiConfigs[args[0]]
			url := apiCfg.BaseURLOverride
			if env != "" {
				url = apiCfg.EnvironmentURLs[env]
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
	getURL.Flags().String("env", "", "read the URL for a named environment instead of the default override")

	listURLs := &cobra.Command{
		Use:   "list-urls <context>",
		Short: "List every environment URL configured for a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext()
			if err != nil {
				return err
			}
			apiCfg := app.cfg.ApiConfigs[args[0]]
			if apiCfg.BaseURLOverride != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "(default)\t%s\n", apiCfg.BaseURLOverride)
			}
			names := make([]string, 0, len(apiCfg.EnvironmentURLs))
			for name := range apiCfg.EnvironmentURLs {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, apiCfg.EnvironmentURLs[name])
			}
			return nil
		},
	}

	return []*cobra.Command{setURL, getURL, listURLs}
}

func newSecretCommands() []*cobra.Command {
	var envVar string
	var interactive bool
	setSecret := &cobra.Command{
		Use:   "set-secret <context> <scheme-name>",
		Short: "Bind a security scheme to an environment variable",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			context, scheme := args[0], args[1]
			if interactive {
				if os.Getenv("CI") != "" {
					return apertureerr.New(apertureerr.Runtime, "interactive secret entry is unavailable in CI")
				}
				var name, value string
				form := huh.NewForm(huh.NewGroup(
					huh.NewInput().Title("Environment variable name").Value(&name).
						Validate(func(s string) error {
							if s == "" {
								return fmt.Errorf("name must not be empty")
							}
							return nil
						}),
					huh.NewInput().Title("Secret value (exported into this shell, not stored)").
						EchoMode(huh.EchoModePassword).Value(&value),
				))
				if err := form.Run(); err != nil {
					return apertureerr.Wrap(apertureerr.Runtime, err, "interactive secret entry")
				}
				envVar = name
				if value != "" {
					fmt.Fprintln(cmd.OutOrStdout(), console.FormatWarningMessage(
						fmt.Sprintf("export %s=... before invoking api commands; Aperture never stores secret values", envVar)))
				}
			}
			if envVar == "" {
				return apertureerr.New(apertureerr.Validation, "--env-var is required (or pass --interactive)")
			}
			app, err := newAppContext()
			if err != nil {
				return err
			}
			return app.mutate(func(cfg *specmodel.GlobalConfig) error {
				apiCfg := configio.EnsureApiConfig(cfg, context)
				apiCfg.Secrets[scheme] = specmodel.SecretBinding{Source: "env", Name: envVar}
				cfg.ApiConfigs[context] = apiCfg
				return nil
			})
		},
	}
	setSecret.Flags().StringVar(&envVar, "env-var", "", "environment variable name carrying the secret value")
	setSecret.Flags().BoolVar(&interactive, "interactive", false, "prompt for the binding instead of passing --env-var")

	listSecrets := &cobra.Command{
		Use:   "list-secrets <context>",
		Short: "List a context's security-scheme to environment-variable bindings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext()
			if err != nil {
				return err
			}
			apiCfg := app.cfg.ApiConfigs[args[0]]
			names := make([]string, 0, len(apiCfg.Secrets))
			for name := range apiCfg.Secrets {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, apiCfg.Secrets[name].Name)
			}
			return nil
		},
	}

	removeSecret := &cobra.Command{
		Use:   "remove-secret <context> <scheme-name>",
		Short: "Remove a security scheme's environment-variable binding",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext()
			if err != nil {
				return err
			}
			context, scheme := args[0], args[1]
			return app.mutate(func(cfg *specmodel.GlobalConfig) error {
				apiCfg := configio.EnsureApiConfig(cfg, context)
				delete(apiCfg.Secrets, scheme)
				cfg.ApiConfigs[context] = apiCfg
				return nil
			})
		},
	}

	return []*cobra.Command{setSecret, listSecrets, removeSecret}
}

func newMappingCommands() []*cobra.Command {
	var group, rename string
	var alias []string
	var hidden bool
	setMapping := &cobra.Command{
		Use:   "set-mapping <context> <operation-id>",
		Short: "Override an operation's display group, name, aliases, or visibility",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext()
			if err != nil {
				return err
			}
			context, opID := args[0], args[1]
			return app.mutate(func(cfg *specmodel.GlobalConfig) error {
				apiCfg := configio.EnsureApiConfig(cfg, context)
				if apiCfg.CommandMapping.Operations == nil {
					apiCfg.CommandMapping.Operations = map[string]specmodel.CommandMappingOverride{}
				}
				override := apiCfg.CommandMapping.Operations[opID]
				if group != "" {
					override.DisplayGroup = group
				}
				if rename != "" {
					override.DisplayName = rename
				}
				if len(alias) > 0 {
					override.Aliases = alias
				}
				override.Hidden = hidden
				apiCfg.CommandMapping.Operations[opID] = override
				cfg.ApiConfigs[context] = apiCfg
				return nil
			})
		},
	}
	setMapping.Flags().StringVar(&group, "group", "", "override display_group")
	setMapping.Flags().StringVar(&rename, "name", "", "override display_name")
	setMapping.Flags().StringSliceVar(&alias, "alias", nil, "additional command aliases (repeatable)")
	setMapping.Flags().BoolVar(&hidden, "hidden", false, "hide this operation's command from help listings")

	removeMapping := &cobra.Command{
		Use:   "remove-mapping <context> <operation-id>",
		Short: "Remove an operation's mapping override",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext()
			if err != nil {
				return err
			}
			context, opID := args[0], args[1]
			return app.mutate(func(cfg *specmodel.GlobalConfig) error {
				apiCfg := configio.EnsureApiConfig(cfg, context)
				delete(apiCfg.CommandMapping.Operations, opID)
				cfg.ApiConfigs[context] = apiCfg
				return nil
			})
		},
	}

	return []*cobra.Command{setMapping, removeMapping}
}

func newCacheCommands() []*cobra.Command {
	stats := &cobra.Command{
		Use:   "cache-stats [context]",
		Short: "Show cached-spec and response-cache disk usage",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext()
			if err != nil {
				return err
			}
			dir := app.dirs.Responses
			if len(args) == 1 {
				dir = app.dirs.ResponseCacheDir(args[0])
			}
			var total int64
			var count int
			_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
				if err != nil || info.IsDir() {
					return nil
				}
				total += info.Size()
				count++
				return nil
			})
			fmt.Fprintf(cmd.OutOrStdout(), "%d entries, %s\n", count, console.FormatFileSize(total))
			return nil
		},
	}

	clear := &cobra.Command{
		Use:   "clear-cache [context]",
		Short: "Delete response cache entries (and, with --specs, cached spec compilations)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			clearSpecs, _ := cmd.Flags().GetBool("specs")
			app, err := newAppContext()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				context := args[0]
				_ = os.RemoveAll(app.dirs.ResponseCacheDir(context))
				if clearSpecs {
					_ = os.Remove(app.dirs.CachedSpecPath(context))
				}
			} else {
				entries, _ := os.ReadDir(app.dirs.Responses)
				for _, e := range entries {
					if e.Name() == filepath.Base(app.dirs.ResponseLock) {
						continue
					}
					_ = os.RemoveAll(filepath.Join(app.dirs.Responses, e.Name()))
				}
				if clearSpecs {
					entries, _ := os.ReadDir(app.dirs.Cache)
					for _, e := range entries {
						if strings.HasSuffix(e.Name(), ".bin") {
							_ = os.Remove(filepath.Join(app.dirs.Cache, e.Name()))
						}
					}
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), console.FormatInfoMessage("cache cleared"))
			return nil
		},
	}
	clear.Flags().Bool("specs", false, "also clear cached spec compilations (forces recompile on next use)")

	return []*cobra.Command{stats, clear}
}

func newSettingsCommands() []*cobra.Command {
	settings := &cobra.Command{
		Use:   "settings",
		Short: "Print the global settings as `key = value` lines, using the config get/set key names",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "default_timeout_secs = %d\n", app.cfg.DefaultTimeoutSecs)
			fmt.Fprintf(cmd.OutOrStdout(), "json_errors = %v\n", app.cfg.AgentDefaults.JSONErrors)
			fmt.Fprintf(cmd.OutOrStdout(), "retry.max_attempts = %d\n", app.cfg.RetryDefaults.MaxAttempts)
			fmt.Fprintf(cmd.OutOrStdout(), "cache.enabled = %v\n", app.cfg.Cache.Enabled)
			fmt.Fprintf(cmd.OutOrStdout(), "cache.default_ttl_secs = %d\n", app.cfg.Cache.DefaultTTLSecs)
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print one global setting (e.g. default_timeout_secs, cache.enabled)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext()
			if err != nil {
				return err
			}
			v, err := getSetting(app.cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one global setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext()
			if err != nil {
				return err
			}
			return app.mutate(func(cfg *specmodel.GlobalConfig) error {
				return setSetting(cfg, args[0], args[1])
			})
		},
	}

	return []*cobra.Command{settings, get, set}
}

func getSetting(cfg *specmodel.GlobalConfig, key string) (string, error) {
	switch key {
	case "default_timeout_secs":
		return fmt.Sprint(cfg.DefaultTimeoutSecs), nil
	case "json_errors":
		return fmt.Sprint(cfg.AgentDefaults.JSONErrors), nil
	case "retry.max_attempts":
		return fmt.Sprint(cfg.RetryDefaults.MaxAttempts), nil
	case "retry.initial_delay_ms":
		return fmt.Sprint(cfg.RetryDefaults.InitialDelayMs), nil
	case "retry.max_delay_ms":
		return fmt.Sprint(cfg.RetryDefaults.MaxDelayMs), nil
	case "cache.enabled":
		return fmt.Sprint(cfg.Cache.Enabled), nil
	case "cache.default_ttl_secs":
		return fmt.Sprint(cfg.Cache.DefaultTTLSecs), nil
	case "cache.allow_authenticated":
		return fmt.Sprint(cfg.Cache.AllowAuthenticated), nil
	default:
		return "", apertureerr.New(apertureerr.Validation, "unknown setting key").WithContext(key)
	}
}

func setSetting(cfg *specmodel.GlobalConfig, key, value string) error {
	asBool := func() (bool, error) {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return false, apertureerr.New(apertureerr.Validation, "expected a boolean value").WithContext(value)
	}
	asInt := func() (int, error) {
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err != nil {
			return 0, apertureerr.New(apertureerr.Validation, "expected an integer value").WithContext(value)
		}
		return n, nil
	}

	switch key {
	case "default_timeout_secs":
		n, err := asInt()
		if err != nil {
			return err
		}
		cfg.DefaultTimeoutSecs = n
	case "json_errors":
		b, err := asBool()
		if err != nil {
			return err
		}
		cfg.AgentDefaults.JSONErrors = b
	case "retry.max_attempts":
		n, err := asInt()
		if err != nil {
			return err
		}
		cfg.RetryDefaults.MaxAttempts = n
	case "retry.initial_delay_ms":
		n, err := asInt()
		if err != nil {
			return err
		}
		cfg.RetryDefaults.InitialDelayMs = n
	case "retry.max_delay_ms":
		n, err := asInt()
		if err != nil {
			return err
		}
		cfg.RetryDefaults.MaxDelayMs = n
	case "cache.enabled":
		b, err := asBool()
		if err != nil {
			return err
		}
		cfg.Cache.Enabled = b
	case "cache.default_ttl_secs":
		n, err := asInt()
		if err != nil {
			return err
		}
		cfg.Cache.DefaultTTLSecs = n
	case "cache.allow_authenticated":
		b, err := asBool()
		if err != nil {
			return err
		}
		cfg.Cache.AllowAuthenticated = b
	default:
		return apertureerr.New(apertureerr.Validation, "unknown setting key").WithContext(key)
	}
	return nil
}
