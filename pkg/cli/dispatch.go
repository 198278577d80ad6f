package cli

import (
	"encoding/json"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/kioku/aperture/pkg/apertureerr"
	"github.com/kioku/aperture/pkg/executor"
	"github.com/kioku/aperture/pkg/outputpipeline"
	"github.com/kioku/aperture/pkg/requestbuilder"
	"github.com/kioku/aperture/pkg/responsecache"
	"github.com/kioku/aperture/pkg/retry"
	"github.com/kioku/aperture/pkg/specmodel"
	"github.com/kioku/aperture/pkg/synth"
)

func interactiveOutput() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("NO_COLOR") == ""
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return data
}

// newDispatch returns the synth.Dispatch closure shared by every synthesized
// context command, implementing spec.md §4.4-§4.7: build the request,
// execute it under retry/cache, then filter and format the response.
func newDispatch(app *appContext, specs specIndex) synth.Dispatch {
	return func(cmd *cobra.Command, inv synth.Invocation) error {
		spec, ok := specs[inv.Context]
		if !ok {
			return apertureerr.New(apertureerr.Specification, "no loaded spec for context").WithContext(inv.Context)
		}
		apiCfg := app.cfg.ApiConfigs[inv.Context]

		baseURLFlag, _ := cmd.Flags().GetString("base-url")
		if inv.BaseURLFlag != "" {
			baseURLFlag = inv.BaseURLFlag
		}

		req, err := requestbuilder.Build(spec, inv.Operation, apiCfg, requestbuilder.Options{
			BaseURLFlag:    baseURLFlag,
			ServerVars:     inv.ServerVars,
			EnvName:        os.Getenv("APERTURE_ENV"),
			ParamValues:    inv.ParamValues,
			ExtraHeaders:   inv.ExtraHeaders,
			IdempotencyKey: inv.IdempotencyKey,
			Body:           inv.Body,
			Env:            lookupEnv,
		})
		if err != nil {
			return err
		}

		if inv.DryRun {
			data, err := outputpipeline.FormatBytes(mustJSON(requestbuilder.Describe(req)), outputpipeline.FormatJSON, true)
			if err != nil {
				return err
			}
			cmd.Println(string(data))
			return nil
		}

		opts, err := executeOptions(cmd, app, inv.Context)
		if err != nil {
			return err
		}

		result, err := executor.Execute(cmd.Context(), req, opts)
		if err != nil {
			return err
		}

		return renderResult(cmd, result.Body)
	}
}

// executeOptions derives executor.Options from global flags and the global
// retry/cache defaults, letting per-invocation flags override them.
func executeOptions(cmd *cobra.Command, app *appContext, context string) (executor.Options, error) {
	retryMax, _ := cmd.Flags().GetInt("retry")
	retryDelay, _ := cmd.Flags().GetInt("retry-delay")
	retryMaxDelay, _ := cmd.Flags().GetInt("retry-max-delay")
	forceRetry, _ := cmd.Flags().GetBool("force-retry")
	idempotencyKey, _ := cmd.Flags().GetString("idempotency-key")

	if !cmd.Flags().Changed("retry") {
		retryMax = app.cfg.RetryDefaults.MaxAttempts
	}
	if !cmd.Flags().Changed("retry-delay") {
		retryDelay = app.cfg.RetryDefaults.InitialDelayMs
	}
	if !cmd.Flags().Changed("retry-max-delay") {
		retryMaxDelay = app.cfg.RetryDefaults.MaxDelayMs
	}

	policy := retry.Policy{
		MaxAttempts:       retryMax,
		InitialDelay:      time.Duration(retryDelay) * time.Millisecond,
		MaxDelay:          time.Duration(retryMaxDelay) * time.Millisecond,
		ForceRetry:        forceRetry,
		HasIdempotencyKey: idempotencyKey != "",
	}

	cacheOn, _ := cmd.Flags().GetBool("cache")
	cacheOff, _ := cmd.Flags().GetBool("no-cache")
	cacheTTL, _ := cmd.Flags().GetInt("cache-ttl")

	enabled := app.cfg.Cache.Enabled
	if cacheOn {
		enabled = true
	}
	if cacheOff {
		enabled = false
	}
	if cacheTTL == 0 {
		cacheTTL = app.cfg.Cache.DefaultTTLSecs
	}

	var store *responsecache.Store
	if enabled {
		store = responsecache.New(app.dirs.ResponseCacheDir(context), app.dirs.ResponseLock)
	}

	return executor.Options{
		Timeout: time.Duration(app.cfg.DefaultTimeoutSecs) * time.Second,
		Retry:   policy,
		Cache: executor.CacheOptions{
			Enabled:            enabled,
			AllowAuthenticated: app.cfg.Cache.AllowAuthenticated,
			TTLSecs:            cacheTTL,
			Store:              store,
			Context:            context,
		},
	}, nil
}

func renderResult(cmd *cobra.Command, body []byte) error {
	jq, _ := cmd.Flags().GetString("jq")
	format, _ := cmd.Flags().GetString("format")

	data := body
	if len(data) == 0 {
		data = []byte("null")
	}

	var err error
	if jq != "" {
		data, err = outputpipeline.ApplyJQ(data, jq)
		if err != nil {
			return err
		}
	}
	out, err := outputpipeline.FormatBytes(data, outputpipeline.Format(format), interactiveOutput())
	if err != nil {
		return err
	}
	cmd.Println(string(out))
	return nil
}

// specIndex maps a registered context name to its loaded Cached Spec, built
// once when the `api`/`exec` command trees are assembled.
type specIndex map[string]*specmodel.CachedSpec
