package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kioku/aperture/internal/console"
	"github.com/kioku/aperture/pkg/apertureerr"
	"github.com/kioku/aperture/pkg/batch"
	"github.com/kioku/aperture/pkg/executor"
	"github.com/kioku/aperture/pkg/outputpipeline"
	"github.com/kioku/aperture/pkg/requestbuilder"
)

// newExecCommand implements the `exec --batch-file` verb of spec.md §4.8:
// run a file of operations against one context, concurrently or
// dependently depending on what the file's entries need.
func newExecCommand() *cobra.Command {
	var batchFile string
	var concurrency int
	var rateLimit float64

	cmd := &cobra.Command{
		Use:   "exec <context>",
		Short: "Run a batch of operations from --batch-file against one context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if batchFile == "" {
				return apertureerr.New(apertureerr.Validation, "--batch-file is required")
			}
			context := args[0]

			app, err := newAppContext()
			if err != nil {
				return err
			}
			specs, loadErrs := loadAllSpecs(app)
			if loadErr, ok := loadErrs[context]; ok {
				return loadErr
			}
			spec, ok := specs[context]
			if !ok {
				return apertureerr.New(apertureerr.Specification, "no registered context").WithContext(context)
			}

			data, err := os.ReadFile(batchFile)
			if err != nil {
				return apertureerr.Wrap(apertureerr.Runtime, err, "read batch file").WithContext(batchFile)
			}
			file, err := batch.ParseFile(data)
			if err != nil {
				return err
			}

			opts, err := executeOptions(cmd, app, context)
			if err != nil {
				return err
			}
			apiCfg := app.cfg.ApiConfigs[context]

			runner := func(ctx context.Context, op batch.Operation, interpolated []string) batch.RunOutcome {
				group, name, params, body, headers, err := decodeBatchArgs(interpolated, op.Headers)
				if err != nil {
					return batch.RunOutcome{Err: err}
				}
				operation, _, err := requestbuilder.Match(spec, group, name)
				if err != nil {
					return batch.RunOutcome{Err: err}
				}
				req, err := requestbuilder.Build(spec, operation, apiCfg, requestbuilder.Options{
					EnvName:      os.Getenv("APERTURE_ENV"),
					ParamValues:  params,
					Body:         body,
					ExtraHeaders: headers,
					Env:          lookupEnv,
				})
				if err != nil {
					return batch.RunOutcome{Err: err}
				}

				opOpts := opts
				if op.UseCache != nil {
					opOpts.Cache.Enabled = *op.UseCache
				}
				if op.Retry != nil {
					opOpts.Retry.MaxAttempts = *op.Retry
				}

				result, err := executor.Execute(ctx, req, opOpts)
				if err != nil {
					return batch.RunOutcome{Err: err}
				}
				return batch.RunOutcome{Success: true, HTTPStatus: result.Status, Body: result.Body}
			}

			mode := batch.DetectMode(file.Operations)
			var summary batch.Summary
			if mode == batch.ModeConcurrent {
				summary = batch.RunConcurrent(cmd.Context(), file.Operations, concurrency, rateLimit, runner)
			} else {
				summary, err = batch.RunDependent(cmd.Context(), file.Operations, runner)
				if err != nil {
					return err
				}
			}

			data, err = outputpipeline.FormatBytes(mustJSON(summary), outputpipeline.FormatJSON, interactiveOutput())
			if err != nil {
				return err
			}
			cmd.Println(string(data))
			if summary.Failures > 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), console.FormatWarningMessage(fmt.Sprintf("%d of %d operations failed", summary.Failures, summary.Total)))
				return apertureerr.New(apertureerr.Runtime, "one or more batch operations failed").
					WithDetails(map[string]any{"failures": summary.Failures, "total": summary.Total})
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&batchFile, "batch-file", "", "path to a JSON or YAML batch file")
	cmd.Flags().IntVar(&concurrency, "batch-concurrency", 5, "maximum concurrent operations in concurrent mode")
	cmd.Flags().Float64Var(&rateLimit, "batch-rate-limit", 0, "requests per second cap in concurrent mode (0 = unlimited)")
	_ = cmd.MarkFlagRequired("batch-file")

	return cmd
}

// decodeBatchArgs interprets one interpolated Operation.Args slice: the
// first two entries select `<group> <name>`; remaining entries are either
// `name=value` parameter assignments or the literal `body=<json>` entry.
// op.Headers carries extra headers verbatim (already interpolated upstream
// is not needed here: header values rarely reference captured variables).
func decodeBatchArgs(args []string, opHeaders map[string]string) (group, name string, params map[string]string, body string, headers []string, err error) {
	if len(args) < 2 {
		return "", "", nil, "", nil, apertureerr.New(apertureerr.Specification, "batch operation args must be [group, name, ...params]")
	}
	group, name = args[0], args[1]
	params = map[string]string{}
	for _, arg := range args[2:] {
		k, v, ok := strings.Cut(arg, "=")
		if !ok {
			return "", "", nil, "", nil, apertureerr.New(apertureerr.Specification, "malformed batch parameter, expected name=value").WithContext(arg)
		}
		if k == "body" {
			body = v
			continue
		}
		params[k] = v
	}
	for k, v := range opHeaders {
		headers = append(headers, k+": "+v)
	}
	return group, name, params, body, headers, nil
}
