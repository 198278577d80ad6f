// Package synth implements the Command Synthesizer of spec.md §4.3: it
// turns a Cached Spec into an in-memory spf13/cobra command tree shaped
// `aperture api <context> <group> <name> [flags]`, including the legacy
// `--positional-args` mode and the `--describe-json` short-circuit.
package synth

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kioku/aperture/internal/stringutil"
	"github.com/kioku/aperture/pkg/apertureerr"
	"github.com/kioku/aperture/pkg/manifest"
	"github.com/kioku/aperture/pkg/outputpipeline"
	"github.com/kioku/aperture/pkg/specmodel"
)

// ReservedGroups are the built-in top-level verbs of spec.md §6 that no
// display_group may collide with.
var ReservedGroups = map[string]bool{
	"config": true, "search": true, "exec": true, "docs": true, "overview": true, "list-commands": true,
}

// Invocation is everything one synthesized leaf command gathered from its
// bound flags and arguments, handed to a Dispatch func to execute.
type Invocation struct {
	Context        string
	Operation      *specmodel.CachedOperation
	ParamValues    map[string]string
	ExtraHeaders   []string
	ServerVars     map[string]string
	Body           string
	BaseURLFlag    string
	IdempotencyKey string
	DryRun         bool
	Positional     bool
}

// Dispatch executes one resolved Invocation. Supplied by the caller, which
// owns the full §4.4-§4.7 pipeline (request build, retry, cache, output).
type Dispatch func(cmd *cobra.Command, inv Invocation) error

// ResolveBaseURL is an optional hook used only to populate the
// --describe-json manifest's informational "base_url" field.
type ResolveBaseURL func(context string, spec *specmodel.CachedSpec) string

var pathParamRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_.-]*)\}`)

func pathParamOrder(template string) []string {
	matches := pathParamRe.FindAllStringSubmatch(template, -1)
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m[1]
	}
	return names
}

// RegisterGlobalFlags attaches every global flag of spec.md §4.3 to cmd as
// persistent flags, inherited by every synthesized subcommand.
func RegisterGlobalFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.Bool("json-errors", false, "render errors as structured JSON on stderr")
	f.Bool("dry-run", false, "print the assembled request without sending it")
	f.Bool("describe-json", false, "print the capability manifest and exit")
	f.String("idempotency-key", "", "Idempotency-Key header value")
	f.Bool("cache", false, "enable the response cache for this invocation")
	f.Bool("no-cache", false, "disable the response cache for this invocation")
	f.Int("cache-ttl", 0, "response cache TTL in seconds")
	f.String("format", "json", "output format: json, yaml, or table")
	f.String("jq", "", "trivial jq-subset filter applied to the response")
	f.StringToString("server-var", nil, "server URL variable substitution name=value (repeatable)")
	f.BoolP("quiet", "q", false, "suppress non-essential output")
	f.CountP("verbose", "v", "increase log verbosity (repeatable)")
	f.Int("retry", 0, "maximum retry attempts (0 disables retry)")
	f.Int("retry-delay", 0, "initial retry backoff delay in milliseconds")
	f.Int("retry-max-delay", 0, "maximum retry backoff delay in milliseconds")
	f.Bool("force-retry", false, "allow retrying non-idempotent methods")
	f.String("batch-file", "", "run a batch of operations from a JSON/YAML file")
	f.Int("batch-concurrency", 5, "maximum concurrent operations in concurrent batch mode")
	f.Float64("batch-rate-limit", 0, "requests per second cap for concurrent batch mode (0 = unlimited)")
	f.Bool("positional-args", false, "bind path parameters positionally instead of via flags")
	f.String("base-url", "", "override the resolved base URL for this invocation")
	f.StringSlice("header", nil, `extra header "Name: Value" (repeatable)`)
}

// BuildContextCommand builds the `<context>` subtree of `aperture api
// <context> <group> <name>` for one loaded Cached Spec.
func BuildContextCommand(context string, spec *specmodel.CachedSpec, dispatch Dispatch, resolveBaseURL ResolveBaseURL) (*cobra.Command, error) {
	contextCmd := &cobra.Command{
		Use:   context,
		Short: describeShort(spec),
		RunE: func(cmd *cobra.Command, args []string) error {
			describeJSON, _ := cmd.Flags().GetBool("describe-json")
			if describeJSON {
				return emitManifest(cmd, context, spec, resolveBaseURL)
			}
			return cmd.Help()
		},
	}

	groups := map[string]*cobra.Command{}
	groupOrder := make([]string, 0)
	for i := range spec.Commands {
		op := &spec.Commands[i]
		if ReservedGroups[op.DisplayGroup] {
			return nil, apertureerr.New(apertureerr.Specification, "display group collides with a reserved built-in group").
				WithContext(op.DisplayGroup)
		}
		groupCmd, ok := groups[op.DisplayGroup]
		if !ok {
			groupCmd = &cobra.Command{Use: op.DisplayGroup, Short: fmt.Sprintf("%s operations", op.DisplayGroup)}
			groups[op.DisplayGroup] = groupCmd
			groupOrder = append(groupOrder, op.DisplayGroup)
		}
		groupCmd.AddCommand(buildLeaf(context, spec, op, dispatch, resolveBaseURL))
	}

	sort.Strings(groupOrder)
	for _, name := range groupOrder {
		contextCmd.AddCommand(groups[name])
	}
	return contextCmd, nil
}

func describeShort(spec *specmodel.CachedSpec) string {
	if spec.InfoTitle != "" {
		return spec.InfoTitle
	}
	return fmt.Sprintf("Commands for %q", spec.Name)
}

func buildLeaf(context string, spec *specmodel.CachedSpec, op *specmodel.CachedOperation, dispatch Dispatch, resolveBaseURL ResolveBaseURL) *cobra.Command {
	cmd := &cobra.Command{
		Use:     op.DisplayName,
		Aliases: op.Aliases,
		Short:   op.Summary,
		Long:    op.Description,
		Hidden:  op.Hidden,
		Args:    cobra.ArbitraryArgs,
	}

	flagNames := map[string]string{}
	for _, p := range op.Parameters {
		flagName := stringutil.Kebab(p.Name)
		flagNames[p.Name] = flagName
		registerParamFlag(cmd, flagName, p)
	}
	if op.RequestBody != nil {
		cmd.Flags().String("body", "", "raw JSON request body (supports ${VAR} expansion)")
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		describeJSON, _ := cmd.Flags().GetBool("describe-json")
		if describeJSON {
			return emitManifest(cmd, context, spec, resolveBaseURL)
		}

		positional, _ := cmd.Flags().GetBool("positional-args")
		paramValues := map[string]string{}

		if positional {
			order := pathParamOrder(op.PathTemplate)
			for i, name := range order {
				if i < len(args) {
					paramValues[name] = args[i]
				}
			}
		}

		for _, p := range op.Parameters {
			if positional && p.Location == specmodel.LocationPath {
				continue
			}
			flagName := flagNames[p.Name]

			if p.TypeHint == specmodel.TypeBoolean {
				v, set, err := resolveBoolFlag(cmd.Flags(), flagName, p)
				if err != nil {
					return err
				}
				if set {
					paramValues[p.Name] = v
				}
				continue
			}

			if !cmd.Flags().Changed(flagName) {
				if p.Required && p.Location == specmodel.LocationPath {
					return apertureerr.New(apertureerr.Validation, "missing required path parameter").WithContext(p.Name)
				}
				continue
			}
			v, err := flagValueAsString(cmd.Flags(), flagName, p.TypeHint)
			if err != nil {
				return err
			}
			paramValues[p.Name] = v
		}
		if positional {
			for _, name := range pathParamOrder(op.PathTemplate) {
				if _, ok := paramValues[name]; !ok {
					return apertureerr.New(apertureerr.Validation, "missing required positional path parameter").WithContext(name)
				}
			}
		}

		var body string
		if op.RequestBody != nil {
			body, _ = cmd.Flags().GetString("body")
		}
		headers, _ := cmd.Flags().GetStringSlice("header")
		serverVars, _ := cmd.Flags().GetStringToString("server-var")
		baseURLFlag, _ := cmd.Flags().GetString("base-url")
		idempotencyKey, _ := cmd.Flags().GetString("idempotency-key")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		return dispatch(cmd, Invocation{
			Context:        context,
			Operation:      op,
			ParamValues:    paramValues,
			ExtraHeaders:   headers,
			ServerVars:     serverVars,
			Body:           body,
			BaseURLFlag:    baseURLFlag,
			IdempotencyKey: idempotencyKey,
			DryRun:         dryRun,
			Positional:     positional,
		})
	}

	return cmd
}

func registerParamFlag(cmd *cobra.Command, flagName string, p specmodel.Parameter) {
	help := p.Description
	switch p.TypeHint {
	case specmodel.TypeInteger:
		cmd.Flags().Int64(flagName, 0, help)
	case specmodel.TypeNumber:
		cmd.Flags().Float64(flagName, 0, help)
	case specmodel.TypeBoolean:
		// spec.md §4.2: a boolean parameter is a pair of switches, not one
		// flag with a default — the counterpart lets a caller explicitly
		// force "false" instead of relying on the flag's zero value, which
		// matters once the parameter is required.
		cmd.Flags().Bool(flagName, false, help)
		cmd.Flags().Bool(noFlagName(flagName), false, "negates --"+flagName)
	case specmodel.TypeArray:
		cmd.Flags().StringSlice(flagName, nil, help)
	default:
		cmd.Flags().String(flagName, "", help)
	}
	// Path parameters are validated manually in the leaf's RunE rather than
	// via MarkFlagRequired, because --positional-args moves them off their
	// flag entirely. Booleans are also validated manually, since "required"
	// there means exactly one of --name/--no-name, not merely --name.
	if p.Required && p.Location != specmodel.LocationPath && p.TypeHint != specmodel.TypeBoolean {
		_ = cmd.MarkFlagRequired(flagName)
	}
}

func noFlagName(flagName string) string {
	return "no-" + flagName
}

// resolveBoolFlag reads a boolean switch flag together with its --no-<name>
// counterpart. At most one of the two may be set; a required parameter must
// have exactly one set. Returns set=false when neither was passed and the
// parameter isn't required, meaning the caller omits it entirely.
func resolveBoolFlag(flags *pflag.FlagSet, flagName string, p specmodel.Parameter) (value string, set bool, err error) {
	onSet := flags.Changed(flagName)
	offSet := flags.Changed(noFlagName(flagName))

	switch {
	case onSet && offSet:
		return "", false, apertureerr.New(apertureerr.Validation, "boolean flag set both ways").
			WithContext(fmt.Sprintf("--%s and --%s", flagName, noFlagName(flagName)))
	case onSet:
		return "true", true, nil
	case offSet:
		return "false", true, nil
	case p.Required:
		return "", false, apertureerr.New(apertureerr.Validation, "required boolean flag not set").
			WithContext(fmt.Sprintf("--%s/--%s", flagName, noFlagName(flagName)))
	default:
		return "", false, nil
	}
}

func flagValueAsString(flags *pflag.FlagSet, name string, hint specmodel.TypeHint) (string, error) {
	switch hint {
	case specmodel.TypeInteger:
		v, err := flags.GetInt64(name)
		if err != nil {
			return "", apertureerr.Wrap(apertureerr.Validation, err, "read integer flag").WithContext(name)
		}
		return strconv.FormatInt(v, 10), nil
	case specmodel.TypeNumber:
		v, err := flags.GetFloat64(name)
		if err != nil {
			return "", apertureerr.Wrap(apertureerr.Validation, err, "read number flag").WithContext(name)
		}
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	case specmodel.TypeBoolean:
		v, err := flags.GetBool(name)
		if err != nil {
			return "", apertureerr.Wrap(apertureerr.Validation, err, "read boolean flag").WithContext(name)
		}
		return strconv.FormatBool(v), nil
	case specmodel.TypeArray:
		v, err := flags.GetStringSlice(name)
		if err != nil {
			return "", apertureerr.Wrap(apertureerr.Validation, err, "read array flag").WithContext(name)
		}
		return strings.Join(v, ","), nil
	default:
		v, err := flags.GetString(name)
		if err != nil {
			return "", apertureerr.Wrap(apertureerr.Validation, err, "read string flag").WithContext(name)
		}
		return v, nil
	}
}

func emitManifest(cmd *cobra.Command, context string, spec *specmodel.CachedSpec, resolveBaseURL ResolveBaseURL) error {
	baseURL := ""
	if resolveBaseURL != nil {
		baseURL = resolveBaseURL(context, spec)
	}
	m := manifest.Build(spec, baseURL)
	data, err := m.MarshalJSON()
	if err != nil {
		return err
	}

	jq, _ := cmd.Flags().GetString("jq")
	if jq != "" {
		data, err = outputpipeline.ApplyJQ(data, jq)
		if err != nil {
			return err
		}
	}

	format, _ := cmd.Flags().GetString("format")
	out, err := outputpipeline.FormatBytes(data, outputpipeline.Format(format), true)
	if err != nil {
		return err
	}
	cmd.Println(string(out))
	return nil
}
