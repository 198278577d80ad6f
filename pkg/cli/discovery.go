package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kioku/aperture/internal/console"
	"github.com/kioku/aperture/internal/stringutil"
	"github.com/kioku/aperture/pkg/apertureerr"
	"github.com/kioku/aperture/pkg/requestbuilder"
	"github.com/kioku/aperture/pkg/specmodel"
)

// newSearchCommand implements a keyword search across every registered
// context's synthesized commands, matching the teacher's own preference for
// a lightweight discovery verb over a full index.
func newSearchCommand() *cobra.Command {
	var contextFilter string
	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Search command names, summaries, and tags across registered contexts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext()
			if err != nil {
				return err
			}
			specs, _ := loadAllSpecs(app)
			term := strings.ToLower(args[0])

			var headers = []string{"context", "group", "name", "summary"}
			var rows [][]string
			contexts := sortedKeys(specs)
			for _, context := range contexts {
				if contextFilter != "" && context != contextFilter {
					continue
				}
				for _, op := range specs[context].Commands {
					if !matches(op, term) {
						continue
					}
					rows = append(rows, []string{context, op.DisplayGroup, op.DisplayName, op.Summary})
				}
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), console.FormatInfoMessage("no commands matched"))
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), console.RenderTable(headers, rows))
			return nil
		},
	}
	cmd.Flags().StringVar(&contextFilter, "context", "", "restrict the search to one context")
	return cmd
}

func matches(op specmodel.CachedOperation, term string) bool {
	if strings.Contains(strings.ToLower(op.DisplayName), term) ||
		strings.Contains(strings.ToLower(op.Summary), term) ||
		strings.Contains(strings.ToLower(op.Description), term) {
		return true
	}
	for _, tag := range op.TagsKebab {
		if strings.Contains(tag, term) {
			return true
		}
	}
	for _, alias := range op.Aliases {
		if strings.Contains(strings.ToLower(alias), term) {
			return true
		}
	}
	return false
}

// newDocsCommand prints one operation's full documentation: description,
// parameters, request body, and security requirements.
func newDocsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "docs <context> <group> <name>",
		Short: "Print full documentation for one synthesized command",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext()
			if err != nil {
				return err
			}
			context, group, name := args[0], args[1], args[2]
			specs, loadErrs := loadAllSpecs(app)
			if loadErr, ok := loadErrs[context]; ok {
				return loadErr
			}
			spec, ok := specs[context]
			if !ok {
				return apertureerr.New(apertureerr.Specification, "no registered context").WithContext(context)
			}
			op, _, err := requestbuilder.Match(spec, group, name)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s (%s %s)\n\n", group, name, op.Method, op.PathTemplate)
			if op.Summary != "" {
				fmt.Fprintln(out, op.Summary)
			}
			if op.Description != "" {
				fmt.Fprintln(out, "\n"+op.Description)
			}
			if len(op.Parameters) > 0 {
				fmt.Fprintln(out, "\nParameters:")
				for _, p := range op.Parameters {
					req := ""
					if p.Required {
						req = " (required)"
					}
					fmt.Fprintf(out, "  --%s  %s, %s%s  %s\n", stringutil.Kebab(p.Name), p.Location, p.TypeHint, req, p.Description)
				}
			}
			if op.RequestBody != nil {
				fmt.Fprintln(out, "\nRequest body: --body <json>", op.RequestBody.Description)
			}
			if len(op.Aliases) > 0 {
				fmt.Fprintln(out, "\nAliases:", strings.Join(op.Aliases, ", "))
			}
			return nil
		},
	}
}

// newOverviewCommand summarizes one context: API identity, server list, and
// command counts per display group.
func newOverviewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "overview <context>",
		Short: "Summarize a registered context's API and command groups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext()
			if err != nil {
				return err
			}
			context := args[0]
			specs, loadErrs := loadAllSpecs(app)
			if loadErr, ok := loadErrs[context]; ok {
				return loadErr
			}
			spec, ok := specs[context]
			if !ok {
				return apertureerr.New(apertureerr.Specification, "no registered context").WithContext(context)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", spec.InfoTitle, spec.InfoVersion)
			if spec.InfoDesc != "" {
				fmt.Fprintln(out, spec.InfoDesc)
			}
			for _, s := range spec.Servers {
				fmt.Fprintln(out, "server:", s.URLTemplate)
			}

			counts := map[string]int{}
			for _, op := range spec.Commands {
				counts[op.DisplayGroup]++
			}
			groups := make([]string, 0, len(counts))
			for g := range counts {
				groups = append(groups, g)
			}
			sort.Strings(groups)

			fmt.Fprintln(out, "\nGroups:")
			for _, g := range groups {
				fmt.Fprintf(out, "  %-20s %d commands\n", g, counts[g])
			}
			if len(spec.SkippedEndpoints) > 0 {
				fmt.Fprintf(out, "\n%d endpoints skipped\n", len(spec.SkippedEndpoints))
			}
			return nil
		},
	}
}

// newListCommandsCommand lists every synthesized command as a flat,
// greppable table: every registered context when no argument is given, or
// just one when a context is named, the plain-text counterpart to
// --describe-json.
func newListCommandsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list-commands [context]",
		Short: "List synthesized commands across all (or one) registered context",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newAppContext()
			if err != nil {
				return err
			}
			specs, loadErrs := loadAllSpecs(app)

			var contexts []string
			if len(args) == 1 {
				if loadErr, ok := loadErrs[args[0]]; ok {
					return loadErr
				}
				if _, ok := specs[args[0]]; !ok {
					return apertureerr.New(apertureerr.Specification, "no registered context").WithContext(args[0])
				}
				contexts = []string{args[0]}
			} else {
				contexts = sortedKeys(specs)
			}

			var rows [][]string
			for _, context := range contexts {
				for _, op := range specs[context].Commands {
					if op.Hidden {
						continue
					}
					rows = append(rows, []string{context, op.DisplayGroup, op.DisplayName, strings.Join(op.Aliases, ","), op.Method, op.PathTemplate})
				}
			}
			sort.Slice(rows, func(i, j int) bool {
				for k := 0; k < 3; k++ {
					if rows[i][k] != rows[j][k] {
						return rows[i][k] < rows[j][k]
					}
				}
				return false
			})
			fmt.Fprint(cmd.OutOrStdout(), console.RenderTable([]string{"context", "group", "name", "aliases", "method", "path"}, rows))
			return nil
		},
	}
}

func sortedKeys(specs specIndex) []string {
	keys := make([]string, 0, len(specs))
	for k := range specs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
