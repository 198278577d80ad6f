package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kioku/aperture/internal/console"
	"github.com/kioku/aperture/pkg/apertureerr"
	"github.com/kioku/aperture/pkg/synth"
)

// version is set by the build pipeline; "dev" for a source checkout.
var version = "dev"

// NewRootCommand builds the full `aperture` command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "aperture",
		Short:   "Synthesize a command surface from an OpenAPI specification",
		Version: version,
		Long: `Aperture turns a registered OpenAPI 3.x specification into a dynamic
command surface.

Common tasks:
  aperture config add <context> <spec-file>   # register a specification
  aperture api <context> <group> <name>       # call a synthesized command
  aperture exec <context> --batch-file f.yaml # run a batch of operations
  aperture list-commands <context>            # list synthesized commands
  aperture search <term>                      # search across registered contexts`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddGroup(
		&cobra.Group{ID: "config", Title: "Configuration Commands:"},
		&cobra.Group{ID: "execution", Title: "Execution Commands:"},
		&cobra.Group{ID: "discovery", Title: "Discovery Commands:"},
	)

	synth.RegisterGlobalFlags(root)
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)

	configCmd := newConfigCommand()
	configCmd.GroupID = "config"
	root.AddCommand(configCmd)

	apiCmd := newAPICommand()
	apiCmd.GroupID = "execution"
	root.AddCommand(apiCmd)

	execCmd := newExecCommand()
	execCmd.GroupID = "execution"
	root.AddCommand(execCmd)

	searchCmd := newSearchCommand()
	searchCmd.GroupID = "discovery"
	root.AddCommand(searchCmd)

	docsCmd := newDocsCommand()
	docsCmd.GroupID = "discovery"
	root.AddCommand(docsCmd)

	overviewCmd := newOverviewCommand()
	overviewCmd.GroupID = "discovery"
	root.AddCommand(overviewCmd)

	listCommandsCmd := newListCommandsCommand()
	listCommandsCmd.GroupID = "discovery"
	root.AddCommand(listCommandsCmd)

	return root
}

// SetVersionInfo lets main() stamp the build-time version into the root
// command's --version output.
func SetVersionInfo(v string) {
	if v != "" {
		version = v
	}
}

// RenderFatal writes err to stderr in human or JSON form (spec.md §7) and
// returns the process exit code the caller should use.
func RenderFatal(cmd *cobra.Command, err error) int {
	jsonErrors, _ := cmd.Flags().GetBool("json-errors")
	if ae, ok := err.(*apertureerr.Error); ok {
		fmt.Fprintln(os.Stderr, ae.Render(jsonErrors))
		return 1
	}
	if jsonErrors {
		wrapped := apertureerr.Wrap(apertureerr.Runtime, err, err.Error())
		fmt.Fprintln(os.Stderr, wrapped.Render(true))
		return 1
	}
	fmt.Fprintln(os.Stderr, console.FormatErrorLine("Runtime", err.Error(), ""))
	return 1
}
