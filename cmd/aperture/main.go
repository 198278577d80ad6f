// Command aperture is the entrypoint binary: it builds the root cobra
// command tree and renders any top-level error per spec.md §7.
package main

import (
	"os"

	"github.com/kioku/aperture/pkg/cli"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cli.SetVersionInfo(version)
	root := cli.NewRootCommand()

	if err := root.Execute(); err != nil {
		os.Exit(cli.RenderFatal(root, err))
	}
}
