// Package main is the entry point for the portkeeper binary.
//
// portkeeper exposes locally running services through Cloudflare named
// tunnels. It combines a TUI dashboard (built with Bubble Tea) and a CLI
// (built with Cobra) around one tunnel manager that drives the cloudflared
// binary.
//
// When invoked without arguments, it launches the interactive TUI dashboard.
// When invoked with subcommands it runs the corresponding CLI operation and
// exits.
//
// Usage:
//
//	portkeeper                                    # launch the TUI dashboard
//	portkeeper login                              # authorize cloudflared
//	portkeeper project add web --port 3000 --domain app.example.com
//	portkeeper tunnel up web                      # run a tunnel in the foreground
//	portkeeper tunnel status                      # show running tunnels
package main

import (
	"fmt"
	"os"

	"github.com/treykane/portkeeper/internal/cli"
	"github.com/treykane/portkeeper/internal/security"
)

func main() {
	cmd := cli.NewRootCommand()

	// Errors are printed once here; the root command silences cobra's own
	// error output. Paths under $HOME and credentials file names are redacted.
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", security.UserMessage(err, true))
		os.Exit(1)
	}
}
