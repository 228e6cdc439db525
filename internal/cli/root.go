// Package cli provides the command-line interface for portkeeper.
package cli

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/treykane/portkeeper/internal/appconfig"
	"github.com/treykane/portkeeper/internal/cloudflared"
	"github.com/treykane/portkeeper/internal/logging"
	"github.com/treykane/portkeeper/internal/model"
	"github.com/treykane/portkeeper/internal/procinspect"
	"github.com/treykane/portkeeper/internal/project"
	"github.com/treykane/portkeeper/internal/tunnel"
	"github.com/treykane/portkeeper/internal/ui"
)

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:           "portkeeper",
		Short:         "Expose local services through Cloudflare named tunnels",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if logLevel != "" {
				logging.Setup(logLevel, os.Stderr)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return ui.Run()
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log to stderr at this level (debug, info, warn, error)")

	root.AddCommand(newProjectCmd())
	root.AddCommand(newTunnelCmd())
	root.AddCommand(newLoginCmd())
	root.AddCommand(newAuthCmd())
	root.AddCommand(newDoctorCmd())
	root.AddCommand(newPortCmd())
	return root
}

// loadClient reads config.yaml and builds the cloudflared client it names.
func loadClient() (appconfig.Config, *cloudflared.Client, error) {
	cfg, err := appconfig.Load()
	if err != nil {
		return appconfig.Config{}, nil, err
	}
	client, err := tunnel.NewClient(cfg)
	if err != nil {
		return appconfig.Config{}, nil, err
	}
	return cfg, client, nil
}

func resolveProjects(refs []string) ([]model.Project, error) {
	out := make([]model.Project, 0, len(refs))
	for _, ref := range refs {
		p, err := project.Get(ref)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readRuntime returns the tunnels recorded by whichever portkeeper process
// owns them.
func readRuntime() ([]model.TunnelRuntime, string, error) {
	path, err := appconfig.RuntimeFilePath()
	if err != nil {
		return nil, "", err
	}
	rts, err := tunnel.ReadRuntime(path)
	return rts, path, err
}

// stopRecorded kills the daemon recorded for projectID in runtime.json and
// marks it down. It reports whether a live daemon was found.
func stopRecorded(projectID string) (bool, error) {
	rts, path, err := readRuntime()
	if err != nil {
		return false, err
	}
	found := false
	for i := range rts {
		if rts[i].ProjectID != projectID || rts[i].PID <= 0 {
			continue
		}
		if err := procinspect.Kill(rts[i].PID); err != nil {
			return false, err
		}
		slog.Info("killed tunnel daemon", "project_id", projectID, "pid", rts[i].PID)
		rts[i].State = model.TunnelDown
		rts[i].PID = 0
		rts[i].UptimeSec = 0
		found = true
	}
	if !found {
		return false, nil
	}
	return true, tunnel.WriteRuntime(path, rts)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
