package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/treykane/portkeeper/internal/events"
	"github.com/treykane/portkeeper/internal/history"
	"github.com/treykane/portkeeper/internal/model"
	"github.com/treykane/portkeeper/internal/procinspect"
	"github.com/treykane/portkeeper/internal/project"
	"github.com/treykane/portkeeper/internal/tunnel"
	"github.com/treykane/portkeeper/internal/util"
)

type projectRow struct {
	model.Project
	Listening bool   `json:"listening"`
	Tunnel    string `json:"tunnel_state"`
}

func newProjectCmd() *cobra.Command {
	root := &cobra.Command{Use: "project", Aliases: []string{"projects"}, Short: "Manage exposed projects"}

	var (
		port      int
		domain    string
		autoStart bool
	)
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a local service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := project.Add(model.Project{Name: args[0], LocalPort: port, Domain: domain, AutoStart: autoStart})
			if err != nil {
				return err
			}
			fmt.Printf("added %s id=%s port=%d domain=%s\n", p.Name, p.ID, p.LocalPort, p.DisplayDomain())
			return nil
		},
	}
	add.Flags().IntVar(&port, "port", 0, "local port the service listens on")
	add.Flags().StringVar(&domain, "domain", "", "public hostname to route to the tunnel")
	add.Flags().BoolVar(&autoStart, "autostart", false, "start the tunnel when the dashboard opens")
	_ = add.MarkFlagRequired("port")

	var (
		recent  bool
		jsonOut bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			projects, err := project.LoadAll()
			if err != nil {
				return err
			}
			if recent {
				lastUsed, err := history.LastUsed()
				if err != nil {
					return err
				}
				projects = history.SortProjectsRecent(projects, lastUsed)
			}
			states := map[string]model.TunnelState{}
			if rts, _, err := readRuntime(); err == nil {
				for _, rt := range rts {
					states[rt.ProjectID] = rt.State
				}
			}
			rows := make([]projectRow, 0, len(projects))
			for _, p := range projects {
				state := states[p.ID]
				if state == "" {
					state = model.TunnelDown
				}
				rows = append(rows, projectRow{Project: p, Listening: procinspect.Listening(p.LocalPort), Tunnel: string(state)})
			}
			if jsonOut {
				return printJSON(rows)
			}
			fmt.Printf("%-20s %-8s %-10s %-32s %-10s %s\n", "NAME", "PORT", "LISTENING", "DOMAIN", "TUNNEL", "AUTOSTART")
			for _, r := range rows {
				fmt.Printf("%-20s %-8d %-10s %-32s %-10s %s\n", util.Truncate(r.Name, 20), r.LocalPort, yesNo(r.Listening), r.DisplayDomain(), r.Tunnel, yesNo(r.AutoStart))
			}
			return nil
		},
	}
	list.Flags().BoolVar(&recent, "recent", false, "most recently started first")
	list.Flags().BoolVar(&jsonOut, "json", false, "output JSON")

	var keepRemote bool
	remove := &cobra.Command{
		Use:     "remove <project>",
		Aliases: []string{"rm"},
		Short:   "Stop a project's tunnel, delete it remotely and forget the project",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := project.Get(args[0])
			if err != nil {
				return err
			}
			if _, err := stopRecorded(p.ID); err != nil {
				return err
			}
			if !keepRemote {
				if err := deleteRemote(commandContext(cmd), p); err != nil {
					return err
				}
			}
			if _, err := project.Remove(p.ID); err != nil {
				return err
			}
			if err := history.Forget(p.ID); err != nil {
				slog.Warn("failed to forget project history", "project_id", p.ID, "error", err)
			}
			fmt.Printf("removed %s\n", p.Name)
			return nil
		},
	}
	remove.Flags().BoolVar(&keepRemote, "keep-remote", false, "leave the named tunnel and DNS route in place")

	var clearDomain bool
	setDomain := &cobra.Command{
		Use:   "set-domain <project> [hostname]",
		Short: "Change or clear the public hostname of a project",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			host := ""
			switch {
			case clearDomain && len(args) == 2:
				return errors.New("pass a hostname or --clear, not both")
			case !clearDomain && len(args) == 1:
				return errors.New("hostname required (or --clear)")
			case len(args) == 2:
				host = args[1]
			}
			p, err := project.SetDomain(args[0], host)
			if err != nil {
				return err
			}
			fmt.Printf("%s domain=%s (restart the tunnel to apply)\n", p.Name, p.DisplayDomain())
			return nil
		},
	}
	setDomain.Flags().BoolVar(&clearDomain, "clear", false, "remove the hostname")

	var on, off bool
	autostart := &cobra.Command{
		Use:   "autostart <project>",
		Short: "Turn autostart on or off",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if on == off {
				return errors.New("pass exactly one of --on or --off")
			}
			p, err := project.SetAutoStart(args[0], on)
			if err != nil {
				return err
			}
			fmt.Printf("%s autostart=%s\n", p.Name, yesNo(p.AutoStart))
			return nil
		},
	}
	autostart.Flags().BoolVar(&on, "on", false, "enable autostart")
	autostart.Flags().BoolVar(&off, "off", false, "disable autostart")

	root.AddCommand(add, list, remove, setDomain, autostart)
	return root
}

// deleteRemote removes the project's named tunnel, DNS route and local
// ingress file. Remote failures are journaled but do not abort.
func deleteRemote(ctx context.Context, p model.Project) error {
	cfg, client, err := loadClient()
	if err != nil {
		return err
	}
	if err := client.EnsureBinary(); err != nil {
		return err
	}
	if err := client.CheckAuth(); err != nil {
		return err
	}
	mgr, err := tunnel.NewDetachedFromConfig(cfg, client, events.Multi{events.NewStore(), stderrPrinter(false)})
	if err != nil {
		return err
	}
	defer mgr.Close()
	return mgr.Delete(ctx, p.ID, p.Domain)
}
