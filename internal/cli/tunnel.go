package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/treykane/portkeeper/internal/appconfig"
	"github.com/treykane/portkeeper/internal/events"
	"github.com/treykane/portkeeper/internal/history"
	"github.com/treykane/portkeeper/internal/ingress"
	"github.com/treykane/portkeeper/internal/metrics"
	"github.com/treykane/portkeeper/internal/model"
	"github.com/treykane/portkeeper/internal/project"
	"github.com/treykane/portkeeper/internal/security"
	"github.com/treykane/portkeeper/internal/tunnel"
	"github.com/treykane/portkeeper/internal/util"
)

func newTunnelCmd() *cobra.Command {
	var root = &cobra.Command{Use: "tunnel", Short: "Manage Cloudflare tunnels"}

	var (
		autoStart  bool
		showLogs   bool
		metricsArg string
	)
	up := &cobra.Command{
		Use:   "up [project...]",
		Short: "Run tunnels in the foreground until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !autoStart {
				return errors.New("name at least one project or pass --autostart")
			}
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
			projects, err := projectsToRun(args, autoStart)
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				return errors.New("no projects have autostart enabled")
			}

			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sinks := events.Multi{events.NewStore(), stderrPrinter(showLogs)}
			if dir, err := appconfig.DaemonLogDir(); err == nil {
				daemonLog := events.NewDaemonLog(dir)
				defer daemonLog.Close()
				sinks = append(sinks, daemonLog)
			}
			addr := util.DefaultString(metricsArg, cfg.Metrics.ListenAddr)
			if strings.TrimSpace(addr) != "" {
				ms := metrics.NewSink()
				sinks = append(sinks, ms)
				go func() {
					if err := ms.Serve(ctx, addr); err != nil {
						slog.Warn("metrics endpoint stopped", "addr", addr, "error", err)
					}
				}()
			}

			mgr, err := tunnel.NewFromConfig(cfg, client, sinks)
			if err != nil {
				return err
			}
			defer func() { _ = mgr.Close() }()

			failed := mgr.StartAll(ctx, forceAutoStart(projects))
			for _, p := range projects {
				if err, bad := failed[p.ID]; bad {
					fmt.Fprintf(os.Stderr, "start %s failed: %s\n", p.Name, security.UserMessage(err, true))
					continue
				}
				_ = history.Touch(p.ID)
				rt, _ := mgr.Get(p.ID)
				fmt.Printf("up %s tunnel=%s pid=%d %s\n", p.Name, rt.TunnelName, rt.PID, publicURL(p))
			}
			if len(failed) == len(projects) {
				return fmt.Errorf("no tunnel could be started")
			}

			waitForTunnels(ctx, mgr)
			fmt.Println("stopping tunnels")
			return mgr.Close()
		},
	}
	up.Flags().BoolVar(&autoStart, "autostart", false, "run every project with autostart enabled")
	up.Flags().BoolVar(&showLogs, "logs", false, "print daemon log lines")
	up.Flags().StringVar(&metricsArg, "metrics-addr", "", "serve Prometheus metrics on this address")

	down := &cobra.Command{
		Use:   "down <project>",
		Short: "Stop a project's tunnel daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := project.Get(args[0])
			if err != nil {
				return err
			}
			found, err := stopRecorded(p.ID)
			if err != nil {
				return err
			}
			if !found {
				fmt.Printf("%s: tunnel not running\n", p.Name)
				return nil
			}
			fmt.Printf("stopped %s\n", p.Name)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <project>",
		Short: "Stop the tunnel and delete it with its DNS route; keep the project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := project.Get(args[0])
			if err != nil {
				return err
			}
			if _, err := stopRecorded(p.ID); err != nil {
				return err
			}
			if err := deleteRemote(commandContext(cmd), p); err != nil {
				return err
			}
			fmt.Printf("deleted tunnel for %s\n", p.Name)
			return nil
		},
	}

	var jsonOut bool
	status := &cobra.Command{
		Use:   "status",
		Short: "Show tunnel status",
		RunE: func(cmd *cobra.Command, args []string) error {
			rts, _, err := readRuntime()
			if err != nil {
				return err
			}
			if rts == nil {
				rts = []model.TunnelRuntime{}
			}
			if jsonOut {
				return printJSON(rts)
			}
			fmt.Printf("%-20s %-32s %-28s %-10s %-8s %-10s\n", "PROJECT", "TUNNEL", "HOSTNAME", "STATE", "PID", "UPTIME")
			for _, rt := range rts {
				fmt.Printf("%-20s %-32s %-28s %-10s %-8d %-10s\n", util.Truncate(rt.ProjectName, 20), rt.TunnelName, util.EmptyDash(rt.Hostname), rt.State, rt.PID, uptime(rt))
			}
			return nil
		},
	}
	status.Flags().BoolVar(&jsonOut, "json", false, "output JSON")

	var (
		projectRef string
		eventType  string
		limit      int
		eventsJSON bool
	)
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Show the tunnel event journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := events.Query{EventType: events.Type(eventType), Limit: limit}
			if projectRef != "" {
				p, err := project.Get(projectRef)
				if err != nil {
					return err
				}
				q.ProjectID = p.ID
			}
			evts, err := events.NewStore().Read(q)
			if err != nil {
				return err
			}
			if eventsJSON {
				if evts == nil {
					evts = []events.Event{}
				}
				return printJSON(evts)
			}
			fmt.Printf("%-20s %-32s %-16s %-8s %s\n", "TIME", "TUNNEL", "EVENT", "PID", "MESSAGE")
			for _, e := range evts {
				fmt.Printf("%-20s %-32s %-16s %-8d %s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"), util.EmptyDash(e.TunnelName), e.EventType, e.PID, security.RedactMessage(e.Message))
			}
			return nil
		},
	}
	eventsCmd.Flags().StringVar(&projectRef, "project", "", "only events for this project")
	eventsCmd.Flags().StringVar(&eventType, "type", "", "only events of this type (starting, ready, failed, stopped, unexpected_exit, deleted, cleanup_failed)")
	eventsCmd.Flags().IntVar(&limit, "limit", 50, "most recent events to show (0 for all)")
	eventsCmd.Flags().BoolVar(&eventsJSON, "json", false, "output JSON")

	var lines int
	logs := &cobra.Command{
		Use:   "logs <project>",
		Short: "Show the daemon output of a project's latest run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := project.Get(args[0])
			if err != nil {
				return err
			}
			dir, err := appconfig.DaemonLogDir()
			if err != nil {
				return err
			}
			out, err := events.TailDaemonLog(dir, p.ID, lines)
			if err != nil {
				return err
			}
			if len(out) == 0 {
				fmt.Fprintf(os.Stderr, "no daemon output recorded for %s\n", p.Name)
				return nil
			}
			for _, l := range out {
				fmt.Println(security.RedactMessage(l))
			}
			return nil
		},
	}
	logs.Flags().IntVarP(&lines, "lines", "n", 100, "number of lines")

	var configJSON bool
	configCmd := &cobra.Command{
		Use:   "config <project>",
		Short: "Print the ingress configuration written for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := project.Get(args[0])
			if err != nil {
				return err
			}
			dir, err := appconfig.IngressDir()
			if err != nil {
				return err
			}
			cfg, err := appconfig.Load()
			if err != nil {
				return err
			}
			name := tunnel.TunnelName(cfg.Tunnel.NamePrefix, p.ID)
			b, err := os.ReadFile(ingress.Path(dir, name))
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("no ingress config for %s yet; start its tunnel first", p.Name)
				}
				return err
			}
			if !configJSON {
				fmt.Print(security.RedactMessage(string(b)))
				return nil
			}
			doc, err := ingress.Parse(b)
			if err != nil {
				return err
			}
			rules := make([]map[string]string, 0, len(doc.Ingress))
			for _, r := range doc.Ingress {
				rules = append(rules, map[string]string{"hostname": r.Hostname, "service": r.Service})
			}
			return printJSON(map[string]any{
				"tunnel":           doc.Tunnel,
				"credentials_file": security.RedactMessage(doc.CredentialsFile),
				"ingress":          rules,
			})
		},
	}
	configCmd.Flags().BoolVar(&configJSON, "json", false, "output the parsed config as JSON")

	root.AddCommand(up, down, del, status, eventsCmd, logs, configCmd)
	return root
}

func projectsToRun(refs []string, autoStart bool) ([]model.Project, error) {
	if len(refs) > 0 {
		return resolveProjects(refs)
	}
	all, err := project.LoadAll()
	if err != nil {
		return nil, err
	}
	var out []model.Project
	for _, p := range all {
		if p.AutoStart || !autoStart {
			out = append(out, p)
		}
	}
	return out, nil
}

// forceAutoStart marks every project so StartAll runs projects named
// explicitly on the command line too.
func forceAutoStart(projects []model.Project) []model.Project {
	out := make([]model.Project, len(projects))
	for i, p := range projects {
		p.AutoStart = true
		out[i] = p
	}
	return out
}

// waitForTunnels blocks until ctx is cancelled or no tunnel remains.
func waitForTunnels(ctx context.Context, mgr *tunnel.Manager) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if len(mgr.Snapshot()) == 0 {
				return
			}
		}
	}
}

// stderrPrinter reports lifecycle events on stderr, plus daemon log lines
// when withLogs is set.
func stderrPrinter(withLogs bool) events.Sink {
	return events.SinkFunc(func(e events.Event) {
		if e.EventType == events.TypeLog {
			if withLogs {
				fmt.Fprintf(os.Stderr, "%s | %s\n", e.TunnelName, security.RedactMessage(e.Message))
			}
			return
		}
		msg := e.Message
		if e.EventType == events.TypeUnexpectedExit || e.EventType == events.TypeFailed {
			msg = fmt.Sprintf("%s (exit code %d)", msg, e.ExitCode)
		}
		fmt.Fprintf(os.Stderr, "%s %-16s %s %s\n", e.Timestamp.Local().Format("15:04:05"), e.EventType, e.TunnelName, security.RedactMessage(strings.TrimSpace(msg)))
	})
}

func publicURL(p model.Project) string {
	if !p.HasDomain() {
		return fmt.Sprintf("http://localhost:%d (no public hostname)", p.LocalPort)
	}
	return "https://" + p.Domain
}

func uptime(rt model.TunnelRuntime) string {
	if rt.State != model.TunnelUp || rt.StartedAt.IsZero() {
		return "-"
	}
	return time.Since(rt.StartedAt).Round(time.Second).String()
}
