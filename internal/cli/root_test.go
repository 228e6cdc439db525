package cli

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/treykane/portkeeper/internal/appconfig"
	"github.com/treykane/portkeeper/internal/cloudflared"
	"github.com/treykane/portkeeper/internal/events"
	"github.com/treykane/portkeeper/internal/history"
	"github.com/treykane/portkeeper/internal/ingress"
	"github.com/treykane/portkeeper/internal/model"
	"github.com/treykane/portkeeper/internal/project"
	"github.com/treykane/portkeeper/internal/tunnel"
)

func TestProjectAddListRemoveLifecycle(t *testing.T) {
	setupCLIEnv(t)

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"project", "add", "web", "--port", "3000", "--domain", "https://App.Example.com/"})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("add project: %v", err)
	}
	if !strings.Contains(out, "added web") || !strings.Contains(out, "domain=app.example.com") {
		t.Fatalf("unexpected add output: %s", out)
	}

	cmd = NewRootCommand()
	cmd.SetArgs([]string{"project", "list"})
	out, err = captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if !strings.Contains(out, "web") || !strings.Contains(out, "app.example.com") {
		t.Fatalf("expected project in list output, got: %s", out)
	}

	cmd = NewRootCommand()
	cmd.SetArgs([]string{"project", "remove", "web", "--keep-remote"})
	if _, err := captureStdout(func() error { return cmd.Execute() }); err != nil {
		t.Fatalf("remove project: %v", err)
	}
	if _, err := project.Get("web"); !errors.Is(err, project.ErrNotFound) {
		t.Fatalf("expected project to be gone, got %v", err)
	}
}

func TestProjectAddRejectsBadInput(t *testing.T) {
	setupCLIEnv(t)
	for _, args := range [][]string{
		{"project", "add", "web", "--port", "0"},
		{"project", "add", "web", "--port", "3000", "--domain", "localhost"},
		{"project", "add", "web"},
	} {
		cmd := NewRootCommand()
		cmd.SetArgs(args)
		if _, err := captureStdout(func() error { return cmd.Execute() }); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}

func TestProjectSetDomain(t *testing.T) {
	setupCLIEnv(t)
	if _, err := project.Add(model.Project{Name: "web", LocalPort: 3000}); err != nil {
		t.Fatal(err)
	}

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"project", "set-domain", "web"})
	if _, err := captureStdout(func() error { return cmd.Execute() }); err == nil {
		t.Fatal("expected error without hostname or --clear")
	}

	cmd = NewRootCommand()
	cmd.SetArgs([]string{"project", "set-domain", "web", "shop.example.com"})
	if _, err := captureStdout(func() error { return cmd.Execute() }); err != nil {
		t.Fatalf("set domain: %v", err)
	}
	p, err := project.Get("web")
	if err != nil || p.Domain != "shop.example.com" {
		t.Fatalf("domain not saved: %+v %v", p, err)
	}

	cmd = NewRootCommand()
	cmd.SetArgs([]string{"project", "set-domain", "web", "--clear"})
	if _, err := captureStdout(func() error { return cmd.Execute() }); err != nil {
		t.Fatalf("clear domain: %v", err)
	}
	if p, _ := project.Get("web"); p.Domain != "" {
		t.Fatalf("domain not cleared: %+v", p)
	}
}

func TestListRecentOrdering(t *testing.T) {
	setupCLIEnv(t)
	if _, err := project.Add(model.Project{Name: "api", LocalPort: 8080}); err != nil {
		t.Fatal(err)
	}
	db, err := project.Add(model.Project{Name: "db", LocalPort: 5432})
	if err != nil {
		t.Fatal(err)
	}

	if err := history.Touch(db.ID); err != nil {
		t.Fatal(err)
	}
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"project", "list", "--recent"})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 3 {
		t.Fatalf("unexpected output: %s", out)
	}
	if !strings.HasPrefix(lines[1], "db") {
		t.Fatalf("expected db first after header, got: %s", lines[1])
	}
}

func TestProjectListJSONReportsListening(t *testing.T) {
	setupCLIEnv(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port
	if _, err := project.Add(model.Project{Name: "live", LocalPort: port}); err != nil {
		t.Fatal(err)
	}

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"project", "list", "--json"})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("list json: %v", err)
	}
	var rows []map[string]any
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("invalid json: %v; output=%s", err, out)
	}
	if len(rows) != 1 || rows[0]["listening"] != true || rows[0]["tunnel_state"] != "down" {
		t.Fatalf("unexpected rows: %v", rows)
	}
}

func TestDoctorJSONOutput(t *testing.T) {
	setupCLIEnv(t)
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"doctor", "--json"})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("doctor json: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("invalid doctor json: %v", err)
	}
	if _, ok := payload["issues"]; !ok {
		t.Fatalf("expected issues key in doctor output: %s", out)
	}

	cmd = NewRootCommand()
	cmd.SetArgs([]string{"doctor", "--strict"})
	if _, err := captureStdout(func() error { return cmd.Execute() }); err == nil {
		t.Fatal("missing binary and login should fail --strict")
	}
}

func TestTunnelEventsJSONOutput(t *testing.T) {
	setupCLIEnv(t)
	p, err := project.Add(model.Project{Name: "api", LocalPort: 8080})
	if err != nil {
		t.Fatal(err)
	}
	store := events.NewStore()
	for _, e := range []events.Event{
		{Timestamp: time.Now().UTC(), ProjectID: p.ID, TunnelName: "portkeeper-" + p.ID, EventType: events.TypeReady, Message: "connection registered"},
		{Timestamp: time.Now().UTC(), ProjectID: "other", EventType: events.TypeStopped},
	} {
		if err := store.Append(e); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"tunnel", "events", "--project", "api", "--json"})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("events json: %v", err)
	}
	var payload []map[string]any
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("invalid events json: %v", err)
	}
	if len(payload) != 1 {
		t.Fatalf("expected 1 event, got %d", len(payload))
	}
	if payload[0]["event_type"] != "ready" {
		t.Fatalf("unexpected event: %v", payload[0]["event_type"])
	}
}

func TestTunnelUpRequiresLogin(t *testing.T) {
	setupCLIEnv(t)
	cfg := appconfig.Default()
	cfg.Cloudflared.Binary = "sh"
	if err := appconfig.Save(cfg); err != nil {
		t.Fatal(err)
	}
	if _, err := project.Add(model.Project{Name: "api", LocalPort: 8080}); err != nil {
		t.Fatal(err)
	}

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"tunnel", "up", "api"})
	_, err := captureStdout(func() error { return cmd.Execute() })
	if !errors.Is(err, cloudflared.ErrNotAuthenticated) {
		t.Fatalf("expected not-authenticated error, got %v", err)
	}
}

func TestTunnelUpNeedsProjects(t *testing.T) {
	setupCLIEnv(t)
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"tunnel", "up"})
	if _, err := captureStdout(func() error { return cmd.Execute() }); err == nil {
		t.Fatal("expected error without projects or --autostart")
	}
}

func TestTunnelDownKillsRecordedDaemon(t *testing.T) {
	setupCLIEnv(t)
	p, err := project.Add(model.Project{Name: "api", LocalPort: 8080})
	if err != nil {
		t.Fatal(err)
	}
	daemon := exec.Command("sleep", "30")
	if err := daemon.Start(); err != nil {
		t.Skipf("sleep not available: %v", err)
	}
	waited := make(chan error, 1)
	go func() { waited <- daemon.Wait() }()

	path, err := appconfig.RuntimeFilePath()
	if err != nil {
		t.Fatal(err)
	}
	if err := tunnel.WriteRuntime(path, []model.TunnelRuntime{{
		ProjectID: p.ID, ProjectName: p.Name, TunnelName: "portkeeper-" + p.ID,
		PID: daemon.Process.Pid, State: model.TunnelUp, StartedAt: time.Now(),
	}}); err != nil {
		t.Fatal(err)
	}

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"tunnel", "down", "api"})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("tunnel down: %v", err)
	}
	if !strings.Contains(out, "stopped api") {
		t.Fatalf("unexpected output: %s", out)
	}
	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		_ = daemon.Process.Kill()
		t.Fatal("daemon was not killed")
	}

	rts, err := tunnel.ReadRuntime(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(rts) != 1 || rts[0].State != model.TunnelDown || rts[0].PID != 0 {
		t.Fatalf("runtime not updated: %+v", rts)
	}

	cmd = NewRootCommand()
	cmd.SetArgs([]string{"tunnel", "down", "api"})
	out, err = captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("second tunnel down: %v", err)
	}
	if !strings.Contains(out, "not running") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestTunnelStatusJSONEmpty(t *testing.T) {
	setupCLIEnv(t)
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"tunnel", "status", "--json"})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("expected empty array, got: %s", out)
	}
}

func TestTunnelConfigBeforeFirstStart(t *testing.T) {
	setupCLIEnv(t)
	if _, err := project.Add(model.Project{Name: "api", LocalPort: 8080}); err != nil {
		t.Fatal(err)
	}
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"tunnel", "config", "api"})
	_, err := captureStdout(func() error { return cmd.Execute() })
	if err == nil || !strings.Contains(err.Error(), "start its tunnel first") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPortCheck(t *testing.T) {
	setupCLIEnv(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"port", "check", strconv.Itoa(port)})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("port check: %v", err)
	}
	if !strings.Contains(out, "listening") || strings.Contains(out, "not listening") {
		t.Fatalf("expected listening, got: %s", out)
	}

	_ = ln.Close()
	cmd = NewRootCommand()
	cmd.SetArgs([]string{"port", "check", strconv.Itoa(port)})
	out, err = captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("port check: %v", err)
	}
	if !strings.Contains(out, "not listening") {
		t.Fatalf("expected not listening, got: %s", out)
	}
}

func TestResolvePort(t *testing.T) {
	setupCLIEnv(t)
	if _, err := project.Add(model.Project{Name: "web", LocalPort: 3000}); err != nil {
		t.Fatal(err)
	}
	if port, err := resolvePort("web"); err != nil || port != 3000 {
		t.Fatalf("resolve by project: %d %v", port, err)
	}
	if port, err := resolvePort("8080"); err != nil || port != 8080 {
		t.Fatalf("resolve by number: %d %v", port, err)
	}
	if _, err := resolvePort("99999"); err == nil {
		t.Fatal("expected out of range error")
	}
	if _, err := resolvePort("nope"); err == nil {
		t.Fatal("expected unknown project error")
	}
}

func captureStdout(fn func() error) (string, error) {
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}
	os.Stdout = w
	runErr := fn()
	_ = w.Close()
	os.Stdout = orig
	b, readErr := io.ReadAll(r)
	if readErr != nil {
		return "", readErr
	}
	return string(b), runErr
}

func setupCLIEnv(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg := appconfig.Default()
	cfg.Cloudflared.Binary = "portkeeper-test-missing-cloudflared"
	if err := appconfig.Save(cfg); err != nil {
		t.Fatal(err)
	}
}

func TestTunnelConfigJSON(t *testing.T) {
	setupCLIEnv(t)
	p, err := project.Add(model.Project{Name: "api", LocalPort: 8080, Domain: "api.example.com"})
	if err != nil {
		t.Fatal(err)
	}
	dir, err := appconfig.IngressDir()
	if err != nil {
		t.Fatal(err)
	}
	doc, err := ingress.Render(ingress.Input{TunnelID: "abc-123", CredentialsFile: "/c/abc-123.json", Hostname: p.Domain, LocalPort: p.LocalPort})
	if err != nil {
		t.Fatal(err)
	}
	if err := ingress.WriteFile(ingress.Path(dir, tunnel.TunnelName("", p.ID)), doc); err != nil {
		t.Fatal(err)
	}

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"tunnel", "config", "api", "--json"})
	out, err := captureStdout(func() error { return cmd.Execute() })
	if err != nil {
		t.Fatalf("tunnel config: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("invalid json: %v; output=%s", err, out)
	}
	if payload["tunnel"] != "abc-123" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	rules, _ := payload["ingress"].([]any)
	if len(rules) != 2 {
		t.Fatalf("expected hostname rule plus catch-all, got %v", payload["ingress"])
	}
}
