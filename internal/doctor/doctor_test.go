package doctor

import (
	"encoding/json"
	"os/exec"
	"testing"

	"github.com/treykane/portkeeper/internal/appconfig"
	"github.com/treykane/portkeeper/internal/model"
	"github.com/treykane/portkeeper/internal/project"
	"github.com/treykane/portkeeper/internal/tunnel"
)

func setup(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg := appconfig.Default()
	cfg.Cloudflared.Binary = "portkeeper-test-missing-cloudflared"
	if err := appconfig.Save(cfg); err != nil {
		t.Fatal(err)
	}
}

func hasCheck(issues []Issue, check string) bool {
	for _, issue := range issues {
		if issue.Check == check {
			return true
		}
	}
	return false
}

func TestRunReportsMissingBinaryAndAuth(t *testing.T) {
	setup(t)
	report, err := Run()
	if err != nil {
		t.Fatal(err)
	}
	if !hasCheck(report.Issues, "cloudflared-binary") || !hasCheck(report.Issues, "cloudflared-auth") {
		t.Fatalf("expected binary and auth issues, got %+v", report.Issues)
	}
	if !report.HasHigh() {
		t.Fatal("expected high severity issues")
	}
	if report.Issues[0].Severity != SeverityHigh {
		t.Fatalf("expected issues sorted by severity, got %+v", report.Issues)
	}
}

func TestRunIncludesDuplicateProjectIssues(t *testing.T) {
	setup(t)
	for _, p := range []model.Project{
		{Name: "api", LocalPort: 9601, Domain: "api.example.com"},
		{Name: "admin", LocalPort: 9601, Domain: "api.example.com"},
	} {
		if _, err := project.Add(p); err != nil {
			t.Fatal(err)
		}
	}

	report, err := Run()
	if err != nil {
		t.Fatal(err)
	}
	if !hasCheck(report.Issues, "duplicate-local-port") {
		t.Fatalf("expected duplicate-local-port issue, got %+v", report.Issues)
	}
	if !hasCheck(report.Issues, "duplicate-domain") {
		t.Fatalf("expected duplicate-domain issue, got %+v", report.Issues)
	}
}

func TestProjectIssuesFlagsIdleAndInvalid(t *testing.T) {
	issues := projectIssues([]model.Project{
		{Name: "a", LocalPort: 3000, Domain: "bad_host"},
		{Name: "b", LocalPort: 3001, Domain: "b.example.com"},
		{Name: "c", LocalPort: 3002},
	}, func(port int) bool { return port == 3001 })

	if !hasCheck(issues, "invalid-domain") {
		t.Fatalf("expected invalid-domain issue, got %+v", issues)
	}
	idle := 0
	for _, i := range issues {
		if i.Check == "local-port-idle" {
			idle++
			if i.Target != "a" {
				t.Fatalf("unexpected idle target %q", i.Target)
			}
		}
	}
	if idle != 1 {
		t.Fatalf("expected one idle port issue, got %d", idle)
	}
}

func TestRunReportsStaleRuntime(t *testing.T) {
	setup(t)
	cmd := exec.Command("sh", "-c", "exit 0")
	if err := cmd.Run(); err != nil {
		t.Fatal(err)
	}
	path, err := appconfig.RuntimeFilePath()
	if err != nil {
		t.Fatal(err)
	}
	if err := tunnel.WriteRuntime(path, []model.TunnelRuntime{
		{ProjectID: "gone", TunnelName: "portkeeper-gone", PID: cmd.Process.Pid, State: model.TunnelUp},
	}); err != nil {
		t.Fatal(err)
	}

	report, err := Run()
	if err != nil {
		t.Fatal(err)
	}
	if !hasCheck(report.Issues, "runtime-stale") || !hasCheck(report.Issues, "runtime-orphan") {
		t.Fatalf("expected stale and orphan runtime issues, got %+v", report.Issues)
	}

	b, err := json.Marshal(report)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatal(err)
	}
	if _, ok := decoded["issues"]; !ok {
		t.Fatalf("expected issues key in json output: %s", string(b))
	}
}
