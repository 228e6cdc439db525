package security

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/treykane/portkeeper/internal/appconfig"
)

func TestRunLocalAudit_FindsPublicMetricsBind(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := appconfig.Default()
	cfg.Metrics.ListenAddr = "0.0.0.0:9090"
	if err := appconfig.Save(cfg); err != nil {
		t.Fatal(err)
	}

	report, err := RunLocalAudit()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range report.Findings {
		if f.Target == "config.yaml" && strings.Contains(f.Message, "metrics") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected metrics bind finding, got %+v", report.Findings)
	}
	if report.HasHigh() {
		t.Fatal("metrics bind should not be high severity")
	}
}

func TestRunLocalAudit_FlagsReadableCredentials(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfHome := filepath.Join(home, ".cloudflared")
	if err := os.MkdirAll(cfHome, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfHome, "cert.pem"), []byte("cert"), 0o644); err != nil {
		t.Fatal(err)
	}
	creds := filepath.Join(cfHome, "6ff42ae2-765d-4adf-8112-31c55c1551ef.json")
	if err := os.WriteFile(creds, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}

	report, err := RunLocalAudit()
	if err != nil {
		t.Fatal(err)
	}
	if !report.HasHigh() {
		t.Fatalf("expected high severity finding for cert.pem, got %+v", report.Findings)
	}
	if report.Findings[0].Target != filepath.Join(cfHome, "cert.pem") {
		t.Fatalf("expected cert.pem first, got %+v", report.Findings[0])
	}
	for _, f := range report.Findings {
		if f.Target == creds {
			t.Fatalf("owner-only credentials should not be flagged: %+v", f)
		}
	}
}

func TestRedactMessage(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	msg := home + "/.cloudflared/6ff42ae2-765d-4adf-8112-31c55c1551ef.json: permission denied"
	got := RedactMessage(msg)
	want := "~/.cloudflared/[redacted].json: permission denied"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestUserAndDebugMessage(t *testing.T) {
	err := NewClassifiedError("could not start tunnel", "create step failed: exit status 1")
	if got := UserMessage(err, false); got != "could not start tunnel" {
		t.Fatalf("unexpected user message %q", got)
	}
	if got := DebugMessage(err); !strings.Contains(got, "exit status 1") {
		t.Fatalf("unexpected debug message %q", got)
	}
	if got := UserMessage(errors.New("plain"), true); got != "plain" {
		t.Fatalf("unexpected plain message %q", got)
	}
}
