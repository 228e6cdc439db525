package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_CreatesDefaults(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Cloudflared.Binary != "cloudflared" {
		t.Fatalf("unexpected binary: %s", cfg.Cloudflared.Binary)
	}
	if cfg.ReadyTimeout() != 60*time.Second {
		t.Fatalf("unexpected ready timeout: %s", cfg.ReadyTimeout())
	}
	if cfg.Logs.BufferSize != 1000 {
		t.Fatalf("unexpected log buffer size: %d", cfg.Logs.BufferSize)
	}
	if _, err := os.Stat(filepath.Join(xdg, "portkeeper", "config.yaml")); err != nil {
		t.Fatalf("expected config.yaml to be written: %v", err)
	}
}

func TestLoad_NormalizesInvalidValues(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	dir := filepath.Join(xdg, "portkeeper")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	content := []byte(strings.Join([]string{
		"cloudflared:",
		"  binary: \"\"",
		"  command_timeout_seconds: -5",
		"tunnel:",
		"  name_prefix: \" -Dev- \"",
		"  ready_timeout_seconds: 0",
		"logs:",
		"  buffer_size: -1",
		"log:",
		"  level: loud",
		"",
	}, "\n"))
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Cloudflared.Binary != "cloudflared" {
		t.Fatalf("expected default binary, got %q", cfg.Cloudflared.Binary)
	}
	if cfg.Cloudflared.CommandTimeoutSeconds != 60 {
		t.Fatalf("expected default command timeout, got %d", cfg.Cloudflared.CommandTimeoutSeconds)
	}
	if cfg.Tunnel.NamePrefix != "dev" {
		t.Fatalf("expected normalized prefix, got %q", cfg.Tunnel.NamePrefix)
	}
	if cfg.Tunnel.ReadyTimeoutSeconds != 60 {
		t.Fatalf("expected default ready timeout, got %d", cfg.Tunnel.ReadyTimeoutSeconds)
	}
	if cfg.Logs.BufferSize != 1000 {
		t.Fatalf("expected default buffer size, got %d", cfg.Logs.BufferSize)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("expected default level, got %q", cfg.Log.Level)
	}
}

func TestCloudflaredHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := Default()
	got, err := cfg.CloudflaredHome()
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(home, ".cloudflared") {
		t.Fatalf("unexpected default home: %s", got)
	}

	cfg.Cloudflared.HomeDir = "~/cf"
	got, err = cfg.CloudflaredHome()
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(home, "cf") {
		t.Fatalf("unexpected expanded home: %s", got)
	}
}
