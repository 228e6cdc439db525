package logging

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/treykane/portkeeper/internal/appconfig"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupFiltersByLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	Setup("warn", &buf)
	slog.Info("hidden")
	slog.Warn("tunnel start failed", "project", "p1")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered: %s", out)
	}
	if !strings.Contains(out, "project=p1") {
		t.Fatalf("expected key/value output, got %s", out)
	}
}

func TestSetupFileWritesLogFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	closeFn, err := SetupFile("info")
	if err != nil {
		t.Fatal(err)
	}
	slog.Info("dashboard opened")
	if err := closeFn(); err != nil {
		t.Fatal(err)
	}
	path, err := appconfig.LogFilePath()
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "dashboard opened") {
		t.Fatalf("log file missing entry: %s", b)
	}
}
