// Package appconfig manages application configuration and runtime file paths.
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/treykane/portkeeper/internal/util"
	"gopkg.in/yaml.v3"
)

const appName = "portkeeper"

// CloudflaredConfig locates the tunneling daemon and its state directory.
type CloudflaredConfig struct {
	Binary                string `yaml:"binary"`
	HomeDir               string `yaml:"home_dir,omitempty"`
	CommandTimeoutSeconds int    `yaml:"command_timeout_seconds"`
}

// TunnelConfig controls tunnel naming and readiness.
type TunnelConfig struct {
	NamePrefix          string `yaml:"name_prefix"`
	ReadyTimeoutSeconds int    `yaml:"ready_timeout_seconds"`
}

// LogsConfig controls the per-project daemon log buffer.
type LogsConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// LogConfig controls portkeeper's own slog output.
type LogConfig struct {
	Level string `yaml:"level"`
}

// UIConfig contains TUI display settings.
type UIConfig struct {
	RefreshSeconds int `yaml:"refresh_seconds"`
}

// MetricsConfig enables the Prometheus endpoint when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

// Config holds application-level configuration.
type Config struct {
	Cloudflared CloudflaredConfig `yaml:"cloudflared"`
	Tunnel      TunnelConfig      `yaml:"tunnel"`
	Logs        LogsConfig        `yaml:"logs"`
	Log         LogConfig         `yaml:"log"`
	UI          UIConfig          `yaml:"ui"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Cloudflared: CloudflaredConfig{
			Binary:                "cloudflared",
			CommandTimeoutSeconds: int(util.DefaultCommandTimeout / time.Second),
		},
		Tunnel: TunnelConfig{
			NamePrefix:          util.DefaultTunnelPrefix,
			ReadyTimeoutSeconds: int(util.DefaultReadyTimeout / time.Second),
		},
		Logs: LogsConfig{BufferSize: util.DefaultLogBufferSize},
		Log:  LogConfig{Level: "info"},
		UI:   UIConfig{RefreshSeconds: util.DefaultRefreshSeconds},
	}
}

// ReadyTimeout returns the readiness bound as a duration.
func (c Config) ReadyTimeout() time.Duration {
	return time.Duration(c.Tunnel.ReadyTimeoutSeconds) * time.Second
}

// CommandTimeout returns the per-command control-plane bound as a duration.
func (c Config) CommandTimeout() time.Duration {
	return time.Duration(c.Cloudflared.CommandTimeoutSeconds) * time.Second
}

// CloudflaredHome returns the daemon's state directory, where the origin
// certificate and per-tunnel credentials files live.
func (c Config) CloudflaredHome() (string, error) {
	if strings.TrimSpace(c.Cloudflared.HomeDir) != "" {
		return expandHome(c.Cloudflared.HomeDir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".cloudflared"), nil
}

// ConfigDir returns the application config directory path.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config/portkeeper.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".config", appName), nil
}

// RuntimeFilePath returns the full path to runtime.json.
func RuntimeFilePath() (string, error) {
	return inConfigDir("runtime.json")
}

// ProjectsFilePath returns the full path to projects.yaml.
func ProjectsFilePath() (string, error) {
	return inConfigDir("projects.yaml")
}

// LogFilePath returns the full path to portkeeper.log.
func LogFilePath() (string, error) {
	return inConfigDir("portkeeper.log")
}

// IngressDir returns the directory holding rendered ingress configs.
func IngressDir() (string, error) {
	return inConfigDir("ingress")
}

// DaemonLogDir returns the directory holding per-project daemon output.
func DaemonLogDir() (string, error) {
	return inConfigDir("logs")
}

func inConfigDir(name string) (string, error) {
	d, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, name), nil
}

// Load reads config.yaml from the config directory.
// If the file doesn't exist, creates it with defaults.
func Load() (Config, error) {
	d, err := ConfigDir()
	if err != nil {
		return Config{}, err
	}
	if err := os.MkdirAll(d, 0o700); err != nil {
		return Config{}, err
	}
	path := filepath.Join(d, "config.yaml")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if err := Save(cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return Config{}, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	def := Default()
	if strings.TrimSpace(cfg.Cloudflared.Binary) == "" {
		cfg.Cloudflared.Binary = def.Cloudflared.Binary
	}
	if cfg.Cloudflared.CommandTimeoutSeconds <= 0 {
		cfg.Cloudflared.CommandTimeoutSeconds = def.Cloudflared.CommandTimeoutSeconds
	}
	cfg.Tunnel.NamePrefix = strings.Trim(strings.ToLower(strings.TrimSpace(cfg.Tunnel.NamePrefix)), "-")
	if cfg.Tunnel.NamePrefix == "" {
		cfg.Tunnel.NamePrefix = def.Tunnel.NamePrefix
	}
	if cfg.Tunnel.ReadyTimeoutSeconds <= 0 {
		cfg.Tunnel.ReadyTimeoutSeconds = def.Tunnel.ReadyTimeoutSeconds
	}
	if cfg.Logs.BufferSize <= 0 {
		cfg.Logs.BufferSize = def.Logs.BufferSize
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Log.Level)) {
	case "debug", "info", "warn", "error":
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	default:
		cfg.Log.Level = def.Log.Level
	}
	if cfg.UI.RefreshSeconds <= 0 {
		cfg.UI.RefreshSeconds = def.UI.RefreshSeconds
	}
}

// Save writes config to config.yaml.
func Save(cfg Config) error {
	d, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d, 0o700); err != nil {
		return err
	}
	path := filepath.Join(d, "config.yaml")
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}
