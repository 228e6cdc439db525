package model

import "time"

// Project is one locally running service the user wants to expose.
type Project struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	LocalPort int    `yaml:"local_port" json:"local_port"`
	Domain    string `yaml:"domain,omitempty" json:"domain,omitempty"`
	AutoStart bool   `yaml:"auto_start,omitempty" json:"auto_start,omitempty"`
}

// HasDomain reports whether the project routes a public hostname.
func (p Project) HasDomain() bool {
	return p.Domain != ""
}

func (p Project) DisplayDomain() string {
	if p.Domain == "" {
		return "-"
	}
	return p.Domain
}

type TunnelState string

const (
	TunnelDown     TunnelState = "down"
	TunnelStarting TunnelState = "starting"
	TunnelUp       TunnelState = "up"
	TunnelError    TunnelState = "error"
	TunnelStopping TunnelState = "stopping"
)

// Active reports whether the state holds a live or pending daemon process.
func (s TunnelState) Active() bool {
	return s == TunnelUp || s == TunnelStarting || s == TunnelStopping
}

type TunnelRuntime struct {
	ProjectID   string      `json:"project_id"`
	ProjectName string      `json:"project_name"`
	TunnelName  string      `json:"tunnel_name"`
	TunnelID    string      `json:"tunnel_id,omitempty"`
	Hostname    string      `json:"hostname,omitempty"`
	LocalPort   int         `json:"local_port"`
	PID         int         `json:"pid,omitempty"`
	State       TunnelState `json:"state"`
	StartedAt   time.Time   `json:"started_at,omitempty"`
	UptimeSec   int64       `json:"uptime_seconds"`
	LastError   string      `json:"last_error,omitempty"`
}

// LogEvent is one diagnostic line emitted by a tunnel daemon.
type LogEvent struct {
	ProjectID string    `json:"project_id"`
	Level     string    `json:"level,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
