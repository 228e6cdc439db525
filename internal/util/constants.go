// Package util provides common utility functions and constants used across the
// portkeeper application. This package is intentionally kept dependency-free
// (no imports from other internal/* packages) to serve as a shared foundation
// without introducing circular dependencies.
package util

import "time"

const (
	// DefaultReadyTimeout bounds how long a start waits for the daemon to
	// report a registered connection before the process is killed.
	// Used by: internal/appconfig (Default, Load) and internal/tunnel.
	DefaultReadyTimeout = 60 * time.Second

	// DefaultCommandTimeout bounds a single cloudflared control-plane call
	// (create, route, info, delete).
	DefaultCommandTimeout = 60 * time.Second

	// StopWaitTimeout is how long Stop waits for a killed daemon to be reaped
	// before giving up on the watcher goroutine.
	StopWaitTimeout = 5 * time.Second

	// DefaultLogBufferSize is the number of log lines kept per project.
	DefaultLogBufferSize = 1000

	// DefaultTunnelPrefix is prepended to every derived tunnel name so
	// portkeeper tunnels are recognizable in the provider dashboard.
	DefaultTunnelPrefix = "portkeeper"

	// PortProbeTimeout bounds the TCP dial used to decide whether a project's
	// local service is listening.
	PortProbeTimeout = 500 * time.Millisecond

	// DefaultRefreshSeconds is the fallback interval (in seconds) for the TUI
	// dashboard's periodic status and port refresh.
	// Used by: internal/ui/ui.go (tickCmd, clampRefresh) and
	//          internal/appconfig/config.go (Default, Load).
	DefaultRefreshSeconds = 3
)
