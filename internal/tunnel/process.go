package tunnel

import (
	"context"
	"io"

	"github.com/treykane/portkeeper/internal/cloudflared"
)

// Process is a running tunnel daemon.
type Process interface {
	PID() int
	// Stderr must be drained until EOF before Wait is called.
	Stderr() io.Reader
	Wait() (int, error)
	Kill() error
}

// ControlPlane abstracts the cloudflared sub-commands for testing.
type ControlPlane interface {
	CreateTunnel(ctx context.Context, name string) error
	RouteDNS(ctx context.Context, name, hostname string) error
	TunnelInfo(ctx context.Context, name string) (cloudflared.Info, error)
	DeleteRoute(ctx context.Context, name, hostname string) error
	DeleteTunnel(ctx context.Context, name string) error
	CredentialsPath(tunnelID string) string
	Run(configPath, name string) (Process, error)
}

// NewCloudflaredPlane adapts a cloudflared client to ControlPlane.
func NewCloudflaredPlane(c *cloudflared.Client) ControlPlane {
	return cloudflaredPlane{c}
}

type cloudflaredPlane struct {
	*cloudflared.Client
}

func (p cloudflaredPlane) Run(configPath, name string) (Process, error) {
	proc, err := p.StartRun(configPath, name)
	if err != nil {
		return nil, err
	}
	return proc, nil
}
