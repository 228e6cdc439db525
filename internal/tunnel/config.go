package tunnel

import (
	"github.com/treykane/portkeeper/internal/appconfig"
	"github.com/treykane/portkeeper/internal/cloudflared"
	"github.com/treykane/portkeeper/internal/events"
)

// NewClient builds the cloudflared client described by cfg.
func NewClient(cfg appconfig.Config) (*cloudflared.Client, error) {
	home, err := cfg.CloudflaredHome()
	if err != nil {
		return nil, err
	}
	return cloudflared.New(cfg.Cloudflared.Binary, home, cloudflared.WithCommandTimeout(cfg.CommandTimeout())), nil
}

// NewFromConfig wires a Manager to client using the paths and timeouts in
// cfg. Status snapshots go to runtime.json.
func NewFromConfig(cfg appconfig.Config, client *cloudflared.Client, sink events.Sink) (*Manager, error) {
	runtimePath, err := appconfig.RuntimeFilePath()
	if err != nil {
		return nil, err
	}
	return newFromConfig(cfg, client, sink, runtimePath)
}

// NewDetachedFromConfig is NewFromConfig without runtime.json, for one-shot
// commands such as delete that must not overwrite the snapshot written by
// the process supervising the daemons.
func NewDetachedFromConfig(cfg appconfig.Config, client *cloudflared.Client, sink events.Sink) (*Manager, error) {
	return newFromConfig(cfg, client, sink, "")
}

func newFromConfig(cfg appconfig.Config, client *cloudflared.Client, sink events.Sink, runtimePath string) (*Manager, error) {
	ingressDir, err := appconfig.IngressDir()
	if err != nil {
		return nil, err
	}
	life := NewLifecycle(NewCloudflaredPlane(client), ingressDir, cfg.Tunnel.NamePrefix, sink)
	return NewManager(life, sink, Options{
		ReadyTimeout: cfg.ReadyTimeout(),
		RuntimePath:  runtimePath,
	}), nil
}
