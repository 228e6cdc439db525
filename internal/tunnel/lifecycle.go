package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/treykane/portkeeper/internal/cloudflared"
	"github.com/treykane/portkeeper/internal/events"
	"github.com/treykane/portkeeper/internal/ingress"
	"github.com/treykane/portkeeper/internal/util"
)

// Request describes the tunnel to bring up for one project.
type Request struct {
	ProjectID string
	LocalPort int
	// Domain is the public hostname. Empty means no DNS route.
	Domain string
}

// Identity is what the lifecycle resolved for one start. RemoteID and
// ConfigPath are resolved again on every start.
type Identity struct {
	Name            string
	RemoteID        string
	CredentialsPath string
	ConfigPath      string
	Hostname        string
}

// Lifecycle runs the control-plane steps that precede and follow a tunnel
// daemon's lifetime. It holds no per-project state.
type Lifecycle struct {
	plane      ControlPlane
	ingressDir string
	prefix     string
	sink       events.Sink
	now        func() time.Time
}

// NewLifecycle creates a lifecycle writing ingress files under ingressDir.
func NewLifecycle(plane ControlPlane, ingressDir, prefix string, sink events.Sink) *Lifecycle {
	if sink == nil {
		sink = events.Discard
	}
	return &Lifecycle{
		plane:      plane,
		ingressDir: ingressDir,
		prefix:     util.DefaultString(prefix, util.DefaultTunnelPrefix),
		sink:       sink,
		now:        time.Now,
	}
}

// TunnelName is the remote tunnel name used for projectID.
func (l *Lifecycle) TunnelName(projectID string) string {
	return TunnelName(l.prefix, projectID)
}

// ConfigPath is where the ingress file for projectID lives.
func (l *Lifecycle) ConfigPath(projectID string) string {
	return ingress.Path(l.ingressDir, l.TunnelName(projectID))
}

// Prepare creates the remote tunnel, routes DNS, resolves the tunnel id and
// writes the ingress file. Nothing is retried.
func (l *Lifecycle) Prepare(ctx context.Context, req Request) (Identity, error) {
	id := Identity{
		Name:       l.TunnelName(req.ProjectID),
		ConfigPath: l.ConfigPath(req.ProjectID),
		Hostname:   req.Domain,
	}

	if err := l.plane.CreateTunnel(ctx, id.Name); err != nil && !cloudflared.IsAlreadyExists(err) {
		return Identity{}, &StepError{Step: StepCreate, Err: err}
	}

	if id.Hostname != "" {
		if err := l.plane.RouteDNS(ctx, id.Name, id.Hostname); err != nil && !cloudflared.IsAlreadyExists(err) {
			slog.Warn("dns route failed; continuing", "tunnel", id.Name, "hostname", id.Hostname, "error", err)
			l.sink.Publish(events.Event{
				Timestamp:  l.now(),
				ProjectID:  req.ProjectID,
				TunnelName: id.Name,
				EventType:  events.TypeLog,
				Level:      "WRN",
				Message:    fmt.Sprintf("dns route for %s failed: %v", id.Hostname, err),
			})
		}
	}

	info, err := l.plane.TunnelInfo(ctx, id.Name)
	if err != nil {
		if errors.Is(err, cloudflared.ErrNoTunnelID) {
			return Identity{}, fmt.Errorf("%w: %w", ErrIdentifierResolution, err)
		}
		return Identity{}, &StepError{Step: StepInfo, Err: err}
	}
	id.RemoteID = info.ID
	id.CredentialsPath = l.plane.CredentialsPath(info.ID)

	doc, err := ingress.Render(ingress.Input{
		TunnelID:        id.RemoteID,
		CredentialsFile: id.CredentialsPath,
		Hostname:        id.Hostname,
		LocalPort:       req.LocalPort,
	})
	if err != nil {
		return Identity{}, &StepError{Step: StepConfig, Err: err}
	}
	if err := ingress.WriteFile(id.ConfigPath, doc); err != nil {
		return Identity{}, &StepError{Step: StepConfig, Err: err}
	}
	return id, nil
}

// Launch spawns the long-running daemon for a prepared identity.
func (l *Lifecycle) Launch(id Identity) (Process, error) {
	proc, err := l.plane.Run(id.ConfigPath, id.Name)
	if err != nil {
		return nil, &LaunchError{Err: err}
	}
	return proc, nil
}

// Teardown removes the DNS route (when domain is set), force-deletes the
// remote tunnel and removes the ingress file. Every step runs regardless of
// earlier failures; the failures are returned as CleanupErrors.
func (l *Lifecycle) Teardown(ctx context.Context, projectID, domain string) []error {
	name := l.TunnelName(projectID)
	var errs []error
	if domain != "" {
		if err := l.plane.DeleteRoute(ctx, name, domain); err != nil {
			errs = append(errs, &CleanupError{Step: StepDeleteRoute, Err: err})
		}
	}
	if err := l.plane.DeleteTunnel(ctx, name); err != nil {
		errs = append(errs, &CleanupError{Step: StepDeleteTunnel, Err: err})
	}
	if err := ingress.Remove(l.ConfigPath(projectID)); err != nil {
		errs = append(errs, &CleanupError{Step: StepRemoveConfig, Err: err})
	}
	return errs
}
