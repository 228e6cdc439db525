// Package tunnel manages cloudflared tunnel lifecycle, persistence, and
// process supervision for projects.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/treykane/portkeeper/internal/events"
	"github.com/treykane/portkeeper/internal/model"
	"github.com/treykane/portkeeper/internal/util"
	"github.com/treykane/portkeeper/internal/watcher"
)

// startAllLimit bounds how many autostart tunnels run their control-plane
// steps at once.
const startAllLimit = 4

// Options tunes a Manager. Zero values fall back to package defaults.
type Options struct {
	// ReadyTimeout bounds how long Start waits for the daemon to register a
	// connection.
	ReadyTimeout time.Duration
	// StopTimeout bounds how long Stop waits for a killed daemon to be reaped.
	StopTimeout time.Duration
	ReadyMarker string
	// RuntimePath is where status snapshots are written. Empty disables
	// persistence.
	RuntimePath string
}

// Manager is the registry of tunnel daemons, at most one per project.
type Manager struct {
	mu      sync.Mutex
	life    *Lifecycle
	sink    events.Sink
	opts    Options
	handles map[string]*handle
	closed  bool
	now     func() time.Time

	persistMu sync.Mutex
}

// handle tracks one project's tunnel. While settling is true a start or a
// delete owns the entry and settled is still open.
type handle struct {
	rt       model.TunnelRuntime
	proc     Process
	deleting bool
	settling bool
	settled  chan struct{}
	// done is closed once the daemon has been reaped.
	done     chan struct{}
	ready    bool
	stopped  bool
	exited   bool
	exitCode int
}

// NewManager creates a new tunnel manager.
func NewManager(life *Lifecycle, sink events.Sink, opts Options) *Manager {
	if sink == nil {
		sink = events.Discard
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = util.DefaultReadyTimeout
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = util.StopWaitTimeout
	}
	return &Manager{
		life:    life,
		sink:    sink,
		opts:    opts,
		handles: make(map[string]*handle),
		now:     time.Now,
	}
}

// TunnelName returns the remote tunnel name used for projectID.
func (m *Manager) TunnelName(projectID string) string {
	return m.life.TunnelName(projectID)
}

// ConfigPath returns the ingress file path used for projectID.
func (m *Manager) ConfigPath(projectID string) string {
	return m.life.ConfigPath(projectID)
}

// Start brings up the tunnel for p and blocks until the daemon registers its
// first connection. A second Start for the same project fails fast with
// ErrAlreadyRunning; it never queues.
func (m *Manager) Start(ctx context.Context, p model.Project) (model.TunnelRuntime, error) {
	if strings.TrimSpace(p.ID) == "" {
		return model.TunnelRuntime{}, errors.New("project id is required")
	}
	if err := util.ValidatePort(p.LocalPort); err != nil {
		return model.TunnelRuntime{}, fmt.Errorf("invalid local port: %w", err)
	}
	domain := util.NormalizeHostname(p.Domain)
	if domain != "" {
		if err := util.ValidateHostname(domain); err != nil {
			return model.TunnelRuntime{}, fmt.Errorf("invalid domain: %w", err)
		}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return model.TunnelRuntime{}, ErrClosed
	}
	if cur, ok := m.handles[p.ID]; ok {
		m.mu.Unlock()
		if cur.deleting {
			return model.TunnelRuntime{}, ErrBusy
		}
		return model.TunnelRuntime{}, ErrAlreadyRunning
	}
	h := &handle{
		rt: model.TunnelRuntime{
			ProjectID:   p.ID,
			ProjectName: p.Name,
			TunnelName:  m.life.TunnelName(p.ID),
			Hostname:    domain,
			LocalPort:   p.LocalPort,
			State:       model.TunnelStarting,
			StartedAt:   m.now(),
		},
		settling: true,
		settled:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	m.handles[p.ID] = h
	starting := h.rt
	m.mu.Unlock()

	m.publish(starting, events.TypeStarting, "", 0)
	m.persist()

	ident, err := m.life.Prepare(ctx, Request{ProjectID: p.ID, LocalPort: p.LocalPort, Domain: domain})
	if err != nil {
		return m.failStart(h, err)
	}
	proc, err := m.life.Launch(ident)
	if err != nil {
		return m.failStart(h, err)
	}

	m.mu.Lock()
	h.proc = proc
	h.rt.TunnelID = ident.RemoteID
	h.rt.PID = proc.PID()
	launched := h.rt
	m.mu.Unlock()

	ready := make(chan error, 1)
	stream := watcher.Watch(proc.Stderr(), proc.Wait, watcher.Options{ReadyMarker: m.opts.ReadyMarker, Now: m.now})
	go m.supervise(h, launched, stream, ready)

	timer := time.NewTimer(m.opts.ReadyTimeout)
	defer timer.Stop()
	select {
	case err := <-ready:
		if err != nil {
			return m.failStart(h, err)
		}
	case <-timer.C:
		m.kill(h, proc)
		return m.failStart(h, &ReadinessError{ExitCode: -1, Err: ErrReadyTimeout})
	case <-ctx.Done():
		m.kill(h, proc)
		return m.failStart(h, &ReadinessError{ExitCode: -1, Err: ctx.Err()})
	}

	m.mu.Lock()
	h.settling = false
	h.ready = true
	h.rt.State = model.TunnelUp
	up := h.rt
	gone := h.exited
	if gone {
		// The daemon died between registering and this goroutine observing it.
		if m.handles[p.ID] == h {
			delete(m.handles, p.ID)
		}
		h.rt.State = model.TunnelDown
		h.rt.PID = 0
	}
	down, code := h.rt, h.exitCode
	close(h.settled)
	m.mu.Unlock()

	slog.Info("tunnel ready", "project", p.ID, "tunnel", up.TunnelName, "pid", up.PID)
	m.publish(up, events.TypeReady, "", 0)
	if gone {
		m.reportUnexpectedExit(down, code)
	}
	m.persist()
	return up, nil
}

func (m *Manager) failStart(h *handle, err error) (model.TunnelRuntime, error) {
	m.mu.Lock()
	if m.handles[h.rt.ProjectID] == h {
		delete(m.handles, h.rt.ProjectID)
	}
	h.settling = false
	h.rt.State = model.TunnelError
	h.rt.LastError = err.Error()
	rt := h.rt
	close(h.settled)
	m.mu.Unlock()

	code := 0
	var re *ReadinessError
	if errors.As(err, &re) {
		code = re.ExitCode
	}
	slog.Warn("tunnel start failed", "project", rt.ProjectID, "tunnel", rt.TunnelName, "error", err)
	m.publish(rt, events.TypeFailed, err.Error(), code)
	m.persist()
	return rt, err
}

// supervise forwards watcher events until the daemon has been reaped.
func (m *Manager) supervise(h *handle, rt model.TunnelRuntime, stream <-chan watcher.Event, ready chan<- error) {
	defer close(h.done)
	for evt := range stream {
		switch evt.Kind {
		case watcher.KindLog:
			m.sink.Publish(events.Event{
				Timestamp:  evt.Time,
				ProjectID:  rt.ProjectID,
				TunnelName: rt.TunnelName,
				EventType:  events.TypeLog,
				Level:      evt.Level,
				Message:    evt.Line,
				PID:        rt.PID,
			})
		case watcher.KindReady:
			ready <- nil
		case watcher.KindExit:
			if !evt.Ready {
				ready <- &ReadinessError{ExitCode: evt.ExitCode, Err: evt.Err}
				continue
			}
			m.mu.Lock()
			h.exited = true
			h.exitCode = evt.ExitCode
			unexpected := !h.settling && !h.stopped && m.handles[rt.ProjectID] == h
			if unexpected {
				delete(m.handles, rt.ProjectID)
				h.rt.State = model.TunnelDown
				h.rt.PID = 0
			}
			down := h.rt
			m.mu.Unlock()
			if unexpected {
				m.reportUnexpectedExit(down, evt.ExitCode)
				m.persist()
			}
		}
	}
}

func (m *Manager) reportUnexpectedExit(rt model.TunnelRuntime, code int) {
	slog.Warn("tunnel daemon exited unexpectedly", "project", rt.ProjectID, "tunnel", rt.TunnelName, "exit_code", code)
	m.publish(rt, events.TypeUnexpectedExit, fmt.Sprintf("tunnel daemon exited with code %d", code), code)
}

// kill terminates proc and waits, bounded, for it to be reaped.
func (m *Manager) kill(h *handle, proc Process) {
	if err := proc.Kill(); err != nil {
		slog.Warn("failed to kill tunnel daemon", "project", h.rt.ProjectID, "pid", proc.PID(), "error", err)
	}
	select {
	case <-h.done:
	case <-time.After(m.opts.StopTimeout):
		slog.Warn("tunnel daemon not reaped after kill", "project", h.rt.ProjectID, "pid", proc.PID())
	}
}

// Stop kills the project's daemon and forgets it. A start or delete still in
// flight for the project is waited for first. ErrNotRunning means there was
// nothing to stop.
func (m *Manager) Stop(ctx context.Context, projectID string) error {
	var h *handle
	for h == nil {
		m.mu.Lock()
		cur, ok := m.handles[projectID]
		if !ok {
			m.mu.Unlock()
			return ErrNotRunning
		}
		if cur.settling {
			settled := cur.settled
			m.mu.Unlock()
			select {
			case <-settled:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		delete(m.handles, projectID)
		cur.stopped = true
		cur.rt.State = model.TunnelStopping
		h = cur
		m.mu.Unlock()
	}

	m.kill(h, h.proc)

	m.mu.Lock()
	h.rt.State = model.TunnelDown
	h.rt.PID = 0
	rt := h.rt
	m.mu.Unlock()

	slog.Info("tunnel stopped", "project", projectID, "tunnel", rt.TunnelName)
	m.publish(rt, events.TypeStopped, "", 0)
	m.persist()
	return nil
}

// Delete stops the project's tunnel if needed, removes the remote DNS route
// and tunnel, then removes the local ingress file. Remote failures are
// published as cleanup_failed events and do not fail the call.
func (m *Manager) Delete(ctx context.Context, projectID, domain string) error {
	domain = util.NormalizeHostname(domain)
	var h *handle
	for h == nil {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return ErrClosed
		}
		cur, ok := m.handles[projectID]
		switch {
		case !ok:
			h = &handle{
				rt: model.TunnelRuntime{
					ProjectID:  projectID,
					TunnelName: m.life.TunnelName(projectID),
					Hostname:   domain,
					State:      model.TunnelStopping,
				},
				deleting: true,
				settling: true,
				settled:  make(chan struct{}),
				done:     make(chan struct{}),
			}
			m.handles[projectID] = h
			m.mu.Unlock()
		case cur.settling:
			settled := cur.settled
			m.mu.Unlock()
			select {
			case <-settled:
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			m.mu.Unlock()
			if err := m.Stop(ctx, projectID); err != nil && !errors.Is(err, ErrNotRunning) {
				return err
			}
		}
	}

	var local error
	for _, err := range m.life.Teardown(ctx, projectID, domain) {
		var ce *CleanupError
		if errors.As(err, &ce) && ce.Step == StepRemoveConfig {
			local = err
		}
		slog.Warn("tunnel cleanup step failed", "project", projectID, "tunnel", h.rt.TunnelName, "error", err)
		m.publish(h.rt, events.TypeCleanupFailed, err.Error(), 0)
	}

	m.mu.Lock()
	if m.handles[projectID] == h {
		delete(m.handles, projectID)
	}
	h.settling = false
	h.rt.State = model.TunnelDown
	rt := h.rt
	close(h.settled)
	close(h.done)
	m.mu.Unlock()

	if local != nil {
		return local
	}
	slog.Info("tunnel deleted", "project", projectID, "tunnel", rt.TunnelName)
	m.publish(rt, events.TypeDeleted, "", 0)
	m.persist()
	return nil
}

// StartAll starts every project marked AutoStart, concurrently. It returns
// the start error of each project that failed, keyed by project id.
// Projects that are already running are not reported.
func (m *Manager) StartAll(ctx context.Context, projects []model.Project) map[string]error {
	var (
		mu     sync.Mutex
		failed = make(map[string]error)
	)
	var g errgroup.Group
	g.SetLimit(startAllLimit)
	for _, p := range projects {
		if !p.AutoStart {
			continue
		}
		g.Go(func() error {
			if _, err := m.Start(ctx, p); err != nil && !errors.Is(err, ErrAlreadyRunning) {
				mu.Lock()
				failed[p.ID] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

// Close stops every tunnel. Start fails with ErrClosed afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.handles))
	for id := range m.handles {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			if err := m.Stop(context.Background(), id); err != nil && !errors.Is(err, ErrNotRunning) {
				return fmt.Errorf("stop %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Get returns the current runtime of a project's tunnel.
func (m *Manager) Get(projectID string) (model.TunnelRuntime, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[projectID]
	if !ok || h.deleting {
		return model.TunnelRuntime{}, false
	}
	return m.withUptime(h.rt), true
}

// IsRunning reports whether the project's daemon is up and registered.
func (m *Manager) IsRunning(projectID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[projectID]
	return ok && h.ready
}

// Snapshot returns the runtime of every tunnel, ordered by project name.
func (m *Manager) Snapshot() []model.TunnelRuntime {
	m.mu.Lock()
	out := make([]model.TunnelRuntime, 0, len(m.handles))
	for _, h := range m.handles {
		if h.deleting {
			continue
		}
		out = append(out, m.withUptime(h.rt))
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProjectName != out[j].ProjectName {
			return out[i].ProjectName < out[j].ProjectName
		}
		return out[i].ProjectID < out[j].ProjectID
	})
	return out
}

func (m *Manager) withUptime(rt model.TunnelRuntime) model.TunnelRuntime {
	if rt.State == model.TunnelUp && !rt.StartedAt.IsZero() {
		rt.UptimeSec = int64(m.now().Sub(rt.StartedAt).Seconds())
	}
	return rt
}

func (m *Manager) publish(rt model.TunnelRuntime, typ events.Type, msg string, code int) {
	m.sink.Publish(events.Event{
		Timestamp:  m.now(),
		ProjectID:  rt.ProjectID,
		TunnelName: rt.TunnelName,
		EventType:  typ,
		State:      rt.State,
		Message:    msg,
		PID:        rt.PID,
		ExitCode:   code,
	})
}
