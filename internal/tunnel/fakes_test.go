package tunnel

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/treykane/portkeeper/internal/cloudflared"
	"github.com/treykane/portkeeper/internal/events"
)

const readyLine = "2024-05-01T10:00:00Z INF Registered tunnel connection connIndex=0 location=ams01 protocol=quic"

// fakeProcess stands in for a cloudflared daemon. Lines written with emit
// appear on its stderr; exitWith closes the stream and releases Wait.
type fakeProcess struct {
	pid  int
	r    *io.PipeReader
	w    *io.PipeWriter
	exit chan int
	once sync.Once

	mu     sync.Mutex
	killed bool
}

func newFakeProcess() *fakeProcess {
	r, w := io.Pipe()
	return &fakeProcess{pid: os.Getpid(), r: r, w: w, exit: make(chan int, 1)}
}

func (p *fakeProcess) PID() int          { return p.pid }
func (p *fakeProcess) Stderr() io.Reader { return p.r }
func (p *fakeProcess) Wait() (int, error) {
	return <-p.exit, nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exitWith(-1)
	return nil
}

func (p *fakeProcess) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *fakeProcess) emit(line string) {
	_, _ = fmt.Fprintln(p.w, line)
}

func (p *fakeProcess) exitWith(code int) {
	p.once.Do(func() {
		_ = p.w.Close()
		p.exit <- code
	})
}

// registers is the default daemon script: it reports a registered
// connection and keeps running until killed.
func registers(p *fakeProcess) {
	p.emit("2024-05-01T10:00:00Z INF Starting tunnel tunnelID=abc-123")
	p.emit(readyLine)
}

// fakePlane records control-plane calls and mimics cloudflared's
// "already exists" behavior for repeated create and route calls.
type fakePlane struct {
	mu      sync.Mutex
	calls   [][]string
	created map[string]bool
	routed  map[string]bool
	procs   []*fakeProcess

	infoID          string
	createErr       error
	routeErr        error
	infoErr         error
	runErr          error
	deleteRouteErr  error
	deleteTunnelErr error

	// deleting, when set, receives a value once DeleteTunnel is entered and
	// DeleteTunnel then blocks until gate is closed.
	deleting chan struct{}
	gate     chan struct{}

	script func(*fakeProcess)
	run    func(configPath, name string) (Process, error)
}

func newFakePlane() *fakePlane {
	return &fakePlane{
		created: make(map[string]bool),
		routed:  make(map[string]bool),
		infoID:  "abc-123",
		script:  registers,
	}
}

func (f *fakePlane) record(args ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)
}

func (f *fakePlane) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, strings.Join(c, " "))
	}
	return out
}

func (f *fakePlane) processes() []*fakeProcess {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeProcess(nil), f.procs...)
}

func alreadyExists(args ...string) error {
	return &cloudflared.CommandError{
		Args:     args,
		ExitCode: 1,
		Output:   "failed to create tunnel: tunnel with name already exists",
		Err:      fmt.Errorf("exit status 1"),
	}
}

func (f *fakePlane) CreateTunnel(_ context.Context, name string) error {
	f.record("create", name)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if f.created[name] {
		return alreadyExists("tunnel", "create", name)
	}
	f.created[name] = true
	return nil
}

func (f *fakePlane) RouteDNS(_ context.Context, name, hostname string) error {
	f.record("route", name, hostname)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.routeErr != nil {
		return f.routeErr
	}
	key := name + "|" + hostname
	if f.routed[key] {
		return &cloudflared.CommandError{
			Args:     []string{"tunnel", "route", "dns", name, hostname},
			ExitCode: 1,
			Output:   "An A, AAAA, or CNAME record with that host already exists.",
		}
	}
	f.routed[key] = true
	return nil
}

func (f *fakePlane) TunnelInfo(_ context.Context, name string) (cloudflared.Info, error) {
	f.record("info", name)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.infoErr != nil {
		return cloudflared.Info{}, f.infoErr
	}
	return cloudflared.Info{ID: f.infoID, Name: name}, nil
}

func (f *fakePlane) DeleteRoute(_ context.Context, name, hostname string) error {
	f.record("delete-route", name, hostname)
	return f.deleteRouteErr
}

func (f *fakePlane) DeleteTunnel(_ context.Context, name string) error {
	f.record("delete", name)
	if f.deleting != nil {
		f.deleting <- struct{}{}
		<-f.gate
	}
	return f.deleteTunnelErr
}

func (f *fakePlane) CredentialsPath(tunnelID string) string {
	return "/home/u/.cloudflared/" + tunnelID + ".json"
}

func (f *fakePlane) Run(configPath, name string) (Process, error) {
	f.record("run", configPath, name)
	if f.run != nil {
		return f.run(configPath, name)
	}
	if f.runErr != nil {
		return nil, f.runErr
	}
	p := newFakeProcess()
	f.mu.Lock()
	f.procs = append(f.procs, p)
	script := f.script
	f.mu.Unlock()
	if script != nil {
		go script(p)
	}
	return p, nil
}

// recordingSink keeps every published event.
type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) Publish(evt events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *recordingSink) ofType(typ events.Type) []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Event
	for _, e := range s.events {
		if e.EventType == typ {
			out = append(out, e)
		}
	}
	return out
}

func (s *recordingSink) types() []events.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Type, 0, len(s.events))
	for _, e := range s.events {
		if e.EventType != events.TypeLog {
			out = append(out, e.EventType)
		}
	}
	return out
}

type harness struct {
	mgr        *Manager
	plane      *fakePlane
	sink       *recordingSink
	ingressDir string
}

func newHarness(t *testing.T, opts Options) harness {
	t.Helper()
	dir := t.TempDir()
	plane := newFakePlane()
	sink := &recordingSink{}
	if opts.ReadyTimeout == 0 {
		opts.ReadyTimeout = 5 * time.Second
	}
	if opts.StopTimeout == 0 {
		opts.StopTimeout = 2 * time.Second
	}
	life := NewLifecycle(plane, dir, "portkeeper", sink)
	mgr := NewManager(life, sink, opts)
	t.Cleanup(func() { _ = mgr.Close() })
	return harness{mgr: mgr, plane: plane, sink: sink, ingressDir: dir}
}
