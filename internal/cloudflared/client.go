// Package cloudflared drives the cloudflared binary: the control-plane
// sub-commands that manage named tunnels and DNS routes, and the long-running
// "tunnel run" process that carries traffic.
//
// This package is responsible for launching cloudflared processes; it does
// NOT implement the tunnel protocol. All arguments are passed via exec argv
// (never through a shell), so project names and hostnames containing shell
// metacharacters cannot inject commands.
//
// Control-plane calls are synchronous and bounded by a per-command timeout.
// Their failures are returned as *CommandError so callers can tell "the tunnel
// already exists" apart from genuine failures (see IsAlreadyExists).
package cloudflared

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/creack/pty"
	"github.com/treykane/portkeeper/internal/util"
)

// ErrNotAuthenticated is returned when no origin certificate is present, i.e.
// "cloudflared tunnel login" has never completed on this machine.
var ErrNotAuthenticated = errors.New("cloudflared is not logged in (run `portkeeper login`)")

// Runner executes one control-plane command to completion.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Stdin = nil
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// CommandError describes a control-plane command that exited unsuccessfully.
type CommandError struct {
	Args     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("cloudflared %s", strings.Join(e.Args, " "))
	if e.ExitCode >= 0 {
		msg += fmt.Sprintf(" exited with code %d", e.ExitCode)
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// IsAlreadyExists reports whether err is a control-plane failure caused by the
// remote object already existing. cloudflared signals this only through its
// diagnostic text, so the check is on the captured output.
func IsAlreadyExists(err error) bool {
	var ce *CommandError
	if !errors.As(err, &ce) {
		return false
	}
	out := strings.ToLower(ce.Output)
	return strings.Contains(out, "already exists") || strings.Contains(out, "already configured")
}

// Option configures a Client.
type Option func(*Client)

// WithRunner replaces the command runner, mainly for tests.
func WithRunner(r Runner) Option {
	return func(c *Client) { c.runner = r }
}

// WithCommandTimeout bounds each control-plane command.
func WithCommandTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Client issues cloudflared commands. It holds no per-tunnel state and is safe
// for concurrent use.
type Client struct {
	bin     string
	home    string
	runner  Runner
	timeout time.Duration
}

// New creates a client for the given binary and cloudflared home directory
// (normally ~/.cloudflared, where cert.pem and credentials files live).
func New(bin, home string, opts ...Option) *Client {
	c := &Client{
		bin:     util.DefaultString(bin, "cloudflared"),
		home:    home,
		runner:  ExecRunner{},
		timeout: util.DefaultCommandTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Binary returns the configured cloudflared executable.
func (c *Client) Binary() string { return c.bin }

// Home returns the cloudflared state directory.
func (c *Client) Home() string { return c.home }

// EnsureBinary checks that the cloudflared binary can be found.
func (c *Client) EnsureBinary() error {
	if _, err := exec.LookPath(c.bin); err != nil {
		return fmt.Errorf("%s binary not found in PATH", c.bin)
	}
	return nil
}

// CertPath is the origin certificate written by "cloudflared tunnel login".
func (c *Client) CertPath() string {
	return filepath.Join(c.home, "cert.pem")
}

// CheckAuth returns ErrNotAuthenticated when the origin certificate is absent.
func (c *Client) CheckAuth() error {
	if _, err := os.Stat(c.CertPath()); err != nil {
		if os.IsNotExist(err) {
			return ErrNotAuthenticated
		}
		return fmt.Errorf("inspect %s: %w", c.CertPath(), err)
	}
	return nil
}

// CredentialsPath is where cloudflared stores the credentials for a tunnel
// id. The convention is fixed by the daemon; it is not discoverable from the
// tunnel name, which is why the id must be resolved first.
func (c *Client) CredentialsPath(tunnelID string) string {
	return filepath.Join(c.home, tunnelID+".json")
}

// CreateTunnel runs "tunnel create <name>".
func (c *Client) CreateTunnel(ctx context.Context, name string) error {
	_, err := c.run(ctx, "tunnel", "create", name)
	return err
}

// RouteDNS runs "tunnel route dns <name> <hostname>".
func (c *Client) RouteDNS(ctx context.Context, name, hostname string) error {
	_, err := c.run(ctx, "tunnel", "route", "dns", name, hostname)
	return err
}

// TunnelInfo runs "tunnel info --output json <name>" and parses the result.
func (c *Client) TunnelInfo(ctx context.Context, name string) (Info, error) {
	out, err := c.run(ctx, "tunnel", "info", "--output", "json", name)
	if err != nil {
		return Info{}, err
	}
	return ParseInfo(out)
}

// DeleteRoute removes the DNS route for hostname. Support for this varies
// across cloudflared releases; callers treat failures as best-effort.
func (c *Client) DeleteRoute(ctx context.Context, name, hostname string) error {
	_, err := c.run(ctx, "tunnel", "route", "dns", "--delete", name, hostname)
	return err
}

// DeleteTunnel runs "tunnel delete -f <name>".
func (c *Client) DeleteTunnel(ctx context.Context, name string) error {
	_, err := c.run(ctx, "tunnel", "delete", "-f", name)
	return err
}

func (c *Client) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	stdout, stderr, err := c.runner.Run(ctx, c.bin, args...)
	if err != nil {
		ce := &CommandError{Args: args, ExitCode: -1, Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			ce.ExitCode = exitErr.ExitCode()
		}
		ce.Output = strings.TrimSpace(string(stderr))
		if ce.Output == "" {
			ce.Output = strings.TrimSpace(string(stdout))
		}
		if ctx.Err() != nil && ce.ExitCode < 0 {
			ce.Err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		return stdout, ce
	}
	return stdout, nil
}

// BuildRunArgs constructs the argv for the long-running tunnel process
// without starting it.
//
// Example output: ["tunnel", "--no-autoupdate", "--config", "/cfg/portkeeper-p1.yml", "run", "portkeeper-p1"]
func (c *Client) BuildRunArgs(configPath, name string) []string {
	return []string{"tunnel", "--no-autoupdate", "--config", configPath, "run", name}
}

// StartRun launches "cloudflared tunnel run" in the background.
//
// The process is not tied to a context: its lifetime is owned by the caller,
// which must drain Stderr, call Wait to reap it, and Kill it to stop it.
// cloudflared writes all diagnostics (including the connection registration
// line) to stderr; stdout is discarded.
func (c *Client) StartRun(configPath, name string) (*Process, error) {
	cmd := exec.Command(c.bin, c.BuildRunArgs(configPath, name)...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = io.Discard
	cmd.Stdin = nil
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &Process{cmd: cmd, stderr: stderr}, nil
}

// Login runs "cloudflared tunnel login" attached to the user's terminal
// through a PTY. cloudflared prints an authorization URL and blocks until the
// browser flow completes and cert.pem is written.
func (c *Client) Login(ctx context.Context) error {
	cmd := exec.Command(c.bin, "tunnel", "login")
	f, err := pty.Start(cmd)
	if err != nil {
		return err
	}
	defer f.Close()

	go func() {
		_, _ = io.Copy(f, os.Stdin)
	}()
	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(os.Stdout, f)
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
	}
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("cloudflared login: %w", err)
	}
	return c.CheckAuth()
}

// Process is a running "cloudflared tunnel run".
type Process struct {
	cmd    *exec.Cmd
	stderr io.ReadCloser
}

// PID returns the OS process id.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Stderr is the daemon's diagnostic stream. It must be drained before Wait.
func (p *Process) Stderr() io.Reader { return p.stderr }

// Wait reaps the process and returns its exit code. A process killed by a
// signal reports -1. The error is only set when the process could not be
// waited on at all.
func (p *Process) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// Kill terminates the process with SIGKILL. cloudflared is not asked to shut
// down gracefully.
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
