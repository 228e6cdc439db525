// Package procinspect finds and kills the local processes bound to a
// project's port.
package procinspect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/treykane/portkeeper/internal/util"
)

// Runner executes lsof. It is replaced in tests.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Inspector looks up listeners with lsof.
type Inspector struct {
	run Runner
}

// New returns an Inspector using the system lsof. A nil runner selects it.
func New(run Runner) *Inspector {
	if run == nil {
		run = execRunner
	}
	return &Inspector{run: run}
}

// PIDsForPort returns the ids of processes listening on TCP port, sorted and
// de-duplicated. No listener yields an empty slice and a nil error.
//
// Invokes: lsof -nP -t -iTCP:<port> -sTCP:LISTEN
func (i *Inspector) PIDsForPort(ctx context.Context, port int) ([]int, error) {
	if err := util.ValidatePort(port); err != nil {
		return nil, err
	}
	out, err := i.run(ctx, "lsof", "-nP", "-t", fmt.Sprintf("-iTCP:%d", port), "-sTCP:LISTEN")
	if err != nil {
		// lsof exits 1 when nothing matches.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && len(bytes.TrimSpace(out)) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("lsof port %d: %w", port, err)
	}
	return ParsePIDs(out), nil
}

// ParsePIDs reads lsof -t output: one pid per line.
func ParsePIDs(out []byte) []int {
	seen := make(map[int]bool)
	var pids []int
	for _, f := range strings.Fields(string(out)) {
		pid, err := strconv.Atoi(f)
		if err != nil || pid <= 0 || seen[pid] {
			continue
		}
		seen[pid] = true
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

// Listening reports whether something accepts TCP connections on
// 127.0.0.1:port.
func Listening(port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), util.PortProbeTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Kill sends SIGKILL to pid. It refuses to kill init or portkeeper itself.
func Kill(pid int) error {
	if pid <= 1 {
		return fmt.Errorf("refusing to kill pid %d", pid)
	}
	if pid == os.Getpid() {
		return errors.New("refusing to kill portkeeper itself")
	}
	if err := unix.Kill(pid, unix.SIGKILL); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("no process with pid %d", pid)
		}
		return fmt.Errorf("kill %d: %w", pid, err)
	}
	return nil
}
