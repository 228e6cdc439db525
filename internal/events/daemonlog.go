package events

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DaemonLog writes each project's daemon output to <dir>/<project id>.log so
// other portkeeper invocations can read it. A project's file is truncated
// when a new start begins.
type DaemonLog struct {
	mu    sync.Mutex
	dir   string
	files map[string]*os.File
}

// NewDaemonLog creates a sink writing under dir.
func NewDaemonLog(dir string) *DaemonLog {
	return &DaemonLog{dir: dir, files: make(map[string]*os.File)}
}

// DaemonLogPath is the log file for a project inside dir.
func DaemonLogPath(dir, projectID string) string {
	return filepath.Join(dir, filepath.Base(projectID)+".log")
}

// Publish implements Sink.
func (d *DaemonLog) Publish(evt Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch evt.EventType {
	case TypeStarting:
		d.closeLocked(evt.ProjectID)
		if err := os.MkdirAll(d.dir, 0o700); err != nil {
			slog.Warn("failed to create daemon log dir", "dir", d.dir, "error", err)
			return
		}
		f, err := os.OpenFile(DaemonLogPath(d.dir, evt.ProjectID), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
		if err != nil {
			slog.Warn("failed to open daemon log", "project", evt.ProjectID, "error", err)
			return
		}
		d.files[evt.ProjectID] = f
	case TypeLog:
		f := d.files[evt.ProjectID]
		if f == nil {
			return
		}
		ts := evt.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := fmt.Fprintf(f, "%s %s\n", ts.UTC().Format(time.RFC3339), evt.Message); err != nil {
			slog.Warn("failed to write daemon log", "project", evt.ProjectID, "error", err)
		}
	case TypeFailed, TypeStopped, TypeUnexpectedExit, TypeDeleted:
		d.closeLocked(evt.ProjectID)
	}
}

func (d *DaemonLog) closeLocked(projectID string) {
	if f := d.files[projectID]; f != nil {
		_ = f.Close()
		delete(d.files, projectID)
	}
}

// Close closes every open log file.
func (d *DaemonLog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for id, f := range d.files {
		errs = append(errs, f.Close())
		delete(d.files, id)
	}
	return errors.Join(errs...)
}

// TailDaemonLog returns the last n lines logged for a project. A project
// that never started yields no lines.
func TailDaemonLog(dir, projectID string, n int) ([]string, error) {
	f, err := os.Open(DaemonLogPath(dir, projectID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if n > 0 && len(lines) > 2*n {
			lines = append([]string(nil), lines[len(lines)-n:]...)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
