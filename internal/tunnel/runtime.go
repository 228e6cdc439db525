package tunnel

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/treykane/portkeeper/internal/model"
)

func (m *Manager) persist() {
	if m.opts.RuntimePath == "" {
		return
	}
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	if err := WriteRuntime(m.opts.RuntimePath, m.Snapshot()); err != nil {
		slog.Warn("failed to persist tunnel state", "path", m.opts.RuntimePath, "error", err)
	}
}

// WriteRuntime stores a status snapshot at path.
func WriteRuntime(path string, rts []model.TunnelRuntime) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(rts, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadRuntime loads the snapshot written by a manager, possibly in another
// process. Entries whose daemon is no longer alive are reported as down. A
// missing file yields no entries.
func ReadRuntime(path string) ([]model.TunnelRuntime, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var arr []model.TunnelRuntime
	if err := json.Unmarshal(b, &arr); err != nil {
		return nil, err
	}
	for i := range arr {
		if arr[i].PID > 0 && ProcessAlive(arr[i].PID) {
			continue
		}
		if arr[i].State.Active() {
			arr[i].State = model.TunnelDown
		}
		arr[i].PID = 0
		arr[i].UptimeSec = 0
	}
	return arr, nil
}

// ProcessAlive reports whether pid names a live process. EPERM means the
// process exists but belongs to someone else.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
