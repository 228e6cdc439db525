package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/treykane/portkeeper/internal/appconfig"
	"github.com/treykane/portkeeper/internal/model"
)

type store struct {
	LastUsed map[string]int64 `json:"last_used"`
}

func filePath() (string, error) {
	dir, err := appconfig.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.json"), nil
}

// Touch records that a project's tunnel came up.
func Touch(projectID string) error {
	st, err := load()
	if err != nil {
		return err
	}
	if st.LastUsed == nil {
		st.LastUsed = map[string]int64{}
	}
	st.LastUsed[projectID] = time.Now().Unix()
	return save(st)
}

// LastUsed returns the last successful start of each project, keyed by id.
func LastUsed() (map[string]int64, error) {
	st, err := load()
	if err != nil {
		return nil, err
	}
	return st.LastUsed, nil
}

// Forget drops a deleted project's entry.
func Forget(projectID string) error {
	st, err := load()
	if err != nil {
		return err
	}
	if _, ok := st.LastUsed[projectID]; !ok {
		return nil
	}
	delete(st.LastUsed, projectID)
	return save(st)
}

// SortProjectsRecent returns a new slice sorted by recent activity (desc), then name.
func SortProjectsRecent(projects []model.Project, lastUsed map[string]int64) []model.Project {
	out := append([]model.Project(nil), projects...)
	sort.SliceStable(out, func(i, j int) bool {
		ti := lastUsed[out[i].ID]
		tj := lastUsed[out[j].ID]
		if ti != tj {
			return ti > tj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func load() (store, error) {
	path, err := filePath()
	if err != nil {
		return store{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store{LastUsed: map[string]int64{}}, nil
		}
		return store{}, err
	}
	var st store
	if err := json.Unmarshal(b, &st); err != nil {
		return store{LastUsed: map[string]int64{}}, nil
	}
	if st.LastUsed == nil {
		st.LastUsed = map[string]int64{}
	}
	return st, nil
}

func save(st store) error {
	path, err := filePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
