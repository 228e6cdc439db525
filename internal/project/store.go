// Package project persists the user's project definitions in projects.yaml.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/treykane/portkeeper/internal/appconfig"
	"github.com/treykane/portkeeper/internal/model"
	"github.com/treykane/portkeeper/internal/util"
)

// ErrNotFound is returned when no project matches a reference.
var ErrNotFound = errors.New("project not found")

type fileModel struct {
	Projects []model.Project `yaml:"projects"`
}

// LoadAll returns all projects sorted by name.
func LoadAll() ([]model.Project, error) {
	fm, err := loadFile()
	if err != nil {
		return nil, err
	}
	out := append([]model.Project(nil), fm.Projects...)
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// Get finds a project by id, or failing that by name (case-insensitive).
func Get(ref string) (model.Project, error) {
	fm, err := loadFile()
	if err != nil {
		return model.Project{}, err
	}
	i := fm.find(ref)
	if i < 0 {
		return model.Project{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return fm.Projects[i], nil
}

// Add validates p, assigns it a fresh id and stores it.
func Add(p model.Project) (model.Project, error) {
	p.ID = uuid.New().String()
	if err := normalize(&p); err != nil {
		return model.Project{}, err
	}
	fm, err := loadFile()
	if err != nil {
		return model.Project{}, err
	}
	if err := fm.checkName(p); err != nil {
		return model.Project{}, err
	}
	fm.Projects = append(fm.Projects, p)
	return p, saveFile(fm)
}

// Update replaces the stored project with the same id.
func Update(p model.Project) (model.Project, error) {
	if err := normalize(&p); err != nil {
		return model.Project{}, err
	}
	fm, err := loadFile()
	if err != nil {
		return model.Project{}, err
	}
	i := fm.indexByID(p.ID)
	if i < 0 {
		return model.Project{}, fmt.Errorf("%w: %s", ErrNotFound, p.ID)
	}
	if err := fm.checkName(p); err != nil {
		return model.Project{}, err
	}
	fm.Projects[i] = p
	return p, saveFile(fm)
}

// SetDomain changes or, with an empty domain, clears a project's hostname.
func SetDomain(ref, domain string) (model.Project, error) {
	p, err := Get(ref)
	if err != nil {
		return model.Project{}, err
	}
	p.Domain = domain
	return Update(p)
}

// SetAutoStart toggles whether a project starts with the dashboard.
func SetAutoStart(ref string, on bool) (model.Project, error) {
	p, err := Get(ref)
	if err != nil {
		return model.Project{}, err
	}
	p.AutoStart = on
	return Update(p)
}

// Remove deletes a project and returns what was removed.
func Remove(ref string) (model.Project, error) {
	fm, err := loadFile()
	if err != nil {
		return model.Project{}, err
	}
	i := fm.find(ref)
	if i < 0 {
		return model.Project{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	p := fm.Projects[i]
	fm.Projects = append(fm.Projects[:i], fm.Projects[i+1:]...)
	return p, saveFile(fm)
}

func normalize(p *model.Project) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.ID == "" {
		return errors.New("project id cannot be empty")
	}
	if p.Name == "" {
		return errors.New("project name cannot be empty")
	}
	if err := util.ValidatePort(p.LocalPort); err != nil {
		return fmt.Errorf("invalid local port: %w", err)
	}
	p.Domain = util.NormalizeHostname(p.Domain)
	if p.Domain != "" {
		if err := util.ValidateHostname(p.Domain); err != nil {
			return fmt.Errorf("invalid domain: %w", err)
		}
	}
	return nil
}

func (fm fileModel) indexByID(id string) int {
	for i, p := range fm.Projects {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (fm fileModel) find(ref string) int {
	ref = strings.TrimSpace(ref)
	if i := fm.indexByID(ref); i >= 0 {
		return i
	}
	for i, p := range fm.Projects {
		if strings.EqualFold(p.Name, ref) {
			return i
		}
	}
	return -1
}

// checkName rejects a name already used by a different project.
func (fm fileModel) checkName(p model.Project) error {
	for _, other := range fm.Projects {
		if other.ID != p.ID && strings.EqualFold(other.Name, p.Name) {
			return fmt.Errorf("project name already in use: %s", p.Name)
		}
	}
	return nil
}

func loadFile() (fileModel, error) {
	path, err := appconfig.ProjectsFilePath()
	if err != nil {
		return fileModel{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fileModel{}, nil
		}
		return fileModel{}, err
	}
	var fm fileModel
	if err := yaml.Unmarshal(b, &fm); err != nil {
		return fileModel{}, fmt.Errorf("parse projects: %w", err)
	}
	return fm, nil
}

func saveFile(fm fileModel) error {
	path, err := appconfig.ProjectsFilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := yaml.Marshal(fm)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
