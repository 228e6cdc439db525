package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/treykane/portkeeper/internal/model"
	"github.com/treykane/portkeeper/internal/util"
)

// Field indices for the project form.
const (
	fieldName = iota
	fieldPort
	fieldDomain
	fieldCount
)

// formResult is returned when the user completes the form.
type formResult struct {
	project model.Project
	start   bool // true = start the tunnel right after saving
}

// projectForm holds all state for the "new project" screen.
type projectForm struct {
	fields    []textinput.Model
	focusIdx  int
	autoStart bool
	errMsg    string
}

func newForm() *projectForm {
	f := &projectForm{}
	placeholders := []string{
		"my-app (required)",
		"3000 (required)",
		"app.example.com (optional)",
	}
	limits := []int{64, 5, 253}

	f.fields = make([]textinput.Model, fieldCount)
	for i := range f.fields {
		ti := textinput.New()
		ti.Placeholder = placeholders[i]
		ti.CharLimit = limits[i]
		ti.Width = 40
		f.fields[i] = ti
	}
	f.fields[fieldName].Focus()
	return f
}

// update processes a key message and returns a formResult if the form is complete.
func (f *projectForm) update(msg tea.KeyMsg) (*formResult, tea.Cmd) {
	switch msg.String() {
	case "tab", "shift+tab", "down", "up":
		f.fields[f.focusIdx].Blur()
		if msg.String() == "tab" || msg.String() == "down" {
			f.focusIdx = (f.focusIdx + 1) % fieldCount
		} else {
			f.focusIdx = (f.focusIdx - 1 + fieldCount) % fieldCount
		}
		f.fields[f.focusIdx].Focus()
		return nil, f.fields[f.focusIdx].Cursor.BlinkCmd()
	case "ctrl+a":
		f.autoStart = !f.autoStart
		return nil, nil
	case "enter", "ctrl+s":
		p, err := f.buildProject()
		if err != nil {
			f.errMsg = err.Error()
			return nil, nil
		}
		return &formResult{project: p, start: msg.String() == "ctrl+s"}, nil
	default:
		var cmd tea.Cmd
		f.fields[f.focusIdx], cmd = f.fields[f.focusIdx].Update(msg)
		f.errMsg = ""
		return nil, cmd
	}
}

func (f *projectForm) buildProject() (model.Project, error) {
	name := strings.TrimSpace(f.fields[fieldName].Value())
	portStr := strings.TrimSpace(f.fields[fieldPort].Value())
	domain := util.NormalizeHostname(f.fields[fieldDomain].Value())

	if name == "" {
		return model.Project{}, fmt.Errorf("name is required")
	}
	port, err := util.ParsePort(portStr)
	if err != nil {
		return model.Project{}, err
	}
	if domain != "" {
		if err := util.ValidateHostname(domain); err != nil {
			return model.Project{}, err
		}
	}
	return model.Project{Name: name, LocalPort: port, Domain: domain, AutoStart: f.autoStart}, nil
}

func (f *projectForm) view(renderPanel func(string, string, int, lipgloss.Color) string, width int) string {
	labels := []string{"Name:", "Local port:", "Domain:"}

	var b strings.Builder
	for i, label := range labels {
		cursor := "  "
		if i == f.focusIdx {
			cursor = "> "
		}
		b.WriteString(fmt.Sprintf("%s%-12s %s\n", cursor, label, f.fields[i].View()))
	}

	mark := " "
	if f.autoStart {
		mark = "x"
	}
	b.WriteString(fmt.Sprintf("\n  [%s] Start when the dashboard opens\n", mark))
	b.WriteString("  Leave the domain empty to run a tunnel without public DNS routing.\n")

	if f.errMsg != "" {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		b.WriteString("\n" + errStyle.Render("Error: "+f.errMsg) + "\n")
	}

	b.WriteString("\nTab/Shift-Tab navigate | Ctrl+A toggle autostart | Enter save | Ctrl+S save and start | Esc cancel")
	return renderPanel("New Project", b.String(), width, lipgloss.Color("214"))
}
