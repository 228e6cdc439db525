package ui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/treykane/portkeeper/internal/appconfig"
	"github.com/treykane/portkeeper/internal/cloudflared"
	"github.com/treykane/portkeeper/internal/events"
	"github.com/treykane/portkeeper/internal/history"
	"github.com/treykane/portkeeper/internal/logging"
	"github.com/treykane/portkeeper/internal/metrics"
	"github.com/treykane/portkeeper/internal/model"
	"github.com/treykane/portkeeper/internal/procinspect"
	"github.com/treykane/portkeeper/internal/project"
	"github.com/treykane/portkeeper/internal/security"
	"github.com/treykane/portkeeper/internal/tunnel"
	"github.com/treykane/portkeeper/internal/util"
)

type tickMsg time.Time

type statusMsg string

type eventMsg events.Event

type portsMsg map[int]bool

type autostartMsg map[string]error

// opMsg reports the outcome of a start, stop, delete or port kill.
type opMsg struct {
	action  string
	project model.Project
	err     error
	reload  bool
}

type dashboardModel struct {
	projects      []model.Project
	filtered      []model.Project
	sel           int
	filter        string
	filterMode    bool
	showHelp      bool
	recentFirst   bool
	status        string
	tunnels       []model.TunnelRuntime
	listening     map[int]bool
	busy          map[string]string
	confirmDelete string
	width         int
	height        int
	cfg           appconfig.Config
	mgr           *tunnel.Manager
	client        *cloudflared.Client
	logs          *events.LogBuffer
	feed          <-chan events.Event
	form          *projectForm
	logProject    string
	logView       viewport.Model
}

func newDashboard(cfg appconfig.Config, mgr *tunnel.Manager, client *cloudflared.Client, logs *events.LogBuffer, feed <-chan events.Event) dashboardModel {
	m := dashboardModel{
		cfg:       cfg,
		mgr:       mgr,
		client:    client,
		logs:      logs,
		feed:      feed,
		listening: map[int]bool{},
		busy:      map[string]string{},
		logView:   viewport.New(80, 15),
	}
	m.reloadProjects()
	m.status = "Ready. Select a project, then s to start its tunnel or n to add a project."
	return m
}

func (m *dashboardModel) reloadProjects() {
	projects, err := project.LoadAll()
	if err != nil {
		m.status = "projects load error: " + err.Error()
		return
	}
	m.projects = projects
	m.applyFilter()
	if m.mgr != nil {
		m.tunnels = m.mgr.Snapshot()
	}
}

func (m *dashboardModel) applyFilter() {
	source := m.projects
	if m.recentFirst {
		if lastUsed, err := history.LastUsed(); err == nil {
			source = history.SortProjectsRecent(source, lastUsed)
		}
	}
	if strings.TrimSpace(m.filter) == "" {
		m.filtered = append([]model.Project(nil), source...)
	} else {
		f := strings.ToLower(strings.TrimSpace(m.filter))
		m.filtered = nil
		for _, p := range source {
			if strings.Contains(strings.ToLower(p.Name), f) || strings.Contains(strings.ToLower(p.Domain), f) {
				m.filtered = append(m.filtered, p)
			}
		}
	}
	if m.sel >= len(m.filtered) {
		m.sel = len(m.filtered) - 1
	}
	if m.sel < 0 {
		m.sel = 0
	}
}

func (m dashboardModel) selected() (model.Project, bool) {
	if len(m.filtered) == 0 {
		return model.Project{}, false
	}
	return m.filtered[m.sel], true
}

func (m dashboardModel) runtimeFor(projectID string) (model.TunnelRuntime, bool) {
	for _, rt := range m.tunnels {
		if rt.ProjectID == projectID {
			return rt, true
		}
	}
	return model.TunnelRuntime{}, false
}

func (m dashboardModel) projectName(id string) string {
	for _, p := range m.projects {
		if p.ID == id {
			return p.Name
		}
	}
	return id
}

func tickCmd(seconds int) tea.Cmd {
	return tea.Tick(time.Duration(clampRefresh(seconds))*time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitEvent(feed <-chan events.Event) tea.Cmd {
	if feed == nil {
		return nil
	}
	return func() tea.Msg {
		evt, ok := <-feed
		if !ok {
			return nil
		}
		return eventMsg(evt)
	}
}

func probePorts(projects []model.Project) tea.Cmd {
	ports := make([]int, 0, len(projects))
	for _, p := range projects {
		ports = append(ports, p.LocalPort)
	}
	return func() tea.Msg {
		out := make(portsMsg, len(ports))
		for _, port := range ports {
			out[port] = procinspect.Listening(port)
		}
		return out
	}
}

func (m dashboardModel) autostartCmd() tea.Cmd {
	var auto []model.Project
	for _, p := range m.projects {
		if p.AutoStart {
			auto = append(auto, p)
		}
	}
	if len(auto) == 0 || m.mgr == nil || m.client == nil {
		return nil
	}
	if err := m.client.CheckAuth(); err != nil {
		return func() tea.Msg { return statusMsg("Autostart skipped: " + security.UserMessage(err, true)) }
	}
	mgr := m.mgr
	return func() tea.Msg {
		failed := mgr.StartAll(context.Background(), auto)
		for _, p := range auto {
			if _, bad := failed[p.ID]; !bad {
				_ = history.Touch(p.ID)
			}
		}
		return autostartMsg(failed)
	}
}

func (m dashboardModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(m.cfg.UI.RefreshSeconds),
		waitEvent(m.feed),
		probePorts(m.projects),
		m.autostartCmd(),
	)
}

func (m dashboardModel) startCmd(p model.Project) tea.Cmd {
	mgr := m.mgr
	return func() tea.Msg {
		_, err := mgr.Start(context.Background(), p)
		if err == nil {
			_ = history.Touch(p.ID)
		}
		return opMsg{action: "start", project: p, err: err}
	}
}

func (m dashboardModel) stopCmd(p model.Project) tea.Cmd {
	mgr := m.mgr
	return func() tea.Msg {
		return opMsg{action: "stop", project: p, err: mgr.Stop(context.Background(), p.ID)}
	}
}

func (m dashboardModel) deleteCmd(p model.Project) tea.Cmd {
	mgr, logs := m.mgr, m.logs
	return func() tea.Msg {
		if err := mgr.Delete(context.Background(), p.ID, p.Domain); err != nil {
			return opMsg{action: "delete", project: p, err: err}
		}
		if _, err := project.Remove(p.ID); err != nil {
			return opMsg{action: "delete", project: p, err: err, reload: true}
		}
		_ = history.Forget(p.ID)
		if logs != nil {
			logs.Clear(p.ID)
		}
		return opMsg{action: "delete", project: p, reload: true}
	}
}

func killPortCmd(p model.Project) tea.Cmd {
	return func() tea.Msg {
		pids, err := procinspect.New(nil).PIDsForPort(context.Background(), p.LocalPort)
		if err != nil {
			return opMsg{action: "kill", project: p, err: err}
		}
		if len(pids) == 0 {
			return statusMsg(fmt.Sprintf("Nothing is listening on port %d", p.LocalPort))
		}
		for _, pid := range pids {
			if err := procinspect.Kill(pid); err != nil {
				return opMsg{action: "kill", project: p, err: err}
			}
		}
		return opMsg{action: "kill", project: p}
	}
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if m.mgr != nil {
			m.tunnels = m.mgr.Snapshot()
		}
		return m, tea.Batch(tickCmd(m.cfg.UI.RefreshSeconds), probePorts(m.projects))
	case portsMsg:
		m.listening = msg
		return m, nil
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.logView.Width = m.effectiveWidth() - 4
		m.logView.Height = clampLogHeight(m.height - 8)
		return m, nil
	case eventMsg:
		m.handleEvent(events.Event(msg))
		return m, waitEvent(m.feed)
	case autostartMsg:
		if len(msg) == 0 {
			m.status = "Autostart projects are up"
		} else {
			names := make([]string, 0, len(msg))
			for id := range msg {
				names = append(names, m.projectName(id))
			}
			m.status = "Autostart failed for: " + strings.Join(names, ", ")
		}
		if m.mgr != nil {
			m.tunnels = m.mgr.Snapshot()
		}
		return m, nil
	case opMsg:
		delete(m.busy, msg.project.ID)
		m.status = opStatus(msg)
		if msg.reload {
			m.reloadProjects()
		} else if m.mgr != nil {
			m.tunnels = m.mgr.Snapshot()
		}
		return m, nil
	case statusMsg:
		m.status = string(msg)
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *dashboardModel) handleEvent(evt events.Event) {
	name := m.projectName(evt.ProjectID)
	switch evt.EventType {
	case events.TypeLog:
		if m.logProject == evt.ProjectID {
			m.refreshLogView()
		}
		return
	case events.TypeReady:
		m.status = fmt.Sprintf("Tunnel up: %s", name)
	case events.TypeFailed:
		m.status = fmt.Sprintf("Tunnel for %s failed: %s", name, security.RedactMessage(evt.Message))
	case events.TypeUnexpectedExit:
		m.status = fmt.Sprintf("Tunnel for %s exited unexpectedly (code %d)", name, evt.ExitCode)
	case events.TypeCleanupFailed:
		m.status = fmt.Sprintf("Cleanup for %s incomplete: %s", name, security.RedactMessage(evt.Message))
	}
	if m.mgr != nil {
		m.tunnels = m.mgr.Snapshot()
	}
}

func opStatus(msg opMsg) string {
	name := msg.project.Name
	if msg.err == nil {
		switch msg.action {
		case "start":
			return "Tunnel started: " + name
		case "stop":
			return "Tunnel stopped: " + name
		case "delete":
			return "Project deleted: " + name
		case "kill":
			return fmt.Sprintf("Killed the process on port %d", msg.project.LocalPort)
		}
		return name + ": done"
	}
	switch {
	case errors.Is(msg.err, tunnel.ErrNotRunning):
		return "Tunnel not running: " + name
	case errors.Is(msg.err, tunnel.ErrAlreadyRunning):
		return "Tunnel already running: " + name
	case errors.Is(msg.err, tunnel.ErrBusy):
		return "Project is being deleted: " + name
	}
	return fmt.Sprintf("%s %s failed: %s", strings.ToUpper(msg.action[:1])+msg.action[1:], name, security.UserMessage(msg.err, true))
}

func (m dashboardModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.form != nil {
		if msg.String() == "esc" {
			m.form = nil
			m.status = "Cancelled"
			return m, nil
		}
		res, cmd := m.form.update(msg)
		if res == nil {
			return m, cmd
		}
		p, err := project.Add(res.project)
		if err != nil {
			m.form.errMsg = err.Error()
			return m, nil
		}
		m.form = nil
		m.reloadProjects()
		m.status = "Project added: " + p.Name
		if res.start {
			return m.start(p)
		}
		return m, probePorts(m.projects)
	}

	if m.logProject != "" {
		switch msg.String() {
		case "esc", "l", "q":
			m.logProject = ""
			return m, nil
		}
		var cmd tea.Cmd
		m.logView, cmd = m.logView.Update(msg)
		return m, cmd
	}

	if m.filterMode {
		switch msg.String() {
		case "enter", "esc":
			m.filterMode = false
			m.applyFilter()
			return m, nil
		case "backspace":
			if len(m.filter) > 0 {
				m.filter = m.filter[:len(m.filter)-1]
			}
			m.applyFilter()
			return m, nil
		default:
			if len(msg.String()) == 1 {
				m.filter += msg.String()
				m.applyFilter()
			}
			return m, nil
		}
	}

	key := msg.String()
	if key != "d" && key != "y" {
		m.confirmDelete = ""
	}
	switch key {
	case "q", "ctrl+c":
		m.status = "Stopping tunnels..."
		return m, tea.Quit
	case "j", "down":
		if m.sel < len(m.filtered)-1 {
			m.sel++
		}
	case "k", "up":
		if m.sel > 0 {
			m.sel--
		}
	case "/":
		m.filterMode = true
		m.status = "Filter mode: type and press Enter"
	case "?":
		m.showHelp = !m.showHelp
	case "o":
		m.recentFirst = !m.recentFirst
		m.applyFilter()
		if m.recentFirst {
			m.status = "Sorted by recent activity"
		} else {
			m.status = "Sorted by name"
		}
	case "r":
		m.reloadProjects()
		m.status = "Refreshed projects and tunnel status"
		return m, probePorts(m.projects)
	case "n":
		m.form = newForm()
		return m, m.form.fields[fieldName].Cursor.BlinkCmd()
	case "s":
		if p, ok := m.selected(); ok {
			return m.start(p)
		}
	case "x":
		if p, ok := m.selected(); ok {
			m.busy[p.ID] = "stopping"
			m.status = "Stopping tunnel: " + p.Name
			return m, m.stopCmd(p)
		}
	case "d", "y":
		p, ok := m.selected()
		if !ok {
			break
		}
		if m.confirmDelete != p.ID {
			if key == "y" {
				break
			}
			m.confirmDelete = p.ID
			m.status = fmt.Sprintf("Delete %s and its remote tunnel? Press d or y again to confirm.", p.Name)
			break
		}
		m.confirmDelete = ""
		m.busy[p.ID] = "deleting"
		m.status = "Deleting project: " + p.Name
		return m, m.deleteCmd(p)
	case "a":
		if p, ok := m.selected(); ok {
			updated, err := project.SetAutoStart(p.ID, !p.AutoStart)
			if err != nil {
				m.status = "Autostart update failed: " + err.Error()
				break
			}
			m.reloadProjects()
			if updated.AutoStart {
				m.status = "Autostart on: " + p.Name
			} else {
				m.status = "Autostart off: " + p.Name
			}
		}
	case "l":
		if p, ok := m.selected(); ok {
			m.logProject = p.ID
			m.refreshLogView()
		}
	case "K":
		if p, ok := m.selected(); ok {
			m.status = fmt.Sprintf("Killing the process on port %d", p.LocalPort)
			return m, killPortCmd(p)
		}
	}
	return m, nil
}

func (m dashboardModel) start(p model.Project) (tea.Model, tea.Cmd) {
	if m.client != nil {
		if err := m.client.CheckAuth(); err != nil {
			m.status = security.UserMessage(err, true)
			return m, nil
		}
	}
	if _, running := m.runtimeFor(p.ID); running {
		m.status = "Tunnel already running: " + p.Name
		return m, nil
	}
	m.busy[p.ID] = "starting"
	m.status = "Starting tunnel: " + p.Name
	return m, m.startCmd(p)
}

func (m *dashboardModel) refreshLogView() {
	if m.logs == nil {
		m.logView.SetContent("(no logs)")
		return
	}
	lines := m.logs.Lines(m.logProject)
	if len(lines) == 0 {
		m.logView.SetContent("(no logs yet)")
		return
	}
	var b strings.Builder
	for _, le := range lines {
		b.WriteString(le.Timestamp.Format("15:04:05"))
		b.WriteString(" ")
		b.WriteString(le.Message)
		b.WriteString("\n")
	}
	m.logView.SetContent(b.String())
	m.logView.GotoBottom()
}

func (m dashboardModel) View() string {
	head := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Render("Portkeeper Dashboard")
	subhead := fmt.Sprintf("projects=%d shown=%d tunnels=%d refresh=%ds", len(m.projects), len(m.filtered), len(m.tunnels), clampRefresh(m.cfg.UI.RefreshSeconds))

	if m.form != nil {
		return lipgloss.JoinVertical(lipgloss.Left, head, subhead,
			m.form.view(m.renderPanel, m.effectiveWidth()),
			m.renderPanel("Status", m.status, m.effectiveWidth(), lipgloss.Color("205")))
	}
	if m.logProject != "" {
		title := "Logs: " + m.projectName(m.logProject)
		return lipgloss.JoinVertical(lipgloss.Left, head, subhead,
			m.renderPanel(title, m.logView.View()+"\nj/k or arrows scroll | Esc close", m.effectiveWidth(), lipgloss.Color("244")))
	}

	left := strings.Builder{}
	left.WriteString("j/k to navigate; [U] up, [S] starting, * port listening, A autostart.\n")
	for i, p := range m.filtered {
		cursor := " "
		if i == m.sel {
			cursor = ">"
		}
		left.WriteString(fmt.Sprintf("%s[%s] %-20s %-6d%s %s %s\n", cursor, m.stateMark(p.ID), util.Truncate(p.Name, 20), p.LocalPort, m.listenMark(p.LocalPort), autoMark(p), p.DisplayDomain()))
	}
	if len(m.filtered) == 0 {
		left.WriteString("  (no projects; press n to add one)\n")
	}

	detail := strings.Builder{}
	if p, ok := m.selected(); ok {
		detail.WriteString(fmt.Sprintf("Name: %s\nID: %s\nLocal: http://localhost:%d\nDomain: %s\nAutostart: %t\n", p.Name, p.ID, p.LocalPort, p.DisplayDomain(), p.AutoStart))
		if rt, ok := m.runtimeFor(p.ID); ok {
			detail.WriteString(fmt.Sprintf("Tunnel: %s\nState: %s\nPID: %d\nUptime: %s\n", rt.TunnelName, rt.State, rt.PID, formatUptime(rt.UptimeSec)))
		} else {
			detail.WriteString("Tunnel: not running\n")
		}
		detail.WriteString("\nNext steps:\n")
		detail.WriteString(m.guidanceForProject(p))
	} else {
		detail.WriteString("Pick a project to view its tunnel.\n")
	}

	tbl := strings.Builder{}
	tbl.WriteString(fmt.Sprintf("%-20s %-28s %-10s %-8s %-10s\n", "PROJECT", "HOSTNAME", "STATE", "PID", "UPTIME"))
	for _, rt := range m.tunnels {
		tbl.WriteString(fmt.Sprintf("%-20s %-28s %-10s %-8d %-10s\n", util.Truncate(rt.ProjectName, 20), util.EmptyDash(rt.Hostname), rt.State, rt.PID, formatUptime(rt.UptimeSec)))
	}
	if len(m.tunnels) == 0 {
		tbl.WriteString("(none)\n")
	}

	filterLine := fmt.Sprintf("Filter: %s", m.filter)
	if m.filterMode {
		filterLine += " (typing...)"
	}

	quickHelp := "Keys: s start | x stop | l logs | n new | d delete | a autostart | K kill port | / filter | ? help | q quit"
	main := m.renderMainPanels(left.String(), detail.String())
	tunnels := m.renderPanel("Active Tunnels", tbl.String(), m.effectiveWidth(), lipgloss.Color("63"))
	status := m.renderPanel("Status", m.status, m.effectiveWidth(), lipgloss.Color("205"))
	help := ""
	if m.showHelp {
		help = m.renderPanel("Help", m.helpBlock(), m.effectiveWidth(), lipgloss.Color("244"))
	}
	return lipgloss.JoinVertical(
		lipgloss.Left,
		head,
		subhead,
		filterLine,
		quickHelp,
		main,
		tunnels,
		help,
		status,
	)
}

// Run opens the dashboard. Every tunnel it started is stopped on exit.
func Run() error {
	cfg, err := appconfig.Load()
	if err != nil {
		return err
	}
	if closeLog, err := logging.SetupFile(cfg.Log.Level); err == nil {
		defer closeLog()
	}
	client, err := tunnel.NewClient(cfg)
	if err != nil {
		return err
	}
	if err := client.EnsureBinary(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logs := events.NewLogBuffer(cfg.Logs.BufferSize)
	bcast := events.NewBroadcaster()
	sinks := events.Multi{events.NewStore(), logs, bcast}
	if dir, err := appconfig.DaemonLogDir(); err == nil {
		daemonLog := events.NewDaemonLog(dir)
		defer daemonLog.Close()
		sinks = append(sinks, daemonLog)
	}
	if addr := strings.TrimSpace(cfg.Metrics.ListenAddr); addr != "" {
		ms := metrics.NewSink()
		sinks = append(sinks, ms)
		go func() {
			if err := ms.Serve(ctx, addr); err != nil {
				slog.Warn("metrics endpoint stopped", "addr", addr, "error", err)
			}
		}()
	}

	mgr, err := tunnel.NewFromConfig(cfg, client, sinks)
	if err != nil {
		return err
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			slog.Warn("failed to stop tunnels", "error", err)
		}
	}()
	subID, feed := bcast.Subscribe(256)
	defer bcast.Unsubscribe(subID)

	slog.Info("dashboard opened")
	p := tea.NewProgram(newDashboard(cfg, mgr, client, logs, feed), tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func clampRefresh(seconds int) int {
	if seconds <= 0 {
		return util.DefaultRefreshSeconds
	}
	return seconds
}

func clampLogHeight(h int) int {
	if h < 5 {
		return 5
	}
	return h
}

func formatUptime(sec int64) string {
	if sec <= 0 {
		return "-"
	}
	return (time.Duration(sec) * time.Second).String()
}

func autoMark(p model.Project) string {
	if p.AutoStart {
		return "A"
	}
	return " "
}

func (m dashboardModel) listenMark(port int) string {
	if m.listening[port] {
		return "*"
	}
	return " "
}

func (m dashboardModel) stateMark(projectID string) string {
	if op, ok := m.busy[projectID]; ok && op != "" {
		return strings.ToUpper(op[:1])
	}
	rt, ok := m.runtimeFor(projectID)
	if !ok {
		return " "
	}
	switch rt.State {
	case model.TunnelUp:
		return "U"
	case model.TunnelStarting:
		return "S"
	case model.TunnelStopping:
		return "X"
	}
	return " "
}

func (m dashboardModel) guidanceForProject(p model.Project) string {
	var lines []string
	if rt, ok := m.runtimeFor(p.ID); ok && rt.State.Active() {
		lines = append(lines, "  - Press x to stop the tunnel, l to follow its logs.")
		if p.HasDomain() {
			lines = append(lines, fmt.Sprintf("  - Public URL: https://%s", p.Domain))
		}
	} else {
		lines = append(lines, "  - Press s to start the tunnel.")
	}
	if !m.listening[p.LocalPort] {
		lines = append(lines, fmt.Sprintf("  - Nothing is listening on port %d yet; start the local service.", p.LocalPort))
	} else {
		lines = append(lines, "  - Press K to kill the process holding the local port.")
	}
	if !p.HasDomain() {
		lines = append(lines, "  - No domain set; add one with:")
		lines = append(lines, fmt.Sprintf("    portkeeper project set-domain %s app.example.com", p.Name))
	}
	return strings.Join(lines, "\n") + "\n"
}

func (m dashboardModel) renderMainPanels(projectsPanel, detailsPanel string) string {
	width := m.effectiveWidth()
	if width < 96 {
		return lipgloss.JoinVertical(
			lipgloss.Left,
			m.renderPanel("Projects", projectsPanel, width, lipgloss.Color("39")),
			m.renderPanel("Details", detailsPanel, width, lipgloss.Color("69")),
		)
	}
	leftWidth := width / 2
	rightWidth := width - leftWidth
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderPanel("Projects", projectsPanel, leftWidth, lipgloss.Color("39")),
		m.renderPanel("Details", detailsPanel, rightWidth, lipgloss.Color("69")),
	)
}

func (m dashboardModel) helpBlock() string {
	return strings.Join([]string{
		"  Navigation: j/k or arrow keys move selection; o toggles recent-first order.",
		"  Filtering: press /, type project name or domain text, then Enter.",
		"  Tunnel: s starts, x stops; a start waits for the first registered connection.",
		"  Logs: l opens the selected project's daemon output.",
		"  Projects: n adds, d twice deletes (stops the tunnel and removes it remotely), a toggles autostart.",
		"  Ports: K kills whatever process is listening on the project's local port.",
		"  Quit: press q (or Ctrl+C) and all managed tunnels are stopped.",
	}, "\n")
}

func (m dashboardModel) effectiveWidth() int {
	if m.width <= 0 {
		return 100
	}
	return m.width
}

func (m dashboardModel) renderPanel(title, body string, width int, accent lipgloss.Color) string {
	if width < 24 {
		width = 24
	}
	header := lipgloss.NewStyle().Bold(true).Foreground(accent).Render(title)
	content := strings.TrimSuffix(body, "\n")
	panel := strings.TrimSpace(header + "\n" + content)
	return lipgloss.NewStyle().
		Width(width).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accent).
		Padding(0, 1).
		Render(panel)
}
