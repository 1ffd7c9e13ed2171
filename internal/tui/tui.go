// Package tui provides the live status dashboard: every task with its run
// state and sync progress, refreshed on a timer.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"cellsync/backend"
	"cellsync/internal/runner"
)

// DefaultRefresh is how often the dashboard reloads task state.
const DefaultRefresh = 500 * time.Millisecond

// Source is where the dashboard reads tasks and sends commands.
// *runner.Manager satisfies it, and so does the daemon client adapter.
type Source interface {
	Snapshot(ctx context.Context) ([]runner.TaskStatus, error)
	Pause(ctx context.Context, id string) (*backend.Task, error)
	Resume(ctx context.Context, id string) (*backend.Task, error)
	Delete(ctx context.Context, id string) error
}

// LiveSource is a Source that can tell whether anything runs its tasks.
// Without a runner, scheduler state is meaningless and active tasks are
// shown as just "active".
type LiveSource interface {
	Source
	Live() bool
}

// Mode indicates the current input mode
type Mode int

const (
	ModeNormal Mode = iota
	ModeFilter
	ModeHelp
	ModeConfirmDelete
)

// Model is the dashboard state.
type Model struct {
	source  Source
	ctx     context.Context
	refresh time.Duration

	tasks       []runner.TaskStatus
	live        bool
	filteredIdx []int
	cursor      int

	mode      Mode
	textInput textinput.Model
	filter    string
	status    string
	lastErr   error

	bar    progress.Model
	width  int
	height int

	headerStyle    lipgloss.Style
	selectedStyle  lipgloss.Style
	pausedStyle    lipgloss.Style
	activeStyle    lipgloss.Style
	helpStyle      lipgloss.Style
	errorStyle     lipgloss.Style
	dialogStyle    lipgloss.Style
	statusBarStyle lipgloss.Style
}

type tasksLoadedMsg struct {
	tasks []runner.TaskStatus
	live  bool
}

type actionDoneMsg struct {
	status string
}

type tickMsg time.Time

type errMsg struct {
	err error
}

// New creates a dashboard reading from source every refresh (DefaultRefresh if zero).
func New(source Source, refresh time.Duration) *Model {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	ti := textinput.New()
	ti.Placeholder = "local or remote path..."
	ti.CharLimit = 256

	return &Model{
		source:    source,
		ctx:       context.Background(),
		refresh:   refresh,
		textInput: ti,
		bar:       progress.New(progress.WithDefaultGradient(), progress.WithWidth(20), progress.WithoutPercentage()),
		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252")),
		selectedStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")),
		pausedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
		activeStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")),
		helpStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),
		dialogStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2),
		statusBarStyle: lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1),
	}
}

// Init loads the tasks and starts the refresh timer.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.load(), m.tick())
}

func (m *Model) load() tea.Cmd {
	return func() tea.Msg {
		tasks, err := m.source.Snapshot(m.ctx)
		if err != nil {
			return errMsg{err}
		}
		live := true
		if ls, ok := m.source.(LiveSource); ok {
			live = ls.Live()
		}
		return tasksLoadedMsg{tasks: tasks, live: live}
	}
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) selected() (runner.TaskStatus, bool) {
	if m.cursor < 0 || m.cursor >= len(m.filteredIdx) {
		return runner.TaskStatus{}, false
	}
	return m.tasks[m.filteredIdx[m.cursor]], true
}

func (m *Model) act(verb string, fn func(ctx context.Context, id string) error) tea.Cmd {
	st, ok := m.selected()
	if !ok {
		return nil
	}
	id := st.Task.ID
	return func() tea.Msg {
		if err := fn(m.ctx, id); err != nil {
			return errMsg{err}
		}
		return actionDoneMsg{status: fmt.Sprintf("%s %s", verb, shortID(id))}
	}
}

func (m *Model) pause(ctx context.Context, id string) error {
	_, err := m.source.Pause(ctx, id)
	return err
}

func (m *Model) resume(ctx context.Context, id string) error {
	_, err := m.source.Resume(ctx, id)
	return err
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tasksLoadedMsg:
		m.tasks = msg.tasks
		m.live = msg.live
		m.lastErr = nil
		m.applyFilter()
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.load(), m.tick())

	case actionDoneMsg:
		m.status = msg.status
		return m, m.load()

	case errMsg:
		m.lastErr = msg.err
		return m, nil

	case tea.KeyMsg:
		switch m.mode {
		case ModeFilter:
			return m.handleFilterMode(msg)
		case ModeHelp:
			m.mode = ModeNormal
			return m, nil
		case ModeConfirmDelete:
			return m.handleConfirmDeleteMode(msg)
		}
		return m.handleNormalMode(msg)
	}
	return m, nil
}

func (m *Model) handleNormalMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.filteredIdx)-1 {
			m.cursor++
		}

	case "p":
		return m, m.act("paused", m.pause)

	case "r":
		return m, m.act("resumed", m.resume)

	case "d":
		if _, ok := m.selected(); ok {
			m.mode = ModeConfirmDelete
		}

	case "/":
		m.mode = ModeFilter
		m.textInput.Reset()
		m.textInput.SetValue(m.filter)
		m.textInput.Focus()
		return m, textinput.Blink

	case "?":
		m.mode = ModeHelp
	}
	return m, nil
}

func (m *Model) handleFilterMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.filter = strings.TrimSpace(m.textInput.Value())
		m.applyFilter()
		m.mode = ModeNormal
		return m, nil

	case tea.KeyEsc:
		m.filter = ""
		m.applyFilter()
		m.mode = ModeNormal
		return m, nil
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmDeleteMode(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		m.mode = ModeNormal
		return m, m.act("deleted", m.source.Delete)
	case "n", "N", "esc", "q":
		m.mode = ModeNormal
	}
	return m, nil
}

func (m *Model) applyFilter() {
	m.filteredIdx = m.filteredIdx[:0]
	needle := strings.ToLower(m.filter)
	for i, st := range m.tasks {
		if needle == "" ||
			strings.Contains(strings.ToLower(st.Task.LocalPath), needle) ||
			strings.Contains(strings.ToLower(st.Task.Remote.Path), needle) {
			m.filteredIdx = append(m.filteredIdx, i)
		}
	}
	if m.cursor >= len(m.filteredIdx) {
		m.cursor = len(m.filteredIdx) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// View renders the dashboard
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		m.width = 100
		m.height = 24
	}

	switch m.mode {
	case ModeFilter:
		return m.centerDialog(m.dialogStyle.Render(
			"Filter Tasks\n\n" +
				m.textInput.View() + "\n\n" +
				m.helpStyle.Render("Enter: filter  Esc: clear"),
		))
	case ModeHelp:
		return m.centerDialog(m.dialogStyle.Render(helpText))
	case ModeConfirmDelete:
		st, _ := m.selected()
		return m.centerDialog(m.dialogStyle.Render(
			"Delete sync task " + shortID(st.Task.ID) + "?\n" + st.Task.LocalPath + "\n\n" +
				m.helpStyle.Render("y: yes  n: no"),
		))
	}

	var b strings.Builder
	b.WriteString(m.headerStyle.Render(fmt.Sprintf("  %-8s  %-7s  %-28s  %-28s  %-8s  %s", "ID", "STATE", "LOCAL", "REMOTE", "EVERY", "PROGRESS")))
	b.WriteString("\n")

	if len(m.filteredIdx) == 0 {
		b.WriteString("  No sync tasks\n")
	}
	for row, idx := range m.filteredIdx {
		b.WriteString(m.renderRow(m.tasks[idx], row == m.cursor))
		b.WriteString("\n")
	}

	if m.lastErr != nil {
		b.WriteString("\n")
		b.WriteString(m.errorStyle.Render("Error: " + m.lastErr.Error()))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m *Model) renderRow(st runner.TaskStatus, selected bool) string {
	cursor := " "
	if selected {
		cursor = ">"
	}

	state := m.pausedStyle.Render(fmt.Sprintf("%-7s", "paused"))
	switch {
	case st.Task.Active && !m.live:
		state = m.activeStyle.Render(fmt.Sprintf("%-7s", "active"))
	case st.Task.Active && !st.Scheduled:
		// a failed sync stops the loop until the task is resumed again
		state = m.errorStyle.Render(fmt.Sprintf("%-7s", "stalled"))
	case st.Task.Active && st.Polling:
		state = m.activeStyle.Render(fmt.Sprintf("%-7s", "syncing"))
	case st.Task.Active:
		state = m.activeStyle.Render(fmt.Sprintf("%-7s", "waiting"))
	}

	bar := m.pausedStyle.Render(fmt.Sprintf("%-20s", "-"))
	pct := ""
	if st.Percent != nil {
		bar = m.bar.ViewAs(*st.Percent / 100)
		pct = fmt.Sprintf(" %6.2f%%", *st.Percent)
	}

	id := shortID(st.Task.ID)
	if selected {
		id = m.selectedStyle.Render(fmt.Sprintf("%-8s", id))
	} else {
		id = fmt.Sprintf("%-8s", id)
	}

	return fmt.Sprintf("%s %s  %s  %-28s  %-28s  %-8s  %s%s",
		cursor, id, state,
		truncate(st.Task.LocalPath, 28),
		truncate(st.Task.Remote.Path, 28),
		FormatEvery(st.Task.Interval, st.Task.Unit),
		bar, pct)
}

func (m *Model) renderStatusBar() string {
	active := 0
	for _, st := range m.tasks {
		if st.Task.Active {
			active++
		}
	}
	left := fmt.Sprintf("%d tasks, %d active", len(m.tasks), active)
	if m.status != "" {
		left += "  " + m.status
	}

	right := "p:pause  r:resume  d:delete  q:quit  ?:help"
	if m.filter != "" {
		right = "Filter: " + m.filter + "  " + right
	}

	padding := m.width - len(left) - len(right) - 2
	if padding < 1 {
		padding = 1
	}
	return m.statusBarStyle.Width(m.width).Render(left + strings.Repeat(" ", padding) + right)
}

const helpText = `Help - Key Bindings

Navigation:
  j/↓    Move down
  k/↑    Move up
  /      Filter by local or remote path

Actions:
  r      Resume selected task
  p      Pause selected task
  d      Delete selected task (with confirm)

General:
  ?      Show this help
  q      Quit

Press any key to close`

func (m *Model) centerDialog(dialog string) string {
	lines := strings.Split(dialog, "\n")
	dialogWidth := 0
	for _, line := range lines {
		if w := lipgloss.Width(line); w > dialogWidth {
			dialogWidth = w
		}
	}

	topPad := max((m.height-len(lines))/2, 0)
	leftPad := max((m.width-dialogWidth)/2, 0)

	var b strings.Builder
	b.WriteString(strings.Repeat("\n", topPad))
	for _, line := range lines {
		b.WriteString(strings.Repeat(" ", leftPad))
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// FormatEvery renders an interval compactly: "30s", "1.5h", "2d".
func FormatEvery(interval float64, unit backend.IntervalUnit) string {
	suffix := map[backend.IntervalUnit]string{
		backend.UnitSecond: "s",
		backend.UnitMinute: "m",
		backend.UnitHour:   "h",
		backend.UnitDay:    "d",
	}[unit]
	if suffix == "" {
		suffix = " " + string(unit)
	}
	return fmt.Sprintf("%g%s", interval, suffix)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return "…" + string(r[len(r)-n+1:])
}
