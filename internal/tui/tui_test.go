package tui_test

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/exp/teatest"

	"cellsync/backend"
	"cellsync/internal/runner"
	"cellsync/internal/tui"
)

const (
	docsID  = "11111111-aaaa-4000-8000-000000000001"
	musicID = "22222222-bbbb-4000-8000-000000000002"
)

type fakeSource struct {
	mu      sync.Mutex
	tasks   []runner.TaskStatus
	err     error
	paused  []string
	resumed []string
	deleted []string
}

func percent(p float64) *float64 { return &p }

func newFakeSource() *fakeSource {
	return &fakeSource{
		tasks: []runner.TaskStatus{
			{
				Task: backend.Task{
					ID: docsID, LocalPath: "/home/u/docs", Active: true,
					Remote:   backend.RemoteNode{Path: "personal-files/docs"},
					Interval: 5, Unit: backend.UnitMinute,
				},
				Scheduled: true, Polling: true, Percent: percent(42.5),
			},
			{
				Task: backend.Task{
					ID: musicID, LocalPath: "/home/u/music",
					Remote:   backend.RemoteNode{Path: "common-files/music"},
					Interval: 1, Unit: backend.UnitDay,
				},
			},
		},
	}
}

func (f *fakeSource) Snapshot(context.Context) ([]runner.TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return slices.Clone(f.tasks), nil
}

func (f *fakeSource) Pause(_ context.Context, id string) (*backend.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = append(f.paused, id)
	return &backend.Task{ID: id}, nil
}

func (f *fakeSource) Resume(_ context.Context, id string) (*backend.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumed = append(f.resumed, id)
	return &backend.Task{ID: id, Active: true}, nil
}

func (f *fakeSource) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	f.tasks = slices.DeleteFunc(f.tasks, func(st runner.TaskStatus) bool { return st.Task.ID == id })
	return nil
}

func (f *fakeSource) calls() (paused, resumed, deleted []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.paused), slices.Clone(f.resumed), slices.Clone(f.deleted)
}

func startModel(t *testing.T, src tui.Source) *teatest.TestModel {
	t.Helper()
	return teatest.NewTestModel(t, tui.New(src, 20*time.Millisecond), teatest.WithInitialTermSize(120, 24))
}

func waitForOutput(t *testing.T, tm *teatest.TestModel, want ...string) {
	t.Helper()
	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		for _, w := range want {
			if !bytes.Contains(out, []byte(w)) {
				return false
			}
		}
		return true
	}, teatest.WithDuration(2*time.Second), teatest.WithCheckInterval(10*time.Millisecond))
}

func keys(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func finalView(t *testing.T, tm *teatest.TestModel) string {
	t.Helper()
	if err := tm.Quit(); err != nil {
		t.Fatal(err)
	}
	return tm.FinalModel(t, teatest.WithFinalTimeout(2*time.Second)).View()
}

func TestDashboardShowsTasks(t *testing.T) {
	tm := startModel(t, newFakeSource())

	waitForOutput(t, tm, "/home/u/docs", "42.50%", "/home/u/music", "paused", "2 tasks, 1 active")

	view := finalView(t, tm)
	if !strings.Contains(view, "5m") || !strings.Contains(view, "1d") {
		t.Errorf("intervals not rendered:\n%s", view)
	}
}

func TestDashboardPauseAndResume(t *testing.T) {
	src := newFakeSource()
	tm := startModel(t, src)
	waitForOutput(t, tm, "/home/u/docs")

	tm.Send(keys("p"))
	waitForOutput(t, tm, "paused 11111111")

	tm.Send(keys("j"))
	tm.Send(keys("r"))
	waitForOutput(t, tm, "resumed 22222222")
	_ = finalView(t, tm)

	paused, resumed, _ := src.calls()
	if !slices.Equal(paused, []string{docsID}) {
		t.Errorf("paused = %v", paused)
	}
	if !slices.Equal(resumed, []string{musicID}) {
		t.Errorf("resumed = %v", resumed)
	}
}

func TestDashboardDeleteConfirm(t *testing.T) {
	src := newFakeSource()
	tm := startModel(t, src)
	waitForOutput(t, tm, "/home/u/docs")

	tm.Send(keys("d"))
	waitForOutput(t, tm, "Delete sync task 11111111?")
	tm.Send(keys("y"))
	waitForOutput(t, tm, "deleted 11111111")

	view := finalView(t, tm)
	if strings.Contains(view, "/home/u/docs") {
		t.Errorf("deleted task still shown:\n%s", view)
	}
	if _, _, deleted := src.calls(); !slices.Equal(deleted, []string{docsID}) {
		t.Errorf("deleted = %v", deleted)
	}
}

func TestDashboardDeleteCancel(t *testing.T) {
	src := newFakeSource()
	tm := startModel(t, src)
	waitForOutput(t, tm, "/home/u/docs")

	tm.Send(keys("d"))
	waitForOutput(t, tm, "y: yes  n: no")
	tm.Send(keys("n"))

	view := finalView(t, tm)
	if !strings.Contains(view, "/home/u/docs") {
		t.Errorf("task missing after cancel:\n%s", view)
	}
	if _, _, deleted := src.calls(); len(deleted) != 0 {
		t.Errorf("deleted = %v, want none", deleted)
	}
}

func TestDashboardFilter(t *testing.T) {
	tm := startModel(t, newFakeSource())
	waitForOutput(t, tm, "/home/u/docs")

	tm.Send(keys("/"))
	waitForOutput(t, tm, "Filter Tasks")
	tm.Send(keys("music"))
	tm.Send(tea.KeyMsg{Type: tea.KeyEnter})
	waitForOutput(t, tm, "Filter: music")

	view := finalView(t, tm)
	if strings.Contains(view, "/home/u/docs") {
		t.Errorf("filtered-out task still shown:\n%s", view)
	}
	if !strings.Contains(view, "/home/u/music") {
		t.Errorf("matching task missing:\n%s", view)
	}
}

func TestDashboardShowsErrors(t *testing.T) {
	src := newFakeSource()
	src.err = errors.New("daemon is not running")
	tm := startModel(t, src)

	waitForOutput(t, tm, "Error: daemon is not running", "No sync tasks")
	_ = finalView(t, tm)
}

func TestDashboardStalledTask(t *testing.T) {
	src := newFakeSource()
	src.tasks[0].Scheduled = false
	src.tasks[0].Polling = false
	src.tasks[0].Percent = nil
	tm := startModel(t, src)

	waitForOutput(t, tm, "stalled")
	_ = finalView(t, tm)
}

// offlineSource has no runner behind it, like the task store without a daemon.
type offlineSource struct {
	*fakeSource
}

func (offlineSource) Live() bool { return false }

func TestDashboardWithoutRunner(t *testing.T) {
	src := newFakeSource()
	src.tasks[0].Scheduled = false
	src.tasks[0].Polling = false
	src.tasks[0].Percent = nil
	tm := startModel(t, offlineSource{src})

	waitForOutput(t, tm, "/home/u/docs", "active")
	view := finalView(t, tm)
	if strings.Contains(view, "stalled") {
		t.Errorf("task without a runner shown as stalled:\n%s", view)
	}
}

func TestDashboardHelp(t *testing.T) {
	tm := startModel(t, newFakeSource())
	waitForOutput(t, tm, "/home/u/docs")

	tm.Send(keys("?"))
	waitForOutput(t, tm, "Help - Key Bindings")
	tm.Send(keys("x"))

	view := finalView(t, tm)
	if strings.Contains(view, "Help - Key Bindings") {
		t.Error("help still open after a key press")
	}
}

func TestFormatEvery(t *testing.T) {
	tests := []struct {
		interval float64
		unit     backend.IntervalUnit
		want     string
	}{
		{30, backend.UnitSecond, "30s"},
		{5, backend.UnitMinute, "5m"},
		{1.5, backend.UnitHour, "1.5h"},
		{2, backend.UnitDay, "2d"},
	}
	for _, tt := range tests {
		if got := tui.FormatEvery(tt.interval, tt.unit); got != tt.want {
			t.Errorf("FormatEvery(%v, %s) = %q, want %q", tt.interval, tt.unit, got, tt.want)
		}
	}
}
