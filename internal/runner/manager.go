package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"cellsync/backend"
	"cellsync/internal/engine"
	"cellsync/internal/utils"
)

// Options configures a Manager.
type Options struct {
	Clock        clockwork.Clock // defaults to the real clock
	PollInterval time.Duration   // defaults to DefaultPollInterval
	Events       EventSink       // defaults to LogSink
}

// TaskStatus is a task together with its runtime state.
type TaskStatus struct {
	Task      backend.Task `json:"task"`
	Scheduled bool         `json:"scheduled"`
	Polling   bool         `json:"polling"`
	Percent   *float64     `json:"percent,omitempty"`
}

// Manager owns the task lifecycle. It is the single writer of the store:
// every mutation runs under its mutex.
type Manager struct {
	mu         sync.Mutex
	store      backend.Store
	engine     engine.Engine
	board      *Board
	scheduler  *Scheduler
	poller     *Poller
	controller *Controller
}

// NewManager wires scheduler, poller and controller around store and eng.
// ctx is handed to every engine call and should live as long as the Manager.
func NewManager(ctx context.Context, store backend.Store, eng engine.Engine, opts Options) *Manager {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	events := opts.Events
	if events == nil {
		events = LogSink{}
	}

	board := NewBoard()
	poller := NewPoller(ctx, eng, store, board, clock, opts.PollInterval, events)
	scheduler := NewScheduler(ctx, eng, store, store, poller, clock, events)

	return &Manager{
		store:      store,
		engine:     eng,
		board:      board,
		scheduler:  scheduler,
		poller:     poller,
		controller: NewController(ctx, store, eng, scheduler, events),
	}
}

// Engine returns the engine the manager drives.
func (m *Manager) Engine() engine.Engine {
	return m.engine
}

// Board returns the progress board.
func (m *Manager) Board() *Board {
	return m.board
}

// Start loads all tasks and starts a scheduler for each active one.
func (m *Manager) Start(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tasks, err := m.store.ListTasks(ctx)
	if err != nil {
		return 0, err
	}
	started := 0
	for _, t := range tasks {
		if t.Active && m.scheduler.Start(t) {
			started++
		}
	}
	utils.Infof("started %d of %d tasks", started, len(tasks))
	return started, nil
}

// Shutdown stops every loop. Active flags are left untouched so the next
// Start resumes the same tasks.
func (m *Manager) Shutdown() {
	m.scheduler.StopAll()
	m.poller.StopAll()
}

// Wait blocks until all loop goroutines and pending engine pause requests have returned.
func (m *Manager) Wait() {
	m.scheduler.Wait()
	m.poller.Wait()
	m.controller.Wait()
}

// Create validates def and stores it as a new inactive task.
func (m *Manager) Create(ctx context.Context, def backend.Definition) (*backend.Task, error) {
	def.Normalize()
	if err := def.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	task := &backend.Task{ID: backend.GenerateID()}
	def.Apply(task)
	if err := m.store.UpsertTask(ctx, task); err != nil {
		return nil, err
	}
	utils.Debugf("created task %s", task.ID)
	return task, nil
}

// Edit replaces every field of the task except its id and active flag.
// Running loops pick the change up at their next re-arm.
func (m *Manager) Edit(ctx context.Context, id string, def backend.Definition) (*backend.Task, error) {
	def.Normalize()
	if err := def.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	task, err := m.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: %s", backend.ErrTaskNotFound, id)
	}
	def.Apply(task)
	if err := m.store.UpsertTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Delete stops the task's loops, forgets its progress and removes it.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, err := m.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("%w: %s", backend.ErrTaskNotFound, id)
	}

	m.scheduler.Stop(id)
	m.poller.Stop(id)
	m.board.Clear(id)
	return m.store.RemoveTask(ctx, id)
}

// Resume activates the task and starts its scheduler.
func (m *Manager) Resume(ctx context.Context, id string) (*backend.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controller.Resume(ctx, id)
}

// Activate persists the task as active without starting a loop.
func (m *Manager) Activate(ctx context.Context, id string) (*backend.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controller.Activate(ctx, id)
}

// Pause requests an engine pause and deactivates the task.
func (m *Manager) Pause(ctx context.Context, id string) (*backend.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controller.Pause(ctx, id)
}

// List returns all tasks in creation order.
func (m *Manager) List(ctx context.Context) ([]backend.Task, error) {
	return m.store.ListTasks(ctx)
}

// Get returns one task or ErrTaskNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*backend.Task, error) {
	task, err := m.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: %s", backend.ErrTaskNotFound, id)
	}
	return task, nil
}

// Resolve maps a full id or unique id prefix to a task id.
func (m *Manager) Resolve(ctx context.Context, ref string) (string, error) {
	tasks, err := m.store.ListTasks(ctx)
	if err != nil {
		return "", err
	}
	task, err := backend.FindTask(tasks, ref)
	if err != nil {
		return "", err
	}
	return task.ID, nil
}

// Snapshot returns every task with its runtime state.
func (m *Manager) Snapshot(ctx context.Context) ([]TaskStatus, error) {
	tasks, err := m.store.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TaskStatus, 0, len(tasks))
	for _, t := range tasks {
		st := TaskStatus{
			Task:      t,
			Scheduled: m.scheduler.Running(t.ID),
			Polling:   m.poller.Running(t.ID),
		}
		if p, ok := m.board.Get(t.ID); ok {
			st.Percent = &p
		}
		out = append(out, st)
	}
	return out, nil
}

// GlobalIgnores returns the global ignore list.
func (m *Manager) GlobalIgnores(ctx context.Context) ([]string, error) {
	return m.store.GlobalIgnores(ctx)
}

// SetGlobalIgnores validates and stores a new global ignore list.
func (m *Manager) SetGlobalIgnores(ctx context.Context, patterns []string) error {
	patterns = backend.NormalizeIgnores(patterns)
	if err := backend.ValidateIgnores(patterns); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.SetGlobalIgnores(ctx, patterns)
}
