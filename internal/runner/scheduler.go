package runner

import (
	"context"

	"github.com/jonboulle/clockwork"

	"cellsync/backend"
	"cellsync/internal/engine"
	"cellsync/internal/utils"
)

// progressStarter is the part of the Poller the Scheduler needs.
type progressStarter interface {
	Start(id string) bool
}

// Scheduler runs one self-rearming sync loop per task. A loop syncs, waits
// the task's period, re-reads the task and syncs again while it is active.
type Scheduler struct {
	ctx     context.Context
	engine  engine.Engine
	tasks   backend.TaskStore
	ignores backend.IgnoreStore
	poller  progressStarter
	clock   clockwork.Clock
	events  EventSink
	loops   *registry
}

// NewScheduler creates a scheduler. Engine calls run under ctx, which should
// outlive every loop; Stop never cancels it.
func NewScheduler(ctx context.Context, eng engine.Engine, tasks backend.TaskStore, ignores backend.IgnoreStore,
	poller progressStarter, clock clockwork.Clock, events EventSink) *Scheduler {
	return &Scheduler{
		ctx:     ctx,
		engine:  eng,
		tasks:   tasks,
		ignores: ignores,
		poller:  poller,
		clock:   clock,
		events:  events,
		loops:   newRegistry(),
	}
}

// Start begins a loop for task and returns true, or returns false if a loop
// for the same id is already running. The first sync uses task as given.
func (s *Scheduler) Start(task backend.Task) bool {
	s.loops.mu.Lock()
	l := s.loops.add(task.ID)
	s.loops.mu.Unlock()
	if l == nil {
		return false
	}

	utils.Debugf("scheduler: start %s every %s", task.ID, task.Period())
	go s.run(l, task)
	return true
}

// Stop ends the loop for id. A pending wait is abandoned; an engine call in
// flight is left to settle and its outcome is ignored. Stopping an id with
// no loop does nothing.
func (s *Scheduler) Stop(id string) {
	s.loops.stop(id)
}

// StopAll stops every loop.
func (s *Scheduler) StopAll() {
	s.loops.stopAll()
}

// Running reports whether a loop for id is live.
func (s *Scheduler) Running(id string) bool {
	return s.loops.running(id)
}

// Wait blocks until every loop goroutine has returned.
func (s *Scheduler) Wait() {
	s.loops.group.Wait()
}

func (s *Scheduler) run(l *loop, task backend.Task) {
	defer s.loops.finish(l)
	l.awaitPredecessor()

	for {
		if s.loops.isStopped(l) {
			return
		}

		globals, err := s.ignores.GlobalIgnores(s.ctx)
		if err != nil {
			utils.Warnf("scheduler: reading global ignores: %v", err)
			globals = nil
		}

		err = s.engine.Sync(s.ctx, task, globals)

		s.loops.mu.Lock()
		if l.stopped {
			s.loops.mu.Unlock()
			utils.Debugf("scheduler: %s stopped during sync, result dropped", task.ID)
			return
		}
		if err != nil {
			s.loops.retire(l)
			s.loops.mu.Unlock()
			s.events.OnSyncError(task, err)
			return
		}
		// Started under the lock so a concurrent Stop followed by a poller
		// stop cannot be overtaken.
		s.poller.Start(task.ID)
		s.loops.mu.Unlock()

		timer := s.clock.NewTimer(task.Period())
		select {
		case <-l.stop:
			timer.Stop()
			return
		case <-timer.Chan():
		}

		next, ok := s.rearm(l, task.ID)
		if !ok {
			return
		}
		task = next
	}
}

// rearm re-reads the task. The read and the decision to exit happen under
// the registry lock, so a resume that persists the active flag and then
// calls Start is either seen here or finds this loop already gone.
func (s *Scheduler) rearm(l *loop, id string) (backend.Task, bool) {
	s.loops.mu.Lock()
	defer s.loops.mu.Unlock()

	if l.stopped {
		return backend.Task{}, false
	}
	fresh, err := s.tasks.GetTask(s.ctx, id)
	if err != nil {
		utils.Warnf("scheduler: reading task %s: %v", id, err)
		s.loops.retire(l)
		return backend.Task{}, false
	}
	if fresh == nil || !fresh.Active {
		utils.Debugf("scheduler: %s no longer active, not re-arming", id)
		s.loops.retire(l)
		return backend.Task{}, false
	}
	return *fresh, true
}
