package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"cellsync/backend"
	"cellsync/backend/sqlite"
	"cellsync/internal/engine"
	"cellsync/internal/engine/enginetest"
)

// =============================================================================
// Test Helpers
// =============================================================================

const waitFor = 2 * time.Second

type recordingSink struct {
	mu       sync.Mutex
	sync     []error
	progress []error
	pause    []error
}

func (r *recordingSink) OnSyncError(task backend.Task, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sync = append(r.sync, err)
}

func (r *recordingSink) OnProgressError(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, err)
}

func (r *recordingSink) OnPauseError(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pause = append(r.pause, err)
}

func (r *recordingSink) counts() (syncErrs, progressErrs, pauseErrs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sync), len(r.progress), len(r.pause)
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	clock  *clockwork.FakeClock
	eng    *enginetest.Fake
	store  backend.Store
	events *recordingSink
	mgr    *Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite.New error: %v", err)
	}
	h := &harness{
		t:      t,
		ctx:    context.Background(),
		clock:  clockwork.NewFakeClock(),
		eng:    enginetest.New(),
		store:  store,
		events: &recordingSink{},
	}
	h.mgr = NewManager(h.ctx, store, h.eng, Options{Clock: h.clock, PollInterval: 500 * time.Millisecond, Events: h.events})
	t.Cleanup(func() {
		h.mgr.Shutdown()
		h.mgr.Wait()
		_ = store.Close()
	})
	return h
}

func (h *harness) create(interval float64, unit backend.IntervalUnit) *backend.Task {
	h.t.Helper()
	task, err := h.mgr.Create(h.ctx, backend.Definition{
		LocalPath: "/home/u/photos",
		Remote:    backend.RemoteNode{UUID: "node-1", Path: "personal-files/photos"},
		Interval:  interval,
		Unit:      unit,
	})
	if err != nil {
		h.t.Fatalf("Create error: %v", err)
	}
	return task
}

func (h *harness) resume(id string) {
	h.t.Helper()
	if _, err := h.mgr.Resume(h.ctx, id); err != nil {
		h.t.Fatalf("Resume error: %v", err)
	}
}

// waitTimers blocks until n timers are pending on the fake clock.
func (h *harness) waitTimers(n int) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(h.ctx, waitFor)
	defer cancel()
	if err := h.clock.BlockUntilContext(ctx, n); err != nil {
		h.t.Fatalf("waiting for %d timers: %v", n, err)
	}
}

func recv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never met: %s", what)
}

// =============================================================================
// Scenarios
// =============================================================================

// TestResumeSyncsAndRearms: immediate sync on resume, polling starts, a second
// sync follows one period later while the task stays active.
func TestResumeSyncsAndRearms(t *testing.T) {
	h := newHarness(t)
	task := h.create(1, backend.UnitMinute)

	h.resume(task.ID)
	first := recv(t, h.eng.SyncCalls, "first sync")
	if first.Task.ID != task.ID {
		t.Fatalf("synced %s, want %s", first.Task.ID, task.ID)
	}
	recv(t, h.eng.ProgressCalls, "first progress tick")

	h.waitTimers(2) // scheduler period + poller interval
	if n := len(h.eng.Syncs()); n != 1 {
		t.Fatalf("expected 1 sync before the period elapsed, got %d", n)
	}

	h.clock.Advance(time.Minute)
	recv(t, h.eng.SyncCalls, "second sync")
}

// TestPauseBeforePeriodPreventsRearm: pause inside the period calls the engine,
// clears the flag and no second sync happens.
func TestPauseBeforePeriodPreventsRearm(t *testing.T) {
	h := newHarness(t)
	task := h.create(1, backend.UnitMinute)

	h.resume(task.ID)
	recv(t, h.eng.SyncCalls, "first sync")
	h.waitTimers(2)

	paused, err := h.mgr.Pause(h.ctx, task.ID)
	if err != nil {
		t.Fatalf("Pause error: %v", err)
	}
	if paused.Active {
		t.Error("Pause returned an active task")
	}
	if id := recv(t, h.eng.PauseCalls, "engine pause"); id != task.ID {
		t.Errorf("engine paused %s, want %s", id, task.ID)
	}
	stored, _ := h.mgr.Get(h.ctx, task.ID)
	if stored.Active {
		t.Error("stored task still active")
	}

	h.clock.Advance(time.Minute)
	eventually(t, func() bool { return !h.mgr.scheduler.Running(task.ID) }, "scheduler exits")
	eventually(t, func() bool { return !h.mgr.poller.Running(task.ID) }, "poller exits")
	if n := len(h.eng.Syncs()); n != 1 {
		t.Errorf("expected exactly 1 sync, got %d", n)
	}
}

// TestProgressPublishesPercent: 50 of 200 publishes 25.
func TestProgressPublishesPercent(t *testing.T) {
	h := newHarness(t)
	h.eng.SetProgress(func(id string) (engine.Counters, error) {
		return engine.Counters{Current: 50, Total: 200}, nil
	})
	task := h.create(1, backend.UnitHour)

	h.resume(task.ID)
	recv(t, h.eng.ProgressCalls, "progress tick")
	eventually(t, func() bool {
		p, ok := h.mgr.Board().Get(task.ID)
		return ok && p == 25.00
	}, "25% published")

	snap, err := h.mgr.Snapshot(h.ctx)
	if err != nil {
		t.Fatalf("Snapshot error: %v", err)
	}
	if len(snap) != 1 || snap[0].Percent == nil || *snap[0].Percent != 25 || !snap[0].Scheduled || !snap[0].Polling {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

// TestSyncFailureStalls: a failed sync starts no poller and never re-arms on
// its own; only a new resume tries again.
func TestSyncFailureStalls(t *testing.T) {
	h := newHarness(t)
	h.eng.SetSync(func(backend.Task, []string) error { return enginetest.Unreachable("sync") })
	task := h.create(1, backend.UnitMinute)

	h.resume(task.ID)
	recv(t, h.eng.SyncCalls, "failing sync")
	eventually(t, func() bool { return !h.mgr.scheduler.Running(task.ID) }, "scheduler stalls")

	if h.mgr.poller.Running(task.ID) {
		t.Error("poller started after a failed sync")
	}
	if syncErrs, _, _ := h.events.counts(); syncErrs != 1 {
		t.Errorf("expected 1 sync error event, got %d", syncErrs)
	}

	h.clock.Advance(10 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	if n := len(h.eng.Syncs()); n != 1 {
		t.Fatalf("expected no re-arm, got %d syncs", n)
	}
	if h.eng.ProgressCount(task.ID) != 0 {
		t.Error("progress polled after failed sync")
	}

	h.eng.SetSync(nil)
	h.resume(task.ID)
	recv(t, h.eng.SyncCalls, "sync after explicit resume")
}

// TestDeleteStopsEverything: both loops stop, the record and progress are
// gone and the engine hears nothing more about the task.
func TestDeleteStopsEverything(t *testing.T) {
	h := newHarness(t)
	task := h.create(1, backend.UnitMinute)

	h.resume(task.ID)
	recv(t, h.eng.SyncCalls, "sync")
	recv(t, h.eng.ProgressCalls, "progress")
	h.waitTimers(2)

	if err := h.mgr.Delete(h.ctx, task.ID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if h.mgr.scheduler.Running(task.ID) || h.mgr.poller.Running(task.ID) {
		t.Error("loops still registered after delete")
	}
	if _, err := h.mgr.Get(h.ctx, task.ID); !errors.Is(err, backend.ErrTaskNotFound) {
		t.Errorf("Get after delete = %v, want ErrTaskNotFound", err)
	}
	if _, ok := h.mgr.Board().Get(task.ID); ok {
		t.Error("progress entry survived delete")
	}

	syncs, ticks := len(h.eng.Syncs()), h.eng.ProgressCount(task.ID)
	h.clock.Advance(5 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	if len(h.eng.Syncs()) != syncs || h.eng.ProgressCount(task.ID) != ticks {
		t.Error("engine called after delete")
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestCreateIsInactiveAndListed(t *testing.T) {
	h := newHarness(t)
	task := h.create(30, backend.UnitSecond)

	tasks, err := h.mgr.List(h.ctx)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != task.ID || tasks[0].Active {
		t.Errorf("List = %+v, want one inactive task", tasks)
	}
	if h.mgr.scheduler.Running(task.ID) {
		t.Error("create must not start a scheduler")
	}
	if len(h.eng.Syncs()) != 0 {
		t.Error("create must not sync")
	}
}

func TestCreateRejectsInvalid(t *testing.T) {
	h := newHarness(t)
	_, err := h.mgr.Create(h.ctx, backend.Definition{LocalPath: "/a", Remote: backend.RemoteNode{UUID: "n"}, Interval: 0, Unit: backend.UnitMinute})
	if !backend.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	tasks, _ := h.mgr.List(h.ctx)
	if len(tasks) != 0 {
		t.Error("invalid definition was persisted")
	}
}

func TestOverflowingPeriodRejected(t *testing.T) {
	h := newHarness(t)
	def := backend.Definition{LocalPath: "/a", Remote: backend.RemoteNode{UUID: "n"}, Interval: 200000, Unit: backend.UnitDay}
	if _, err := h.mgr.Create(h.ctx, def); !backend.IsValidation(err) {
		t.Fatalf("Create(200000 days) = %v, want validation error", err)
	}

	task := h.create(1, backend.UnitHour)
	if _, err := h.mgr.Edit(h.ctx, task.ID, def); !backend.IsValidation(err) {
		t.Fatalf("Edit(200000 days) = %v, want validation error", err)
	}
	stored, _ := h.mgr.Get(h.ctx, task.ID)
	if stored.Interval != 1 || stored.Unit != backend.UnitHour {
		t.Errorf("rejected edit changed the task to %v %s", stored.Interval, stored.Unit)
	}
}

// TestLongestPeriodWaits: the largest accepted period still arms a real wait,
// so nothing syncs again until the clock moves.
func TestLongestPeriodWaits(t *testing.T) {
	h := newHarness(t)
	task := h.create(106000, backend.UnitDay)

	h.resume(task.ID)
	recv(t, h.eng.SyncCalls, "first sync")
	h.waitTimers(2)
	time.Sleep(50 * time.Millisecond)

	if n := len(h.eng.Syncs()); n != 1 {
		t.Fatalf("expected 1 sync with the clock stopped, got %d", n)
	}
}

func TestResumeTwiceStartsOneScheduler(t *testing.T) {
	h := newHarness(t)
	task := h.create(1, backend.UnitMinute)

	h.resume(task.ID)
	h.resume(task.ID)
	recv(t, h.eng.SyncCalls, "sync")
	h.waitTimers(2)

	if n := len(h.eng.Syncs()); n != 1 {
		t.Errorf("expected 1 sync for two resumes, got %d", n)
	}
}

// gatedSync makes the first sync block until the returned channel is closed.
func gatedSync(h *harness) chan struct{} {
	gate := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	h.eng.SetSync(func(backend.Task, []string) error {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			<-gate
		}
		return nil
	})
	return gate
}

// TestPauseResumeDuringSync: a resume right after a pause while the first
// sync is still out is not lost.
func TestPauseResumeDuringSync(t *testing.T) {
	h := newHarness(t)
	gate := gatedSync(h)
	task := h.create(1, backend.UnitMinute)

	h.resume(task.ID)
	recv(t, h.eng.SyncCalls, "first sync")

	if _, err := h.mgr.Pause(h.ctx, task.ID); err != nil {
		t.Fatalf("Pause error: %v", err)
	}
	h.resume(task.ID)
	close(gate)

	h.waitTimers(2)
	h.clock.Advance(time.Minute)
	recv(t, h.eng.SyncCalls, "sync after the period")
	if !h.mgr.scheduler.Running(task.ID) {
		t.Error("resumed task not scheduled")
	}
}

// TestRestartDuringSyncDoesNotOverlap: a loop started while a stopped loop's
// sync is still out waits for that sync to settle.
func TestRestartDuringSyncDoesNotOverlap(t *testing.T) {
	h := newHarness(t)
	gate := gatedSync(h)
	task := h.create(1, backend.UnitMinute)

	h.resume(task.ID)
	recv(t, h.eng.SyncCalls, "first sync")

	h.mgr.Shutdown()
	if _, err := h.mgr.Start(h.ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if !h.mgr.scheduler.Running(task.ID) {
		t.Fatal("restart did not register a loop")
	}

	time.Sleep(20 * time.Millisecond)
	if n := len(h.eng.Syncs()); n != 1 {
		t.Fatalf("second sync overlapped the first: %d calls", n)
	}

	close(gate)
	recv(t, h.eng.SyncCalls, "sync of the restarted loop")
}

func TestEditAppliesAtNextRearm(t *testing.T) {
	h := newHarness(t)
	task := h.create(1, backend.UnitMinute)

	h.resume(task.ID)
	recv(t, h.eng.SyncCalls, "first sync")
	h.waitTimers(2)

	def := task.Definition()
	def.LocalPath = "/home/u/pictures"
	def.Interval = 2
	edited, err := h.mgr.Edit(h.ctx, task.ID, def)
	if err != nil {
		t.Fatalf("Edit error: %v", err)
	}
	if !edited.Active || edited.ID != task.ID {
		t.Errorf("Edit changed identity or state: %+v", edited)
	}

	h.clock.Advance(time.Minute)
	second := recv(t, h.eng.SyncCalls, "second sync")
	if second.Task.LocalPath != "/home/u/pictures" {
		t.Errorf("second sync used %q, want edited path", second.Task.LocalPath)
	}
}

func TestEditUnknownTask(t *testing.T) {
	h := newHarness(t)
	def := backend.Definition{LocalPath: "/a", Remote: backend.RemoteNode{UUID: "n"}, Interval: 1, Unit: backend.UnitDay}
	if _, err := h.mgr.Edit(h.ctx, "missing", def); !errors.Is(err, backend.ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestSyncReceivesGlobalIgnores(t *testing.T) {
	h := newHarness(t)
	if err := h.mgr.SetGlobalIgnores(h.ctx, []string{".git", "*.swp"}); err != nil {
		t.Fatalf("SetGlobalIgnores error: %v", err)
	}
	task := h.create(1, backend.UnitMinute)

	h.resume(task.ID)
	call := recv(t, h.eng.SyncCalls, "sync")
	if len(call.Ignores) != 2 || call.Ignores[0] != ".git" || call.Ignores[1] != "*.swp" {
		t.Errorf("sync ignores = %v", call.Ignores)
	}
}

func TestSetGlobalIgnoresRejectsBadGlob(t *testing.T) {
	h := newHarness(t)
	if err := h.mgr.SetGlobalIgnores(h.ctx, []string{"[unclosed"}); !backend.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestProgressFailureKeepsPolling(t *testing.T) {
	h := newHarness(t)
	h.eng.SetProgress(func(string) (engine.Counters, error) {
		return engine.Counters{}, enginetest.Unreachable("progress")
	})
	task := h.create(1, backend.UnitHour)

	h.resume(task.ID)
	recv(t, h.eng.ProgressCalls, "first tick")
	h.waitTimers(2)
	h.clock.Advance(500 * time.Millisecond)
	recv(t, h.eng.ProgressCalls, "second tick")

	_, progressErrs, _ := h.events.counts()
	if progressErrs < 1 {
		t.Error("progress failure not reported")
	}
	if _, ok := h.mgr.Board().Get(task.ID); ok {
		t.Error("failed progress published a value")
	}
}

func TestZeroTotalPublishesNothing(t *testing.T) {
	h := newHarness(t)
	h.eng.SetProgress(func(string) (engine.Counters, error) {
		return engine.Counters{Current: 0, Total: 0}, nil
	})
	task := h.create(1, backend.UnitHour)

	h.resume(task.ID)
	recv(t, h.eng.ProgressCalls, "tick")
	eventually(t, func() bool { _, n, _ := h.events.counts(); return n > 0 }, "malformed progress reported")
	if _, ok := h.mgr.Board().Get(task.ID); ok {
		t.Error("zero total published a value")
	}
}

func TestPauseEngineFailureOnlyReported(t *testing.T) {
	h := newHarness(t)
	h.eng.PauseFunc = func(string) error { return enginetest.Unreachable("pause") }
	task := h.create(1, backend.UnitMinute)

	paused, err := h.mgr.Pause(h.ctx, task.ID)
	if err != nil {
		t.Fatalf("Pause error: %v", err)
	}
	if paused.Active {
		t.Error("task still active")
	}
	eventually(t, func() bool { _, _, n := h.events.counts(); return n == 1 }, "pause failure reported")
}

func TestStartResumesActiveTasksOnly(t *testing.T) {
	h := newHarness(t)
	active := h.create(1, backend.UnitMinute)
	idle := h.create(1, backend.UnitMinute)
	if _, err := h.mgr.Activate(h.ctx, active.ID); err != nil {
		t.Fatalf("Activate error: %v", err)
	}
	if h.mgr.scheduler.Running(active.ID) {
		t.Fatal("Activate must not start a loop")
	}

	started, err := h.mgr.Start(h.ctx)
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if started != 1 {
		t.Errorf("started %d tasks, want 1", started)
	}
	call := recv(t, h.eng.SyncCalls, "sync of active task")
	if call.Task.ID != active.ID {
		t.Errorf("synced %s, want %s", call.Task.ID, active.ID)
	}
	if h.mgr.scheduler.Running(idle.ID) {
		t.Error("inactive task was started")
	}
}

func TestShutdownKeepsActiveFlags(t *testing.T) {
	h := newHarness(t)
	task := h.create(1, backend.UnitMinute)
	h.resume(task.ID)
	recv(t, h.eng.SyncCalls, "sync")

	h.mgr.Shutdown()
	eventually(t, func() bool { return !h.mgr.scheduler.Running(task.ID) }, "scheduler stopped")

	stored, _ := h.mgr.Get(h.ctx, task.ID)
	if !stored.Active {
		t.Error("shutdown cleared the active flag")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.mgr.scheduler.Stop("nothing")
	h.mgr.poller.Stop("nothing")

	task := h.create(1, backend.UnitMinute)
	h.resume(task.ID)
	recv(t, h.eng.SyncCalls, "sync")
	h.mgr.scheduler.Stop(task.ID)
	h.mgr.scheduler.Stop(task.ID)
	if h.mgr.scheduler.Running(task.ID) {
		t.Error("still running after Stop")
	}
}

func TestResolvePrefix(t *testing.T) {
	h := newHarness(t)
	task := h.create(1, backend.UnitMinute)
	id, err := h.mgr.Resolve(h.ctx, task.ID[:8])
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if id != task.ID {
		t.Errorf("Resolve = %s, want %s", id, task.ID)
	}
}

func TestWaitCoversPauseRequests(t *testing.T) {
	h := newHarness(t)
	h.eng.PauseFunc = func(string) error {
		time.Sleep(20 * time.Millisecond)
		return enginetest.Unreachable("pause")
	}
	task := h.create(1, backend.UnitMinute)

	if _, err := h.mgr.Pause(h.ctx, task.ID); err != nil {
		t.Fatalf("Pause error: %v", err)
	}
	h.mgr.Wait()

	if _, _, pauseErrs := h.events.counts(); pauseErrs != 1 {
		t.Errorf("pause errors after Wait = %d, want 1", pauseErrs)
	}
}
