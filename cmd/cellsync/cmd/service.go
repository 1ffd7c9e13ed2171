package cmd

import (
	"context"
	"errors"
	"time"

	"cellsync/backend"
	"cellsync/internal/daemon"
	"cellsync/internal/runner"
	"cellsync/internal/utils"
)

// service is what task commands operate on. Tasks are referenced by id or
// unique id prefix.
type service interface {
	// Live reports whether a running daemon answers, so that schedule
	// state in snapshots is meaningful.
	Live() bool
	Snapshot(ctx context.Context) ([]runner.TaskStatus, error)
	Create(ctx context.Context, def backend.Definition) (*backend.Task, error)
	Edit(ctx context.Context, ref string, def backend.Definition) (*backend.Task, error)
	Delete(ctx context.Context, ref string) error
	Pause(ctx context.Context, ref string) (*backend.Task, error)
	Resume(ctx context.Context, ref string) (*backend.Task, error)
	GlobalIgnores(ctx context.Context) ([]string, error)
	SetGlobalIgnores(ctx context.Context, patterns []string) ([]string, error)
}

// findTask resolves ref against a snapshot of svc.
func findTask(ctx context.Context, svc service, ref string) (*runner.TaskStatus, error) {
	statuses, err := svc.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	tasks := make([]backend.Task, len(statuses))
	for i, st := range statuses {
		tasks[i] = st.Task
	}
	task, err := backend.FindTask(tasks, ref)
	if errors.Is(err, backend.ErrTaskNotFound) {
		return nil, utils.ErrTaskNotFound(ref)
	}
	if err != nil {
		return nil, err
	}
	for i := range statuses {
		if statuses[i].Task.ID == task.ID {
			return &statuses[i], nil
		}
	}
	return nil, backend.ErrTaskNotFound
}

// remoteService forwards everything to the running daemon.
type remoteService struct {
	client *daemon.Client
}

func (s *remoteService) Live() bool { return true }

func (s *remoteService) Snapshot(context.Context) ([]runner.TaskStatus, error) {
	return s.client.Tasks()
}

func (s *remoteService) Create(_ context.Context, def backend.Definition) (*backend.Task, error) {
	return s.client.Create(def)
}

func (s *remoteService) Edit(_ context.Context, ref string, def backend.Definition) (*backend.Task, error) {
	return s.client.Edit(ref, def)
}

func (s *remoteService) Delete(_ context.Context, ref string) error {
	return s.client.Delete(ref)
}

func (s *remoteService) Pause(_ context.Context, ref string) (*backend.Task, error) {
	return s.client.Pause(ref)
}

func (s *remoteService) Resume(_ context.Context, ref string) (*backend.Task, error) {
	return s.client.Resume(ref)
}

func (s *remoteService) GlobalIgnores(context.Context) ([]string, error) {
	return s.client.GlobalIgnores()
}

func (s *remoteService) SetGlobalIgnores(_ context.Context, patterns []string) ([]string, error) {
	return s.client.SetGlobalIgnores(patterns)
}

// localService edits the store directly while no daemon runs. Its manager is
// never started: resuming only marks the task active and leaves running it
// to the daemon, which is forked on demand.
type localService struct {
	app *app
	mgr *runner.Manager
}

func (s *localService) Live() bool { return false }

func (s *localService) Snapshot(ctx context.Context) ([]runner.TaskStatus, error) {
	return s.mgr.Snapshot(ctx)
}

func (s *localService) Create(ctx context.Context, def backend.Definition) (*backend.Task, error) {
	return s.mgr.Create(ctx, def)
}

func (s *localService) Edit(ctx context.Context, ref string, def backend.Definition) (*backend.Task, error) {
	id, err := s.mgr.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.mgr.Edit(ctx, id, def)
}

func (s *localService) Delete(ctx context.Context, ref string) error {
	id, err := s.mgr.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	return s.mgr.Delete(ctx, id)
}

// Pause marks the task inactive and tells the engine to stop the current
// transfer. The engine request finishes before the command exits.
func (s *localService) Pause(ctx context.Context, ref string) (*backend.Task, error) {
	id, err := s.mgr.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	task, err := s.mgr.Pause(ctx, id)
	s.mgr.Wait()
	return task, err
}

func (s *localService) Resume(ctx context.Context, ref string) (*backend.Task, error) {
	id, err := s.mgr.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	task, err := s.mgr.Activate(ctx, id)
	if err != nil {
		return nil, err
	}
	s.app.ensureDaemon()
	return task, nil
}

func (s *localService) GlobalIgnores(ctx context.Context) ([]string, error) {
	return s.mgr.GlobalIgnores(ctx)
}

func (s *localService) SetGlobalIgnores(ctx context.Context, patterns []string) ([]string, error) {
	if err := s.mgr.SetGlobalIgnores(ctx, patterns); err != nil {
		return nil, err
	}
	return s.mgr.GlobalIgnores(ctx)
}

// ensureDaemon starts the background daemon so active tasks get run.
// Failure is reported but not fatal: the task stays active and the next
// daemon start picks it up.
func (a *app) ensureDaemon() {
	if a.cfg.NoFork || a.daemonRunning() {
		return
	}
	dc := a.daemonConfig()
	if err := daemon.Fork(dc); err != nil {
		utils.Warnf("could not start daemon: %v", err)
		return
	}
	if !daemon.WaitRunning(dc, 5*time.Second) {
		utils.Warnf("daemon did not come up, see %s", dc.LogPath)
	}
}
