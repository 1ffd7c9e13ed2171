// Package runner drives recurring synchronization of tasks: one
// self-rearming scheduler loop and one progress poller per active task,
// plus the lifecycle operations that start and stop them.
package runner

import (
	"cellsync/backend"
	"cellsync/internal/engine"
	"cellsync/internal/utils"
)

// EventSink receives failures that loops absorb instead of returning.
type EventSink interface {
	OnSyncError(task backend.Task, err error)
	OnProgressError(taskID string, err error)
	OnPauseError(taskID string, err error)
}

// LogSink writes loop failures to the application logger.
type LogSink struct{}

func (LogSink) OnSyncError(task backend.Task, err error) {
	utils.Warnf("sync of %s (%s) failed: %s", task.ID, task.LocalPath, engine.Message(err))
}

func (LogSink) OnProgressError(taskID string, err error) {
	utils.Debugf("progress of %s unavailable: %v", taskID, err)
}

func (LogSink) OnPauseError(taskID string, err error) {
	utils.Warnf("engine pause of %s failed: %s", taskID, engine.Message(err))
}

// MultiSink fans events out to several sinks.
type MultiSink []EventSink

func (m MultiSink) OnSyncError(task backend.Task, err error) {
	for _, s := range m {
		s.OnSyncError(task, err)
	}
}

func (m MultiSink) OnProgressError(taskID string, err error) {
	for _, s := range m {
		s.OnProgressError(taskID, err)
	}
}

func (m MultiSink) OnPauseError(taskID string, err error) {
	for _, s := range m {
		s.OnPauseError(taskID, err)
	}
}
