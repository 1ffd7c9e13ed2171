package runner

import (
	"context"
	"fmt"
	"sync"

	"cellsync/backend"
	"cellsync/internal/engine"
	"cellsync/internal/utils"
)

// Controller flips a task's active flag and starts its scheduler on resume.
// Pausing never stops loops directly; they observe the flag at their next
// boundary.
type Controller struct {
	ctx       context.Context
	tasks     backend.TaskStore
	engine    engine.Engine
	scheduler *Scheduler
	events    EventSink
	pending   sync.WaitGroup // in-flight engine pause requests
}

// NewController creates a controller. ctx bounds the fire-and-forget engine
// pause requests.
func NewController(ctx context.Context, tasks backend.TaskStore, eng engine.Engine, scheduler *Scheduler, events EventSink) *Controller {
	return &Controller{ctx: ctx, tasks: tasks, engine: eng, scheduler: scheduler, events: events}
}

// Wait blocks until every engine pause request has been answered.
func (c *Controller) Wait() {
	c.pending.Wait()
}

// Resume marks the task active, persists it and starts its scheduler. If a
// loop is already running nothing new is started.
func (c *Controller) Resume(ctx context.Context, id string) (*backend.Task, error) {
	task, err := c.Activate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.scheduler.Start(*task) {
		utils.Debugf("resume %s: scheduler already running", id)
	}
	return task, nil
}

// Activate marks the task active and persists it without starting anything.
func (c *Controller) Activate(ctx context.Context, id string) (*backend.Task, error) {
	return c.setActive(ctx, id, true)
}

// Pause asks the engine to halt the task without waiting for its answer,
// then marks the task inactive.
func (c *Controller) Pause(ctx context.Context, id string) (*backend.Task, error) {
	task, err := c.tasks.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: %s", backend.ErrTaskNotFound, id)
	}

	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		if err := c.engine.Pause(c.ctx, id); err != nil {
			c.events.OnPauseError(id, err)
		}
	}()

	return c.setActive(ctx, id, false)
}

func (c *Controller) setActive(ctx context.Context, id string, active bool) (*backend.Task, error) {
	task, err := c.tasks.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: %s", backend.ErrTaskNotFound, id)
	}
	task.Active = active
	if err := c.tasks.UpsertTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}
