package runner

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"cellsync/backend"
	"cellsync/internal/engine"
	"cellsync/internal/utils"
)

// DefaultPollInterval is the delay between progress requests.
const DefaultPollInterval = 500 * time.Millisecond

// Poller runs one progress loop per task, publishing percentages to a Board
// while the task exists and is active. Failed requests are reported and the
// next tick is scheduled regardless.
type Poller struct {
	ctx      context.Context
	engine   engine.Engine
	tasks    backend.TaskStore
	board    *Board
	clock    clockwork.Clock
	interval time.Duration
	events   EventSink
	loops    *registry
}

// NewPoller creates a poller. interval <= 0 selects DefaultPollInterval.
func NewPoller(ctx context.Context, eng engine.Engine, tasks backend.TaskStore, board *Board,
	clock clockwork.Clock, interval time.Duration, events EventSink) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		ctx:      ctx,
		engine:   eng,
		tasks:    tasks,
		board:    board,
		clock:    clock,
		interval: interval,
		events:   events,
		loops:    newRegistry(),
	}
}

// Start begins polling id unless a poller for it is already running. The
// task's previous percentage is forgotten.
func (p *Poller) Start(id string) bool {
	p.loops.mu.Lock()
	l := p.loops.add(id)
	p.loops.mu.Unlock()
	if l == nil {
		return false
	}

	p.board.Clear(id)
	go p.run(l)
	return true
}

// Stop ends polling for id. Stopping an id that is not polled does nothing.
func (p *Poller) Stop(id string) {
	p.loops.stop(id)
}

// StopAll stops every poller.
func (p *Poller) StopAll() {
	p.loops.stopAll()
}

// Running reports whether id is being polled.
func (p *Poller) Running(id string) bool {
	return p.loops.running(id)
}

// Wait blocks until every poller goroutine has returned.
func (p *Poller) Wait() {
	p.loops.group.Wait()
}

func (p *Poller) run(l *loop) {
	defer p.loops.finish(l)
	l.awaitPredecessor()

	for {
		if !p.stillWanted(l) {
			return
		}

		counters, err := p.engine.Progress(p.ctx, l.id)
		if err == nil {
			var percent float64
			if percent, err = counters.Percent(); err == nil {
				p.publish(l, percent)
			}
		}
		if err != nil {
			p.events.OnProgressError(l.id, err)
		}

		timer := p.clock.NewTimer(p.interval)
		select {
		case <-l.stop:
			timer.Stop()
			return
		case <-timer.Chan():
		}
	}
}

// stillWanted re-reads the task and retires l when it is gone or inactive.
func (p *Poller) stillWanted(l *loop) bool {
	p.loops.mu.Lock()
	defer p.loops.mu.Unlock()

	if l.stopped {
		return false
	}
	task, err := p.tasks.GetTask(p.ctx, l.id)
	if err != nil {
		utils.Warnf("poller: reading task %s: %v", l.id, err)
		p.loops.retire(l)
		return false
	}
	if task == nil || !task.Active {
		p.loops.retire(l)
		return false
	}
	return true
}

// publish stores percent unless l was stopped while the request was out.
func (p *Poller) publish(l *loop, percent float64) {
	p.loops.mu.Lock()
	defer p.loops.mu.Unlock()
	if !l.stopped {
		p.board.Set(l.id, percent)
	}
}
