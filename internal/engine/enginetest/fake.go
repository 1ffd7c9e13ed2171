// Package enginetest provides an in-memory engine.Engine for tests.
package enginetest

import (
	"context"
	"sync"

	"cellsync/backend"
	"cellsync/internal/engine"
)

// SyncCall records one Sync invocation.
type SyncCall struct {
	Task    backend.Task
	Ignores []string
}

// Fake is a scriptable engine. Unset hooks succeed. Every call is also
// sent on the matching channel so tests can wait for it.
type Fake struct {
	mu sync.Mutex

	SyncFunc     func(task backend.Task, ignores []string) error
	ProgressFunc func(id string) (engine.Counters, error)
	PauseFunc    func(id string) error
	LoginFunc    func(endpoint, username, secret string) (engine.User, error)
	Nodes        map[string][]backend.RemoteNode

	SyncCalls     chan SyncCall
	ProgressCalls chan string
	PauseCalls    chan string

	syncs    []SyncCall
	progress []string
	pauses   []string
}

// New creates a Fake with buffered call channels.
func New() *Fake {
	return &Fake{
		SyncCalls:     make(chan SyncCall, 256),
		ProgressCalls: make(chan string, 1024),
		PauseCalls:    make(chan string, 64),
	}
}

var _ engine.Engine = (*Fake)(nil)

func (f *Fake) Login(ctx context.Context, endpoint, username, secret string) (engine.User, error) {
	f.mu.Lock()
	fn := f.LoginFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(endpoint, username, secret)
	}
	return engine.User{UUID: "user-" + username, DisplayName: username}, nil
}

func (f *Fake) List(ctx context.Context, remotePath string) ([]backend.RemoteNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	nodes, ok := f.Nodes[remotePath]
	if !ok {
		return nil, &engine.Error{Kind: engine.KindRejected, Op: "list", Message: "no such path " + remotePath}
	}
	return nodes, nil
}

func (f *Fake) Sync(ctx context.Context, task backend.Task, ignores []string) error {
	call := SyncCall{Task: task, Ignores: append([]string(nil), ignores...)}
	f.mu.Lock()
	f.syncs = append(f.syncs, call)
	fn := f.SyncFunc
	f.mu.Unlock()

	select {
	case f.SyncCalls <- call:
	default:
	}
	if fn != nil {
		return fn(task, ignores)
	}
	return nil
}

func (f *Fake) Pause(ctx context.Context, id string) error {
	f.mu.Lock()
	f.pauses = append(f.pauses, id)
	fn := f.PauseFunc
	f.mu.Unlock()

	select {
	case f.PauseCalls <- id:
	default:
	}
	if fn != nil {
		return fn(id)
	}
	return nil
}

func (f *Fake) Progress(ctx context.Context, id string) (engine.Counters, error) {
	f.mu.Lock()
	f.progress = append(f.progress, id)
	fn := f.ProgressFunc
	f.mu.Unlock()

	select {
	case f.ProgressCalls <- id:
	default:
	}
	if fn != nil {
		return fn(id)
	}
	return engine.Counters{Current: 0, Total: 1}, nil
}

// SetSync replaces the sync hook.
func (f *Fake) SetSync(fn func(task backend.Task, ignores []string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SyncFunc = fn
}

// SetProgress replaces the progress hook.
func (f *Fake) SetProgress(fn func(id string) (engine.Counters, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ProgressFunc = fn
}

// Syncs returns the Sync calls so far.
func (f *Fake) Syncs() []SyncCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SyncCall(nil), f.syncs...)
}

// ProgressCount returns how many Progress calls were made for id.
func (f *Fake) ProgressCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.progress {
		if p == id {
			n++
		}
	}
	return n
}

// Pauses returns the ids Pause was called with.
func (f *Fake) Pauses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pauses...)
}

// Unreachable is a ready-made transport failure.
func Unreachable(op string) error {
	return &engine.Error{Kind: engine.KindUnreachable, Op: op, Message: "connection refused"}
}
