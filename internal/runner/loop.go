package runner

import "sync"

// loop is the registration of one per-task goroutine. stop is closed by
// Stop; done is closed when the goroutine returns.
type loop struct {
	id      string
	stop    chan struct{}
	done    chan struct{}
	stopped bool // guarded by the owner's mutex
	prev    *loop
}

func newLoop(id string, prev *loop) *loop {
	return &loop{id: id, stop: make(chan struct{}), done: make(chan struct{}), prev: prev}
}

// registry tracks at most one live loop per task id. A stopped loop whose
// goroutine is still inside an engine call stays reachable as the
// predecessor of the next loop for the same id, which waits for it.
type registry struct {
	mu    sync.Mutex
	live  map[string]*loop
	last  map[string]*loop
	group sync.WaitGroup
}

func newRegistry() *registry {
	return &registry{live: make(map[string]*loop), last: make(map[string]*loop)}
}

// add registers a new loop for id unless one is live. Callers hold r.mu.
func (r *registry) add(id string) *loop {
	if _, ok := r.live[id]; ok {
		return nil
	}
	l := newLoop(id, r.last[id])
	r.live[id] = l
	r.last[id] = l
	r.group.Add(1)
	return l
}

// retire marks l stopped and unregisters it. Callers hold r.mu.
func (r *registry) retire(l *loop) {
	if l.stopped {
		return
	}
	l.stopped = true
	close(l.stop)
	if r.live[l.id] == l {
		delete(r.live, l.id)
	}
}

// finish is deferred by the goroutine of l.
func (r *registry) finish(l *loop) {
	r.mu.Lock()
	r.retire(l)
	if r.last[l.id] == l {
		delete(r.last, l.id)
	}
	l.prev = nil
	r.mu.Unlock()
	close(l.done)
	r.group.Done()
}

func (r *registry) stop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.live[id]; ok {
		r.retire(l)
	}
}

func (r *registry) stopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.live {
		r.retire(l)
	}
}

func (r *registry) running(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.live[id]
	return ok
}

func (r *registry) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.live))
	for id := range r.live {
		ids = append(ids, id)
	}
	return ids
}

// awaitPredecessor blocks until the previous loop for the same id has
// returned. A predecessor is only ever waiting on an engine call that was
// already in flight when it was stopped.
func (l *loop) awaitPredecessor() {
	if l.prev != nil {
		<-l.prev.done
	}
}

// isStopped reports whether l was retired.
func (r *registry) isStopped(l *loop) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return l.stopped
}
