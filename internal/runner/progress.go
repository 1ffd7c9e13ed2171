package runner

import "sync"

// Board holds the last published completion percentage per task. It lives
// in memory only; an absent entry means progress is unknown.
type Board struct {
	mu      sync.RWMutex
	percent map[string]float64
}

// NewBoard creates an empty board.
func NewBoard() *Board {
	return &Board{percent: make(map[string]float64)}
}

// Set publishes percent for id.
func (b *Board) Set(id string, percent float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.percent[id] = percent
}

// Get returns the percentage for id and whether one is known.
func (b *Board) Get(id string) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.percent[id]
	return p, ok
}

// Clear forgets the entry for id.
func (b *Board) Clear(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.percent, id)
}

// Snapshot returns a copy of all entries.
func (b *Board) Snapshot() map[string]float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]float64, len(b.percent))
	for id, p := range b.percent {
		out[id] = p
	}
	return out
}
