// Package cache keeps remote directory listings on disk so repeated
// browsing does not hit the engine every time.
package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/natefinch/atomic"

	"cellsync/backend"
)

// Listing is one cached directory listing.
type Listing struct {
	CreatedAt time.Time            `json:"created_at"`
	Nodes     []backend.RemoteNode `json:"nodes"`
}

// RemoteCache represents the cached listing file structure.
type RemoteCache struct {
	Server   string             `json:"server"`
	Listings map[string]Listing `json:"listings"` // remote path -> listing
}

// Store reads and writes the cache file. Entries older than the TTL, and
// entries recorded for a different server, are ignored.
type Store struct {
	path   string
	server string
	ttl    time.Duration
	clock  clockwork.Clock
	mu     sync.Mutex
}

// New creates a Store. A ttl of zero disables caching.
func New(path, server string, ttl time.Duration, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{path: path, server: server, ttl: ttl, clock: clock}
}

// Path returns the cache file location.
func (s *Store) Path() string {
	return s.path
}

// Get returns the cached listing for remotePath if it is still fresh.
func (s *Store) Get(remotePath string) ([]backend.RemoteNode, bool) {
	if s.ttl <= 0 {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.load()
	entry, ok := c.Listings[remotePath]
	if !ok || s.clock.Since(entry.CreatedAt) >= s.ttl {
		return nil, false
	}
	return entry.Nodes, true
}

// Put records a listing for remotePath.
func (s *Store) Put(remotePath string, nodes []backend.RemoteNode) error {
	if s.ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.load()
	now := s.clock.Now()
	for p, entry := range c.Listings {
		if now.Sub(entry.CreatedAt) >= s.ttl {
			delete(c.Listings, p)
		}
	}
	c.Listings[remotePath] = Listing{CreatedAt: now, Nodes: nodes}
	return s.save(c)
}

// Invalidate removes the cache file.
func (s *Store) Invalidate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// load returns the cache for this server; unreadable or foreign files count as empty.
func (s *Store) load() *RemoteCache {
	empty := &RemoteCache{Server: s.server, Listings: map[string]Listing{}}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return empty
	}
	var c RemoteCache
	if err := json.Unmarshal(data, &c); err != nil || c.Server != s.server || c.Listings == nil {
		return empty
	}
	return &c
}

func (s *Store) save(c *RemoteCache) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return atomic.WriteFile(s.path, bytes.NewReader(data))
}
