package backend

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor opens a store at the given path.
type Constructor func(path string) (Store, error)

var (
	registryMu   sync.RWMutex
	constructors = make(map[string]Constructor)
)

// Register makes a storage backend available under name.
// Backends call this from their init function.
func Register(name string, constructor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	constructors[name] = constructor
}

// Registered returns the names of all registered backends, sorted.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open opens the named storage backend.
func Open(name, path string) (Store, error) {
	registryMu.RLock()
	constructor, ok := constructors[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown storage backend: %q (available: %v)", name, Registered())
	}
	return constructor(path)
}
