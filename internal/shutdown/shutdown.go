// Package shutdown coordinates stopping the daemon: it turns signals into a
// cancelled context and runs registered cleanups in reverse order.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"cellsync/internal/utils"
)

// CleanupFunc releases one resource. ctx is cancelled when the shutdown
// deadline passes.
type CleanupFunc func(ctx context.Context) error

type cleanupEntry struct {
	name string
	fn   CleanupFunc
}

// Manager handles graceful shutdown coordination.
type Manager struct {
	mu       sync.Mutex
	cleanups []cleanupEntry
	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
	stopSigs func()
}

// NewManager creates a new shutdown manager.
func NewManager() *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{ctx: ctx, cancel: cancel}
}

// RegisterCleanup registers a cleanup. Cleanups run last registered first.
func (m *Manager) RegisterCleanup(name string, fn CleanupFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups = append(m.cleanups, cleanupEntry{name: name, fn: fn})
}

// ListenForSignals starts shutdown when one of sigs arrives.
func (m *Manager) ListenForSignals(sigs ...os.Signal) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	m.mu.Lock()
	m.stopSigs = func() { signal.Stop(ch) }
	m.mu.Unlock()

	go func() {
		select {
		case sig := <-ch:
			utils.Infof("received %s, shutting down", sig)
			m.Shutdown()
		case <-m.ctx.Done():
		}
	}()
}

// Shutdown cancels Context. Safe to call more than once.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		m.cancel()
		m.mu.Lock()
		if m.stopSigs != nil {
			m.stopSigs()
		}
		m.mu.Unlock()
	})
}

// IsShutdown reports whether shutdown has started.
func (m *Manager) IsShutdown() bool {
	return m.ctx.Err() != nil
}

// Context is cancelled when shutdown starts.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Done is closed when shutdown starts.
func (m *Manager) Done() <-chan struct{} {
	return m.ctx.Done()
}

// Cleanup runs every registered cleanup, in reverse order, and returns their
// joined errors. It gives up waiting when ctx ends.
func (m *Manager) Cleanup(ctx context.Context) error {
	m.mu.Lock()
	cleanups := append([]cleanupEntry(nil), m.cleanups...)
	m.cleanups = nil
	m.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		var errs []error
		for i := len(cleanups) - 1; i >= 0; i-- {
			if err := cleanups[i].fn(ctx); err != nil {
				utils.Warnf("cleanup %s: %v", cleanups[i].name, err)
				errs = append(errs, fmt.Errorf("%s: %w", cleanups[i].name, err))
			}
		}
		done <- errors.Join(errs...)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
