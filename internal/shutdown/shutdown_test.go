package shutdown

import (
	"context"
	"errors"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

func TestSignalStartsShutdown(t *testing.T) {
	m := NewManager()
	m.ListenForSignals(syscall.SIGUSR1)

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("kill: %v", err)
	}

	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("signal did not trigger shutdown")
	}
	if !m.IsShutdown() {
		t.Error("IsShutdown = false after signal")
	}
}

func TestShutdownIdempotent(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Shutdown()
		}()
	}
	wg.Wait()

	if m.Context().Err() == nil {
		t.Error("context not cancelled")
	}
}

func TestCleanupOrderAndErrors(t *testing.T) {
	m := NewManager()
	var order []string
	m.RegisterCleanup("store", func(context.Context) error {
		order = append(order, "store")
		return errors.New("close failed")
	})
	m.RegisterCleanup("loops", func(context.Context) error {
		order = append(order, "loops")
		return nil
	})
	m.RegisterCleanup("socket", func(context.Context) error {
		order = append(order, "socket")
		return nil
	})

	m.Shutdown()
	err := m.Cleanup(context.Background())
	if err == nil || !strings.Contains(err.Error(), "store: close failed") {
		t.Errorf("Cleanup error = %v, want store failure", err)
	}
	if strings.Join(order, ",") != "socket,loops,store" {
		t.Errorf("cleanup order = %v, want LIFO", order)
	}

	// cleanups run once
	order = nil
	if err := m.Cleanup(context.Background()); err != nil || len(order) != 0 {
		t.Errorf("second Cleanup ran %v, err %v", order, err)
	}
}

func TestCleanupTimeout(t *testing.T) {
	m := NewManager()
	release := make(chan struct{})
	defer close(release)
	m.RegisterCleanup("slow", func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Cleanup(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
