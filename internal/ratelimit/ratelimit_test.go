package ratelimit

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// throttleServer answers 429 for the first n requests and echoes the body afterwards.
func throttleServer(t *testing.T, n int32, retryAfter string) (*httptest.Server, *int32) {
	return busyServer(t, n, http.StatusTooManyRequests, retryAfter)
}

// busyServer answers status for the first n requests and echoes the body afterwards.
func busyServer(t *testing.T, n int32, status int, retryAfter string) (*httptest.Server, *int32) {
	t.Helper()
	var count int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&count, 1) <= n {
			if retryAfter != "" {
				w.Header().Set("Retry-After", retryAfter)
			}
			w.WriteHeader(status)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Content-Type", r.Header.Get("Content-Type"))
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server, &count
}

func TestRetryResendsBody(t *testing.T) {
	server, count := throttleServer(t, 2, "")
	client := NewClient(Config{
		BaseDelay: time.Millisecond,
		Header:    http.Header{"Content-Type": []string{"application/json"}},
	})

	resp, err := client.Do(context.Background(), http.MethodPost, server.URL, strings.NewReader(`{"p":"/"}`))
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"p":"/"}` {
		t.Errorf("body = %q, want it re-sent intact", body)
	}
	if got := resp.Header.Get("X-Content-Type"); got != "application/json" {
		t.Errorf("Content-Type seen by server = %q", got)
	}
	if *count != 3 {
		t.Errorf("expected 3 requests, got %d", *count)
	}
}

func TestRetriesExhausted(t *testing.T) {
	server, count := throttleServer(t, 100, "")
	var retries []int
	client := NewClient(Config{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		Service:    "sync engine",
		OnRetry:    func(status int, _ time.Duration) { retries = append(retries, status) },
	})

	_, err := client.Do(context.Background(), http.MethodGet, server.URL, nil)
	var busy *BusyError
	if !errors.As(err, &busy) {
		t.Fatalf("expected BusyError, got %v", err)
	}
	if busy.Status != http.StatusTooManyRequests || busy.Attempts != 3 {
		t.Errorf("unexpected error fields: %+v", busy)
	}
	if !strings.Contains(err.Error(), "sync engine") {
		t.Errorf("error %q should name the service", err)
	}
	if *count != 3 {
		t.Errorf("expected 3 requests, got %d", *count)
	}
	if len(retries) != 2 {
		t.Errorf("OnRetry called %d times, want 2", len(retries))
	}
}

func TestRetriesWhileStarting(t *testing.T) {
	server, count := busyServer(t, 1, http.StatusServiceUnavailable, "0")
	client := NewClient(Config{BaseDelay: time.Hour})

	resp, err := client.Do(context.Background(), http.MethodPost, server.URL, strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || *count != 2 {
		t.Errorf("status = %d after %d requests, want 200 after 2", resp.StatusCode, *count)
	}
}

func TestRetryStatusesOverride(t *testing.T) {
	server, count := busyServer(t, 5, http.StatusServiceUnavailable, "")
	client := NewClient(Config{RetryStatuses: []int{http.StatusTooManyRequests}})

	resp, err := client.Do(context.Background(), http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable || *count != 1 {
		t.Errorf("503 should pass through when not listed, got %d after %d requests", resp.StatusCode, *count)
	}
}

func TestBackoffFollowsClock(t *testing.T) {
	server, count := throttleServer(t, 1, "")
	clock := clockwork.NewFakeClock()
	client := NewClient(Config{BaseDelay: time.Second, Clock: clock})

	done := make(chan error, 1)
	go func() {
		resp, err := client.Do(context.Background(), http.MethodGet, server.URL, nil)
		if err == nil {
			_ = resp.Body.Close()
		}
		done <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("client never waited: %v", err)
	}
	if atomic.LoadInt32(count) != 1 {
		t.Fatalf("retry happened before the clock advanced")
	}
	clock.Advance(time.Second)

	if err := <-done; err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if atomic.LoadInt32(count) != 2 {
		t.Errorf("expected 2 requests, got %d", *count)
	}
}

func TestContextCancelledDuringBackoff(t *testing.T) {
	server, _ := throttleServer(t, 100, "60")
	client := NewClient(Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Do(ctx, http.MethodGet, server.URL, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestOtherStatusPassthrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	resp, err := NewClient(Config{}).Do(context.Background(), http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
}

func TestBackoff(t *testing.T) {
	c := NewClient(Config{BaseDelay: time.Second, MaxDelay: 5 * time.Second})
	retryAfter := 7 * time.Second

	tests := []struct {
		name       string
		attempt    int
		retryAfter *time.Duration
		want       time.Duration
	}{
		{"first", 0, nil, time.Second},
		{"second", 1, nil, 2 * time.Second},
		{"third", 2, nil, 4 * time.Second},
		{"capped", 5, nil, 5 * time.Second},
		{"retry-after wins", 0, &retryAfter, 7 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.backoff(tt.attempt, tt.retryAfter); got != tt.want {
				t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestJitterBounds(t *testing.T) {
	c := NewClient(Config{BaseDelay: time.Second, EnableJitter: true})
	for i := 0; i < 100; i++ {
		d := c.backoff(0, nil)
		if d < 800*time.Millisecond || d > 1200*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±20%%", d)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		value string
		want  *time.Duration
	}{
		{"", nil},
		{"abc", nil},
		{"-1", nil},
		{"3", durationPtr(3 * time.Second)},
		{now.Add(10 * time.Second).Format(http.TimeFormat), durationPtr(10 * time.Second)},
		{now.Add(-time.Minute).Format(http.TimeFormat), durationPtr(0)},
	}
	for _, tt := range tests {
		got := ParseRetryAfter(tt.value, now)
		switch {
		case tt.want == nil && got != nil:
			t.Errorf("ParseRetryAfter(%q) = %v, want nil", tt.value, *got)
		case tt.want != nil && (got == nil || *got != *tt.want):
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.value, got, *tt.want)
		}
	}
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}
