// Package ratelimit provides the HTTP client the engine client sends its
// commands through. Answers that mean "not now" (429 while the engine is
// throttling, 503 while it is still starting) are retried with exponential
// backoff; any other answer is handed back unchanged.
package ratelimit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultRetryStatuses are retried when Config.RetryStatuses is empty.
var DefaultRetryStatuses = []int{http.StatusTooManyRequests, http.StatusServiceUnavailable}

// Config holds configuration for the retrying HTTP client.
type Config struct {
	// MaxRetries is the number of retries after a busy answer. Default: 3
	MaxRetries int

	// BaseDelay is the delay before the first retry. Default: 500ms
	BaseDelay time.Duration

	// MaxDelay caps the delay between retries. Default: 8s
	MaxDelay time.Duration

	// EnableJitter spreads retries by ±20%.
	EnableJitter bool

	// RetryStatuses lists the HTTP statuses worth retrying.
	RetryStatuses []int

	// Timeout bounds each attempt, 0 means none.
	Timeout time.Duration

	// Header is added to every request.
	Header http.Header

	// OnRetry is called before each wait with the status that caused it.
	OnRetry func(status int, delay time.Duration)

	// Service names the remote side in error messages.
	Service string

	// Clock drives backoff waits. Defaults to the real clock.
	Clock clockwork.Clock

	// Transport overrides the HTTP transport, mostly for tests.
	Transport http.RoundTripper
}

// Client is an HTTP client that retries busy answers.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a client, filling in defaults for unset fields.
func NewClient(cfg Config) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 8 * time.Second
	}
	if len(cfg.RetryStatuses) == 0 {
		cfg.RetryStatuses = DefaultRetryStatuses
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Service == "" {
		cfg.Service = "server"
	}
	cfg.Header = cfg.Header.Clone()

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
	}
}

// Do sends the request and retries while the answer is busy. A Retry-After
// header wins over the computed backoff. body is buffered so every attempt
// sends it whole.
func (c *Client) Do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = io.ReadAll(body); err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
	}

	var lastStatus int
	for attempt := 0; ; attempt++ {
		resp, err := c.send(ctx, method, url, payload)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(c.cfg.RetryStatuses, resp.StatusCode) {
			return resp, nil
		}
		lastStatus = resp.StatusCode
		retryAfter := ParseRetryAfter(resp.Header.Get("Retry-After"), c.cfg.Clock.Now())
		_ = resp.Body.Close()

		if attempt >= c.cfg.MaxRetries {
			break
		}
		delay := c.backoff(attempt, retryAfter)
		if c.cfg.OnRetry != nil {
			c.cfg.OnRetry(lastStatus, delay)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.cfg.Clock.After(delay):
		}
	}

	return nil, &BusyError{Service: c.cfg.Service, Status: lastStatus, Attempts: c.cfg.MaxRetries + 1}
}

func (c *Client) send(ctx context.Context, method, url string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range c.cfg.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return c.httpClient.Do(req)
}

// backoff computes the delay before retry number attempt+1.
func (c *Client) backoff(attempt int, retryAfter *time.Duration) time.Duration {
	if retryAfter != nil {
		return *retryAfter
	}
	delay := time.Duration(float64(c.cfg.BaseDelay) * math.Pow(2, float64(attempt)))
	if delay > c.cfg.MaxDelay {
		delay = c.cfg.MaxDelay
	}
	if c.cfg.EnableJitter {
		delay = time.Duration(float64(delay) * (0.8 + rand.Float64()*0.4))
	}
	return delay
}

// BusyError is returned when the server is still busy after MaxRetries.
type BusyError struct {
	Service  string
	Status   int
	Attempts int
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("%s still busy (HTTP %d) after %d attempts", e.Service, e.Status, e.Attempts)
}

// ParseRetryAfter parses a Retry-After header given in seconds or as an HTTP
// date relative to now. It returns nil for empty or invalid values.
func ParseRetryAfter(value string, now time.Time) *time.Duration {
	if value == "" {
		return nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds < 0 {
			return nil
		}
		d := time.Duration(seconds) * time.Second
		return &d
	}
	if t, err := http.ParseTime(value); err == nil {
		d := max(t.Sub(now), 0)
		return &d
	}
	return nil
}
