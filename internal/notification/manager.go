package notification

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// manager implements NotificationManager
type manager struct {
	channels        []NotificationChannel
	extra           []NotificationChannel
	enabled         bool
	commandExecutor CommandExecutor
	clock           clockwork.Clock
	window          time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time // message -> when it was last delivered
}

// NewManager creates a new NotificationManager based on configuration
func NewManager(cfg *Config, opts ...Option) (NotificationManager, error) {
	m := &manager{
		channels: []NotificationChannel{},
		enabled:  cfg.Enabled,
		window:   cfg.DedupWindow,
		lastSent: make(map[string]time.Time),
	}

	for _, opt := range opts {
		opt(m)
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}

	if !cfg.Enabled {
		return m, nil
	}

	if cfg.OSNotification.Enabled {
		var osOpts []Option
		if m.commandExecutor != nil {
			osOpts = append(osOpts, WithCommandExecutor(m.commandExecutor))
		}
		m.channels = append(m.channels, NewOSNotificationChannel(&cfg.OSNotification, osOpts...))
	}

	if cfg.LogNotification.Enabled {
		m.channels = append(m.channels, NewLogNotificationChannel(&cfg.LogNotification))
	}
	m.channels = append(m.channels, m.extra...)

	return m, nil
}

// Send dispatches notification to all enabled channels. A message identical
// to one delivered within the dedup window is dropped.
func (m *manager) Send(n Notification) error {
	if !m.enabled {
		return nil
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = m.clock.Now()
	}
	if m.duplicate(n.Message) {
		return nil
	}

	var lastErr error
	for _, ch := range m.channels {
		if err := ch.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (m *manager) duplicate(message string) bool {
	if m.window <= 0 {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for msg, at := range m.lastSent {
		if now.Sub(at) >= m.window {
			delete(m.lastSent, msg)
		}
	}
	if _, ok := m.lastSent[message]; ok {
		return true
	}
	m.lastSent[message] = now
	return false
}

// Close cleans up resources
func (m *manager) Close() error {
	var lastErr error
	for _, ch := range m.channels {
		if err := ch.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// ChannelCount returns the number of active channels
func (m *manager) ChannelCount() int {
	return len(m.channels)
}
