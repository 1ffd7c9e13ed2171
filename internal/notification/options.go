package notification

import "github.com/jonboulle/clockwork"

// Option is a functional option for configuring notification channels
type Option func(interface{})

// WithCommandExecutor sets a custom command executor
func WithCommandExecutor(executor CommandExecutor) Option {
	return func(c interface{}) {
		if ch, ok := c.(*osNotificationChannel); ok {
			ch.executor = executor
		}
		if mgr, ok := c.(*manager); ok {
			mgr.commandExecutor = executor
		}
	}
}

// WithPlatform sets the platform for OS notifications
func WithPlatform(platform string) Option {
	return func(c interface{}) {
		if ch, ok := c.(*osNotificationChannel); ok {
			ch.platform = platform
		}
	}
}

// WithClock sets the clock used for timestamps and deduplication
func WithClock(clock clockwork.Clock) Option {
	return func(c interface{}) {
		if mgr, ok := c.(*manager); ok {
			mgr.clock = clock
		}
	}
}

// WithChannel adds an extra channel, mostly for tests
func WithChannel(ch NotificationChannel) Option {
	return func(c interface{}) {
		if mgr, ok := c.(*manager); ok {
			mgr.extra = append(mgr.extra, ch)
		}
	}
}
