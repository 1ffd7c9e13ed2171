package daemon

import (
	"fmt"

	"cellsync/backend"
	"cellsync/internal/config"
	"cellsync/internal/engine"
	"cellsync/internal/notification"
	"cellsync/internal/runner"
	"cellsync/internal/utils"
)

// NotifySink turns runner failures into notifications.
// Progress failures are transient and only logged.
// Send is synchronous: a desktop notifier runs on the failing loop's goroutine.
type NotifySink struct {
	Notifier notification.NotificationManager
}

var _ runner.EventSink = NotifySink{}

func (s NotifySink) OnSyncError(task backend.Task, err error) {
	s.send(notification.Notification{
		Type:    notification.NotifySyncError,
		Title:   "cellsync: sync failed",
		Message: fmt.Sprintf("%s: %s", task.LocalPath, engine.Message(err)),
		Metadata: map[string]string{
			"task":   task.ID,
			"remote": task.Remote.Path,
		},
	})
}

func (s NotifySink) OnProgressError(taskID string, err error) {
	utils.Debugf("progress of %s: %v", taskID, err)
}

func (s NotifySink) OnPauseError(taskID string, err error) {
	s.send(notification.Notification{
		Type:     notification.NotifyPauseError,
		Title:    "cellsync: pause failed",
		Message:  engine.Message(err),
		Metadata: map[string]string{"task": taskID},
	})
}

func (s NotifySink) send(n notification.Notification) {
	if err := s.Notifier.Send(n); err != nil {
		utils.Warnf("notification %s: %v", n.Type, err)
	}
}

// NotificationConfig converts the application config into notification settings.
func NotificationConfig(cfg *config.Config) *notification.Config {
	return &notification.Config{
		Enabled: cfg.Notification.Enabled,
		OSNotification: notification.OSNotificationConfig{
			Enabled:     cfg.Notification.OSNotification.Enabled,
			OnSyncError: cfg.Notification.OSNotification.OnSyncError,
		},
		LogNotification: notification.LogNotificationConfig{
			Enabled:   cfg.Notification.LogNotification.Enabled,
			Path:      cfg.Notification.LogNotification.Path,
			MaxSizeMB: cfg.Notification.LogNotification.MaxSizeMB,
		},
		DedupWindow: cfg.DedupWindow(),
	}
}
