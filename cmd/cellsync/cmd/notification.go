package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"cellsync/internal/daemon"
	"cellsync/internal/notification"
)

func newNotificationCmd(a *app) *cobra.Command {
	notifCmd := &cobra.Command{
		Use:   "notification",
		Short: "Manage sync failure notifications",
	}
	notifCmd.AddCommand(newNotificationTestCmd(a))
	notifCmd.AddCommand(newNotificationLogCmd(a))
	return notifCmd
}

func newNotificationTestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Send a test notification",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			nm, err := notification.NewManager(daemon.NotificationConfig(a.conf))
			if err != nil {
				return err
			}
			defer func() { _ = nm.Close() }()

			if nm.ChannelCount() == 0 {
				_, _ = fmt.Fprintln(a.stdout, "Notifications are disabled; enable them under 'notification' in the config file")
				a.result(ResultInfoOnly)
				return nil
			}
			err = nm.Send(notification.Notification{
				Type:    notification.NotifyTest,
				Title:   "cellsync",
				Message: "Test notification",
			})
			if err != nil {
				return fmt.Errorf("failed to send notification: %w", err)
			}
			_, _ = fmt.Fprintf(a.stdout, "Test notification sent to %d channel(s)\n", nm.ChannelCount())
			a.result(ResultActionCompleted)
			return nil
		},
	}
}

func newNotificationLogCmd(a *app) *cobra.Command {
	logCmd := &cobra.Command{
		Use:   "log",
		Short: "Show the notification log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.conf.Notification.LogNotification.Path
			entries, err := notification.ReadLog(path)
			if err != nil {
				return err
			}
			if a.jsonOutput(cmd) {
				if entries == nil {
					entries = []string{}
				}
				return writeJSON(a.stdout, struct {
					Entries []string `json:"entries"`
					Result  string   `json:"result"`
				}{entries, ResultInfoOnly})
			}
			if len(entries) == 0 {
				_, _ = fmt.Fprintln(a.stdout, "No notifications")
			}
			for _, e := range entries {
				_, _ = fmt.Fprintln(a.stdout, e)
			}
			a.result(ResultInfoOnly)
			return nil
		},
	}

	logCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Clear the notification log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := notification.ClearLog(a.conf.Notification.LogNotification.Path); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(a.stdout, "Notification log cleared")
			a.result(ResultActionCompleted)
			return nil
		},
	})
	return logCmd
}
