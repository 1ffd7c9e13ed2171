package notification

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// osNotificationChannel shows notifications through the desktop's own
// notifier command.
type osNotificationChannel struct {
	config   *OSNotificationConfig
	executor CommandExecutor
	platform string
}

// NewOSNotificationChannel creates a desktop notification channel for the
// current platform.
func NewOSNotificationChannel(cfg *OSNotificationConfig, opts ...Option) NotificationChannel {
	ch := &osNotificationChannel{
		config:   cfg,
		platform: runtime.GOOS,
	}
	for _, opt := range opts {
		opt(ch)
	}
	if ch.executor == nil {
		ch.executor = execCommandExecutor{}
	}
	return ch
}

func (c *osNotificationChannel) Send(n Notification) error {
	if !c.wants(n.Type) {
		return nil
	}
	name, args, err := notifierCommand(c.platform, n)
	if err != nil {
		return err
	}
	return c.executor.Execute(name, args...)
}

func (c *osNotificationChannel) wants(t NotificationType) bool {
	if t == NotifySyncError || t == NotifyPauseError {
		return c.config.OnSyncError
	}
	return true
}

func (c *osNotificationChannel) Close() error {
	return nil
}

// notifierCommand builds the command line that shows n on platform.
func notifierCommand(platform string, n Notification) (string, []string, error) {
	switch platform {
	case "linux", "freebsd", "openbsd", "netbsd":
		urgency := "normal"
		if n.Type == NotifySyncError || n.Type == NotifyPauseError {
			urgency = "critical"
		}
		return "notify-send", []string{"--app-name=cellsync", "--urgency=" + urgency, n.Title, n.Message}, nil
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`,
			appleScriptQuote(n.Message), appleScriptQuote(n.Title))
		return "osascript", []string{"-e", script}, nil
	case "windows":
		script := fmt.Sprintf(`Add-Type -AssemblyName System.Windows.Forms
$n = New-Object System.Windows.Forms.NotifyIcon
$n.Icon = [System.Drawing.SystemIcons]::Warning
$n.BalloonTipTitle = "%s"
$n.BalloonTipText = "%s"
$n.Visible = $true
$n.ShowBalloonTip(5000)`, powerShellQuote(n.Title), powerShellQuote(n.Message))
		return "powershell", []string{"-NoProfile", "-Command", script}, nil
	}
	return "", nil, fmt.Errorf("desktop notifications are not supported on %s", platform)
}

// appleScriptQuote escapes s for an AppleScript string literal.
func appleScriptQuote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// powerShellQuote escapes s for a double-quoted PowerShell string, where $
// would start a subexpression.
func powerShellQuote(s string) string {
	return strings.NewReplacer("`", "``", `"`, "`\"", "$", "`$").Replace(s)
}

type execCommandExecutor struct{}

func (execCommandExecutor) Execute(cmd string, args ...string) error {
	return exec.Command(cmd, args...).Run()
}
