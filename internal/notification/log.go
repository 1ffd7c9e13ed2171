package notification

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// logNotificationChannel appends one line per notification to a file. The
// file is opened for every entry so that `notification log clear` and
// rotation are seen by a daemon that runs for weeks.
type logNotificationChannel struct {
	config *LogNotificationConfig
	mu     sync.Mutex
}

// NewLogNotificationChannel creates a channel writing to cfg.Path
func NewLogNotificationChannel(cfg *LogNotificationConfig) NotificationChannel {
	return &logNotificationChannel{config: cfg}
}

// FormatEntry renders n as a log line:
//
//	2026-01-16T10:30:00Z [SYNC_ERROR] (task 1a2b3c4d) /home/u/docs: engine unreachable
func FormatEntry(n Notification) string {
	var b strings.Builder
	b.WriteString(n.Timestamp.UTC().Format("2006-01-02T15:04:05Z"))
	b.WriteString(" [")
	b.WriteString(strings.ToUpper(string(n.Type)))
	b.WriteString("] ")
	if id := n.Metadata["task"]; id != "" {
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(&b, "(task %s) ", id)
	}
	// One entry per line, whatever the engine put in its message.
	b.WriteString(strings.Join(strings.Fields(n.Message), " "))
	return b.String()
}

func (c *logNotificationChannel) Send(n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.config.Path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := c.rotateIfNeeded(); err != nil {
		return err
	}

	f, err := os.OpenFile(c.config.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	if _, err := f.WriteString(FormatEntry(n) + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write notification: %w", err)
	}
	return f.Close()
}

// rotateIfNeeded moves a file over MaxSizeMB to <path>.old, replacing any
// previous one.
func (c *logNotificationChannel) rotateIfNeeded() error {
	maxBytes := int64(c.config.MaxSizeMB) * 1024 * 1024
	if maxBytes <= 0 {
		return nil
	}
	info, err := os.Stat(c.config.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < maxBytes {
		return nil
	}
	if err := os.Rename(c.config.Path, c.config.Path+".old"); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}
	return nil
}

func (c *logNotificationChannel) Close() error {
	return nil
}

// ReadLog returns all entries, oldest first, including those already
// rotated to <path>.old. A missing log has no entries.
func ReadLog(path string) ([]string, error) {
	var entries []string
	for _, p := range []string{path + ".old", path} {
		lines, err := readLines(p)
		if err != nil {
			return nil, err
		}
		entries = append(entries, lines...)
	}
	return entries, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// ClearLog removes the log and its rotated copy.
func ClearLog(path string) error {
	for _, p := range []string{path, path + ".old"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}
