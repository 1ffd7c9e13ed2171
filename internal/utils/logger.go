package utils

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger writes leveled messages. Debug messages only appear in verbose mode.
type Logger struct {
	mu      sync.RWMutex
	verbose bool
	out     io.Writer
}

var (
	loggerInstance *Logger
	once           sync.Once
)

// GetLogger returns the process-wide logger. It writes to stderr until SetOutput is called.
func GetLogger() *Logger {
	once.Do(func() {
		loggerInstance = &Logger{out: os.Stderr}
	})
	return loggerInstance
}

// SetVerboseMode toggles debug output on the process-wide logger.
func SetVerboseMode(verbose bool) {
	GetLogger().SetVerbose(verbose)
}

func (l *Logger) SetVerbose(verbose bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verbose = verbose
}

func (l *Logger) IsVerbose() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.verbose
}

// SetOutput redirects the logger. A nil writer restores stderr.
func (l *Logger) SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
}

func (l *Logger) write(level, msg string, stamp bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if stamp {
		_, _ = fmt.Fprintf(l.out, "%s [%s] %s\n", time.Now().Format("15:04:05"), level, msg)
		return
	}
	_, _ = fmt.Fprintf(l.out, "[%s] %s\n", level, msg)
}

func formatMessage(msgOrFormat string, args ...interface{}) string {
	if len(args) > 0 {
		return fmt.Sprintf(msgOrFormat, args...)
	}
	return msgOrFormat
}

// Debug logs a timestamped message when verbose mode is on.
func (l *Logger) Debug(msgOrFormat string, args ...interface{}) {
	if !l.IsVerbose() {
		return
	}
	l.write("DEBUG", formatMessage(msgOrFormat, args...), true)
}

func (l *Logger) Info(msgOrFormat string, args ...interface{}) {
	l.write("INFO", formatMessage(msgOrFormat, args...), false)
}

func (l *Logger) Warn(msgOrFormat string, args ...interface{}) {
	l.write("WARN", formatMessage(msgOrFormat, args...), false)
}

func (l *Logger) Error(msgOrFormat string, args ...interface{}) {
	l.write("ERROR", formatMessage(msgOrFormat, args...), false)
}

// Debugf logs through the process-wide logger.
func Debugf(format string, args ...interface{}) {
	GetLogger().Debug(format, args...)
}

// Infof logs through the process-wide logger.
func Infof(format string, args ...interface{}) {
	GetLogger().Info(format, args...)
}

// Warnf logs through the process-wide logger.
func Warnf(format string, args ...interface{}) {
	GetLogger().Warn(format, args...)
}

// Errorf logs through the process-wide logger.
func Errorf(format string, args ...interface{}) {
	GetLogger().Error(format, args...)
}

// BackgroundLogger is the daemon's log file. When disabled, or when the file
// cannot be opened, everything written to it is discarded.
type BackgroundLogger struct {
	mu       sync.Mutex
	logger   *log.Logger
	file     *os.File
	enabled  bool
	filePath string
}

// NewBackgroundLogger opens path for appending, creating its directory.
// An empty path falls back to a PID-specific file in the temp directory.
// The returned logger is usable even when err is non-nil.
func NewBackgroundLogger(path string, enabled bool) (*BackgroundLogger, error) {
	bl := &BackgroundLogger{logger: log.New(io.Discard, "", log.LstdFlags)}
	if !enabled {
		return bl, nil
	}
	if path == "" {
		path = filepath.Join(os.TempDir(), fmt.Sprintf("cellsync-%d.log", os.Getpid()))
	}
	bl.filePath = path

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return bl, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return bl, err
	}

	bl.file = file
	bl.logger = log.New(file, "", log.LstdFlags)
	bl.enabled = true
	return bl, nil
}

// Printf writes one line prefixed with the date and time.
func (bl *BackgroundLogger) Printf(format string, args ...interface{}) {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	bl.logger.Printf(format, args...)
}

// Write lets the logger serve as the output of a Logger.
func (bl *BackgroundLogger) Write(p []byte) (int, error) {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	if bl.file == nil {
		return len(p), nil
	}
	return bl.file.Write(p)
}

// Close closes the file. Later writes are discarded.
func (bl *BackgroundLogger) Close() {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	if bl.file != nil {
		_ = bl.file.Close()
		bl.file = nil
	}
	bl.logger = log.New(io.Discard, "", log.LstdFlags)
	bl.enabled = false
}

func (bl *BackgroundLogger) GetLogPath() string {
	return bl.filePath
}

func (bl *BackgroundLogger) IsEnabled() bool {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	return bl.enabled
}
