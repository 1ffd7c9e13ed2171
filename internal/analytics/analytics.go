// Package analytics keeps local statistics about the cellsync commands a
// user runs: how often, how long they took and why they failed. Events are
// stored in a SQLite database next to the task store and never leave the
// machine.
package analytics

import "os"

// EnvEnabled overrides analytics.enabled from the config file.
const EnvEnabled = "CELLSYNC_ANALYTICS_ENABLED"

// Event represents a single recorded command
type Event struct {
	ID         int64  `json:"id"`
	Timestamp  int64  `json:"timestamp"`
	Command    string `json:"command"`
	Subcommand string `json:"subcommand,omitempty"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"duration_ms"`
	ErrorType  string `json:"error_type,omitempty"`
	Flags      string `json:"flags,omitempty"` // JSON list of flag names, never values
}

// CommandStats aggregates the events of one command.
type CommandStats struct {
	Command    string  `json:"command"`
	Subcommand string  `json:"subcommand,omitempty"`
	Runs       int     `json:"runs"`
	Failures   int     `json:"failures"`
	AvgMs      float64 `json:"avg_ms"`
}

// IsEnabled returns the effective enabled state. A set environment variable
// wins over the config value; getenv defaults to os.Getenv.
func IsEnabled(configEnabled bool, getenv func(string) string) bool {
	if getenv == nil {
		getenv = os.Getenv
	}
	envVal := getenv(EnvEnabled)
	if envVal == "" {
		return configEnabled
	}
	return envVal == "true" || envVal == "1"
}
