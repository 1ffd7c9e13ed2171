package utils

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorWithSuggestion wraps an error with a user-friendly suggestion.
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface.
func (e *ErrorWithSuggestion) Error() string {
	return fmt.Sprintf("%s\n\nSuggestion: %s", e.Err.Error(), e.Suggestion)
}

// GetSuggestion returns the suggestion text.
func (e *ErrorWithSuggestion) GetSuggestion() string {
	return e.Suggestion
}

// Unwrap returns the underlying error for error chain support.
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// WrapWithSuggestion wraps an existing error with a suggestion.
func WrapWithSuggestion(err error, suggestion string) error {
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}

// ErrTaskNotFound returns an error for a task reference that matches nothing.
func ErrTaskNotFound(ref string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("task not found: %s", ref),
		Suggestion: "Use 'cellsync task list' to see task ids",
	}
}

// ErrTaskAmbiguous returns an error for an id prefix shared by several tasks.
func ErrTaskAmbiguous(ref string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("task reference %q matches more than one task", ref),
		Suggestion: "Type more characters of the task id",
	}
}

// ErrEngineUnreachable returns an error when the sync engine cannot be reached, with a suggestion picked from the reason.
func ErrEngineUnreachable(endpoint, reason string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("sync engine at %s is unreachable: %s", endpoint, reason),
		Suggestion: getSmartSuggestion(reason),
	}
}

// getSmartSuggestion returns a context-aware suggestion based on the error reason.
func getSmartSuggestion(reason string) string {
	lowerReason := strings.ToLower(reason)

	if strings.Contains(lowerReason, "no such host") || strings.Contains(lowerReason, "dns") {
		return "Check engine.endpoint in your config file"
	}

	if strings.Contains(lowerReason, "connection refused") {
		return "Check that the sync engine is running and listening on the configured endpoint"
	}

	if strings.Contains(lowerReason, "timeout") || strings.Contains(lowerReason, "i/o timeout") {
		return "The engine may be busy. Try again later or raise engine.timeout"
	}

	return "Check that the sync engine is running and try again"
}

// ErrInvalidInterval returns an error for an unparsable repeat interval.
func ErrInvalidInterval(value string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid interval: %s", value),
		Suggestion: "Use a positive number followed by a unit, e.g. 30s, 5m, '1.5 hours' or 1d",
	}
}

// ErrDaemonNotRunning returns an error for commands that need a running daemon.
func ErrDaemonNotRunning() error {
	return &ErrorWithSuggestion{
		Err:        errors.New("daemon is not running"),
		Suggestion: "Start it with 'cellsync daemon start'",
	}
}

// ErrCredentialsNotFound returns an error when credentials are missing.
func ErrCredentialsNotFound(server, user string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("credentials not found for %s user %s", server, user),
		Suggestion: "Run 'cellsync login' or set CELLSYNC_PASSWORD",
	}
}

// ErrAuthenticationFailed returns an error when the server refused the login.
func ErrAuthenticationFailed(server, message string) error {
	err := fmt.Errorf("authentication failed for %s", server)
	if message != "" {
		err = fmt.Errorf("authentication failed for %s: %s", server, message)
	}
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: "Verify your username and password, then run 'cellsync login' again",
	}
}
