// Package engine talks to the external synchronization engine. The engine
// owns authentication, remote listing and the actual file transfer; this
// package only issues its five commands and classifies failures.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"cellsync/backend"
)

// Engine is the command surface of the synchronization engine.
type Engine interface {
	Login(ctx context.Context, endpoint, username, secret string) (User, error)
	List(ctx context.Context, remotePath string) ([]backend.RemoteNode, error)
	Sync(ctx context.Context, task backend.Task, globalIgnores []string) error
	Pause(ctx context.Context, taskID string) error
	Progress(ctx context.Context, taskID string) (Counters, error)
}

// User is the account returned by a successful login.
type User struct {
	UUID        string `json:"Uuid"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// Counters is the raw progress of the current pass of a task.
type Counters struct {
	Current float64 `json:"current"`
	Total   float64 `json:"total"`
}

// Percent converts counters into a percentage rounded to two decimals and
// clamped to [0,100]. A non-positive total has no meaningful percentage.
func (c Counters) Percent() (float64, error) {
	if c.Total <= 0 || math.IsNaN(c.Total) || math.IsNaN(c.Current) {
		return 0, &Error{Kind: KindMalformed, Op: "progress", Message: fmt.Sprintf("unusable counters %v/%v", c.Current, c.Total)}
	}
	p := math.Round(c.Current/c.Total*100*100) / 100
	return math.Max(0, math.Min(100, p)), nil
}

// Kind classifies an engine failure.
type Kind int

const (
	// KindRejected means the engine answered and refused the command.
	KindRejected Kind = iota + 1
	// KindUnreachable means no usable answer arrived.
	KindUnreachable
	// KindMalformed means an answer arrived but could not be decoded.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindRejected:
		return "rejected"
	case KindUnreachable:
		return "unreachable"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is returned by every Engine command that fails.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("engine %s %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsRejected reports whether err is an engine refusal.
func IsRejected(err error) bool { return kindOf(err) == KindRejected }

// IsUnreachable reports whether err means the engine could not be reached.
func IsUnreachable(err error) bool { return kindOf(err) == KindUnreachable }

// IsMalformed reports whether the engine's answer could not be decoded.
func IsMalformed(err error) bool { return kindOf(err) == KindMalformed }

// Message returns the text a user should see for err: the engine's own
// message for refusals, the error string otherwise.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindRejected && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
