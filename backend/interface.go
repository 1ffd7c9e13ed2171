package backend

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Task is one local-to-remote recurring synchronization job.
type Task struct {
	ID        string       `json:"id"`
	LocalPath string       `json:"localPath"`
	Remote    RemoteNode   `json:"remote"`
	Ignores   []string     `json:"ignores"` // task-scoped glob patterns, applied on top of the global list
	Active    bool         `json:"active"`
	Interval  float64      `json:"interval"`
	Unit      IntervalUnit `json:"unit"`
	Created   time.Time    `json:"created"`
	Modified  time.Time    `json:"modified"`
}

// RemoteNode identifies a directory on the remote storage service.
type RemoteNode struct {
	UUID string   `json:"uuid"`
	Path string   `json:"path"`
	Type string   `json:"type,omitempty"`
	ETag string   `json:"etag,omitempty"`
	Meta NodeMeta `json:"meta"`
}

// NodeMeta holds the descriptive metadata the remote service attaches to a node.
type NodeMeta struct {
	Label    string `json:"label,omitempty"`
	Syncable bool   `json:"syncable,omitempty"`
	Name     string `json:"name,omitempty"`
}

// IsZero reports whether the node carries neither an id nor a path.
func (n RemoteNode) IsZero() bool {
	return n.UUID == "" && n.Path == ""
}

// DisplayName returns the label, name or last path element of the node,
// whichever is set first.
func (n RemoteNode) DisplayName() string {
	switch {
	case n.Meta.Label != "":
		return n.Meta.Label
	case n.Meta.Name != "":
		return n.Meta.Name
	}
	if n.Path == "" {
		return ""
	}
	return path.Base(n.Path)
}

// Period returns the delay between the end of one sync trigger and the next.
func (t *Task) Period() time.Duration {
	return time.Duration(t.Interval * float64(t.Unit.Seconds()) * float64(time.Second))
}

// Definition returns the user-editable part of the task.
func (t *Task) Definition() Definition {
	return Definition{
		LocalPath: t.LocalPath,
		Remote:    t.Remote,
		Ignores:   append([]string(nil), t.Ignores...),
		Interval:  t.Interval,
		Unit:      t.Unit,
	}
}

// TaskStore is the durable repository of task records.
type TaskStore interface {
	ListTasks(ctx context.Context) ([]Task, error)
	GetTask(ctx context.Context, id string) (*Task, error) // nil, nil when absent
	UpsertTask(ctx context.Context, task *Task) error
	RemoveTask(ctx context.Context, id string) error
}

// IgnoreStore persists the global ignore list.
type IgnoreStore interface {
	GlobalIgnores(ctx context.Context) ([]string, error)
	SetGlobalIgnores(ctx context.Context, patterns []string) error
}

// Store is implemented by every storage backend.
type Store interface {
	TaskStore
	IgnoreStore
	Close() error
}

// FindTask returns the task with the given id or an id prefix unique within tasks.
func FindTask(tasks []Task, ref string) (*Task, error) {
	for i := range tasks {
		if tasks[i].ID == ref {
			return &tasks[i], nil
		}
	}
	var match *Task
	if len(ref) >= 4 {
		for i := range tasks {
			if strings.HasPrefix(tasks[i].ID, ref) {
				if match != nil {
					return nil, &AmbiguousRefError{Ref: ref}
				}
				match = &tasks[i]
			}
		}
	}
	if match == nil {
		return nil, ErrTaskNotFound
	}
	return match, nil
}

// GenerateID generates a unique task identifier.
func GenerateID() string {
	return uuid.New().String()
}
