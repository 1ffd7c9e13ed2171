// Package file implements a Store that keeps tasks and global ignores in a
// single JSON document.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"cellsync/backend"
	"cellsync/internal/utils"
)

func init() {
	backend.Register("file", func(path string) (backend.Store, error) {
		return New(Config{FilePath: path})
	})
}

// Config holds file backend configuration
type Config struct {
	FilePath string // Path to the JSON document
}

// document is the on-disk layout.
type document struct {
	Tasks         []backend.Task `json:"tasks"`
	GlobalIgnores []string       `json:"globalIgnores"`

	// corrupt holds the unreadable bytes this document replaced, if any.
	corrupt []byte
}

// Backend implements backend.Store on a JSON file. Every call re-reads the
// file so that other processes' writes are observed.
type Backend struct {
	filePath string
	mu       sync.Mutex
}

// New creates a new file backend
func New(cfg Config) (*Backend, error) {
	filePath := cfg.FilePath
	if filePath == "" {
		filePath = "tasks.json"
	}

	if !filepath.IsAbs(filePath) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		filePath = filepath.Join(wd, filePath)
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &Backend{filePath: filePath}, nil
}

// Path returns the resolved document path.
func (b *Backend) Path() string {
	return b.filePath
}

// Close closes the backend
func (b *Backend) Close() error {
	return nil
}

// load reads the document. A missing file is an empty document; a malformed
// one is logged and also treated as empty, keeping its bytes so that the next
// save can set them aside.
func (b *Backend) load() (*document, error) {
	data, err := os.ReadFile(b.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return &document{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &document{}, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		utils.Warnf("ignoring %s: %v: %v", b.filePath, backend.ErrStorageCorrupt, err)
		return &document{corrupt: data}, nil
	}
	for _, t := range doc.Tasks {
		if t.ID == "" || !backend.PeriodInRange(t.Interval, t.Unit) {
			utils.Warnf("ignoring %s: %v: bad task record %q", b.filePath, backend.ErrStorageCorrupt, t.ID)
			return &document{GlobalIgnores: doc.GlobalIgnores, corrupt: data}, nil
		}
	}
	return &doc, nil
}

// CorruptPath is where a document that could not be read is copied before
// it is overwritten.
func (b *Backend) CorruptPath() string {
	return b.filePath + ".corrupt"
}

// save writes doc. Overwriting an unreadable document first copies it to
// CorruptPath.
func (b *Backend) save(doc *document) error {
	if doc.corrupt != nil {
		if err := atomic.WriteFile(b.CorruptPath(), bytes.NewReader(doc.corrupt)); err != nil {
			return fmt.Errorf("failed to keep unreadable %s: %w", b.filePath, err)
		}
		utils.Warnf("unreadable %s copied to %s", b.filePath, b.CorruptPath())
		doc.corrupt = nil
	}
	if doc.Tasks == nil {
		doc.Tasks = []backend.Task{}
	}
	if doc.GlobalIgnores == nil {
		doc.GlobalIgnores = []string{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(b.filePath, bytes.NewReader(append(data, '\n')))
}

// ListTasks returns all tasks in creation order.
func (b *Backend) ListTasks(ctx context.Context) ([]backend.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.load()
	if err != nil {
		return nil, err
	}
	if doc.Tasks == nil {
		return []backend.Task{}, nil
	}
	return doc.Tasks, nil
}

// GetTask returns the task with the given id, or nil if there is none.
func (b *Backend) GetTask(ctx context.Context, id string) (*backend.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.load()
	if err != nil {
		return nil, err
	}
	for i := range doc.Tasks {
		if doc.Tasks[i].ID == id {
			t := doc.Tasks[i]
			return &t, nil
		}
	}
	return nil, nil
}

// UpsertTask appends a new task or replaces an existing one in place.
func (b *Backend) UpsertTask(ctx context.Context, task *backend.Task) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.load()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if task.Created.IsZero() {
		task.Created = now
	}
	task.Modified = now

	for i := range doc.Tasks {
		if doc.Tasks[i].ID == task.ID {
			task.Created = doc.Tasks[i].Created
			doc.Tasks[i] = *task
			return b.save(doc)
		}
	}
	doc.Tasks = append(doc.Tasks, *task)
	return b.save(doc)
}

// RemoveTask deletes a task. Removing an unknown id is not an error.
func (b *Backend) RemoveTask(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.load()
	if err != nil {
		return err
	}
	kept := doc.Tasks[:0]
	for _, t := range doc.Tasks {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	if len(kept) == len(doc.Tasks) {
		return nil
	}
	doc.Tasks = kept
	return b.save(doc)
}

// GlobalIgnores returns the global ignore list.
func (b *Backend) GlobalIgnores(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.load()
	if err != nil {
		return nil, err
	}
	if doc.GlobalIgnores == nil {
		return []string{}, nil
	}
	return doc.GlobalIgnores, nil
}

// SetGlobalIgnores replaces the global ignore list.
func (b *Backend) SetGlobalIgnores(ctx context.Context, patterns []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.load()
	if err != nil {
		return err
	}
	doc.GlobalIgnores = backend.NormalizeIgnores(patterns)
	return b.save(doc)
}
