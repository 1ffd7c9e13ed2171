// Package sqlite implements backend.Store on top of an SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"cellsync/backend"
	"cellsync/internal/utils"
)

func init() {
	backend.Register("sqlite", func(path string) (backend.Store, error) {
		return New(path)
	})
}

// migrations are applied in order; the index + 1 is the schema version.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		local_path TEXT NOT NULL,
		remote TEXT NOT NULL,
		ignores TEXT NOT NULL DEFAULT '[]',
		active INTEGER NOT NULL DEFAULT 0,
		repeat_interval REAL NOT NULL,
		repeat_unit TEXT NOT NULL,
		created TEXT NOT NULL,
		modified TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_position ON tasks(position);`,

	`CREATE TABLE IF NOT EXISTS global_ignores (
		position INTEGER PRIMARY KEY,
		pattern TEXT NOT NULL UNIQUE
	);`,
}

// Backend implements backend.Store using SQLite
type Backend struct {
	db *sql.DB
}

// New opens the database at path and brings its schema up to date.
func New(path string) (*Backend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Loops read while the manager writes; one connection keeps ":memory:"
	// databases shared and writes serialized.
	db.SetMaxOpenConns(1)

	b := &Backend{db: db}
	if err := b.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return b, nil
}

// initSchema creates the version table and applies pending migrations
func (b *Backend) initSchema() error {
	if _, err := b.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return err
	}

	current, err := b.SchemaVersion()
	if err != nil {
		return err
	}

	for i := current; i < len(migrations); i++ {
		tx, err := b.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			i+1, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration, 0 for a fresh database.
func (b *Backend) SchemaVersion() (int, error) {
	var version sql.NullInt64
	if err := b.db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}

// Close closes the database
func (b *Backend) Close() error {
	return b.db.Close()
}

const taskColumns = "id, local_path, remote, ignores, active, repeat_interval, repeat_unit, created, modified"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (backend.Task, error) {
	var t backend.Task
	var remoteJSON, ignoresJSON, unit, created, modified string
	var active int
	if err := row.Scan(&t.ID, &t.LocalPath, &remoteJSON, &ignoresJSON, &active, &t.Interval, &unit, &created, &modified); err != nil {
		return t, err
	}
	if err := json.Unmarshal([]byte(remoteJSON), &t.Remote); err != nil {
		return t, fmt.Errorf("%w: task %s remote: %v", backend.ErrStorageCorrupt, t.ID, err)
	}
	if err := json.Unmarshal([]byte(ignoresJSON), &t.Ignores); err != nil {
		return t, fmt.Errorf("%w: task %s ignores: %v", backend.ErrStorageCorrupt, t.ID, err)
	}
	t.Unit = backend.IntervalUnit(unit)
	if !backend.PeriodInRange(t.Interval, t.Unit) {
		return t, fmt.Errorf("%w: task %s has period %v %s", backend.ErrStorageCorrupt, t.ID, t.Interval, unit)
	}
	t.Active = active != 0
	t.Created, _ = time.Parse(time.RFC3339Nano, created)
	t.Modified, _ = time.Parse(time.RFC3339Nano, modified)
	return t, nil
}

// ListTasks returns all tasks in creation order. A record that cannot be
// decoded makes the whole set unreadable; it is logged and treated as empty.
func (b *Backend) ListTasks(ctx context.Context) ([]backend.Task, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT "+taskColumns+" FROM tasks ORDER BY position")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	tasks := []backend.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			utils.Warnf("ignoring stored tasks: %v", err)
			return []backend.Task{}, nil
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// GetTask returns the task with the given id, or nil if there is none. It
// reads the whole set so that a corrupt record hides every task, exactly as
// ListTasks does.
func (b *Backend) GetTask(ctx context.Context, id string) (*backend.Task, error) {
	tasks, err := b.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		if tasks[i].ID == id {
			return &tasks[i], nil
		}
	}
	return nil, nil
}

// UpsertTask inserts a new task at the end of the list or replaces an existing one in place.
func (b *Backend) UpsertTask(ctx context.Context, task *backend.Task) error {
	remoteJSON, err := json.Marshal(task.Remote)
	if err != nil {
		return err
	}
	ignores := task.Ignores
	if ignores == nil {
		ignores = []string{}
	}
	ignoresJSON, err := json.Marshal(ignores)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if task.Created.IsZero() {
		task.Created = now
	}
	task.Modified = now

	active := 0
	if task.Active {
		active = 1
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO tasks (id, position, local_path, remote, ignores, active, repeat_interval, repeat_unit, created, modified)
		VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM tasks), ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			local_path = excluded.local_path,
			remote = excluded.remote,
			ignores = excluded.ignores,
			active = excluded.active,
			repeat_interval = excluded.repeat_interval,
			repeat_unit = excluded.repeat_unit,
			modified = excluded.modified`,
		task.ID, task.LocalPath, string(remoteJSON), string(ignoresJSON), active,
		task.Interval, string(task.Unit),
		task.Created.Format(time.RFC3339Nano), task.Modified.Format(time.RFC3339Nano),
	)
	return err
}

// RemoveTask deletes a task. Removing an unknown id is not an error.
func (b *Backend) RemoveTask(ctx context.Context, id string) error {
	_, err := b.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	return err
}

// GlobalIgnores returns the global ignore list in insertion order.
func (b *Backend) GlobalIgnores(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT pattern FROM global_ignores ORDER BY position")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	patterns := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// SetGlobalIgnores replaces the global ignore list.
func (b *Backend) SetGlobalIgnores(ctx context.Context, patterns []string) error {
	patterns = backend.NormalizeIgnores(patterns)

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM global_ignores"); err != nil {
		_ = tx.Rollback()
		return err
	}
	for i, p := range patterns {
		if _, err := tx.ExecContext(ctx, "INSERT INTO global_ignores (position, pattern) VALUES (?, ?)", i+1, p); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
