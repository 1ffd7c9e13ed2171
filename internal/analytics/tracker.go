package analytics

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"cellsync/backend"
	"cellsync/internal/engine"
)

// Tracker records command events
type Tracker struct {
	db      *sql.DB
	enabled bool
	clock   clockwork.Clock
	mu      sync.Mutex
}

// NewTracker opens the database at dbPath. A disabled tracker still opens
// it so statistics can be read and cleaned up. clock may be nil.
func NewTracker(dbPath string, enabled bool, clock clockwork.Clock) (*Tracker, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tracker{db: db, enabled: enabled, clock: clock}, nil
}

// Close closes the database connection
func (t *Tracker) Close() error {
	if t.db != nil {
		return t.db.Close()
	}
	return nil
}

// Enabled reports whether events are recorded.
func (t *Tracker) Enabled() bool {
	return t.enabled
}

// TrackCommand runs fn and records how it went. fn always runs; its error
// is returned unchanged.
func (t *Tracker) TrackCommand(cmd, subcmd string, flags []string, fn func() error) error {
	start := t.clock.Now()
	err := fn()
	if recErr := t.Track(cmd, subcmd, flags, start, err); recErr != nil {
		return errors.Join(err, recErr)
	}
	return err
}

// Track records a command that started at start and finished now with err.
func (t *Tracker) Track(cmd, subcmd string, flags []string, start time.Time, err error) error {
	if !t.enabled {
		return nil
	}
	now := t.clock.Now()
	event := Event{
		Timestamp:  now.Unix(),
		Command:    cmd,
		Subcommand: subcmd,
		Success:    err == nil,
		DurationMs: now.Sub(start).Milliseconds(),
		ErrorType:  categorizeError(err),
	}
	if len(flags) > 0 {
		data, _ := json.Marshal(flags)
		event.Flags = string(data)
	}
	return t.logEvent(event)
}

func (t *Tracker) logEvent(event Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, err := t.db.Exec(`
		INSERT INTO events (timestamp, command, subcommand, success, duration_ms, error_type, flags)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, event.Timestamp, event.Command, nullString(event.Subcommand), boolToInt(event.Success),
		event.DurationMs, nullString(event.ErrorType), nullString(event.Flags))
	return err
}

// Recent returns the last limit events, newest first.
func (t *Tracker) Recent(limit int) ([]Event, error) {
	rows, err := t.db.Query(`
		SELECT id, timestamp, command, COALESCE(subcommand, ''), success, COALESCE(duration_ms, 0),
		       COALESCE(error_type, ''), COALESCE(flags, '')
		FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var e Event
		var success int
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Command, &e.Subcommand, &success,
			&e.DurationMs, &e.ErrorType, &e.Flags); err != nil {
			return nil, err
		}
		e.Success = success == 1
		events = append(events, e)
	}
	return events, rows.Err()
}

// Summary aggregates events recorded in the last days days (all when
// days <= 0), most used commands first.
func (t *Tracker) Summary(days int) ([]CommandStats, error) {
	var since int64
	if days > 0 {
		since = t.clock.Now().Unix() - int64(days*86400)
	}
	rows, err := t.db.Query(`
		SELECT command, COALESCE(subcommand, ''), COUNT(*),
		       SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), AVG(COALESCE(duration_ms, 0))
		FROM events WHERE timestamp >= ?
		GROUP BY command, subcommand
		ORDER BY COUNT(*) DESC, command, subcommand`, since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var stats []CommandStats
	for rows.Next() {
		var s CommandStats
		if err := rows.Scan(&s.Command, &s.Subcommand, &s.Runs, &s.Failures, &s.AvgMs); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup removes events older than retentionDays and returns how many
// were deleted.
func (t *Tracker) Cleanup(retentionDays int) (int64, error) {
	cutoff := t.clock.Now().Unix() - int64(retentionDays*86400)

	t.mu.Lock()
	defer t.mu.Unlock()
	result, err := t.db.Exec("DELETE FROM events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, err
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		_, _ = t.db.Exec("VACUUM")
	}
	return deleted, nil
}

// categorizeError maps an error to a coarse failure class
func categorizeError(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case engine.IsUnreachable(err):
		return "engine_unreachable"
	case engine.IsRejected(err):
		return "engine_rejected"
	case engine.IsMalformed(err):
		return "engine_malformed"
	case backend.IsValidation(err):
		return "validation"
	case errors.Is(err, backend.ErrTaskNotFound):
		return "not_found"
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "not found"):
		return "not_found"
	case strings.Contains(errStr, "unknown command") || strings.Contains(errStr, "flag"):
		return "usage"
	case strings.Contains(errStr, "invalid"):
		return "validation"
	default:
		return "unknown"
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
