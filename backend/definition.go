package backend

import (
	"fmt"
	"math"
	"strings"
)

// Definition is the user-supplied part of a task: everything except id and run-state.
type Definition struct {
	LocalPath string       `json:"localPath"`
	Remote    RemoteNode   `json:"remote"`
	Ignores   []string     `json:"ignores"`
	Interval  float64      `json:"interval"`
	Unit      IntervalUnit `json:"unit"`
}

// Normalize trims paths and cleans the ignore list in place.
func (d *Definition) Normalize() {
	d.LocalPath = strings.TrimSpace(d.LocalPath)
	d.Remote.Path = strings.TrimSpace(d.Remote.Path)
	d.Remote.UUID = strings.TrimSpace(d.Remote.UUID)
	d.Ignores = NormalizeIgnores(d.Ignores)
}

// Validate checks the definition. The first problem found is returned as a *ValidationError.
func (d *Definition) Validate() error {
	if d.LocalPath == "" {
		return &ValidationError{Field: "local path", Reason: "local directory should not be empty"}
	}
	if d.Remote.IsZero() {
		return &ValidationError{Field: "remote node", Reason: "remote directory should not be empty"}
	}
	if math.IsNaN(d.Interval) || math.IsInf(d.Interval, 0) || d.Interval <= 0 {
		return &ValidationError{Field: "interval", Reason: "repeat interval must be a positive number"}
	}
	if !d.Unit.Valid() {
		return &ValidationError{Field: "unit", Reason: "unknown interval unit " + string(d.Unit)}
	}
	if !PeriodInRange(d.Interval, d.Unit) {
		return &ValidationError{Field: "interval", Reason: fmt.Sprintf("repeat interval %v %s is out of range", d.Interval, d.Unit)}
	}
	return ValidateIgnores(d.Ignores)
}

// Apply copies the definition onto t, leaving id and run-state untouched.
func (d *Definition) Apply(t *Task) {
	t.LocalPath = d.LocalPath
	t.Remote = d.Remote
	t.Ignores = append([]string(nil), d.Ignores...)
	t.Interval = d.Interval
	t.Unit = d.Unit
}
