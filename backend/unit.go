package backend

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// IntervalUnit is the unit a task's repeat interval is expressed in.
type IntervalUnit string

const (
	UnitSecond IntervalUnit = "second"
	UnitMinute IntervalUnit = "minute"
	UnitHour   IntervalUnit = "hour"
	UnitDay    IntervalUnit = "day"
)

// Units lists the supported units from smallest to largest.
var Units = []IntervalUnit{UnitSecond, UnitMinute, UnitHour, UnitDay}

// Seconds returns the unit multiplier, or 0 for an unknown unit.
func (u IntervalUnit) Seconds() int {
	switch u {
	case UnitSecond:
		return 1
	case UnitMinute:
		return 60
	case UnitHour:
		return 60 * 60
	case UnitDay:
		return 24 * 60 * 60
	default:
		return 0
	}
}

// Valid reports whether u is a known unit.
func (u IntervalUnit) Valid() bool {
	return u.Seconds() > 0
}

// PeriodInRange reports whether interval counted in unit is a period a timer
// can wait for: at least one nanosecond and small enough for a time.Duration.
func PeriodInRange(interval float64, unit IntervalUnit) bool {
	ns := interval * float64(unit.Seconds()) * float64(time.Second)
	return ns >= 1 && ns < float64(math.MaxInt64)
}

// ParseUnit accepts singular, plural and short forms ("min", "minutes", "h").
func ParseUnit(s string) (IntervalUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "s", "sec", "second", "seconds":
		return UnitSecond, nil
	case "m", "min", "minute", "minutes":
		return UnitMinute, nil
	case "h", "hr", "hour", "hours":
		return UnitHour, nil
	case "d", "day", "days":
		return UnitDay, nil
	}
	return "", &ValidationError{Field: "unit", Reason: fmt.Sprintf("unknown unit %q (use second, minute, hour or day)", s)}
}
