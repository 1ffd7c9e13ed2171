package utils

import (
	"regexp"
	"strconv"
	"strings"
)

// everyPattern matches "5m", "1.5 hours", "90 s".
var everyPattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([a-zA-Z]+)$`)

// ParseEvery splits an interval such as "5m" or "1.5 hours" into its number
// and unit word. The number must be positive. The unit is returned as typed.
func ParseEvery(s string) (float64, string, error) {
	m := everyPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, "", ErrInvalidInterval(s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil || value <= 0 {
		return 0, "", ErrInvalidInterval(s)
	}
	return value, m[2], nil
}
