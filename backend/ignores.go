package backend

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// NormalizeIgnores trims every pattern and drops empties and duplicates, keeping order.
func NormalizeIgnores(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	seen := make(map[string]bool, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// ValidateIgnores checks that every pattern compiles as a glob.
func ValidateIgnores(patterns []string) error {
	for _, p := range patterns {
		if _, err := glob.Compile(p, '/'); err != nil {
			return &ValidationError{Field: "ignore pattern", Reason: fmt.Sprintf("%q: %v", p, err)}
		}
	}
	return nil
}

// MatchIgnores returns the first pattern matching path. A pattern without a
// separator is also tried against the base name, so "*.tmp" ignores nested files.
func MatchIgnores(patterns []string, path string) (string, bool) {
	path = strings.TrimPrefix(path, "/")
	base := path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		base = path[i+1:]
	}
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			continue
		}
		if g.Match(path) {
			return p, true
		}
		if !strings.Contains(p, "/") && g.Match(base) {
			return p, true
		}
	}
	return "", false
}

// AddIgnore appends pattern if it is not present yet.
func AddIgnore(patterns []string, pattern string) []string {
	return NormalizeIgnores(append(append([]string(nil), patterns...), pattern))
}

// RemoveIgnore drops pattern from the list.
func RemoveIgnore(patterns []string, pattern string) []string {
	pattern = strings.TrimSpace(pattern)
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p != pattern {
			out = append(out, p)
		}
	}
	return out
}
