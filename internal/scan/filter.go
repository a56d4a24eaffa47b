package scan

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ExcludeFilter prunes relative paths matching any of its glob patterns.
// `*` matches within a path segment, `**` matches across segments. A match
// on a directory prunes its whole subtree at the lister, so remote backends
// never pay the listing cost for excluded trees.
type ExcludeFilter struct {
	patterns []string
}

// NewExcludeFilter validates the patterns up front so a bad pattern fails
// the scan synchronously instead of mid-listing. An empty list excludes
// nothing.
func NewExcludeFilter(patterns []string) (*ExcludeFilter, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	return &ExcludeFilter{patterns: patterns}, nil
}

// ParsePatterns splits the UI's comma-separated pattern field into
// individual patterns, dropping empties.
func ParsePatterns(s string) []string {
	var patterns []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			patterns = append(patterns, p)
		}
	}
	return patterns
}

// Match reports whether relPath is excluded. The signature matches
// tree.SkipFunc so the filter plugs straight into a lister. Safe on a nil
// receiver.
func (f *ExcludeFilter) Match(relPath string, _ bool) bool {
	if f == nil {
		return false
	}
	for _, p := range f.patterns {
		if ok, _ := doublestar.Match(p, relPath); ok {
			return true
		}
	}
	return false
}
