package scanner

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// excludeMatcher applies doublestar patterns to root-relative slash paths.
// A pattern without a slash also matches any single path element.
type excludeMatcher struct {
	patterns []string
}

func newExcludeMatcher(patterns []string) (excludeMatcher, error) {
	cleaned := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.Trim(strings.TrimSpace(pattern), "/")
		if pattern == "" {
			continue
		}
		if !doublestar.ValidatePattern(pattern) {
			return excludeMatcher{}, fmt.Errorf("invalid exclude pattern %q", pattern)
		}
		cleaned = append(cleaned, pattern)
	}
	return excludeMatcher{patterns: cleaned}, nil
}

// Match reports whether rel (slash-separated, relative to the scan root) is
// excluded. name is the final element of rel.
func (m excludeMatcher) Match(rel, name string) bool {
	for _, pattern := range m.patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if !strings.Contains(pattern, "/") {
			if ok, _ := doublestar.Match(pattern, name); ok {
				return true
			}
		}
	}
	return false
}
