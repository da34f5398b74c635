package watcher

import (
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

const wildcardChars = "*?[{"

type ignoreRule struct {
	pattern   string
	matcher   glob.Glob
	substring string
	broken    bool
}

// IgnoreMatcher decides whether a path should be dropped. A pattern with a
// wildcard matches anywhere in the slash-separated path; a plain pattern is
// a substring test.
type IgnoreMatcher struct {
	rules []ignoreRule
}

// NewIgnoreMatcher compiles patterns. Patterns that fail to compile are
// returned as *PatternError values and never match.
func NewIgnoreMatcher(patterns []string) (*IgnoreMatcher, []error) {
	matcher := &IgnoreMatcher{}
	var errs []error
	for _, pattern := range patterns {
		normalized := filepath.ToSlash(strings.TrimSpace(pattern))
		if normalized == "" {
			continue
		}
		rule := ignoreRule{pattern: pattern}
		if strings.ContainsAny(normalized, wildcardChars) {
			compiled, err := glob.Compile("*" + normalized + "*")
			if err != nil {
				rule.broken = true
				errs = append(errs, &PatternError{Pattern: pattern, Err: err})
			} else {
				rule.matcher = compiled
			}
		} else {
			rule.substring = normalized
		}
		matcher.rules = append(matcher.rules, rule)
	}
	return matcher, errs
}

func (m *IgnoreMatcher) Match(path string) bool {
	if m == nil || len(m.rules) == 0 || path == "" {
		return false
	}
	normalized := filepath.ToSlash(path)
	for _, rule := range m.rules {
		switch {
		case rule.broken:
		case rule.matcher != nil:
			if rule.matcher.Match(normalized) {
				return true
			}
		case strings.Contains(normalized, rule.substring):
			return true
		}
	}
	return false
}

func (m *IgnoreMatcher) Patterns() []string {
	if m == nil {
		return nil
	}
	patterns := make([]string, 0, len(m.rules))
	for _, rule := range m.rules {
		patterns = append(patterns, rule.pattern)
	}
	return patterns
}
