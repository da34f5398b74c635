package watcher

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestIgnoreMatcherDefaults(t *testing.T) {
	matcher, errs := NewIgnoreMatcher(DefaultIgnorePatterns)
	if len(errs) != 0 {
		t.Fatalf("expected default patterns to compile, got %v", errs)
	}

	cases := []struct {
		path    string
		ignored bool
	}{
		{path: filepath.Join("/work", "scratch.tmp"), ignored: true},
		{path: filepath.Join("/work", ".main.go.swp"), ignored: true},
		{path: filepath.Join("/work", ".git", "HEAD"), ignored: true},
		{path: filepath.Join("/work", "web", "node_modules", "left-pad", "index.js"), ignored: true},
		{path: filepath.Join("/work", "main.go"), ignored: false},
		{path: filepath.Join("/work", ".gitignore"), ignored: false},
	}
	for _, testCase := range cases {
		if got := matcher.Match(testCase.path); got != testCase.ignored {
			t.Fatalf("%s: expected ignored=%v, got %v", testCase.path, testCase.ignored, got)
		}
	}
}

func TestIgnoreMatcherPlainPatternIsSubstring(t *testing.T) {
	matcher, _ := NewIgnoreMatcher([]string{"build"})
	if !matcher.Match("/repo/build/out.bin") {
		t.Fatalf("expected substring match")
	}
	if !matcher.Match("/repo/rebuild.sh") {
		t.Fatalf("expected substring match inside a name")
	}
	if matcher.Match("/repo/src/main.go") {
		t.Fatalf("unexpected match")
	}
}

func TestIgnoreMatcherInvalidPatternNeverMatches(t *testing.T) {
	matcher, errs := NewIgnoreMatcher([]string{"[unclosed", "*.log"})
	if len(errs) != 1 {
		t.Fatalf("expected one pattern error, got %d", len(errs))
	}
	var patternErr *PatternError
	if !errors.As(errs[0], &patternErr) || patternErr.Pattern != "[unclosed" {
		t.Fatalf("expected PatternError for [unclosed, got %v", errs[0])
	}
	if matcher.Match("/x/[unclosed") {
		t.Fatalf("broken pattern must never match")
	}
	if !matcher.Match("/x/app.log") {
		t.Fatalf("valid pattern next to a broken one should still match")
	}
	if got := matcher.Patterns(); len(got) != 2 {
		t.Fatalf("expected both patterns to be kept, got %v", got)
	}
}

func TestIgnoreMatcherNil(t *testing.T) {
	var matcher *IgnoreMatcher
	if matcher.Match("/anything") {
		t.Fatalf("nil matcher should not match")
	}
}
