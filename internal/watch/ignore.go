package watch

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ignoredSegments are path segments that never trigger a capture.
var ignoredSegments = map[string]struct{}{
	"node_modules": {},
	".git":         {},
	"dist":         {},
	"build":        {},
	".next":        {},
	".cache":       {},
	"coverage":     {},
	"__pycache__":  {},
	".venv":        {},
	".DS_Store":    {},
}

// IsIgnored reports whether path, below root, should be ignored. A path is
// ignored when any segment between root and the file is one of the noise
// names exactly (so "build-helpers.ts" is not ignored) or when its
// slash-separated path relative to root matches one of the extra
// doublestar patterns.
func IsIgnored(root, path string, extra []string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		rel = path
	}
	rel = filepath.ToSlash(rel)

	for _, seg := range strings.Split(rel, "/") {
		if _, ok := ignoredSegments[seg]; ok {
			return true
		}
	}

	for _, pattern := range extra {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
