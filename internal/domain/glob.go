package domain

import (
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// MatchGlob reports whether path matches a minimatch-style pattern.
// Dotfiles are matched by wildcards; malformed patterns never match.
func MatchGlob(pattern, path string) bool {
	ok, err := doublestar.Match(filepath.ToSlash(pattern), filepath.ToSlash(path))
	return err == nil && ok
}

// MatchAnyGlob reports whether path matches any of the patterns.
func MatchAnyGlob(patterns []string, path string) bool {
	for _, pattern := range patterns {
		if MatchGlob(pattern, path) {
			return true
		}
	}
	return false
}
