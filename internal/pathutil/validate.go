// Package pathutil checks paths read from configuration and the command line
// before files are opened or written.
package pathutil

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrEmptyPath   = errors.New("path is empty")
	ErrNullBytes   = errors.New("path contains null bytes")
	ErrOutsideBase = errors.New("path escapes its base directory")
)

// ValidatePath cleans path and resolves symlinks when the path exists.
// A path that does not exist yet is returned cleaned so it can be created.
func ValidatePath(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}
	cleaned := filepath.Clean(path)
	if strings.Contains(cleaned, "\x00") {
		return "", ErrNullBytes
	}
	realPath, err := filepath.EvalSymlinks(cleaned)
	if err != nil {
		return cleaned, nil
	}
	return realPath, nil
}

// IsPathSafe reports whether a relative path stays below its starting point
// once cleaned.
func IsPathSafe(path string) bool {
	if path == "" || strings.Contains(path, "\x00") {
		return false
	}
	cleaned := filepath.Clean(path)
	return cleaned != ".." && !strings.HasPrefix(cleaned, ".."+string(filepath.Separator))
}

// Within joins a relative path onto base and returns the result, failing when
// rel is absolute or climbs out of base. Report file names go through it.
func Within(base, rel string) (string, error) {
	if rel == "" {
		return "", ErrEmptyPath
	}
	if strings.Contains(rel, "\x00") {
		return "", ErrNullBytes
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") || !IsPathSafe(rel) {
		return "", fmt.Errorf("%w: %s", ErrOutsideBase, rel)
	}
	return filepath.Join(base, rel), nil
}
