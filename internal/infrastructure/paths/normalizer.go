// Package paths provides path normalization utilities for coverage keys.
package paths

import (
	"path/filepath"

	"github.com/nmalaguti/karma-coverage/internal/domain"
)

// BaseDirNormalizer normalizes coverage keys relative to a project base path.
// It implements the domain.PathNormalizer interface.
type BaseDirNormalizer struct {
	BasePath string
}

// NewBaseDirNormalizer creates a new BaseDirNormalizer.
func NewBaseDirNormalizer(basePath string) *BaseDirNormalizer {
	return &BaseDirNormalizer{BasePath: basePath}
}

// Normalize makes absolute keys relative to the base path, then cleans the
// result and converts it to forward slashes. Relative keys are only cleaned.
func (n *BaseDirNormalizer) Normalize(key string) string {
	native := filepath.FromSlash(key)
	if filepath.IsAbs(native) && n.BasePath != "" {
		if rel, err := filepath.Rel(n.BasePath, native); err == nil {
			native = rel
		}
	}
	return filepath.ToSlash(filepath.Clean(native))
}

// Ensure BaseDirNormalizer implements domain.PathNormalizer.
var _ domain.PathNormalizer = (*BaseDirNormalizer)(nil)
