// Package coveragefile reads coverage objects saved by the json report or
// dumped from a running target's __coverage__ global. LCOV tracefiles from
// other tools are accepted as well.
package coveragefile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nmalaguti/karma-coverage/internal/application"
	"github.com/nmalaguti/karma-coverage/internal/domain"
	"github.com/nmalaguti/karma-coverage/internal/pathutil"
)

var (
	ErrEmptyCoverage = errors.New("coverage file has no records")
	ErrUnknownFormat = errors.New("unrecognized coverage file format")
)

type Source struct{}

// Load decodes path as a coverage object. The format is sniffed from the
// content, falling back to the extension. JSON records keyed differently
// from their path field keep the key; records without a path take the key.
func (Source) Load(path string) (domain.CoverageObject, error) {
	cleanPath, err := pathutil.ValidatePath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	raw, err := os.ReadFile(cleanPath) // #nosec G304 - path is validated above
	if err != nil {
		return nil, err
	}

	var obj domain.CoverageObject
	switch detectFormat(raw, path) {
	case formatJSON:
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	case formatLCOV:
		if obj, err = parseLCOV(bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
	if len(obj) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyCoverage, path)
	}
	for key, fc := range obj {
		if fc == nil {
			return nil, fmt.Errorf("%s: record %s is null", path, key)
		}
		if fc.Path == "" {
			fc.Path = key
		}
		fillMissing(fc)
		if err := fc.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return obj, nil
}

type format int

const (
	formatUnknown format = iota
	formatJSON
	formatLCOV
)

// detectFormat uses content first and the extension as a hint.
func detectFormat(content []byte, path string) format {
	trimmed := bytes.TrimSpace(content)
	switch {
	case bytes.HasPrefix(trimmed, []byte("{")):
		return formatJSON
	case isLCOV(trimmed):
		return formatLCOV
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON
	case ".info", ".lcov":
		return formatLCOV
	}
	return formatUnknown
}

// fillMissing gives absent maps an empty value so records written by other
// tools merge cleanly.
func fillMissing(fc *domain.FileCoverage) {
	if fc.S == nil {
		fc.S = map[string]int{}
	}
	if fc.B == nil {
		fc.B = map[string][]int{}
	}
	if fc.F == nil {
		fc.F = map[string]int{}
	}
	if fc.FnMap == nil {
		fc.FnMap = map[string]domain.FunctionMapping{}
	}
	if fc.StatementMap == nil {
		fc.StatementMap = map[string]domain.Range{}
	}
	if fc.BranchMap == nil {
		fc.BranchMap = map[string]domain.BranchMapping{}
	}
}

var _ application.CoverageSource = Source{}
