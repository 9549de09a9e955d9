package domain

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
)

// Coverage model errors.
var (
	ErrStructureMismatch = errors.New("coverage structure mismatch")
	ErrInvalidCoverage   = errors.New("invalid file coverage")
)

// Position is a location in a source file. Lines are 1-based, columns 0-based.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Range spans two positions. Skip marks items excluded from totals.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
	Skip  bool     `json:"skip,omitempty"`
}

// FunctionMapping describes one instrumented function.
type FunctionMapping struct {
	Name string `json:"name"`
	Line int    `json:"line"`
	Loc  Range  `json:"loc"`
	Skip bool   `json:"skip,omitempty"`
}

// BranchMapping describes one instrumented branch point and its arms.
type BranchMapping struct {
	Line      int     `json:"line"`
	Type      string  `json:"type"`
	Locations []Range `json:"locations"`
}

// FileCoverage is the structural maps plus hit counters for one file.
// The field order matches the record embedded in instrumented code.
type FileCoverage struct {
	Path         string                     `json:"path"`
	S            map[string]int             `json:"s"`
	B            map[string][]int           `json:"b"`
	F            map[string]int             `json:"f"`
	FnMap        map[string]FunctionMapping `json:"fnMap"`
	StatementMap map[string]Range           `json:"statementMap"`
	BranchMap    map[string]BranchMapping   `json:"branchMap"`
}

// CoverageObject maps file paths to their coverage records.
type CoverageObject map[string]*FileCoverage

// NewFileCoverage returns an empty record for path.
func NewFileCoverage(path string) *FileCoverage {
	return &FileCoverage{
		Path:         path,
		S:            map[string]int{},
		B:            map[string][]int{},
		F:            map[string]int{},
		FnMap:        map[string]FunctionMapping{},
		StatementMap: map[string]Range{},
		BranchMap:    map[string]BranchMapping{},
	}
}

// Validate checks that every counter has a matching map entry.
func (fc *FileCoverage) Validate() error {
	if fc == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidCoverage)
	}
	for id := range fc.S {
		if _, ok := fc.StatementMap[id]; !ok {
			return fmt.Errorf("%w: %s: statement %s has no map entry", ErrInvalidCoverage, fc.Path, id)
		}
	}
	for id := range fc.F {
		if _, ok := fc.FnMap[id]; !ok {
			return fmt.Errorf("%w: %s: function %s has no map entry", ErrInvalidCoverage, fc.Path, id)
		}
	}
	for id, counts := range fc.B {
		m, ok := fc.BranchMap[id]
		if !ok {
			return fmt.Errorf("%w: %s: branch %s has no map entry", ErrInvalidCoverage, fc.Path, id)
		}
		if len(counts) != len(m.Locations) {
			return fmt.Errorf("%w: %s: branch %s has %d counters for %d locations",
				ErrInvalidCoverage, fc.Path, id, len(counts), len(m.Locations))
		}
	}
	return nil
}

// Clone returns a deep copy.
func (fc *FileCoverage) Clone() *FileCoverage {
	if fc == nil {
		return nil
	}
	out := NewFileCoverage(fc.Path)
	for k, v := range fc.S {
		out.S[k] = v
	}
	for k, v := range fc.F {
		out.F[k] = v
	}
	for k, v := range fc.B {
		out.B[k] = append([]int(nil), v...)
	}
	for k, v := range fc.FnMap {
		out.FnMap[k] = v
	}
	for k, v := range fc.StatementMap {
		out.StatementMap[k] = v
	}
	for k, v := range fc.BranchMap {
		v.Locations = append([]Range(nil), v.Locations...)
		out.BranchMap[k] = v
	}
	return out
}

// Reset zeroes every hit counter, keeping the structural maps.
func (fc *FileCoverage) Reset() {
	for k := range fc.S {
		fc.S[k] = 0
	}
	for k := range fc.F {
		fc.F[k] = 0
	}
	for k, v := range fc.B {
		fc.B[k] = make([]int, len(v))
	}
}

// SameStructure reports whether two records share identical structural maps.
func (fc *FileCoverage) SameStructure(other *FileCoverage) bool {
	return reflect.DeepEqual(fc.StatementMap, other.StatementMap) &&
		reflect.DeepEqual(fc.FnMap, other.FnMap) &&
		reflect.DeepEqual(fc.BranchMap, other.BranchMap)
}

// merge adds the counters of other into fc. Structures must match.
func (fc *FileCoverage) merge(other *FileCoverage) {
	for k, v := range other.S {
		fc.S[k] += v
	}
	for k, v := range other.F {
		fc.F[k] += v
	}
	for k, v := range other.B {
		counts := fc.B[k]
		if len(counts) < len(v) {
			grown := make([]int, len(v))
			copy(grown, counts)
			counts = grown
		}
		for i, n := range v {
			counts[i] += n
		}
		fc.B[k] = counts
	}
}

// LineCounts returns hit counts per line, derived from statement start lines.
// A line takes the highest count of the statements starting on it; a skipped
// statement that was never hit counts once.
func (fc *FileCoverage) LineCounts() map[int]int {
	lines := make(map[int]int, len(fc.StatementMap))
	for id, loc := range fc.StatementMap {
		line := loc.Start.Line
		count := fc.S[id]
		if count == 0 && loc.Skip {
			count = 1
		}
		if prev, ok := lines[line]; !ok || count > prev {
			lines[line] = count
		}
	}
	return lines
}

// UncoveredLines returns the sorted line numbers that were never hit.
func (fc *FileCoverage) UncoveredLines() []int {
	var out []int
	for line, count := range fc.LineCounts() {
		if count == 0 {
			out = append(out, line)
		}
	}
	sort.Ints(out)
	return out
}

// SortedIDs returns the keys of a counter map in numeric order.
func SortedIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Paths returns the keys of the coverage object in lexical order.
func (c CoverageObject) Paths() []string {
	paths := make([]string, 0, len(c))
	for p := range c {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Clone returns a deep copy of the coverage object.
func (c CoverageObject) Clone() CoverageObject {
	out := make(CoverageObject, len(c))
	for k, v := range c {
		out[k] = v.Clone()
	}
	return out
}
