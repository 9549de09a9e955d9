package domain

import "math"

// MetricName identifies one of the four coverage metrics.
type MetricName string

const (
	MetricStatements MetricName = "statements"
	MetricBranches   MetricName = "branches"
	MetricLines      MetricName = "lines"
	MetricFunctions  MetricName = "functions"
)

// Metrics lists the metrics in reporting order.
var Metrics = []MetricName{MetricStatements, MetricBranches, MetricLines, MetricFunctions}

// Metric summarizes covered vs total items of one kind.
type Metric struct {
	Total   int     `json:"total"`
	Covered int     `json:"covered"`
	Skipped int     `json:"skipped"`
	Pct     float64 `json:"pct"`
}

// Uncovered returns the number of items that were never hit.
func (m Metric) Uncovered() int {
	return m.Total - m.Covered
}

// IsEmpty returns true if there is nothing to cover.
func (m Metric) IsEmpty() bool {
	return m.Total == 0
}

func (m *Metric) tally(hit, skip bool) {
	m.Total++
	if hit || skip {
		m.Covered++
	}
	if !hit && skip {
		m.Skipped++
	}
}

func (m Metric) add(other Metric) Metric {
	m.Total += other.Total
	m.Covered += other.Covered
	m.Skipped += other.Skipped
	m.Pct = Percent(m.Covered, m.Total)
	return m
}

// Summary holds the four metrics for a file or a whole coverage object.
type Summary struct {
	Statements Metric `json:"statements"`
	Branches   Metric `json:"branches"`
	Lines      Metric `json:"lines"`
	Functions  Metric `json:"functions"`
}

// Metric returns the metric with the given name.
func (s Summary) Metric(name MetricName) Metric {
	switch name {
	case MetricStatements:
		return s.Statements
	case MetricBranches:
		return s.Branches
	case MetricLines:
		return s.Lines
	case MetricFunctions:
		return s.Functions
	default:
		return Metric{}
	}
}

// Add returns the element-wise sum of two summaries with recomputed percentages.
func (s Summary) Add(other Summary) Summary {
	return Summary{
		Statements: s.Statements.add(other.Statements),
		Branches:   s.Branches.add(other.Branches),
		Lines:      s.Lines.add(other.Lines),
		Functions:  s.Functions.add(other.Functions),
	}
}

// EmptySummary returns a summary with zero totals (100% everywhere).
func EmptySummary() Summary {
	empty := Metric{Pct: Percent(0, 0)}
	return Summary{Statements: empty, Branches: empty, Lines: empty, Functions: empty}
}

// SummarizeFile computes the summary of a single file record. As in
// istanbul, skipped items stay in the total and count as covered; Skipped
// holds the skipped items that were never hit.
func SummarizeFile(fc *FileCoverage) Summary {
	var s Summary

	for id, loc := range fc.StatementMap {
		s.Statements.tally(fc.S[id] > 0, loc.Skip)
	}
	for id, fn := range fc.FnMap {
		s.Functions.tally(fc.F[id] > 0, fn.Skip)
	}
	for id, br := range fc.BranchMap {
		for i, n := range fc.B[id] {
			skip := i < len(br.Locations) && br.Locations[i].Skip
			s.Branches.tally(n > 0, skip)
		}
	}
	for _, count := range fc.LineCounts() {
		s.Lines.tally(count > 0, false)
	}

	s.Statements.Pct = Percent(s.Statements.Covered, s.Statements.Total)
	s.Branches.Pct = Percent(s.Branches.Covered, s.Branches.Total)
	s.Lines.Pct = Percent(s.Lines.Covered, s.Lines.Total)
	s.Functions.Pct = Percent(s.Functions.Covered, s.Functions.Total)
	return s
}

// Summarize computes the global summary across every file of obj.
func Summarize(obj CoverageObject) Summary {
	total := EmptySummary()
	for _, fc := range obj {
		total = total.Add(SummarizeFile(fc))
	}
	return total
}

// Percent returns covered/total as a percentage rounded to two decimals,
// or 100 when there is nothing to cover.
func Percent(covered, total int) float64 {
	if total <= 0 {
		return 100
	}
	tmp := 1000*100*float64(covered)/float64(total) + 5
	return math.Floor(tmp/10) / 100
}

// Round1 rounds a float64 to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}
