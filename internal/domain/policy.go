package domain

import (
	"fmt"
	"path/filepath"
)

// PathNormalizer is a port that normalizes coverage keys before glob matching.
// The actual implementation lives in the infrastructure layer.
type PathNormalizer interface {
	// Normalize converts a coverage key, absolute or relative, to a clean
	// slash-separated path relative to the base directory.
	Normalize(key string) string
}

// CleanPathNormalizer normalizes keys without a base directory.
type CleanPathNormalizer struct{}

// Normalize cleans key and converts it to forward slashes.
func (CleanPathNormalizer) Normalize(key string) string {
	return filepath.ToSlash(filepath.Clean(key))
}

// RemoveFiles returns a copy of obj without the keys whose normalized form
// matches any pattern. Records are shared with obj, not copied.
func RemoveFiles(obj CoverageObject, patterns []string, n PathNormalizer) CoverageObject {
	out := make(CoverageObject, len(obj))
	for key, fc := range obj {
		if len(patterns) > 0 && MatchAnyGlob(patterns, n.Normalize(key)) {
			continue
		}
		out[key] = fc
	}
	return out
}

// OverrideThresholds returns the thresholds of the first override whose
// pattern matches key, or empty thresholds when none match.
func OverrideThresholds(key string, overrides []ThresholdOverride, n PathNormalizer) Thresholds {
	normalized := n.Normalize(key)
	for _, o := range overrides {
		if MatchGlob(o.Pattern, normalized) {
			return o.Thresholds
		}
	}
	return Thresholds{}
}

// Violation is one metric failing its threshold in one scope.
type Violation struct {
	Scope     string     `json:"scope"`
	File      string     `json:"file,omitempty"`
	Metric    MetricName `json:"metric"`
	Actual    float64    `json:"actual"`
	Uncovered int        `json:"uncovered"`
	Threshold Threshold  `json:"-"`
}

// Message renders the violation as a log line prefixed with the target name.
func (v Violation) Message(target string) string {
	if v.Threshold.IsUncoveredLimit() {
		return fmt.Sprintf("%s: Uncovered count for %s (%d) exceeds %s threshold (%v)",
			target, v.Metric, v.Uncovered, v.Scope, v.Threshold.MaxUncovered())
	}
	return fmt.Sprintf("%s: Coverage for %s (%v%%) does not meet %s threshold (%v%%)",
		target, v.Metric, v.Actual, v.Scope, v.Threshold.Value())
}

// CheckResult is the outcome of evaluating a coverage object against a CheckConfig.
type CheckResult struct {
	Failed     bool
	Global     Summary
	Files      map[string]Summary
	Violations []Violation
}

// CheckCoverage evaluates the global scope and then every remaining file.
// Every metric of every scope is checked; nothing short-circuits.
func CheckCoverage(cfg CheckConfig, raw CoverageObject, n PathNormalizer) CheckResult {
	result := CheckResult{
		Global: Summarize(RemoveFiles(raw, cfg.Global.Excludes, n)),
		Files:  map[string]Summary{},
	}

	check := func(scope, file string, thresholds Thresholds, actuals Summary) {
		for _, name := range Metrics {
			threshold := thresholds.Get(name)
			actual := actuals.Metric(name)
			if threshold.IsMet(actual) {
				continue
			}
			result.Failed = true
			result.Violations = append(result.Violations, Violation{
				Scope:     scope,
				File:      file,
				Metric:    name,
				Actual:    actual.Pct,
				Uncovered: actual.Uncovered(),
				Threshold: threshold,
			})
		}
	}

	check("global", "", cfg.Global.Thresholds, result.Global)

	each := RemoveFiles(raw, cfg.Each.Excludes, n)
	for _, key := range each.Paths() {
		summary := SummarizeFile(each[key])
		result.Files[key] = summary
		thresholds := cfg.Each.Thresholds.Merge(OverrideThresholds(key, cfg.Each.Overrides, n))
		check("per-file ("+key+") ", key, thresholds, summary)
	}

	return result
}
