package domain

import (
	"errors"
	"fmt"
	"math"
)

// Value object errors.
var (
	ErrInvalidThreshold = errors.New("threshold must be a number no greater than 100")
	ErrEmptyPattern     = errors.New("pattern cannot be empty")
)

// Threshold is a coverage requirement for one metric.
// A non-negative value is the minimum percentage; a negative value is the
// maximum number of uncovered items allowed.
type Threshold struct {
	value float64
}

// NewThreshold creates a new Threshold value object.
func NewThreshold(value float64) (Threshold, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) || value > 100 {
		return Threshold{}, fmt.Errorf("%w: %v", ErrInvalidThreshold, value)
	}
	return Threshold{value: value}, nil
}

// MustThreshold creates a new Threshold, panicking if invalid.
func MustThreshold(value float64) Threshold {
	t, err := NewThreshold(value)
	if err != nil {
		panic(err)
	}
	return t
}

// Value returns the raw threshold value.
func (t Threshold) Value() float64 {
	return t.value
}

// IsUncoveredLimit reports whether the threshold caps the uncovered count.
func (t Threshold) IsUncoveredLimit() bool {
	return t.value < 0
}

// MaxUncovered returns the allowed uncovered count for a negative threshold.
func (t Threshold) MaxUncovered() float64 {
	return -t.value
}

// IsMet returns true if the metric satisfies this threshold.
func (t Threshold) IsMet(m Metric) bool {
	if t.IsUncoveredLimit() {
		return float64(m.Uncovered()) <= t.MaxUncovered()
	}
	return m.Pct >= t.value
}

// String returns a formatted string representation.
func (t Threshold) String() string {
	if t.IsUncoveredLimit() {
		return fmt.Sprintf("%v", -t.value)
	}
	return fmt.Sprintf("%v%%", t.value)
}

// Thresholds holds an optional threshold per metric. Nil means unset.
type Thresholds struct {
	Statements *float64 `json:"statements,omitempty" yaml:"statements,omitempty" toml:"statements,omitempty"`
	Branches   *float64 `json:"branches,omitempty" yaml:"branches,omitempty" toml:"branches,omitempty"`
	Lines      *float64 `json:"lines,omitempty" yaml:"lines,omitempty" toml:"lines,omitempty"`
	Functions  *float64 `json:"functions,omitempty" yaml:"functions,omitempty" toml:"functions,omitempty"`
}

// Get returns the configured value for the metric, falling back to 0.
func (t Thresholds) Get(name MetricName) Threshold {
	if p := t.ptr(name); p != nil {
		return Threshold{value: *p}
	}
	return Threshold{}
}

// Set assigns the value for a metric.
func (t *Thresholds) Set(name MetricName, value float64) {
	v := value
	switch name {
	case MetricStatements:
		t.Statements = &v
	case MetricBranches:
		t.Branches = &v
	case MetricLines:
		t.Lines = &v
	case MetricFunctions:
		t.Functions = &v
	}
}

// IsZero reports whether no metric is set.
func (t Thresholds) IsZero() bool {
	return t.Statements == nil && t.Branches == nil && t.Lines == nil && t.Functions == nil
}

// Merge returns t with every field set in override replacing its own.
func (t Thresholds) Merge(override Thresholds) Thresholds {
	out := t
	for _, name := range Metrics {
		if p := override.ptr(name); p != nil {
			out.Set(name, *p)
		}
	}
	return out
}

// Validate checks every configured value.
func (t Thresholds) Validate() error {
	for _, name := range Metrics {
		if p := t.ptr(name); p != nil {
			if _, err := NewThreshold(*p); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
	}
	return nil
}

func (t Thresholds) ptr(name MetricName) *float64 {
	switch name {
	case MetricStatements:
		return t.Statements
	case MetricBranches:
		return t.Branches
	case MetricLines:
		return t.Lines
	case MetricFunctions:
		return t.Functions
	default:
		return nil
	}
}

// ThresholdOverride replaces the per-file thresholds of files matching Pattern.
type ThresholdOverride struct {
	Pattern    string
	Thresholds Thresholds
}

// GlobalCheck is the threshold scope applied to the summed coverage.
type GlobalCheck struct {
	Thresholds
	Excludes []string
}

// EachCheck is the threshold scope applied to every file individually.
type EachCheck struct {
	Thresholds
	Excludes  []string
	Overrides []ThresholdOverride
}

// CheckConfig configures threshold enforcement.
type CheckConfig struct {
	Global GlobalCheck
	Each   EachCheck
}

// Validate checks thresholds and override patterns.
func (c CheckConfig) Validate() error {
	if err := c.Global.Thresholds.Validate(); err != nil {
		return fmt.Errorf("check.global: %w", err)
	}
	if err := c.Each.Thresholds.Validate(); err != nil {
		return fmt.Errorf("check.each: %w", err)
	}
	for _, o := range c.Each.Overrides {
		if o.Pattern == "" {
			return fmt.Errorf("check.each.overrides: %w", ErrEmptyPattern)
		}
		if err := o.Thresholds.Validate(); err != nil {
			return fmt.Errorf("check.each.overrides[%s]: %w", o.Pattern, err)
		}
	}
	return nil
}
