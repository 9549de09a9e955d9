package domain

// Level classifies a percentage against a watermark pair.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Watermark is a [low, high) display boundary for one metric.
type Watermark [2]float64

// Watermarks holds the display boundaries of every metric. They only color
// reports and are never enforced.
type Watermarks struct {
	Statements Watermark `json:"statements" yaml:"statements" toml:"statements"`
	Branches   Watermark `json:"branches" yaml:"branches" toml:"branches"`
	Lines      Watermark `json:"lines" yaml:"lines" toml:"lines"`
	Functions  Watermark `json:"functions" yaml:"functions" toml:"functions"`
}

// DefaultWatermarks returns the stock [50, 80] boundaries.
func DefaultWatermarks() Watermarks {
	w := Watermark{50, 80}
	return Watermarks{Statements: w, Branches: w, Lines: w, Functions: w}
}

// MergeWatermarks overlays the non-zero entries of user on the defaults.
func MergeWatermarks(user *Watermarks) Watermarks {
	out := DefaultWatermarks()
	if user == nil {
		return out
	}
	pick := func(dst *Watermark, src Watermark) {
		if src != (Watermark{}) {
			*dst = src
		}
	}
	pick(&out.Statements, user.Statements)
	pick(&out.Branches, user.Branches)
	pick(&out.Lines, user.Lines)
	pick(&out.Functions, user.Functions)
	return out
}

// For returns the watermark of a metric.
func (w Watermarks) For(name MetricName) Watermark {
	switch name {
	case MetricStatements:
		return w.Statements
	case MetricBranches:
		return w.Branches
	case MetricLines:
		return w.Lines
	case MetricFunctions:
		return w.Functions
	default:
		return Watermark{}
	}
}

// Classify places pct relative to the metric's watermark.
func (w Watermarks) Classify(name MetricName, pct float64) Level {
	mark := w.For(name)
	switch {
	case pct < mark[0]:
		return LevelLow
	case pct >= mark[1]:
		return LevelHigh
	default:
		return LevelMedium
	}
}
