package application

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nmalaguti/karma-coverage/internal/domain"
)

const (
	// CoverageReporterName enables instrumentation when present in Config.Reporters.
	CoverageReporterName = "coverage"
	// DefaultInstrumenter is used for files no override matches.
	DefaultInstrumenter = "istanbul"
	// DefaultReportType is used when a report definition names no type.
	DefaultReportType = "html"
	// DefaultDir is the output root when no dir is configured.
	DefaultDir = "coverage"
)

var (
	ErrConfigNotFound      = errors.New("config not found")
	ErrUnknownInstrumenter = errors.New("unknown instrumenter")
	ErrUnknownReporter     = errors.New("unknown reporter type")
	ErrInvalidSubdir       = errors.New("invalid subdir template")
)

// ConfigError reports a configuration value that cannot be used.
type ConfigError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Field, e.Err, e.Value)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Config represents validated, application-ready configuration.
type Config struct {
	BasePath  string
	Reporters []string // host reporters; instrumentation needs "coverage"
	Files     []string // files loaded into every target, in order
	Targets   []string // target (browser) names
	Coverage  CoverageConfig
}

// HasCoverageReporter reports whether the coverage reporter is enabled.
func (c Config) HasCoverageReporter() bool {
	for _, r := range c.Reporters {
		if r == CoverageReporterName {
			return true
		}
	}
	return false
}

// CoverageConfig is the coverageReporter section.
type CoverageConfig struct {
	// Top-level report definition, used when Reporters is empty.
	Type   string
	Dir    string
	File   string
	Subdir Subdir

	Reporters []ReporterConfig

	// Instrument lists globs of files that go through the instrumentation stage.
	Instrument          []string
	Instrumenter        []InstrumenterOverride
	Instrumenters       InstrumenterRegistry
	// InstrumenterAliases names registered instrumenters under new names.
	InstrumenterAliases map[string]string
	InstrumenterOptions map[string]InstrumenterOptions
	IncludeAllSources   bool

	Watermarks *domain.Watermarks
	Check      *domain.CheckConfig
}

// ReportDefinitions returns the configured reporters, or one built from the
// top-level fields.
func (c CoverageConfig) ReportDefinitions() []ReporterConfig {
	if len(c.Reporters) > 0 {
		return c.Reporters
	}
	return []ReporterConfig{{Type: c.Type, Dir: c.Dir, File: c.File, Subdir: c.Subdir}}
}

// ReporterConfig is one report definition.
type ReporterConfig struct {
	Type   string
	Dir    string
	File   string
	Subdir Subdir
}

// Kind returns the report type, defaulting to html.
func (r ReporterConfig) Kind() string {
	if r.Type == "" {
		return DefaultReportType
	}
	return r.Type
}

// IsConsole reports whether the definition prints to the console synchronously.
func (r ReporterConfig) IsConsole() bool {
	return (r.Type == "text" || r.Type == "text-summary") && r.File == ""
}

// Subdir is either a literal directory name or a function of the browser name.
type Subdir struct {
	Name string
	Func func(browser string) string
}

// IsZero reports whether neither form is set.
func (s Subdir) IsZero() bool {
	return s.Name == "" && s.Func == nil
}

// Resolve returns the subdirectory for browser, defaulting to the browser name.
func (s Subdir) Resolve(browser string) string {
	if s.Func != nil {
		return s.Func(browser)
	}
	if s.Name != "" {
		return s.Name
	}
	return browser
}

// InstrumenterOverride routes files matching Pattern to instrumenter Name.
type InstrumenterOverride struct {
	Pattern string
	Name    string
}

// InstrumenterOptions are the per-instrumenter options handed to a factory.
type InstrumenterOptions struct {
	NoCompact bool
	// CodeGeneration is set by the stage when the file carries an input source map.
	CodeGeneration *CodeGenOptions
	// CodeGenerationOverrides are user keys applied on top of CodeGeneration.
	CodeGenerationOverrides map[string]any
	Extra                   map[string]any
}

// CodeGenOptions control how instrumented code and its source map are emitted.
type CodeGenOptions struct {
	Compact           bool
	SourceMap         string
	SourceMapWithCode bool
	File              string
}

// Apply overlays the recognized keys of raw.
func (o *CodeGenOptions) Apply(raw map[string]any) {
	for key, value := range raw {
		switch key {
		case "compact":
			if b, ok := value.(bool); ok {
				o.Compact = b
			}
		case "sourceMap":
			if s, ok := value.(string); ok {
				o.SourceMap = s
			}
		case "sourceMapWithCode":
			if b, ok := value.(bool); ok {
				o.SourceMapWithCode = b
			}
		case "file":
			if s, ok := value.(string); ok {
				o.File = s
			}
		}
	}
}

// Instrumenter rewrites source code to record execution counts.
type Instrumenter interface {
	Instrument(ctx context.Context, code, filename string) (string, error)
	// LastSourceMap returns the map of the last instrumentation, if any.
	LastSourceMap() []byte
}

// InstrumenterFactory builds an instrumenter for one file.
type InstrumenterFactory func(opts InstrumenterOptions) Instrumenter

// InstrumenterRegistry maps instrumenter names to factories.
type InstrumenterRegistry map[string]InstrumenterFactory

// Alias registers target's factory under name. Unknown targets are skipped
// so references to name fail when the stage is built.
func (r InstrumenterRegistry) Alias(aliases map[string]string) InstrumenterRegistry {
	out := r.Merge(nil)
	for name, target := range aliases {
		if f, ok := r[target]; ok {
			out[name] = f
		}
	}
	return out
}

// Merge returns r with other's entries layered on top.
func (r InstrumenterRegistry) Merge(other InstrumenterRegistry) InstrumenterRegistry {
	out := make(InstrumenterRegistry, len(r)+len(other))
	for name, f := range r {
		out[name] = f
	}
	for name, f := range other {
		out[name] = f
	}
	return out
}

// SourceMapComposer re-points a generated map through the map of its input.
type SourceMapComposer interface {
	Compose(generated, input []byte) ([]byte, error)
}

// SourceStore is the read side of the source cache handed to report writers.
type SourceStore interface {
	Get(key string) string
	HasKey(key string) bool
}

// WriterOptions configure one report writer.
type WriterOptions struct {
	Dir         string
	File        string
	Watermarks  domain.Watermarks
	SourceStore SourceStore
	Console     io.Writer
	BasePath    string
	Normalizer  domain.PathNormalizer
}

// ReportWriter renders a collector's coverage.
type ReportWriter interface {
	WriteReport(c *domain.Collector, sync bool) error
}

// ReportFactory builds report writers by type.
type ReportFactory interface {
	Create(kind string, opts WriterOptions) (ReportWriter, error)
	Has(kind string) bool
}

type ConfigLoader interface {
	Load(path string) (Config, error)
	Exists(path string) (bool, error)
}

// CoverageSource reads a saved coverage object.
type CoverageSource interface {
	Load(path string) (domain.CoverageObject, error)
}

// File is a unit of source code moving through the instrumentation stage.
type File struct {
	OriginalPath string
	Path         string
	SourceMap    []byte
}

// Browser identifies one execution target.
type Browser struct {
	ID   string
	Name string
}

// SpecResult is the outcome of a single test unit.
type SpecResult struct {
	Description string
	Success     bool
	Skipped     bool
	Log         []string
	Coverage    domain.CoverageObject
}

// BrowserResult is the outcome of a whole target.
type BrowserResult struct {
	Success  int
	Failed   int
	Skipped  int
	Error    bool
	Coverage domain.CoverageObject
}

// RunResults summarizes a run cycle; ExitCode is set by the run and by
// coverage checks.
type RunResults struct {
	Success  int
	Failed   int
	Error    bool
	ExitCode int
}

// Reporter receives the host lifecycle events of a run cycle.
type Reporter interface {
	OnRunStart(browsers []Browser)
	OnBrowserStart(b Browser)
	OnSpecComplete(b Browser, result *SpecResult) error
	OnBrowserComplete(b Browser, result *BrowserResult) error
	OnRunComplete(browsers []Browser, results *RunResults)
	OnExit(done func())
}

// HostRunner executes a run cycle and emits its events to a Reporter.
type HostRunner interface {
	Run(ctx context.Context, cfg Config, stage *Preprocessor, events Reporter) (RunResults, error)
}

// FileWatcher provides file change notifications.
type FileWatcher interface {
	WatchDir(root string) error
	Events(ctx context.Context) <-chan struct{}
	Close() error
}
