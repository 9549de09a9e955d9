package application

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/nmalaguti/karma-coverage/internal/domain"
)

// State is the lifecycle phase of a CoverageReporter.
type State string

const (
	StateIdle       State = "idle"
	StateRunning    State = "running"
	StateFinalizing State = "finalizing"
)

// CoverageReporter collects coverage per browser across a run cycle, checks
// thresholds and hands every collector to the configured report writers.
type CoverageReporter struct {
	log         *log.Logger
	basePath    string
	cfg         CoverageConfig
	reports     []ReporterConfig
	factory     ReportFactory
	normalizer  domain.PathNormalizer
	sources     *domain.SourceCache
	coverageMap *domain.CoverageMap
	watermarks  domain.Watermarks
	console     io.Writer
	mkdirAll    func(string, os.FileMode) error

	mu         sync.Mutex
	state      State
	collectors map[string]*domain.Collector
	disposable []*domain.Collector

	gate  *pendingGate
	queue writeQueue
}

// ReporterDeps are the collaborators of a CoverageReporter.
type ReporterDeps struct {
	Logger     *log.Logger
	RunContext *RunContext
	Factory    ReportFactory
	Normalizer domain.PathNormalizer
	Console    io.Writer
}

// NewCoverageReporter validates report types and thresholds and builds the
// engine.
func NewCoverageReporter(cfg Config, deps ReporterDeps) (*CoverageReporter, error) {
	reports := cfg.Coverage.ReportDefinitions()
	for _, rc := range reports {
		if !deps.Factory.Has(rc.Kind()) {
			return nil, &ConfigError{Field: "coverageReporter.reporters.type", Value: rc.Kind(), Err: ErrUnknownReporter}
		}
	}
	if cfg.Coverage.Check != nil {
		if err := cfg.Coverage.Check.Validate(); err != nil {
			return nil, &ConfigError{Field: "coverageReporter.check", Err: err}
		}
	}

	normalizer := deps.Normalizer
	if normalizer == nil {
		normalizer = domain.CleanPathNormalizer{}
	}
	console := deps.Console
	if console == nil {
		console = os.Stdout
	}

	r := &CoverageReporter{
		log:         deps.Logger,
		basePath:    cfg.BasePath,
		cfg:         cfg.Coverage,
		reports:     reports,
		factory:     deps.Factory,
		normalizer:  normalizer,
		sources:     deps.RunContext.Sources(cfg.BasePath),
		coverageMap: deps.RunContext.CoverageMap(),
		watermarks:  domain.MergeWatermarks(cfg.Coverage.Watermarks),
		console:     console,
		mkdirAll:    os.MkdirAll,
		state:       StateIdle,
	}
	r.gate = newPendingGate(r.settle)
	return r, nil
}

// State returns the current lifecycle phase.
func (r *CoverageReporter) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// OnRunStart begins a cycle with a fresh collector per browser.
func (r *CoverageReporter) OnRunStart(browsers []Browser) {
	r.mu.Lock()
	r.collectors = map[string]*domain.Collector{}
	r.state = StateRunning
	r.mu.Unlock()

	for _, b := range browsers {
		r.OnBrowserStart(b)
	}
}

// OnBrowserStart creates the collector of b, seeded with the zero-count
// records of every instrumented file when includeAllSources is set.
func (r *CoverageReporter) OnBrowserStart(b Browser) {
	c := domain.NewCollector()
	if r.cfg.IncludeAllSources {
		if err := c.Add(r.coverageMap.Get()); err != nil {
			r.log.Errorf("%s: seed coverage: %v", b.Name, err)
		}
	}

	r.mu.Lock()
	if r.collectors == nil {
		r.collectors = map[string]*domain.Collector{}
	}
	r.collectors[b.ID] = c
	r.mu.Unlock()
}

// OnSpecComplete merges the coverage attached to a single test unit.
func (r *CoverageReporter) OnSpecComplete(b Browser, result *SpecResult) error {
	if result == nil {
		return nil
	}
	return r.merge(b, result.Coverage)
}

// OnBrowserComplete merges the coverage attached to a finished browser.
func (r *CoverageReporter) OnBrowserComplete(b Browser, result *BrowserResult) error {
	if result == nil {
		return nil
	}
	return r.merge(b, result.Coverage)
}

func (r *CoverageReporter) merge(b Browser, obj domain.CoverageObject) error {
	if len(obj) == 0 {
		return nil
	}
	r.mu.Lock()
	c := r.collectors[b.ID]
	r.mu.Unlock()
	if c == nil {
		return nil
	}
	if err := c.Add(obj); err != nil {
		return fmt.Errorf("%s: %w", b.Name, err)
	}
	return nil
}

// OnRunComplete checks thresholds and schedules every report. Checks run once
// per browser; a failure sets results.ExitCode to 1. Collectors are disposed
// once every scheduled write has settled.
func (r *CoverageReporter) OnRunComplete(browsers []Browser, results *RunResults) {
	r.mu.Lock()
	r.state = StateFinalizing
	collectors := r.collectors
	for _, c := range collectors {
		r.disposable = append(r.disposable, c)
	}
	r.mu.Unlock()

	// Hold the gate open while scheduling so a synchronous write cannot
	// settle the cycle early.
	r.gate.Add()
	defer r.gate.Done()

	checked := map[string]bool{}
	for _, rc := range r.reports {
		for _, b := range browsers {
			c := collectors[b.ID]
			if c == nil {
				continue
			}
			if r.cfg.Check != nil && !checked[b.ID] {
				checked[b.ID] = true
				if r.checkCoverage(b, c) && results != nil {
					results.ExitCode = 1
				}
			}
			r.schedule(rc, b, c)
		}
	}
}

// OnExit calls done once every pending write has settled.
func (r *CoverageReporter) OnExit(done func()) {
	r.gate.WhenIdle(done)
}

func (r *CoverageReporter) schedule(rc ReporterConfig, b Browser, c *domain.Collector) {
	dir := rc.Dir
	if dir == "" {
		dir = r.cfg.Dir
	}
	subdir := rc.Subdir
	if subdir.IsZero() {
		subdir = r.cfg.Subdir
	}
	file := rc.File
	if file == "" {
		file = r.cfg.File
	}
	outputDir := OutputDir(r.basePath, b.Name, dir, subdir)

	writer, err := r.factory.Create(rc.Kind(), WriterOptions{
		Dir:         outputDir,
		File:        file,
		Watermarks:  r.watermarks,
		SourceStore: r.sources,
		Console:     r.console,
		BasePath:    r.basePath,
		Normalizer:  r.normalizer,
	})
	if err != nil {
		r.log.Errorf("%s: %v", b.Name, err)
		return
	}

	r.gate.Add()
	if rc.IsConsole() {
		r.write(writer, c, b)
		return
	}
	r.queue.push(func() {
		if err := r.mkdirAll(outputDir, 0o755); err != nil {
			r.log.Errorf("create %s: %v", outputDir, err)
		}
		r.log.Debugf("Writing coverage to %s", outputDir)
		r.write(writer, c, b)
	})
}

func (r *CoverageReporter) write(w ReportWriter, c *domain.Collector, b Browser) {
	defer r.gate.Done()
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorf("%s: report writer panicked: %v", b.Name, rec)
		}
	}()
	if err := w.WriteReport(c, true); err != nil {
		r.log.Errorf("%s: %v", b.Name, err)
	}
}

func (r *CoverageReporter) checkCoverage(b Browser, c *domain.Collector) bool {
	res := domain.CheckCoverage(*r.cfg.Check, c.FinalCoverage(), r.normalizer)
	for _, v := range res.Violations {
		r.log.Error(v.Message(b.Name))
	}
	return res.Failed
}

func (r *CoverageReporter) settle() {
	r.mu.Lock()
	disposable := r.disposable
	r.disposable = nil
	if r.state == StateFinalizing {
		r.state = StateIdle
	}
	r.mu.Unlock()

	for _, c := range disposable {
		c.Dispose()
	}
}
