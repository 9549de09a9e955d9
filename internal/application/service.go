package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/nmalaguti/karma-coverage/internal/domain"
)

// Service wires configuration, instrumentation, the host runner and report
// emission into the operations the CLI exposes.
type Service struct {
	ConfigLoader  ConfigLoader
	Instrumenters InstrumenterRegistry
	Composer      SourceMapComposer
	Reports       ReportFactory
	Runner        HostRunner
	Coverage      CoverageSource
	Normalizer    func(basePath string) domain.PathNormalizer
	Logger        *log.Logger
	Out           io.Writer
}

// RunOptions configures Service.Run.
type RunOptions struct {
	ConfigPath string
	Watcher    FileWatcher // nil runs a single cycle
}

// InstrumentOptions describes one file for Service.Instrument.
type InstrumentOptions struct {
	ConfigPath   string
	Path         string
	Content      string
	SourceMap    []byte
	Instrumenter string
}

// CoverageInput names a saved coverage object and the target it came from.
type CoverageInput struct {
	Target string
	Path   string
}

// ReportOptions configures Service.Report over saved coverage inputs.
type ReportOptions struct {
	ConfigPath string
	Inputs     []CoverageInput
}

// DefaultConfig is used when no config file exists.
func DefaultConfig() Config {
	return Config{
		BasePath:  ".",
		Reporters: []string{CoverageReporterName},
	}
}

// LoadConfig loads the config at path and layers the built-in instrumenters
// under the configured ones.
func (s *Service) LoadConfig(path string) (Config, error) {
	exists, err := s.ConfigLoader.Exists(path)
	if err != nil {
		return Config{}, err
	}
	if !exists {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
	}
	cfg, err := s.ConfigLoader.Load(path)
	if err != nil {
		return Config{}, err
	}
	cfg.Coverage.Instrumenters = s.Instrumenters.Merge(cfg.Coverage.Instrumenters).Alias(cfg.Coverage.InstrumenterAliases)
	return cfg, nil
}

func (s *Service) loadOrDefault(path string) (Config, error) {
	cfg, err := s.LoadConfig(path)
	if errors.Is(err, ErrConfigNotFound) {
		cfg = DefaultConfig()
		cfg.Coverage.Instrumenters = s.Instrumenters.Merge(nil)
		return cfg, nil
	}
	return cfg, err
}

// Run executes the configured files in every target and reports coverage.
// With a watcher, each change triggers another cycle until ctx is done.
func (s *Service) Run(ctx context.Context, opts RunOptions) (RunResults, error) {
	cfg, err := s.LoadConfig(opts.ConfigPath)
	if err != nil {
		return RunResults{}, err
	}
	sess, err := s.newSession(cfg)
	if err != nil {
		return RunResults{}, err
	}

	results, err := sess.cycle(ctx)
	if err != nil || opts.Watcher == nil {
		return results, err
	}

	if err := opts.Watcher.WatchDir(cfg.BasePath); err != nil {
		return results, fmt.Errorf("watch %s: %w", cfg.BasePath, err)
	}
	defer opts.Watcher.Close()

	s.Logger.Info("Watching for changes", "dir", cfg.BasePath)
	events := opts.Watcher.Events(ctx)
	for {
		select {
		case <-ctx.Done():
			return results, nil
		case _, ok := <-events:
			if !ok {
				return results, nil
			}
			s.Logger.Info("Change detected, running again")
			results, err = sess.cycle(ctx)
			if err != nil {
				s.Logger.Error("run failed", "err", err)
			}
		}
	}
}

// Instrument returns opts.Content instrumented the way a run would.
func (s *Service) Instrument(ctx context.Context, opts InstrumentOptions) (string, *File, error) {
	cfg, err := s.loadOrDefault(opts.ConfigPath)
	if err != nil {
		return "", nil, err
	}
	if !cfg.HasCoverageReporter() {
		cfg.Reporters = append(cfg.Reporters, CoverageReporterName)
	}
	if opts.Instrumenter != "" {
		cfg.Coverage.Instrumenter = append([]InstrumenterOverride{{Pattern: "**", Name: opts.Instrumenter}}, cfg.Coverage.Instrumenter...)
	}

	stage := NewPreprocessor(s.Logger.WithPrefix("preprocessor.coverage"), cfg, NewRunContext(), WithSourceMapComposer(s.Composer))
	file := &File{OriginalPath: opts.Path, Path: opts.Path, SourceMap: opts.SourceMap}
	code, err := stage.Process(ctx, opts.Content, file)
	if err != nil {
		return "", nil, err
	}
	return code, file, nil
}

// Report feeds saved coverage objects through checks and report writers, one
// target per input.
func (s *Service) Report(ctx context.Context, opts ReportOptions) (RunResults, error) {
	if len(opts.Inputs) == 0 {
		return RunResults{}, errors.New("no coverage inputs")
	}
	cfg, err := s.loadOrDefault(opts.ConfigPath)
	if err != nil {
		return RunResults{}, err
	}
	sess, err := s.newSession(cfg)
	if err != nil {
		return RunResults{}, err
	}

	inputs := append([]CoverageInput(nil), opts.Inputs...)
	sort.SliceStable(inputs, func(i, j int) bool { return inputs[i].Target < inputs[j].Target })

	browsers := make([]Browser, 0, len(inputs))
	objects := make(map[string]domain.CoverageObject, len(inputs))
	for _, in := range inputs {
		obj, err := s.Coverage.Load(in.Path)
		if err != nil {
			return RunResults{}, fmt.Errorf("load %s: %w", in.Path, err)
		}
		b := Browser{ID: in.Target, Name: in.Target}
		if _, dup := objects[b.ID]; !dup {
			browsers = append(browsers, b)
		}
		objects[b.ID] = obj
	}

	var results RunResults
	sess.reporter.OnRunStart(browsers)
	for _, b := range browsers {
		if err := sess.reporter.OnBrowserComplete(b, &BrowserResult{Coverage: objects[b.ID]}); err != nil {
			s.Logger.Error("merge coverage", "target", b.Name, "err", err)
			results.Error = true
			results.ExitCode = 1
		}
	}
	sess.reporter.OnRunComplete(browsers, &results)
	return results, sess.wait(ctx)
}

// session is the state that survives across run cycles.
type session struct {
	cfg      Config
	runner   HostRunner
	stage    *Preprocessor
	reporter *CoverageReporter
}

func (s *Service) newSession(cfg Config) (*session, error) {
	runCtx := NewRunContext()
	var normalizer domain.PathNormalizer
	if s.Normalizer != nil {
		normalizer = s.Normalizer(cfg.BasePath)
	}
	reporter, err := NewCoverageReporter(cfg, ReporterDeps{
		Logger:     s.Logger.WithPrefix("coverage"),
		RunContext: runCtx,
		Factory:    s.Reports,
		Normalizer: normalizer,
		Console:    s.Out,
	})
	if err != nil {
		return nil, err
	}
	return &session{
		cfg:      cfg,
		runner:   s.Runner,
		stage:    NewPreprocessor(s.Logger.WithPrefix("preprocessor.coverage"), cfg, runCtx, WithSourceMapComposer(s.Composer)),
		reporter: reporter,
	}, nil
}

func (s *session) cycle(ctx context.Context) (RunResults, error) {
	if s.runner == nil {
		return RunResults{}, errors.New("no host runner configured")
	}
	results, err := s.runner.Run(ctx, s.cfg, s.stage, s.reporter)
	if err != nil {
		return results, err
	}
	return results, s.wait(ctx)
}

// wait blocks until the reporter has settled every write.
func (s *session) wait(ctx context.Context) error {
	done := make(chan struct{})
	s.reporter.OnExit(func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
