package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/nmalaguti/karma-coverage/internal/application"
	"github.com/nmalaguti/karma-coverage/internal/domain"
	"github.com/nmalaguti/karma-coverage/internal/pathutil"
)

// DefaultTarget names the single target used when none are configured.
const DefaultTarget = "goja"

var ErrNoFiles = errors.New("no files matched")

// Runner executes run cycles in goja targets.
type Runner struct {
	log         *log.Logger
	concurrency int
	readFile    func(string) ([]byte, error)
}

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency bounds how many files are instrumented at once.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// New creates a runner logging to logger.
func New(logger *log.Logger, opts ...Option) *Runner {
	r := &Runner{
		log:         logger,
		concurrency: runtime.GOMAXPROCS(0),
		readFile:    os.ReadFile,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// script is one prepared file.
type script struct {
	path string
	code string
}

// Run prepares the configured files, runs them in every target and reports
// the cycle to events. The exit code is 1 when a spec failed or a target
// errored; coverage checks may raise it too.
func (r *Runner) Run(ctx context.Context, cfg application.Config, stage *application.Preprocessor, events application.Reporter) (application.RunResults, error) {
	if err := stage.Err(); err != nil {
		return application.RunResults{}, err
	}
	scripts, err := r.prepare(ctx, cfg, stage)
	if err != nil {
		return application.RunResults{}, err
	}

	names := cfg.Targets
	if len(names) == 0 {
		names = []string{DefaultTarget}
	}
	browsers := make([]application.Browser, len(names))
	for i, name := range names {
		browsers[i] = application.Browser{ID: strconv.Itoa(i), Name: name}
	}

	var results application.RunResults
	events.OnRunStart(browsers)

	d := newDispatcher()
	g, gctx := errgroup.WithContext(ctx)
	for _, b := range browsers {
		g.Go(func() error {
			return r.runTarget(gctx, b, scripts, d, events, &results)
		})
	}
	err = g.Wait()
	d.close()
	if err != nil {
		return results, err
	}

	if results.Failed > 0 || results.Error {
		results.ExitCode = 1
	}
	events.OnRunComplete(browsers, &results)
	return results, nil
}

// runTarget executes every script and spec in a fresh runtime. results is
// only touched from dispatched closures.
func (r *Runner) runTarget(ctx context.Context, b application.Browser, scripts []script, d *dispatcher, events application.Reporter, results *application.RunResults) error {
	d.send(func() { events.OnBrowserStart(b) })

	t := newTarget(ctx, b, r.log)
	defer t.close()

	outcome := &application.BrowserResult{}
	for _, s := range scripts {
		if err := t.load(s); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Errorf("%s: %v", b.Name, err)
			outcome.Error = true
			break
		}
	}

	if !outcome.Error {
		for _, s := range t.specs {
			if err := ctx.Err(); err != nil {
				return err
			}
			res := t.run(s)
			switch {
			case res.Skipped:
				outcome.Skipped++
			case res.Success:
				outcome.Success++
			default:
				outcome.Failed++
				r.log.Errorf("%s %s FAILED\n\t%s", b.Name, res.Description, strings.Join(res.Log, "\n\t"))
			}
			d.send(func() {
				if err := events.OnSpecComplete(b, res); err != nil {
					r.log.Errorf("%s: %v", b.Name, err)
				}
			})
		}
	}

	cov, err := t.coverage()
	if err != nil {
		r.log.Errorf("%s: %v", b.Name, err)
		outcome.Error = true
	}
	outcome.Coverage = cov

	d.send(func() {
		results.Success += outcome.Success
		results.Failed += outcome.Failed
		if outcome.Error {
			results.Error = true
		}
		if err := events.OnBrowserComplete(b, outcome); err != nil {
			r.log.Errorf("%s: %v", b.Name, err)
			results.Error = true
		}
	})
	return nil
}

// prepare reads and, where configured, instruments every file. Files are
// processed concurrently but keep their configured order.
func (r *Runner) prepare(ctx context.Context, cfg application.Config, stage *application.Preprocessor) ([]script, error) {
	paths, err := resolveFiles(cfg.BasePath, cfg.Files)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrNoFiles, cfg.Files)
	}

	scripts := make([]script, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, path := range paths {
		g.Go(func() error {
			code, err := r.load(gctx, cfg, stage, path)
			if err != nil {
				return err
			}
			scripts[i] = script{path: path, code: code}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scripts, nil
}

func (r *Runner) load(ctx context.Context, cfg application.Config, stage *application.Preprocessor, path string) (string, error) {
	cleanPath, err := pathutil.ValidatePath(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	raw, err := r.readFile(cleanPath)
	if err != nil {
		return "", err
	}
	code := string(raw)

	rel, err := filepath.Rel(filepath.FromSlash(cfg.BasePath), filepath.FromSlash(path))
	if err != nil {
		rel = path
	}
	patterns := cfg.Coverage.Instrument
	if !stage.Enabled() || !(domain.MatchAnyGlob(patterns, rel) || domain.MatchAnyGlob(patterns, path)) {
		return code, nil
	}

	file := &application.File{OriginalPath: path, Path: path}
	if m, err := r.readFile(path + ".map"); err == nil {
		file.SourceMap = m
	}
	return stage.Process(ctx, code, file)
}

// resolveFiles expands the file patterns against basePath. The first match
// of a path decides its position; each pattern's matches are sorted.
func resolveFiles(basePath string, patterns []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, pattern := range patterns {
		if !filepath.IsAbs(filepath.FromSlash(pattern)) {
			pattern = filepath.Join(basePath, pattern)
		}
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", pattern, err)
		}
		sort.Strings(matches)
		for _, m := range matches {
			m = filepath.ToSlash(m)
			if seen[m] {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	return out, nil
}

// decodeCoverage converts an exported __coverage__ value.
func decodeCoverage(v any) (domain.CoverageObject, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode coverage: %w", err)
	}
	var obj domain.CoverageObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode coverage: %w", err)
	}
	return obj, nil
}

// dispatcher serializes reporter calls onto one goroutine.
type dispatcher struct {
	events chan func()
	done   chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{events: make(chan func(), 64), done: make(chan struct{})}
	go func() {
		defer close(d.done)
		for fn := range d.events {
			fn()
		}
	}()
	return d
}

func (d *dispatcher) send(fn func()) {
	d.events <- fn
}

// close waits for every sent event to be delivered.
func (d *dispatcher) close() {
	close(d.events)
	<-d.done
}

var _ application.HostRunner = (*Runner)(nil)
