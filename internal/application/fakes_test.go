package application

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/nmalaguti/karma-coverage/internal/domain"
)

func testLogger(buf *bytes.Buffer) *log.Logger {
	return log.NewWithOptions(buf, log.Options{Level: log.DebugLevel})
}

// stmtFile builds a record with one statement per line at the given counts.
func stmtFile(path string, hits ...int) *domain.FileCoverage {
	fc := domain.NewFileCoverage(path)
	for i, h := range hits {
		id := strconv.Itoa(i + 1)
		fc.StatementMap[id] = domain.Range{
			Start: domain.Position{Line: i + 1},
			End:   domain.Position{Line: i + 1, Column: 8},
		}
		fc.S[id] = h
	}
	return fc
}

// fakeInstrumenter prefixes code with a marker line and, optionally, an
// embedded zero-count record.
type fakeInstrumenter struct {
	name      string
	opts      InstrumenterOptions
	embed     bool
	err       error
	panicMsg  string
	sourceMap []byte
	calls     *[]string
}

func (f *fakeInstrumenter) Instrument(_ context.Context, code, filename string) (string, error) {
	if f.calls != nil {
		*f.calls = append(*f.calls, f.name+":"+filename)
	}
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	out := "// " + f.name + "\n"
	if f.embed {
		rec, _ := json.Marshal(stmtFile(filename, 0, 0))
		out += "var cov = " + string(rec) + ";\n"
	}
	return out + code, f.err
}

func (f *fakeInstrumenter) LastSourceMap() []byte {
	return f.sourceMap
}

type composerFunc func(generated, input []byte) ([]byte, error)

func (f composerFunc) Compose(generated, input []byte) ([]byte, error) {
	return f(generated, input)
}

// recordingFactory builds writers that record what they saw.
type recordingFactory struct {
	mu      sync.Mutex
	kinds   map[string]bool
	fail    map[string]error
	created []WriterOptions
	writes  []writeRecord
}

type writeRecord struct {
	kind  string
	dir   string
	files int
	hits  int
}

func newRecordingFactory(kinds ...string) *recordingFactory {
	f := &recordingFactory{kinds: map[string]bool{}, fail: map[string]error{}}
	for _, k := range kinds {
		f.kinds[k] = true
	}
	return f
}

func (f *recordingFactory) Has(kind string) bool {
	return f.kinds[kind]
}

func (f *recordingFactory) Create(kind string, opts WriterOptions) (ReportWriter, error) {
	if !f.kinds[kind] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReporter, kind)
	}
	f.mu.Lock()
	f.created = append(f.created, opts)
	f.mu.Unlock()
	return &recordingWriter{factory: f, kind: kind, dir: opts.Dir}, nil
}

func (f *recordingFactory) records() []writeRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]writeRecord(nil), f.writes...)
}

type recordingWriter struct {
	factory *recordingFactory
	kind    string
	dir     string
}

func (w *recordingWriter) WriteReport(c *domain.Collector, _ bool) error {
	obj := c.FinalCoverage()
	hits := 0
	for _, fc := range obj {
		for _, n := range fc.S {
			hits += n
		}
	}
	w.factory.mu.Lock()
	w.factory.writes = append(w.factory.writes, writeRecord{kind: w.kind, dir: w.dir, files: len(obj), hits: hits})
	err := w.factory.fail[w.kind]
	w.factory.mu.Unlock()
	return err
}

var errWriterBroken = errors.New("writer broken")

type fakeLoader struct {
	cfg    Config
	exists bool
}

func (l fakeLoader) Exists(string) (bool, error) { return l.exists, nil }
func (l fakeLoader) Load(string) (Config, error) { return l.cfg, nil }

type fakeSource map[string]domain.CoverageObject

func (s fakeSource) Load(path string) (domain.CoverageObject, error) {
	obj, ok := s[path]
	if !ok {
		return nil, errors.New("no such file")
	}
	return obj, nil
}

// scriptedRunner emits one browser-complete per target with fixed coverage.
type scriptedRunner struct {
	coverage domain.CoverageObject
	cycles   int
}

func (r *scriptedRunner) Run(_ context.Context, cfg Config, _ *Preprocessor, events Reporter) (RunResults, error) {
	r.cycles++
	browsers := make([]Browser, len(cfg.Targets))
	for i, name := range cfg.Targets {
		browsers[i] = Browser{ID: strconv.Itoa(i), Name: name}
	}
	results := RunResults{}
	events.OnRunStart(browsers)
	for _, b := range browsers {
		if err := events.OnBrowserComplete(b, &BrowserResult{Success: 1, Coverage: r.coverage.Clone()}); err != nil {
			return results, err
		}
		results.Success++
	}
	events.OnRunComplete(browsers, &results)
	return results, nil
}
