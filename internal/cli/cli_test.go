package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nmalaguti/karma-coverage/internal/application"
	"github.com/nmalaguti/karma-coverage/internal/infrastructure/config"
)

type fakeService struct {
	cfg        application.Config
	loadErr    error
	runResults application.RunResults
	runErr     error
	code       string
	sourceMap  []byte
	instrErr   error
	reportErr  error
	reportRes  application.RunResults

	runOpts    application.RunOptions
	instrOpts  application.InstrumentOptions
	reportOpts application.ReportOptions
}

func (f *fakeService) LoadConfig(path string) (application.Config, error) {
	if f.loadErr != nil {
		return application.Config{}, f.loadErr
	}
	return f.cfg, nil
}

func (f *fakeService) Run(_ context.Context, opts application.RunOptions) (application.RunResults, error) {
	f.runOpts = opts
	return f.runResults, f.runErr
}

func (f *fakeService) Instrument(_ context.Context, opts application.InstrumentOptions) (string, *application.File, error) {
	f.instrOpts = opts
	if f.instrErr != nil {
		return "", nil, f.instrErr
	}
	return f.code, &application.File{OriginalPath: opts.Path, Path: opts.Path, SourceMap: f.sourceMap}, nil
}

func (f *fakeService) Report(_ context.Context, opts application.ReportOptions) (application.RunResults, error) {
	f.reportOpts = opts
	return f.reportRes, f.reportErr
}

func notFound() error {
	return fmt.Errorf("%w: karma-coverage.yaml", application.ErrConfigNotFound)
}

func run(t *testing.T, svc Service, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"karmacov"}, args...), &stdout, &stderr, svc)
	return code, stdout.String(), stderr.String()
}

func TestRunUsage(t *testing.T) {
	code, _, _ := run(t, &fakeService{})
	if code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
}

func TestRunUnknown(t *testing.T) {
	code, _, stderr := run(t, &fakeService{}, "nope")
	if code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.Contains(stderr, "nope") {
		t.Fatalf("expected unknown command in stderr, got %q", stderr)
	}
}

func TestRunBadLogLevel(t *testing.T) {
	code, _, _ := run(t, &fakeService{}, "--log-level", "loud", "version")
	if code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
}

func TestRunCommandSucceeds(t *testing.T) {
	svc := &fakeService{runResults: application.RunResults{Success: 3}}
	code, stdout, _ := run(t, svc, "run", "--config", "custom.yaml")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if svc.runOpts.ConfigPath != "custom.yaml" || svc.runOpts.Watcher != nil {
		t.Fatalf("unexpected run options: %+v", svc.runOpts)
	}
	if !strings.Contains(stdout, "Executed 3 specs: 3 passed, 0 failed") {
		t.Fatalf("unexpected output: %q", stdout)
	}
}

func TestRunCommandUsesResultExitCode(t *testing.T) {
	svc := &fakeService{runResults: application.RunResults{Success: 1, Failed: 1, ExitCode: 1}}
	code, _, stderr := run(t, svc, "run")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if stderr != "" {
		t.Fatalf("expected quiet exit, got %q", stderr)
	}
}

func TestRunCommandError(t *testing.T) {
	svc := &fakeService{runErr: errors.New("boom")}
	code, _, stderr := run(t, svc, "run")
	if code != 3 {
		t.Fatalf("expected exit 3, got %d", code)
	}
	if !strings.Contains(stderr, "boom") {
		t.Fatalf("expected error in stderr, got %q", stderr)
	}
}

func TestRunWatchConfigError(t *testing.T) {
	svc := &fakeService{loadErr: notFound()}
	code, _, stderr := run(t, svc, "run", "--watch")
	if code != 3 {
		t.Fatalf("expected exit 3, got %d", code)
	}
	if !strings.Contains(stderr, "config not found") {
		t.Fatalf("unexpected stderr: %q", stderr)
	}
}

func TestRunWatchPassesWatcher(t *testing.T) {
	svc := &fakeService{cfg: application.DefaultConfig(), runErr: context.Canceled}
	code, stdout, _ := run(t, svc, "run", "--watch")
	if code != 0 {
		t.Fatalf("expected exit 0 on cancel, got %d", code)
	}
	if svc.runOpts.Watcher == nil {
		t.Fatalf("expected a watcher")
	}
	if !strings.Contains(stdout, "Watching for file changes") {
		t.Fatalf("unexpected output: %q", stdout)
	}
}

func TestInstrumentCommandPrintsCode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "app.js")
	mapFile := filepath.Join(dir, "app.js.map")
	if err := os.WriteFile(src, []byte("var a = 1;\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(mapFile, []byte(`{"version":3}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	svc := &fakeService{code: "instrumented();\n"}
	code, stdout, _ := run(t, svc, "instrument", src, "--source-map", mapFile, "--instrumenter", "custom")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if stdout != "instrumented();\n" {
		t.Fatalf("unexpected output: %q", stdout)
	}
	if svc.instrOpts.Content != "var a = 1;\n" || string(svc.instrOpts.SourceMap) != `{"version":3}` || svc.instrOpts.Instrumenter != "custom" {
		t.Fatalf("unexpected instrument options: %+v", svc.instrOpts)
	}
}

func TestInstrumentCommandWritesOutput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "app.js")
	out := filepath.Join(dir, "app.cov.js")
	if err := os.WriteFile(src, []byte("a();"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	svc := &fakeService{code: "cov();", sourceMap: []byte(`{"version":3,"mappings":""}`)}
	code, stdout, _ := run(t, svc, "instrument", src, "-o", out)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if stdout != "" {
		t.Fatalf("expected nothing on stdout, got %q", stdout)
	}
	got, err := os.ReadFile(out)
	if err != nil || string(got) != "cov();" {
		t.Fatalf("unexpected output file: %q %v", got, err)
	}
	if _, err := os.Stat(out + ".map"); err != nil {
		t.Fatalf("expected source map next to output: %v", err)
	}
}

func TestInstrumentCommandErrors(t *testing.T) {
	code, _, _ := run(t, &fakeService{}, "instrument", filepath.Join(t.TempDir(), "missing.js"))
	if code != 2 {
		t.Fatalf("expected exit 2 for missing file, got %d", code)
	}

	src := filepath.Join(t.TempDir(), "bad.js")
	if err := os.WriteFile(src, []byte("var = ;"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	code, _, stderr := run(t, &fakeService{instrErr: errors.New("parse error")}, "instrument", src)
	if code != 3 || !strings.Contains(stderr, "parse error") {
		t.Fatalf("expected exit 3 with parse error, got %d %q", code, stderr)
	}

	code, _, _ = run(t, &fakeService{}, "instrument")
	if code != 2 {
		t.Fatalf("expected exit 2 without a file, got %d", code)
	}
}

func TestReportCommand(t *testing.T) {
	svc := &fakeService{reportRes: application.RunResults{ExitCode: 1}}
	code, _, _ := run(t, svc, "report", "Chrome=out/chrome.json", "saved/firefox/coverage-final.json")
	if code != 1 {
		t.Fatalf("expected threshold exit 1, got %d", code)
	}
	want := []application.CoverageInput{
		{Target: "Chrome", Path: "out/chrome.json"},
		{Target: "firefox", Path: "saved/firefox/coverage-final.json"},
	}
	if len(svc.reportOpts.Inputs) != len(want) {
		t.Fatalf("unexpected inputs: %+v", svc.reportOpts.Inputs)
	}
	for i := range want {
		if svc.reportOpts.Inputs[i] != want[i] {
			t.Fatalf("input %d: got %+v, want %+v", i, svc.reportOpts.Inputs[i], want[i])
		}
	}
}

func TestReportCommandErrors(t *testing.T) {
	code, _, _ := run(t, &fakeService{}, "report")
	if code != 2 {
		t.Fatalf("expected exit 2 without inputs, got %d", code)
	}
	code, _, _ = run(t, &fakeService{}, "report", "=x.json")
	if code != 2 {
		t.Fatalf("expected exit 2 for empty target, got %d", code)
	}
	code, _, _ = run(t, &fakeService{reportErr: errors.New("load failed")}, "report", "a=b.json")
	if code != 3 {
		t.Fatalf("expected exit 3, got %d", code)
	}
}

func TestParseInputsBarePathAtRoot(t *testing.T) {
	inputs, err := parseInputs([]string{"chrome.json"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if inputs[0].Target != "chrome" || inputs[0].Path != "chrome.json" {
		t.Fatalf("unexpected input: %+v", inputs[0])
	}
}

func withInitStubs(t *testing.T, isInteractive bool, wiz func(application.Config, []string, io.Writer, io.Reader) (application.Config, bool, error)) {
	t.Helper()
	prevWizard, prevInteractive := initWizard, interactive
	t.Cleanup(func() { initWizard, interactive = prevWizard, prevInteractive })
	interactive = func() bool { return isInteractive }
	if wiz != nil {
		initWizard = wiz
	}
}

func TestInitWritesDefaultConfigToStdout(t *testing.T) {
	withInitStubs(t, false, nil)
	code, stdout, _ := run(t, &fakeService{loadErr: notFound()}, "init", "--config", "-")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	for _, want := range []string{"files:", "src/**/*.js", "coverageReporter:"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("expected %q in output:\n%s", want, stdout)
		}
	}
}

func TestInitWritesFileOnceWithoutForce(t *testing.T) {
	withInitStubs(t, false, nil)
	path := filepath.Join(t.TempDir(), config.DefaultFile)

	code, _, _ := run(t, &fakeService{loadErr: notFound()}, "init", "--config", path)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file: %v", err)
	}

	svc := &fakeService{cfg: application.DefaultConfig()}
	code, _, stderr := run(t, svc, "init", "--config", path)
	if code != 2 || !strings.Contains(stderr, "already exists") {
		t.Fatalf("expected exit 2 for existing file, got %d %q", code, stderr)
	}
	code, _, _ = run(t, svc, "init", "--config", path, "--force")
	if code != 0 {
		t.Fatalf("expected exit 0 with --force, got %d", code)
	}
}

func TestInitWizardCancelled(t *testing.T) {
	var gotKinds []string
	withInitStubs(t, true, func(cfg application.Config, kinds []string, _ io.Writer, _ io.Reader) (application.Config, bool, error) {
		gotKinds = kinds
		return cfg, false, nil
	})
	path := filepath.Join(t.TempDir(), config.DefaultFile)

	code, stdout, _ := run(t, &fakeService{loadErr: notFound()}, "init", "--config", path)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(stdout, "Init cancelled") {
		t.Fatalf("unexpected output: %q", stdout)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no config written, got %v", err)
	}
	if len(gotKinds) == 0 {
		t.Fatalf("expected report kinds passed to wizard")
	}
}

func TestInitWizardError(t *testing.T) {
	withInitStubs(t, true, func(cfg application.Config, _ []string, _ io.Writer, _ io.Reader) (application.Config, bool, error) {
		return cfg, false, errors.New("no tty")
	})
	code, _, _ := run(t, &fakeService{loadErr: notFound()}, "init", "--config", "-")
	if code != 5 {
		t.Fatalf("expected exit 5, got %d", code)
	}
}

func TestInitPropagatesLoadErrors(t *testing.T) {
	withInitStubs(t, false, nil)
	code, _, _ := run(t, &fakeService{loadErr: errors.New("bad yaml")}, "init", "--config", filepath.Join(t.TempDir(), "x.yaml"))
	if code != 3 {
		t.Fatalf("expected exit 3, got %d", code)
	}
}

func TestWriteConfigFileRejectsTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "karma-coverage.toml")
	err := writeConfigFile(path, application.DefaultConfig(), io.Discard, false)
	if !errors.Is(err, config.ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
}

func TestOutputDirs(t *testing.T) {
	cfg := application.Config{Coverage: application.CoverageConfig{
		Dir: "build/coverage",
		Reporters: []application.ReporterConfig{
			{Type: "html"},
			{Type: "lcov", Dir: "reports/lcov"},
			{Type: "text"},
		},
	}}
	got := outputDirs(cfg)
	if len(got) != 2 || got[0] != "coverage" || got[1] != "lcov" {
		t.Fatalf("unexpected dirs: %v", got)
	}
	if got := outputDirs(application.Config{}); len(got) != 1 || got[0] != application.DefaultDir {
		t.Fatalf("expected default dir, got %v", got)
	}
}

func TestVersionCommand(t *testing.T) {
	code, stdout, _ := run(t, &fakeService{}, "version")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.HasPrefix(stdout, "karmacov "+Version) {
		t.Fatalf("unexpected output: %q", stdout)
	}
}

func TestBuildServiceWiresAdapters(t *testing.T) {
	svc := BuildService(io.Discard)
	if svc.ConfigLoader == nil || svc.Reports == nil || svc.Runner == nil || svc.Coverage == nil || svc.Composer == nil {
		t.Fatalf("expected every adapter wired: %+v", svc)
	}
	if _, ok := svc.Instrumenters[application.DefaultInstrumenter]; !ok {
		t.Fatalf("expected default instrumenter registered")
	}
}
