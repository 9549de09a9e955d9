package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nmalaguti/karma-coverage/internal/application"
	"github.com/nmalaguti/karma-coverage/internal/domain"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

const yamlConfig = `basePath: project
reporters: [progress, coverage]
files:
  - src/**/*.js
  - test/**/*.spec.js
targets: [Chrome, Firefox]
coverageReporter:
  dir: out
  subdir: "{{.Browser | lower | first}}"
  reporters:
    - type: text-summary
    - type: lcov
      subdir: .
  instrument: ["src/**/*.js"]
  instrumenter:
    "src/legacy/**": classic
    "**/*.js": istanbul
  instrumenters:
    classic: istanbul
  instrumenterOptions:
    istanbul:
      noCompact: true
      codeGenerationOptions:
        sourceMapWithCode: true
      esModules: true
  includeAllSources: true
  watermarks:
    statements: [60, 90]
  check:
    global:
      statements: 80
      excludes: ["src/vendor/**"]
    each:
      lines: -5
      overrides:
        "src/z.js": {statements: 10}
        "src/a.js": {statements: 20}
`

func TestLoadYAMLConfig(t *testing.T) {
	path := writeConfig(t, "karma-coverage.yaml", yamlConfig)
	cfg, err := Loader{}.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	wantBase := filepath.ToSlash(filepath.Join(filepath.Dir(path), "project"))
	if cfg.BasePath != wantBase {
		t.Fatalf("basePath = %q, want %q", cfg.BasePath, wantBase)
	}
	if !cfg.HasCoverageReporter() {
		t.Fatal("expected coverage reporter")
	}
	if len(cfg.Files) != 2 || len(cfg.Targets) != 2 {
		t.Fatalf("unexpected files/targets: %v %v", cfg.Files, cfg.Targets)
	}

	cov := cfg.Coverage
	if cov.Dir != "out" {
		t.Fatalf("dir = %q", cov.Dir)
	}
	if got := cov.Subdir.Resolve("Chrome Headless"); got != "chrome" {
		t.Fatalf("subdir = %q", got)
	}
	if len(cov.Reporters) != 2 || cov.Reporters[1].Subdir.Resolve("Chrome") != "." {
		t.Fatalf("unexpected reporters: %+v", cov.Reporters)
	}
	if cov.InstrumenterAliases["classic"] != "istanbul" {
		t.Fatalf("aliases = %v", cov.InstrumenterAliases)
	}
	if !cov.IncludeAllSources {
		t.Fatal("expected includeAllSources")
	}
	if cov.Watermarks == nil || cov.Watermarks.Statements != (domain.Watermark{60, 90}) {
		t.Fatalf("watermarks = %+v", cov.Watermarks)
	}
}

func TestLoadKeepsOverrideOrder(t *testing.T) {
	cfg, err := Loader{}.Load(writeConfig(t, "karma-coverage.yml", yamlConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []application.InstrumenterOverride{
		{Pattern: "src/legacy/**", Name: "classic"},
		{Pattern: "**/*.js", Name: "istanbul"},
	}
	got := cfg.Coverage.Instrumenter
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("instrumenter overrides = %+v", got)
	}

	check := cfg.Coverage.Check
	if check == nil {
		t.Fatal("expected check config")
	}
	overrides := check.Each.Overrides
	if len(overrides) != 2 || overrides[0].Pattern != "src/z.js" || overrides[1].Pattern != "src/a.js" {
		t.Fatalf("threshold overrides out of order: %+v", overrides)
	}
	if *overrides[0].Thresholds.Statements != 10 {
		t.Fatalf("unexpected override value")
	}
	if *check.Global.Statements != 80 || check.Global.Excludes[0] != "src/vendor/**" {
		t.Fatalf("unexpected global check: %+v", check.Global)
	}
	if *check.Each.Lines != -5 {
		t.Fatalf("unexpected each check: %+v", check.Each)
	}
}

func TestLoadInstrumenterOptions(t *testing.T) {
	cfg, err := Loader{}.Load(writeConfig(t, "karma-coverage.yaml", yamlConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	opts := cfg.Coverage.InstrumenterOptions["istanbul"]
	if !opts.NoCompact {
		t.Fatal("expected noCompact")
	}
	if opts.CodeGenerationOverrides["sourceMapWithCode"] != true {
		t.Fatalf("codegen = %v", opts.CodeGenerationOverrides)
	}
	if opts.Extra["esModules"] != true {
		t.Fatalf("extra = %v", opts.Extra)
	}
}

func TestLoadInstrumenterOptionsWrongType(t *testing.T) {
	content := "coverageReporter:\n  instrumenterOptions:\n    istanbul:\n      noCompact: yes please\n"
	if _, err := (Loader{}).Load(writeConfig(t, "karma-coverage.yaml", content)); err == nil {
		t.Fatal("expected error for non-boolean noCompact")
	}
}

func TestLoadSequenceOverrides(t *testing.T) {
	content := `coverageReporter:
  instrumenter:
    - pattern: "**/*.ts"
      name: istanbul
  check:
    each:
      overrides:
        - pattern: "src/b.js"
          branches: 50
`
	cfg, err := Loader{}.Load(writeConfig(t, "karma-coverage.yaml", content))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Coverage.Instrumenter[0].Pattern != "**/*.ts" {
		t.Fatalf("unexpected overrides: %+v", cfg.Coverage.Instrumenter)
	}
	o := cfg.Coverage.Check.Each.Overrides
	if len(o) != 1 || o[0].Pattern != "src/b.js" || *o[0].Thresholds.Branches != 50 {
		t.Fatalf("unexpected threshold overrides: %+v", o)
	}
}

func TestLoadTOMLConfig(t *testing.T) {
	content := `basePath = "."
reporters = ["coverage"]
files = ["src/a.js"]
targets = ["node"]

[coverageReporter]
type = "json"
subdir = "flat"

[[coverageReporter.instrumenter]]
pattern = "src/z/**"
name = "istanbul"

[[coverageReporter.instrumenter]]
pattern = "src/a/**"
name = "istanbul"

[coverageReporter.check.global]
statements = 75.0
branches = -3.0

[[coverageReporter.check.each.overrides]]
pattern = "src/z.js"
lines = 10

[[coverageReporter.check.each.overrides]]
pattern = "src/a.js"
functions = 20.5
`
	path := writeConfig(t, "karma-coverage.toml", content)
	cfg, err := Loader{}.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasePath != filepath.ToSlash(filepath.Dir(path)) {
		t.Fatalf("basePath = %q", cfg.BasePath)
	}
	if cfg.Coverage.Type != "json" || cfg.Coverage.Subdir.Resolve("node") != "flat" {
		t.Fatalf("unexpected coverage config: %+v", cfg.Coverage)
	}
	if len(cfg.Coverage.Instrumenter) != 2 || cfg.Coverage.Instrumenter[0].Pattern != "src/z/**" {
		t.Fatalf("instrumenter overrides = %+v", cfg.Coverage.Instrumenter)
	}
	check := cfg.Coverage.Check
	if *check.Global.Statements != 75 || *check.Global.Branches != -3 {
		t.Fatalf("global = %+v", check.Global)
	}
	o := check.Each.Overrides
	if len(o) != 2 || o[0].Pattern != "src/z.js" || *o[0].Thresholds.Lines != 10 || *o[1].Thresholds.Functions != 20.5 {
		t.Fatalf("overrides = %+v", o)
	}
}

func TestLoadTOMLOverridesMissingPattern(t *testing.T) {
	content := "[[coverageReporter.check.each.overrides]]\nlines = 10\n"
	if _, err := (Loader{}).Load(writeConfig(t, "karma-coverage.toml", content)); err == nil {
		t.Fatal("expected error for override without pattern")
	}
}

func TestLoadInvalidSubdirTemplate(t *testing.T) {
	content := "coverageReporter:\n  subdir: \"{{.Target}}\"\n"
	_, err := (Loader{}).Load(writeConfig(t, "karma-coverage.yaml", content))
	if !errors.Is(err, application.ErrInvalidSubdir) {
		t.Fatalf("expected ErrInvalidSubdir, got %v", err)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	if _, err := (Loader{}).Load(writeConfig(t, "karma-coverage.yaml", ":bad")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	_, err := (Loader{}).Load(writeConfig(t, "karma.conf.js", "module.exports = {}"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestExistsMissing(t *testing.T) {
	ok, err := (Loader{}).Exists(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Fatalf("expected missing to be false")
	}
}

func TestExistsPresent(t *testing.T) {
	ok, err := (Loader{}).Exists(writeConfig(t, "karma-coverage.yaml", "files: []\n"))
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !ok {
		t.Fatalf("expected exists to be true")
	}
}

func TestWriteRoundTrip(t *testing.T) {
	cfg, err := Loader{}.Load(writeConfig(t, "karma-coverage.yaml", yamlConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var buf bytes.Buffer
	if err := Write(&buf, cfg); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"coverageReporter:", "{{.Browser | lower | first}}", "src/legacy/**: classic", "src/z.js:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Index(out, "src/z.js") > strings.Index(out, "src/a.js:") {
		t.Fatal("expected override order to survive a round trip")
	}

	again, err := Loader{}.Load(writeConfig(t, "karma-coverage.yaml", out))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(again.Coverage.Check.Each.Overrides) != 2 || again.Coverage.Instrumenter[0].Name != "classic" {
		t.Fatalf("round trip lost data: %+v", again.Coverage)
	}
}

func TestWriteThresholdsOnly(t *testing.T) {
	stmts := 80.0
	cfg := application.Config{
		Reporters: []string{application.CoverageReporterName},
		Coverage: application.CoverageConfig{
			Check: &domain.CheckConfig{Global: domain.GlobalCheck{Thresholds: domain.Thresholds{Statements: &stmts}}},
		},
	}
	var buf bytes.Buffer
	if err := Write(&buf, cfg); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "statements: 80") {
		t.Fatalf("expected statements threshold:\n%s", out)
	}
	if strings.Contains(out, "branches") || strings.Contains(out, "overrides") {
		t.Fatalf("expected unset fields to be omitted:\n%s", out)
	}
}
