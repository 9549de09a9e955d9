package application

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/nmalaguti/karma-coverage/internal/domain"
)

// embeddedRecord finds the zero-count record an instrumenter embeds in its
// output.
var embeddedRecord = regexp.MustCompile(`\{.*"path".*"fnMap".*"statementMap".*"branchMap".*\}`)

const sourceMapURLPrefix = "\n//# sourceMappingURL=data:application/json;charset=utf-8;base64,"

// Preprocessor is the instrumentation stage. It rewrites each file so that
// executing it records coverage, keeps the original text for reports and,
// with includeAllSources, remembers a zero-count record of every file.
type Preprocessor struct {
	log      *log.Logger
	basePath string
	enabled  bool
	setupErr error

	registry          InstrumenterRegistry
	overrides         []InstrumenterOverride
	options           map[string]InstrumenterOptions
	includeAllSources bool
	composer          SourceMapComposer

	sources     *domain.SourceCache
	coverageMap *domain.CoverageMap
}

// PreprocessorOption customizes a Preprocessor.
type PreprocessorOption func(*Preprocessor)

// WithSourceMapComposer sets how instrumenter maps are chained onto input maps.
func WithSourceMapComposer(c SourceMapComposer) PreprocessorOption {
	return func(p *Preprocessor) {
		p.composer = c
	}
}

// NewPreprocessor builds the stage from cfg. Without the coverage reporter the
// stage passes content through. An override naming an unregistered
// instrumenter is logged once; every later Process call then fails.
func NewPreprocessor(logger *log.Logger, cfg Config, runCtx *RunContext, opts ...PreprocessorOption) *Preprocessor {
	p := &Preprocessor{
		log:               logger,
		basePath:          cfg.BasePath,
		enabled:           cfg.HasCoverageReporter(),
		registry:          cfg.Coverage.Instrumenters,
		overrides:         cfg.Coverage.Instrumenter,
		options:           cfg.Coverage.InstrumenterOptions,
		includeAllSources: cfg.Coverage.IncludeAllSources,
		sources:           runCtx.Sources(cfg.BasePath),
		coverageMap:       runCtx.CoverageMap(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if !p.enabled {
		return p
	}

	for _, o := range p.overrides {
		if _, ok := p.registry[o.Name]; !ok {
			p.log.Errorf("Unknown instrumenter: %s", o.Name)
			p.setupErr = &ConfigError{Field: "instrumenter", Value: o.Name, Err: ErrUnknownInstrumenter}
			return p
		}
	}
	if _, ok := p.registry[DefaultInstrumenter]; !ok {
		p.log.Errorf("Unknown instrumenter: %s", DefaultInstrumenter)
		p.setupErr = &ConfigError{Field: "instrumenter", Value: DefaultInstrumenter, Err: ErrUnknownInstrumenter}
	}
	return p
}

// Err returns the setup error, if any.
func (p *Preprocessor) Err() error {
	return p.setupErr
}

// Enabled reports whether Process instruments content.
func (p *Preprocessor) Enabled() bool {
	return p.enabled
}

// Process instruments content. Instrumentation failures are logged and the
// instrumenter's output is returned anyway; only a broken setup or a
// cancelled context produce an error.
func (p *Preprocessor) Process(ctx context.Context, content string, file *File) (string, error) {
	if p.setupErr != nil {
		return "", p.setupErr
	}
	if !p.enabled {
		return content, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.log.Debugf("Processing %q.", file.OriginalPath)

	jsPath := logicalPath(p.basePath, file.OriginalPath)
	name := p.instrumenterFor(file.OriginalPath)
	opts := p.options[name]
	if len(file.SourceMap) > 0 {
		codeGen := &CodeGenOptions{
			Compact:           !opts.NoCompact,
			SourceMap:         sourceMapFile(file.SourceMap),
			SourceMapWithCode: true,
			File:              file.Path,
		}
		codeGen.Apply(opts.CodeGenerationOverrides)
		opts.CodeGeneration = codeGen
	}

	instrumenter := p.registry[name](opts)
	code, err := instrument(ctx, instrumenter, content, jsPath)
	if err != nil {
		p.log.Errorf("%s\n  at %s", err.Error(), file.OriginalPath)
	}

	var crashed *instrumenterPanic
	if len(file.SourceMap) > 0 && !errors.As(err, &crashed) {
		code = p.attachSourceMap(code, instrumenter.LastSourceMap(), file)
	}

	p.sources.Set(jsPath, content)

	if p.includeAllSources {
		p.recordZeroCoverage(code, file)
	}
	return code, nil
}

// instrumenterPanic is a panic recovered from an instrumenter.
type instrumenterPanic struct{ value any }

func (e *instrumenterPanic) Error() string {
	return fmt.Sprintf("instrumenter panic: %v", e.value)
}

// instrument runs in and turns a panic into an error; the original content
// is forwarded in that case.
func instrument(ctx context.Context, in Instrumenter, content, path string) (code string, err error) {
	defer func() {
		if r := recover(); r != nil {
			code, err = content, &instrumenterPanic{value: r}
		}
	}()
	return in.Instrument(ctx, content, path)
}

func (p *Preprocessor) attachSourceMap(code string, generated []byte, file *File) string {
	if len(generated) == 0 {
		return code
	}
	p.log.Debugf("Adding source map to instrumented file for %q.", file.OriginalPath)

	composed := generated
	if p.composer != nil {
		out, err := p.composer.Compose(generated, file.SourceMap)
		if err != nil {
			p.log.Errorf("compose source map: %v\n  at %s", err, file.OriginalPath)
			return code
		}
		composed = out
	}
	file.SourceMap = composed
	return code + sourceMapURLPrefix + base64.StdEncoding.EncodeToString(composed) + "\n"
}

func (p *Preprocessor) recordZeroCoverage(code string, file *File) {
	match := embeddedRecord.FindString(code)
	if match == "" {
		return
	}
	var fc domain.FileCoverage
	if err := json.Unmarshal([]byte(match), &fc); err != nil {
		p.log.Warnf("embedded coverage record of %s: %v", file.OriginalPath, err)
		return
	}
	p.coverageMap.Add(&fc)
}

func (p *Preprocessor) instrumenterFor(path string) string {
	for _, o := range p.overrides {
		if domain.MatchGlob(o.Pattern, path) {
			return o.Name
		}
	}
	return DefaultInstrumenter
}

// logicalPath rewrites the base path prefix of originalPath to "./".
func logicalPath(basePath, originalPath string) string {
	if basePath == "" {
		return originalPath
	}
	return strings.Replace(originalPath, strings.TrimSuffix(basePath, "/")+"/", "./", 1)
}

func sourceMapFile(raw []byte) string {
	var m struct {
		File string `json:"file"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	return m.File
}

