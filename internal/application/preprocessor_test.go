package application

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coverageConfig(registry InstrumenterRegistry) Config {
	return Config{
		BasePath:  "/base",
		Reporters: []string{"progress", CoverageReporterName},
		Coverage:  CoverageConfig{Instrumenters: registry},
	}
}

func fakeRegistry(calls *[]string) InstrumenterRegistry {
	return InstrumenterRegistry{
		DefaultInstrumenter: func(opts InstrumenterOptions) Instrumenter {
			return &fakeInstrumenter{name: DefaultInstrumenter, opts: opts, calls: calls}
		},
		"alt": func(opts InstrumenterOptions) Instrumenter {
			return &fakeInstrumenter{name: "alt", opts: opts, calls: calls}
		},
	}
}

func TestPreprocessorPassthroughWithoutCoverageReporter(t *testing.T) {
	var logs bytes.Buffer
	cfg := coverageConfig(fakeRegistry(nil))
	cfg.Reporters = []string{"progress"}
	runCtx := NewRunContext()

	p := NewPreprocessor(testLogger(&logs), cfg, runCtx)
	out, err := p.Process(context.Background(), "var a = 1;", &File{OriginalPath: "/base/a.js"})

	require.NoError(t, err)
	assert.Equal(t, "var a = 1;", out)
	assert.False(t, p.Enabled())
	assert.False(t, runCtx.Sources("/base").HasKey("./a.js"))
}

func TestPreprocessorUnknownInstrumenter(t *testing.T) {
	var logs bytes.Buffer
	cfg := coverageConfig(fakeRegistry(nil))
	cfg.Coverage.Instrumenter = []InstrumenterOverride{{Pattern: "**/*.coffee", Name: "ibrik"}}

	p := NewPreprocessor(testLogger(&logs), cfg, NewRunContext())
	require.Error(t, p.Err())
	assert.Equal(t, 1, strings.Count(logs.String(), "Unknown instrumenter: ibrik"))

	for i := 0; i < 2; i++ {
		_, err := p.Process(context.Background(), "x", &File{OriginalPath: "/base/a.js"})
		var cfgErr *ConfigError
		require.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, "ibrik", cfgErr.Value)
		assert.ErrorIs(t, err, ErrUnknownInstrumenter)
	}
	assert.Equal(t, 1, strings.Count(logs.String(), "Unknown instrumenter"))
}

func TestPreprocessorRoutesByFirstMatchingOverride(t *testing.T) {
	var logs bytes.Buffer
	var calls []string
	cfg := coverageConfig(fakeRegistry(&calls))
	cfg.Coverage.Instrumenter = []InstrumenterOverride{
		{Pattern: "/base/lib/**", Name: "alt"},
		{Pattern: "**/*.js", Name: DefaultInstrumenter},
	}
	p := NewPreprocessor(testLogger(&logs), cfg, NewRunContext())

	ctx := context.Background()
	out, err := p.Process(ctx, "a()", &File{OriginalPath: "/base/lib/a.js"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "// alt\n"))

	_, err = p.Process(ctx, "b()", &File{OriginalPath: "/base/src/b.js"})
	require.NoError(t, err)

	assert.Equal(t, []string{"alt:./lib/a.js", "istanbul:./src/b.js"}, calls)
}

func TestPreprocessorCachesOriginalSourceByLogicalPath(t *testing.T) {
	var logs bytes.Buffer
	runCtx := NewRunContext()
	p := NewPreprocessor(testLogger(&logs), coverageConfig(fakeRegistry(nil)), runCtx)

	_, err := p.Process(context.Background(), "var a = 1;", &File{OriginalPath: "/base/src/a.js"})
	require.NoError(t, err)

	sources := runCtx.Sources("/base")
	assert.True(t, sources.HasKey("./src/a.js"))
	assert.Equal(t, "var a = 1;", sources.Get("./src/a.js"))
}

func TestPreprocessorIncludeAllSourcesRecordsZeroCoverage(t *testing.T) {
	var logs bytes.Buffer
	registry := InstrumenterRegistry{
		DefaultInstrumenter: func(opts InstrumenterOptions) Instrumenter {
			return &fakeInstrumenter{name: DefaultInstrumenter, embed: true}
		},
	}
	cfg := coverageConfig(registry)
	cfg.Coverage.IncludeAllSources = true
	runCtx := NewRunContext()
	p := NewPreprocessor(testLogger(&logs), cfg, runCtx)

	_, err := p.Process(context.Background(), "a();\nb();", &File{OriginalPath: "/base/a.js"})
	require.NoError(t, err)

	recorded := runCtx.CoverageMap().Get()
	require.Contains(t, recorded, "./a.js")
	assert.Equal(t, map[string]int{"1": 0, "2": 0}, recorded["./a.js"].S)
}

func TestPreprocessorInstrumentErrorIsNotFatal(t *testing.T) {
	var logs bytes.Buffer
	registry := InstrumenterRegistry{
		DefaultInstrumenter: func(InstrumenterOptions) Instrumenter {
			return &fakeInstrumenter{name: DefaultInstrumenter, err: errors.New("Line 1: Unexpected token")}
		},
	}
	p := NewPreprocessor(testLogger(&logs), coverageConfig(registry), NewRunContext())

	out, err := p.Process(context.Background(), "var = ;", &File{OriginalPath: "/base/bad.js"})
	require.NoError(t, err)
	assert.Contains(t, out, "var = ;")
	assert.Contains(t, logs.String(), "Line 1: Unexpected token\n  at /base/bad.js")
}

func TestPreprocessorInstrumenterPanicIsNotFatal(t *testing.T) {
	var logs bytes.Buffer
	registry := InstrumenterRegistry{
		DefaultInstrumenter: func(InstrumenterOptions) Instrumenter {
			return &fakeInstrumenter{name: DefaultInstrumenter, panicMsg: "slice bounds out of range", sourceMap: []byte("{")}
		},
	}
	rc := NewRunContext()
	p := NewPreprocessor(testLogger(&logs), coverageConfig(registry), rc)

	out, err := p.Process(context.Background(), "if (a) a++;", &File{
		OriginalPath: "/base/src/p.js",
		Path:         "/base/src/p.js",
		SourceMap:    []byte(`{"version":3}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "if (a) a++;", out)
	assert.Contains(t, logs.String(), "instrumenter panic: slice bounds out of range\n  at /base/src/p.js")
	assert.Equal(t, "if (a) a++;", rc.Sources("/base").Get("./src/p.js"))
}

func TestPreprocessorComposesInputSourceMap(t *testing.T) {
	var logs bytes.Buffer
	var seen InstrumenterOptions
	registry := InstrumenterRegistry{
		DefaultInstrumenter: func(opts InstrumenterOptions) Instrumenter {
			seen = opts
			return &fakeInstrumenter{name: DefaultInstrumenter, sourceMap: []byte(`{"generated":true}`)}
		},
	}
	cfg := coverageConfig(registry)
	cfg.Coverage.InstrumenterOptions = map[string]InstrumenterOptions{
		DefaultInstrumenter: {CodeGenerationOverrides: map[string]any{"compact": false}},
	}
	composed := []byte(`{"version":3,"sources":["a.ts"]}`)
	composer := composerFunc(func(generated, input []byte) ([]byte, error) {
		assert.JSONEq(t, `{"generated":true}`, string(generated))
		assert.JSONEq(t, `{"version":3,"file":"a.js","sources":["a.ts"]}`, string(input))
		return composed, nil
	})
	p := NewPreprocessor(testLogger(&logs), cfg, NewRunContext(), WithSourceMapComposer(composer))

	file := &File{
		OriginalPath: "/base/a.ts",
		Path:         "/base/a.js",
		SourceMap:    []byte(`{"version":3,"file":"a.js","sources":["a.ts"]}`),
	}
	out, err := p.Process(context.Background(), "a();", file)
	require.NoError(t, err)

	require.NotNil(t, seen.CodeGeneration)
	assert.Equal(t, CodeGenOptions{Compact: false, SourceMap: "a.js", SourceMapWithCode: true, File: "/base/a.js"}, *seen.CodeGeneration)

	assert.Equal(t, composed, file.SourceMap)
	suffix := "//# sourceMappingURL=data:application/json;charset=utf-8;base64," + base64.StdEncoding.EncodeToString(composed) + "\n"
	assert.True(t, strings.HasSuffix(out, suffix))
}

func TestPreprocessorHonoursCancelledContext(t *testing.T) {
	var logs bytes.Buffer
	p := NewPreprocessor(testLogger(&logs), coverageConfig(fakeRegistry(nil)), NewRunContext())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Process(ctx, "a()", &File{OriginalPath: "/base/a.js"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLogicalPath(t *testing.T) {
	assert.Equal(t, "./src/a.js", logicalPath("/base", "/base/src/a.js"))
	assert.Equal(t, "./src/a.js", logicalPath("/base/", "/base/src/a.js"))
	assert.Equal(t, "/other/a.js", logicalPath("/base", "/other/a.js"))
	assert.Equal(t, "a.js", logicalPath("", "a.js"))
}
