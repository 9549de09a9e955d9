// Package instrument provides the default JavaScript instrumenter. It parses
// sources with goja, inserts hit counters into the original text and embeds
// a zero-count coverage record in the output.
package instrument

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"

	"github.com/nmalaguti/karma-coverage/internal/application"
)

// CoverageVariable is the global that accumulates coverage records.
const CoverageVariable = "__coverage__"

// Instrumenter is the istanbul-style instrumenter.
type Instrumenter struct {
	opts          application.InstrumenterOptions
	lastSourceMap []byte
}

// New builds an instrumenter; it satisfies application.InstrumenterFactory.
func New(opts application.InstrumenterOptions) application.Instrumenter {
	return &Instrumenter{opts: opts}
}

// Registry returns the built-in instrumenters.
func Registry() application.InstrumenterRegistry {
	return application.InstrumenterRegistry{application.DefaultInstrumenter: New}
}

// LastSourceMap returns the map produced by the last call to Instrument when
// code generation options asked for one.
func (in *Instrumenter) LastSourceMap() []byte {
	return in.lastSourceMap
}

// Instrument returns code rewritten to count statements, functions and
// branches under filename. On a parse error the original code is returned
// along with the error.
func (in *Instrumenter) Instrument(ctx context.Context, code, filename string) (string, error) {
	in.lastSourceMap = nil
	if err := ctx.Err(); err != nil {
		return code, err
	}

	prog, err := parser.ParseFile(nil, filename, code, 0)
	if err != nil {
		return code, err
	}
	base := 1
	if prog.File != nil {
		base = prog.File.Base()
	}

	counter := counterName(filename)
	v := newVisitor(code, base, counter, filename)
	v.program(prog)
	sortInsertions(v.inserts)

	record, err := json.Marshal(v.rec)
	if err != nil {
		return code, fmt.Errorf("encode coverage record: %w", err)
	}

	compact := !in.opts.NoCompact
	cg := in.opts.CodeGeneration
	if cg != nil {
		compact = cg.Compact
	}
	head := preamble(counter, filename, string(record), compact)
	if isStrict(prog) {
		// The preamble would otherwise end the directive prologue.
		sep := "\n"
		if compact {
			sep = " "
		}
		head = `"use strict";` + sep + head
	}

	out, segments := splice(code, v.inserts, strings.Count(head, "\n"))

	if cg != nil {
		file := cg.File
		if file == "" {
			file = filename
		}
		m := sourceMap{
			Version:  3,
			File:     file,
			Sources:  []string{filename},
			Names:    []string{},
			Mappings: encodeMappings(segments),
		}
		if cg.SourceMapWithCode {
			m.SourcesContent = []*string{&code}
		}
		raw, err := json.Marshal(m)
		if err != nil {
			return code, fmt.Errorf("encode source map: %w", err)
		}
		in.lastSourceMap = raw
	}

	return head + out, nil
}

// isStrict reports whether the program's directive prologue contains an
// unescaped "use strict".
func isStrict(prog *ast.Program) bool {
	for _, s := range prog.Body {
		if !isDirective(s) {
			return false
		}
		lit := s.(*ast.ExpressionStatement).Expression.(*ast.StringLiteral)
		if len(lit.Literal) == len("use strict")+2 && lit.Literal[1:len(lit.Literal)-1] == "use strict" {
			return true
		}
	}
	return false
}

// counterName derives a per-file identifier for the local coverage handle.
func counterName(filename string) string {
	sum := sha1.Sum([]byte(filename))
	return "__cov_" + hex.EncodeToString(sum[:])[:12]
}

// preamble registers the file's record in the global coverage object. The
// record sits on a line of its own so it can be found in the output.
func preamble(counter, filename, record string, compact bool) string {
	quoted, _ := json.Marshal(filename)
	key := string(quoted)
	lines := []string{
		fmt.Sprintf("var %s = (Function('return this'))();", counter),
		fmt.Sprintf("if (!%s.%s) { %s.%s = {}; }", counter, CoverageVariable, counter, CoverageVariable),
		fmt.Sprintf("%s = %s.%s;", counter, counter, CoverageVariable),
		fmt.Sprintf("if (!(%s in %s)) { %s[%s] =", key, counter, counter, key),
		record,
		"}",
		fmt.Sprintf("%s = %s[%s];", counter, counter, key),
	}
	if compact {
		return strings.Join(lines[:4], " ") + "\n" + record + "\n} " + lines[6] + "\n"
	}
	return strings.Join(lines, "\n") + "\n"
}
