package instrument

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-sourcemap/sourcemap"
)

var ErrInvalidMappings = errors.New("invalid source map mappings")

// sourceMap is the v3 wire format.
type sourceMap struct {
	Version        int       `json:"version"`
	File           string    `json:"file,omitempty"`
	SourceRoot     string    `json:"sourceRoot,omitempty"`
	Sources        []string  `json:"sources"`
	SourcesContent []*string `json:"sourcesContent,omitempty"`
	Names          []string  `json:"names"`
	Mappings       string    `json:"mappings"`
}

// segment maps a generated position to a source position. Lines and columns
// are 0-based; name is -1 when absent.
type segment struct {
	genLine, genCol   int
	source            int
	origLine, origCol int
	name              int
}

// splice applies the sorted insertions to src and returns the result with
// one mapping segment at each line start and after each insertion. Generated
// lines start at lineOffset.
func splice(src string, ins []insertion, lineOffset int) (string, []segment) {
	var out strings.Builder
	out.Grow(len(src) + len(ins)*24)

	var segs []segment
	genLine, genCol := lineOffset, 0
	origLine, origCol := 0, 0
	mark := true
	k := 0

	for i := 0; ; {
		for k < len(ins) && ins[k].offset <= i {
			out.WriteString(ins[k].text)
			genCol += utf16Len(ins[k].text)
			k++
			mark = true
		}
		if i >= len(src) {
			break
		}
		if mark {
			segs = append(segs, segment{genLine: genLine, genCol: genCol, origLine: origLine, origCol: origCol, name: -1})
			mark = false
		}
		r, size := utf8.DecodeRuneInString(src[i:])
		out.WriteString(src[i : i+size])
		i += size
		if r == '\n' {
			genLine++
			origLine++
			genCol, origCol = 0, 0
			mark = true
			continue
		}
		n := utf16Len(string(r))
		genCol += n
		origCol += n
	}
	return out.String(), segs
}

const base64Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

func appendVLQ(sb *strings.Builder, v int) {
	u := v << 1
	if v < 0 {
		u = (-v << 1) | 1
	}
	for {
		digit := u & 31
		u >>= 5
		if u > 0 {
			digit |= 32
		}
		sb.WriteByte(base64Chars[digit])
		if u == 0 {
			return
		}
	}
}

// encodeMappings renders segments, sorted by generated position, as a
// base64 VLQ mappings string.
func encodeMappings(segs []segment) string {
	var sb strings.Builder
	line := 0
	prevCol, prevSource, prevLine, prevOrigCol, prevName := 0, 0, 0, 0, 0
	first := true
	for _, s := range segs {
		for line < s.genLine {
			sb.WriteByte(';')
			line++
			prevCol = 0
			first = true
		}
		if !first {
			sb.WriteByte(',')
		}
		first = false
		appendVLQ(&sb, s.genCol-prevCol)
		appendVLQ(&sb, s.source-prevSource)
		appendVLQ(&sb, s.origLine-prevLine)
		appendVLQ(&sb, s.origCol-prevOrigCol)
		if s.name >= 0 {
			appendVLQ(&sb, s.name-prevName)
			prevName = s.name
		}
		prevCol, prevSource, prevLine, prevOrigCol = s.genCol, s.source, s.origLine, s.origCol
	}
	return sb.String()
}

// decodeMappings parses a mappings string. Segments without a source are
// dropped.
func decodeMappings(mappings string) ([]segment, error) {
	var segs []segment
	line := 0
	col, source, origLine, origCol, name := 0, 0, 0, 0, 0
	fields := make([]int, 0, 5)

	flush := func() error {
		switch len(fields) {
		case 0:
			return nil
		case 1:
			col += fields[0]
		case 4, 5:
			col += fields[0]
			source += fields[1]
			origLine += fields[2]
			origCol += fields[3]
			s := segment{genLine: line, genCol: col, source: source, origLine: origLine, origCol: origCol, name: -1}
			if len(fields) == 5 {
				name += fields[4]
				s.name = name
			}
			segs = append(segs, s)
		default:
			return fmt.Errorf("%w: segment with %d fields", ErrInvalidMappings, len(fields))
		}
		fields = fields[:0]
		return nil
	}

	value, shift := 0, 0
	for i := 0; i < len(mappings); i++ {
		c := mappings[i]
		switch c {
		case ';', ',':
			if shift != 0 {
				return nil, fmt.Errorf("%w: truncated value", ErrInvalidMappings)
			}
			if err := flush(); err != nil {
				return nil, err
			}
			if c == ';' {
				line++
				col = 0
			}
			continue
		}
		digit := strings.IndexByte(base64Chars, c)
		if digit < 0 {
			return nil, fmt.Errorf("%w: bad character %q", ErrInvalidMappings, c)
		}
		value |= (digit & 31) << shift
		if digit&32 != 0 {
			shift += 5
			continue
		}
		v := value >> 1
		if value&1 == 1 {
			v = -v
		}
		fields = append(fields, v)
		value, shift = 0, 0
	}
	if shift != 0 {
		return nil, fmt.Errorf("%w: truncated value", ErrInvalidMappings)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return segs, nil
}

// Composer chains instrumenter maps onto the maps of their inputs.
type Composer struct{}

// Compose implements application.SourceMapComposer.
func (Composer) Compose(generated, input []byte) ([]byte, error) {
	return ComposeSourceMaps(generated, input)
}

// ComposeSourceMaps re-points every segment of generated, whose sources are
// the generated files of input, at input's original sources. Segments that
// input does not map are dropped.
func ComposeSourceMaps(generated, input []byte) ([]byte, error) {
	var gen sourceMap
	if err := json.Unmarshal(generated, &gen); err != nil {
		return nil, fmt.Errorf("decode generated map: %w", err)
	}
	var in sourceMap
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("decode input map: %w", err)
	}
	consumer, err := sourcemap.Parse("", input)
	if err != nil {
		return nil, fmt.Errorf("parse input map: %w", err)
	}
	segs, err := decodeMappings(gen.Mappings)
	if err != nil {
		return nil, err
	}

	out := sourceMap{Version: 3, File: gen.File, Sources: []string{}, Names: []string{}}
	sourceIdx := map[string]int{}
	nameIdx := map[string]int{}
	withContent := false

	addSource := func(src string) int {
		if i, ok := sourceIdx[src]; ok {
			return i
		}
		i := len(out.Sources)
		sourceIdx[src] = i
		out.Sources = append(out.Sources, src)
		content := lookupContent(in, src)
		if content != nil {
			withContent = true
		}
		out.SourcesContent = append(out.SourcesContent, content)
		return i
	}
	addName := func(name string) int {
		if i, ok := nameIdx[name]; ok {
			return i
		}
		i := len(out.Names)
		nameIdx[name] = i
		out.Names = append(out.Names, name)
		return i
	}

	composed := make([]segment, 0, len(segs))
	for _, s := range segs {
		src, name, line, col, ok := consumer.Source(s.origLine+1, s.origCol)
		if !ok {
			continue
		}
		c := segment{genLine: s.genLine, genCol: s.genCol, source: addSource(src), origLine: line - 1, origCol: col, name: -1}
		if name != "" {
			c.name = addName(name)
		}
		composed = append(composed, c)
	}
	out.Mappings = encodeMappings(composed)
	if !withContent {
		out.SourcesContent = nil
	}
	return json.Marshal(out)
}

// lookupContent finds the content of src in m, tolerating a source root the
// consumer may have prefixed.
func lookupContent(m sourceMap, src string) *string {
	for i, s := range m.Sources {
		if i >= len(m.SourcesContent) {
			return nil
		}
		if s == src || strings.HasSuffix(src, "/"+strings.TrimPrefix(s, "./")) {
			return m.SourcesContent[i]
		}
	}
	return nil
}
