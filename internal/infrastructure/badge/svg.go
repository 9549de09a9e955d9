// Package badge renders shields-style SVG coverage badges.
package badge

import (
	"fmt"
	"html/template"
	"io"

	"github.com/nmalaguti/karma-coverage/internal/domain"
)

type Style string

const (
	StyleFlat       Style = "flat"
	StyleFlatSquare Style = "flat-square"
)

// Options describe one badge. Level picks the value color; an empty level
// classifies Percent against the default watermarks for Metric.
type Options struct {
	Label   string
	Percent float64
	Style   Style
	Metric  domain.MetricName
	Level   domain.Level
}

// charWidth approximates Verdana 11px glyph width; padding is per side.
const (
	charWidth = 7
	padding   = 5
)

var badgeTemplate = template.Must(template.New("badge").Parse(`<svg xmlns="http://www.w3.org/2000/svg" width="{{.Width}}" height="20" role="img" aria-label="{{.Label}}: {{.Value}}">
  <title>{{.Label}}: {{.Value}}</title>
  <linearGradient id="shade" x2="0" y2="100%"><stop offset="0" stop-color="#bbb" stop-opacity=".1"/><stop offset="1" stop-opacity=".1"/></linearGradient>
  <clipPath id="round"><rect width="{{.Width}}" height="20" rx="{{.Radius}}" fill="#fff"/></clipPath>
  <g clip-path="url(#round)">
{{- range .Parts}}
    <rect x="{{.X}}" width="{{.Width}}" height="20" fill="{{.Fill}}"/>
{{- end}}
    <rect width="{{.Width}}" height="20" fill="url(#shade)"/>
  </g>
  <g fill="#fff" text-anchor="middle" font-family="Verdana,Geneva,DejaVu Sans,sans-serif" font-size="11">
{{- range .Parts}}
    <text x="{{.Center}}" y="15" fill="#010101" fill-opacity=".3">{{.Text}}</text>
    <text x="{{.Center}}" y="14">{{.Text}}</text>
{{- end}}
  </g>
</svg>
`))

type part struct {
	Text   string
	Fill   string
	X      int
	Width  int
	Center float64
}

type badgeData struct {
	Label  string
	Value  string
	Width  int
	Radius int
	Parts  []part
}

// Generate writes a two-part badge: a grey label and a value colored by
// watermark level.
func Generate(w io.Writer, opts Options) error {
	if opts.Label == "" {
		opts.Label = "coverage"
	}
	if opts.Metric == "" {
		opts.Metric = domain.MetricStatements
	}
	level := opts.Level
	if level == "" {
		level = domain.DefaultWatermarks().Classify(opts.Metric, opts.Percent)
	}
	value := formatPercent(opts.Percent)

	data := badgeData{Label: opts.Label, Value: value, Radius: 3}
	if opts.Style == StyleFlatSquare {
		data.Radius = 0
	}
	x := 0
	for _, p := range []part{{Text: opts.Label, Fill: "#555"}, {Text: value, Fill: LevelColor(level)}} {
		p.X = x
		p.Width = len(p.Text)*charWidth + 2*padding
		p.Center = float64(x) + float64(p.Width)/2
		x += p.Width
		data.Parts = append(data.Parts, p)
	}
	data.Width = x

	if err := badgeTemplate.Execute(w, data); err != nil {
		return fmt.Errorf("render badge: %w", err)
	}
	return nil
}

func formatPercent(p float64) string {
	if p == float64(int(p)) {
		return fmt.Sprintf("%.0f%%", p)
	}
	return fmt.Sprintf("%.1f%%", p)
}

// LevelColor maps a watermark level to a badge color.
func LevelColor(level domain.Level) string {
	switch level {
	case domain.LevelHigh:
		return "#4c1"
	case domain.LevelMedium:
		return "#dfb317"
	default:
		return "#e05d44"
	}
}
