package badge

import (
	"bytes"
	"strconv"
	"strings"
	"testing"

	"github.com/nmalaguti/karma-coverage/internal/domain"
)

func TestGenerateBadge(t *testing.T) {
	buf := new(bytes.Buffer)
	opts := Options{
		Label:   "statements",
		Percent: 85.5,
		Style:   StyleFlat,
	}
	if err := Generate(buf, opts); err != nil {
		t.Fatalf("generate: %v", err)
	}
	output := buf.String()
	if !strings.Contains(output, "<svg") {
		t.Fatal("expected SVG element")
	}
	if !strings.Contains(output, "statements") {
		t.Fatal("expected label in output")
	}
	if !strings.Contains(output, "85.5%") {
		t.Fatal("expected percentage in output")
	}
}

func TestGenerateBadgeDefaultLabel(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := Generate(buf, Options{Percent: 100}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(buf.String(), "coverage: 100%") {
		t.Fatalf("expected default label, got %s", buf.String())
	}
}

func TestGenerateBadgeColors(t *testing.T) {
	tests := []struct {
		name      string
		opts      Options
		wantColor string
	}{
		{"default low", Options{Percent: 40}, "#e05d44"},
		{"default medium", Options{Percent: 65}, "#dfb317"},
		{"default high", Options{Percent: 80}, "#4c1"},
		{"explicit level wins", Options{Percent: 10, Level: domain.LevelHigh}, "#4c1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			if err := Generate(buf, tt.opts); err != nil {
				t.Fatalf("generate: %v", err)
			}
			if !strings.Contains(buf.String(), `fill="`+tt.wantColor+`"`) {
				t.Fatalf("expected color %s", tt.wantColor)
			}
		})
	}
}

func TestGenerateBadgeFlatSquare(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := Generate(buf, Options{Percent: 50, Style: StyleFlatSquare}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.Contains(buf.String(), `rx="0"`) {
		t.Fatal("expected square corners")
	}
}

func TestFormatPercent(t *testing.T) {
	if got := formatPercent(75); got != "75%" {
		t.Fatalf("got %s", got)
	}
	if got := formatPercent(75.25); got != "75.2%" && got != "75.3%" {
		t.Fatalf("got %s", got)
	}
}

func TestGenerateBadgeWidth(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := Generate(buf, Options{Label: "lines", Percent: 50}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	// "lines" is 5 chars and "50%" is 3, each padded on both sides.
	want := (5*charWidth + 2*padding) + (3*charWidth + 2*padding)
	if !strings.Contains(buf.String(), `width="`+strconv.Itoa(want)+`"`) {
		t.Fatalf("expected total width %d in:\n%s", want, buf.String())
	}
}
