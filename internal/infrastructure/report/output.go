package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/nmalaguti/karma-coverage/internal/application"
	"github.com/nmalaguti/karma-coverage/internal/domain"
	"github.com/nmalaguti/karma-coverage/internal/pathutil"
)

// ErrUnsafeFile reports a report file name that leaves the output dir.
var ErrUnsafeFile = errors.New("report file escapes output dir")

// base carries the options shared by every writer.
type base struct {
	opts application.WriterOptions
}

// fileRow is one collected file with its summary.
type fileRow struct {
	Key     string
	Name    string
	Summary domain.Summary
	Record  *domain.FileCoverage
}

// rows summarizes the collector's files in lexical order of their display names.
func (b base) rows(c *domain.Collector) ([]fileRow, domain.Summary) {
	final := c.FinalCoverage()
	total := domain.EmptySummary()
	rows := make([]fileRow, 0, len(final))
	for _, key := range final.Paths() {
		fc := final[key]
		s := domain.SummarizeFile(fc)
		total = total.Add(s)
		rows = append(rows, fileRow{Key: key, Name: b.displayName(key), Summary: s, Record: fc})
	}
	return rows, total
}

// displayName is key relative to the base path without a leading "./".
func (b base) displayName(key string) string {
	n := b.opts.Normalizer
	if n == nil {
		n = domain.CleanPathNormalizer{}
	}
	return strings.TrimPrefix(n.Normalize(key), "./")
}

// absPath resolves key against the base path.
func (b base) absPath(key string) string {
	native := filepath.FromSlash(key)
	if filepath.IsAbs(native) || b.opts.BasePath == "" {
		return filepath.ToSlash(native)
	}
	return filepath.ToSlash(filepath.Join(b.opts.BasePath, native))
}

// create opens the report file, falling back to name when no file is set.
func (b base) create(name string) (*os.File, error) {
	file := b.opts.File
	if file == "" {
		file = name
	}
	path, err := pathutil.Within(b.opts.Dir, file)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsafeFile, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	f, err := os.Create(path) // #nosec G304 -- path is built from configured output dir
	if err != nil {
		return nil, fmt.Errorf("create report file: %w", err)
	}
	return f, nil
}

// console returns the destination of a console report: the configured
// console writer, or a file when one is named.
func (b base) console() (io.Writer, func() error, error) {
	if b.opts.File == "" {
		w := b.opts.Console
		if w == nil {
			w = os.Stdout
		}
		return w, func() error { return nil }, nil
	}
	f, err := b.create("")
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

// writeFile creates name and hands it to fn, closing it afterwards.
func (b base) writeFile(name string, fn func(io.Writer) error) error {
	f, err := b.create(name)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func colorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}

var levelStyles = map[domain.Level]lipgloss.Style{
	domain.LevelLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("#DC2626")),
	domain.LevelMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("#CA8A04")),
	domain.LevelHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("#16A34A")),
}

// paint colors s by the watermark level of pct when colorize is set.
func paint(colorize bool, w domain.Watermarks, name domain.MetricName, pct float64, s string) string {
	if !colorize {
		return s
	}
	return levelStyles[w.Classify(name, pct)].Render(s)
}

// lineRanges compresses sorted line numbers into "1-3,7" form.
func lineRanges(lines []int) string {
	var sb strings.Builder
	for i := 0; i < len(lines); {
		j := i
		for j+1 < len(lines) && lines[j+1] == lines[j]+1 {
			j++
		}
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(lines[i]))
		if j > i {
			sb.WriteByte('-')
			sb.WriteString(strconv.Itoa(lines[j]))
		}
		i = j + 1
	}
	return sb.String()
}

func formatPct(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
