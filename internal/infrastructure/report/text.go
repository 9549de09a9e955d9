package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/nmalaguti/karma-coverage/internal/application"
	"github.com/nmalaguti/karma-coverage/internal/domain"
)

// textWriter prints a per-file table of the four metrics.
type textWriter struct{ base }

func newTextWriter(opts application.WriterOptions) application.ReportWriter {
	return &textWriter{base{opts}}
}

func (t *textWriter) WriteReport(c *domain.Collector, _ bool) error {
	w, done, err := t.console()
	if err != nil {
		return err
	}
	if err := t.render(w, c); err != nil {
		_ = done()
		return err
	}
	return done()
}

func (t *textWriter) render(w io.Writer, c *domain.Collector) error {
	rows, total := t.rows(c)
	colorize := colorEnabled(w)
	marks := t.opts.Watermarks

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "File\t% Stmts\t% Branch\t% Funcs\t% Lines\tUncovered Line #s")

	line := func(name string, s domain.Summary, uncovered string) {
		cells := []string{name}
		for _, m := range []domain.MetricName{domain.MetricStatements, domain.MetricBranches, domain.MetricFunctions, domain.MetricLines} {
			pct := s.Metric(m).Pct
			cells = append(cells, paint(colorize, marks, m, pct, formatPct(pct)))
		}
		cells = append(cells, uncovered)
		_, _ = fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}

	line("All files", total, "")
	for _, r := range rows {
		line(" "+r.Name, r.Summary, lineRanges(r.Record.UncoveredLines()))
	}
	return tw.Flush()
}

// textSummaryWriter prints the global totals only.
type textSummaryWriter struct{ base }

func newTextSummaryWriter(opts application.WriterOptions) application.ReportWriter {
	return &textSummaryWriter{base{opts}}
}

func (t *textSummaryWriter) WriteReport(c *domain.Collector, _ bool) error {
	w, done, err := t.console()
	if err != nil {
		return err
	}
	_, total := t.rows(c)
	colorize := colorEnabled(w)

	var sb strings.Builder
	sb.WriteString("\n=============================== Coverage summary ===============================\n")
	for _, m := range domain.Metrics {
		metric := total.Metric(m)
		label := strings.ToUpper(string(m[:1])) + string(m[1:])
		text := fmt.Sprintf("%-12s : %s%% ( %d/%d )", label, formatPct(metric.Pct), metric.Covered, metric.Total)
		if metric.Skipped > 0 {
			text += fmt.Sprintf(", %d ignored", metric.Skipped)
		}
		sb.WriteString(paint(colorize, t.opts.Watermarks, m, metric.Pct, text))
		sb.WriteByte('\n')
	}
	sb.WriteString("================================================================================\n")

	if _, err := io.WriteString(w, sb.String()); err != nil {
		_ = done()
		return err
	}
	return done()
}
