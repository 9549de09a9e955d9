package report

import (
	"io"
	"path"

	"github.com/nmalaguti/karma-coverage/internal/application"
	"github.com/nmalaguti/karma-coverage/internal/domain"
	"github.com/nmalaguti/karma-coverage/internal/infrastructure/badge"
)

// badgeWriter writes coverage.svg showing total statement coverage. Without a
// file option it also writes badges/<metric>.svg for every metric.
type badgeWriter struct{ base }

func newBadgeWriter(opts application.WriterOptions) application.ReportWriter {
	return &badgeWriter{base{opts}}
}

func (b *badgeWriter) WriteReport(c *domain.Collector, _ bool) error {
	_, total := b.rows(c)
	if err := b.writeBadge("coverage.svg", "coverage", domain.MetricStatements, total); err != nil {
		return err
	}
	if b.opts.File != "" {
		return nil
	}
	for _, name := range domain.Metrics {
		if err := b.writeBadge(path.Join("badges", string(name)+".svg"), string(name), name, total); err != nil {
			return err
		}
	}
	return nil
}

func (b *badgeWriter) writeBadge(file, label string, metric domain.MetricName, total domain.Summary) error {
	pct := total.Metric(metric).Pct
	return b.writeFile(file, func(w io.Writer) error {
		return badge.Generate(w, badge.Options{
			Label:   label,
			Percent: pct,
			Metric:  metric,
			Level:   b.opts.Watermarks.Classify(metric, pct),
		})
	})
}
