package report

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/nmalaguti/karma-coverage/internal/application"
	"github.com/nmalaguti/karma-coverage/internal/domain"
)

// jsonWriter dumps the merged coverage object as coverage-final.json.
type jsonWriter struct{ base }

func newJSONWriter(opts application.WriterOptions) application.ReportWriter {
	return &jsonWriter{base{opts}}
}

func (j *jsonWriter) WriteReport(c *domain.Collector, _ bool) error {
	return j.writeFile("coverage-final.json", func(w io.Writer) error {
		return json.NewEncoder(w).Encode(c.FinalCoverage())
	})
}

// jsonSummaryWriter writes coverage-summary.json: the total first, then one
// summary per file.
type jsonSummaryWriter struct{ base }

func newJSONSummaryWriter(opts application.WriterOptions) application.ReportWriter {
	return &jsonSummaryWriter{base{opts}}
}

func (j *jsonSummaryWriter) WriteReport(c *domain.Collector, _ bool) error {
	rows, total := j.rows(c)

	var buf bytes.Buffer
	entry := func(key string, s domain.Summary) error {
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		v, err := json.Marshal(s)
		if err != nil {
			return err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}

	buf.WriteByte('{')
	if err := entry("total", total); err != nil {
		return err
	}
	for _, r := range rows {
		buf.WriteString(",\n")
		if err := entry(j.absPath(r.Key), r.Summary); err != nil {
			return err
		}
	}
	buf.WriteString("}\n")

	return j.writeFile("coverage-summary.json", func(w io.Writer) error {
		_, err := w.Write(buf.Bytes())
		return err
	})
}
