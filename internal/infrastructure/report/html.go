package report

import (
	"fmt"
	"html/template"
	"io"
	"path"
	"strings"
	"time"

	"github.com/nmalaguti/karma-coverage/internal/application"
	"github.com/nmalaguti/karma-coverage/internal/domain"
)

const htmlTemplates = `{{define "head"}}<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Coverage Report{{if .Title}} - {{.Title}}{{end}}</title>
    <style>
        :root {
            --high: #16A34A;
            --low: #DC2626;
            --medium: #CA8A04;
            --bg: #0f172a;
            --card: #1e293b;
            --text: #f8fafc;
            --muted: #94a3b8;
            --border: #334155;
        }
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Oxygen, Ubuntu, sans-serif;
            background: var(--bg);
            color: var(--text);
            line-height: 1.6;
            padding: 2rem;
        }
        a { color: var(--text); }
        .container { max-width: 1200px; margin: 0 auto; }
        h1 { font-size: 2rem; margin-bottom: 0.5rem; font-weight: 600; }
        .timestamp { color: var(--muted); font-size: 0.875rem; margin-bottom: 2rem; }
        .summary { display: flex; gap: 1rem; margin-bottom: 2rem; }
        .summary-card {
            background: var(--card);
            border-radius: 0.5rem;
            padding: 1rem 1.5rem;
            border: 1px solid var(--border);
        }
        .summary-card.high { border-left: 4px solid var(--high); }
        .summary-card.medium { border-left: 4px solid var(--medium); }
        .summary-card.low { border-left: 4px solid var(--low); }
        .summary-label {
            font-size: 0.75rem;
            text-transform: uppercase;
            color: var(--muted);
            letter-spacing: 0.05em;
        }
        .summary-value { font-size: 1.5rem; font-weight: 600; }
        .summary-detail { color: var(--muted); font-size: 0.75rem; }
        table {
            width: 100%;
            border-collapse: collapse;
            background: var(--card);
            border-radius: 0.5rem;
            overflow: hidden;
            margin-bottom: 2rem;
        }
        th, td { padding: 0.75rem 1rem; text-align: left; border-bottom: 1px solid var(--border); }
        th {
            background: rgba(0,0,0,0.2);
            font-weight: 600;
            font-size: 0.75rem;
            text-transform: uppercase;
            letter-spacing: 0.05em;
            color: var(--muted);
        }
        tr:last-child td { border-bottom: none; }
        td.high { color: var(--high); }
        td.medium { color: var(--medium); }
        td.low { color: var(--low); }
        .progress-bar { width: 100%; height: 6px; background: var(--border); border-radius: 3px; overflow: hidden; }
        .progress-fill { height: 100%; border-radius: 3px; }
        .progress-fill.high { background: var(--high); }
        .progress-fill.medium { background: var(--medium); }
        .progress-fill.low { background: var(--low); }
        table.source td { padding: 0 0.75rem; border: none; font-family: ui-monospace, Menlo, monospace; font-size: 0.8125rem; white-space: pre; }
        table.source td.line-number, table.source td.hits { color: var(--muted); text-align: right; width: 1%; }
        tr.covered td.hits { background: rgba(22, 163, 74, 0.2); }
        tr.uncovered td { background: rgba(220, 38, 38, 0.2); }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{if .Title}}{{.Title}}{{else}}All files{{end}}</h1>
        <p class="timestamp">Generated {{.Timestamp}}{{if .Index}} &middot; <a href="{{.Index}}">All files</a>{{end}}</p>
        <div class="summary">
            {{range .Totals}}
            <div class="summary-card {{.Level}}">
                <div class="summary-label">{{.Name}}</div>
                <div class="summary-value">{{pct .Metric.Pct}}%</div>
                <div class="summary-detail">{{.Metric.Covered}}/{{.Metric.Total}}</div>
            </div>
            {{end}}
        </div>
{{end}}
{{define "foot"}}    </div>
</body>
</html>
{{end}}
{{define "index"}}{{template "head" .}}
        <table>
            <thead>
                <tr>
                    <th>File</th>
                    <th>Statements</th>
                    <th>Branches</th>
                    <th>Functions</th>
                    <th>Lines</th>
                </tr>
            </thead>
            <tbody>
                {{range .Files}}
                <tr>
                    <td><a href="{{.Link}}">{{.Name}}</a>
                        <div class="progress-bar"><div class="progress-fill {{(index .Metrics 0).Level}}" style="width: {{printf "%.0f" (index .Metrics 0).Metric.Pct}}%"></div></div>
                    </td>
                    {{range .Metrics}}<td class="{{.Level}}">{{pct .Metric.Pct}}% ({{.Metric.Covered}}/{{.Metric.Total}})</td>{{end}}
                </tr>
                {{end}}
            </tbody>
        </table>
{{template "foot" .}}{{end}}
{{define "file"}}{{template "head" .}}
        {{if .Missing}}<p class="timestamp">Source not available.</p>{{else}}
        <table class="source">
            <tbody>
                {{range .Lines}}<tr class="{{.Class}}"><td class="line-number">{{.Number}}</td><td class="hits">{{.Hits}}</td><td>{{.Text}}</td></tr>
                {{end}}
            </tbody>
        </table>
        {{end}}
{{template "foot" .}}{{end}}`

var htmlTmpl = template.Must(template.New("report").Funcs(template.FuncMap{"pct": formatPct}).Parse(htmlTemplates))

type htmlMetric struct {
	Name   string
	Metric domain.Metric
	Level  domain.Level
}

type htmlFile struct {
	Name    string
	Link    string
	Metrics []htmlMetric
}

type htmlLine struct {
	Number int
	Hits   string
	Class  string
	Text   string
}

type htmlData struct {
	Title     string
	Timestamp string
	Index     string
	Totals    []htmlMetric
	Files     []htmlFile
	Lines     []htmlLine
	Missing   bool
}

// htmlWriter writes index.html plus one annotated page per source file.
type htmlWriter struct {
	base
	now func() time.Time
}

func newHTMLWriter(opts application.WriterOptions) application.ReportWriter {
	return &htmlWriter{base: base{opts}, now: time.Now}
}

func (h *htmlWriter) WriteReport(c *domain.Collector, _ bool) error {
	rows, total := h.rows(c)
	stamp := h.now().Format("2006-01-02 15:04:05")

	index := htmlData{Timestamp: stamp, Totals: h.metrics(total)}
	for _, r := range rows {
		page := pageName(r.Name)
		index.Files = append(index.Files, htmlFile{Name: r.Name, Link: page, Metrics: h.metrics(r.Summary)})

		data := htmlData{
			Title:     r.Name,
			Timestamp: stamp,
			Index:     strings.Repeat("../", strings.Count(page, "/")) + "index.html",
			Totals:    h.metrics(r.Summary),
		}
		data.Lines, data.Missing = h.annotate(r)

		sub := h.base
		sub.opts.File = page
		if err := sub.writeFile("", func(w io.Writer) error { return htmlTmpl.ExecuteTemplate(w, "file", data) }); err != nil {
			return fmt.Errorf("write %s: %w", page, err)
		}
	}

	idx := h.base
	if idx.opts.File == "" {
		idx.opts.File = "index.html"
	}
	return idx.writeFile("", func(w io.Writer) error { return htmlTmpl.ExecuteTemplate(w, "index", index) })
}

func (h *htmlWriter) metrics(s domain.Summary) []htmlMetric {
	out := make([]htmlMetric, 0, len(domain.Metrics))
	for _, m := range domain.Metrics {
		metric := s.Metric(m)
		out = append(out, htmlMetric{
			Name:   strings.ToUpper(string(m[:1])) + string(m[1:]),
			Metric: metric,
			Level:  h.opts.Watermarks.Classify(m, metric.Pct),
		})
	}
	return out
}

// annotate pairs each source line with its hit count. The source comes from
// the source store under the coverage key.
func (h *htmlWriter) annotate(r fileRow) ([]htmlLine, bool) {
	store := h.opts.SourceStore
	if store == nil || !store.HasKey(r.Key) {
		return nil, true
	}
	counts := r.Record.LineCounts()
	text := strings.TrimSuffix(store.Get(r.Key), "\n")
	src := strings.Split(text, "\n")
	lines := make([]htmlLine, len(src))
	for i, s := range src {
		n := i + 1
		line := htmlLine{Number: n, Text: strings.TrimSuffix(s, "\r"), Class: "neutral"}
		if count, ok := counts[n]; ok {
			line.Hits = fmt.Sprintf("%dx", count)
			line.Class = "covered"
			if count == 0 {
				line.Class = "uncovered"
			}
		}
		lines[i] = line
	}
	return lines, false
}

// pageName maps a display name to a page path inside the report dir.
func pageName(name string) string {
	clean := path.Clean("/" + strings.ReplaceAll(name, "..", "__"))
	return strings.TrimPrefix(clean, "/") + ".html"
}
