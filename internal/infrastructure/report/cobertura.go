package report

import (
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/nmalaguti/karma-coverage/internal/application"
	"github.com/nmalaguti/karma-coverage/internal/domain"
)

const coberturaDoctype = `<!DOCTYPE coverage SYSTEM "http://cobertura.sourceforge.net/xml/coverage-04.dtd">` + "\n"

type coberturaReport struct {
	XMLName         xml.Name           `xml:"coverage"`
	LineRate        float64            `xml:"line-rate,attr"`
	BranchRate      float64            `xml:"branch-rate,attr"`
	LinesCovered    int                `xml:"lines-covered,attr"`
	LinesValid      int                `xml:"lines-valid,attr"`
	BranchesCovered int                `xml:"branches-covered,attr"`
	BranchesValid   int                `xml:"branches-valid,attr"`
	Timestamp       int64              `xml:"timestamp,attr"`
	Version         string             `xml:"version,attr"`
	Sources         []string           `xml:"sources>source"`
	Packages        []coberturaPackage `xml:"packages>package"`
}

type coberturaPackage struct {
	Name       string           `xml:"name,attr"`
	LineRate   float64          `xml:"line-rate,attr"`
	BranchRate float64          `xml:"branch-rate,attr"`
	Classes    []coberturaClass `xml:"classes>class"`
}

type coberturaClass struct {
	Name       string            `xml:"name,attr"`
	Filename   string            `xml:"filename,attr"`
	LineRate   float64           `xml:"line-rate,attr"`
	BranchRate float64           `xml:"branch-rate,attr"`
	Methods    []coberturaMethod `xml:"methods>method"`
	Lines      []coberturaLine   `xml:"lines>line"`
}

type coberturaMethod struct {
	Name      string          `xml:"name,attr"`
	Hits      int             `xml:"hits,attr"`
	Signature string          `xml:"signature,attr"`
	Lines     []coberturaLine `xml:"lines>line"`
}

type coberturaLine struct {
	Number            int    `xml:"number,attr"`
	Hits              int    `xml:"hits,attr"`
	Branch            bool   `xml:"branch,attr"`
	ConditionCoverage string `xml:"condition-coverage,attr,omitempty"`
}

// coberturaWriter writes cobertura-coverage.xml with one package per
// directory and one class per file.
type coberturaWriter struct {
	base
	now func() time.Time
}

func newCoberturaWriter(opts application.WriterOptions) application.ReportWriter {
	return &coberturaWriter{base: base{opts}, now: time.Now}
}

func (cw *coberturaWriter) WriteReport(c *domain.Collector, _ bool) error {
	report := cw.build(c)
	return cw.writeFile("cobertura-coverage.xml", func(w io.Writer) error {
		if _, err := io.WriteString(w, xml.Header+coberturaDoctype); err != nil {
			return err
		}
		enc := xml.NewEncoder(w)
		enc.Indent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encode cobertura: %w", err)
		}
		_, err := io.WriteString(w, "\n")
		return err
	})
}

func (cw *coberturaWriter) build(c *domain.Collector) coberturaReport {
	rows, total := cw.rows(c)
	source := cw.opts.BasePath
	if source == "" {
		source = "."
	}
	report := coberturaReport{
		LineRate:        rate(total.Lines),
		BranchRate:      rate(total.Branches),
		LinesCovered:    total.Lines.Covered,
		LinesValid:      total.Lines.Total,
		BranchesCovered: total.Branches.Covered,
		BranchesValid:   total.Branches.Total,
		Timestamp:       cw.now().UnixMilli(),
		Version:         "0.1",
		Sources:         []string{source},
	}

	byDir := map[string]*coberturaPackage{}
	sums := map[string]domain.Summary{}
	var dirs []string
	for _, r := range rows {
		dir := path.Dir(r.Name)
		pkg, ok := byDir[dir]
		if !ok {
			name := strings.ReplaceAll(dir, "/", ".")
			if dir == "." {
				name = "main"
			}
			pkg = &coberturaPackage{Name: name}
			byDir[dir] = pkg
			sums[dir] = domain.EmptySummary()
			dirs = append(dirs, dir)
		}
		sums[dir] = sums[dir].Add(r.Summary)
		pkg.Classes = append(pkg.Classes, coberturaClassFor(r))
	}
	sort.Strings(dirs)
	for _, dir := range dirs {
		pkg := byDir[dir]
		pkg.LineRate = rate(sums[dir].Lines)
		pkg.BranchRate = rate(sums[dir].Branches)
		report.Packages = append(report.Packages, *pkg)
	}
	return report
}

func coberturaClassFor(r fileRow) coberturaClass {
	fc := r.Record
	class := coberturaClass{
		Name:       path.Base(r.Name),
		Filename:   r.Name,
		LineRate:   rate(r.Summary.Lines),
		BranchRate: rate(r.Summary.Branches),
		Methods:    []coberturaMethod{},
	}

	for _, id := range domain.SortedIDs(fc.FnMap) {
		fn := fc.FnMap[id]
		if fn.Skip {
			continue
		}
		class.Methods = append(class.Methods, coberturaMethod{
			Name:      fn.Name,
			Hits:      fc.F[id],
			Signature: "()V",
			Lines:     []coberturaLine{{Number: fn.Line, Hits: fc.F[id]}},
		})
	}

	// Branch arms are attributed to the line of their branch point.
	type armCount struct{ covered, total int }
	arms := map[int]armCount{}
	for id, br := range fc.BranchMap {
		hits := fc.B[id]
		a := arms[br.Line]
		for i, loc := range br.Locations {
			if loc.Skip {
				continue
			}
			a.total++
			if i < len(hits) && hits[i] > 0 {
				a.covered++
			}
		}
		arms[br.Line] = a
	}

	counts := fc.LineCounts()
	lines := make([]int, 0, len(counts))
	for line := range counts {
		lines = append(lines, line)
	}
	sort.Ints(lines)
	for _, n := range lines {
		line := coberturaLine{Number: n, Hits: counts[n]}
		if a, ok := arms[n]; ok && a.total > 0 {
			line.Branch = true
			line.ConditionCoverage = fmt.Sprintf("%.0f%% (%d/%d)", float64(a.covered)*100/float64(a.total), a.covered, a.total)
		}
		class.Lines = append(class.Lines, line)
	}
	return class
}

// rate is the 0..1 ratio cobertura expects, 1 when nothing is measured.
func rate(m domain.Metric) float64 {
	return m.Pct / 100
}
