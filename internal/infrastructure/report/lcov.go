package report

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/nmalaguti/karma-coverage/internal/application"
	"github.com/nmalaguti/karma-coverage/internal/domain"
)

// lcovWriter writes lcov.info. With html set it also writes the html report
// under lcov-report/.
type lcovWriter struct {
	base
	html bool
}

func newLcovOnlyWriter(opts application.WriterOptions) application.ReportWriter {
	return &lcovWriter{base: base{opts}}
}

func newLcovWriter(opts application.WriterOptions) application.ReportWriter {
	return &lcovWriter{base: base{opts}, html: true}
}

func (l *lcovWriter) WriteReport(c *domain.Collector, sync bool) error {
	if err := l.writeFile("lcov.info", func(w io.Writer) error { return l.render(w, c) }); err != nil {
		return err
	}
	if !l.html {
		return nil
	}
	opts := l.opts
	opts.Dir = filepath.Join(opts.Dir, "lcov-report")
	opts.File = ""
	return newHTMLWriter(opts).WriteReport(c, sync)
}

func (l *lcovWriter) render(out io.Writer, c *domain.Collector) error {
	w := bufio.NewWriter(out)
	rows, _ := l.rows(c)
	for _, r := range rows {
		fc := r.Record
		fmt.Fprintln(w, "TN:")
		fmt.Fprintf(w, "SF:%s\n", l.absPath(r.Key))

		fnIDs := domain.SortedIDs(fc.FnMap)
		for _, id := range fnIDs {
			fn := fc.FnMap[id]
			fmt.Fprintf(w, "FN:%d,%s\n", fn.Line, fn.Name)
		}
		for _, id := range fnIDs {
			fn := fc.FnMap[id]
			fmt.Fprintf(w, "FNDA:%d,%s\n", fc.F[id], fn.Name)
		}
		fmt.Fprintf(w, "FNF:%d\nFNH:%d\n", r.Summary.Functions.Total, r.Summary.Functions.Covered)

		counts := fc.LineCounts()
		lines := make([]int, 0, len(counts))
		for line := range counts {
			lines = append(lines, line)
		}
		sort.Ints(lines)
		for _, line := range lines {
			fmt.Fprintf(w, "DA:%d,%d\n", line, counts[line])
		}
		fmt.Fprintf(w, "LF:%d\nLH:%d\n", r.Summary.Lines.Total, r.Summary.Lines.Covered)

		for block, id := range domain.SortedIDs(fc.BranchMap) {
			br := fc.BranchMap[id]
			hits := fc.B[id]
			taken := 0
			for _, n := range hits {
				taken += n
			}
			for i := range br.Locations {
				count := "-"
				if taken > 0 && i < len(hits) {
					count = fmt.Sprint(hits[i])
				}
				fmt.Fprintf(w, "BRDA:%d,%d,%d,%s\n", br.Line, block, i, count)
			}
		}
		fmt.Fprintf(w, "BRF:%d\nBRH:%d\n", r.Summary.Branches.Total, r.Summary.Branches.Covered)
		fmt.Fprintln(w, "end_of_record")
	}
	return w.Flush()
}
