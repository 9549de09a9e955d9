package coveragefile

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nmalaguti/karma-coverage/internal/domain"
)

// lcovBranchType marks branches rebuilt from BRDA lines, which carry no
// branch kind.
const lcovBranchType = "lcov"

// isLCOV checks if content appears to be LCOV tracefile data.
func isLCOV(content []byte) bool {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	var hasSF, hasDA bool
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "SF:") {
			hasSF = true
		}
		if strings.HasPrefix(line, "DA:") {
			hasDA = true
		}
		if hasSF && hasDA {
			return true
		}
	}
	return false
}

// lcovRecord accumulates one SF..end_of_record section.
type lcovRecord struct {
	fc       *domain.FileCoverage
	fnByName map[string]string
	branches map[string]string // "line,block" -> branch id
}

func newLCOVRecord(path string) *lcovRecord {
	return &lcovRecord{
		fc:       domain.NewFileCoverage(path),
		fnByName: map[string]string{},
		branches: map[string]string{},
	}
}

// parseLCOV rebuilds coverage records from a tracefile. Each DA line becomes
// a line-wide statement, each FN a function and each BRDA block a branch.
// Sections naming the same file are merged.
func parseLCOV(r io.Reader) (domain.CoverageObject, error) {
	collector := domain.NewCollector()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var rec *lcovRecord
	flush := func() error {
		if rec == nil {
			return nil
		}
		err := collector.Add(domain.CoverageObject{rec.fc.Path: rec.fc})
		rec = nil
		return err
	}

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "end_of_record" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		tag, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if tag == "SF" {
			if err := flush(); err != nil {
				return nil, err
			}
			rec = newLCOVRecord(value)
			continue
		}
		if rec == nil {
			// TN and other header lines outside a record.
			continue
		}
		if err := rec.apply(tag, value); err != nil {
			return nil, fmt.Errorf("lcov line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan lcov file: %w", err)
	}
	// Handle a file that does not end with end_of_record.
	if err := flush(); err != nil {
		return nil, err
	}
	return collector.FinalCoverage(), nil
}

func (r *lcovRecord) apply(tag, value string) error {
	fields := strings.Split(value, ",")
	switch tag {
	case "DA":
		// DA:line,count[,checksum]
		if len(fields) < 2 {
			return fmt.Errorf("malformed DA %q", value)
		}
		ln, err := strconv.Atoi(fields[0])
		if err != nil {
			return fmt.Errorf("DA line: %w", err)
		}
		id := strconv.Itoa(len(r.fc.StatementMap) + 1)
		r.fc.StatementMap[id] = domain.Range{Start: domain.Position{Line: ln}, End: domain.Position{Line: ln}}
		r.fc.S[id] = count(fields[1])

	case "FN":
		// FN:line,name or FN:line,endLine,name
		if len(fields) < 2 {
			return fmt.Errorf("malformed FN %q", value)
		}
		ln, err := strconv.Atoi(fields[0])
		if err != nil {
			return fmt.Errorf("FN line: %w", err)
		}
		end := ln
		name := strings.Join(fields[1:], ",")
		if len(fields) >= 3 {
			if e, err := strconv.Atoi(fields[1]); err == nil {
				end = e
				name = strings.Join(fields[2:], ",")
			}
		}
		if _, dup := r.fnByName[name]; dup {
			return nil
		}
		id := strconv.Itoa(len(r.fc.FnMap) + 1)
		r.fnByName[name] = id
		r.fc.FnMap[id] = domain.FunctionMapping{
			Name: name,
			Line: ln,
			Loc:  domain.Range{Start: domain.Position{Line: ln}, End: domain.Position{Line: end}},
		}
		r.fc.F[id] = 0

	case "FNDA":
		// FNDA:count,name
		hits, name, ok := strings.Cut(value, ",")
		if !ok {
			return fmt.Errorf("malformed FNDA %q", value)
		}
		if id, ok := r.fnByName[name]; ok {
			r.fc.F[id] += count(hits)
		}

	case "BRDA":
		// BRDA:line,block,branch,taken where taken is "-" when never evaluated
		if len(fields) < 4 {
			return fmt.Errorf("malformed BRDA %q", value)
		}
		ln, err := strconv.Atoi(fields[0])
		if err != nil {
			return fmt.Errorf("BRDA line: %w", err)
		}
		key := fields[0] + "," + fields[1]
		id, ok := r.branches[key]
		if !ok {
			id = strconv.Itoa(len(r.fc.BranchMap) + 1)
			r.branches[key] = id
			r.fc.BranchMap[id] = domain.BranchMapping{Line: ln, Type: lcovBranchType}
			r.fc.B[id] = nil
		}
		m := r.fc.BranchMap[id]
		m.Locations = append(m.Locations, domain.Range{Start: domain.Position{Line: ln}, End: domain.Position{Line: ln}})
		r.fc.BranchMap[id] = m
		r.fc.B[id] = append(r.fc.B[id], count(fields[3]))
	}
	// LF, LH, FNF, FNH, BRF and BRH are totals derived from the lines above.
	return nil
}

// count parses an execution count. "-" and malformed values read as 0.
func count(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
