package domain

import "strconv"

// fileWithStatements builds a record with one statement per line and the
// given hit counts.
func fileWithStatements(path string, hits ...int) *FileCoverage {
	fc := NewFileCoverage(path)
	for i, h := range hits {
		id := strconv.Itoa(i + 1)
		fc.StatementMap[id] = Range{
			Start: Position{Line: i + 1, Column: 0},
			End:   Position{Line: i + 1, Column: 10},
		}
		fc.S[id] = h
	}
	return fc
}

// fileWithEverything builds a record with two statements, one function and
// one two-armed branch, all at the given hit count.
func fileWithEverything(path string, hits int) *FileCoverage {
	fc := fileWithStatements(path, hits, hits)
	fc.FnMap["1"] = FunctionMapping{Name: "main", Line: 1, Loc: Range{Start: Position{Line: 1}, End: Position{Line: 2}}}
	fc.F["1"] = hits
	fc.BranchMap["1"] = BranchMapping{
		Line: 2,
		Type: "if",
		Locations: []Range{
			{Start: Position{Line: 2}, End: Position{Line: 2, Column: 5}},
			{Start: Position{Line: 2, Column: 6}, End: Position{Line: 2, Column: 9}},
		},
	}
	fc.B["1"] = []int{hits, hits}
	return fc
}

func ptr(v float64) *float64 {
	return &v
}

// statementsFile builds a file with total statements of which covered were hit.
func statementsFile(path string, total, covered int) *FileCoverage {
	hits := make([]int, total)
	for i := 0; i < covered; i++ {
		hits[i] = 1
	}
	return fileWithStatements(path, hits...)
}
