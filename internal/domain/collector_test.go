package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorAddRepeatedlySumsCounts(t *testing.T) {
	record := fileWithEverything("src/a.js", 3)
	obj := CoverageObject{"src/a.js": record}

	for _, n := range []int{1, 2, 5} {
		c := NewCollector()
		for i := 0; i < n; i++ {
			require.NoError(t, c.Add(obj))
		}
		got := c.File("src/a.js")
		require.NotNil(t, got)
		for id, v := range record.S {
			assert.Equal(t, n*v, got.S[id], "statement %s after %d merges", id, n)
		}
		for id, v := range record.F {
			assert.Equal(t, n*v, got.F[id])
		}
		for id, v := range record.B {
			for i := range v {
				assert.Equal(t, n*v[i], got.B[id][i])
			}
		}
	}
}

func TestCollectorAddDoesNotAliasInput(t *testing.T) {
	record := fileWithStatements("a.js", 1)
	c := NewCollector()
	require.NoError(t, c.Add(CoverageObject{"a.js": record}))

	record.S["1"] = 99
	assert.Equal(t, 1, c.File("a.js").S["1"])

	final := c.FinalCoverage()
	final["a.js"].S["1"] = 42
	assert.Equal(t, 1, c.File("a.js").S["1"])
}

func TestCollectorAddKeepsDistinctFiles(t *testing.T) {
	c := NewCollector()
	require.NoError(t, c.Add(CoverageObject{"b.js": fileWithStatements("b.js", 1)}))
	require.NoError(t, c.Add(CoverageObject{"a.js": fileWithStatements("a.js", 0)}))
	assert.Equal(t, []string{"a.js", "b.js"}, c.Files())
}

func TestCollectorRejectsStructureMismatch(t *testing.T) {
	c := NewCollector()
	require.NoError(t, c.Add(CoverageObject{"a.js": fileWithStatements("a.js", 1, 1)}))

	changed := fileWithStatements("a.js", 1)
	err := c.Add(CoverageObject{"a.js": changed})
	require.Error(t, err)

	var mergeErr *MergeError
	require.True(t, errors.As(err, &mergeErr))
	assert.Equal(t, "a.js", mergeErr.Path)
	assert.True(t, errors.Is(err, ErrStructureMismatch))

	// Collector is left unchanged.
	assert.Equal(t, 1, c.File("a.js").S["1"])
	assert.Len(t, c.File("a.js").S, 2)
}

func TestCollectorRejectsInvalidRecord(t *testing.T) {
	bad := NewFileCoverage("a.js")
	bad.S["7"] = 1
	err := NewCollector().Add(CoverageObject{"a.js": bad})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidCoverage))
}

func TestCollectorDispose(t *testing.T) {
	c := NewCollector()
	require.NoError(t, c.Add(CoverageObject{"a.js": fileWithStatements("a.js", 1)}))
	c.Dispose()
	assert.Empty(t, c.Files())
	assert.Nil(t, c.File("a.js"))
}
