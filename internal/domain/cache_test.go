package domain

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSourceCache(t *testing.T) {
	c := NewSourceCache()
	assert.False(t, c.HasKey("./a.js"))
	assert.Equal(t, "", c.Get("./a.js"))

	c.Set("./a.js", "var a = 1;")
	assert.True(t, c.HasKey("./a.js"))
	assert.Equal(t, "var a = 1;", c.Get("./a.js"))
	assert.Equal(t, 1, c.Len())
}

func TestSourceCacheConcurrentWriters(t *testing.T) {
	c := NewSourceCache()
	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			c.Set(k, k)
		}(key)
	}
	wg.Wait()
	assert.Equal(t, 4, c.Len())
}

func TestCoverageMapReplacesByPath(t *testing.T) {
	m := NewCoverageMap()
	m.Add(fileWithStatements("./a.js", 0))
	m.Add(fileWithStatements("./a.js", 0, 0))
	m.Add(nil)

	got := m.Get()
	assert.Len(t, got, 1)
	assert.Len(t, got["./a.js"].S, 2)

	// Get hands out copies.
	got["./a.js"].S["1"] = 5
	assert.Equal(t, 0, m.Get()["./a.js"].S["1"])

	m.Reset()
	assert.Empty(t, m.Get())
}

func TestWatermarks(t *testing.T) {
	w := MergeWatermarks(&Watermarks{Branches: Watermark{30, 60}})
	assert.Equal(t, Watermark{50, 80}, w.Statements)
	assert.Equal(t, Watermark{30, 60}, w.Branches)

	assert.Equal(t, LevelLow, w.Classify(MetricStatements, 49.99))
	assert.Equal(t, LevelMedium, w.Classify(MetricStatements, 50))
	assert.Equal(t, LevelHigh, w.Classify(MetricStatements, 80))
	assert.Equal(t, LevelHigh, w.Classify(MetricBranches, 60))
	assert.Equal(t, DefaultWatermarks(), MergeWatermarks(nil))
}

func TestFileCoverageResetKeepsStructure(t *testing.T) {
	fc := fileWithEverything("a.js", 4)
	fc.Reset()
	assert.Equal(t, 0, fc.S["1"])
	assert.Equal(t, []int{0, 0}, fc.B["1"])
	assert.Len(t, fc.StatementMap, 2)
	assert.NoError(t, fc.Validate())
}
