package domain

import "sync"

// SourceCache maps logical module paths to their original, pre-instrumentation
// source text. Report writers read it to annotate sources.
type SourceCache struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewSourceCache creates an empty cache.
func NewSourceCache() *SourceCache {
	return &SourceCache{entries: map[string]string{}}
}

// Set records the original source of key.
func (c *SourceCache) Set(key, content string) {
	c.mu.Lock()
	c.entries[key] = content
	c.mu.Unlock()
}

// Get returns the cached source of key, or "" when absent.
func (c *SourceCache) Get(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[key]
}

// HasKey reports whether key was cached.
func (c *SourceCache) HasKey(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[key]
	return ok
}

// Len returns the number of cached sources.
func (c *SourceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// CoverageMap holds zero-count records of every instrumented file so files
// no target executed still show up in reports.
type CoverageMap struct {
	mu    sync.RWMutex
	files CoverageObject
}

// NewCoverageMap creates an empty coverage map.
func NewCoverageMap() *CoverageMap {
	return &CoverageMap{files: CoverageObject{}}
}

// Add stores fc under its own path, replacing any previous record.
func (m *CoverageMap) Add(fc *FileCoverage) {
	if fc == nil {
		return
	}
	m.mu.Lock()
	m.files[fc.Path] = fc.Clone()
	m.mu.Unlock()
}

// Get returns a copy of every stored record.
func (m *CoverageMap) Get() CoverageObject {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.files.Clone()
}

// Reset drops every stored record.
func (m *CoverageMap) Reset() {
	m.mu.Lock()
	m.files = CoverageObject{}
	m.mu.Unlock()
}
