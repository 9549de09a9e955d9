package domain

import (
	"fmt"
	"sync"
)

// MergeError reports two records for the same path whose structural maps differ.
type MergeError struct {
	Path string
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("cannot merge coverage for %s: statement, branch or function maps differ", e.Path)
}

func (e *MergeError) Unwrap() error {
	return ErrStructureMismatch
}

// Collector accumulates coverage objects for one target run by summing
// hit counters of records that share a path.
type Collector struct {
	mu    sync.RWMutex
	store CoverageObject
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{store: CoverageObject{}}
}

// Add merges obj into the collector. Records are validated and copied;
// a path whose maps differ from the stored record yields a *MergeError
// and leaves the collector unchanged.
func (c *Collector) Add(obj CoverageObject) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, fc := range obj {
		if err := fc.Validate(); err != nil {
			return fmt.Errorf("add %s: %w", key, err)
		}
		if existing, ok := c.store[key]; ok && !existing.SameStructure(fc) {
			return &MergeError{Path: key}
		}
	}
	for key, fc := range obj {
		if existing, ok := c.store[key]; ok {
			existing.merge(fc)
			continue
		}
		c.store[key] = fc.Clone()
	}
	return nil
}

// FinalCoverage returns a copy of the merged coverage object.
func (c *Collector) FinalCoverage() CoverageObject {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Clone()
}

// Files returns the collected paths in lexical order.
func (c *Collector) Files() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Paths()
}

// File returns a copy of the record for path, or nil.
func (c *Collector) File(path string) *FileCoverage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store[path].Clone()
}

// Dispose releases the collected records.
func (c *Collector) Dispose() {
	c.mu.Lock()
	c.store = CoverageObject{}
	c.mu.Unlock()
}
