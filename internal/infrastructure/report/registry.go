// Package report renders collected coverage in the supported report formats.
//
// Writers are created through a Registry by type name. Console variants
// print to WriterOptions.Console unless a file name is set; every other
// writer creates files under WriterOptions.Dir.
package report

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nmalaguti/karma-coverage/internal/application"
)

// Constructor builds a writer for one report definition.
type Constructor func(opts application.WriterOptions) application.ReportWriter

// Registry maps report type names to writer constructors.
type Registry struct {
	mu      sync.RWMutex
	writers map[string]Constructor
}

// NewRegistry creates a registry with every built-in report type.
func NewRegistry() *Registry {
	r := &Registry{writers: make(map[string]Constructor)}
	r.Register("html", newHTMLWriter)
	r.Register("text", newTextWriter)
	r.Register("text-summary", newTextSummaryWriter)
	r.Register("lcov", newLcovWriter)
	r.Register("lcovonly", newLcovOnlyWriter)
	r.Register("json", newJSONWriter)
	r.Register("json-summary", newJSONSummaryWriter)
	r.Register("cobertura", newCoberturaWriter)
	r.Register("badge", newBadgeWriter)
	return r
}

// Register adds or replaces a report type.
func (r *Registry) Register(kind string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writers[kind] = c
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.writers[kind]
	return ok
}

// Create builds a writer of the given kind.
func (r *Registry) Create(kind string, opts application.WriterOptions) (application.ReportWriter, error) {
	r.mu.RLock()
	c, ok := r.writers[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", application.ErrUnknownReporter, kind)
	}
	return c(opts), nil
}

// Kinds returns the registered type names in lexical order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.writers))
	for k := range r.writers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

var _ application.ReportFactory = (*Registry)(nil)
