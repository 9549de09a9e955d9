package application

import (
	"sync"

	"github.com/nmalaguti/karma-coverage/internal/domain"
)

// RunContext holds the state shared between the instrumentation stage and the
// coverage reporter of one process: a coverage map of every instrumented file
// and a source cache per base path.
type RunContext struct {
	mu          sync.Mutex
	sources     map[string]*domain.SourceCache
	coverageMap *domain.CoverageMap
}

// NewRunContext creates an empty context.
func NewRunContext() *RunContext {
	return &RunContext{
		sources:     map[string]*domain.SourceCache{},
		coverageMap: domain.NewCoverageMap(),
	}
}

// Sources returns the source cache of basePath, creating it on first use.
func (r *RunContext) Sources(basePath string) *domain.SourceCache {
	r.mu.Lock()
	defer r.mu.Unlock()
	cache, ok := r.sources[basePath]
	if !ok {
		cache = domain.NewSourceCache()
		r.sources[basePath] = cache
	}
	return cache
}

// CoverageMap returns the zero-count records of every instrumented file.
func (r *RunContext) CoverageMap() *domain.CoverageMap {
	return r.coverageMap
}
