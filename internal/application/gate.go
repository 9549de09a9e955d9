package application

import "sync"

// pendingGate counts outstanding operations. When the count returns to zero
// the settle hook runs, followed by any one-shot waiters.
type pendingGate struct {
	mu      sync.Mutex
	n       int
	settle  func()
	waiters []func()
}

func newPendingGate(settle func()) *pendingGate {
	return &pendingGate{settle: settle}
}

func (g *pendingGate) Add() {
	g.mu.Lock()
	g.n++
	g.mu.Unlock()
}

func (g *pendingGate) Done() {
	g.mu.Lock()
	g.n--
	if g.n > 0 {
		g.mu.Unlock()
		return
	}
	g.n = 0
	waiters := g.waiters
	g.waiters = nil
	g.mu.Unlock()

	if g.settle != nil {
		g.settle()
	}
	for _, w := range waiters {
		w()
	}
}

func (g *pendingGate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// WhenIdle calls fn now if nothing is pending, otherwise on the next settle.
func (g *pendingGate) WhenIdle(fn func()) {
	g.mu.Lock()
	if g.n > 0 {
		g.waiters = append(g.waiters, fn)
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()
	fn()
}

// writeQueue runs jobs one at a time, in submission order, off the caller's
// goroutine. push never blocks on a running job.
type writeQueue struct {
	mu      sync.Mutex
	jobs    []func()
	running bool
}

func (q *writeQueue) push(job func()) {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()
	go q.drain()
}

func (q *writeQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.jobs) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()
		job()
	}
}
