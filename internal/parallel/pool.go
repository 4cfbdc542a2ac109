// Package parallel runs compute threadgroups on a fixed set of goroutines.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// span is a contiguous run of threadgroups handed to one worker.
type span struct {
	start, end int
	fn         func(group int)
	wg         *sync.WaitGroup
}

// WorkerPool is a pool of goroutines that executes compute threadgroups.
//
// A dispatch is cut into spans of consecutive threadgroups. Spans go to a
// shared queue and any idle worker picks up the next one, so a slow span
// does not hold back the others.
//
// Thread safety: WorkerPool is safe for concurrent use. Concurrent
// dispatches share the workers; each Dispatch call waits only for its own
// spans.
type WorkerPool struct {
	// workers is the number of worker goroutines.
	workers int

	// queue carries spans from Dispatch to workers.
	queue chan span

	// done signals workers to stop.
	done chan struct{}

	// wg waits for all workers to exit.
	wg sync.WaitGroup

	// running indicates whether the pool is accepting work.
	running atomic.Bool

	// dispatched counts threadgroups executed since creation.
	dispatched atomic.Int64
}

// NewWorkerPool creates a new worker pool with the specified number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
// The pool starts immediately and workers begin waiting for work.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	p := &WorkerPool{
		workers: workers,
		queue:   make(chan span, workers*4),
		done:    make(chan struct{}),
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case s := <-p.queue:
			p.run(s)
		}
	}
}

func (p *WorkerPool) run(s span) {
	defer s.wg.Done()
	for g := s.start; g < s.end; g++ {
		s.fn(g)
	}
	p.dispatched.Add(int64(s.end - s.start))
}

// Dispatch calls fn(group) for every group in [0, groups) and blocks until
// all calls have returned. Calls for different groups may run concurrently
// and in any order.
//
// If the pool is closed the groups run on the calling goroutine, so a
// dispatch is never silently dropped.
func (p *WorkerPool) Dispatch(groups int, fn func(group int)) {
	if groups <= 0 || fn == nil {
		return
	}

	spans := p.workers * 4
	if spans > groups {
		spans = groups
	}
	per := (groups + spans - 1) / spans

	var wg sync.WaitGroup
	for start := 0; start < groups; start += per {
		s := span{start: start, end: min(start+per, groups), fn: fn, wg: &wg}
		wg.Add(1)
		if !p.running.Load() {
			p.run(s)
			continue
		}
		select {
		case p.queue <- s:
		case <-p.done:
			p.run(s)
		}
	}
	wg.Wait()
}

// Close stops the workers after the spans already queued have been taken.
// Close is safe to call multiple times but must not race with Dispatch.
func (p *WorkerPool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()

	// Spans queued after the last worker exited still have waiters.
	for {
		select {
		case s := <-p.queue:
			p.run(s)
		default:
			return
		}
	}
}

// Workers returns the number of workers in the pool.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// IsRunning returns true if the pool is still accepting work.
func (p *WorkerPool) IsRunning() bool {
	return p.running.Load()
}

// Dispatched returns the number of threadgroups executed so far.
func (p *WorkerPool) Dispatched() int64 {
	return p.dispatched.Load()
}
