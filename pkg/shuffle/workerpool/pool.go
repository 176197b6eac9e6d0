// Package workerpool implements a bounded background worker pool: a
// fixed number of daemon workers used only for fetches, non-blocking
// submission, and an active-count gauge the fetcher polls to decide how
// many more tasks it may admit this cycle.
package workerpool

import (
	"sync/atomic"

	"github.com/shuffle-engine/shuffle-core/pkg/logging"
)

var log = logging.NewComponent("workerpool")

// Pool is a fixed-size pool of background goroutines. Workers are plain
// goroutines with daemon semantics: the pool never blocks process exit,
// and Close only stops accepting new work; it does not join in-flight
// tasks.
type Pool struct {
	tasks  chan func()
	active int64
	done   chan struct{}
}

// New starts a pool of maxConnections workers.
func New(maxConnections int) *Pool {
	p := &Pool{
		tasks: make(chan func(), 1024),
		done:  make(chan struct{}),
	}

	for i := 0; i < maxConnections; i++ {
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	for {
		select {
		case fn, ok := <-p.tasks:
			if !ok {
				return
			}
			atomic.AddInt64(&p.active, 1)
			func() {
				defer atomic.AddInt64(&p.active, -1)
				fn()
			}()
		case <-p.done:
			return
		}
	}
}

// Submit enqueues fn to run on a worker goroutine. Submission itself never
// blocks: if every worker is busy, fn queues until one frees up. After
// Close, fn is dropped.
func (p *Pool) Submit(fn func()) {
	select {
	case <-p.done:
		log.Warn("submit after pool close, dropping task")
		return
	default:
	}

	select {
	case p.tasks <- fn:
	default:
		// The queue buffer is full: hand fn off from its own goroutine so
		// the caller does not wait for a worker.
		go func() {
			select {
			case p.tasks <- fn:
			case <-p.done:
			}
		}()
	}
}

// ActiveCount returns the number of workers currently executing a task.
// The fetcher's admission loop polls this to compute how many more
// Shuffle Client Tasks it may submit this cycle.
func (p *Pool) ActiveCount() int {
	return int(atomic.LoadInt64(&p.active))
}

// Close stops accepting new work. Workers already running a task finish
// it; a task still queued when Close is called may or may not be started
// before the workers exit. Close does not block.
func (p *Pool) Close() {
	select {
	case <-p.done:
		// already closed
	default:
		close(p.done)
	}
}
