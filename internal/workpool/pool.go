// Package workpool runs blocking collaborator calls (transcription,
// completion, synthesis, disk writes) on a fixed set of workers so session
// goroutines never execute them inline.
package workpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hubenschmidt/voice-agent/gateway/internal/metrics"
)

// ErrClosed is returned for submissions after Close.
var ErrClosed = errors.New("worker pool is closed")

// Stats reports pool counters.
type Stats struct {
	Submitted int64
	Completed int64
	Abandoned int64
	InFlight  int64
	Queued    int
}

type job struct {
	ctx      context.Context
	fn       func(context.Context) error
	done     chan error
	enqueued time.Time
}

// Pool is a bounded FIFO worker pool. Jobs are started in submission order;
// completion order depends on the work.
type Pool struct {
	jobs      chan job
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	abandoned atomic.Int64
	inFlight  atomic.Int64
}

// New starts workers goroutines with a queue of queueSize pending jobs.
func New(workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		jobs:    make(chan job, queueSize),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	go func() {
		p.wg.Wait()
		close(p.stopped)
	}()
	return p
}

// Do runs fn on a worker and waits for it. If ctx ends first Do returns
// ctx.Err(); a job that already started keeps running and its result is
// dropped. fn receives ctx and should honor it.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1), enqueued: time.Now()}

	select {
	case <-p.quit:
		return ErrClosed
	default:
	}

	select {
	case p.jobs <- j:
		p.submitted.Add(1)
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrClosed
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		p.abandoned.Add(1)
		return ctx.Err()
	case <-p.stopped:
		// Workers drain the queue before stopping; a job that slipped in
		// after the drain never runs.
		select {
		case err := <-j.done:
			return err
		default:
			return ErrClosed
		}
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case j := <-p.jobs:
			p.run(j)
		case <-p.quit:
			p.drain()
			return
		}
	}
}

func (p *Pool) drain() {
	for {
		select {
		case j := <-p.jobs:
			p.run(j)
		default:
			return
		}
	}
}

func (p *Pool) run(j job) {
	metrics.PoolWait.Observe(time.Since(j.enqueued).Seconds())
	if err := j.ctx.Err(); err != nil {
		j.done <- err
		return
	}

	p.inFlight.Add(1)
	metrics.PoolInFlight.Inc()
	defer func() {
		metrics.PoolInFlight.Dec()
		p.inFlight.Add(-1)
		p.completed.Add(1)
	}()

	j.done <- p.call(j)
}

// call converts a panicking job into an error so one bad collaborator
// cannot take a worker down.
func (p *Pool) call(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return j.fn(j.ctx)
}

// Close stops accepting work, finishes queued jobs and waits for workers.
func (p *Pool) Close(ctx context.Context) error {
	p.closeOnce.Do(func() { close(p.quit) })

	select {
	case <-p.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Abandoned: p.abandoned.Load(),
		InFlight:  p.inFlight.Load(),
		Queued:    len(p.jobs),
	}
}

// PanicError wraps a value recovered from a job.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return "worker job panicked"
}
