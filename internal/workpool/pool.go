// Package workpool runs blocking work on a fixed set of goroutines fed by a
// bounded queue. When the queue is full the submitting goroutine runs the
// task itself.
package workpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Task represents a unit of work.
type Task func(ctx context.Context) error

// Config configures the pool.
type Config struct {
	Workers   int
	QueueSize int
	// OnCallerRuns is invoked each time a task falls back to the caller.
	OnCallerRuns func()
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Submitted  int64
	CallerRuns int64
	Completed  int64
	Failed     int64
}

type queued struct {
	ctx    context.Context
	task   Task
	result chan error
}

// Pool manages the worker goroutines.
type Pool struct {
	queue        chan queued
	mu           sync.RWMutex
	closed       bool
	wg           sync.WaitGroup
	onCallerRuns func()

	submitted  atomic.Int64
	callerRuns atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
}

// New starts cfg.Workers goroutines.
func New(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		queue:        make(chan queued, queueSize),
		onCallerRuns: cfg.OnCallerRuns,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Do runs task on a worker and waits for its result. If the queue is full or
// the pool is closed the task runs on the calling goroutine instead.
func (p *Pool) Do(ctx context.Context, task Task) error {
	p.submitted.Add(1)
	item := queued{ctx: ctx, task: task, result: make(chan error, 1)}

	if !p.enqueue(item) {
		p.callerRuns.Add(1)
		if p.onCallerRuns != nil {
			p.onCallerRuns()
		}
		return p.run(ctx, task)
	}

	select {
	case err := <-item.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) enqueue(item queued) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- item:
		return true
	default:
		return false
	}
}

// Close stops accepting work and waits for queued tasks to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted:  p.submitted.Load(),
		CallerRuns: p.callerRuns.Load(),
		Completed:  p.completed.Load(),
		Failed:     p.failed.Load(),
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for item := range p.queue {
		item.result <- p.run(item.ctx, item.task)
	}
}

func (p *Pool) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workpool: task panicked: %v", r)
		}
		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
	}()
	return task(ctx)
}
