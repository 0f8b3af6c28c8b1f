package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrStopped is returned by Do after Stop.
var ErrStopped = errors.New("worker pool stopped")

// job represents a unit of work to be executed on a pool goroutine.
type job struct {
	ctx  context.Context
	fn   func(context.Context) (any, error)
	done chan jobResult
}

// jobResult holds the return value from a job.
type jobResult struct {
	value any
	err   error
}

// WorkerPool runs jobs on a fixed number of goroutines. Jobs share no
// state; each request is an independent pipeline invocation.
type WorkerPool struct {
	jobs chan job
	quit chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewWorkerPool creates a pool of n workers and starts them.
func NewWorkerPool(n int) *WorkerPool {
	if n < 1 {
		n = 1
	}
	p := &WorkerPool{
		jobs: make(chan job, n*4),
		quit: make(chan struct{}),
	}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.loop()
	}
	return p
}

// loop processes jobs until the pool is stopped.
func (p *WorkerPool) loop() {
	defer p.wg.Done()
	for {
		select {
		case j := <-p.jobs:
			j.done <- p.execute(j)
		case <-p.quit:
			return
		}
	}
}

// execute runs a job, recovering from panics.
func (p *WorkerPool) execute(j job) (result jobResult) {
	if err := j.ctx.Err(); err != nil {
		return jobResult{err: err}
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("worker panic: %v", r)
			result = jobResult{err: fmt.Errorf("panic: %v", r)}
		}
	}()
	v, err := j.fn(j.ctx)
	return jobResult{value: v, err: err}
}

// Do submits fn and blocks until it completes or ctx is done.
func (p *WorkerPool) Do(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	select {
	case <-p.quit:
		return nil, ErrStopped
	default:
	}

	j := job{ctx: ctx, fn: fn, done: make(chan jobResult, 1)}
	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.quit:
		return nil, ErrStopped
	}
	select {
	case r := <-j.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.quit:
		// a job already picked up still delivers its result
		select {
		case r := <-j.done:
			return r.value, r.err
		default:
			return nil, ErrStopped
		}
	}
}

// Stop shuts down the workers and waits for running jobs to finish.
func (p *WorkerPool) Stop() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}
