// Package workerpool provides a bounded goroutine pool with backpressure.
//
// The asset manager uses it to build JS and CSS bundles for every manifest
// target in parallel without spawning one goroutine per file:
//
//	pool := workerpool.New(runtime.NumCPU())
//	defer pool.Shutdown()
//
//	err := pool.Do(ctx, buildJS, buildCSS)
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPoolClosed is returned by SubmitWait after Shutdown has been called.
var ErrPoolClosed = errors.New("workerpool: pool is closed")

// Pool is a bounded goroutine pool.
type Pool struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New creates a Pool with the given number of workers.
// size must be > 0.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}

	p := &Pool{
		// Buffer equal to 2× the worker count so bursts can be absorbed.
		tasks: make(chan func(), size*2),
	}

	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

// SubmitWait enqueues task, blocking until a slot is available, ctx is
// done, or the pool is closed.
func (p *Pool) SubmitWait(ctx context.Context, task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs every task on the pool and waits for all of them. A panicking
// task is reported as an error. The returned error joins every task error.
// Tasks not yet queued when ctx is cancelled are skipped.
func (p *Pool) Do(ctx context.Context, tasks ...func(context.Context) error) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	for _, task := range tasks {
		task := task
		wg.Add(1)
		err := p.SubmitWait(ctx, func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					record(fmt.Errorf("workerpool: task panicked: %v", r))
				}
			}()
			if err := task(ctx); err != nil {
				record(err)
			}
		})
		if err != nil {
			wg.Done()
			record(err)
			break
		}
	}

	wg.Wait()
	return errors.Join(errs...)
}

// Shutdown stops accepting new tasks, waits for all in-flight tasks to
// complete, and releases all worker goroutines.
// It is safe to call multiple times.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}

// worker drains the task channel until it is closed.
func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		safeRun(task)
	}
}

// safeRun executes task, recovering from panics so a bad task doesn't kill
// the worker goroutine.
func safeRun(task func()) {
	defer func() { recover() }() //nolint:errcheck
	task()
}
