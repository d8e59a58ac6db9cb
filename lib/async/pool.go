// Package async provides a bounded task pool with backpressure.
package async

import (
	"context"
	"fmt"
	"sync"

	"github.com/poolforge/stresslab/errs"
)

// Task is a unit of work executed by a pool worker.
type Task func(context.Context) error

// Pool runs submitted tasks on a fixed number of workers and rejects
// submissions once the queue is full.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	queue  chan task
	wg     sync.WaitGroup
	once   sync.Once
}

type task struct {
	ctx context.Context
	run Task
}

// NewPool creates a pool with the given worker count and queue depth.
func NewPool(workers, depth int) (*Pool, error) {
	if workers <= 0 {
		return nil, errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("workers must be >0"))
	}
	if depth < 0 {
		depth = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{ctx: ctx, cancel: cancel, queue: make(chan task, depth)}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p, nil
}

// Submit enqueues the task for execution. A saturated queue rejects the
// submission immediately rather than blocking the caller.
func (p *Pool) Submit(ctx context.Context, run Task) error {
	if run == nil {
		return errs.New("lib/async", errs.CodeInvalid, errs.WithMessage("task must not be nil"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p.wg.Add(1)
	select {
	case <-p.ctx.Done():
		p.wg.Done()
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool closed"))
	case <-ctx.Done():
		p.wg.Done()
		return fmt.Errorf("submit context: %w", ctx.Err())
	case p.queue <- task{ctx: ctx, run: run}:
		return nil
	default:
		p.wg.Done()
		return errs.New("lib/async", errs.CodeUnavailable, errs.WithMessage("pool at capacity"))
	}
}

// Close stops accepting new tasks and cancels the workers.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.cancel()
		close(p.queue)
	})
}

// Shutdown waits for in-flight tasks to finish or the context to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.Close()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("shutdown context: %w", ctx.Err())
	case <-done:
		return nil
	}
}

func (p *Pool) worker() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			ctx := t.ctx
			if ctx == nil {
				ctx = p.ctx
			}
			p.execute(ctx, t.run)
		}
	}
}

func (p *Pool) execute(ctx context.Context, run Task) {
	defer p.wg.Done()
	defer func() {
		// A panicking task must not take the worker down with it.
		_ = recover()
	}()
	_ = run(ctx)
}
