// Package pool provides bounded-concurrency execution of independent tasks.
//
// Both entry points guarantee settlement: every submitted task produces
// exactly one outcome, whether it succeeds, fails, or panics. A failing
// task never aborts its siblings.
package pool

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Task is one unit of work producing a value or an error.
type Task[T any] func(ctx context.Context) (T, error)

// Result is the outcome of one task, keyed to its submission index.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Run executes tasks with at most limit running concurrently. A finishing
// task frees its slot immediately, so the pool tops up continuously instead
// of running in waves. Results are keyed to submission index regardless of
// completion order. A limit of len(tasks) or more starts everything at once;
// limits below 1 are treated as 1.
//
// Cancelling ctx stops queued tasks from starting; each unstarted task
// settles with the cancellation error as its Result.
func Run[T any](ctx context.Context, limit int, tasks []Task[T]) []Result[T] {
	if limit < 1 {
		limit = 1
	}
	results := make([]Result[T], len(tasks))
	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup

	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task Task[T]) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = Result[T]{Index: i, Err: fmt.Errorf("pool: task %d: %w", i, err)}
				return
			}
			defer sem.Release(1)
			results[i] = runOne(ctx, i, task)
		}(i, task)
	}

	wg.Wait()
	return results
}

// runOne executes a single task, converting a panic into that task's error.
func runOne[T any](ctx context.Context, i int, task Task[T]) (res Result[T]) {
	res.Index = i
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("pool: task %d panicked: %v", i, r)
		}
	}()
	res.Value, res.Err = task(ctx)
	return res
}

// Pool runs dynamically submitted functions under a shared concurrency cap.
// It serves callers that cannot enumerate their work up front, such as a
// collector receiving issues while the run is live. Slot waiters are served
// in FIFO order.
type Pool struct {
	ctx context.Context
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// New creates a Pool bound to ctx with at most limit functions running
// concurrently. Limits below 1 are treated as 1.
func New(ctx context.Context, limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{
		ctx: ctx,
		sem: semaphore.NewWeighted(int64(limit)),
	}
}

// Go schedules fn to run once a slot frees. fn always runs exactly once:
// when the pool context is cancelled while fn is queued, fn runs immediately
// with the cancelled context instead of waiting for a slot, so callers that
// must settle per-item state still get their turn. fn is responsible for
// checking its context before doing expensive work, and must not panic.
func (p *Pool) Go(fn func(ctx context.Context)) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(p.ctx, 1); err == nil {
			defer p.sem.Release(1)
		}
		fn(p.ctx)
	}()
}

// Wait blocks until every function submitted so far has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
