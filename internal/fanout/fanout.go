// Package fanout runs independent provider calls concurrently and reports
// one tagged outcome per call. A failing or slow call never aborts the rest.
package fanout

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

type Task[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

type Outcome[T any] struct {
	Name    string
	Value   T
	Err     error
	Elapsed time.Duration
}

func (o Outcome[T]) OK() bool { return o.Err == nil }

// Gather runs every task concurrently, each under its own timeout when
// timeout > 0, and returns outcomes in task order. Panics inside a task are
// recovered into that task's error.
func Gather[T any](ctx context.Context, timeout time.Duration, tasks ...Task[T]) []Outcome[T] {
	out := make([]Outcome[T], len(tasks))
	var g errgroup.Group
	for i, task := range tasks {
		g.Go(func() error {
			out[i] = run(ctx, timeout, task)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func run[T any](parent context.Context, timeout time.Duration, task Task[T]) (o Outcome[T]) {
	o.Name = task.Name
	ctx := parent
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, timeout)
		defer cancel()
	}
	start := time.Now()
	defer func() { o.Elapsed = time.Since(start) }()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := task.Run(ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		o.Value, o.Err = r.v, r.err
	case <-ctx.Done():
		o.Err = ctx.Err()
	}
	return o
}
