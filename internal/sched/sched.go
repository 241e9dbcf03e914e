// Package sched provides cancellable periodic tasks. Every polling loop in
// the bot (health probe, reconciliation passes, idempotency sweep) runs as a
// Task so that shutdown stops the timer and waits for any in-flight
// iteration instead of abandoning it.
package sched

import (
	"context"
	"sync"
	"time"
)

type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Every runs fn on a fixed period until the task is stopped. The first run
// happens after one period, not immediately. fn receives a context that is
// cancelled when Stop is called; an in-flight iteration is allowed to finish,
// it is never forcibly aborted beyond that context.
func Every(ctx context.Context, period time.Duration, fn func(ctx context.Context)) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
	return t
}

// Stop cancels the task and blocks until the loop has exited, including any
// iteration that was running when Stop was called.
func (t *Task) Stop() {
	t.once.Do(func() {
		t.cancel()
		<-t.done
	})
}
