// Package shutdown implements the Shutdown Fabric (C9): a single
// cancellation token fanning out to all long-lived tasks, a task
// tracker, and a completion wrapper that logs result/panic/cancel and
// always cancels the shared token on exit (§4.9). Grounded on the
// teacher's BaseListener goroutine-wrapping-with-recover pattern.
package shutdown

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Fabric owns the shared cancellation token and tracks every spawned
// long-lived task so the main thread can await orderly shutdown.
type Fabric struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	wg     sync.WaitGroup
	log    *slog.Logger
}

// New creates a Fabric derived from parent.
func New(parent context.Context, log *slog.Logger) *Fabric {
	ctx, cancel := context.WithCancelCause(parent)
	return &Fabric{ctx: ctx, cancel: cancel, log: log}
}

// Context returns the fabric's cancellation context. Every long-lived
// task must honor ctx.Done() at its await points (§5's cooperative
// cancellation model).
func (f *Fabric) Context() context.Context { return f.ctx }

// Cancel cancels the shared token with the given cause. Safe to call
// multiple times and from multiple goroutines.
func (f *Fabric) Cancel(cause error) { f.cancel(cause) }

// Err returns the cancellation cause, or nil if not yet cancelled.
func (f *Fabric) Err() error { return context.Cause(f.ctx) }

// Go spawns fn as a tracked task, wrapped in the completion handler: it
// recovers from panics, logs the outcome, and always cancels the shared
// token on exit so any single task's termination triggers orderly
// shutdown of the rest (§4.9).
func (f *Fabric) Go(name string, fn func(ctx context.Context) error) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				err := fmt.Errorf("task %s panicked: %v", name, p)
				if f.log != nil {
					f.log.Error("task panicked", slog.String("task", name), slog.Any("panic", p))
				}
				f.cancel(err)
				return
			}
		}()

		err := fn(f.ctx)
		switch {
		case err != nil:
			if f.log != nil {
				f.log.Error("task exited with error", slog.String("task", name), slog.String("error", err.Error()))
			}
			f.cancel(err)
		case f.ctx.Err() != nil:
			if f.log != nil {
				f.log.Debug("task exited after cancellation", slog.String("task", name))
			}
		default:
			if f.log != nil {
				f.log.Info("task exited normally", slog.String("task", name))
			}
			f.cancel(nil)
		}
	}()
}

// Wait blocks until every spawned task has terminated.
func (f *Fabric) Wait() { f.wg.Wait() }
