// Package jobs runs background work for the engine: detached job bodies with
// cooperative cancellation, per-key mutual exclusion and a time-boxed cache.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/vaultguard/internal/common"
	"github.com/dmitrijs2005/vaultguard/internal/logging"
)

var errShutdown = fmt.Errorf("%w: engine shutting down", common.ErrInterrupted)

// Runner executes job bodies detached from the request that triggered them.
// Each job gets a context derived from the runner's base context, bounded by
// the configured timeout and cancellable by id.
type Runner struct {
	base    context.Context
	stop    context.CancelCauseFunc
	timeout time.Duration
	log     logging.Logger

	wg      sync.WaitGroup
	mu      sync.Mutex
	cancels map[string]*handle
}

type handle struct {
	cancel context.CancelFunc
}

// NewRunner returns a Runner. A zero timeout disables the per-job bound.
func NewRunner(timeout time.Duration, log logging.Logger) *Runner {
	base, stop := context.WithCancelCause(context.Background())
	return &Runner{
		base:    base,
		stop:    stop,
		timeout: timeout,
		log:     log,
		cancels: make(map[string]*handle),
	}
}

// Go starts fn for job id. A panic inside fn is logged and swallowed so one
// job cannot take the process down. Cancel ends the job context with cause
// ErrUserCancelled and Shutdown with ErrInterrupted; see Cause.
func (r *Runner) Go(id string, fn func(ctx context.Context)) {
	ctx, cancelCause := context.WithCancelCause(r.base)
	cancel := context.CancelFunc(func() { cancelCause(common.ErrUserCancelled) })
	if r.timeout > 0 {
		var stopTimer context.CancelFunc
		ctx, stopTimer = context.WithTimeout(ctx, r.timeout)
		inner := cancel
		cancel = func() { inner(); stopTimer() }
	}

	ctx = logging.WithJobID(ctx, id)

	h := &handle{cancel: cancel}
	r.mu.Lock()
	r.cancels[id] = h
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			if r.cancels[id] == h {
				delete(r.cancels, id)
			}
			r.mu.Unlock()
			cancelCause(nil)
		}()
		defer func() {
			if p := recover(); p != nil {
				r.log.Error(ctx, "job panicked", "panic", p)
			}
		}()
		fn(ctx)
	}()
}

// Cancel signals job id. It reports whether the job was still running.
func (r *Runner) Cancel(id string) bool {
	r.mu.Lock()
	h, ok := r.cancels[id]
	r.mu.Unlock()
	if ok {
		h.cancel()
	}
	return ok
}

// Running reports whether job id has not returned yet.
func (r *Runner) Running(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cancels[id]
	return ok
}

// Wait blocks until every started job returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown cancels all jobs and waits for them, or gives up when ctx ends.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.stop(errShutdown)
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cause annotates err, returned by a job body, with the reason its context
// ended. A body aborted by Shutdown then reads as ErrInterrupted instead of
// a bare context.Canceled.
func Cause(ctx context.Context, err error) error {
	if err == nil || ctx.Err() == nil {
		return err
	}
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(err, cause) {
		return err
	}
	return fmt.Errorf("%w: %w", cause, err)
}
