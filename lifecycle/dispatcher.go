package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/nomis52/gosdm/goal"
)

// Job is one executor invocation handed to a Dispatcher.
type Job struct {
	Key      goal.Key
	Token    string
	Executor goal.Executor
	Context  *goal.Context
}

// Dispatcher runs jobs and reports each one exactly once through done.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job, done func(Completion))
}

// Run invokes the job's executor, converting a panic into an error.
func (j Job) Run(ctx context.Context) (c Completion) {
	c = Completion{Lifecycle: j.Key.Lifecycle, Goal: j.Key.Goal, Token: j.Token}
	defer func() {
		if r := recover(); r != nil {
			c.Result = goal.Result{Code: 1}
			c.Err = fmt.Errorf("executor panicked: %v\n%s", r, debug.Stack())
		}
	}()
	c.Result, c.Err = j.Executor.Execute(ctx, j.Context)
	return c
}

// InlineDispatcher runs the executor on the caller's goroutine. The
// completion is applied within the same Advance call.
type InlineDispatcher struct{}

// Dispatch runs the job synchronously.
func (InlineDispatcher) Dispatch(ctx context.Context, job Job, done func(Completion)) {
	done(job.Run(ctx))
}

// AsyncDispatcher runs each executor on its own goroutine, detached from the
// context of the Advance call that started it.
type AsyncDispatcher struct {
	base   context.Context
	logger *slog.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// AsyncOption configures an AsyncDispatcher.
type AsyncOption func(*AsyncDispatcher)

// WithAsyncLogger sets the dispatcher logger.
func WithAsyncLogger(logger *slog.Logger) AsyncOption {
	return func(d *AsyncDispatcher) {
		d.logger = logger.With("component", "dispatcher")
	}
}

// WithAsyncClock overrides the time source used to stamp completions.
func WithAsyncClock(now func() time.Time) AsyncOption {
	return func(d *AsyncDispatcher) {
		d.now = now
	}
}

// NewAsyncDispatcher creates a dispatcher whose jobs run under base.
// Cancelling base abandons running executors.
func NewAsyncDispatcher(base context.Context, opts ...AsyncOption) *AsyncDispatcher {
	d := &AsyncDispatcher{
		base:   base,
		logger: slog.Default().With("component", "dispatcher"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch starts the job on a new goroutine.
func (d *AsyncDispatcher) Dispatch(_ context.Context, job Job, done func(Completion)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.logger.Debug("executor started", "lifecycle_id", job.Key.Lifecycle, "goal", job.Key.Goal)
		c := job.Run(d.base)
		c.At = d.now()
		done(c)
	}()
}

// Wait blocks until every dispatched job has reported.
func (d *AsyncDispatcher) Wait() {
	d.wg.Wait()
}
