// Package poller evaluates a boolean readiness check on a bounded schedule.
//
// Step is the re-entrant form used by the lifecycle controller: each call
// performs at most one check and returns the updated State, which the caller
// persists between calls. Poll is a blocking loop built on Step for command
// line use.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPanic wraps a panic raised inside a check.
var ErrPanic = errors.New("check panicked")

// Check reports whether a condition is met. An error means the condition
// could not be evaluated, which is distinct from "not yet".
type Check func(ctx context.Context) (bool, error)

// Budget bounds how often and how long a check is polled.
type Budget struct {
	// Retries is the number of checks after the first.
	Retries int

	// Interval is the minimum time between checks.
	Interval time.Duration
}

// Attempts is the maximum number of checks, Retries+1.
func (b Budget) Attempts() int {
	return b.Retries + 1
}

// Window is the total wall-clock time allowed, Interval × (Retries+1).
func (b Budget) Window() time.Duration {
	return b.Interval * time.Duration(b.Attempts())
}

// Validate checks the budget is usable.
func (b Budget) Validate() error {
	if b.Retries < 0 {
		return fmt.Errorf("retries must be >= 0, got %d", b.Retries)
	}
	if b.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", b.Interval)
	}
	return nil
}

// Outcome is the result of one Step.
type Outcome int

const (
	// Waiting means the interval since the last check has not elapsed; no check ran.
	Waiting Outcome = iota

	// Ready means the check returned true.
	Ready

	// NotReady means the check returned false and budget remains.
	NotReady

	// TimedOut means the attempts or the wall-clock window are exhausted.
	TimedOut

	// CheckFailed means the check returned an error or panicked.
	CheckFailed
)

func (o Outcome) String() string {
	switch o {
	case Waiting:
		return "waiting"
	case Ready:
		return "ready"
	case NotReady:
		return "not_ready"
	case TimedOut:
		return "timed_out"
	case CheckFailed:
		return "check_failed"
	default:
		return "unknown"
	}
}

// Done returns true if polling should stop.
func (o Outcome) Done() bool {
	return o == Ready || o == TimedOut || o == CheckFailed
}

// State is the polling progress the caller persists between steps.
type State struct {
	Started     time.Time
	Checks      int
	LastCheckAt time.Time
}

// Report describes what a Step did.
type Report struct {
	Outcome Outcome

	// Err is set when Outcome is CheckFailed.
	Err error

	// Checks is the number of checks performed so far.
	Checks int

	// Remaining is the time left in the window.
	Remaining time.Duration

	// Next is when the next check may run. Zero once polling is done.
	Next time.Time
}

// Step performs at most one check. The first check runs immediately; later
// checks run only once Interval has elapsed since the previous one.
func Step(ctx context.Context, check Check, budget Budget, st State, now time.Time) (Report, State) {
	if st.Started.IsZero() {
		st.Started = now
	}
	deadline := st.Started.Add(budget.Window())

	report := func(o Outcome, err error) Report {
		r := Report{Outcome: o, Err: err, Checks: st.Checks}
		if rem := deadline.Sub(now); rem > 0 {
			r.Remaining = rem
		}
		if !o.Done() {
			r.Next = st.LastCheckAt.Add(budget.Interval)
		}
		return r
	}

	if st.Checks >= budget.Attempts() || !now.Before(deadline) {
		return report(TimedOut, nil), st
	}
	if st.Checks > 0 && now.Sub(st.LastCheckAt) < budget.Interval {
		return report(Waiting, nil), st
	}

	ok, err := safeCheck(ctx, check)
	st.Checks++
	st.LastCheckAt = now

	switch {
	case err != nil:
		return report(CheckFailed, err), st
	case ok:
		return report(Ready, nil), st
	case st.Checks >= budget.Attempts():
		return report(TimedOut, nil), st
	default:
		return report(NotReady, nil), st
	}
}

func safeCheck(ctx context.Context, check Check) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return check(ctx)
}

// PollOption configures Poll.
type PollOption func(*pollOptions)

type pollOptions struct {
	progress func(Report)
	now      func() time.Time
}

// WithProgress registers a hook called after every NotReady check.
func WithProgress(fn func(Report)) PollOption {
	return func(o *pollOptions) {
		o.progress = fn
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) PollOption {
	return func(o *pollOptions) {
		o.now = now
	}
}

// Poll blocks until the check is ready, fails, times out, or ctx is done.
// A cancelled context is reported as CheckFailed with the context error.
func Poll(ctx context.Context, check Check, budget Budget, opts ...PollOption) Report {
	o := pollOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	var st State
	r, st := Step(ctx, check, budget, st, o.now())
	if r.Outcome.Done() {
		return r
	}
	if r.Outcome == NotReady && o.progress != nil {
		o.progress(r)
	}

	timer := time.NewTimer(untilNext(r, o.now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return Report{
				Outcome: CheckFailed,
				Err:     fmt.Errorf("polling cancelled: %w", ctx.Err()),
				Checks:  st.Checks,
			}
		case <-timer.C:
			r, st = Step(ctx, check, budget, st, o.now())
			if r.Outcome.Done() {
				return r
			}
			if r.Outcome == NotReady && o.progress != nil {
				o.progress(r)
			}
			timer.Reset(untilNext(r, o.now()))
		}
	}
}

func untilNext(r Report, now time.Time) time.Duration {
	if d := r.Next.Sub(now); d > 0 {
		return d
	}
	return 0
}
