package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nomis52/gosdm/goal"
	"github.com/nomis52/gosdm/poller"
)

// Controller owns goal state transitions for lifecycles of one plan.
type Controller struct {
	plan       *Plan
	dependents map[string][]string
	logger     *slog.Logger
	dispatcher Dispatcher
	loggers    goal.Factory[*slog.Logger]
	progress   goal.Factory[goal.ProgressLog]
	onComplete func(Completion)
	newID      func() string
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger.With("component", "controller")
	}
}

// WithDispatcher sets how executors are run. Defaults to InlineDispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(c *Controller) {
		c.dispatcher = d
	}
}

// WithLoggerFactory sets the per-goal logger factory.
func WithLoggerFactory(f goal.Factory[*slog.Logger]) Option {
	return func(c *Controller) {
		c.loggers = f
	}
}

// WithProgressFactory sets the per-goal progress log factory.
func WithProgressFactory(f goal.Factory[goal.ProgressLog]) Option {
	return func(c *Controller) {
		c.progress = f
	}
}

// WithCompletionHandler receives completions that arrive after the Advance
// call which dispatched them has returned. The handler is expected to feed
// them back into Advance.
func WithCompletionHandler(fn func(Completion)) Option {
	return func(c *Controller) {
		c.onComplete = fn
	}
}

// WithIDGenerator overrides how lifecycle ids and dispatch tokens are made.
func WithIDGenerator(fn func() string) Option {
	return func(c *Controller) {
		c.newID = fn
	}
}

// NewController validates plan and creates a controller for it.
func NewController(plan *Plan, opts ...Option) (*Controller, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		plan:       plan,
		dependents: plan.dependents(),
		logger:     slog.Default().With("component", "controller"),
		dispatcher: InlineDispatcher{},
		progress:   goal.Shared(goal.DiscardProgress),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// PlanName returns the name of the plan this controller drives.
func (c *Controller) PlanName() string {
	return c.plan.Name()
}

// Definition returns the plan's goal definition.
func (c *Controller) Definition(name string) (*goal.Definition, bool) {
	return c.plan.Definition(name)
}

// Plan instantiates a fresh lifecycle for push with every goal requested.
func (c *Controller) Plan(push goal.Push, now time.Time) *Lifecycle {
	lc := &Lifecycle{
		ID:        c.newID(),
		Plan:      c.plan.Name(),
		Push:      push,
		Goals:     make([]goal.Status, 0, len(c.plan.entries)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, e := range c.plan.entries {
		lc.Goals = append(lc.Goals, goal.Status{
			UniqueName:  e.def.UniqueName,
			DisplayName: e.def.Name(),
			Environment: e.def.Environment,
			After:       append([]string(nil), e.after...),
			State:       goal.Requested,
			Description: e.def.Describe(goal.Requested),
		})
	}
	return lc
}

// Advance applies ev to a copy of lc and moves every eligible goal forward.
// The input is never modified.
func (c *Controller) Advance(ctx context.Context, lc *Lifecycle, ev Event) (*Lifecycle, []Transition) {
	next := lc.Clone()
	if next.Plan != c.plan.Name() {
		c.logger.Error("lifecycle belongs to another plan", "lifecycle_id", next.ID, "plan", next.Plan, "controller_plan", c.plan.Name())
		return next, nil
	}

	now := ev.eventTime()
	if now.IsZero() {
		now = time.Now()
	}
	a := &advance{c: c, lc: next, now: now, polled: make(map[string]bool)}

	switch e := ev.(type) {
	case Completion:
		a.complete(e)
	case Cancel:
		a.cancel(e.Reason)
	case Interrupted:
		a.interrupt()
	}

	if !next.Cancelled {
		a.run(ctx)
	}

	if a.changed {
		next.Revision++
		next.UpdatedAt = now
	}
	return next, a.transitions
}

func (c *Controller) goalLogger(key goal.Key) *slog.Logger {
	if c.loggers != nil {
		return c.loggers(key)
	}
	return c.logger.With("lifecycle_id", key.Lifecycle, "goal", key.Goal)
}

func (c *Controller) deliver(comp Completion) {
	if c.onComplete == nil {
		c.logger.Warn("dropping completion, no handler configured", "lifecycle_id", comp.Lifecycle, "goal", comp.Goal)
		return
	}
	c.onComplete(comp)
}

// advance holds the working state of one Advance call.
type advance struct {
	c           *Controller
	lc          *Lifecycle
	now         time.Time
	polled      map[string]bool
	transitions []Transition
	changed     bool
	inline      []Completion
}

func (a *advance) run(ctx context.Context) {
	for {
		progressed := false
		for i := range a.lc.Goals {
			switch a.lc.Goals[i].State {
			case goal.Requested:
				if a.promote(i) {
					progressed = true
				}
			case goal.Planned:
				if a.poll(ctx, i) {
					progressed = true
				}
			}
		}

		pending := a.inline
		a.inline = nil
		for _, comp := range pending {
			if a.complete(comp) {
				progressed = true
			}
		}

		if !progressed {
			return
		}
	}
}

// promote moves a requested goal to planned once all of its dependencies succeeded.
func (a *advance) promote(i int) bool {
	st := &a.lc.Goals[i]
	for _, dep := range st.After {
		d, ok := a.lc.Goal(dep)
		if !ok {
			return false
		}
		switch d.State {
		case goal.Success:
			continue
		case goal.Failure, goal.Skipped:
			a.skip(i, goal.ReasonDependencyFailed, fmt.Sprintf("%s: %q", ErrDependencyFailed, dep))
			return true
		default:
			return false
		}
	}

	st.Attempt.PlannedAt = a.now
	a.set(i, goal.Planned, a.describe(i, goal.Planned), "", goal.ReasonNone)
	return true
}

// poll evaluates a planned goal's precondition at most once per advance and
// starts the goal when it is met.
func (a *advance) poll(ctx context.Context, i int) bool {
	st := &a.lc.Goals[i]
	if a.polled[st.UniqueName] {
		return false
	}
	a.polled[st.UniqueName] = true

	def, ok := a.c.plan.Definition(st.UniqueName)
	if !ok {
		a.fail(i, goal.ReasonExecutorFailure, fmt.Sprintf("%s: goal is not defined by plan %q", ErrExecutorFailure, a.lc.Plan))
		return true
	}
	if def.Precondition == nil {
		a.start(ctx, i, def)
		return true
	}

	pre := def.Precondition
	gc := a.goalContext(i)
	budget := poller.Budget{Retries: pre.Retries, Interval: pre.Interval}
	state := poller.State{
		Started:     st.Attempt.PollStartedAt,
		Checks:      st.Attempt.Checks,
		LastCheckAt: st.Attempt.LastCheckAt,
	}

	report, state := poller.Step(ctx, func(ctx context.Context) (bool, error) {
		return pre.Check(ctx, gc)
	}, budget, state, a.now)

	if report.Outcome == poller.Waiting {
		return false
	}

	st.Attempt.PollStartedAt = state.Started
	st.Attempt.Checks = state.Checks
	st.Attempt.LastCheckAt = state.LastCheckAt
	st.Attempt.LastCheck = report.Outcome.String()
	a.changed = true

	logger := gc.Logger
	switch report.Outcome {
	case poller.Ready:
		logger.Info("precondition met", "checks", report.Checks)
		a.start(ctx, i, def)
		return true

	case poller.NotReady:
		progress := goal.Progress{
			Description: def.Describe(goal.InProcess),
			Phase:       "retrying in " + formatRemaining(report.Next.Sub(a.now)),
		}
		if pre.Progress != nil {
			gc.Goal = st.Clone()
			custom, err := safeProgress(pre.Progress, gc)
			if err != nil {
				logger.Error("precondition progress hook failed", "error", err)
			}
			if custom.Description != "" {
				progress.Description = custom.Description
			}
			if custom.Phase != "" {
				progress.Phase = custom.Phase
			}
		}
		logger.Debug("precondition not met", "checks", report.Checks, "remaining", report.Remaining)
		a.set(i, goal.Planned, progress.Description, progress.Phase, goal.ReasonNone)
		return false

	case poller.TimedOut:
		logger.Warn("precondition timed out", "checks", report.Checks)
		a.fail(i, goal.ReasonPreconditionTimeout, fmt.Sprintf("%s after %d checks", ErrPreconditionTimeout, report.Checks))
		return true

	default:
		logger.Error("precondition check failed", "checks", report.Checks, "error", report.Err)
		a.fail(i, goal.ReasonPreconditionError, fmt.Sprintf("%s: %v", ErrPreconditionCheck, report.Err))
		return true
	}
}

// start moves a goal to in_process and hands its executor to the dispatcher.
// The state change happens before dispatch so a goal is never dispatched twice.
func (a *advance) start(ctx context.Context, i int, def *goal.Definition) {
	st := &a.lc.Goals[i]
	token := a.c.newID()
	st.Attempt.Token = token
	st.Attempt.StartedAt = a.now
	a.set(i, goal.InProcess, def.Describe(goal.InProcess), "", goal.ReasonNone)

	gc := a.goalContext(i)
	job := Job{
		Key:      goal.Key{Lifecycle: a.lc.ID, Goal: st.UniqueName},
		Token:    token,
		Executor: def.Executor,
		Context:  gc,
	}
	gc.Logger.Info("dispatching executor")

	var mu sync.Mutex
	returned := false
	done := func(comp Completion) {
		mu.Lock()
		if !returned {
			a.inline = append(a.inline, comp)
			mu.Unlock()
			return
		}
		mu.Unlock()
		a.c.deliver(comp)
	}

	a.c.dispatcher.Dispatch(ctx, job, done)

	mu.Lock()
	returned = true
	mu.Unlock()
}

// complete applies an executor completion. Stale completions are ignored.
func (a *advance) complete(comp Completion) bool {
	i := a.lc.index(comp.Goal)
	if comp.Lifecycle != a.lc.ID || i < 0 {
		a.c.logger.Debug("ignoring completion for unknown goal", "lifecycle_id", comp.Lifecycle, "goal", comp.Goal)
		return false
	}

	st := &a.lc.Goals[i]
	logger := a.c.goalLogger(goal.Key{Lifecycle: a.lc.ID, Goal: st.UniqueName})
	if a.lc.Cancelled || st.State != goal.InProcess || st.Attempt.Token != comp.Token {
		logger.Debug("ignoring stale completion", "state", st.State, "cancelled", a.lc.Cancelled)
		return false
	}

	at := comp.At
	if at.IsZero() {
		at = a.now
	}
	res := comp.Result
	code := res.Code
	if comp.Err != nil && code == 0 {
		code = 1
	}
	st.Attempt.EndedAt = at
	st.Attempt.Code = &code
	if len(res.ExternalURLs) > 0 {
		st.ExternalURLs = res.ExternalURLs
	}
	if len(res.Data) > 0 {
		st.Data = res.Data
	}

	if code == 0 {
		desc := res.Description
		if desc == "" {
			desc = a.describe(i, goal.Success)
		}
		logger.Info("goal succeeded", "duration", st.Attempt.Duration())
		a.set(i, goal.Success, desc, "", goal.ReasonNone)
		return true
	}

	var msg string
	if comp.Err != nil {
		logger.Error("executor failed", "code", code, "error", comp.Err)
		msg = fmt.Sprintf("%s: %v", ErrExecutorFailure, comp.Err)
	} else {
		logger.Warn("executor returned non-zero code", "code", code, "description", res.Description)
		msg = fmt.Sprintf("%s with code %d", ErrExecutorFailure, code)
	}
	a.failDescribed(i, goal.ReasonExecutorFailure, msg, res.Description)
	return true
}

func (a *advance) cancel(reason string) {
	if a.lc.Cancelled || a.lc.IsComplete() {
		return
	}
	a.lc.Cancelled = true
	a.lc.CancelReason = reason
	a.changed = true
	a.c.logger.Info("cancelling lifecycle", "lifecycle_id", a.lc.ID, "reason", reason)

	for i := range a.lc.Goals {
		if !a.lc.Goals[i].State.IsTerminal() {
			msg := ErrCancelled.Error()
			if reason != "" {
				msg += ": " + reason
			}
			a.skip(i, goal.ReasonCancelled, msg)
		}
	}
}

func (a *advance) interrupt() {
	for i := range a.lc.Goals {
		if a.lc.Goals[i].State == goal.InProcess {
			a.lc.Interrupted = true
			a.fail(i, goal.ReasonInterrupted, ErrInterrupted.Error())
		}
	}
}

func (a *advance) fail(i int, reason goal.Reason, msg string) {
	a.failDescribed(i, reason, msg, "")
}

// failDescribed marks a goal failed and skips everything downstream of it.
func (a *advance) failDescribed(i int, reason goal.Reason, msg, desc string) {
	if desc == "" {
		desc = a.describe(i, goal.Failure)
	}
	st := &a.lc.Goals[i]
	st.Error = msg
	if st.Attempt.EndedAt.IsZero() && !st.Attempt.StartedAt.IsZero() {
		st.Attempt.EndedAt = a.now
	}
	a.set(i, goal.Failure, desc, "", reason)

	for _, name := range a.c.dependents[st.UniqueName] {
		j := a.lc.index(name)
		if j < 0 {
			continue
		}
		if s := a.lc.Goals[j].State; s == goal.Requested || s == goal.Planned {
			a.skip(j, goal.ReasonDependencyFailed, fmt.Sprintf("%s: %q", ErrDependencyFailed, st.UniqueName))
		}
	}
}

func (a *advance) skip(i int, reason goal.Reason, msg string) {
	a.lc.Goals[i].Error = msg
	a.set(i, goal.Skipped, a.describe(i, goal.Skipped), "", reason)
}

func (a *advance) set(i int, to goal.State, desc, phase string, reason goal.Reason) {
	st := &a.lc.Goals[i]
	from := st.State
	st.State = to
	st.Description = desc
	st.Phase = phase
	st.Reason = reason
	a.changed = true

	a.transitions = append(a.transitions, Transition{
		Lifecycle:   a.lc.ID,
		Goal:        st.UniqueName,
		From:        from,
		To:          to,
		Display:     st.DisplayState(),
		Description: desc,
		Phase:       phase,
		Reason:      reason,
		At:          a.now,
	})
}

func (a *advance) describe(i int, s goal.State) string {
	st := a.lc.Goals[i]
	if def, ok := a.c.plan.Definition(st.UniqueName); ok {
		return def.Describe(s)
	}
	name := st.DisplayName
	if name == "" {
		name = st.UniqueName
	}
	return goal.Descriptions{}.For(name, s)
}

// goalContext builds the read-only view for a check or executor. Lookups
// resolve against a copy so later changes to the snapshot are not visible.
func (a *advance) goalContext(i int) *goal.Context {
	snapshot := a.lc.Clone()
	st := snapshot.Goals[i]
	key := goal.Key{Lifecycle: a.lc.ID, Goal: st.UniqueName}

	gc := goal.NewContext(a.lc.ID, snapshot.Push, st, a.now, snapshot.Goal)
	gc.Logger = a.c.goalLogger(key)
	gc.Progress = a.c.progress(key)
	return gc
}

// formatRemaining renders a wait as whole minutes, or whole seconds below a minute.
func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int((d+time.Second-1)/time.Second))
	}
	return fmt.Sprintf("%dm", int((d+time.Minute-1)/time.Minute))
}

func safeProgress(fn goal.ProgressFunc, gc *goal.Context) (p goal.Progress, err error) {
	defer func() {
		if r := recover(); r != nil {
			p = goal.Progress{}
			err = fmt.Errorf("panic in progress hook: %v", r)
		}
	}()
	return fn(gc), nil
}
