// Package runner hosts the lifecycles of the gosdm server.
//
// The runner handles:
//   - Turning a push and its interpretation into one lifecycle per plan
//   - Cancelling older lifecycles for the same branch when a new push arrives
//   - Advancing active lifecycles on every tick
//   - Feeding executor completions back into their lifecycle
//   - Persisting snapshots and telling observers what changed
//
// Each lifecycle has its own lock, so a goal is never started twice and
// concurrent events for one lifecycle are applied in order.
//
// # Example
//
//	r, err := runner.New(logger, analyzer,
//	    runner.WithStore(store),
//	    runner.WithObserver(publisher),
//	    runner.WithAsyncDispatch(ctx))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Plan goals for a push
//	lcs, err := r.Submit(ctx, push, interp)
//
//	// Poll preconditions, usually from cron
//	if err := r.Tick(ctx); err != nil {
//	    logger.Warn("tick failed", "error", err)
//	}
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nomis52/gosdm/goal"
	"github.com/nomis52/gosdm/interpret"
	"github.com/nomis52/gosdm/lifecycle"
	"github.com/nomis52/gosdm/logging"
	"github.com/nomis52/gosdm/progress"
)

// ErrUnknownPlan is returned for lifecycles of a plan no controller drives.
var ErrUnknownPlan = errors.New("unknown plan")

// planProvider is implemented by interpreters that always contribute the
// same plan. Their plans are registered up front so restored lifecycles can
// be advanced before any push arrives.
type planProvider interface {
	Plan() *lifecycle.Plan
}

// Runner owns lifecycles and the controllers that advance them.
type Runner struct {
	logger    *slog.Logger
	analyzer  *interpret.Analyzer
	store     Store
	observers []Observer
	collector *logging.LogCollector
	sink      *progress.Sink
	now       func() time.Time
	retention time.Duration
	async     *lifecycle.AsyncDispatcher
	ctrlOpts  []lifecycle.Option
	plans     []*lifecycle.Plan

	mu          sync.Mutex
	controllers map[string]*lifecycle.Controller
	locks       map[string]*sync.Mutex
}

// Option configures a Runner.
type Option func(*Runner)

// WithStore sets where lifecycles are persisted. Defaults to a MemoryStore.
func WithStore(s Store) Option {
	return func(r *Runner) {
		r.store = s
	}
}

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		r.observers = append(r.observers, o)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// WithRetention sets how long finished lifecycles are kept by Prune.
func WithRetention(d time.Duration) Option {
	return func(r *Runner) {
		r.retention = d
	}
}

// WithAsyncDispatch runs executors on their own goroutines under base.
// Without it executors run inline during the call that starts them.
func WithAsyncDispatch(base context.Context) Option {
	return func(r *Runner) {
		r.async = lifecycle.NewAsyncDispatcher(base,
			lifecycle.WithAsyncLogger(r.logger),
			lifecycle.WithAsyncClock(func() time.Time { return r.now() }))
	}
}

// WithPlan registers a plan up front.
func WithPlan(p *lifecycle.Plan) Option {
	return func(r *Runner) {
		r.plans = append(r.plans, p)
	}
}

// WithControllerOptions passes extra options to every controller.
func WithControllerOptions(opts ...lifecycle.Option) Option {
	return func(r *Runner) {
		r.ctrlOpts = append(r.ctrlOpts, opts...)
	}
}

// WithLogCollector sets the collector goal logs are captured in.
func WithLogCollector(c *logging.LogCollector) Option {
	return func(r *Runner) {
		r.collector = c
	}
}

// WithProgressSink sets the sink progress lines are recorded in.
func WithProgressSink(s *progress.Sink) Option {
	return func(r *Runner) {
		r.sink = s
	}
}

// New creates a Runner. Plans of interpreters that always contribute the
// same plan are registered immediately.
func New(logger *slog.Logger, analyzer *interpret.Analyzer, opts ...Option) (*Runner, error) {
	r := &Runner{
		logger:      logger.With("component", "runner"),
		collector:   logging.NewLogCollector(),
		sink:        progress.NewSink(),
		store:       NewMemoryStore(),
		now:         time.Now,
		controllers: make(map[string]*lifecycle.Controller),
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, p := range r.plans {
		if _, err := r.register(p); err != nil {
			return nil, err
		}
	}
	if err := r.SetAnalyzer(analyzer); err != nil {
		return nil, err
	}
	return r, nil
}

// SetAnalyzer replaces the analyzer used by Submit and re-registers the
// plans of its interpreters. Active lifecycles of a replaced plan use the
// new goal definitions from their next event.
func (r *Runner) SetAnalyzer(analyzer *interpret.Analyzer) error {
	fresh := make(map[string]*lifecycle.Controller)
	for _, i := range analyzer.Interpreters() {
		p, ok := i.(planProvider)
		if !ok {
			continue
		}
		ctrl, err := r.newController(p.Plan())
		if err != nil {
			return err
		}
		fresh[ctrl.PlanName()] = ctrl
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.analyzer = analyzer
	for name, ctrl := range fresh {
		r.controllers[name] = ctrl
		r.logger.Debug("registered plan", "plan", name)
	}
	return nil
}

// Submit plans goals for a push. One lifecycle is created per contributed
// plan; active lifecycles for the same branch are cancelled first. An empty
// result means the push gets no goals.
func (r *Runner) Submit(ctx context.Context, push goal.Push, interp interpret.Interpretation) ([]*lifecycle.Lifecycle, error) {
	r.mu.Lock()
	analyzer := r.analyzer
	r.mu.Unlock()

	plans := analyzer.PlansFor(push, interp)
	if len(plans) == 0 {
		r.logger.Info("no goals for push", "repo", push.Slug(), "sha", push.SHA, "elements", interp.Keys())
		return nil, nil
	}

	if err := r.supersede(ctx, push); err != nil {
		return nil, err
	}

	var created []*lifecycle.Lifecycle
	for _, plan := range plans {
		ctrl, err := r.register(plan)
		if err != nil {
			return created, err
		}

		now := r.now()
		lc := ctrl.Plan(push, now)
		if err := r.store.Save(ctx, lc); err != nil {
			return created, fmt.Errorf("failed to save lifecycle: %w", err)
		}
		r.logger.Info("lifecycle created",
			"lifecycle_id", lc.ID,
			"plan", lc.Plan,
			"repo", push.Slug(),
			"branch", push.Branch,
			"sha", push.SHA,
		)

		next, err := r.apply(ctx, lc.ID, lifecycle.Tick{Now: now})
		if err != nil {
			return created, err
		}
		created = append(created, next)
	}
	return created, nil
}

// Tick advances every active lifecycle. Errors for individual lifecycles
// are collected and returned together.
func (r *Runner) Tick(ctx context.Context) error {
	return r.broadcast(ctx, func() lifecycle.Event { return lifecycle.Tick{Now: r.now()} })
}

// Run implements the cron runnable by ticking with a background context.
func (r *Runner) Run() error {
	return r.Tick(context.Background())
}

// Restore fails executions that were in flight when the process stopped and
// then advances whatever can move. Call it once at startup.
func (r *Runner) Restore(ctx context.Context) error {
	r.logger.Info("restoring lifecycles")
	return r.broadcast(ctx, func() lifecycle.Event { return lifecycle.Interrupted{At: r.now()} })
}

// Prune removes finished lifecycles older than the retention and forgets
// their captured logs.
func (r *Runner) Prune(ctx context.Context) (int, error) {
	if r.retention <= 0 {
		return 0, nil
	}
	pruned, err := r.store.Prune(ctx, r.now().Add(-r.retention))
	for _, id := range pruned {
		r.forget(id)
	}
	if err != nil {
		return len(pruned), fmt.Errorf("failed to prune lifecycles: %w", err)
	}
	return len(pruned), nil
}

// Cancel stops a lifecycle. Cancelling a finished lifecycle has no effect.
func (r *Runner) Cancel(ctx context.Context, id, reason string) (*lifecycle.Lifecycle, error) {
	return r.apply(ctx, id, lifecycle.Cancel{Reason: reason, At: r.now()})
}

// Get returns a lifecycle by id.
func (r *Runner) Get(ctx context.Context, id string) (*lifecycle.Lifecycle, error) {
	return r.store.Load(ctx, id)
}

// List returns every stored lifecycle, newest first.
func (r *Runner) List(ctx context.Context) ([]*lifecycle.Lifecycle, error) {
	return r.store.List(ctx)
}

// Summary counts stored lifecycles by outcome.
func (r *Runner) Summary(ctx context.Context) (Summary, error) {
	lcs, err := r.store.List(ctx)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{Total: len(lcs), Outcomes: make(map[lifecycle.Outcome]int)}
	for _, lc := range lcs {
		s.Outcomes[lc.Outcome()]++
	}
	return s, nil
}

// Logs returns the progress lines and captured log records of each goal,
// in plan order.
func (r *Runner) Logs(ctx context.Context, id string) ([]GoalLogs, error) {
	lc, err := r.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	lines := r.sink.ForLifecycle(id)
	entries := r.collector.ForLifecycle(id)

	result := make([]GoalLogs, 0, len(lc.Goals))
	for _, g := range lc.Goals {
		result = append(result, GoalLogs{
			Goal:     g.UniqueName,
			State:    g.DisplayState().String(),
			Progress: lines[g.UniqueName],
			Logs:     entries[g.UniqueName],
		})
	}
	return result, nil
}

// Ping reports whether the store is usable. Stores without a remote
// backend are always healthy.
func (r *Runner) Ping(ctx context.Context) error {
	if p, ok := r.store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Wait blocks until executors started with async dispatch have reported.
func (r *Runner) Wait() {
	if r.async != nil {
		r.async.Wait()
	}
}

// supersede cancels active lifecycles for the same branch as push.
func (r *Runner) supersede(ctx context.Context, push goal.Push) error {
	lcs, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list lifecycles: %w", err)
	}

	var errs []error
	for _, lc := range lcs {
		if !lc.Active() || !sameBranch(lc.Push, push) || lc.Push.SHA == push.SHA {
			continue
		}
		reason := fmt.Sprintf("superseded by %s", short(push.SHA))
		if _, err := r.Cancel(ctx, lc.ID, reason); err != nil {
			errs = append(errs, fmt.Errorf("lifecycle %s: %w", lc.ID, err))
		}
	}
	return errors.Join(errs...)
}

// broadcast applies an event to every active lifecycle.
func (r *Runner) broadcast(ctx context.Context, event func() lifecycle.Event) error {
	lcs, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list lifecycles: %w", err)
	}

	var errs []error
	active := 0
	for _, lc := range lcs {
		if !lc.Active() {
			continue
		}
		next, err := r.apply(ctx, lc.ID, event())
		if err != nil {
			errs = append(errs, fmt.Errorf("lifecycle %s: %w", lc.ID, err))
			continue
		}
		if next.Active() {
			active++
		}
	}

	for _, o := range r.observers {
		if a, ok := o.(ActiveObserver); ok {
			a.SetActive(active)
		}
	}
	return errors.Join(errs...)
}

// apply loads a lifecycle, advances it with ev and persists the result.
func (r *Runner) apply(ctx context.Context, id string, ev lifecycle.Event) (*lifecycle.Lifecycle, error) {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	lc, err := r.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.dropLock(id, lock)
		}
		return nil, err
	}
	ctrl, err := r.controller(lc.Plan)
	if err != nil {
		return nil, err
	}

	next, transitions := ctrl.Advance(ctx, lc, ev)
	if next.Revision == lc.Revision {
		return next, nil
	}
	if err := r.store.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to save lifecycle: %w", err)
	}

	for _, o := range r.observers {
		o.Observe(ctx, next, transitions)
	}
	if !next.Active() {
		r.logger.Info("lifecycle finished", "lifecycle_id", next.ID, "outcome", next.Outcome())
	}
	return next, nil
}

// complete receives completions reported after the Advance that dispatched
// them returned.
func (r *Runner) complete(c lifecycle.Completion) {
	if _, err := r.apply(context.Background(), c.Lifecycle, c); err != nil {
		r.logger.Error("failed to apply completion", "lifecycle_id", c.Lifecycle, "goal", c.Goal, "error", err)
	}
}

// register returns the controller for plan, creating it on first use. A
// later plan with the same name keeps the first controller.
func (r *Runner) register(plan *lifecycle.Plan) (*lifecycle.Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ctrl, ok := r.controllers[plan.Name()]; ok {
		return ctrl, nil
	}
	ctrl, err := r.newController(plan)
	if err != nil {
		return nil, err
	}
	r.controllers[plan.Name()] = ctrl
	r.logger.Debug("registered plan", "plan", plan.Name())
	return ctrl, nil
}

func (r *Runner) newController(plan *lifecycle.Plan) (*lifecycle.Controller, error) {
	opts := []lifecycle.Option{
		lifecycle.WithLogger(r.logger),
		lifecycle.WithLoggerFactory(logging.GoalLoggers(r.logger, r.collector)),
		lifecycle.WithProgressFactory(progress.Factory(r.logger, r.sink)),
		lifecycle.WithCompletionHandler(r.complete),
	}
	if r.async != nil {
		opts = append(opts, lifecycle.WithDispatcher(r.async))
	}
	opts = append(opts, r.ctrlOpts...)

	ctrl, err := lifecycle.NewController(plan, opts...)
	if err != nil {
		return nil, fmt.Errorf("plan %q: %w", plan.Name(), err)
	}
	return ctrl, nil
}

func (r *Runner) controller(plan string) (*lifecycle.Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctrl, ok := r.controllers[plan]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, plan)
	}
	return ctrl, nil
}

func (r *Runner) lockFor(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// dropLock removes the lock for an id the store does not know, unless it
// has been replaced since.
func (r *Runner) dropLock(id string, lock *sync.Mutex) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locks[id] == lock {
		delete(r.locks, id)
	}
}

func (r *Runner) forget(id string) {
	r.mu.Lock()
	delete(r.locks, id)
	r.mu.Unlock()

	r.sink.Forget(id)
	r.collector.Forget(id)
}

func sameBranch(a, b goal.Push) bool {
	return a.Owner == b.Owner && a.Repo == b.Repo && a.Branch == b.Branch
}

func short(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
