package runner

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/gosdm/goal"
	"github.com/nomis52/gosdm/interpret"
	"github.com/nomis52/gosdm/lifecycle"
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

// Test Helpers
// ---------------------------------------------------------------------

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recorder struct {
	mu          sync.Mutex
	transitions []lifecycle.Transition
	active      int
}

func (r *recorder) Observe(_ context.Context, _ *lifecycle.Lifecycle, transitions []lifecycle.Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, transitions...)
}

func (r *recorder) SetActive(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = n
}

func (r *recorder) reached(goalName string, s goal.State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.ContainsFunc(r.transitions, func(t lifecycle.Transition) bool {
		return t.Goal == goalName && t.To == s
	})
}

type testInterpreter struct {
	plan *lifecycle.Plan
}

func (i testInterpreter) Name() string { return "test" }

func (i testInterpreter) Enrich(interp interpret.Interpretation) (*lifecycle.Plan, bool) {
	if !interp.Has("go") {
		return nil, false
	}
	return i.plan, true
}

func (i testInterpreter) Plan() *lifecycle.Plan { return i.plan }

// newTestPlan builds build -> gate -> stage. The gate opens when ready is set.
func newTestPlan(ready *atomic.Bool) *lifecycle.Plan {
	build := &goal.Definition{
		UniqueName: "build",
		Executor: goal.ExecutorFunc(func(_ context.Context, gc *goal.Context) (goal.Result, error) {
			gc.Progress.Write("building")
			gc.Logger.Info("built image")
			return goal.Result{}, nil
		}),
	}
	gate := &goal.Definition{
		UniqueName: "gate",
		Precondition: &goal.Precondition{
			Retries:  5,
			Interval: time.Minute,
			Check: func(context.Context, *goal.Context) (bool, error) {
				return ready.Load(), nil
			},
		},
		Executor: goal.ExecutorFunc(func(context.Context, *goal.Context) (goal.Result, error) {
			return goal.Result{}, nil
		}),
	}
	stage := &goal.Definition{
		UniqueName: "stage",
		Executor: goal.ExecutorFunc(func(context.Context, *goal.Context) (goal.Result, error) {
			return goal.Result{}, nil
		}),
	}
	return lifecycle.NewPlan("test plan").Add(build).Add(gate, build).Add(stage, gate)
}

type harness struct {
	runner   *Runner
	ready    *atomic.Bool
	clock    *fakeClock
	recorder *recorder
	store    Store
	plan     *lifecycle.Plan
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		ready:    &atomic.Bool{},
		clock:    &fakeClock{t: t0},
		recorder: &recorder{},
		store:    NewMemoryStore(),
	}
	h.plan = newTestPlan(h.ready)
	analyzer := interpret.NewAnalyzer(
		interpret.WithInterpreter(testInterpreter{plan: h.plan}),
		interpret.WithDisabledRepos("atomist/disabled"),
	)

	base := []Option{
		WithStore(h.store),
		WithClock(h.clock.Now),
		WithObserver(h.recorder),
	}
	r, err := New(slog.Default(), analyzer, append(base, opts...)...)
	require.NoError(t, err)
	h.runner = r
	return h
}

func push(sha string) goal.Push {
	return goal.Push{Owner: "atomist", Repo: "sdm", Branch: "main", SHA: sha}
}

func goalState(t *testing.T, lc *lifecycle.Lifecycle, name string) goal.Status {
	t.Helper()
	st, ok := lc.Goal(name)
	require.True(t, ok, "goal %s", name)
	return st
}

// Tests
// ---------------------------------------------------------------------

func TestRunner_SubmitAndTick(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	lcs, err := h.runner.Submit(ctx, push("aaaaaaaaaa"), interpret.FromKeys("go"))
	require.NoError(t, err)
	require.Len(t, lcs, 1)
	lc := lcs[0]

	assert.Equal(t, "test plan", lc.Plan)
	assert.Equal(t, goal.Success, goalState(t, lc, "build").State)
	gate := goalState(t, lc, "gate")
	assert.Equal(t, goal.Planned, gate.State)
	assert.Equal(t, 1, gate.Attempt.Checks)
	assert.Equal(t, goal.InProcess, gate.DisplayState())
	assert.True(t, lc.Active())

	// Not yet due: no check and nothing persisted.
	require.NoError(t, h.runner.Tick(ctx))
	stored, err := h.runner.Get(ctx, lc.ID)
	require.NoError(t, err)
	assert.Equal(t, lc.Revision, stored.Revision)

	h.ready.Store(true)
	h.clock.Advance(time.Minute)
	require.NoError(t, h.runner.Tick(ctx))

	stored, err = h.runner.Get(ctx, lc.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.OutcomeSuccess, stored.Outcome())
	assert.True(t, h.recorder.reached("stage", goal.Success))
	assert.Equal(t, 0, h.recorder.active)
}

func TestRunner_SubmitWithoutPlans(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	lcs, err := h.runner.Submit(ctx, push("aaaaaaaaaa"), interpret.FromKeys("node"))
	require.NoError(t, err)
	assert.Empty(t, lcs)

	disabled := goal.Push{Owner: "atomist", Repo: "disabled", Branch: "main", SHA: "cccccccccc"}
	lcs, err = h.runner.Submit(ctx, disabled, interpret.FromKeys("go"))
	require.NoError(t, err)
	assert.Empty(t, lcs)

	all, err := h.runner.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRunner_Supersede(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.runner.Submit(ctx, push("aaaaaaaaaa"), interpret.FromKeys("go"))
	require.NoError(t, err)

	h.clock.Advance(time.Second)
	second, err := h.runner.Submit(ctx, push("bbbbbbbbbb"), interpret.FromKeys("go"))
	require.NoError(t, err)

	old, err := h.runner.Get(ctx, first[0].ID)
	require.NoError(t, err)
	assert.True(t, old.Cancelled)
	assert.Equal(t, "superseded by bbbbbbb", old.CancelReason)
	assert.Equal(t, lifecycle.OutcomeCancelled, old.Outcome())
	assert.Equal(t, goal.ReasonCancelled, goalState(t, old, "gate").Reason)

	feature := push("cccccccccc")
	feature.Branch = "feature"
	h.clock.Advance(time.Second)
	_, err = h.runner.Submit(ctx, feature, interpret.FromKeys("go"))
	require.NoError(t, err)

	current, err := h.runner.Get(ctx, second[0].ID)
	require.NoError(t, err)
	assert.True(t, current.Active(), "other branches do not supersede")

	all, err := h.runner.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "cccccccccc", all[0].Push.SHA, "newest first")
}

func TestRunner_Cancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	lcs, err := h.runner.Submit(ctx, push("aaaaaaaaaa"), interpret.FromKeys("go"))
	require.NoError(t, err)

	lc, err := h.runner.Cancel(ctx, lcs[0].ID, "abandoned")
	require.NoError(t, err)
	assert.True(t, lc.Cancelled)
	assert.Equal(t, goal.Skipped, goalState(t, lc, "gate").State)
	assert.Equal(t, goal.Skipped, goalState(t, lc, "stage").State)
	assert.Equal(t, goal.Success, goalState(t, lc, "build").State)

	_, err = h.runner.Cancel(ctx, "missing", "abandoned")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunner_UnknownIDsDoNotKeepLocks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	lcs, err := h.runner.Submit(ctx, push("aaaaaaaaaa"), interpret.FromKeys("go"))
	require.NoError(t, err)

	for _, id := range []string{"missing-1", "missing-2", "missing-1"} {
		_, err := h.runner.Cancel(ctx, id, "abandoned")
		assert.ErrorIs(t, err, ErrNotFound)
	}

	h.runner.mu.Lock()
	defer h.runner.mu.Unlock()
	assert.NotContains(t, h.runner.locks, "missing-1")
	assert.NotContains(t, h.runner.locks, "missing-2")
	assert.Contains(t, h.runner.locks, lcs[0].ID)
}

func TestRunner_Restore(t *testing.T) {
	store := NewMemoryStore()
	ready := &atomic.Bool{}
	ctrl, err := lifecycle.NewController(newTestPlan(ready))
	require.NoError(t, err)

	lc := ctrl.Plan(push("aaaaaaaaaa"), t0)
	lc.Goals[0].State = goal.InProcess
	lc.Goals[0].Attempt.Token = "lost"
	lc.Goals[0].Attempt.StartedAt = t0
	require.NoError(t, store.Save(context.Background(), lc))

	h := newHarness(t, WithStore(store))
	require.NoError(t, h.runner.Restore(context.Background()))

	restored, err := h.runner.Get(context.Background(), lc.ID)
	require.NoError(t, err)
	assert.True(t, restored.Interrupted)
	build := goalState(t, restored, "build")
	assert.Equal(t, goal.Failure, build.State)
	assert.Equal(t, goal.ReasonInterrupted, build.Reason)
	assert.Equal(t, goal.Skipped, goalState(t, restored, "gate").State)
	assert.Equal(t, lifecycle.OutcomeFailure, restored.Outcome())
}

func TestRunner_UnknownPlan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	orphan := &lifecycle.Lifecycle{
		ID:        "orphan",
		Plan:      "retired plan",
		Goals:     []goal.Status{{UniqueName: "x", State: goal.Requested}},
		CreatedAt: t0,
	}
	require.NoError(t, h.store.Save(ctx, orphan))

	err := h.runner.Tick(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownPlan)
}

func TestRunner_Logs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	lcs, err := h.runner.Submit(ctx, push("aaaaaaaaaa"), interpret.FromKeys("go"))
	require.NoError(t, err)

	logs, err := h.runner.Logs(ctx, lcs[0].ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)

	build := logs[0]
	assert.Equal(t, "build", build.Goal)
	assert.Equal(t, "success", build.State)
	require.Len(t, build.Progress, 1)
	assert.Equal(t, "building", build.Progress[0].Text)

	var messages []string
	for _, e := range build.Logs {
		messages = append(messages, e.Message)
	}
	assert.Contains(t, messages, "built image")

	assert.Equal(t, "stage", logs[2].Goal)
	assert.Empty(t, logs[2].Progress)

	_, err = h.runner.Logs(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunner_Prune(t *testing.T) {
	h := newHarness(t, WithRetention(time.Hour))
	ctx := context.Background()
	h.ready.Store(true)

	done, err := h.runner.Submit(ctx, push("aaaaaaaaaa"), interpret.FromKeys("go"))
	require.NoError(t, err)
	require.Equal(t, lifecycle.OutcomeSuccess, done[0].Outcome())

	h.ready.Store(false)
	other := push("bbbbbbbbbb")
	other.Branch = "feature"
	active, err := h.runner.Submit(ctx, other, interpret.FromKeys("go"))
	require.NoError(t, err)

	n, err := h.runner.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	h.clock.Advance(2 * time.Hour)
	n, err = h.runner.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = h.runner.Get(ctx, done[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.runner.Get(ctx, active[0].ID)
	assert.NoError(t, err, "active lifecycles are kept")
}

func TestRunner_AsyncDispatch(t *testing.T) {
	h := newHarness(t, WithAsyncDispatch(context.Background()))
	ctx := context.Background()
	h.ready.Store(true)

	lcs, err := h.runner.Submit(ctx, push("aaaaaaaaaa"), interpret.FromKeys("go"))
	require.NoError(t, err)
	require.Len(t, lcs, 1)

	h.runner.Wait()

	lc, err := h.runner.Get(ctx, lcs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.OutcomeSuccess, lc.Outcome())
	assert.True(t, h.recorder.reached("stage", goal.Success))
}

func TestRunner_Summary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.runner.Submit(ctx, push("aaaaaaaaaa"), interpret.FromKeys("go"))
	require.NoError(t, err)
	_, err = h.runner.Cancel(ctx, first[0].ID, "")
	require.NoError(t, err)

	_, err = h.runner.Submit(ctx, push("bbbbbbbbbb"), interpret.FromKeys("go"))
	require.NoError(t, err)

	s, err := h.runner.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Outcomes[lifecycle.OutcomeCancelled])
	assert.Equal(t, 1, s.Outcomes[lifecycle.OutcomeActive])
}

func TestTransitionLog(t *testing.T) {
	h := newHarness(t, WithObserver(NewTransitionLog(slog.Default())))
	_, err := h.runner.Submit(context.Background(), push("aaaaaaaaaa"), interpret.FromKeys("go"))
	require.NoError(t, err)
	assert.True(t, h.recorder.reached("build", goal.Success))
}

func TestRunner_SetAnalyzer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	lcs, err := h.runner.Submit(ctx, push("aaaaaaaaaa"), interpret.FromKeys("go"))
	require.NoError(t, err)

	// Same plan name, but the stage now fails.
	ready := &atomic.Bool{}
	ready.Store(true)
	replacement := newTestPlan(ready)
	def, ok := replacement.Definition("stage")
	require.True(t, ok)
	def.Executor = goal.ExecutorFunc(func(context.Context, *goal.Context) (goal.Result, error) {
		return goal.Result{Code: 2}, nil
	})
	require.NoError(t, h.runner.SetAnalyzer(interpret.NewAnalyzer(
		interpret.WithInterpreter(testInterpreter{plan: replacement}),
	)))

	h.clock.Advance(time.Minute)
	require.NoError(t, h.runner.Tick(ctx))

	lc, err := h.runner.Get(ctx, lcs[0].ID)
	require.NoError(t, err)
	stage := goalState(t, lc, "stage")
	assert.Equal(t, goal.Failure, stage.State)
	require.NotNil(t, stage.Attempt.Code)
	assert.Equal(t, 2, *stage.Attempt.Code)
}
