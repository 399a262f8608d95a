package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/gosdm/goal"
)

func noop(name string) *goal.Definition {
	return &goal.Definition{
		UniqueName: name,
		Executor: goal.ExecutorFunc(func(context.Context, *goal.Context) (goal.Result, error) {
			return goal.Result{}, nil
		}),
	}
}

func TestPlan_Validate(t *testing.T) {
	a, b, c := noop("a"), noop("b"), noop("c")

	tests := []struct {
		name    string
		plan    *Plan
		wantErr string
	}{
		{
			name: "chain",
			plan: NewPlan("p").Add(a).Add(b, a).Add(c, b),
		},
		{
			name: "diamond by name",
			plan: NewPlan("p").Add(a).AddNamed(b, "a").AddNamed(c, "a").AddNamed(noop("d"), "b", "c"),
		},
		{
			name:    "no name",
			plan:    NewPlan("").Add(a),
			wantErr: "no name",
		},
		{
			name:    "empty",
			plan:    NewPlan("p"),
			wantErr: "no goals",
		},
		{
			name:    "duplicate",
			plan:    NewPlan("p").Add(a).Add(noop("a")),
			wantErr: "duplicate goal",
		},
		{
			name:    "unknown dependency",
			plan:    NewPlan("p").AddNamed(a, "missing"),
			wantErr: "unknown goal",
		},
		{
			name:    "self dependency",
			plan:    NewPlan("p").AddNamed(a, "a"),
			wantErr: "depends on itself",
		},
		{
			name:    "cycle",
			plan:    NewPlan("p").Add(a, c).Add(b, a).Add(c, b),
			wantErr: "circular dependency",
		},
		{
			name:    "nil executor",
			plan:    NewPlan("p").Add(&goal.Definition{UniqueName: "x"}),
			wantErr: "no executor",
		},
		{
			name: "bad precondition",
			plan: NewPlan("p").Add(&goal.Definition{
				UniqueName:   "x",
				Executor:     a.Executor,
				Precondition: &goal.Precondition{Retries: 1, Interval: 0, Check: func(context.Context, *goal.Context) (bool, error) { return true, nil }},
			}),
			wantErr: "interval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPlan_Accessors(t *testing.T) {
	a, b := noop("a"), noop("b")
	p := NewPlan("p").Add(a).Add(b, a)

	assert.Equal(t, "p", p.Name())
	assert.Equal(t, []*goal.Definition{a, b}, p.Goals())
	assert.Equal(t, []string{"a"}, p.After("b"))
	assert.Empty(t, p.After("a"))

	def, ok := p.Definition("b")
	require.True(t, ok)
	assert.Same(t, b, def)
}

func TestPlan_Dependents(t *testing.T) {
	p := NewPlan("p").
		Add(noop("a")).
		AddNamed(noop("b"), "a").
		AddNamed(noop("c"), "b").
		AddNamed(noop("d"))

	deps := p.dependents()
	assert.ElementsMatch(t, []string{"b", "c"}, deps["a"])
	assert.ElementsMatch(t, []string{"c"}, deps["b"])
	assert.Empty(t, deps["c"])
	assert.Empty(t, deps["d"])
}

func TestNewController_RejectsInvalidPlan(t *testing.T) {
	_, err := NewController(NewPlan("p").AddNamed(noop("a"), "a"))
	assert.Error(t, err)

	_, err = NewController(NewPlan("p").Add(noop("a")))
	assert.NoError(t, err)
}

func TestController_PlanInstantiatesRequestedGoals(t *testing.T) {
	a, b := noop("a"), noop("b")
	b.DisplayName = "Bee"
	ctrl, err := NewController(NewPlan("p").Add(a).Add(b, a))
	require.NoError(t, err)

	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	lc := ctrl.Plan(goal.Push{Owner: "acme", Repo: "app"}, now)

	assert.NotEmpty(t, lc.ID)
	assert.Equal(t, "p", lc.Plan)
	assert.Equal(t, now, lc.CreatedAt)
	require.Len(t, lc.Goals, 2)
	assert.Equal(t, goal.Requested, lc.Goals[0].State)
	assert.Equal(t, "Bee", lc.Goals[1].DisplayName)
	assert.Equal(t, []string{"a"}, lc.Goals[1].After)
	assert.Equal(t, "Planned: Bee", lc.Goals[1].Description)
	assert.Equal(t, OutcomeActive, lc.Outcome())
}
