package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nomis52/gosdm/lifecycle"
)

// LifecycleMetrics records goal transitions and lifecycle outcomes.
type LifecycleMetrics struct {
	transitions CounterVec
	completed   CounterVec
	duration    GaugeVec
	active      Gauge
}

// NewLifecycleMetrics registers the delivery metrics with reg.
func NewLifecycleMetrics(reg Registry) (*LifecycleMetrics, error) {
	m := &LifecycleMetrics{}
	var err error

	m.transitions, err = reg.NewCounterVec(prometheus.CounterOpts{
		Name: "sdm_goal_transitions_total",
		Help: "Goal state transitions by plan, goal and new state.",
	}, []string{"plan", "goal", "state"})
	if err != nil {
		return nil, fmt.Errorf("creating transitions counter: %w", err)
	}

	m.completed, err = reg.NewCounterVec(prometheus.CounterOpts{
		Name: "sdm_lifecycles_completed_total",
		Help: "Lifecycles that reached an outcome, by plan and outcome.",
	}, []string{"plan", "outcome"})
	if err != nil {
		return nil, fmt.Errorf("creating completed counter: %w", err)
	}

	m.duration, err = reg.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sdm_goal_last_duration_seconds",
		Help: "Duration of the most recent execution of each goal.",
	}, []string{"plan", "goal", "state"})
	if err != nil {
		return nil, fmt.Errorf("creating duration gauge: %w", err)
	}

	m.active, err = reg.NewGauge(prometheus.GaugeOpts{
		Name: "sdm_lifecycles_active",
		Help: "Lifecycles that are neither complete nor cancelled.",
	})
	if err != nil {
		return nil, fmt.Errorf("creating active gauge: %w", err)
	}
	return m, nil
}

// Observe records the transitions produced by one advance of lc. A
// lifecycle is counted as completed on the advance that finished it.
func (m *LifecycleMetrics) Observe(_ context.Context, lc *lifecycle.Lifecycle, transitions []lifecycle.Transition) {
	if len(transitions) == 0 {
		return
	}
	for _, t := range transitions {
		if t.From == t.To {
			continue
		}
		m.transitions.With(prometheus.Labels{"plan": lc.Plan, "goal": t.Goal, "state": t.To.String()}).Inc()
		if !t.To.IsTerminal() {
			continue
		}
		if gs, ok := lc.Goal(t.Goal); ok && gs.Attempt.Duration() > 0 {
			m.duration.With(prometheus.Labels{"plan": lc.Plan, "goal": t.Goal, "state": t.To.String()}).
				Set(gs.Attempt.Duration().Seconds())
		}
	}
	if outcome := lc.Outcome(); outcome != lifecycle.OutcomeActive {
		m.completed.With(prometheus.Labels{"plan": lc.Plan, "outcome": string(outcome)}).Inc()
	}
}

// SetActive records the number of active lifecycles.
func (m *LifecycleMetrics) SetActive(n int) {
	m.active.Set(float64(n))
}
