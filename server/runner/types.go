package runner

import (
	"context"
	"log/slog"

	"github.com/nomis52/gosdm/lifecycle"
	"github.com/nomis52/gosdm/logging"
	"github.com/nomis52/gosdm/progress"
)

// Observer is told about every change the runner persists. Observers run
// while the lifecycle is locked; wrap slow ones in an AsyncObserver.
type Observer interface {
	Observe(ctx context.Context, lc *lifecycle.Lifecycle, transitions []lifecycle.Transition)
}

// ActiveObserver is an Observer that also tracks how many lifecycles are
// active after each tick.
type ActiveObserver interface {
	Observer
	SetActive(n int)
}

// GoalLogs is what a goal recorded while it ran.
type GoalLogs struct {
	Goal     string             `json:"goal"`
	State    string             `json:"state"`
	Progress []progress.Line    `json:"progress,omitempty"`
	Logs     []logging.LogEntry `json:"logs,omitempty"`
}

// Summary counts lifecycles by outcome.
type Summary struct {
	Total    int                       `json:"total"`
	Outcomes map[lifecycle.Outcome]int `json:"outcomes"`
}

// TransitionLog logs each goal state change.
type TransitionLog struct {
	logger *slog.Logger
}

var _ Observer = (*TransitionLog)(nil)

// NewTransitionLog creates a TransitionLog.
func NewTransitionLog(logger *slog.Logger) *TransitionLog {
	return &TransitionLog{logger: logger.With("component", "transitions")}
}

// Observe implements Observer.
func (t *TransitionLog) Observe(_ context.Context, lc *lifecycle.Lifecycle, transitions []lifecycle.Transition) {
	for _, tr := range transitions {
		if !tr.Changed() {
			continue
		}
		t.logger.Info("goal transition",
			"lifecycle_id", lc.ID,
			"plan", lc.Plan,
			"repo", lc.Push.Slug(),
			"sha", lc.Push.SHA,
			"goal", tr.Goal,
			"from", tr.From.String(),
			"to", tr.To.String(),
			"reason", string(tr.Reason),
		)
	}
}
