// Package lifecycle sequences goals through their state machine.
//
// A Plan describes which goals exist and which must succeed before others may
// start. A Controller instantiates a plan for a push, producing a Lifecycle
// snapshot, and moves that snapshot forward one event at a time:
//
//	ctrl, err := lifecycle.NewController(plan)
//	lc := ctrl.Plan(push, time.Now())
//	lc, transitions := ctrl.Advance(ctx, lc, lifecycle.Tick{Now: time.Now()})
//
// Advance never blocks on a precondition and never returns an error. Every
// failure is recorded on the goal it belongs to and the snapshot returned is
// always consistent. Snapshots are values: Advance clones its input, so the
// caller decides when and where the new state is persisted.
package lifecycle

import (
	"errors"
	"slices"
	"time"

	"github.com/nomis52/gosdm/goal"
)

// Lifecycle is the persisted state of one plan instantiated for one push.
type Lifecycle struct {
	ID           string        `json:"id"`
	Plan         string        `json:"plan"`
	Push         goal.Push     `json:"push"`
	Goals        []goal.Status `json:"goals"`
	Cancelled    bool          `json:"cancelled,omitempty"`
	CancelReason string        `json:"cancel_reason,omitempty"`
	Interrupted  bool          `json:"interrupted,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Revision     int           `json:"revision"`
}

// Outcome summarises a lifecycle for listings and metrics.
type Outcome string

const (
	OutcomeActive    Outcome = "active"
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeCancelled Outcome = "cancelled"
)

// Clone returns a deep copy.
func (l *Lifecycle) Clone() *Lifecycle {
	c := *l
	c.Push.Services = slices.Clone(l.Push.Services)
	c.Goals = make([]goal.Status, len(l.Goals))
	for i, g := range l.Goals {
		c.Goals[i] = g.Clone()
	}
	return &c
}

// Goal returns the status of a goal by unique name.
func (l *Lifecycle) Goal(name string) (goal.Status, bool) {
	if i := l.index(name); i >= 0 {
		return l.Goals[i], true
	}
	return goal.Status{}, false
}

func (l *Lifecycle) index(name string) int {
	for i := range l.Goals {
		if l.Goals[i].UniqueName == name {
			return i
		}
	}
	return -1
}

// IsComplete returns true once every goal is terminal.
func (l *Lifecycle) IsComplete() bool {
	for _, g := range l.Goals {
		if !g.State.IsTerminal() {
			return false
		}
	}
	return true
}

// Active returns true while the lifecycle still has work to do.
func (l *Lifecycle) Active() bool {
	return !l.Cancelled && !l.IsComplete()
}

// Succeeded returns true if every goal succeeded.
func (l *Lifecycle) Succeeded() bool {
	for _, g := range l.Goals {
		if g.State != goal.Success {
			return false
		}
	}
	return len(l.Goals) > 0
}

// Outcome returns the overall outcome.
func (l *Lifecycle) Outcome() Outcome {
	switch {
	case l.Cancelled:
		return OutcomeCancelled
	case !l.IsComplete():
		return OutcomeActive
	case l.Succeeded():
		return OutcomeSuccess
	default:
		return OutcomeFailure
	}
}

// Counts returns the number of goals per display state.
func (l *Lifecycle) Counts() map[goal.State]int {
	counts := make(map[goal.State]int)
	for _, g := range l.Goals {
		counts[g.DisplayState()]++
	}
	return counts
}

// Err returns the failures recorded on the lifecycle, or nil. Skipped goals
// are not reported separately; their upstream failure already is.
func (l *Lifecycle) Err() error {
	var errs []error
	for _, g := range l.Goals {
		if g.State == goal.Failure {
			errs = append(errs, &GoalError{Goal: g.UniqueName, Reason: g.Reason, Message: g.Error})
		}
	}
	if l.Cancelled {
		errs = append(errs, &GoalError{Reason: goal.ReasonCancelled, Message: l.CancelReason})
	}
	return errors.Join(errs...)
}
