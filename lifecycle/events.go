package lifecycle

import (
	"time"

	"github.com/nomis52/gosdm/goal"
)

// Event is something that moves a lifecycle forward.
type Event interface {
	eventTime() time.Time
}

// Tick is a timer event. Planned goals with a precondition are polled on ticks.
type Tick struct {
	Now time.Time
}

func (e Tick) eventTime() time.Time { return e.Now }

// Completion is an executor's report for one dispatch.
type Completion struct {
	Lifecycle string
	Goal      string
	Token     string
	Result    goal.Result
	Err       error

	// At is when the executor finished. Zero means "now".
	At time.Time
}

func (e Completion) eventTime() time.Time { return e.At }

// Cancel stops a lifecycle. Every non-terminal goal becomes skipped.
type Cancel struct {
	Reason string
	At     time.Time
}

func (e Cancel) eventTime() time.Time { return e.At }

// Interrupted tells the controller that executions in flight were lost, for
// example because the process restarted. Those goals fail.
type Interrupted struct {
	At time.Time
}

func (e Interrupted) eventTime() time.Time { return e.At }

// Transition describes one change the controller made to a goal.
type Transition struct {
	Lifecycle   string      `json:"lifecycle"`
	Goal        string      `json:"goal"`
	From        goal.State  `json:"from"`
	To          goal.State  `json:"to"`
	Display     goal.State  `json:"display"`
	Description string      `json:"description,omitempty"`
	Phase       string      `json:"phase,omitempty"`
	Reason      goal.Reason `json:"reason,omitempty"`
	At          time.Time   `json:"at"`
}

// Changed returns true if the controller state changed. Progress updates on
// a polled goal keep the same state.
func (t Transition) Changed() bool {
	return t.From != t.To
}
