package goal

import "fmt"

// State represents the lifecycle state of a goal.
type State int

const (
	// Requested indicates the goal is part of a plan but its dependencies have not all succeeded
	Requested State = iota

	// Planned indicates all dependencies succeeded and the goal is waiting on its precondition
	Planned

	// InProcess indicates the goal's executor has been dispatched
	InProcess

	// Success indicates the executor returned code 0
	Success

	// Failure indicates the executor or the precondition failed
	Failure

	// Skipped indicates the goal never ran (dependency failed or lifecycle cancelled)
	Skipped
)

var stateNames = map[State]string{
	Requested: "requested",
	Planned:   "planned",
	InProcess: "in_process",
	Success:   "success",
	Failure:   "failure",
	Skipped:   "skipped",
}

// String returns a human-readable representation of the State
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// IsTerminal returns true if no further transitions are possible from this state.
func (s State) IsTerminal() bool {
	return s == Success || s == Failure || s == Skipped
}

// ParseState converts a state name back into a State.
func ParseState(name string) (State, error) {
	for s, n := range stateNames {
		if n == name {
			return s, nil
		}
	}
	return Requested, fmt.Errorf("unknown goal state %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Reason classifies why a goal ended in failure or was skipped.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonPreconditionTimeout Reason = "precondition_timeout"
	ReasonPreconditionError   Reason = "precondition_error"
	ReasonExecutorFailure     Reason = "executor_failure"
	ReasonDependencyFailed    Reason = "dependency_failed"
	ReasonCancelled           Reason = "cancelled"
	ReasonInterrupted         Reason = "interrupted"
)
