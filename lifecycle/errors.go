package lifecycle

import (
	"errors"
	"fmt"

	"github.com/nomis52/gosdm/goal"
)

var (
	// ErrPreconditionTimeout means a precondition never became true within its budget.
	ErrPreconditionTimeout = errors.New("precondition timed out")

	// ErrPreconditionCheck means a precondition check could not be evaluated.
	ErrPreconditionCheck = errors.New("precondition check failed")

	// ErrExecutorFailure means an executor returned a non-zero code, an error, or panicked.
	ErrExecutorFailure = errors.New("executor failed")

	// ErrDependencyFailed means an upstream goal failed.
	ErrDependencyFailed = errors.New("dependency failed")

	// ErrCancelled means the lifecycle was cancelled.
	ErrCancelled = errors.New("lifecycle cancelled")

	// ErrInterrupted means the process stopped while the executor was running.
	ErrInterrupted = errors.New("execution interrupted")
)

var reasonErrors = map[goal.Reason]error{
	goal.ReasonPreconditionTimeout: ErrPreconditionTimeout,
	goal.ReasonPreconditionError:   ErrPreconditionCheck,
	goal.ReasonExecutorFailure:     ErrExecutorFailure,
	goal.ReasonDependencyFailed:    ErrDependencyFailed,
	goal.ReasonCancelled:           ErrCancelled,
	goal.ReasonInterrupted:         ErrInterrupted,
}

// ReasonError returns the sentinel error for a failure reason, or nil.
func ReasonError(r goal.Reason) error {
	return reasonErrors[r]
}

// GoalError is a failure recorded on a goal. It unwraps to the sentinel
// matching its Reason so callers can use errors.Is.
type GoalError struct {
	Goal    string
	Reason  goal.Reason
	Message string
}

func (e *GoalError) Error() string {
	msg := e.Message
	if msg == "" {
		if sentinel := ReasonError(e.Reason); sentinel != nil {
			msg = sentinel.Error()
		} else {
			msg = string(e.Reason)
		}
	}
	if e.Goal == "" {
		return msg
	}
	return fmt.Sprintf("goal %q: %s", e.Goal, msg)
}

func (e *GoalError) Unwrap() error {
	return ReasonError(e.Reason)
}
