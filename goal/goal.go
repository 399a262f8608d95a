// Package goal defines the unit of work in a delivery lifecycle: its static
// definition, the executor and precondition contracts, and the persisted
// per-goal status record.
//
// A Definition is written once, in code, by whoever assembles a goal set:
//
//	verify := &goal.Definition{
//	    UniqueName:  "verify testing deploy",
//	    DisplayName: "verify `testing` deploy",
//	    Environment: "testing",
//	    Precondition: &goal.Precondition{
//	        Retries:  60,
//	        Interval: 10 * time.Second,
//	        Check:    checkDNS,
//	    },
//	    Executor: goal.ExecutorFunc(verifyDeploy),
//	}
//
// Everything that changes while a lifecycle runs lives in Status, which is a
// plain value that can be persisted and reloaded. Only the lifecycle
// controller writes Status; checks and executors receive a read-only Context
// and report back through their return values.
package goal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Definition is the static, code-defined description of a goal.
type Definition struct {
	// UniqueName identifies the goal within a lifecycle.
	UniqueName string

	// DisplayName is shown to humans. Defaults to UniqueName.
	DisplayName string

	// Environment is the deployment tier tag, e.g. "testing".
	Environment string

	// Descriptions holds per-state human text.
	Descriptions Descriptions

	// Precondition gates execution. Nil means the goal runs as soon as its
	// dependencies succeed.
	Precondition *Precondition

	// Executor performs the goal's work once it is eligible.
	Executor Executor
}

// Name returns the display name, falling back to the unique name.
func (d *Definition) Name() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.UniqueName
}

// Describe returns the human text for the given state.
func (d *Definition) Describe(s State) string {
	return d.Descriptions.For(d.Name(), s)
}

// Validate checks the definition is usable.
func (d *Definition) Validate() error {
	if d.UniqueName == "" {
		return fmt.Errorf("goal has no unique name")
	}
	if d.Executor == nil {
		return fmt.Errorf("goal %q has no executor", d.UniqueName)
	}
	if d.Precondition != nil {
		if err := d.Precondition.Validate(); err != nil {
			return fmt.Errorf("goal %q: %w", d.UniqueName, err)
		}
	}
	return nil
}

// Descriptions holds per-state human text. Empty fields fall back to a
// generic description built from the display name.
type Descriptions struct {
	Requested string `json:"requested,omitempty" yaml:"requested,omitempty"`
	Planned   string `json:"planned,omitempty" yaml:"planned,omitempty"`
	InProcess string `json:"in_process,omitempty" yaml:"in_process,omitempty"`
	Completed string `json:"completed,omitempty" yaml:"completed,omitempty"`
	Failed    string `json:"failed,omitempty" yaml:"failed,omitempty"`
	Skipped   string `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// For returns the description for state s.
func (d Descriptions) For(name string, s State) string {
	pick := func(custom, prefix string) string {
		if custom != "" {
			return custom
		}
		return prefix + ": " + name
	}
	switch s {
	case Requested:
		return pick(d.Requested, "Planned")
	case Planned:
		return pick(d.Planned, "Ready")
	case InProcess:
		return pick(d.InProcess, "Working")
	case Success:
		return pick(d.Completed, "Complete")
	case Failure:
		return pick(d.Failed, "Failed")
	case Skipped:
		return pick(d.Skipped, "Skipped")
	default:
		return name
	}
}

// CheckFunc evaluates a precondition. Returning an error is distinct from
// returning false: it reports that the check itself could not be evaluated.
type CheckFunc func(ctx context.Context, gc *Context) (bool, error)

// Progress is the description and phase shown while a precondition is not yet met.
type Progress struct {
	Description string
	Phase       string
}

// ProgressFunc computes progress text after an unsuccessful check.
type ProgressFunc func(gc *Context) Progress

// Precondition is a polled boolean gate in front of a goal's executor.
type Precondition struct {
	// Retries is the number of additional checks after the first one.
	Retries int

	// Interval is the wait between checks.
	Interval time.Duration

	// Check is invoked at most Retries+1 times.
	Check CheckFunc

	// Progress, if set, is called after every unsuccessful check so the
	// controller can update the goal's description and phase.
	Progress ProgressFunc
}

// Validate checks the precondition budget.
func (p *Precondition) Validate() error {
	if p.Check == nil {
		return fmt.Errorf("precondition has no check")
	}
	if p.Retries < 0 {
		return fmt.Errorf("precondition retries must be >= 0, got %d", p.Retries)
	}
	if p.Interval <= 0 {
		return fmt.Errorf("precondition interval must be positive, got %v", p.Interval)
	}
	return nil
}

// Executor performs a goal's work. Returning an error is treated the same as
// a non-zero result code.
type Executor interface {
	Execute(ctx context.Context, gc *Context) (Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, gc *Context) (Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, gc *Context) (Result, error) {
	return f(ctx, gc)
}

// ExternalURL links a goal to something outside the delivery machine.
type ExternalURL struct {
	Label string `json:"label,omitempty"`
	URL   string `json:"url"`
}

// Result is what an executor reports back.
type Result struct {
	// Code is 0 on success; any other value is a failure.
	Code int `json:"code"`

	// Description replaces the goal's description when set.
	Description string `json:"description,omitempty"`

	// ExternalURLs are attached to the goal.
	ExternalURLs []ExternalURL `json:"external_urls,omitempty"`

	// Data is published on the goal for downstream goals to read.
	Data json.RawMessage `json:"data,omitempty"`
}

// Succeeded returns true if the result code is 0.
func (r Result) Succeeded() bool {
	return r.Code == 0
}

// ProgressLog receives free-form progress lines. Writes never block goal progression.
type ProgressLog interface {
	Write(line string)
}

// DiscardProgress is a ProgressLog that drops everything.
var DiscardProgress ProgressLog = discardProgress{}

type discardProgress struct{}

func (discardProgress) Write(string) {}

// Push identifies the source change a lifecycle was planned for.
type Push struct {
	Owner  string `json:"owner"`
	Repo   string `json:"repo"`
	Branch string `json:"branch,omitempty"`
	SHA    string `json:"sha,omitempty"`

	// Image is the container image built for this push, if any.
	Image string `json:"image,omitempty"`

	// Services is an opaque service-registration blob passed through from upstream.
	Services json.RawMessage `json:"services,omitempty"`
}

// Slug returns "owner/repo".
func (p Push) Slug() string {
	return p.Owner + "/" + p.Repo
}

// Context is the read-only view handed to checks and executors.
type Context struct {
	LifecycleID string
	Push        Push
	Goal        Status
	Now         time.Time
	Logger      *slog.Logger
	Progress    ProgressLog

	lookup func(name string) (Status, bool)
}

// NewContext builds a Context. lookup resolves sibling goals by unique name.
func NewContext(lifecycleID string, push Push, status Status, now time.Time, lookup func(string) (Status, bool)) *Context {
	return &Context{
		LifecycleID: lifecycleID,
		Push:        push,
		Goal:        status,
		Now:         now,
		Logger:      slog.Default(),
		Progress:    DiscardProgress,
		lookup:      lookup,
	}
}

// Lookup returns the status of another goal in the same lifecycle.
func (c *Context) Lookup(name string) (Status, bool) {
	if c.lookup == nil {
		return Status{}, false
	}
	return c.lookup(name)
}

// Key identifies one goal within one lifecycle.
type Key struct {
	Lifecycle string `json:"lifecycle"`
	Goal      string `json:"goal"`
}

// String returns "lifecycle/goal".
func (k Key) String() string {
	return k.Lifecycle + "/" + k.Goal
}

// Factory builds a per-goal collaborator such as a logger or a progress log.
type Factory[T any] func(key Key) T

// Shared returns a Factory that hands every goal the same value.
func Shared[T any](v T) Factory[T] {
	return func(Key) T { return v }
}
