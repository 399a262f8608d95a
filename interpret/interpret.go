// Package interpret turns a project analysis into the goal plans that should
// run for a push.
package interpret

import (
	"encoding/json"
	"log/slog"
	"slices"
	"strings"

	"github.com/nomis52/gosdm/goal"
	"github.com/nomis52/gosdm/lifecycle"
)

// StackDescriptor describes one detected technology element. Its content is
// opaque to the delivery machine and passed through to interpreters.
type StackDescriptor struct {
	Name    string          `json:"name"`
	Tags    []string        `json:"tags,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

// Interpretation is the analysis result for one push.
type Interpretation struct {
	Elements map[string]StackDescriptor `json:"elements"`
}

// Has returns true if an element with the given key was detected.
func (i Interpretation) Has(key string) bool {
	_, ok := i.Elements[key]
	return ok
}

// Keys returns the detected element keys in sorted order.
func (i Interpretation) Keys() []string {
	keys := make([]string, 0, len(i.Elements))
	for k := range i.Elements {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// FromKeys builds an interpretation with a bare descriptor per key.
func FromKeys(keys ...string) Interpretation {
	elements := make(map[string]StackDescriptor, len(keys))
	for _, k := range keys {
		elements[k] = StackDescriptor{Name: k}
	}
	return Interpretation{Elements: elements}
}

// Interpreter contributes a plan when it recognises the interpretation.
type Interpreter interface {
	Name() string
	Enrich(interp Interpretation) (*lifecycle.Plan, bool)
}

// Analyzer runs interpreters in registration order.
type Analyzer struct {
	interpreters []Interpreter
	disabled     map[string]bool
	logger       *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithInterpreter adds an interpreter.
func WithInterpreter(i Interpreter) Option {
	return func(a *Analyzer) {
		a.interpreters = append(a.interpreters, i)
	}
}

// WithDisabledRepos lists "owner/repo" slugs that never get goals.
func WithDisabledRepos(slugs ...string) Option {
	return func(a *Analyzer) {
		for _, s := range slugs {
			a.disabled[strings.ToLower(s)] = true
		}
	}
}

// WithLogger sets the analyzer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = logger.With("component", "analyzer")
	}
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{
		disabled: make(map[string]bool),
		logger:   slog.Default().With("component", "analyzer"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// IsEnabled reports whether the delivery machine should act on a push.
func (a *Analyzer) IsEnabled(push goal.Push) bool {
	return !a.disabled[strings.ToLower(push.Slug())]
}

// Plans returns every plan contributed for the interpretation. An empty
// result means the push gets no goals.
func (a *Analyzer) Plans(interp Interpretation) []*lifecycle.Plan {
	var plans []*lifecycle.Plan
	for _, i := range a.interpreters {
		plan, ok := i.Enrich(interp)
		if !ok || plan == nil {
			continue
		}
		a.logger.Debug("interpreter contributed plan", "interpreter", i.Name(), "plan", plan.Name())
		plans = append(plans, plan)
	}
	return plans
}

// PlansFor is Plans gated on IsEnabled.
func (a *Analyzer) PlansFor(push goal.Push, interp Interpretation) []*lifecycle.Plan {
	if !a.IsEnabled(push) {
		a.logger.Info("delivery disabled for repository", "repo", push.Slug())
		return nil
	}
	return a.Plans(interp)
}

// Interpreters returns the registered interpreters.
func (a *Analyzer) Interpreters() []Interpreter {
	return slices.Clone(a.interpreters)
}
