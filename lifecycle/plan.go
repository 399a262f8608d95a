package lifecycle

import (
	"fmt"
	"slices"
	"strings"

	"github.com/nomis52/gosdm/goal"
)

// Plan is an ordered set of goal definitions plus their "after" edges.
//
//	plan := lifecycle.NewPlan("test deploy").
//		Add(deploy).
//		Add(verify, deploy).
//		Add(stop, verify)
type Plan struct {
	name    string
	entries []entry
}

type entry struct {
	def   *goal.Definition
	after []string
}

// NewPlan creates an empty plan.
func NewPlan(name string) *Plan {
	return &Plan{name: name}
}

// Add appends a goal that may only start once every goal in after has succeeded.
func (p *Plan) Add(def *goal.Definition, after ...*goal.Definition) *Plan {
	names := make([]string, 0, len(after))
	for _, a := range after {
		if a != nil {
			names = append(names, a.UniqueName)
		}
	}
	return p.AddNamed(def, names...)
}

// AddNamed is Add with dependencies given by unique name.
func (p *Plan) AddNamed(def *goal.Definition, after ...string) *Plan {
	p.entries = append(p.entries, entry{def: def, after: slices.Clone(after)})
	return p
}

// Name returns the plan name.
func (p *Plan) Name() string {
	return p.name
}

// Goals returns the definitions in declaration order.
func (p *Plan) Goals() []*goal.Definition {
	defs := make([]*goal.Definition, len(p.entries))
	for i, e := range p.entries {
		defs[i] = e.def
	}
	return defs
}

// Definition returns the goal with the given unique name.
func (p *Plan) Definition(name string) (*goal.Definition, bool) {
	for _, e := range p.entries {
		if e.def != nil && e.def.UniqueName == name {
			return e.def, true
		}
	}
	return nil, false
}

// After returns the direct dependencies of a goal.
func (p *Plan) After(name string) []string {
	for _, e := range p.entries {
		if e.def != nil && e.def.UniqueName == name {
			return slices.Clone(e.after)
		}
	}
	return nil
}

// Validate checks names, executors, precondition budgets, references and cycles.
func (p *Plan) Validate() error {
	if p.name == "" {
		return fmt.Errorf("plan has no name")
	}
	if len(p.entries) == 0 {
		return fmt.Errorf("plan %q has no goals", p.name)
	}

	seen := make(map[string]bool, len(p.entries))
	for i, e := range p.entries {
		if e.def == nil {
			return fmt.Errorf("plan %q: goal %d is nil", p.name, i)
		}
		if err := e.def.Validate(); err != nil {
			return fmt.Errorf("plan %q: %w", p.name, err)
		}
		if seen[e.def.UniqueName] {
			return fmt.Errorf("plan %q: duplicate goal %q", p.name, e.def.UniqueName)
		}
		seen[e.def.UniqueName] = true
	}

	for _, e := range p.entries {
		for _, dep := range e.after {
			if dep == e.def.UniqueName {
				return fmt.Errorf("plan %q: goal %q depends on itself", p.name, dep)
			}
			if !seen[dep] {
				return fmt.Errorf("plan %q: goal %q depends on unknown goal %q", p.name, e.def.UniqueName, dep)
			}
		}
	}

	return p.validateNoCycles()
}

// validateNoCycles uses Kahn's algorithm to detect cycles.
func (p *Plan) validateNoCycles() error {
	inDegree := make(map[string]int, len(p.entries))
	dependents := make(map[string][]string, len(p.entries))
	for _, e := range p.entries {
		name := e.def.UniqueName
		inDegree[name] += 0
		for _, dep := range e.after {
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue []string
	for _, e := range p.entries {
		if inDegree[e.def.UniqueName] == 0 {
			queue = append(queue, e.def.UniqueName)
		}
	}

	processed := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		processed++

		for _, dependent := range dependents[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if processed != len(p.entries) {
		var stuck []string
		for _, e := range p.entries {
			if inDegree[e.def.UniqueName] > 0 {
				stuck = append(stuck, e.def.UniqueName)
			}
		}
		return fmt.Errorf("plan %q: circular dependency between %s", p.name, strings.Join(stuck, ", "))
	}
	return nil
}

// dependents returns the direct and transitive dependents of every goal.
func (p *Plan) dependents() map[string][]string {
	direct := make(map[string][]string, len(p.entries))
	for _, e := range p.entries {
		for _, dep := range e.after {
			direct[dep] = append(direct[dep], e.def.UniqueName)
		}
	}

	all := make(map[string][]string, len(p.entries))
	for _, e := range p.entries {
		var out []string
		seen := map[string]bool{}
		stack := slices.Clone(direct[e.def.UniqueName])
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
			stack = append(stack, direct[n]...)
		}
		all[e.def.UniqueName] = out
	}
	return all
}
