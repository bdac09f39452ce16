package dag

import (
	"github.com/specialistvlad/deploygrid/internal/registry"
)

// Plan is an ordered, dependency-respecting list of steps.
type Plan struct {
	steps      []*registry.Step
	position   map[string]int
	dependents map[string][]string
}

func newPlan(steps []*registry.Step) *Plan {
	p := &Plan{
		steps:      steps,
		position:   make(map[string]int, len(steps)),
		dependents: make(map[string][]string),
	}
	for i, s := range steps {
		p.position[s.Name] = i
		for _, dep := range s.DependsOn {
			p.dependents[dep] = append(p.dependents[dep], s.Name)
		}
	}
	return p
}

// Steps returns the plan's steps in execution order.
func (p *Plan) Steps() []*registry.Step {
	out := make([]*registry.Step, len(p.steps))
	copy(out, p.steps)
	return out
}

// Names returns the step names in execution order.
func (p *Plan) Names() []string {
	out := make([]string, len(p.steps))
	for i, s := range p.steps {
		out[i] = s.Name
	}
	return out
}

// Len returns the number of steps in the plan.
func (p *Plan) Len() int { return len(p.steps) }

// Contains reports whether the named step is part of the plan.
func (p *Plan) Contains(name string) bool {
	_, ok := p.position[name]
	return ok
}

// DependentsOf returns every step in the plan that depends on name directly
// or transitively, in execution order.
func (p *Plan) DependentsOf(name string) []string {
	seen := make(map[string]bool)
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range p.dependents[cur] {
			if !seen[d] {
				seen[d] = true
				queue = append(queue, d)
			}
		}
	}

	var out []string
	for _, s := range p.steps {
		if seen[s.Name] {
			out = append(out, s.Name)
		}
	}
	return out
}
