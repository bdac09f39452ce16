package registry

import (
	"errors"
	"fmt"
)

// ErrDuplicateName is returned when a step name is registered twice.
var ErrDuplicateName = errors.New("duplicate step name")

// Registry holds every declared step in registration order.
type Registry struct {
	steps  []*Step
	byName map[string]*Step
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{byName: make(map[string]*Step)}
}

// Register appends a step. The step's Index is overwritten with its
// registration position.
func (r *Registry) Register(step *Step) error {
	if err := validateStep(step); err != nil {
		return err
	}
	if _, exists := r.byName[step.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateName, step.Name)
	}

	step.Index = len(r.steps)
	r.steps = append(r.steps, step)
	r.byName[step.Name] = step
	return nil
}

// MustRegister is Register for statically known steps; it panics on error.
func (r *Registry) MustRegister(steps ...*Step) *Registry {
	for _, s := range steps {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
	return r
}

// Get returns the step with the given name.
func (r *Registry) Get(name string) (*Step, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// All returns every step in registration order.
func (r *Registry) All() []*Step {
	out := make([]*Step, len(r.steps))
	copy(out, r.steps)
	return out
}

// Len returns the number of registered steps.
func (r *Registry) Len() int {
	return len(r.steps)
}

// ByTag returns the steps carrying tag, in registration order.
func (r *Registry) ByTag(tag string) []*Step {
	var out []*Step
	for _, s := range r.steps {
		if s.HasTag(tag) {
			out = append(out, s)
		}
	}
	return out
}

// ByTags returns the union of ByTag over all tags, without duplicates and in
// registration order.
func (r *Registry) ByTags(tags []string) []*Step {
	var out []*Step
	for _, s := range r.steps {
		for _, tag := range tags {
			if s.HasTag(tag) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}
