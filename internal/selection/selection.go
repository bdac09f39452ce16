// Package selection narrows a registry down to the steps an operator asked
// for. The dependency resolver later expands the result to its transitive
// closure, so prerequisites never need to be selected explicitly.
package selection

import (
	"errors"
	"fmt"
	"strings"

	"github.com/specialistvlad/deploygrid/internal/registry"
)

// ErrEmptySelection is returned when a non-empty filter matches no step.
var ErrEmptySelection = errors.New("selection matched no steps")

// Select returns the steps carrying any of tags. An empty tag list selects
// every registered step.
func Select(reg *registry.Registry, tags []string) ([]*registry.Step, error) {
	tags = compact(tags)
	if len(tags) == 0 {
		return reg.All(), nil
	}

	steps := reg.ByTags(tags)
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: tags [%s]", ErrEmptySelection, strings.Join(tags, ", "))
	}
	return steps, nil
}

// Names returns the steps with the given names, in registration order.
// Every name must be registered.
func Names(reg *registry.Registry, names []string) ([]*registry.Step, error) {
	names = compact(names)
	if len(names) == 0 {
		return reg.All(), nil
	}

	wanted := make(map[string]struct{}, len(names))
	var missing []string
	for _, n := range names {
		if _, ok := reg.Get(n); !ok {
			missing = append(missing, n)
		}
		wanted[n] = struct{}{}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: unknown steps [%s]", ErrEmptySelection, strings.Join(missing, ", "))
	}

	var out []*registry.Step
	for _, s := range reg.All() {
		if _, ok := wanted[s.Name]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// compact drops blank entries, which come from splitting flags like "--tags a,".
func compact(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
