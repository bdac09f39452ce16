package dag

import (
	"cmp"
	"slices"

	"github.com/specialistvlad/deploygrid/internal/registry"
)

type mark uint8

const (
	unvisited mark = iota
	visiting
	done
)

// Resolve expands selected to its transitive dependency closure and orders
// it so that every step comes after all of its dependencies.
func Resolve(reg *registry.Registry, selected []*registry.Step) (*Plan, error) {
	roots := make([]*registry.Step, len(selected))
	copy(roots, selected)
	sortByIndex(roots)

	r := &resolver{
		reg:   reg,
		marks: make(map[string]mark),
	}
	for _, s := range roots {
		if err := r.visit(s); err != nil {
			return nil, err
		}
	}
	return newPlan(r.order), nil
}

type resolver struct {
	reg   *registry.Registry
	marks map[string]mark
	path  []string
	order []*registry.Step
}

func (r *resolver) visit(s *registry.Step) error {
	switch r.marks[s.Name] {
	case done:
		return nil
	case visiting:
		return r.cycleFrom(s.Name)
	}

	r.marks[s.Name] = visiting
	r.path = append(r.path, s.Name)

	for _, depName := range s.DependsOn {
		dep, ok := r.reg.Get(depName)
		if !ok {
			return &UnknownDependencyError{Step: s.Name, Dependency: depName}
		}
		if err := r.visit(dep); err != nil {
			return err
		}
	}

	r.path = r.path[:len(r.path)-1]
	r.marks[s.Name] = done
	r.order = append(r.order, s)
	return nil
}

// cycleFrom cuts the current path at the first occurrence of name.
func (r *resolver) cycleFrom(name string) error {
	start := 0
	for i, n := range r.path {
		if n == name {
			start = i
			break
		}
	}
	path := make([]string, 0, len(r.path)-start+1)
	path = append(path, r.path[start:]...)
	path = append(path, name)
	return &CycleError{Path: path}
}

func sortByIndex(steps []*registry.Step) {
	slices.SortStableFunc(steps, func(a, b *registry.Step) int {
		return cmp.Compare(a.Index, b.Index)
	})
}
