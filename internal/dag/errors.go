package dag

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCyclicDependency is matched by every *CycleError.
	ErrCyclicDependency = errors.New("cyclic dependency")
	// ErrUnknownDependency is matched by every *UnknownDependencyError.
	ErrUnknownDependency = errors.New("unknown dependency")
)

// CycleError names the steps that form a dependency cycle, in traversal
// order. The first member is repeated at the end of Path.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCyclicDependency, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCyclicDependency }

// Members returns the distinct steps of the cycle.
func (e *CycleError) Members() []string {
	if len(e.Path) < 2 {
		return e.Path
	}
	return e.Path[:len(e.Path)-1]
}

// UnknownDependencyError reports a dependency name that is not registered.
type UnknownDependencyError struct {
	Step       string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("%s: step %q depends on %q, which is not declared", ErrUnknownDependency, e.Step, e.Dependency)
}

func (e *UnknownDependencyError) Unwrap() error { return ErrUnknownDependency }
