package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrDependencyFailed is matched by every *DependencyFailedError.
	ErrDependencyFailed = errors.New("dependency failed")
	// ErrCanceled marks steps that never started because the run was canceled.
	ErrCanceled = errors.New("run canceled")
	// ErrArguments wraps argument resolution failures.
	ErrArguments = errors.New("cannot resolve arguments")
)

// DependencyFailedError is recorded for a step that was not attempted
// because a dependency failed.
type DependencyFailedError struct {
	Step       string
	Dependency string
	// Cause is the step whose own failure started the chain.
	Cause string
}

func (e *DependencyFailedError) Error() string {
	if e.Cause != "" && e.Cause != e.Dependency {
		return fmt.Sprintf("%s: %q needs %q (failed because %q failed)", ErrDependencyFailed, e.Step, e.Dependency, e.Cause)
	}
	return fmt.Sprintf("%s: %q needs %q", ErrDependencyFailed, e.Step, e.Dependency)
}

func (e *DependencyFailedError) Unwrap() error { return ErrDependencyFailed }
