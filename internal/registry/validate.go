package registry

import (
	"errors"
	"fmt"
)

// ErrInvalidStep is returned by Register for structurally malformed steps.
var ErrInvalidStep = errors.New("invalid step")

// validateStep checks the shape of a single step. Whether its dependencies
// exist is a planning concern, not a registration one.
func validateStep(step *Step) error {
	if step == nil {
		return fmt.Errorf("%w: nil step", ErrInvalidStep)
	}
	if step.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidStep)
	}

	var errs []error
	for _, tag := range step.Tags {
		if tag == "" {
			errs = append(errs, fmt.Errorf("%w: step %q has an empty tag", ErrInvalidStep, step.Name))
		}
	}
	seen := make(map[string]struct{}, len(step.DependsOn))
	for _, dep := range step.DependsOn {
		if dep == "" {
			errs = append(errs, fmt.Errorf("%w: step %q has an empty dependency name", ErrInvalidStep, step.Name))
			continue
		}
		if _, dup := seen[dep]; dup {
			errs = append(errs, fmt.Errorf("%w: step %q lists dependency %q twice", ErrInvalidStep, step.Name, dep))
		}
		seen[dep] = struct{}{}
	}
	return errors.Join(errs...)
}
