package pipeline

import "fmt"

// Status is the lifecycle state of one step within a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSkipped   Status = "skipped"
	StatusDeploying Status = "deploying"
	StatusDeployed  Status = "deployed"
	StatusFailed    Status = "failed"
	// StatusPlanned marks a step a dry run would deploy.
	StatusPlanned Status = "planned"
)

// IsTerminal reports whether no further transition can happen.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSkipped, StatusDeployed, StatusFailed, StatusPlanned:
		return true
	default:
		return false
	}
}

func allowed(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusSkipped || to == StatusDeploying || to == StatusFailed || to == StatusPlanned
	case StatusDeploying:
		return to == StatusDeployed || to == StatusFailed
	default:
		return false
	}
}

// states tracks the status of every plan step.
type states map[string]Status

func (s states) transition(step string, to Status) error {
	from, ok := s[step]
	if !ok {
		return fmt.Errorf("unknown step %q", step)
	}
	if !allowed(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", step, from, to)
	}
	s[step] = to
	return nil
}
