package pipeline

import "time"

// StepResult is the outcome of one plan step.
type StepResult struct {
	StepName   string
	Status     Status
	ArtifactID string
	ArgsHash   string
	Err        error
	Duration   time.Duration
}

// Report lists one result per plan step, in plan order.
type Report struct {
	Network string
	DryRun  bool
	Results []StepResult
}

// Result returns the result of the named step.
func (r *Report) Result(step string) (StepResult, bool) {
	for _, res := range r.Results {
		if res.StepName == step {
			return res, true
		}
	}
	return StepResult{}, false
}

// Count returns how many steps ended with status.
func (r *Report) Count(status Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Failed returns the failed results in plan order.
func (r *Report) Failed() []StepResult {
	var out []StepResult
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// HasFailures reports whether any step failed.
func (r *Report) HasFailures() bool {
	return r.Count(StatusFailed) > 0
}
