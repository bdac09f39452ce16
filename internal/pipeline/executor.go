package pipeline

import (
	"context"

	"github.com/zclconf/go-cty/cty"
)

// Request describes one deployment handed to an Executor.
type Request struct {
	Network  string
	Step     string
	Artifact string
	From     string
	Args     []cty.Value
	ArgsHash string
}

// Executor performs the actual deployment of an artifact and returns the
// identifier (for contracts, the address) of what it created.
type Executor interface {
	Deploy(ctx context.Context, req Request) (artifactID string, err error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req Request) (string, error)

// Deploy implements Executor.
func (f ExecutorFunc) Deploy(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Observer is notified once per finished step.
type Observer interface {
	StepFinished(ctx context.Context, result StepResult)
}
