package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/specialistvlad/deploygrid/internal/pipeline"
)

// RecordingExecutor is a pipeline.Executor that records every request and
// returns deterministic addresses. Steps listed in Fail return that error.
type RecordingExecutor struct {
	mu       sync.Mutex
	requests []pipeline.Request

	// Fail maps step names to the error their deployment returns.
	Fail map[string]error
	// OnDeploy, when set, runs before the result is returned.
	OnDeploy func(ctx context.Context, req pipeline.Request)
}

// NewRecordingExecutor creates an executor with no failures.
func NewRecordingExecutor() *RecordingExecutor {
	return &RecordingExecutor{Fail: make(map[string]error)}
}

// Deploy implements pipeline.Executor.
func (e *RecordingExecutor) Deploy(ctx context.Context, req pipeline.Request) (string, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	failErr := e.Fail[req.Step]
	hook := e.OnDeploy
	e.mu.Unlock()

	if hook != nil {
		hook(ctx, req)
	}
	if failErr != nil {
		return "", failErr
	}
	return AddressFor(req.Step, req.ArgsHash), nil
}

// Requests returns every recorded request in call order.
func (e *RecordingExecutor) Requests() []pipeline.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]pipeline.Request, len(e.requests))
	copy(out, e.requests)
	return out
}

// Steps returns the step names of every recorded request in call order.
func (e *RecordingExecutor) Steps() []string {
	var out []string
	for _, r := range e.Requests() {
		out = append(out, r.Step)
	}
	return out
}

// Calls returns the number of deployments attempted.
func (e *RecordingExecutor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests)
}

// Reset forgets recorded requests.
func (e *RecordingExecutor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = nil
}

// AddressFor is the address RecordingExecutor returns for a step and hash.
func AddressFor(step, argsHash string) string {
	sum := sha256.Sum256([]byte(step + "/" + argsHash))
	return "0x" + hex.EncodeToString(sum[:20])
}
