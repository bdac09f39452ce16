package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/specialistvlad/deploygrid/internal/ctxlog"
	"github.com/specialistvlad/deploygrid/internal/dag"
	"github.com/specialistvlad/deploygrid/internal/fingerprint"
	"github.com/specialistvlad/deploygrid/internal/ledger"
	"github.com/specialistvlad/deploygrid/internal/registry"
)

// Options tune a Pipeline.
type Options struct {
	// Network is passed to the executor and reported; it does not select the
	// ledger, which the caller already bound to the store.
	Network string
	// DryRun computes decisions without deploying or writing the ledger.
	DryRun bool
	// Force lists steps to redeploy even when their record is current.
	Force []string
	// Now is the clock used for timestamps and durations.
	Now func() time.Time
	// Observer, when set, sees every finished step.
	Observer Observer
}

// Pipeline executes plans against one ledger store.
type Pipeline struct {
	exec  Executor
	store ledger.Store
	opts  Options
	force map[string]bool
}

// New creates a pipeline.
func New(exec Executor, store ledger.Store, opts Options) *Pipeline {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	force := make(map[string]bool, len(opts.Force))
	for _, name := range opts.Force {
		force[name] = true
	}
	return &Pipeline{exec: exec, store: store, opts: opts, force: force}
}

// run holds the mutable state of a single Run call.
type run struct {
	*Pipeline
	ledger *ledger.Ledger
	states states
	// failedBy maps each failed step to the step whose own failure caused it.
	failedBy map[string]string
	// pending holds steps a dry run would deploy; their new ids are unknown.
	pending map[string]bool
}

// Run executes plan. The returned report covers every plan step unless the
// ledger could not be opened, in which case the report is nil. The error is
// non-nil when the ledger failed or the context was canceled; step failures
// are only visible in the report.
func (p *Pipeline) Run(ctx context.Context, plan *dag.Plan) (report *Report, err error) {
	logger := ctxlog.FromContext(ctx).With("network", p.opts.Network, "dry_run", p.opts.DryRun)
	ctx = ctxlog.WithLogger(ctx, logger)

	l, err := ledger.Open(ctx, p.store)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := l.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Error("Closing ledger failed.", "error", cerr)
			err = errors.Join(err, cerr)
		}
	}()

	r := &run{
		Pipeline: p,
		ledger:   l,
		states:   make(states, plan.Len()),
		failedBy: make(map[string]string),
		pending:  make(map[string]bool),
	}
	for _, s := range plan.Steps() {
		r.states[s.Name] = StatusPending
	}

	report = &Report{Network: p.opts.Network, DryRun: p.opts.DryRun}
	logger.Info("Run started.", "steps", plan.Len())

	for _, step := range plan.Steps() {
		var res StepResult
		if cerr := ctx.Err(); cerr != nil {
			res = r.cancel(step, cerr)
		} else {
			res = r.step(ctx, step)
		}
		report.Results = append(report.Results, res)
		if p.opts.Observer != nil {
			p.opts.Observer.StepFinished(ctx, res)
		}
	}

	logger.Info("Run finished.",
		"deployed", report.Count(StatusDeployed),
		"skipped", report.Count(StatusSkipped),
		"planned", report.Count(StatusPlanned),
		"failed", report.Count(StatusFailed),
	)
	if cerr := ctx.Err(); cerr != nil {
		return report, fmt.Errorf("%w: %w", ErrCanceled, cerr)
	}
	return report, nil
}

func (r *run) step(ctx context.Context, step *registry.Step) StepResult {
	start := r.opts.Now()
	ctx = ctxlog.With(ctx, "step", step.Name)
	logger := ctxlog.FromContext(ctx)

	res := StepResult{StepName: step.Name}
	finish := func(status Status, err error) StepResult {
		if terr := r.states.transition(step.Name, status); terr != nil {
			status, err = StatusFailed, errors.Join(err, terr)
			r.states[step.Name] = StatusFailed
		}
		res.Status, res.Err = status, err
		res.Duration = r.opts.Now().Sub(start)
		if status == StatusFailed {
			if _, ok := r.failedBy[step.Name]; !ok {
				r.failedBy[step.Name] = step.Name
			}
		}
		return res
	}

	// 1. Dependencies.
	refs := make(registry.References, len(step.DependsOn))
	waitingOnPlanned := false
	for _, dep := range step.DependsOn {
		if cause, failed := r.failedBy[dep]; failed {
			r.failedBy[step.Name] = cause
			logger.Warn("Not deploying, a dependency failed.", "dependency", dep, "cause", cause)
			return finish(StatusFailed, &DependencyFailedError{Step: step.Name, Dependency: dep, Cause: cause})
		}
		if r.pending[dep] {
			waitingOnPlanned = true
			continue
		}
		if rec, ok := r.ledger.Get(dep); ok {
			refs[dep] = rec.ArtifactID
		}
	}
	if waitingOnPlanned {
		r.pending[step.Name] = true
		logger.Info("Would deploy after its dependencies.")
		return finish(StatusPlanned, nil)
	}

	// 2. Arguments and fingerprint.
	args, err := step.ResolveArgs(ctx, refs)
	if err != nil {
		logger.Error("Resolving arguments failed.", "error", err)
		return finish(StatusFailed, fmt.Errorf("%w of %q: %w", ErrArguments, step.Name, err))
	}
	hash, err := fingerprint.Args(step.ArtifactRef(), args)
	if err != nil {
		logger.Error("Fingerprinting arguments failed.", "error", err)
		return finish(StatusFailed, fmt.Errorf("%w of %q: %w", ErrArguments, step.Name, err))
	}
	res.ArgsHash = hash

	// 3. Skip when current.
	if rec, ok := r.ledger.Get(step.Name); ok && rec.ArgsHash == hash && !r.force[step.Name] {
		res.ArtifactID = rec.ArtifactID
		logger.Info("Up to date, skipping.", "artifact_id", rec.ArtifactID)
		return finish(StatusSkipped, nil)
	}

	if r.opts.DryRun {
		r.pending[step.Name] = true
		logger.Info("Would deploy.", "args_hash", hash)
		return finish(StatusPlanned, nil)
	}

	// 4. Deploy and record.
	if err := r.states.transition(step.Name, StatusDeploying); err != nil {
		return finish(StatusFailed, err)
	}
	logger.Info("Deploying.", "artifact", step.ArtifactRef(), "from", step.Account())

	artifactID, err := r.exec.Deploy(ctx, Request{
		Network:  r.opts.Network,
		Step:     step.Name,
		Artifact: step.ArtifactRef(),
		From:     step.Account(),
		Args:     args,
		ArgsHash: hash,
	})
	if err != nil {
		logger.Error("Deployment failed.", "error", err)
		return finish(StatusFailed, err)
	}
	res.ArtifactID = artifactID

	// Recorded under a detached context: cancellation must not lose a deployment.
	rec := ledger.Record{
		StepName:   step.Name,
		ArtifactID: artifactID,
		ArgsHash:   hash,
		Artifact:   step.ArtifactRef(),
		DeployedAt: r.opts.Now().UTC(),
	}
	if err := r.ledger.Put(context.WithoutCancel(ctx), rec); err != nil {
		logger.Error("Recording deployment failed.", "artifact_id", artifactID, "error", err)
		return finish(StatusFailed, err)
	}

	logger.Info("Deployed.", "artifact_id", artifactID)
	return finish(StatusDeployed, nil)
}

func (r *run) cancel(step *registry.Step, cause error) StepResult {
	r.states[step.Name] = StatusFailed
	r.failedBy[step.Name] = step.Name
	return StepResult{
		StepName: step.Name,
		Status:   StatusFailed,
		Err:      fmt.Errorf("%w before %q started: %w", ErrCanceled, step.Name, cause),
	}
}
