package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/specialistvlad/deploygrid/internal/dag"
	"github.com/specialistvlad/deploygrid/internal/inmemorystore"
	"github.com/specialistvlad/deploygrid/internal/ledger"
	"github.com/specialistvlad/deploygrid/internal/pipeline"
	"github.com/specialistvlad/deploygrid/internal/registry"
	"github.com/specialistvlad/deploygrid/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

// brokerArgs makes ShareToken's arguments depend on Broker's address.
func brokerArgs(name string) registry.Arguments {
	return registry.ArgumentsFunc(func(ctx context.Context, refs registry.References) ([]cty.Value, error) {
		broker, ok := refs["Broker"]
		if !ok {
			return nil, errors.New("broker address unavailable")
		}
		return []cty.Value{cty.StringVal(name), cty.StringVal(broker)}, nil
	})
}

// tokenRegistry mirrors a typical deployment set: a broker, a token that
// needs its address, and two independent contracts.
func tokenRegistry(t *testing.T, shareName string) *registry.Registry {
	t.Helper()
	r := registry.New()
	for _, s := range []*registry.Step{
		{Name: "Broker", Tags: []string{"Broker"}, Args: registry.StaticArgs{cty.ListVal([]cty.Value{cty.StringVal("0xvault")})}},
		{Name: "ShareToken", Tags: []string{"ShareToken"}, DependsOn: []string{"Broker"}, Args: brokerArgs(shareName)},
		{Name: "StrategyCompound", Tags: []string{"StComp"}},
		{Name: "WrappedToken", Tags: []string{"WToken"}, Args: registry.StaticArgs{cty.StringVal("WETH")}},
	} {
		require.NoError(t, r.Register(s))
	}
	return r
}

func planAll(t *testing.T, reg *registry.Registry) *dag.Plan {
	t.Helper()
	plan, err := dag.Resolve(reg, reg.All())
	require.NoError(t, err)
	return plan
}

func statuses(r *pipeline.Report) map[string]pipeline.Status {
	out := make(map[string]pipeline.Status)
	for _, res := range r.Results {
		out[res.StepName] = res.Status
	}
	return out
}

func fixedClock() func() time.Time {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return now }
}

func TestRun_FirstRunDeploysEverythingInPlanOrder(t *testing.T) {
	// --- Arrange ---
	ctx, _ := testutil.Context(t)
	reg := tokenRegistry(t, "Share")
	exec := testutil.NewRecordingExecutor()
	store := inmemorystore.New()
	p := pipeline.New(exec, store, pipeline.Options{Network: "sepolia", Now: fixedClock()})

	// --- Act ---
	report, err := p.Run(ctx, planAll(t, reg))

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, []string{"Broker", "ShareToken", "StrategyCompound", "WrappedToken"}, exec.Steps())
	assert.Equal(t, 4, report.Count(pipeline.StatusDeployed))
	assert.False(t, report.HasFailures())

	records := store.Snapshot()
	require.Len(t, records, 4)
	broker := records["Broker"]
	assert.Equal(t, "Broker", broker.Artifact)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), broker.DeployedAt)

	share := exec.Requests()[1]
	assert.Equal(t, "sepolia", share.Network)
	assert.Equal(t, registry.DefaultAccount, share.From)
	require.Len(t, share.Args, 2)
	assert.Equal(t, broker.ArtifactID, share.Args[1].AsString(), "dependent sees the dependency's new address")
	assert.False(t, store.Locked())
}

func TestRun_SecondRunIsIdempotent(t *testing.T) {
	ctx, _ := testutil.Context(t)
	reg := tokenRegistry(t, "Share")
	exec := testutil.NewRecordingExecutor()
	store := inmemorystore.New()
	p := pipeline.New(exec, store, pipeline.Options{})

	_, err := p.Run(ctx, planAll(t, reg))
	require.NoError(t, err)
	before := store.Snapshot()
	exec.Reset()

	report, err := p.Run(ctx, planAll(t, reg))

	require.NoError(t, err)
	assert.Zero(t, exec.Calls(), "no executor call on an unchanged second run")
	assert.Equal(t, 4, report.Count(pipeline.StatusSkipped))
	if diff := cmp.Diff(before, store.Snapshot()); diff != "" {
		t.Fatalf("ledger changed on an idempotent run (-before +after):\n%s", diff)
	}
	res, ok := report.Result("Broker")
	require.True(t, ok)
	assert.Equal(t, before["Broker"].ArtifactID, res.ArtifactID)
}

func TestRun_ArgumentChangeRedeploysOnlyAffectedStep(t *testing.T) {
	ctx, _ := testutil.Context(t)
	exec := testutil.NewRecordingExecutor()
	store := inmemorystore.New()
	p := pipeline.New(exec, store, pipeline.Options{})
	_, err := p.Run(ctx, planAll(t, tokenRegistry(t, "Share")))
	require.NoError(t, err)
	exec.Reset()

	report, err := p.Run(ctx, planAll(t, tokenRegistry(t, "Share v2")))

	require.NoError(t, err)
	assert.Equal(t, []string{"ShareToken"}, exec.Steps())
	want := map[string]pipeline.Status{
		"Broker":           pipeline.StatusSkipped,
		"ShareToken":       pipeline.StatusDeployed,
		"StrategyCompound": pipeline.StatusSkipped,
		"WrappedToken":     pipeline.StatusSkipped,
	}
	assert.Equal(t, want, statuses(report))
}

func TestRun_ForceRedeploysNamedStep(t *testing.T) {
	ctx, _ := testutil.Context(t)
	exec := testutil.NewRecordingExecutor()
	store := inmemorystore.New()
	reg := tokenRegistry(t, "Share")
	_, err := pipeline.New(exec, store, pipeline.Options{}).Run(ctx, planAll(t, reg))
	require.NoError(t, err)
	exec.Reset()

	report, err := pipeline.New(exec, store, pipeline.Options{Force: []string{"Broker"}}).Run(ctx, planAll(t, reg))

	require.NoError(t, err)
	// Forced Broker gets the same deterministic address, so ShareToken stays current.
	assert.Equal(t, []string{"Broker"}, exec.Steps())
	assert.Equal(t, pipeline.StatusSkipped, statuses(report)["ShareToken"])
}

func TestRun_FailureIsolation(t *testing.T) {
	// --- Arrange ---
	ctx, _ := testutil.Context(t)
	reg := tokenRegistry(t, "Share")
	exec := testutil.NewRecordingExecutor()
	exec.Fail["Broker"] = errors.New("out of gas")
	store := inmemorystore.New()

	// --- Act ---
	report, err := pipeline.New(exec, store, pipeline.Options{}).Run(ctx, planAll(t, reg))

	// --- Assert ---
	require.NoError(t, err, "step failures are reported, not returned")
	assert.Equal(t, []string{"Broker", "StrategyCompound", "WrappedToken"}, exec.Steps(), "dependent never invoked")

	broker, _ := report.Result("Broker")
	assert.Equal(t, pipeline.StatusFailed, broker.Status)
	assert.EqualError(t, broker.Err, "out of gas")

	share, _ := report.Result("ShareToken")
	assert.Equal(t, pipeline.StatusFailed, share.Status)
	require.ErrorIs(t, share.Err, pipeline.ErrDependencyFailed)
	var depErr *pipeline.DependencyFailedError
	require.ErrorAs(t, share.Err, &depErr)
	assert.Equal(t, "Broker", depErr.Dependency)

	assert.Equal(t, pipeline.StatusDeployed, statuses(report)["StrategyCompound"])
	assert.Equal(t, pipeline.StatusDeployed, statuses(report)["WrappedToken"])
	assert.Len(t, report.Results, 4)
	assert.Len(t, report.Failed(), 2)

	assert.NotContains(t, store.Snapshot(), "Broker")
	assert.Contains(t, store.Snapshot(), "WrappedToken")
}

func TestRun_TransitiveDependencyFailure(t *testing.T) {
	ctx, _ := testutil.Context(t)
	reg := registry.New().MustRegister(
		&registry.Step{Name: "A"},
		&registry.Step{Name: "B", DependsOn: []string{"A"}},
		&registry.Step{Name: "C", DependsOn: []string{"B"}},
	)
	exec := testutil.NewRecordingExecutor()
	exec.Fail["A"] = errors.New("reverted")

	report, err := pipeline.New(exec, inmemorystore.New(), pipeline.Options{}).Run(ctx, planAll(t, reg))

	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, exec.Steps())
	c, _ := report.Result("C")
	var depErr *pipeline.DependencyFailedError
	require.ErrorAs(t, c.Err, &depErr)
	assert.Equal(t, "B", depErr.Dependency)
	assert.Equal(t, "A", depErr.Cause)
	assert.Contains(t, c.Err.Error(), `"A" failed`)
}

func TestRun_RetryAfterFailureDeploysOnlyMissing(t *testing.T) {
	ctx, _ := testutil.Context(t)
	reg := tokenRegistry(t, "Share")
	exec := testutil.NewRecordingExecutor()
	exec.Fail["Broker"] = errors.New("rpc timeout")
	store := inmemorystore.New()
	_, err := pipeline.New(exec, store, pipeline.Options{}).Run(ctx, planAll(t, reg))
	require.NoError(t, err)

	delete(exec.Fail, "Broker")
	exec.Reset()
	report, err := pipeline.New(exec, store, pipeline.Options{}).Run(ctx, planAll(t, reg))

	require.NoError(t, err)
	assert.Equal(t, []string{"Broker", "ShareToken"}, exec.Steps())
	assert.False(t, report.HasFailures())
}

func TestRun_LockedLedgerFailsBeforeAnyStep(t *testing.T) {
	ctx, _ := testutil.Context(t)
	store := inmemorystore.New()
	require.NoError(t, store.Lock(ctx))
	exec := testutil.NewRecordingExecutor()

	report, err := pipeline.New(exec, store, pipeline.Options{}).Run(ctx, planAll(t, tokenRegistry(t, "Share")))

	require.ErrorIs(t, err, ledger.ErrLocked)
	assert.Nil(t, report)
	assert.Zero(t, exec.Calls())
}

func TestRun_CorruptLedgerFailsBeforeAnyStep(t *testing.T) {
	ctx, _ := testutil.Context(t)
	store := inmemorystore.New()
	store.LoadErr = fmt.Errorf("%w: bad json", ledger.ErrCorrupt)
	exec := testutil.NewRecordingExecutor()

	report, err := pipeline.New(exec, store, pipeline.Options{}).Run(ctx, planAll(t, tokenRegistry(t, "Share")))

	require.ErrorIs(t, err, ledger.ErrCorrupt)
	assert.Nil(t, report)
	assert.Zero(t, exec.Calls())
}

func TestRun_LedgerWriteFailureFailsStepAndDependents(t *testing.T) {
	ctx, _ := testutil.Context(t)
	store := inmemorystore.New()
	exec := testutil.NewRecordingExecutor()
	exec.OnDeploy = func(_ context.Context, req pipeline.Request) {
		if req.Step == "Broker" {
			store.SaveErr = errors.New("disk full")
		} else {
			store.SaveErr = nil
		}
	}

	report, err := pipeline.New(exec, store, pipeline.Options{}).Run(ctx, planAll(t, tokenRegistry(t, "Share")))

	require.NoError(t, err)
	broker, _ := report.Result("Broker")
	assert.Equal(t, pipeline.StatusFailed, broker.Status)
	require.ErrorIs(t, broker.Err, ledger.ErrIO)
	assert.NotEmpty(t, broker.ArtifactID, "the deployed address is still reported")
	share, _ := report.Result("ShareToken")
	require.ErrorIs(t, share.Err, pipeline.ErrDependencyFailed)
	assert.Contains(t, store.Snapshot(), "Broker", "the final flush persists the record")
}

func TestRun_ArgumentResolutionFailureIsContained(t *testing.T) {
	ctx, _ := testutil.Context(t)
	reg := registry.New().MustRegister(
		&registry.Step{Name: "A", Args: registry.ArgumentsFunc(func(context.Context, registry.References) ([]cty.Value, error) {
			return nil, errors.New("env.VAULTS is not set")
		})},
		&registry.Step{Name: "B"},
	)
	exec := testutil.NewRecordingExecutor()

	report, err := pipeline.New(exec, inmemorystore.New(), pipeline.Options{}).Run(ctx, planAll(t, reg))

	require.NoError(t, err)
	a, _ := report.Result("A")
	require.ErrorIs(t, a.Err, pipeline.ErrArguments)
	assert.Equal(t, []string{"B"}, exec.Steps())
}

func TestRun_CancellationFinishesInFlightStep(t *testing.T) {
	// --- Arrange ---
	logCtx, _ := testutil.Context(t)
	ctx, cancel := context.WithCancel(logCtx)
	defer cancel()
	reg := tokenRegistry(t, "Share")
	store := inmemorystore.New()
	exec := testutil.NewRecordingExecutor()
	exec.OnDeploy = func(_ context.Context, req pipeline.Request) {
		if req.Step == "ShareToken" {
			cancel()
		}
	}

	// --- Act ---
	report, err := pipeline.New(exec, store, pipeline.Options{}).Run(ctx, planAll(t, reg))

	// --- Assert ---
	require.ErrorIs(t, err, pipeline.ErrCanceled)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, []string{"Broker", "ShareToken"}, exec.Steps())
	assert.Contains(t, store.Snapshot(), "ShareToken", "in-flight step is still recorded")

	want := map[string]pipeline.Status{
		"Broker":           pipeline.StatusDeployed,
		"ShareToken":       pipeline.StatusDeployed,
		"StrategyCompound": pipeline.StatusFailed,
		"WrappedToken":     pipeline.StatusFailed,
	}
	assert.Equal(t, want, statuses(report))
	wrapped, _ := report.Result("WrappedToken")
	require.ErrorIs(t, wrapped.Err, pipeline.ErrCanceled)
	assert.False(t, store.Locked())
}

func TestRun_DryRunDoesNotDeployOrWrite(t *testing.T) {
	ctx, _ := testutil.Context(t)
	reg := tokenRegistry(t, "Share")
	store := inmemorystore.New()
	exec := testutil.NewRecordingExecutor()

	report, err := pipeline.New(exec, store, pipeline.Options{DryRun: true}).Run(ctx, planAll(t, reg))

	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Zero(t, exec.Calls())
	assert.Zero(t, store.Saves())
	assert.Equal(t, 4, report.Count(pipeline.StatusPlanned))
	share, _ := report.Result("ShareToken")
	assert.Empty(t, share.ArgsHash, "hash is unknown while Broker is only planned")
}

func TestRun_DryRunAfterDeploymentReportsSkips(t *testing.T) {
	ctx, _ := testutil.Context(t)
	store := inmemorystore.New()
	exec := testutil.NewRecordingExecutor()
	_, err := pipeline.New(exec, store, pipeline.Options{}).Run(ctx, planAll(t, tokenRegistry(t, "Share")))
	require.NoError(t, err)
	exec.Reset()

	report, err := pipeline.New(exec, store, pipeline.Options{DryRun: true}).Run(ctx, planAll(t, tokenRegistry(t, "Share v2")))

	require.NoError(t, err)
	assert.Zero(t, exec.Calls())
	assert.Equal(t, pipeline.StatusPlanned, statuses(report)["ShareToken"])
	assert.Equal(t, 3, report.Count(pipeline.StatusSkipped))
}

type recordingObserver struct{ seen []string }

func (o *recordingObserver) StepFinished(_ context.Context, res pipeline.StepResult) {
	o.seen = append(o.seen, res.StepName+":"+string(res.Status))
}

func TestRun_ObserverSeesEveryStep(t *testing.T) {
	ctx, _ := testutil.Context(t)
	obs := &recordingObserver{}
	exec := testutil.NewRecordingExecutor()
	exec.Fail["WrappedToken"] = errors.New("nope")

	_, err := pipeline.New(exec, inmemorystore.New(), pipeline.Options{Observer: obs}).Run(ctx, planAll(t, tokenRegistry(t, "Share")))

	require.NoError(t, err)
	assert.Equal(t, []string{
		"Broker:deployed",
		"ShareToken:deployed",
		"StrategyCompound:deployed",
		"WrappedToken:failed",
	}, obs.seen)
}

func TestRun_EmptyPlan(t *testing.T) {
	ctx, _ := testutil.Context(t)
	plan, err := dag.Resolve(registry.New(), nil)
	require.NoError(t, err)

	report, err := pipeline.New(testutil.NewRecordingExecutor(), inmemorystore.New(), pipeline.Options{}).Run(ctx, plan)

	require.NoError(t, err)
	assert.Empty(t, report.Results)
}
