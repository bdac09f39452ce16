package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/specialistvlad/deploygrid/internal/inmemorystore"
	"github.com/specialistvlad/deploygrid/internal/ledger"
	"github.com/specialistvlad/deploygrid/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestOpen_LocksAndLoads(t *testing.T) {
	// --- Arrange ---
	store := inmemorystore.New(ledger.Record{StepName: "Broker", ArtifactID: "0xb0", ArgsHash: "h", DeployedAt: t0})
	ctx := context.Background()

	// --- Act ---
	l, err := ledger.Open(ctx, store)

	// --- Assert ---
	require.NoError(t, err)
	assert.True(t, store.Locked())
	rec, ok := l.Get("Broker")
	require.True(t, ok)
	assert.Equal(t, "0xb0", rec.ArtifactID)

	require.NoError(t, l.Close(ctx))
	assert.False(t, store.Locked())
}

func TestOpen_LockedStore(t *testing.T) {
	store := inmemorystore.New()
	ctx := context.Background()
	first, err := ledger.Open(ctx, store)
	require.NoError(t, err)
	defer first.Close(ctx)

	_, err = ledger.Open(ctx, store)

	require.ErrorIs(t, err, ledger.ErrLocked)
}

func TestOpen_CorruptStateReleasesLock(t *testing.T) {
	store := inmemorystore.New()
	store.LoadErr = ledger.ErrCorrupt

	_, err := ledger.Open(context.Background(), store)

	require.ErrorIs(t, err, ledger.ErrCorrupt)
	assert.False(t, store.Locked())
}

// mismatchedStore loads a record under a key naming another step and fails
// to unlock.
type mismatchedStore struct {
	*inmemorystore.Store
	unlockErr error
}

func (s *mismatchedStore) Load(context.Context) (map[string]ledger.Record, error) {
	return map[string]ledger.Record{"Broker": {StepName: "ShareToken", ArtifactID: "0xb0"}}, nil
}

func (s *mismatchedStore) Unlock(ctx context.Context) error {
	if err := s.Store.Unlock(ctx); err != nil {
		return err
	}
	return s.unlockErr
}

func TestOpen_MismatchedKeyLogsFailedUnlock(t *testing.T) {
	// --- Arrange ---
	ctx, logs := testutil.Context(t)
	store := &mismatchedStore{Store: inmemorystore.New(), unlockErr: errors.New("lock file vanished")}

	// --- Act ---
	_, err := ledger.Open(ctx, store)

	// --- Assert ---
	require.ErrorIs(t, err, ledger.ErrCorrupt)
	assert.Contains(t, err.Error(), `record keyed "Broker" names step "ShareToken"`)
	assert.False(t, store.Locked())
	assert.Contains(t, logs.String(), "Releasing ledger lock after corrupt load.")
	assert.Contains(t, logs.String(), "lock file vanished")
}

func TestOpen_LoadFailureIsIOError(t *testing.T) {
	store := inmemorystore.New()
	store.LoadErr = errors.New("permission denied")

	_, err := ledger.Open(context.Background(), store)

	require.ErrorIs(t, err, ledger.ErrIO)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestPut_FlushesImmediately(t *testing.T) {
	store := inmemorystore.New()
	ctx := context.Background()
	l, err := ledger.Open(ctx, store)
	require.NoError(t, err)
	defer l.Close(ctx)

	require.NoError(t, l.Put(ctx, ledger.Record{StepName: "Broker", ArtifactID: "0x01", DeployedAt: t0}))

	assert.Equal(t, 1, store.Saves())
	assert.Equal(t, "0x01", store.Snapshot()["Broker"].ArtifactID)
}

func TestPut_ReplacesRecord(t *testing.T) {
	store := inmemorystore.New(ledger.Record{StepName: "Broker", ArtifactID: "0x01"})
	ctx := context.Background()
	l, err := ledger.Open(ctx, store)
	require.NoError(t, err)
	defer l.Close(ctx)

	require.NoError(t, l.Put(ctx, ledger.Record{StepName: "Broker", ArtifactID: "0x02"}))

	rec, _ := l.Get("Broker")
	assert.Equal(t, "0x02", rec.ArtifactID)
	assert.Equal(t, 1, l.Len())
}

func TestPut_SaveFailureIsIOError(t *testing.T) {
	store := inmemorystore.New()
	ctx := context.Background()
	l, err := ledger.Open(ctx, store)
	require.NoError(t, err)
	store.SaveErr = errors.New("disk full")

	err = l.Put(ctx, ledger.Record{StepName: "Broker", ArtifactID: "0x01"})

	require.ErrorIs(t, err, ledger.ErrIO)
	store.SaveErr = nil
	require.NoError(t, l.Close(ctx))
}

func TestPut_RejectsAnonymousRecord(t *testing.T) {
	ctx := context.Background()
	l, err := ledger.Open(ctx, inmemorystore.New())
	require.NoError(t, err)
	defer l.Close(ctx)

	require.Error(t, l.Put(ctx, ledger.Record{ArtifactID: "0x01"}))
}

func TestClose_RetriesFailedFlush(t *testing.T) {
	store := inmemorystore.New()
	ctx := context.Background()
	l, err := ledger.Open(ctx, store)
	require.NoError(t, err)
	store.SaveErr = errors.New("disk full")
	require.Error(t, l.Put(ctx, ledger.Record{StepName: "Broker", ArtifactID: "0x01"}))
	store.SaveErr = nil

	require.NoError(t, l.Close(ctx))

	assert.Equal(t, 1, store.Saves())
	assert.Equal(t, "0x01", store.Snapshot()["Broker"].ArtifactID)
	assert.False(t, store.Locked())
}

func TestClose_IsIdempotentAndSkipsCleanFlush(t *testing.T) {
	store := inmemorystore.New()
	ctx := context.Background()
	l, err := ledger.Open(ctx, store)
	require.NoError(t, err)

	require.NoError(t, l.Close(ctx))
	require.NoError(t, l.Close(ctx))

	assert.Zero(t, store.Saves(), "nothing changed, nothing written")
	require.Error(t, l.Put(ctx, ledger.Record{StepName: "A"}))
}

func TestClose_ReportsFailedFinalFlush(t *testing.T) {
	store := inmemorystore.New()
	ctx := context.Background()
	l, err := ledger.Open(ctx, store)
	require.NoError(t, err)
	store.SaveErr = errors.New("disk full")
	require.Error(t, l.Put(ctx, ledger.Record{StepName: "Broker"}))

	err = l.Close(ctx)

	require.ErrorIs(t, err, ledger.ErrIO)
	assert.False(t, store.Locked(), "lock is released even when the final flush fails")
}

func TestDeleteAndReset(t *testing.T) {
	store := inmemorystore.New(
		ledger.Record{StepName: "Broker", ArtifactID: "0x01"},
		ledger.Record{StepName: "ShareToken", ArtifactID: "0x02"},
		ledger.Record{StepName: "WrappedToken", ArtifactID: "0x03"},
	)
	ctx := context.Background()
	l, err := ledger.Open(ctx, store)
	require.NoError(t, err)
	defer l.Close(ctx)

	removed, err := l.Delete(ctx, "ShareToken", "Unknown")
	require.NoError(t, err)
	assert.Equal(t, []string{"ShareToken"}, removed)
	assert.NotContains(t, store.Snapshot(), "ShareToken")

	n, err := l.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, store.Snapshot())
}

func TestRecords_SortedByName(t *testing.T) {
	store := inmemorystore.New(
		ledger.Record{StepName: "WrappedToken"},
		ledger.Record{StepName: "Broker"},
	)
	ctx := context.Background()
	l, err := ledger.Open(ctx, store)
	require.NoError(t, err)
	defer l.Close(ctx)

	recs := l.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, "Broker", recs[0].StepName)
	assert.Equal(t, "WrappedToken", recs[1].StepName)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "Broker at 0x01", ledger.Describe(ledger.Record{StepName: "Broker", ArtifactID: "0x01", Artifact: "Broker"}))
	assert.Equal(t, "Dummy at 0x02 (ERC20Mock)", ledger.Describe(ledger.Record{StepName: "Dummy", ArtifactID: "0x02", Artifact: "ERC20Mock"}))
}
