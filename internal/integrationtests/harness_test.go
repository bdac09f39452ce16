package integrationtests

import (
	"context"
	"os"
	"testing"

	"github.com/specialistvlad/deploygrid/internal/app"
	"github.com/specialistvlad/deploygrid/internal/hcl"
	"github.com/specialistvlad/deploygrid/internal/inmemorystore"
	"github.com/specialistvlad/deploygrid/internal/ledger"
	"github.com/specialistvlad/deploygrid/internal/pipeline"
	"github.com/specialistvlad/deploygrid/internal/testutil"
	"github.com/stretchr/testify/require"
)

// harness holds the state shared by consecutive runs of one scenario: the
// definitions directory, the environment, the executor and the ledger.
type harness struct {
	t     *testing.T
	dir   string
	env   map[string]string
	exec  *testutil.RecordingExecutor
	store ledger.Store
	logs  *testutil.SafeBuffer
}

func newHarness(t *testing.T, files map[string]string, env map[string]string) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		dir:   testutil.WriteFiles(t, files),
		env:   env,
		exec:  testutil.NewRecordingExecutor(),
		store: inmemorystore.New(),
		logs:  &testutil.SafeBuffer{},
	}
	t.Cleanup(func() {
		if os.Getenv("DEPLOYGRID_TEST_LOGS") == "true" {
			t.Logf("--- Log output for %s ---\n%s", t.Name(), h.logs.String())
		}
	})
	return h
}

// newApp builds a fresh App over the harness state, as a new process would.
func (h *harness) newApp(mutate ...func(*app.Config)) *app.App {
	h.t.Helper()
	cfg := app.DefaultConfig()
	cfg.Network = "sepolia"
	cfg.Paths = []string{h.dir}
	cfg.Log.Level = "debug"
	for _, m := range mutate {
		m(cfg)
	}
	opts := []app.Option{app.WithExecutor(h.exec)}
	if h.store != nil {
		opts = append(opts, app.WithStore(h.store))
	}
	a := app.NewApp(h.logs, cfg, hcl.NewLoader(h.env), opts...)
	h.t.Cleanup(func() { require.NoError(h.t, a.Close()) })
	return a
}

// deploy runs one deployment and fails the test on a run error.
func (h *harness) deploy(opts app.DeployOptions) *pipeline.Report {
	h.t.Helper()
	rep, err := h.newApp().Deploy(context.Background(), opts)
	require.NoError(h.t, err)
	require.NotNil(h.t, rep)
	return rep
}

func statuses(rep *pipeline.Report) map[string]pipeline.Status {
	out := make(map[string]pipeline.Status, len(rep.Results))
	for _, res := range rep.Results {
		out[res.StepName] = res.Status
	}
	return out
}
