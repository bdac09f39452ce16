package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/specialistvlad/deploygrid/internal/config"
	"github.com/specialistvlad/deploygrid/internal/ctxlog"
	"github.com/specialistvlad/deploygrid/internal/dag"
	"github.com/specialistvlad/deploygrid/internal/ledger"
	"github.com/specialistvlad/deploygrid/internal/metrics"
	"github.com/specialistvlad/deploygrid/internal/pipeline"
	"github.com/specialistvlad/deploygrid/internal/registry"
	"github.com/specialistvlad/deploygrid/internal/selection"
)

var (
	// ErrConfiguration wraps failures to load or register the deployment
	// definitions.
	ErrConfiguration = errors.New("failed to load configuration")
	// ErrForceNotPlanned is returned when a forced step is not part of the plan.
	ErrForceNotPlanned = errors.New("forced step is not in the plan")
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	cfg    *Config
	logger *slog.Logger
	loader config.Loader

	executor pipeline.Executor

	mu         sync.Mutex
	store      ledger.Store
	closeStore closeFunc
	closers    []closeFunc
}

// Option customizes an App.
type Option func(*App)

// WithExecutor replaces the configured executor.
func WithExecutor(exec pipeline.Executor) Option {
	return func(a *App) { a.executor = exec }
}

// WithStore replaces the store selected by the ledger URL.
func WithStore(store ledger.Store) Option {
	return func(a *App) { a.store = store }
}

// NewApp creates an App that logs to logW and reads definitions through loader.
func NewApp(logW io.Writer, cfg *Config, loader config.Loader, opts ...Option) *App {
	a := &App{
		cfg:    cfg,
		logger: newLogger(cfg.Log.Level, cfg.Log.Format, logW),
		loader: loader,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger.Debug("Logger configured successfully.")
	return a
}

// Config returns the app's configuration.
func (a *App) Config() *Config {
	return a.cfg
}

// Context attaches the app's logger to ctx.
func (a *App) Context(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, a.logger.With("network", a.cfg.Network))
}

// Selection picks the steps of a run. Names wins over Tags when both are set.
type Selection struct {
	Tags  []string
	Names []string
}

// Registry loads every definition into a new registry.
func (a *App) Registry(ctx context.Context) (*registry.Registry, error) {
	return a.registry(a.Context(ctx))
}

func (a *App) registry(ctx context.Context) (*registry.Registry, error) {
	logger := ctxlog.FromContext(ctx)

	model, err := a.loader.Load(ctx, a.cfg.Paths...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	logger.Debug("Configuration loaded and translated into unified model.", "deployments", len(model.Deployments))

	reg, err := model.Registry()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	logger.Debug("Registry populated.", "steps", reg.Len())
	return reg, nil
}

// Plan loads the definitions and resolves the selection into an ordered plan.
func (a *App) Plan(ctx context.Context, sel Selection) (*dag.Plan, error) {
	return a.plan(a.Context(ctx), sel)
}

func (a *App) plan(ctx context.Context, sel Selection) (*dag.Plan, error) {
	reg, err := a.registry(ctx)
	if err != nil {
		return nil, err
	}

	var steps []*registry.Step
	if len(sel.Names) > 0 {
		steps, err = selection.Names(reg, sel.Names)
	} else {
		steps, err = selection.Select(reg, sel.Tags)
	}
	if err != nil {
		return nil, err
	}

	plan, err := dag.Resolve(reg, steps)
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("Plan resolved.", "steps", plan.Names())
	return plan, nil
}

// DeployOptions tune one Deploy call.
type DeployOptions struct {
	Selection
	DryRun bool
	Force  []string
}

// Deploy plans the selection and runs it against the ledger. The report is
// returned even when some steps failed; callers check HasFailures.
func (a *App) Deploy(ctx context.Context, opts DeployOptions) (*pipeline.Report, error) {
	ctx = a.Context(ctx)
	logger := ctxlog.FromContext(ctx)

	plan, err := a.plan(ctx, opts.Selection)
	if err != nil {
		return nil, err
	}
	var unplanned []string
	for _, name := range opts.Force {
		if !plan.Contains(name) {
			unplanned = append(unplanned, name)
		}
	}
	if len(unplanned) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrForceNotPlanned, unplanned)
	}

	store, err := a.ledgerStore(ctx)
	if err != nil {
		return nil, err
	}

	exec := dryRunExecutor()
	if !opts.DryRun {
		if exec, err = a.deployExecutor(ctx); err != nil {
			return nil, err
		}
	}

	recorder := metrics.New(a.cfg.Network)
	p := pipeline.New(exec, store, pipeline.Options{
		Network:  a.cfg.Network,
		DryRun:   opts.DryRun,
		Force:    opts.Force,
		Observer: recorder,
	})

	report, runErr := p.Run(ctx, plan)

	if a.cfg.MetricsFile != "" && report != nil {
		if err := recorder.WriteTextfile(a.cfg.MetricsFile); err != nil {
			logger.Error("Writing metrics failed.", "path", a.cfg.MetricsFile, "error", err)
			runErr = errors.Join(runErr, fmt.Errorf("write metrics: %w", err))
		}
	}
	return report, runErr
}

// LedgerRecords returns every record of the configured network.
func (a *App) LedgerRecords(ctx context.Context) ([]ledger.Record, error) {
	ctx = a.Context(ctx)
	store, err := a.ledgerStore(ctx)
	if err != nil {
		return nil, err
	}
	l, err := ledger.Open(ctx, store)
	if err != nil {
		return nil, err
	}
	records := l.Records()
	return records, l.Close(ctx)
}

// LedgerReset forgets the named steps, or every step when names is empty.
// It returns the names that were removed.
func (a *App) LedgerReset(ctx context.Context, names ...string) (removed []string, err error) {
	ctx = a.Context(ctx)
	logger := ctxlog.FromContext(ctx)
	store, err := a.ledgerStore(ctx)
	if err != nil {
		return nil, err
	}
	l, err := ledger.Open(ctx, store)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, l.Close(context.WithoutCancel(ctx)))
	}()

	if len(names) == 0 {
		for _, rec := range l.Records() {
			removed = append(removed, rec.StepName)
		}
		n, err := l.Reset(ctx)
		if err != nil {
			return nil, err
		}
		logger.Info("Ledger reset.", "removed", n)
		return removed, nil
	}

	removed, err = l.Delete(ctx, names...)
	if err != nil {
		return nil, err
	}
	logger.Info("Ledger entries removed.", "removed", removed)
	return removed, nil
}

// Close releases the executor and the ledger store.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	if a.closeStore != nil {
		errs = append(errs, a.closeStore())
		a.closeStore = nil
	}
	return errors.Join(errs...)
}

// ledgerStore opens the configured store once and reuses it afterwards.
func (a *App) ledgerStore(ctx context.Context) (ledger.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store != nil {
		return a.store, nil
	}
	store, closeFn, err := openStore(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	a.store, a.closeStore = store, closeFn
	return store, nil
}

func (a *App) deployExecutor(ctx context.Context) (pipeline.Executor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.executor != nil {
		return a.executor, nil
	}
	exec, closeFn, err := openExecutor(ctx, a.cfg.Executor)
	if err != nil {
		return nil, fmt.Errorf("open executor: %w", err)
	}
	a.executor = exec
	a.closers = append(a.closers, closeFn)
	return exec, nil
}
