package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/specialistvlad/deploygrid/internal/app"
	"github.com/specialistvlad/deploygrid/internal/dag"
	"github.com/specialistvlad/deploygrid/internal/hcl"
	"github.com/specialistvlad/deploygrid/internal/registry"
	"github.com/specialistvlad/deploygrid/internal/report"
	"github.com/specialistvlad/deploygrid/internal/selection"
)

// Exit codes.
const (
	ExitFailedSteps = 1
	ExitUsage       = 2
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(err error) error {
	return &ExitError{Code: ExitUsage, Message: err.Error()}
}

// configurationErrors abort a run before anything is deployed.
var configurationErrors = []error{
	app.ErrConfiguration,
	app.ErrForceNotPlanned,
	dag.ErrCyclicDependency,
	dag.ErrUnknownDependency,
	selection.ErrEmptySelection,
	registry.ErrDuplicateName,
	registry.ErrInvalidStep,
	hcl.ErrUndeclaredReference,
	hcl.ErrNoFiles,
}

// classify turns configuration errors into usage exits. Ledger, executor and
// other runtime errors pass through.
func classify(err error) error {
	for _, target := range configurationErrors {
		if errors.Is(err, target) {
			return usageError(err)
		}
	}
	return err
}

// rootOptions hold the persistent flags. A flag only overrides the config
// file and environment when it was set explicitly.
type rootOptions struct {
	configPath  string
	network     string
	ledger      string
	logLevel    string
	logFormat   string
	dotenv      string
	metricsFile string

	errW io.Writer
}

// NewRootCommand builds the deploygrid command tree. Command output goes to
// outW, logs go to errW.
func NewRootCommand(outW, errW io.Writer) *cobra.Command {
	opts := &rootOptions{errW: errW}

	root := &cobra.Command{
		Use:   "deploygrid",
		Short: "Declarative, dependency-aware deployment orchestrator",
		Long: `deploygrid reads deployment definitions from HCL files, orders them by
their dependencies and deploys every step whose inputs changed since the
last run recorded in the ledger.

Examples:
  # Deploy everything under ./deploy to sepolia
  deploygrid deploy --network sepolia

  # Show what would run for two tags
  deploygrid deploy --tags Broker,ShareToken --dry-run

  # Forget a deployment so the next run redeploys it
  deploygrid ledger reset StrategyCompound`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(outW)
	root.SetErr(errW)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "deploygrid.yaml", "Path to the YAML config file; a missing file is ignored.")
	pf.StringVarP(&opts.network, "network", "n", "", "Target network; selects the ledger partition.")
	pf.StringVar(&opts.ledger, "ledger", "", "Ledger URL: memory://, file://DIR, postgres://..., s3://BUCKET/PREFIX.")
	pf.StringVar(&opts.logLevel, "log-level", "", "Logging level: 'debug', 'info', 'warn', 'error'.")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log output format: 'text' or 'json'.")
	pf.StringVar(&opts.dotenv, "dotenv", "", "Dotenv file merged into the environment seen by env.*.")
	pf.StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics of the run to this file.")

	root.AddCommand(
		newDeployCommand(opts),
		newPlanCommand(opts),
		newLedgerCommand(opts),
	)
	return root
}

// Execute runs the command tree with args.
func Execute(ctx context.Context, outW, errW io.Writer, args []string) error {
	root := NewRootCommand(outW, errW)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// loadConfig layers explicitly set flags over the config file and
// environment, and applies positional paths.
func (o *rootOptions) loadConfig(cmd *cobra.Command, paths []string) (*app.Config, error) {
	cfg, err := app.LoadConfig(o.configPath)
	if err != nil {
		return nil, usageError(err)
	}

	flags := cmd.Flags()
	for name, dst := range map[string]*string{
		"network":      &cfg.Network,
		"ledger":       &cfg.Ledger,
		"log-level":    &cfg.Log.Level,
		"log-format":   &cfg.Log.Format,
		"dotenv":       &cfg.Dotenv,
		"metrics-file": &cfg.MetricsFile,
	} {
		if flags.Changed(name) {
			v, err := flags.GetString(name)
			if err != nil {
				return nil, usageError(err)
			}
			*dst = v
		}
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	if len(paths) > 0 {
		cfg.Paths = paths
	}

	if err := cfg.Validate(); err != nil {
		return nil, usageError(fmt.Errorf("config validation failed: %w", err))
	}
	return cfg, nil
}

// newApp builds an App reading HCL definitions with the merged environment.
func (o *rootOptions) newApp(cmd *cobra.Command, paths []string) (*app.App, error) {
	cfg, err := o.loadConfig(cmd, paths)
	if err != nil {
		return nil, err
	}
	env, err := hcl.Environment(cfg.Dotenv)
	if err != nil {
		return nil, usageError(err)
	}
	return app.NewApp(o.errW, cfg, hcl.NewLoader(env)), nil
}

type deployOptions struct {
	tags   []string
	only   []string
	force  []string
	dryRun bool
}

func newDeployCommand(root *rootOptions) *cobra.Command {
	opts := &deployOptions{}
	cmd := &cobra.Command{
		Use:   "deploy [paths...]",
		Short: "Deploy every selected step whose inputs changed",
		Long: `Deploy loads the definitions under the given paths (or the configured
ones), resolves the selected steps with their dependencies and runs them in
order. Steps recorded in the ledger with the same arguments are skipped.

A failed step does not stop independent steps; its dependents are marked
failed. The command exits with status 1 when any step failed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.newApp(cmd, args)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.Deploy(cmd.Context(), app.DeployOptions{
				Selection: app.Selection{Tags: opts.tags, Names: opts.only},
				DryRun:    opts.dryRun,
				Force:     opts.force,
			})
			if rep != nil {
				if rerr := report.Run(cmd.OutOrStdout(), rep); rerr != nil {
					err = errors.Join(err, rerr)
				}
			}
			if err != nil {
				return classify(err)
			}
			if rep.HasFailures() {
				return &ExitError{
					Code:    ExitFailedSteps,
					Message: fmt.Sprintf("%d of %d steps failed", len(rep.Failed()), len(rep.Results)),
				}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringSliceVarP(&opts.tags, "tags", "t", nil, "Deploy the steps carrying any of these tags, plus their dependencies.")
	f.StringSliceVar(&opts.only, "only", nil, "Deploy exactly these steps, plus their dependencies.")
	f.StringSliceVar(&opts.force, "force", nil, "Redeploy these steps even when the ledger is current.")
	f.BoolVar(&opts.dryRun, "dry-run", false, "Report what would be deployed without deploying or writing the ledger.")
	cmd.MarkFlagsMutuallyExclusive("tags", "only")
	return cmd
}

func newPlanCommand(root *rootOptions) *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "plan [paths...]",
		Short: "Print the execution order of the selected steps",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.newApp(cmd, args)
			if err != nil {
				return err
			}
			defer a.Close()

			plan, err := a.Plan(cmd.Context(), app.Selection{Tags: tags})
			if err != nil {
				return classify(err)
			}
			w := cmd.OutOrStdout()
			for i, s := range plan.Steps() {
				line := fmt.Sprintf("%3d. %s", i+1, s.Name)
				if len(s.DependsOn) > 0 {
					line += " <- " + strings.Join(s.DependsOn, ", ")
				}
				if _, err := fmt.Fprintln(w, line); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&tags, "tags", "t", nil, "Plan only the steps carrying any of these tags, plus their dependencies.")
	return cmd
}

// Ledger output formats.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

func newLedgerCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect or edit the deployment ledger of a network",
	}

	var output string
	list := &cobra.Command{
		Use:   "list",
		Short: "List the recorded deployments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch output {
			case outputTable, outputJSON, outputYAML:
			default:
				return usageError(fmt.Errorf("invalid output %q: must be 'table', 'json', or 'yaml'", output))
			}
			a, err := root.newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.LedgerRecords(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			switch output {
			case outputJSON:
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			case outputYAML:
				enc := yaml.NewEncoder(w)
				enc.SetIndent(2)
				if err := enc.Encode(records); err != nil {
					return err
				}
				return enc.Close()
			default:
				return report.Ledger(w, a.Config().Network, records)
			}
		},
	}
	list.Flags().StringVarP(&output, "output", "o", outputTable, "Output format: 'table', 'json', or 'yaml'.")

	reset := &cobra.Command{
		Use:   "reset [names...]",
		Short: "Forget recorded deployments so the next run redeploys them",
		Long: `Reset removes the named steps from the ledger. Without names every record
of the network is removed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.newApp(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			removed, err := a.LedgerReset(cmd.Context(), args...)
			if err != nil {
				return err
			}
			if len(removed) == 0 {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "nothing to remove")
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", strings.Join(removed, ", "))
			return err
		},
	}

	cmd.AddCommand(list, reset)
	return cmd
}
