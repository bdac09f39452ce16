package hcl

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/specialistvlad/deploygrid/internal/config"
	"github.com/specialistvlad/deploygrid/internal/ctxlog"
	"github.com/specialistvlad/deploygrid/internal/fsutil"
	"github.com/zclconf/go-cty/cty"
)

// FileExtension is the extension of deployment configuration files.
const FileExtension = ".hcl"

// ErrNoFiles is returned when the configured paths hold no configuration.
var ErrNoFiles = errors.New("no configuration files found")

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct {
	env map[string]string
}

var _ config.Loader = (*Loader)(nil)

// NewLoader creates a loader whose expressions see env as `env.*`.
func NewLoader(env map[string]string) *Loader {
	if env == nil {
		env = map[string]string{}
	}
	return &Loader{env: env}
}

// Load parses every .hcl file under paths. Accounts are collected from all
// files before any deployment is translated, so a deployment may use an
// account declared in a later file.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := fsutil.FindFilesByExtension(FileExtension, paths...)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %v", ErrNoFiles, paths)
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	model := config.NewModel()
	accounts := make(map[string]string)
	var deployments []*deploymentBlock

	parser := hclparse.NewParser()
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		content, diags := hclFile.Body.Content(fileSchema)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}

		for _, block := range content.Blocks {
			name := block.Labels[0]
			switch block.Type {
			case "account":
				if _, dup := model.Accounts[name]; dup {
					return nil, fmt.Errorf("%s: account %q is declared more than once", block.DefRange, name)
				}
				acct, err := l.translateAccount(name, block)
				if err != nil {
					return nil, err
				}
				model.Accounts[name] = acct
				accounts[name] = acct.Address
			case "deployment":
				d := &deploymentBlock{Name: name, Range: block.DefRange}
				if diags := gohcl.DecodeBody(block.Body, nil, &d.Body); diags.HasErrors() {
					return nil, fmt.Errorf("failed to decode deployment %q: %w", name, diags)
				}
				deployments = append(deployments, d)
			}
		}
	}

	for _, d := range deployments {
		dep, err := l.translateDeployment(ctx, d, accounts)
		if err != nil {
			return nil, err
		}
		model.Deployments = append(model.Deployments, dep)
	}

	logger.Debug("HCL loading complete.", "accounts", len(model.Accounts), "deployments", len(model.Deployments))
	return model, nil
}

// translateAccount evaluates an account address. Only env is in scope.
func (l *Loader) translateAccount(name string, block *hcl.Block) (*config.Account, error) {
	var body accountBody
	if diags := gohcl.DecodeBody(block.Body, nil, &body); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode account %q: %w", name, diags)
	}

	s := &scope{env: l.env}
	for _, trav := range body.Address.Variables() {
		if trav.RootName() != "env" {
			return nil, fmt.Errorf("%s: %w: account %q may only refer to env", trav.SourceRange(), ErrUndeclaredReference, name)
		}
	}
	if err := s.checkReferences(name, body.Address); err != nil {
		return nil, err
	}

	val, diags := body.Address.Value(&hcl.EvalContext{
		Variables: map[string]cty.Value{"env": stringObject(l.env)},
		Functions: functions(),
	})
	if diags.HasErrors() {
		return nil, fmt.Errorf("account %q: %w", name, diags)
	}
	if val.IsNull() || !val.IsKnown() || val.Type() != cty.String {
		return nil, fmt.Errorf("%s: address of account %q must be a string", body.Address.Range(), name)
	}
	return &config.Account{Name: name, Address: val.AsString()}, nil
}

// translateDeployment converts a decoded deployment block into the agnostic
// model, validating its args references up front.
func (l *Loader) translateDeployment(ctx context.Context, d *deploymentBlock, accounts map[string]string) (*config.Deployment, error) {
	deps := make(map[string]struct{}, len(d.Body.DependsOn))
	for _, dep := range d.Body.DependsOn {
		deps[dep] = struct{}{}
	}

	tags := d.Body.Tags
	if tags == nil {
		tags = []string{d.Name}
	}

	out := &config.Deployment{
		Name:      d.Name,
		Artifact:  d.Body.Artifact,
		Tags:      tags,
		DependsOn: d.Body.DependsOn,
		From:      d.Body.From,
		Source:    d.Range.String(),
	}

	if isExprDefined(ctx, d.Body.Args, "args") {
		s := &scope{env: l.env, accounts: accounts, deps: deps}
		if err := s.checkReferences(d.Name, d.Body.Args); err != nil {
			return nil, err
		}
		out.Args = &exprArgs{deployment: d.Name, expr: d.Body.Args, scope: s}
	}
	return out, nil
}

// isExprDefined reports whether an optional attribute was written in the
// source. gohcl fills omitted attributes with a zero-width placeholder.
func isExprDefined(ctx context.Context, expr hcl.Expression, attrName string) bool {
	if expr == nil {
		return false
	}
	r := expr.Range()
	defined := r.End.Byte > r.Start.Byte
	ctxlog.FromContext(ctx).Debug("Checking if HCL attribute was explicitly defined.",
		"attribute", attrName,
		"hcl_range", r.String(),
		"is_defined", defined,
	)
	return defined
}
