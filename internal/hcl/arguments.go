package hcl

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/deploygrid/internal/ctxlog"
	"github.com/specialistvlad/deploygrid/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

// exprArgs is a deferred args expression. It implements registry.Arguments.
type exprArgs struct {
	deployment string
	expr       hcl.Expression
	scope      *scope
}

var _ registry.Arguments = (*exprArgs)(nil)

// Resolve evaluates the expression against the addresses of the deployed
// dependencies.
func (a *exprArgs) Resolve(ctx context.Context, refs registry.References) ([]cty.Value, error) {
	logger := ctxlog.FromContext(ctx).With("deployment", a.deployment)
	logger.Debug("Evaluating args expression.", "hcl_range", a.expr.Range().String())

	val, diags := a.expr.Value(a.scope.evalContext(refs))
	if diags.HasErrors() {
		return nil, diags
	}
	if val.IsNull() {
		return nil, nil
	}
	if !val.IsWhollyKnown() {
		return nil, fmt.Errorf("%s: args of %q are not fully known", a.expr.Range(), a.deployment)
	}

	ty := val.Type()
	if !ty.IsTupleType() && !ty.IsListType() {
		return nil, fmt.Errorf("%s: args of %q must be a list, got %s", a.expr.Range(), a.deployment, ty.FriendlyName())
	}

	out := make([]cty.Value, 0, val.LengthInt())
	it := val.ElementIterator()
	for it.Next() {
		_, elem := it.Element()
		out = append(out, elem)
	}
	logger.Debug("Evaluated args expression.", "count", len(out))
	return out, nil
}
