package hcl

import (
	"errors"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/deploygrid/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

// ErrUndeclaredReference is returned when an args expression refers to a
// name outside its scope.
var ErrUndeclaredReference = errors.New("undeclared reference")

// scope is what an args expression of one deployment may refer to.
type scope struct {
	env      map[string]string
	accounts map[string]string
	deps     map[string]struct{}
}

// checkReferences validates every variable the expression refers to.
func (s *scope) checkReferences(deployment string, expr hcl.Expression) error {
	var errs []error
	for _, trav := range expr.Variables() {
		root := trav.RootName()
		key, ok := traversalKey(trav)
		rng := trav.SourceRange()

		switch root {
		case "env", "account", "deployment":
			if !ok {
				errs = append(errs, fmt.Errorf("%s: %s must be followed by a name", rng, root))
				continue
			}
		default:
			errs = append(errs, fmt.Errorf("%s: %w: unknown variable %q", rng, ErrUndeclaredReference, root))
			continue
		}

		switch root {
		case "env":
			if _, set := s.env[key]; !set {
				errs = append(errs, fmt.Errorf("%s: %w: environment variable %q is not set", rng, ErrUndeclaredReference, key))
			}
		case "account":
			if _, declared := s.accounts[key]; !declared {
				errs = append(errs, fmt.Errorf("%s: %w: account %q is not declared", rng, ErrUndeclaredReference, key))
			}
		case "deployment":
			if _, listed := s.deps[key]; !listed {
				errs = append(errs, fmt.Errorf("%s: %w: deployment %q refers to %q without listing it in depends_on", rng, ErrUndeclaredReference, deployment, key))
			}
		}
	}
	return errors.Join(errs...)
}

// evalContext builds the evaluation context for one resolution.
func (s *scope) evalContext(refs registry.References) *hcl.EvalContext {
	deployed := make(map[string]string, len(s.deps))
	for name := range s.deps {
		if id, ok := refs[name]; ok {
			deployed[name] = id
		}
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env":        stringObject(s.env),
			"account":    addressObject(s.accounts),
			"deployment": addressObject(deployed),
		},
		Functions: functions(),
	}
}

// traversalKey returns the name following the root of a traversal, written
// either as root.name or root["name"].
func traversalKey(trav hcl.Traversal) (string, bool) {
	if len(trav) < 2 {
		return "", false
	}
	switch step := trav[1].(type) {
	case hcl.TraverseAttr:
		return step.Name, true
	case hcl.TraverseIndex:
		if step.Key.Type() == cty.String && step.Key.IsKnown() && !step.Key.IsNull() {
			return step.Key.AsString(), true
		}
	}
	return "", false
}

func stringObject(m map[string]string) cty.Value {
	attrs := make(map[string]cty.Value, len(m))
	for k, v := range m {
		attrs[k] = cty.StringVal(v)
	}
	return cty.ObjectVal(attrs)
}

// addressObject turns name -> address into {name = {address = "..."}}.
func addressObject(m map[string]string) cty.Value {
	attrs := make(map[string]cty.Value, len(m))
	for k, v := range m {
		attrs[k] = cty.ObjectVal(map[string]cty.Value{"address": cty.StringVal(v)})
	}
	return cty.ObjectVal(attrs)
}
