package registry

import (
	"context"
	"slices"

	"github.com/zclconf/go-cty/cty"
)

// DefaultAccount is the signing account used when a step does not name one.
const DefaultAccount = "deployer"

// References maps the names of already-deployed steps to their artifact
// identifiers. It is what a step's arguments may refer to at resolution time.
type References map[string]string

// Arguments produces the ordered constructor arguments of a step. Resolution
// happens right before the step is considered for deployment, once its
// dependencies have artifact identifiers.
type Arguments interface {
	Resolve(ctx context.Context, refs References) ([]cty.Value, error)
}

// StaticArgs is a fixed argument list that ignores references.
type StaticArgs []cty.Value

// Resolve implements Arguments.
func (a StaticArgs) Resolve(context.Context, References) ([]cty.Value, error) {
	return slices.Clone(a), nil
}

// ArgumentsFunc adapts a plain function to the Arguments interface.
type ArgumentsFunc func(ctx context.Context, refs References) ([]cty.Value, error)

// Resolve implements Arguments.
func (f ArgumentsFunc) Resolve(ctx context.Context, refs References) ([]cty.Value, error) {
	return f(ctx, refs)
}

// Step is one declared deployment.
type Step struct {
	// Name is unique within a registry.
	Name string
	// Index is the zero-based registration order. Register fills it in.
	Index int
	// Tags the step can be selected by.
	Tags []string
	// DependsOn lists the names of steps that must be deployed first, in
	// declaration order.
	DependsOn []string
	// Artifact references the build output to deploy. Defaults to Name.
	Artifact string
	// From names the signing account.
	From string
	// Args yields the constructor arguments. Nil means no arguments.
	Args Arguments
}

// HasTag reports whether the step carries the given tag.
func (s *Step) HasTag(tag string) bool {
	return slices.Contains(s.Tags, tag)
}

// ArtifactRef returns the build-artifact reference, falling back to the step name.
func (s *Step) ArtifactRef() string {
	if s.Artifact != "" {
		return s.Artifact
	}
	return s.Name
}

// Account returns the signing account, falling back to DefaultAccount.
func (s *Step) Account() string {
	if s.From != "" {
		return s.From
	}
	return DefaultAccount
}

// ResolveArgs resolves the step's arguments against the given references.
func (s *Step) ResolveArgs(ctx context.Context, refs References) ([]cty.Value, error) {
	if s.Args == nil {
		return nil, nil
	}
	return s.Args.Resolve(ctx, refs)
}
