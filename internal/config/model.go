package config

import (
	"fmt"

	"github.com/specialistvlad/deploygrid/internal/registry"
)

// Model is the unified, format-agnostic representation of every deployment
// definition found in the configuration files.
type Model struct {
	Accounts    map[string]*Account
	Deployments []*Deployment
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{Accounts: make(map[string]*Account)}
}

// Account is a named signer.
type Account struct {
	Name    string
	Address string
}

// Deployment is the format-agnostic representation of one deployment
// declaration.
type Deployment struct {
	Name      string
	Artifact  string
	Tags      []string
	DependsOn []string
	From      string
	Args      registry.Arguments
	// Source locates the declaration, e.g. "deploy/core.hcl:12".
	Source string
}

// Registry registers every deployment, in declaration order, into a new
// registry.
func (m *Model) Registry() (*registry.Registry, error) {
	reg := registry.New()
	for _, d := range m.Deployments {
		if d.From != "" {
			if _, ok := m.Accounts[d.From]; !ok && d.From != registry.DefaultAccount {
				return nil, fmt.Errorf("%s: deployment %q uses undeclared account %q", d.Source, d.Name, d.From)
			}
		}
		step := &registry.Step{
			Name:      d.Name,
			Tags:      d.Tags,
			DependsOn: d.DependsOn,
			Artifact:  d.Artifact,
			From:      d.From,
			Args:      d.Args,
		}
		if err := reg.Register(step); err != nil {
			if d.Source != "" {
				return nil, fmt.Errorf("%s: %w", d.Source, err)
			}
			return nil, err
		}
	}
	return reg, nil
}
