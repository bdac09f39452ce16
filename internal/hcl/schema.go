package hcl

import "github.com/hashicorp/hcl/v2"

// fileSchema lists the top-level blocks a configuration file may contain.
var fileSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "account", LabelNames: []string{"name"}},
		{Type: "deployment", LabelNames: []string{"name"}},
	},
}

// accountBody is the body of an `account "name" {}` block.
type accountBody struct {
	Address hcl.Expression `hcl:"address"`
}

// deploymentBody is the body of a `deployment "name" {}` block.
type deploymentBody struct {
	Artifact  string         `hcl:"artifact,optional"`
	Tags      []string       `hcl:"tags,optional"`
	DependsOn []string       `hcl:"depends_on,optional"`
	From      string         `hcl:"from,optional"`
	Args      hcl.Expression `hcl:"args,optional"`
}

// deploymentBlock is a decoded deployment together with where it came from.
type deploymentBlock struct {
	Name  string
	Body  deploymentBody
	Range hcl.Range
}
