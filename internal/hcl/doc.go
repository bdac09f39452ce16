// Package hcl provides the concrete HCL implementation of config.Loader.
//
// It parses `account` and `deployment` blocks, validates every variable an
// `args` expression refers to, and binds the expression into a
// registry.Arguments value that is evaluated only when the step runs, once
// the addresses of its dependencies are known.
//
// Expressions see three root variables:
//
//	env.NAME                  process environment, merged with a dotenv file
//	account.NAME.address      declared accounts
//	deployment.NAME.address   deployed dependencies listed in depends_on
package hcl
