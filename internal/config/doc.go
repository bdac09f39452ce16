// Package config defines the format-agnostic deployment model and the Loader
// interface that fills it.
//
// The `config.Model` is the single source of truth for building the step
// registry. Concrete loaders, such as the HCL one, live in separate packages
// and hand over arguments as already-bound registry.Arguments values so that
// nothing downstream depends on the configuration format.
package config
