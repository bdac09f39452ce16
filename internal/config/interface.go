package config

import (
	"context"
)

// Loader is the interface for a format-specific configuration loader.
type Loader interface {
	// Load reads every configuration file under paths and translates it into
	// the format-agnostic model. Declaration order across files follows the
	// lexical order of their paths.
	Load(ctx context.Context, paths ...string) (*Model, error)
}
