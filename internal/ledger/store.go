package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLocked is returned when another run holds the ledger.
	ErrLocked = errors.New("ledger is locked by another run")
	// ErrCorrupt is returned when persisted ledger state cannot be parsed.
	ErrCorrupt = errors.New("ledger is corrupt")
	// ErrIO wraps read and write failures of the backing store.
	ErrIO = errors.New("ledger i/o failure")
)

// Record is the persisted outcome of one successful deployment.
type Record struct {
	StepName   string    `json:"step_name" yaml:"step_name"`
	ArtifactID string    `json:"artifact_id" yaml:"artifact_id"`
	ArgsHash   string    `json:"args_hash" yaml:"args_hash"`
	Artifact   string    `json:"artifact,omitempty" yaml:"artifact,omitempty"`
	DeployedAt time.Time `json:"deployed_at" yaml:"deployed_at"`
}

// Store persists the complete record map of one network.
type Store interface {
	// Lock acquires exclusive access or fails with ErrLocked.
	Lock(ctx context.Context) error
	// Unlock releases access acquired by Lock.
	Unlock(ctx context.Context) error
	// Load returns every persisted record keyed by step name. Missing state
	// is an empty map, unparseable state is ErrCorrupt.
	Load(ctx context.Context) (map[string]Record, error)
	// Save replaces the persisted state with records.
	Save(ctx context.Context, records map[string]Record) error
}
