// Package pgstore persists the ledger in PostgreSQL.
//
// Every network's records live in one table, keyed by (network, step_name).
// Exclusive access uses a session-level advisory lock on a dedicated
// connection, so a crashed run releases the lock when its connection drops.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/specialistvlad/deploygrid/internal/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS deploygrid_ledger (
	network     TEXT        NOT NULL,
	step_name   TEXT        NOT NULL,
	artifact_id TEXT        NOT NULL,
	args_hash   TEXT        NOT NULL,
	artifact    TEXT        NOT NULL DEFAULT '',
	deployed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (network, step_name)
)`

// Config configures the PostgreSQL connection.
type Config struct {
	URL         string
	Network     string
	PingTimeout time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("postgres ledger: URL is required")
	}
	if c.Network == "" {
		return errors.New("postgres ledger: network is required")
	}
	if c.PingTimeout < 0 {
		return errors.New("postgres ledger: ping timeout must be >= 0")
	}
	return nil
}

// Store is a ledger.Store backed by PostgreSQL.
type Store struct {
	db      *sql.DB
	network string

	lockConn *sql.Conn
}

// Open connects, pings, and ensures the ledger table exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PingTimeout == 0 {
		cfg.PingTimeout = 5 * time.Second
	}

	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create ledger table: %w", err)
	}
	return &Store{db: db, network: cfg.Network}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.lockConn != nil {
		_ = s.lockConn.Close()
		s.lockConn = nil
	}
	return s.db.Close()
}

// Lock implements ledger.Store with pg_try_advisory_lock.
func (s *Store) Lock(ctx context.Context) error {
	if s.lockConn != nil {
		return fmt.Errorf("%w: already held by this process", ledger.ErrLocked)
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire lock connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, lockKey(s.network)).Scan(&acquired); err != nil {
		_ = conn.Close()
		return fmt.Errorf("advisory lock: %w", err)
	}
	if !acquired {
		_ = conn.Close()
		return fmt.Errorf("%w: network %q", ledger.ErrLocked, s.network)
	}
	s.lockConn = conn
	return nil
}

// Unlock implements ledger.Store.
func (s *Store) Unlock(ctx context.Context) error {
	if s.lockConn == nil {
		return nil
	}
	conn := s.lockConn
	s.lockConn = nil
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, lockKey(s.network)); err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}

// Load implements ledger.Store.
func (s *Store) Load(ctx context.Context) (map[string]ledger.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_name, artifact_id, args_hash, artifact, deployed_at
		FROM deploygrid_ledger
		WHERE network = $1`, s.network)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	records := make(map[string]ledger.Record)
	for rows.Next() {
		var rec ledger.Record
		if err := rows.Scan(&rec.StepName, &rec.ArtifactID, &rec.ArgsHash, &rec.Artifact, &rec.DeployedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ledger.ErrCorrupt, err)
		}
		rec.DeployedAt = rec.DeployedAt.UTC()
		records[rec.StepName] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read ledger rows: %w", err)
	}
	return records, nil
}

// Save implements ledger.Store by replacing the network's rows in one
// transaction.
func (s *Store) Save(ctx context.Context, records map[string]ledger.Record) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM deploygrid_ledger WHERE network = $1`, s.network); err != nil {
		return fmt.Errorf("clear ledger: %w", err)
	}
	for _, rec := range records {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO deploygrid_ledger (network, step_name, artifact_id, args_hash, artifact, deployed_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			s.network, rec.StepName, rec.ArtifactID, rec.ArgsHash, rec.Artifact, rec.DeployedAt,
		); err != nil {
			return fmt.Errorf("insert %q: %w", rec.StepName, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func lockKey(network string) string {
	return "deploygrid:" + network
}
