// Package filestore persists the ledger as one JSON document per network on
// the local filesystem.
//
// Layout:
//
//	<dir>/<network>/ledger.json   records, written atomically
//	<dir>/<network>/ledger.lock   present while a run holds the ledger
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/specialistvlad/deploygrid/internal/ledger"
)

const (
	ledgerFile = "ledger.json"
	lockFile   = "ledger.lock"

	formatVersion = 1
)

// DefaultNetwork names the directory used when no network is given.
const DefaultNetwork = "default"

// document is the on-disk shape of ledger.json.
type document struct {
	Version int                      `json:"version"`
	Network string                   `json:"network"`
	Records map[string]ledger.Record `json:"records"`
}

// lockInfo is written into the lock file to identify its owner.
type lockInfo struct {
	Owner    string    `json:"owner"`
	PID      int       `json:"pid"`
	Acquired time.Time `json:"acquired"`
}

// Store is a ledger.Store backed by files under one network directory.
type Store struct {
	dir     string
	network string
	owner   string
}

// New returns a store rooted at dir for the given network.
func New(dir, network string) *Store {
	if network == "" {
		network = DefaultNetwork
	}
	return &Store{
		dir:     filepath.Join(dir, network),
		network: network,
		owner:   uuid.NewString(),
	}
}

// Path returns the location of the ledger document.
func (s *Store) Path() string { return filepath.Join(s.dir, ledgerFile) }

func (s *Store) lockPath() string { return filepath.Join(s.dir, lockFile) }

// Lock implements ledger.Store by creating the lock file exclusively.
func (s *Store) Lock(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(s.lockPath(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s (%s)", ledger.ErrLocked, s.lockPath(), s.describeHolder())
		}
		return err
	}
	defer f.Close()

	info := lockInfo{Owner: s.owner, PID: os.Getpid(), Acquired: time.Now().UTC()}
	if err := json.NewEncoder(f).Encode(info); err != nil {
		_ = os.Remove(s.lockPath())
		return err
	}
	return f.Sync()
}

// Unlock implements ledger.Store. It only removes a lock this store owns.
func (s *Store) Unlock(ctx context.Context) error {
	info, err := s.readLock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if info.Owner != s.owner {
		return fmt.Errorf("lock %s is held by %s", s.lockPath(), info.Owner)
	}
	return os.Remove(s.lockPath())
}

// Load implements ledger.Store.
func (s *Store) Load(ctx context.Context) (map[string]ledger.Record, error) {
	var doc document
	err := readJSONStrict(s.Path(), &doc)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return map[string]ledger.Record{}, nil
	case err != nil:
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %v", ledger.ErrCorrupt, s.Path(), err)
	}

	if doc.Version != formatVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", ledger.ErrCorrupt, s.Path(), doc.Version)
	}
	if doc.Records == nil {
		doc.Records = map[string]ledger.Record{}
	}
	return doc.Records, nil
}

// Save implements ledger.Store.
func (s *Store) Save(ctx context.Context, records map[string]ledger.Record) error {
	if records == nil {
		records = map[string]ledger.Record{}
	}
	data, err := json.MarshalIndent(document{
		Version: formatVersion,
		Network: s.network,
		Records: records,
	}, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomicDurable(s.Path(), append(data, '\n'), 0o644)
}

func (s *Store) readLock() (lockInfo, error) {
	var info lockInfo
	data, err := os.ReadFile(s.lockPath())
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("unreadable lock file %s: %w", s.lockPath(), err)
	}
	return info, nil
}

func (s *Store) describeHolder() string {
	info, err := s.readLock()
	if err != nil {
		return "holder unknown"
	}
	return fmt.Sprintf("held by pid %d since %s", info.PID, info.Acquired.Format(time.RFC3339))
}

func readJSONStrict(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return errors.New("empty document")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("trailing content")
	}
	return nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
