package ledger

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/specialistvlad/deploygrid/internal/ctxlog"
)

// Ledger is the in-memory view of a Store, held under the store's lock.
type Ledger struct {
	store Store

	mu      sync.Mutex
	records map[string]Record
	dirty   bool
	closed  bool
}

// Open locks store and loads its records.
func Open(ctx context.Context, store Store) (*Ledger, error) {
	logger := ctxlog.FromContext(ctx)

	if err := store.Lock(ctx); err != nil {
		return nil, classify("lock", err)
	}

	records, err := store.Load(ctx)
	if err != nil {
		if uerr := store.Unlock(ctx); uerr != nil {
			logger.Warn("Releasing ledger lock after failed load.", "error", uerr)
		}
		return nil, classify("load", err)
	}
	if records == nil {
		records = make(map[string]Record)
	}
	for name, rec := range records {
		if rec.StepName == "" {
			rec.StepName = name
			records[name] = rec
		}
		if rec.StepName != name {
			if uerr := store.Unlock(ctx); uerr != nil {
				logger.Warn("Releasing ledger lock after corrupt load.", "error", uerr)
			}
			return nil, fmt.Errorf("%w: record keyed %q names step %q", ErrCorrupt, name, rec.StepName)
		}
	}

	logger.Debug("Ledger opened.", "records", len(records))
	return &Ledger{store: store, records: records}, nil
}

// Get returns the record for step, if any.
func (l *Ledger) Get(step string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[step]
	return rec, ok
}

// Records returns a snapshot of every record, sorted by step name.
func (l *Ledger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, 0, len(l.records))
	for _, name := range slices.Sorted(maps.Keys(l.records)) {
		out = append(out, l.records[name])
	}
	return out
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Put replaces the record of rec.StepName and flushes. When the flush fails
// the record stays in memory and Close retries the write.
func (l *Ledger) Put(ctx context.Context, rec Record) error {
	if rec.StepName == "" {
		return errors.New("ledger: record without step name")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("ledger: put after close")
	}
	l.records[rec.StepName] = rec
	return l.flushLocked(ctx)
}

// Delete removes the records of the given steps and flushes. It returns the
// names that had a record.
func (l *Ledger) Delete(ctx context.Context, steps ...string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var removed []string
	for _, s := range steps {
		if _, ok := l.records[s]; ok {
			delete(l.records, s)
			removed = append(removed, s)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}
	return removed, l.flushLocked(ctx)
}

// Reset removes every record and flushes.
func (l *Ledger) Reset(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.records)
	l.records = make(map[string]Record)
	return n, l.flushLocked(ctx)
}

// Flush writes the full record map to the store.
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked(ctx)
}

// Close writes back any change a failed flush left behind and releases the
// store's lock. Subsequent calls are no-ops.
func (l *Ledger) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	var flushErr error
	if l.dirty {
		flushErr = l.flushLocked(ctx)
	}
	unlockErr := l.store.Unlock(ctx)
	if unlockErr != nil {
		unlockErr = classify("unlock", unlockErr)
	}
	return errors.Join(flushErr, unlockErr)
}

func (l *Ledger) flushLocked(ctx context.Context) error {
	l.dirty = true
	if err := l.store.Save(ctx, maps.Clone(l.records)); err != nil {
		return classify("save", err)
	}
	l.dirty = false
	return nil
}

// classify keeps ErrLocked and ErrCorrupt as they are and marks everything
// else as an I/O failure.
func classify(op string, err error) error {
	if errors.Is(err, ErrLocked) || errors.Is(err, ErrCorrupt) || errors.Is(err, ErrIO) {
		return fmt.Errorf("ledger %s: %w", op, err)
	}
	return fmt.Errorf("ledger %s: %w: %w", op, ErrIO, err)
}

// Describe renders a one-line summary of a record.
func Describe(rec Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s at %s", rec.StepName, rec.ArtifactID)
	if rec.Artifact != "" && rec.Artifact != rec.StepName {
		fmt.Fprintf(&b, " (%s)", rec.Artifact)
	}
	return b.String()
}
