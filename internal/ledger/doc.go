// Package ledger keeps the persistent record of what has been deployed.
//
// A Ledger is opened once per run. Opening acquires exclusive access to the
// backing Store and loads every record into memory; from then on the ledger
// owns that map. Each Put replaces a record and immediately writes the whole
// map back, so a crash between steps loses at most the step in flight.
// Close performs a final flush and releases the lock; callers defer it right
// after a successful Open so that it runs on every exit path.
//
// Stores live in their own packages (inmemorystore, filestore, pgstore,
// objectstore). They only move whole record maps and never interpret them.
package ledger
