// Package pipeline walks an execution plan and brings every step up to date.
//
// # Per-step decision
//
// For each step, in plan order, the pipeline:
//
//  1. fails the step without running it when one of its dependencies failed;
//  2. resolves the step's arguments against the artifact ids of its
//     dependencies and fingerprints them together with the artifact name;
//  3. skips the step when the ledger holds a record with the same
//     fingerprint;
//  4. otherwise asks the Executor to deploy it and records the new artifact
//     id in the ledger, which is flushed before the next step starts.
//
// # Run policy
//
// Steps run strictly one after another. A failure is contained to the
// failed step's dependents: independent steps later in the plan still run,
// and the Report always has one entry per plan step. Cancelling the context
// lets the step in flight finish its ledger write; every step that has not
// started is reported as failed with ErrCanceled.
//
// The ledger is opened (locked) before the first step and closed on every
// exit path. A ledger that cannot be opened fails the run before any step.
package pipeline
