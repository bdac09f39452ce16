// Package registry holds the set of declared deployment steps for a single
// run.
//
// Steps are registered once, in the order their declarations were
// discovered, and the registry is append-only from then on. The registration
// index of every step is stored explicitly on the step: downstream ordering
// (the dependency resolver's tie-break) relies on it rather than on any
// iteration order of the underlying storage.
//
// Dependency names are deliberately not checked at registration time. A
// registry may legitimately hold a partial graph (for example in tests); the
// resolver reports unknown dependencies when it plans a run.
package registry
