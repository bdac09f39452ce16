// Package dag turns a selection of registered steps into an execution plan.
//
// Resolve walks the dependency graph depth-first from every selected step,
// emitting each step after all of its dependencies (post-order). Every step
// name carries one of three marks while the walk is in progress:
//
//   - unvisited: not reached yet
//   - visiting:  on the current traversal path
//   - done:      emitted into the plan
//
// Reaching a visiting step again means the path closed on itself, and the
// path segment from that step onwards is reported as the cycle.
//
// Selected steps are started in registration order and dependencies are
// followed in declaration order, so the plan is a pure function of the
// registry and the selection. Independent steps keep their registration
// order: for {A: [], B: [A], C: []} the plan is [A, B, C].
package dag
