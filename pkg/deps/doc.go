// Package deps resolves the transitive runtime dependency closure of a set
// of Python requirements.
//
// # Overview
//
// [Resolver.ResolveClosure] walks the dependency graph breadth-first, one
// level at a time:
//
//  1. Every package of the current level is resolved concurrently through a
//     [Source], bounded by Options.Concurrency
//  2. Results are merged in sorted name order, so the closure never depends
//     on which fetch finished first
//  3. Runtime dependencies that were not seen before form the next level
//
// A name is marked as visited when it is enqueued, not when it is resolved,
// so a cycle such as a -> b -> a terminates and yields each package once.
//
// # Version Conflicts
//
// A name requested with several constraints is resolved against all of them.
// When no release satisfies every constraint, the [ConflictPolicy] decides:
//
//   - [MostRestrictive]: highest release satisfying the constraint that
//     admits the fewest published versions
//   - [FirstSeen]: the release chosen for the first constraint
//
// Either way a [Conflict] is recorded. A constraint that arrives after its
// package was resolved triggers at most one re-resolution. When that picks
// a different release, the requirements of the superseded release are
// withdrawn, and packages no longer reachable from a root are left out of
// the closure.
//
// # Failures
//
// Packages that cannot be resolved are recorded as a [Failure] with their
// error code and excluded from Closure.Packages. They never abort the walk.
// Cancellation is checked after every level; a cancelled walk returns the
// packages resolved so far together with ctx.Err().
package deps
