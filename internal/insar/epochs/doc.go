// Package epochs owns the epoch registry: the single source of truth for the
// run's reference grid and the set of dated deformation products.
//
// The registry is append-only. The first registered epoch fixes the reference
// grid; every later registration must match it exactly. Nothing here mutates
// after registration, so readers need no synchronisation once ingest is done.
package epochs
