// Package invert implements the small-baseline (SBAS) network inversion:
// per-location pairwise displacement differences are combined into a
// cumulative time series by coherence-weighted least squares, with the
// reference epoch pinned at zero displacement.
//
// Each location's linear system is independent, so the solver fans out over
// a worker pool with no cross-location state. Locations whose measurement
// network does not connect every epoch are excluded individually and
// counted; they never fail the run.
package invert
