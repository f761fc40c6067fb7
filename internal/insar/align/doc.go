// Package align registers per-epoch point clouds into the reference epoch's
// frame with a trimmed iterative-closest-point loop: spatial-hash
// nearest-neighbour correspondences, robust outlier trimming, and a rigid
// transform estimate by SVD (Kabsch) each iteration until the mean-squared
// correspondence error settles.
//
// Hitting the iteration cap surfaces a NonConvergenceError as a warning; the
// best transform found so far is still returned and applied so the pipeline
// can proceed.
package align
