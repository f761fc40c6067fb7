// Package insar holds the shared domain model for the multi-temporal
// deformation pipeline: the reference grid and rasters consumed from the
// SAR-processing collaborator, attributed deformation points, the rigid
// transform type used by alignment, the spatial hash index, the error
// taxonomy, and the per-run exclusion counters.
//
// Stage implementations live in the subpackages (epochs, convert, invert,
// align, segment, pipeline). They may depend on this package; this package
// depends on none of them.
package insar
