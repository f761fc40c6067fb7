// Package convert turns per-epoch deformation rasters into attributed 3D
// point clouds: grid cell -> map coordinate, DEM elevation lookup, and
// line-of-sight displacement projection into the configured output unit.
//
// Conversion is embarrassingly parallel across epochs; ConvertAll fans out
// one goroutine per epoch with no shared mutation.
package convert
