// Package segment extracts deformation features from the fused point set:
// region growing from local velocity extrema partitions the points into
// velocity-coherent segments (plus the reserved noise label), and k-means
// over per-segment feature vectors classifies the segments into deformation
// pattern groups.
//
// Region growing uses an explicit frontier queue and a visited slice indexed
// by point id; there is no recursion and no shared state between calls.
package segment
