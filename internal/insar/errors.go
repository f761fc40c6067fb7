package insar

import (
	"errors"
	"fmt"
)

// Error taxonomy for the pipeline. Four categories with distinct recovery
// semantics:
//
//   - validation errors are fatal and abort the run
//   - data-quality errors are recovered locally and counted
//   - non-convergence errors are warnings; the best-effort result is kept
//   - resource errors are retried, then fatal for the affected epoch only

// Sentinel errors for conditions that carry no extra context.
var (
	// ErrDuplicateEpoch is returned when registering an epoch whose
	// (date, polarization) pair is already present in the registry.
	ErrDuplicateEpoch = errors.New("epoch already registered for date and polarization")

	// ErrEmptyInput is returned by classification when there are fewer
	// segments than requested clusters.
	ErrEmptyInput = errors.New("fewer segments than clusters")

	// ErrNoEpochs is returned by stages invoked before any epoch exists.
	ErrNoEpochs = errors.New("no epochs registered")
)

// ValidationError reports a fatal configuration or georeferencing problem.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// InvalidGeoreferenceError reports a raster whose CRS or pixel geometry does
// not match the registry's reference grid. Fatal (validation category).
type InvalidGeoreferenceError struct {
	WantCRS      string
	GotCRS       string
	WantCellSize float64
	GotCellSize  float64
}

func (e *InvalidGeoreferenceError) Error() string {
	return fmt.Sprintf("georeference mismatch: crs %q vs %q, cell size %g vs %g",
		e.GotCRS, e.WantCRS, e.GotCellSize, e.WantCellSize)
}

// DataQualityError reports cells or locations excluded for quality reasons.
// Non-fatal: the offending cell/location is dropped and counted.
type DataQualityError struct {
	Epoch  EpochID
	Count  int
	Reason string
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("epoch %d: %d cells excluded (%s)", e.Epoch, e.Count, e.Reason)
}

// NetworkDisconnectedError reports a location whose pairwise measurements do
// not connect all epochs into one network. The location is excluded from the
// inversion output; other locations are unaffected.
type NetworkDisconnectedError struct {
	Location LocationID
	Linked   int
	Total    int
}

func (e *NetworkDisconnectedError) Error() string {
	return fmt.Sprintf("location %d: measurement network links %d of %d epochs",
		e.Location, e.Linked, e.Total)
}

// NonConvergenceError reports an iterative stage that hit its iteration cap.
// The best result found so far is still returned; callers treat this as a
// warning and proceed.
type NonConvergenceError struct {
	Stage      string
	Iterations int
	LastDelta  float64
}

func (e *NonConvergenceError) Error() string {
	return fmt.Sprintf("%s did not converge after %d iterations (last delta %g)",
		e.Stage, e.Iterations, e.LastDelta)
}

// ResourceError reports an external collaborator failure after the retry
// budget is exhausted. Fatal for the affected epoch only.
type ResourceError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// IsFatal reports whether err aborts the whole run. Validation and
// georeference errors are fatal; everything else in the taxonomy is
// recovered locally or surfaced as a warning.
func IsFatal(err error) bool {
	var ve *ValidationError
	var ge *InvalidGeoreferenceError
	return errors.As(err, &ve) || errors.As(err, &ge)
}
