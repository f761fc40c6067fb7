package insar

import (
	"fmt"
	"log"
	"sync"
)

// ErrorCategory names one bucket of the error taxonomy for counting.
type ErrorCategory string

const (
	CategoryValidation     ErrorCategory = "validation"
	CategoryDataQuality    ErrorCategory = "data_quality"
	CategoryNonConvergence ErrorCategory = "non_convergence"
	CategoryResource       ErrorCategory = "resource"
)

// RunCounters tracks per-category exclusion counts with thread-safe
// operations. Every exclusion anywhere in the pipeline increments a counter
// here; nothing is silently discarded.
type RunCounters struct {
	mu             sync.Mutex
	validation     int64
	dataQuality    int64
	nonConvergence int64
	resource       int64
}

// NewRunCounters creates a zeroed counter set.
func NewRunCounters() *RunCounters {
	return &RunCounters{}
}

// Add increments the counter for the given category by n.
func (rc *RunCounters) Add(cat ErrorCategory, n int64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	switch cat {
	case CategoryValidation:
		rc.validation += n
	case CategoryDataQuality:
		rc.dataQuality += n
	case CategoryNonConvergence:
		rc.nonConvergence += n
	case CategoryResource:
		rc.resource += n
	}
}

// Snapshot returns the current counts per category.
func (rc *RunCounters) Snapshot() map[ErrorCategory]int64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return map[ErrorCategory]int64{
		CategoryValidation:     rc.validation,
		CategoryDataQuality:    rc.dataQuality,
		CategoryNonConvergence: rc.nonConvergence,
		CategoryResource:       rc.resource,
	}
}

// Summary renders the counts as a single line for the run's final report.
func (rc *RunCounters) Summary() string {
	s := rc.Snapshot()
	return fmt.Sprintf("exclusions: validation=%d data_quality=%d non_convergence=%d resource=%d",
		s[CategoryValidation], s[CategoryDataQuality], s[CategoryNonConvergence], s[CategoryResource])
}

// LogSummary writes the counter summary to the process log.
func (rc *RunCounters) LogSummary() {
	log.Printf("Run %s", rc.Summary())
}
