// Package sqlite persists run checkpoints: per-epoch lifecycle state,
// conversion counts, and the run's exclusion counters. Long operations
// checkpoint here between epochs so an interrupted run can resume without
// redoing finished epochs.
//
// All SQL for the pipeline lives in this package; domain packages stay free
// of database code.
package sqlite
