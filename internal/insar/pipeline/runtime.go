package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/groundscan-data/deform.report/internal/config"
	"github.com/groundscan-data/deform.report/internal/insar"
	"github.com/groundscan-data/deform.report/internal/insar/align"
	"github.com/groundscan-data/deform.report/internal/insar/convert"
	"github.com/groundscan-data/deform.report/internal/insar/epochs"
	"github.com/groundscan-data/deform.report/internal/insar/invert"
	"github.com/groundscan-data/deform.report/internal/insar/segment"
	"github.com/groundscan-data/deform.report/internal/insar/storage/sqlite"
)

// Runtime bundles the per-run dependencies. Passing a Runtime through
// constructors keeps wiring explicit and testing deterministic; nothing in
// the pipeline reaches for global state.
type Runtime struct {
	Params     *config.RunParams
	Registry   *epochs.Registry
	Converter  *convert.Converter
	Engine     *invert.Engine
	Aligner    *align.Aligner
	Segmenter  *segment.Segmenter
	Classifier *segment.Classifier
	Store      *sqlite.RunStore // optional; nil disables checkpointing
	Counters   *insar.RunCounters
}

// NewRuntime wires a runtime from immutable run parameters. store may be
// nil when checkpointing is not wanted (tests, one-shot runs).
func NewRuntime(params *config.RunParams, registry *epochs.Registry, store *sqlite.RunStore) *Runtime {
	return &Runtime{
		Params:     params,
		Registry:   registry,
		Converter:  convert.NewConverter(params),
		Engine:     invert.NewEngine(params),
		Aligner:    align.NewAligner(params),
		Segmenter:  segment.NewSegmenter(params),
		Classifier: segment.NewClassifier(params),
		Store:      store,
		Counters:   insar.NewRunCounters(),
	}
}

// NewGridDEM adapts a raw elevation band on the given grid into the
// DEMSurface Run consumes, with the sampling mode taken from the configured
// point-cloud interpolation parameter.
func (rt *Runtime) NewGridDEM(grid insar.ReferenceGrid, elevations []float64) *insar.GridDEM {
	return &insar.GridDEM{
		Grid:       grid,
		Elevations: elevations,
		Bilinear:   rt.Params.GetInterpolation() == "bilinear",
	}
}

// Run executes the full pipeline over the registered epochs: convert,
// invert, align, segment, classify, aggregate. Per-epoch failures are
// counted and skipped; only validation errors (and context cancellation)
// abort the run. The returned Output is complete for everything that
// survived.
func (rt *Runtime) Run(ctx context.Context, rasters map[insar.EpochID]*insar.DeformationRaster, dem insar.DEMSurface, pairs []invert.Pair) (*Output, error) {
	ordered := rt.Registry.OrderedEpochs()
	if len(ordered) == 0 {
		return nil, insar.ErrNoEpochs
	}
	grid, err := rt.Registry.Grid()
	if err != nil {
		return nil, err
	}

	runID := ""
	if rt.Store != nil {
		runID, err = rt.Store.CreateRun(ctx, rt.Params)
		if err != nil {
			return nil, fmt.Errorf("create checkpoint run: %w", err)
		}
	}

	var warnings []string

	// Stage 1: conversion, parallel across epochs. Epochs whose raster
	// failed to arrive are dropped here and counted; the rest proceed.
	results := rt.Converter.ConvertAll(ctx, ordered, rasters, dem, rt.Counters)

	clouds := make(map[insar.EpochID]*insar.PointCloud, len(results))
	kept := make([]insar.Epoch, 0, len(ordered))
	for i, res := range results {
		if res.Err != nil {
			if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
				return nil, res.Err
			}
			rt.Counters.Add(insar.CategoryResource, 1)
			warnings = append(warnings, fmt.Sprintf("epoch %d dropped: %v", res.Epoch, res.Err))
			log.Printf("Epoch %d dropped before conversion: %v", res.Epoch, res.Err)
			continue
		}
		if res.Quality != nil {
			warnings = append(warnings, res.Quality.Error())
		}
		clouds[res.Epoch] = res.Cloud
		kept = append(kept, ordered[i])
		rt.checkpoint(ctx, runID, ordered[i], insar.StateConverted, len(res.Cloud.Points), res.Stats.Excluded())
	}
	if len(kept) < 2 {
		rt.finishRun(ctx, runID, "failed")
		return nil, &insar.ValidationError{
			Field: "epochs", Reason: fmt.Sprintf("only %d epochs survived conversion", len(kept)),
		}
	}

	// Stage 2: network inversion into per-location time series. Pairs
	// touching a dropped epoch are filtered out first; their loss shows
	// up as disconnected locations, which the engine counts.
	keptIDs := make(map[insar.EpochID]bool, len(kept))
	for _, ep := range kept {
		keptIDs[ep.ID] = true
	}
	usable := pairs[:0:0]
	for _, p := range pairs {
		if keptIDs[p.Earlier] && keptIDs[p.Later] {
			usable = append(usable, p)
		}
	}

	records, invStats, err := rt.Engine.Invert(ctx, kept, usable, rt.Counters)
	if err != nil {
		rt.finishRun(ctx, runID, "failed")
		return nil, err
	}
	log.Printf("Inversion solved %d locations (%d observations, %d low confidence)",
		invStats.LocationsSolved, invStats.ObservationsUsed, invStats.LowConfidence)

	// Re-express the series relative to the configured spatial reference
	// point when it resolves to a solved location.
	if lon, lat, ok := rt.Params.GetReferencePoint(); ok {
		if row, col, inside := grid.CellAt(lon, lat); inside {
			if err := invert.NormalizeToReference(records, grid.Location(row, col)); err != nil {
				warnings = append(warnings, fmt.Sprintf("reference point not solved: %v", err))
				log.Printf("Reference point (%g, %g) not in solved set; series stay relative to reference epoch", lon, lat)
			}
		} else {
			warnings = append(warnings, fmt.Sprintf("reference point (%g, %g) outside the grid; series stay relative to reference epoch", lon, lat))
			log.Printf("Reference point (%g, %g) outside the grid; series stay relative to reference epoch", lon, lat)
		}
	}

	for _, ep := range kept {
		cloud := clouds[ep.ID]
		if err := invert.ApplyToCloud(cloud, records); err != nil {
			rt.finishRun(ctx, runID, "failed")
			return nil, err
		}
		rt.checkpoint(ctx, runID, ep, insar.StateInverted, len(cloud.Points), 0)
	}

	// Stage 3: alignment into the reference epoch's frame. The reference
	// cloud advances unchanged; independent targets align concurrently.
	refCloud := clouds[kept[0].ID]
	if err := refCloud.Advance(insar.StateAligned); err != nil {
		rt.finishRun(ctx, runID, "failed")
		return nil, err
	}

	var wg sync.WaitGroup
	alignErrs := make([]error, len(kept))
	for i := 1; i < len(kept); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := rt.Aligner.AlignCloud(ctx, refCloud.Points, clouds[kept[i].ID], rt.Counters)
			alignErrs[i] = err
		}(i)
	}
	wg.Wait()
	for i, err := range alignErrs {
		if err != nil {
			rt.finishRun(ctx, runID, "failed")
			return nil, fmt.Errorf("align epoch %d: %w", kept[i].ID, err)
		}
	}
	for _, ep := range kept {
		rt.checkpoint(ctx, runID, ep, insar.StateAligned, len(clouds[ep.ID].Points), 0)
	}

	// Stage 4: segmentation over the fused reference-frame point set. The
	// reference epoch's aligned cloud carries one point per surviving
	// location with the inverted velocity field attached.
	fused := refCloud.Points
	segments, err := rt.Segmenter.Segment(fused)
	if err != nil {
		rt.finishRun(ctx, runID, "failed")
		return nil, err
	}
	log.Printf("Segmentation produced %d segments over %d points", len(segments), len(fused))

	// Stage 5: classification of segment feature vectors. Too few segments
	// for the configured k is a non-fatal warning: labels stay unassigned.
	var model *segment.ClassificationModel
	k := rt.Params.GetNumClusters()
	model, err = rt.Classifier.Classify(segments, k)
	switch {
	case errors.Is(err, insar.ErrEmptyInput):
		warnings = append(warnings, fmt.Sprintf("classification skipped: %d segments for k=%d", len(segments), k))
		log.Printf("Classification skipped: %d segments for k=%d", len(segments), k)
		model = nil
	case err != nil:
		var nc *insar.NonConvergenceError
		if !errors.As(err, &nc) {
			rt.finishRun(ctx, runID, "failed")
			return nil, err
		}
		rt.Counters.Add(insar.CategoryNonConvergence, 1)
		warnings = append(warnings, err.Error())
	}
	if model != nil {
		model.ApplyToPoints(fused)
	}

	// Propagate labels to every epoch's cloud and close out the lifecycle.
	labelByLocation := make(map[insar.LocationID]insar.DeformationPoint, len(fused))
	for _, p := range fused {
		labelByLocation[p.Location] = p
	}
	for _, ep := range kept {
		cloud := clouds[ep.ID]
		if cloud != refCloud {
			for i := range cloud.Points {
				if lp, ok := labelByLocation[cloud.Points[i].Location]; ok {
					cloud.Points[i].Segment = lp.Segment
					cloud.Points[i].Class = lp.Class
				}
			}
		}
		if err := cloud.Advance(insar.StateSegmented); err != nil {
			rt.finishRun(ctx, runID, "failed")
			return nil, err
		}
		if err := cloud.Advance(insar.StateClassified); err != nil {
			rt.finishRun(ctx, runID, "failed")
			return nil, err
		}
		rt.checkpoint(ctx, runID, ep, insar.StateClassified, len(cloud.Points), 0)
	}

	out := assembleOutput(runID, kept, fused, records, segments, model, rt.Counters, warnings)

	if rt.Store != nil {
		if err := rt.Store.SaveCounters(ctx, runID, rt.Counters); err != nil {
			log.Printf("Failed to persist run counters: %v", err)
		}
	}
	rt.finishRun(ctx, runID, "completed")
	rt.Counters.LogSummary()
	return out, nil
}

// checkpoint persists one epoch's lifecycle state when a store is attached.
// Checkpoint failures never fail the run; they only cost resumability.
func (rt *Runtime) checkpoint(ctx context.Context, runID string, epoch insar.Epoch, state insar.ArtifactState, points, excluded int) {
	if rt.Store == nil {
		return
	}
	if err := rt.Store.CheckpointEpoch(ctx, runID, epoch, state, points, excluded); err != nil {
		log.Printf("Checkpoint failed for epoch %d at %s: %v", epoch.ID, state, err)
	}
}

func (rt *Runtime) finishRun(ctx context.Context, runID, status string) {
	if rt.Store == nil {
		return
	}
	if err := rt.Store.CompleteRun(ctx, runID, status); err != nil {
		log.Printf("Failed to mark run %s %s: %v", runID, status, err)
	}
}
