package invert

import (
	"context"
	"log"
	"math"
	"runtime"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/groundscan-data/deform.report/internal/config"
	"github.com/groundscan-data/deform.report/internal/insar"
)

// Floor applied to coherence weights so a near-zero-coherence observation
// cannot zero out a row of the design matrix.
const minWeight = 1e-3

// Measurement is one pairwise differential displacement observation at a
// single location: displacement of the later epoch minus the earlier one,
// in the configured output unit, weighted by interferometric coherence.
type Measurement struct {
	Displacement float64
	Coherence    float64
}

// Pair is one interferogram: differential measurements between two epochs
// for every location the interferogram covers.
type Pair struct {
	Earlier, Later insar.EpochID
	Measurements   map[insar.LocationID]Measurement
}

// TimeSeriesRecord is the per-location inversion result: cumulative
// displacement per epoch relative to the reference epoch, with a fitted
// linear velocity and a residual variance confidence score. Immutable once
// built.
type TimeSeriesRecord struct {
	Location         insar.LocationID
	Epochs           []insar.EpochID // ordered by date; first is the reference
	Displacements    []float64       // cumulative, Displacements[0] == 0
	Velocity         float64         // unit per year
	ResidualVariance float64
	LowConfidence    bool
}

// Stats summarises one inversion run.
type Stats struct {
	LocationsSolved  int
	Disconnected     int // excluded, counted as data-quality
	LowConfidence    int // retained but flagged
	ObservationsUsed int
}

// Engine solves the per-location network inversion.
type Engine struct {
	params  *config.RunParams
	workers int
}

// NewEngine creates an inversion engine using up to GOMAXPROCS workers.
func NewEngine(params *config.RunParams) *Engine {
	return &Engine{params: params, workers: runtime.GOMAXPROCS(0)}
}

// Invert solves the network inversion for every location observed by the
// pairwise measurements. orderedEpochs must be sorted by date; the first
// entry is the reference epoch and its displacement is exactly zero in every
// record. Locations whose network does not link all epochs are excluded with
// a counted NetworkDisconnectedError; other locations are unaffected.
//
// The solve is deterministic: locations are processed in sorted order, rows
// follow input pair order, and the weighted system is solved by QR.
func (e *Engine) Invert(ctx context.Context, orderedEpochs []insar.Epoch, pairs []Pair, counters *insar.RunCounters) (map[insar.LocationID]*TimeSeriesRecord, Stats, error) {
	if len(orderedEpochs) == 0 {
		return nil, Stats{}, insar.ErrNoEpochs
	}
	if len(orderedEpochs) < 2 {
		return nil, Stats{}, &insar.ValidationError{
			Field: "epochs", Reason: "inversion needs at least two epochs",
		}
	}

	epochIndex := make(map[insar.EpochID]int, len(orderedEpochs))
	for i, ep := range orderedEpochs {
		epochIndex[ep.ID] = i
	}
	for _, p := range pairs {
		if _, ok := epochIndex[p.Earlier]; !ok {
			return nil, Stats{}, &insar.ValidationError{
				Field: "pairs", Reason: "pair references unregistered earlier epoch",
			}
		}
		if _, ok := epochIndex[p.Later]; !ok {
			return nil, Stats{}, &insar.ValidationError{
				Field: "pairs", Reason: "pair references unregistered later epoch",
			}
		}
	}

	locations := collectLocations(pairs)

	// Fractional years since the reference epoch, for velocity regression.
	years := make([]float64, len(orderedEpochs))
	ref := orderedEpochs[0].Date
	for i, ep := range orderedEpochs {
		years[i] = ep.Date.Sub(ref).Hours() / (24 * 365.25)
	}

	type outcome struct {
		rec          *TimeSeriesRecord
		observations int
		disconnected bool
	}
	outcomes := make([]outcome, len(locations))

	var wg sync.WaitGroup
	chunk := (len(locations) + e.workers - 1) / e.workers
	if chunk < 1 {
		chunk = 1
	}
	for start := 0; start < len(locations); start += chunk {
		end := start + chunk
		if end > len(locations) {
			end = len(locations)
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for li := start; li < end; li++ {
				if ctx.Err() != nil {
					return
				}
				loc := locations[li]
				rec, obs, err := e.solveLocation(loc, orderedEpochs, epochIndex, years, pairs)
				if err != nil {
					outcomes[li] = outcome{disconnected: true}
					continue
				}
				outcomes[li] = outcome{rec: rec, observations: obs}
			}
		}(start, end)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, Stats{}, err
	}

	var stats Stats
	records := make(map[insar.LocationID]*TimeSeriesRecord, len(locations))
	for _, o := range outcomes {
		if o.disconnected {
			stats.Disconnected++
			continue
		}
		if o.rec == nil {
			continue
		}
		records[o.rec.Location] = o.rec
		stats.LocationsSolved++
		stats.ObservationsUsed += o.observations
		if o.rec.LowConfidence {
			stats.LowConfidence++
		}
	}

	if stats.Disconnected > 0 {
		counters.Add(insar.CategoryDataQuality, int64(stats.Disconnected))
		log.Printf("Inversion: %d locations solved, %d excluded (disconnected network)",
			stats.LocationsSolved, stats.Disconnected)
	}
	return records, stats, nil
}

// solveLocation builds and solves one location's weighted system.
// Unknowns are the cumulative displacements at epochs 1..n-1 (the reference
// epoch is pinned at zero, so its column is simply omitted).
func (e *Engine) solveLocation(loc insar.LocationID, epochs []insar.Epoch, epochIndex map[insar.EpochID]int, years []float64, pairs []Pair) (*TimeSeriesRecord, int, error) {
	n := len(epochs)

	type row struct {
		earlier, later int
		value, weight  float64
	}
	var rows []row
	for _, p := range pairs {
		m, ok := p.Measurements[loc]
		if !ok {
			continue
		}
		w := m.Coherence
		if w < minWeight {
			w = minWeight
		}
		rows = append(rows, row{
			earlier: epochIndex[p.Earlier],
			later:   epochIndex[p.Later],
			value:   m.Displacement,
			weight:  w,
		})
	}

	if linked := connectedEpochs(rows, n, func(r row) (int, int) { return r.earlier, r.later }); linked < n {
		return nil, 0, &insar.NetworkDisconnectedError{Location: loc, Linked: linked, Total: n}
	}
	if len(rows) < n-1 {
		return nil, 0, &insar.NetworkDisconnectedError{Location: loc, Linked: len(rows) + 1, Total: n}
	}

	// Weighted design matrix: each pair contributes d[later] - d[earlier],
	// with row and observation scaled by sqrt(weight).
	a := mat.NewDense(len(rows), n-1, nil)
	b := mat.NewVecDense(len(rows), nil)
	for i, r := range rows {
		sw := math.Sqrt(r.weight)
		if r.later > 0 {
			a.Set(i, r.later-1, sw)
		}
		if r.earlier > 0 {
			a.Set(i, r.earlier-1, -sw)
		}
		b.SetVec(i, sw*r.value)
	}

	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		// Rank-deficient despite connectivity (e.g. duplicate cancelling
		// pairs). Treat like a disconnected network for this location.
		return nil, 0, &insar.NetworkDisconnectedError{Location: loc, Linked: n - 1, Total: n}
	}

	displacements := make([]float64, n)
	for i := 1; i < n; i++ {
		displacements[i] = x.AtVec(i - 1)
	}

	// Weighted residual variance over the degrees of freedom.
	var resid mat.VecDense
	resid.MulVec(a, &x)
	resid.SubVec(&resid, b)
	variance := 0.0
	if dof := len(rows) - (n - 1); dof > 0 {
		variance = mat.Dot(&resid, &resid) / float64(dof)
	}

	ids := make([]insar.EpochID, n)
	for i, ep := range epochs {
		ids[i] = ep.ID
	}

	// Linear velocity over the cumulative series, weighted by nothing:
	// every epoch solution counts equally once the network solve is done.
	_, velocity := stat.LinearRegression(years, displacements, nil, false)

	return &TimeSeriesRecord{
		Location:         loc,
		Epochs:           ids,
		Displacements:    displacements,
		Velocity:         velocity,
		ResidualVariance: variance,
		LowConfidence:    math.Sqrt(variance) > e.params.GetResidualThreshold(),
	}, len(rows), nil
}

// connectedEpochs returns the size of the connected component containing the
// reference epoch (index 0) in the location's measurement graph, via
// union-find.
func connectedEpochs[T any](edges []T, n int, endpoints func(T) (int, int)) int {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(v int) int {
		for parent[v] != v {
			parent[v] = parent[parent[v]]
			v = parent[v]
		}
		return v
	}
	for _, e := range edges {
		a, b := endpoints(e)
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}
	root := find(0)
	linked := 0
	for i := 0; i < n; i++ {
		if find(i) == root {
			linked++
		}
	}
	return linked
}

// collectLocations returns the sorted union of locations observed by any
// pair. Sorting fixes the processing order for determinism.
func collectLocations(pairs []Pair) []insar.LocationID {
	seen := make(map[insar.LocationID]struct{})
	for _, p := range pairs {
		for loc := range p.Measurements {
			seen[loc] = struct{}{}
		}
	}
	out := make([]insar.LocationID, 0, len(seen))
	for loc := range seen {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NormalizeToReference re-expresses every record relative to the spatial
// reference point by subtracting the reference location's series epoch by
// epoch. Velocities shift by the reference velocity; residual variances are
// unchanged. No-op with an error if the reference location was not solved
// (callers fall back to the network reference epoch only).
func NormalizeToReference(records map[insar.LocationID]*TimeSeriesRecord, refLoc insar.LocationID) error {
	ref, ok := records[refLoc]
	if !ok {
		return &insar.NetworkDisconnectedError{Location: refLoc, Linked: 0, Total: 0}
	}
	for _, rec := range records {
		if rec == ref {
			continue
		}
		for i := range rec.Displacements {
			rec.Displacements[i] -= ref.Displacements[i]
		}
		rec.Velocity -= ref.Velocity
	}
	for i := range ref.Displacements {
		ref.Displacements[i] = 0
	}
	ref.Velocity = 0
	return nil
}

// ApplyToCloud writes each point's inverted cumulative displacement,
// velocity and residual onto a converted cloud and advances its lifecycle
// state. Points at excluded locations keep their conversion-time values and
// zero velocity; segmentation will treat them as noise candidates.
func ApplyToCloud(cloud *insar.PointCloud, records map[insar.LocationID]*TimeSeriesRecord) error {
	for i := range cloud.Points {
		rec, ok := records[cloud.Points[i].Location]
		if !ok {
			continue
		}
		for j, id := range rec.Epochs {
			if id == cloud.Epoch {
				cloud.Points[i].Displacement = rec.Displacements[j]
				break
			}
		}
		cloud.Points[i].Velocity = rec.Velocity
		cloud.Points[i].Residual = math.Sqrt(rec.ResidualVariance)
	}
	return cloud.Advance(insar.StateInverted)
}
