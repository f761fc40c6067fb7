package pipeline

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/groundscan-data/deform.report/internal/config"
	"github.com/groundscan-data/deform.report/internal/insar"
	"github.com/groundscan-data/deform.report/internal/insar/epochs"
	"github.com/groundscan-data/deform.report/internal/insar/invert"
	"github.com/groundscan-data/deform.report/internal/insar/storage/sqlite"
)

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }
func sptr(v string) *string   { return &v }

type flatDEM struct{}

func (flatDEM) ElevationAt(x, y float64) (float64, bool) { return 150, true }

func testGrid() insar.ReferenceGrid {
	return insar.ReferenceGrid{
		CRS: "EPSG:32650", OriginX: 500000, OriginY: 3000000,
		CellSize: 30, Width: 4, Height: 4,
	}
}

func uniformRaster(grid insar.ReferenceGrid) *insar.DeformationRaster {
	n := grid.CellCount()
	r := &insar.DeformationRaster{
		Grid:         grid,
		Displacement: make([]float64, n),
		Coherence:    make([]float64, n),
	}
	for i := 0; i < n; i++ {
		r.Coherence[i] = 0.9
	}
	return r
}

// monthlyOffsets returns the per-location step between consecutive epochs:
// the left half of the grid subsides 5 mm per month, the right half is
// stable.
func monthlyOffsets(grid insar.ReferenceGrid) map[insar.LocationID]float64 {
	out := make(map[insar.LocationID]float64)
	for row := 0; row < grid.Height; row++ {
		for col := 0; col < grid.Width; col++ {
			step := 0.0
			if col < grid.Width/2 {
				step = -5
			}
			out[grid.Location(row, col)] = step
		}
	}
	return out
}

func interferogram(earlier, later insar.EpochID, offsets map[insar.LocationID]float64, factor float64) invert.Pair {
	m := make(map[insar.LocationID]invert.Measurement, len(offsets))
	for loc, step := range offsets {
		m[loc] = invert.Measurement{Displacement: step * factor, Coherence: 0.9}
	}
	return invert.Pair{Earlier: earlier, Later: later, Measurements: m}
}

func runPipeline(t *testing.T, store *sqlite.RunStore) *Output {
	t.Helper()
	return runPipelineWith(t, store, &config.RunParams{NumClusters: iptr(1), VelocityTolerance: fptr(2.0)})
}

func runPipelineWith(t *testing.T, store *sqlite.RunStore, params *config.RunParams) *Output {
	t.Helper()

	grid := testGrid()
	registry := epochs.NewRegistry()

	dates := []time.Time{
		time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	rasters := make(map[insar.EpochID]*insar.DeformationRaster)
	ids := make([]insar.EpochID, len(dates))
	for i, d := range dates {
		id, err := registry.Register(epochs.Metadata{
			Date: d, SatelliteID: "S1A", Orbit: insar.OrbitAscending, Polarization: "VV",
		}, uniformRaster(grid))
		if err != nil {
			t.Fatalf("register epoch %d: %v", i, err)
		}
		ids[i] = id
		rasters[id] = uniformRaster(grid)
	}

	offsets := monthlyOffsets(grid)
	pairs := []invert.Pair{
		interferogram(ids[0], ids[1], offsets, 1),
		interferogram(ids[1], ids[2], offsets, 1),
		interferogram(ids[0], ids[2], offsets, 2),
	}

	rt := NewRuntime(params, registry, store)
	out, err := rt.Run(context.Background(), rasters, flatDEM{}, pairs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out
}

func TestRunEndToEnd(t *testing.T) {
	out := runPipeline(t, nil)

	grid := testGrid()
	if len(out.Points) != grid.CellCount() {
		t.Fatalf("got %d output points, want %d", len(out.Points), grid.CellCount())
	}
	if len(out.EpochIDs) != 3 || len(out.EpochDates) != 3 {
		t.Fatalf("got %d epochs in output, want 3", len(out.EpochIDs))
	}

	for i, p := range out.Points {
		if i > 0 && out.Points[i-1].Location >= p.Location {
			t.Fatal("output points must be sorted by location")
		}
		if len(p.Displacements) != 3 {
			t.Fatalf("location %d: %d displacement values, want 3", p.Location, len(p.Displacements))
		}
		if p.Displacements[0] != 0 {
			t.Errorf("location %d: reference epoch displacement = %g, want 0",
				p.Location, p.Displacements[0])
		}

		_, col := grid.RowCol(p.Location)
		if col < grid.Width/2 {
			if math.Abs(p.Displacements[2]+10) > 1e-6 {
				t.Errorf("subsiding location %d: cumulative = %g, want -10", p.Location, p.Displacements[2])
			}
			if p.Velocity > -50 {
				t.Errorf("subsiding location %d: velocity = %g, want < -50 mm/yr", p.Location, p.Velocity)
			}
			if p.Segment == insar.NoiseSegment {
				t.Errorf("subsiding location %d should belong to a segment", p.Location)
			}
			if p.Class != 0 {
				t.Errorf("subsiding location %d: class = %d, want 0", p.Location, p.Class)
			}
		} else {
			if math.Abs(p.Displacements[2]) > 1e-6 {
				t.Errorf("stable location %d: cumulative = %g, want 0", p.Location, p.Displacements[2])
			}
			if math.Abs(p.Velocity) > 1 {
				t.Errorf("stable location %d: velocity = %g, want ~0", p.Location, p.Velocity)
			}
		}
	}

	if len(out.Segments) != 1 {
		t.Fatalf("got %d segments, want 1 (the subsiding half)", len(out.Segments))
	}
	seg := out.Segments[0]
	if seg.PointCount != 8 {
		t.Errorf("segment point count = %d, want 8", seg.PointCount)
	}
	if seg.MeanVelocity > -50 {
		t.Errorf("segment mean velocity = %g, want < -50", seg.MeanVelocity)
	}
	if seg.Class != 0 {
		t.Errorf("segment class = %d, want 0", seg.Class)
	}

	// Nothing was excluded in this clean run.
	for cat, n := range out.Counters {
		if n != 0 {
			t.Errorf("counter %s = %d, want 0", cat, n)
		}
	}
}

func TestRunWithCheckpointStore(t *testing.T) {
	store, err := sqlite.NewRunStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	out := runPipeline(t, store)
	if out.RunID == "" {
		t.Fatal("a stored run must carry its run id")
	}

	ctx := context.Background()
	status, _, err := store.RunStatus(ctx, out.RunID)
	if err != nil {
		t.Fatalf("RunStatus: %v", err)
	}
	if status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}

	cps, err := store.EpochCheckpoints(ctx, out.RunID)
	if err != nil {
		t.Fatalf("EpochCheckpoints: %v", err)
	}
	if len(cps) != 3 {
		t.Fatalf("got %d epoch checkpoints, want 3", len(cps))
	}
	for _, cp := range cps {
		if cp.State != insar.StateClassified {
			t.Errorf("epoch %d finished in state %s, want classified", cp.EpochID, cp.State)
		}
	}
}

func TestRunDropsEpochWithoutRaster(t *testing.T) {
	grid := testGrid()
	registry := epochs.NewRegistry()

	dates := []time.Time{
		time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	rasters := make(map[insar.EpochID]*insar.DeformationRaster)
	ids := make([]insar.EpochID, len(dates))
	for i, d := range dates {
		id, err := registry.Register(epochs.Metadata{Date: d, Polarization: "VV"}, uniformRaster(grid))
		if err != nil {
			t.Fatal(err)
		}
		ids[i] = id
		if i != 2 { // the last epoch's raster never arrives
			rasters[id] = uniformRaster(grid)
		}
	}

	offsets := monthlyOffsets(grid)
	pairs := []invert.Pair{
		interferogram(ids[0], ids[1], offsets, 1),
		interferogram(ids[1], ids[2], offsets, 1), // dropped with the missing epoch
	}

	rt := NewRuntime(&config.RunParams{NumClusters: iptr(1)}, registry, nil)
	out, err := rt.Run(context.Background(), rasters, flatDEM{}, pairs)
	if err != nil {
		t.Fatalf("Run should survive a dropped epoch: %v", err)
	}

	if len(out.EpochIDs) != 2 {
		t.Fatalf("got %d epochs in output, want 2 survivors", len(out.EpochIDs))
	}
	if out.Counters[insar.CategoryResource] != 1 {
		t.Errorf("resource counter = %d, want 1", out.Counters[insar.CategoryResource])
	}
	if len(out.Warnings) == 0 {
		t.Error("dropping an epoch must leave a warning")
	}
}

func TestRunOutsideReferencePointWarns(t *testing.T) {
	out := runPipelineWith(t, nil, &config.RunParams{
		NumClusters:       iptr(1),
		VelocityTolerance: fptr(2.0),
		ReferencePoint:    []float64{0, 0}, // far outside the UTM grid
	})

	found := false
	for _, w := range out.Warnings {
		if strings.Contains(w, "outside the grid") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %q, want one for the out-of-grid reference point", out.Warnings)
	}
}

func TestNewGridDEMInterpolation(t *testing.T) {
	grid := testGrid()
	elev := make([]float64, grid.CellCount())
	for i := range elev {
		elev[i] = 10 * float64(i%grid.Width)
	}
	// Halfway between the centres of the first two columns: nearest snaps
	// to column 1, bilinear averages the neighbours.
	x := grid.OriginX + grid.CellSize
	y := grid.OriginY - grid.CellSize/2

	rt := NewRuntime(config.EmptyRunParams(), epochs.NewRegistry(), nil)
	dem := rt.NewGridDEM(grid, elev)
	if dem.Bilinear {
		t.Error("default interpolation should be nearest")
	}
	if z, ok := dem.ElevationAt(x, y); !ok || z != 10 {
		t.Errorf("nearest elevation = %g (covered %v), want 10", z, ok)
	}

	rt = NewRuntime(&config.RunParams{Interpolation: sptr("bilinear")}, epochs.NewRegistry(), nil)
	dem = rt.NewGridDEM(grid, elev)
	if !dem.Bilinear {
		t.Error("bilinear param should select bilinear sampling")
	}
	if z, ok := dem.ElevationAt(x, y); !ok || math.Abs(z-5) > 1e-9 {
		t.Errorf("bilinear elevation = %g (covered %v), want 5", z, ok)
	}
}

func TestRunTooFewSurvivors(t *testing.T) {
	grid := testGrid()
	registry := epochs.NewRegistry()

	id, err := registry.Register(epochs.Metadata{
		Date:         time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		Polarization: "VV",
	}, uniformRaster(grid))
	if err != nil {
		t.Fatal(err)
	}
	rasters := map[insar.EpochID]*insar.DeformationRaster{id: uniformRaster(grid)}

	rt := NewRuntime(config.EmptyRunParams(), registry, nil)
	if _, err := rt.Run(context.Background(), rasters, flatDEM{}, nil); !insar.IsFatal(err) {
		t.Errorf("single-epoch run: err = %v, want fatal validation error", err)
	}
}

func TestRunNoEpochs(t *testing.T) {
	rt := NewRuntime(config.EmptyRunParams(), epochs.NewRegistry(), nil)
	if _, err := rt.Run(context.Background(), nil, flatDEM{}, nil); err == nil {
		t.Error("empty registry should fail")
	}
}

func TestWriteXYZ(t *testing.T) {
	out := &Output{
		EpochIDs: []insar.EpochID{1, 2},
		EpochDates: []time.Time{
			time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC),
		},
		Points: []OutputPoint{
			{
				X: 500015, Y: 2999985, Z: 150, Location: 0,
				Displacements: []float64{0, -5}, Velocity: -60.5, Residual: 0.25,
				Segment: 1, Class: 2,
			},
		},
	}

	var sb strings.Builder
	if err := out.WriteXYZ(&sb); err != nil {
		t.Fatalf("WriteXYZ: %v", err)
	}

	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want header + 1 point", len(lines))
	}
	if want := "X Y Z d_20210101 d_20210201 velocity residual segment class"; lines[0] != want {
		t.Errorf("header = %q, want %q", lines[0], want)
	}
	if want := "500015.000 2999985.000 150.000 0.0000 -5.0000 -60.5000 0.2500 1 2"; lines[1] != want {
		t.Errorf("point line = %q, want %q", lines[1], want)
	}
}

func TestSummaryLines(t *testing.T) {
	out := &Output{
		RunID:    "r1",
		EpochIDs: []insar.EpochID{1, 2},
		Points:   make([]OutputPoint, 3),
		Segments: []SegmentReport{{ID: 1, Class: 0, PointCount: 3, MeanVelocity: -12.5, Area: 900}},
		Counters: map[insar.ErrorCategory]int64{insar.CategoryDataQuality: 4},
	}

	lines := out.SummaryLines()
	if len(lines) != 3 {
		t.Fatalf("got %d summary lines, want 3", len(lines))
	}
	if !strings.Contains(lines[0], "3 points") || !strings.Contains(lines[0], "1 segments") {
		t.Errorf("header line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "segment 1") {
		t.Errorf("segment line = %q", lines[1])
	}
	if !strings.Contains(lines[2], "data_quality=4") {
		t.Errorf("counter line = %q", lines[2])
	}
}
