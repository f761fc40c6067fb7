package pipeline

import (
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/groundscan-data/deform.report/internal/insar"
	"github.com/groundscan-data/deform.report/internal/insar/invert"
	"github.com/groundscan-data/deform.report/internal/insar/segment"
)

// OutputPoint is one location of the final attributed cloud: coordinate,
// the full cumulative displacement series, fitted velocity, and the labels
// from segmentation and classification.
type OutputPoint struct {
	X, Y, Z       float64
	Location      insar.LocationID
	Displacements []float64 // per epoch, ordered like Output.EpochIDs
	Velocity      float64
	Residual      float64
	LowConfidence bool
	Segment       insar.SegmentID
	Class         int32
}

// SegmentReport is the per-segment statistics row of the final report.
type SegmentReport struct {
	ID               insar.SegmentID
	Class            int32
	PointCount       int
	MeanVelocity     float64
	Area             float64
	Elongation       float64
	VolumeAbovePlane float64 // displacement volume above the best-fit plane
}

// Output is everything the run hands to downstream consumers: the fused
// attributed cloud, per-segment statistics, and the exclusion counters.
type Output struct {
	RunID      string
	EpochIDs   []insar.EpochID
	EpochDates []time.Time
	Points     []OutputPoint
	Segments   []SegmentReport
	Counters   map[insar.ErrorCategory]int64
	Warnings   []string
}

// assembleOutput fuses the aligned reference-frame points with the inverted
// time series and the segmentation/classification labels.
func assembleOutput(runID string, epochs []insar.Epoch, fused []insar.DeformationPoint,
	records map[insar.LocationID]*invert.TimeSeriesRecord, segments []segment.Segment,
	model *segment.ClassificationModel, counters *insar.RunCounters, warnings []string) *Output {

	out := &Output{
		RunID:    runID,
		Counters: counters.Snapshot(),
		Warnings: warnings,
	}
	for _, ep := range epochs {
		out.EpochIDs = append(out.EpochIDs, ep.ID)
		out.EpochDates = append(out.EpochDates, ep.Date)
	}

	out.Points = make([]OutputPoint, 0, len(fused))
	for _, p := range fused {
		op := OutputPoint{
			X: p.X, Y: p.Y, Z: p.Z,
			Location: p.Location,
			Velocity: p.Velocity,
			Residual: p.Residual,
			Segment:  p.Segment,
			Class:    p.Class,
		}
		if rec, ok := records[p.Location]; ok {
			op.Displacements = rec.Displacements
			op.LowConfidence = rec.LowConfidence
		}
		out.Points = append(out.Points, op)
	}
	sort.Slice(out.Points, func(i, j int) bool {
		return out.Points[i].Location < out.Points[j].Location
	})

	for _, s := range segments {
		report := SegmentReport{
			ID:           s.ID,
			Class:        -1,
			PointCount:   s.PointCount,
			MeanVelocity: s.MeanVelocity,
			Area:         s.Area,
			Elongation:   s.Elongation,
		}
		if model != nil {
			if cls, ok := model.Assignments[s.ID]; ok {
				report.Class = int32(cls)
			}
		}
		report.VolumeAbovePlane = volumeAbovePlane(s.PointIndices, fused, s.Area)
		out.Segments = append(out.Segments, report)
	}
	sort.Slice(out.Segments, func(i, j int) bool { return out.Segments[i].ID < out.Segments[j].ID })

	return out
}

// volumeAbovePlane integrates the displacement that sits above the
// segment's best-fit displacement plane, attributing each point an equal
// share of the segment footprint. Matches the "volume above best-fit
// plane" statistic of the original analysis chain.
func volumeAbovePlane(indices []int, points []insar.DeformationPoint, area float64) float64 {
	if len(indices) < 3 || area <= 0 {
		return 0
	}

	// Least-squares plane d = ax + by + c over (x, y, displacement).
	a := mat.NewDense(len(indices), 3, nil)
	b := mat.NewVecDense(len(indices), nil)
	for i, idx := range indices {
		p := points[idx]
		a.Set(i, 0, p.X)
		a.Set(i, 1, p.Y)
		a.Set(i, 2, 1)
		b.SetVec(i, p.Displacement)
	}

	var coef mat.VecDense
	if err := coef.SolveVec(a, b); err != nil {
		return 0
	}

	perPoint := area / float64(len(indices))
	var volume float64
	for _, idx := range indices {
		p := points[idx]
		plane := coef.AtVec(0)*p.X + coef.AtVec(1)*p.Y + coef.AtVec(2)
		if excess := p.Displacement - plane; excess > 0 {
			volume += excess * perPoint
		}
	}
	return volume
}

// WriteXYZ streams the attributed cloud as space-separated text with a
// header row: X Y Z, per-epoch displacement columns, velocity, segment and
// class. The format mirrors the XYZ export consumed by the visualisation
// collaborator.
func (o *Output) WriteXYZ(w io.Writer) error {
	if _, err := fmt.Fprint(w, "X Y Z"); err != nil {
		return err
	}
	for _, d := range o.EpochDates {
		if _, err := fmt.Fprintf(w, " d_%s", d.Format("20060102")); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintln(w, " velocity residual segment class"); err != nil {
		return err
	}

	for _, p := range o.Points {
		if _, err := fmt.Fprintf(w, "%.3f %.3f %.3f", p.X, p.Y, p.Z); err != nil {
			return err
		}
		for i := range o.EpochIDs {
			v := math.NaN()
			if i < len(p.Displacements) {
				v = p.Displacements[i]
			}
			if _, err := fmt.Fprintf(w, " %.4f", v); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, " %.4f %.4f %d %d\n",
			p.Velocity, p.Residual, p.Segment, p.Class); err != nil {
			return err
		}
	}
	return nil
}

// SummaryLines renders the per-segment report and counter totals for the
// run log.
func (o *Output) SummaryLines() []string {
	lines := []string{
		fmt.Sprintf("run %s: %d points, %d epochs, %d segments",
			o.RunID, len(o.Points), len(o.EpochIDs), len(o.Segments)),
	}
	for _, s := range o.Segments {
		lines = append(lines, fmt.Sprintf(
			"segment %d: class=%d points=%d mean_velocity=%.3f area=%.1f volume=%.2f",
			s.ID, s.Class, s.PointCount, s.MeanVelocity, s.Area, s.VolumeAbovePlane))
	}
	lines = append(lines, fmt.Sprintf(
		"exclusions: validation=%d data_quality=%d non_convergence=%d resource=%d",
		o.Counters[insar.CategoryValidation], o.Counters[insar.CategoryDataQuality],
		o.Counters[insar.CategoryNonConvergence], o.Counters[insar.CategoryResource]))
	return lines
}
