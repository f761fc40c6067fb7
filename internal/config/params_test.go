package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsApplyWhenUnset(t *testing.T) {
	p := EmptyRunParams()

	if got := p.GetCoherenceThreshold(); got != DefaultCoherenceThreshold {
		t.Errorf("GetCoherenceThreshold() = %g, want %g", got, DefaultCoherenceThreshold)
	}
	if got := p.GetStride(); got != DefaultStride {
		t.Errorf("GetStride() = %d, want %d", got, DefaultStride)
	}
	if got := p.GetDisplacementScale(); got != DefaultDisplacementScale {
		t.Errorf("GetDisplacementScale() = %g, want %g", got, DefaultDisplacementScale)
	}
	if got := p.GetNumClusters(); got != DefaultNumClusters {
		t.Errorf("GetNumClusters() = %d, want %d", got, DefaultNumClusters)
	}
	if got := p.GetInterpolation(); got != "nearest" {
		t.Errorf("GetInterpolation() = %q, want nearest", got)
	}
	if _, _, bounded := p.GetDeformationRange(); bounded {
		t.Error("deformation range should be unbounded by default")
	}
	if _, _, ok := p.GetReferencePoint(); ok {
		t.Error("reference point should be unset by default")
	}
}

func TestLoadRunParamsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.json")
	content := `{
		"coherence_threshold": 0.5,
		"point_cloud_resolution": 2,
		"num_clusters": 3,
		"time_series_reference_point": [500015, 2999985]
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := LoadRunParams(path)
	if err != nil {
		t.Fatalf("LoadRunParams: %v", err)
	}
	if got := p.GetCoherenceThreshold(); got != 0.5 {
		t.Errorf("coherence threshold = %g, want 0.5", got)
	}
	if got := p.GetStride(); got != 2 {
		t.Errorf("stride = %d, want 2", got)
	}
	if got := p.GetNumClusters(); got != 3 {
		t.Errorf("num clusters = %d, want 3", got)
	}
	lon, lat, ok := p.GetReferencePoint()
	if !ok || lon != 500015 || lat != 2999985 {
		t.Errorf("reference point = (%g, %g, %v)", lon, lat, ok)
	}
	// Everything omitted still falls back to defaults.
	if got := p.GetICPMaxIterations(); got != DefaultICPMaxIterations {
		t.Errorf("icp max iterations = %d, want default %d", got, DefaultICPMaxIterations)
	}
}

func TestLoadRunParamsRejectsNonJSON(t *testing.T) {
	if _, err := LoadRunParams("params.yaml"); err == nil {
		t.Error("non-JSON extension should be rejected")
	}
}

func TestLoadRunParamsMissingFile(t *testing.T) {
	if _, err := LoadRunParams(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("missing file should be an error")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	bad := []RunParams{
		{CoherenceThreshold: fptr(1.5)},
		{CoherenceThreshold: fptr(-0.1)},
		{PointCloudStride: iptr(0)},
		{Interpolation: sptr("cubic")},
		{NumClusters: iptr(0)},
		{ICPMaxIterations: iptr(0)},
		{MinDeformation: fptr(10), MaxDeformation: fptr(-10)},
		{ReferencePoint: []float64{1}},
	}
	for i, p := range bad {
		if err := p.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestValidateAcceptsGoodValues(t *testing.T) {
	p := RunParams{
		CoherenceThreshold: fptr(0.3),
		PointCloudStride:   iptr(4),
		Interpolation:      sptr("bilinear"),
		NumClusters:        iptr(5),
		MinDeformation:     fptr(-100),
		MaxDeformation:     fptr(100),
		ReferencePoint:     []float64{500000, 3000000},
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }
func sptr(v string) *string   { return &v }
