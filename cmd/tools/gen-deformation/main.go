// Command gen-deformation generates synthetic deformation rasters and a DEM
// for testing the pipeline without a SAR-processing backend: a Gaussian
// subsidence bowl deepening over time on a hilly terrain, written as JSON
// grids in the collaborator's product format.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

type product struct {
	CRS          string    `json:"crs"`
	OriginX      float64   `json:"origin_x"`
	OriginY      float64   `json:"origin_y"`
	CellSize     float64   `json:"cell_size"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	Displacement []float64 `json:"displacement,omitempty"`
	Coherence    []float64 `json:"coherence,omitempty"`
	Elevation    []float64 `json:"elevation,omitempty"`
}

func main() {
	outDir := flag.String("o", "sample_data", "output directory")
	size := flag.Int("size", 500, "grid width and height in cells")
	cellSize := flag.Float64("cell", 30.0, "cell size in metres")
	dates := flag.Int("n", 3, "number of epochs")
	amplitude := flag.Float64("amp", 0.05, "final bowl depth in metres")
	seed := flag.Int64("seed", 1, "noise seed")
	flag.Parse()

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}

	rng := rand.New(rand.NewSource(*seed))
	w, h := *size, *size
	base := product{
		CRS:      "EPSG:32650",
		OriginX:  500000.0,
		OriginY:  3000000.0,
		CellSize: *cellSize,
		Width:    w,
		Height:   h,
	}

	// Terrain: sin/cos hills around 500 m with a little roughness.
	dem := base
	dem.Elevation = make([]float64, w*h)
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			x := float64(c) * *cellSize
			y := float64(r) * *cellSize
			dem.Elevation[r*w+c] = 500 + 400*math.Sin(x/5000)*math.Cos(y/5000) + 200*rng.Float64()
		}
	}
	writeJSON(filepath.Join(*outDir, "dem.json"), dem)

	// Deformation: a centred Gaussian bowl deepening linearly per epoch.
	baseDate := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	cx, cy := float64(w)/2, float64(h)/2
	sigma := float64(w) / 8
	for i := 0; i < *dates; i++ {
		date := baseDate.AddDate(0, i, 0)
		depth := *amplitude
		if *dates > 1 {
			depth = *amplitude * float64(i) / float64(*dates-1)
		}

		p := base
		p.Displacement = make([]float64, w*h)
		p.Coherence = make([]float64, w*h)
		for r := 0; r < h; r++ {
			for c := 0; c < w; c++ {
				dx := (float64(c) - cx) / sigma
				dy := (float64(r) - cy) / sigma
				bowl := -depth * math.Exp(-(dx*dx+dy*dy)/2)
				p.Displacement[r*w+c] = bowl + 0.002*(rng.Float64()-0.5)
				// Coherence decays away from the bowl centre.
				p.Coherence[r*w+c] = math.Max(0.1, 0.95-0.3*math.Sqrt(dx*dx+dy*dy)/4)
			}
		}

		name := fmt.Sprintf("deformation_%s.json", date.Format("20060102"))
		writeJSON(filepath.Join(*outDir, name), p)
		log.Printf("%d/%d epochs", i+1, *dates)
	}
	log.Printf("✓ Created: %s", *outDir)
}

func writeJSON(path string, v any) {
	f, err := os.Create(path)
	if err != nil {
		log.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	if err := enc.Encode(v); err != nil {
		log.Fatalf("write %s: %v", path, err)
	}
}
