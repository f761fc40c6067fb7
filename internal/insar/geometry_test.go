package insar

import (
	"math"
	"testing"
)

func TestIdentityTransform(t *testing.T) {
	id := IdentityTransform()
	x, y, z := id.Apply(3, -4, 5)
	if x != 3 || y != -4 || z != 5 {
		t.Errorf("identity moved (3,-4,5) to (%g,%g,%g)", x, y, z)
	}
}

func TestComposeOrder(t *testing.T) {
	// Rotation 90 degrees about Z, then translate: order matters.
	rot := Transform{T: [16]float64{
		0, -1, 0, 0,
		1, 0, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}}
	trans := Transform{T: [16]float64{
		1, 0, 0, 10,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}}

	// trans.Compose(rot) applies rot first.
	x, y, z := trans.Compose(rot).Apply(1, 0, 0)
	if math.Abs(x-10) > 1e-12 || math.Abs(y-1) > 1e-12 || math.Abs(z) > 1e-12 {
		t.Errorf("rotate-then-translate gave (%g,%g,%g), want (10,1,0)", x, y, z)
	}

	// rot.Compose(trans) applies trans first.
	x, y, _ = rot.Compose(trans).Apply(1, 0, 0)
	if math.Abs(x) > 1e-12 || math.Abs(y-11) > 1e-12 {
		t.Errorf("translate-then-rotate gave (%g,%g), want (0,11)", x, y)
	}
}

func TestTranslation(t *testing.T) {
	tr := Transform{T: [16]float64{
		1, 0, 0, 2.5,
		0, 1, 0, -1,
		0, 0, 1, 0.25,
		0, 0, 0, 1,
	}}
	dx, dy, dz := tr.Translation()
	if dx != 2.5 || dy != -1 || dz != 0.25 {
		t.Errorf("Translation() = (%g,%g,%g)", dx, dy, dz)
	}
}
