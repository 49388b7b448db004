package models

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r3"
)

// TestMaskIndexing verifies that Index and Coords are inverse operations
func TestMaskIndexing(t *testing.T) {
	m := NewMask(4, 3, 2)
	for idx := range m.Data {
		x, y, z := m.Coords(idx)
		if !m.InBounds(x, y, z) {
			t.Fatalf("Coords(%d) = (%d,%d,%d) out of bounds", idx, x, y, z)
		}
		if got := m.Index(x, y, z); got != idx {
			t.Errorf("Expected index %d, got %d", idx, got)
		}
	}

	// x varies fastest
	if m.Index(1, 0, 0) != 1 || m.Index(0, 1, 0) != 4 || m.Index(0, 0, 1) != 12 {
		t.Errorf("Unexpected memory layout")
	}
}

// TestMaskCountAndInvert verifies counting of set voxels and inversion
func TestMaskCountAndInvert(t *testing.T) {
	m := NewMask(3, 3, 3)
	m.Set(1, 1, 1, 1)
	m.Set(0, 0, 0, IgnoreLabel)

	if m.Count() != 1 {
		t.Errorf("Expected 1 set voxel, got %d", m.Count())
	}

	c := m.Clone()
	c.Invert()
	if c.Count() != 26 {
		t.Errorf("Expected 26 set voxels after invert, got %d", c.Count())
	}
	if m.At(1, 1, 1) != 1 {
		t.Errorf("Clone shares data with the original")
	}
}

// TestCheckShape verifies that mismatched masks yield a validation error
func TestCheckShape(t *testing.T) {
	a := NewMask(2, 2, 2)
	if err := a.CheckShape(NewMaskLike(a)); err != nil {
		t.Errorf("Expected matching shapes, got %v", err)
	}
	if err := a.CheckShape(NewMask(2, 2, 3)); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

// TestSpacing verifies the geometric mean length unit
func TestSpacing(t *testing.T) {
	s := Spacing{X: 0.5, Y: 1, Z: 2}
	if math.Abs(s.LengthUnit()-1) > 1e-12 {
		t.Errorf("Expected length unit 1, got %f", s.LengthUnit())
	}
	if !s.Valid() || (Spacing{X: 1, Y: -1, Z: 1}).Valid() {
		t.Errorf("Unexpected validity result")
	}
}

// TestBranchGeometry verifies the derived branch lengths and interpolation
func TestBranchGeometry(t *testing.T) {
	b := BranchRecord{
		Begin:        r3.Vector{X: 1, Y: 1, Z: 1},
		End:          r3.Vector{X: 4, Y: 5, Z: 1},
		AirwayLength: 4,
	}

	if b.SegmentLength() != 5 {
		t.Errorf("Expected segment length 5, got %f", b.SegmentLength())
	}
	if b.FullLength() != 5 {
		t.Errorf("Expected full length 5, got %f", b.FullLength())
	}
	if !b.IsTerminal() {
		t.Errorf("Expected a branch without children to be terminal")
	}

	mid := b.PointAt(0.5)
	if mid != (r3.Vector{X: 2.5, Y: 3, Z: 1}) {
		t.Errorf("Expected midpoint (2.5,3,1), got %v", mid)
	}
}

// TestParseDefectType verifies the numeric defect tags
func TestParseDefectType(t *testing.T) {
	for _, dt := range DefectTypes {
		got, err := ParseDefectType(int(dt))
		if err != nil || got != dt {
			t.Errorf("Expected %v, got %v (%v)", dt, got, err)
		}
	}
	if _, err := ParseDefectType(3); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}
