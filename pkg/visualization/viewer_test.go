package visualization

import (
	"errors"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"airwaydefects/internal/models"
)

// carvedPair returns a 6x5x4 mask set for x >= 1 and a copy with the voxels
// x in {2, 3}, y = 1, z = 2 removed
func carvedPair() (before, after *models.Mask) {
	before = models.NewMask(6, 5, 4)
	for z := 0; z < 4; z++ {
		for y := 0; y < 5; y++ {
			for x := 1; x < 6; x++ {
				before.Set(x, y, z, 1)
			}
		}
	}
	after = before.Clone()
	after.Set(2, 1, 2, 0)
	after.Set(3, 1, 2, 0)
	return before, after
}

// TestNewViewer verifies that masks of different shapes are rejected
func TestNewViewer(t *testing.T) {
	before, after := carvedPair()
	if _, err := NewViewer(before, after); err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}
	if _, err := NewViewer(before, models.NewMask(6, 5, 3)); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected ErrValidation for mismatched shapes, got %v", err)
	}
}

// TestExtractSlice verifies slice size and colours along each axis
func TestExtractSlice(t *testing.T) {
	before, after := carvedPair()
	v, err := NewViewer(before, after)
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}

	tests := []struct {
		axis       string
		position   int
		w, h       int
		col, row   int
		wantColour color.RGBA
	}{
		{"z", 2, 6, 5, 2, 1, Carved},
		{"z", 2, 6, 5, 4, 1, Kept},
		{"z", 2, 6, 5, 0, 1, Background},
		{"z", 1, 6, 5, 2, 1, Kept},
		{"y", 1, 6, 4, 3, 2, Carved},
		{"x", 3, 4, 5, 2, 1, Carved},
		{"X", 0, 4, 5, 2, 1, Background},
	}

	for _, tc := range tests {
		img, err := v.ExtractSlice(tc.axis, tc.position)
		if err != nil {
			t.Fatalf("ExtractSlice(%s, %d) failed: %v", tc.axis, tc.position, err)
		}
		b := img.Bounds()
		if b.Dx() != tc.w || b.Dy() != tc.h {
			t.Errorf("Expected %s slice size %dx%d, got %dx%d", tc.axis, tc.w, tc.h, b.Dx(), b.Dy())
		}
		got := color.RGBAModel.Convert(img.At(tc.col, tc.row)).(color.RGBA)
		if got != tc.wantColour {
			t.Errorf("Expected colour %v at (%d, %d) of %s slice %d, got %v",
				tc.wantColour, tc.col, tc.row, tc.axis, tc.position, got)
		}
	}
}

// TestExtractSliceErrors verifies invalid axes and positions
func TestExtractSliceErrors(t *testing.T) {
	before, after := carvedPair()
	v, _ := NewViewer(before, after)

	if _, err := v.ExtractSlice("w", 0); err == nil {
		t.Error("Expected error for invalid axis")
	}
	if _, err := v.ExtractSlice("z", -1); err == nil {
		t.Error("Expected error for negative position")
	}
	if _, err := v.ExtractSlice("z", 4); err == nil {
		t.Error("Expected error for position beyond depth")
	}
}

// TestCarvedSlices verifies which slices are reported along each axis
func TestCarvedSlices(t *testing.T) {
	before, after := carvedPair()
	v, _ := NewViewer(before, after)

	tests := map[string][]int{
		"z": {2},
		"y": {1},
		"x": {2, 3},
	}
	for axis, want := range tests {
		got, err := v.CarvedSlices(axis)
		if err != nil {
			t.Fatalf("CarvedSlices(%s) failed: %v", axis, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("CarvedSlices(%s) mismatch (-want +got):\n%s", axis, diff)
		}
	}

	same, _ := NewViewer(before, before)
	got, _ := same.CarvedSlices("z")
	if len(got) != 0 {
		t.Errorf("Expected no carved slices for identical masks, got %v", got)
	}
}

// TestSaveCarvedSlices verifies the PNG files written to disk
func TestSaveCarvedSlices(t *testing.T) {
	before, after := carvedPair()
	v, _ := NewViewer(before, after)
	dir := filepath.Join(t.TempDir(), "previews")

	n, err := v.SaveCarvedSlices("x", dir, "case1")
	if err != nil {
		t.Fatalf("SaveCarvedSlices failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("Expected 2 previews, got %d", n)
	}

	for _, name := range []string{"case1_x_002.png", "case1_x_003.png"} {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("Expected preview %s: %v", name, err)
		}
		img, err := png.Decode(f)
		_ = f.Close()
		if err != nil {
			t.Fatalf("Failed to decode %s: %v", name, err)
		}
		if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 5 {
			t.Errorf("Unexpected preview size %v for %s", img.Bounds(), name)
		}
	}

	same, _ := NewViewer(before, before)
	empty := filepath.Join(t.TempDir(), "none")
	if n, err := same.SaveCarvedSlices("z", empty, "case1"); err != nil || n != 0 {
		t.Errorf("Expected no previews and no error, got %d, %v", n, err)
	}
	if _, err := os.Stat(empty); !os.IsNotExist(err) {
		t.Errorf("Expected no directory when nothing was carved, got %v", err)
	}
}
