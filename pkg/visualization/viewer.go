// Package visualization renders slices of an airway mask before and after
// defect injection.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"airwaydefects/internal/models"
)

var (
	// Kept marks airway voxels that survived injection
	Kept = color.RGBA{R: 255, G: 255, B: 255, A: 255}

	// Carved marks airway voxels removed by a defect
	Carved = color.RGBA{R: 255, A: 255}

	// Background marks voxels outside the airway
	Background = color.RGBA{A: 255}
)

// Viewer compares an original mask with its injected copy
type Viewer struct {
	before *models.Mask
	after  *models.Mask
}

// NewViewer creates a viewer for two masks of the same shape
func NewViewer(before, after *models.Mask) (*Viewer, error) {
	if err := before.CheckShape(after); err != nil {
		return nil, err
	}
	return &Viewer{before: before, after: after}, nil
}

// extent returns the number of slices along an axis
func (v *Viewer) extent(axis string) (int, error) {
	switch axis {
	case "x", "X":
		return v.before.NX, nil
	case "y", "Y":
		return v.before.NY, nil
	case "z", "Z":
		return v.before.NZ, nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// voxel maps in-slice pixel coordinates to voxel coordinates
func voxel(axis string, position, u, w int) (x, y, z int) {
	switch axis {
	case "x", "X":
		return position, w, u
	case "y", "Y":
		return u, position, w
	default:
		return u, w, position
	}
}

// sliceSize returns the image width and height of a slice along axis
func (v *Viewer) sliceSize(axis string) (int, int) {
	switch axis {
	case "x", "X":
		return v.before.NZ, v.before.NY
	case "y", "Y":
		return v.before.NX, v.before.NZ
	default:
		return v.before.NX, v.before.NY
	}
}

func (v *Viewer) colorAt(x, y, z int) color.RGBA {
	switch {
	case v.after.At(x, y, z) > 0:
		return Kept
	case v.before.At(x, y, z) > 0:
		return Carved
	}
	return Background
}

// ExtractSlice renders one slice with kept voxels white and carved voxels red
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	n, err := v.extent(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= n {
		return nil, fmt.Errorf("position %d outside [0, %d) along %s", position, n, axis)
	}

	w, h := v.sliceSize(axis)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			img.SetRGBA(col, row, v.colorAt(voxel(axis, position, col, row)))
		}
	}
	return img, nil
}

// CarvedSlices returns, in order, the positions along axis of the slices
// holding at least one carved voxel
func (v *Viewer) CarvedSlices(axis string) ([]int, error) {
	n, err := v.extent(axis)
	if err != nil {
		return nil, err
	}
	w, h := v.sliceSize(axis)

	var out []int
	for pos := 0; pos < n; pos++ {
	scan:
		for row := 0; row < h; row++ {
			for col := 0; col < w; col++ {
				if v.colorAt(voxel(axis, pos, col, row)) == Carved {
					out = append(out, pos)
					break scan
				}
			}
		}
	}
	return out, nil
}

// SaveSlice saves an extracted slice as a PNG image
func (v *Viewer) SaveSlice(img image.Image, filename string) (err error) {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); err == nil {
			err = cerr
		}
	}()

	return png.Encode(file, img)
}

// SaveCarvedSlices writes every slice along axis that holds carved voxels to
// outputDir as <prefix>_<axis>_<pos>.png and returns the number written
func (v *Viewer) SaveCarvedSlices(axis, outputDir, prefix string) (int, error) {
	positions, err := v.CarvedSlices(axis)
	if err != nil {
		return 0, err
	}
	if len(positions) == 0 {
		return 0, nil
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, err
	}

	for i, pos := range positions {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return i, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s_%03d.png", prefix, axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return i, err
		}
	}

	return len(positions), nil
}
