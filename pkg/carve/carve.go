// Package carve rasterizes blanking shapes (spheres and cylinders) into a
// binary voxel mask by zeroing every voxel whose center lies inside the shape.
//
// Coordinates are voxel indices ordered (x, y, z) while the mask is indexed
// (z, y, x). Only the axis-aligned bounding box of the shape, clamped to the
// mask, is ever visited, so the cost of a carve depends on the shape size and
// not on the volume size.
//
// Carving only ever writes background values. Applying a carve twice, or
// over voxels that are already background, leaves the mask unchanged, and
// the result of several carves does not depend on their order.
package carve

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/r3"

	"airwaydefects/internal/models"
)

// ErrInvalidShape is returned for non-positive sizes or a zero-length axis.
var ErrInvalidShape = errors.New("invalid blanking shape")

// Shape selects the blanking primitive used by the injection pipeline
type Shape int

const (
	ShapeCylinder Shape = iota
	ShapeSphere
)

func (s Shape) String() string {
	switch s {
	case ShapeCylinder:
		return "cylinder"
	case ShapeSphere:
		return "sphere"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// ParseShape maps a configuration string to a Shape
func ParseShape(name string) (Shape, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "cylinder":
		return ShapeCylinder, nil
	case "sphere":
		return ShapeSphere, nil
	}
	return 0, fmt.Errorf("%w: unknown defect shape %q (valid: cylinder, sphere)",
		models.ErrConfiguration, name)
}

// capTolerance absorbs rounding when a voxel center lies on the start cap
const capTolerance = 1e-9

// box is an inclusive voxel index range
type box struct {
	x0, x1, y0, y1, z0, z1 int
}

func (b box) empty() bool {
	return b.x0 > b.x1 || b.y0 > b.y1 || b.z0 > b.z1
}

// boundingBox returns the voxels within halfWidth of center along each axis,
// clamped to the mask.
func boundingBox(mask *models.Mask, center r3.Vector, halfWidth float64) box {
	return box{
		x0: max(int(math.Floor(center.X-halfWidth)), 0),
		x1: min(int(math.Ceil(center.X+halfWidth)), mask.NX-1),
		y0: max(int(math.Floor(center.Y-halfWidth)), 0),
		y1: min(int(math.Ceil(center.Y+halfWidth)), mask.NY-1),
		z0: max(int(math.Floor(center.Z-halfWidth)), 0),
		z1: min(int(math.Ceil(center.Z+halfWidth)), mask.NZ-1),
	}
}

// zeroInside visits the box and clears every set voxel for which inside
// returns true. It returns how many voxels changed.
func zeroInside(mask *models.Mask, b box, center r3.Vector, inside func(offset r3.Vector) bool) int {
	if b.empty() {
		return 0
	}
	zeroed := 0
	for z := b.z0; z <= b.z1; z++ {
		for y := b.y0; y <= b.y1; y++ {
			row := z*mask.NY*mask.NX + y*mask.NX
			for x := b.x0; x <= b.x1; x++ {
				offset := r3.Vector{X: float64(x), Y: float64(y), Z: float64(z)}.Sub(center)
				if !inside(offset) {
					continue
				}
				if mask.Data[row+x] > 0 {
					zeroed++
				}
				mask.Data[row+x] = 0
			}
		}
	}
	return zeroed
}

// Sphere zeroes the voxels within diameter/2 of center. It returns the number
// of voxels that changed from set to background.
func Sphere(mask *models.Mask, center r3.Vector, diameter float64) (int, error) {
	if !(diameter > 0) {
		return 0, fmt.Errorf("%w: sphere diameter %g", ErrInvalidShape, diameter)
	}
	radius := diameter / 2
	radius2 := radius * radius

	b := boundingBox(mask, center, radius)
	return zeroInside(mask, b, center, func(offset r3.Vector) bool {
		return offset.Norm2() <= radius2
	}), nil
}

// Cylinder zeroes the voxels of a right circular cylinder centered at center,
// oriented along axis (any non-zero length), with base diameter diameter and
// total length length. It returns the number of voxels that changed from set
// to background.
func Cylinder(mask *models.Mask, center, axis r3.Vector, diameter, length float64) (int, error) {
	return cylinder(mask, center, axis, diameter, length, false)
}

// OpenStartCylinder is Cylinder without the voxels lying exactly on the cap
// at center - axis*length/2. A truncation carved this way leaves its start
// point attached to the parent branch.
func OpenStartCylinder(mask *models.Mask, center, axis r3.Vector, diameter, length float64) (int, error) {
	return cylinder(mask, center, axis, diameter, length, true)
}

func cylinder(mask *models.Mask, center, axis r3.Vector, diameter, length float64, openStart bool) (int, error) {
	if !(diameter > 0) || !(length > 0) {
		return 0, fmt.Errorf("%w: cylinder diameter %g, length %g", ErrInvalidShape, diameter, length)
	}
	axisNorm := axis.Norm()
	if !(axisNorm > 0) || math.IsInf(axisNorm, 0) {
		return 0, fmt.Errorf("%w: degenerate cylinder axis %v", ErrInvalidShape, axis)
	}
	unit := axis.Mul(1 / axisNorm)
	radius := diameter / 2
	halfLength := length / 2

	// farthest point of the cylinder from its center is a rim corner
	reach := math.Sqrt(radius*radius + halfLength*halfLength)

	b := boundingBox(mask, center, reach)
	return zeroInside(mask, b, center, func(offset r3.Vector) bool {
		parallel := offset.Dot(unit)
		if math.Abs(parallel) > halfLength {
			return false
		}
		if openStart && parallel <= -halfLength+capTolerance {
			return false
		}
		// clamp: cancellation can push the difference slightly below zero
		perpendicular := math.Sqrt(math.Max(0, offset.Norm2()-parallel*parallel))
		return perpendicular <= radius
	}), nil
}
