package models

import (
	"fmt"
	"math"
)

// IgnoreLabel marks reference voxels excluded from masked scores.
const IgnoreLabel int8 = -1

// Spacing is the physical size of each voxel in mm along x, y and z
type Spacing struct {
	X, Y, Z float64
}

// Valid reports whether all three spacings are strictly positive
func (s Spacing) Valid() bool {
	return s.X > 0 && s.Y > 0 && s.Z > 0
}

// LengthUnit is the geometric mean of the spacings, used to turn a voxel
// count along a centerline into a physical length and to convert millimetre
// measures into voxel units.
func (s Spacing) LengthUnit() float64 {
	return math.Cbrt(s.X * s.Y * s.Z)
}

// Norm is the Euclidean length of the spacing vector
func (s Spacing) Norm() float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
}

// Volume is a scalar 3-D image, typically a posterior probability map.
type Volume struct {
	// Data holds the voxels as a 1D array: idx = z*NY*NX + y*NX + x
	Data []float64

	// NX, NY, NZ are the dimensions of the volume in voxels
	NX, NY, NZ int

	// Spacing is the physical size of each voxel in mm
	Spacing Spacing

	// Meta is an opaque token from the image reader, echoed back on write
	Meta any
}

// Mask is a binary 3-D voxel mask. Values are 0 (background) or 1, and a
// reference mask may also carry IgnoreLabel.
//
// The logical axis order is (z, y, x): x varies fastest in Data.
type Mask struct {
	// Data holds the voxels as a 1D array: idx = z*NY*NX + y*NX + x
	Data []int8

	// NX, NY, NZ are the dimensions of the mask in voxels
	NX, NY, NZ int

	// Spacing is the physical size of each voxel in mm
	Spacing Spacing

	// Meta is an opaque token from the image reader. Nothing in the
	// processing core inspects it.
	Meta any
}

// NewMask allocates an empty mask with unit spacing
func NewMask(nx, ny, nz int) *Mask {
	return &Mask{
		Data:    make([]int8, nx*ny*nz),
		NX:      nx,
		NY:      ny,
		NZ:      nz,
		Spacing: Spacing{X: 1, Y: 1, Z: 1},
	}
}

// NewMaskLike allocates an empty mask with the shape, spacing and metadata of m
func NewMaskLike(m *Mask) *Mask {
	out := NewMask(m.NX, m.NY, m.NZ)
	out.Spacing = m.Spacing
	out.Meta = m.Meta
	return out
}

// Index returns the flat index of voxel (x, y, z)
func (m *Mask) Index(x, y, z int) int {
	return z*m.NY*m.NX + y*m.NX + x
}

// Coords is the inverse of Index
func (m *Mask) Coords(idx int) (x, y, z int) {
	plane := m.NX * m.NY
	z = idx / plane
	rem := idx - z*plane
	y = rem / m.NX
	x = rem - y*m.NX
	return x, y, z
}

// InBounds reports whether (x, y, z) addresses a voxel of the mask
func (m *Mask) InBounds(x, y, z int) bool {
	return x >= 0 && x < m.NX && y >= 0 && y < m.NY && z >= 0 && z < m.NZ
}

// At returns the value of voxel (x, y, z)
func (m *Mask) At(x, y, z int) int8 {
	return m.Data[m.Index(x, y, z)]
}

// Set assigns the value of voxel (x, y, z)
func (m *Mask) Set(x, y, z int, v int8) {
	m.Data[m.Index(x, y, z)] = v
}

// Count returns the number of set (positive) voxels
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v > 0 {
			n++
		}
	}
	return n
}

// Fill sets every voxel to v
func (m *Mask) Fill(v int8) {
	for i := range m.Data {
		m.Data[i] = v
	}
}

// Invert swaps set and background voxels in place
func (m *Mask) Invert() {
	for i, v := range m.Data {
		if v > 0 {
			m.Data[i] = 0
		} else {
			m.Data[i] = 1
		}
	}
}

// Clone returns a deep copy of the voxel data; Meta is shared
func (m *Mask) Clone() *Mask {
	out := *m
	out.Data = make([]int8, len(m.Data))
	copy(out.Data, m.Data)
	return &out
}

// SameShape reports whether both masks have identical dimensions
func (m *Mask) SameShape(o *Mask) bool {
	return m.NX == o.NX && m.NY == o.NY && m.NZ == o.NZ
}

// CheckShape returns a validation error when o does not match m
func (m *Mask) CheckShape(o *Mask) error {
	if !m.SameShape(o) {
		return fmt.Errorf("%w: mask shape %dx%dx%d does not match %dx%dx%d",
			ErrValidation, o.NX, o.NY, o.NZ, m.NX, m.NY, m.NZ)
	}
	return nil
}
