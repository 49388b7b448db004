// Package topology provides a validated, in-memory view of one case's branch
// measurement table.
//
// All quantities held by a Case are expressed in voxel units: begin/end
// points are voxel-index coordinates as found in the table, and diameters and
// lengths reported in millimetres are divided by the geometric mean of the
// voxel spacing when Options.MeasuresInMillimetres is set.
package topology

import (
	"fmt"
	"sort"

	"airwaydefects/internal/logging"
	"airwaydefects/internal/models"
)

// DefaultLengthTolerance is the slack, in voxels, allowed when comparing the
// straight-line length of a branch with its reported length.
const DefaultLengthTolerance = 1.0e-3

// Options controls unit conversion and consistency checks
type Options struct {
	// MeasuresInMillimetres converts InnerDiameter and AirwayLength to voxels
	MeasuresInMillimetres bool

	// LengthTolerance is the slack for the length consistency check
	LengthTolerance float64
}

// Case is the branch topology of one case
type Case struct {
	// Name identifies the case
	Name string

	// Branches are kept in table order
	Branches []models.BranchRecord

	// Spacing is the physical voxel size of the case image
	Spacing models.Spacing

	index        map[int]int
	inconsistent []int
}

// New validates the branch table of a case and converts it to voxel units.
//
// It fails with a validation error when the table is empty, when branch ids
// repeat, when a child id does not reference a branch of the case, or when
// the spacing is not positive. Branches whose straight-line length is shorter
// than their reported length are flagged, not rejected.
func New(name string, branches []models.BranchRecord, spacing models.Spacing, opts Options) (*Case, error) {
	if len(branches) == 0 {
		return nil, fmt.Errorf("%w: case %s has no branches", models.ErrValidation, name)
	}
	if !spacing.Valid() {
		return nil, fmt.Errorf("%w: case %s has non-positive voxel spacing %+v", models.ErrValidation, name, spacing)
	}

	c := &Case{
		Name:     name,
		Branches: make([]models.BranchRecord, len(branches)),
		Spacing:  spacing,
		index:    make(map[int]int, len(branches)),
	}

	scale := 1.0
	if opts.MeasuresInMillimetres {
		scale = 1.0 / spacing.LengthUnit()
	}

	for i, b := range branches {
		if _, dup := c.index[b.ID]; dup {
			return nil, fmt.Errorf("%w: case %s repeats branch id %d", models.ErrValidation, name, b.ID)
		}
		b.InnerDiameter *= scale
		b.AirwayLength *= scale
		b.ChildrenIDs = append([]int(nil), b.ChildrenIDs...)
		c.Branches[i] = b
		c.index[b.ID] = i
	}

	for _, b := range c.Branches {
		for _, child := range b.ChildrenIDs {
			if _, ok := c.index[child]; !ok {
				return nil, fmt.Errorf("%w: case %s branch %d lists unknown child %d",
					models.ErrValidation, name, b.ID, child)
			}
		}
	}

	tol := opts.LengthTolerance
	if tol <= 0 {
		tol = DefaultLengthTolerance
	}
	for _, b := range c.Branches {
		if b.SegmentLength() < b.AirwayLength-tol {
			c.inconsistent = append(c.inconsistent, b.ID)
		}
	}
	if len(c.inconsistent) > 0 {
		logging.New("topology").Warn("branches shorter than their reported length",
			"case", name, "count", len(c.inconsistent), "total", len(c.Branches))
	}

	return c, nil
}

// Len returns the number of branches
func (c *Case) Len() int {
	return len(c.Branches)
}

// Branch looks up a branch by id
func (c *Case) Branch(id int) (models.BranchRecord, bool) {
	i, ok := c.index[id]
	if !ok {
		return models.BranchRecord{}, false
	}
	return c.Branches[i], true
}

// Terminals returns the branches without children, in table order
func (c *Case) Terminals() []models.BranchRecord {
	var out []models.BranchRecord
	for _, b := range c.Branches {
		if b.IsTerminal() {
			out = append(out, b)
		}
	}
	return out
}

// Inconsistent returns the sorted ids of branches flagged by the length check
func (c *Case) Inconsistent() []int {
	out := append([]int(nil), c.inconsistent...)
	sort.Ints(out)
	return out
}

// TotalLength sums the reported airway length of every branch
func (c *Case) TotalLength() float64 {
	total := 0.0
	for _, b := range c.Branches {
		total += b.AirwayLength
	}
	return total
}
