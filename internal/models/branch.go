package models

import (
	"math"

	"github.com/golang/geo/r3"
)

// BranchRecord holds the measurements of one branch of an airway or vessel tree
type BranchRecord struct {
	// ID identifies the branch within its case
	ID int

	// Generation is the depth of the branch in the tree (0 = trachea/root)
	Generation int

	// ParentID is nil for the root branch
	ParentID *int

	// ChildrenIDs lists the branches that start at the end of this one.
	// An empty list makes the branch terminal.
	ChildrenIDs []int

	// Begin, End and Mid are voxel-index coordinates (x, y, z)
	Begin r3.Vector
	End   r3.Vector
	Mid   r3.Vector

	// InnerDiameter is the lumen diameter of the branch
	InnerDiameter float64

	// AirwayLength is the reported length of the branch centerline
	AirwayLength float64
}

// IsTerminal reports whether the branch has no children
func (b BranchRecord) IsTerminal() bool {
	return len(b.ChildrenIDs) == 0
}

// Axis returns the vector from the begin point to the end point
func (b BranchRecord) Axis() r3.Vector {
	return b.End.Sub(b.Begin)
}

// SegmentLength is the Euclidean distance between begin and end points
func (b BranchRecord) SegmentLength() float64 {
	return b.Axis().Norm()
}

// FullLength is the larger of the reported and the straight-line length
func (b BranchRecord) FullLength() float64 {
	return math.Max(b.AirwayLength, b.SegmentLength())
}

// PointAt interpolates along the branch segment: 0 is Begin, 1 is End
func (b BranchRecord) PointAt(rel float64) r3.Vector {
	return b.Begin.Add(b.Axis().Mul(rel))
}
