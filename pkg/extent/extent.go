// Package extent summarizes how much of a tree the injected defects remove.
package extent

import (
	"fmt"

	"airwaydefects/internal/models"
	"airwaydefects/pkg/topology"
)

// LengthTolerance is how far a blank may exceed the length of its branch
// before the provenance is rejected
const LengthTolerance = 1.0e-3

// TypeExtent holds the ratios of one defect type
type TypeExtent struct {
	// BranchCountRatio is the number of defects over the number of branches
	BranchCountRatio float64

	// TreeLengthRatio is the summed blank length over the summed reported
	// airway length of every branch
	TreeLengthRatio float64
}

// Summary is the extent of the defects injected into one case
type Summary struct {
	Case      string
	MidBranch TypeExtent
	Terminal  TypeExtent
}

// For returns the extent of the given defect type
func (s Summary) For(t models.DefectType) TypeExtent {
	if t == models.TerminalTruncation {
		return s.Terminal
	}
	return s.MidBranch
}

// Summarize computes the branch-count and tree-length ratios per defect type.
// A record naming an unknown branch, or longer than the full length of its
// branch, is a validation error.
func Summarize(c *topology.Case, records []models.DefectRecord) (Summary, error) {
	total := c.TotalLength()
	if c.Len() == 0 || !(total > 0) {
		return Summary{}, fmt.Errorf("%w: case %s has no branch length", models.ErrValidation, c.Name)
	}

	counts := make(map[models.DefectType]int)
	lengths := make(map[models.DefectType]float64)
	for _, rec := range records {
		b, ok := c.Branch(rec.BranchID)
		if !ok {
			return Summary{}, fmt.Errorf("%w: case %s defect on unknown branch %d",
				models.ErrValidation, c.Name, rec.BranchID)
		}
		if rec.Length > b.FullLength()+LengthTolerance {
			return Summary{}, fmt.Errorf("%w: case %s branch %d blank length %.4f exceeds branch length %.4f",
				models.ErrValidation, c.Name, rec.BranchID, rec.Length, b.FullLength())
		}
		if _, err := models.ParseDefectType(int(rec.Type)); err != nil {
			return Summary{}, fmt.Errorf("case %s branch %d: %w", c.Name, rec.BranchID, err)
		}
		counts[rec.Type]++
		lengths[rec.Type] += rec.Length
	}

	n := float64(c.Len())
	ratios := func(t models.DefectType) TypeExtent {
		return TypeExtent{
			BranchCountRatio: float64(counts[t]) / n,
			TreeLengthRatio:  lengths[t] / total,
		}
	}
	return Summary{
		Case:      c.Name,
		MidBranch: ratios(models.MidBranchAblation),
		Terminal:  ratios(models.TerminalTruncation),
	}, nil
}
