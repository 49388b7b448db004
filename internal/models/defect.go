package models

import (
	"fmt"

	"github.com/golang/geo/r3"
)

// DefectType tags the two kinds of synthetic segmentation error
type DefectType int

const (
	// MidBranchAblation blanks a short stretch somewhere along a branch
	MidBranchAblation DefectType = 1

	// TerminalTruncation removes the distal part of a terminal branch
	TerminalTruncation DefectType = 2
)

// DefectTypes lists the defect types in injection order
var DefectTypes = []DefectType{MidBranchAblation, TerminalTruncation}

func (t DefectType) String() string {
	switch t {
	case MidBranchAblation:
		return "type1"
	case TerminalTruncation:
		return "type2"
	default:
		return fmt.Sprintf("type%d", int(t))
	}
}

// ParseDefectType converts the numeric tag used in provenance tables
func ParseDefectType(v int) (DefectType, error) {
	switch DefectType(v) {
	case MidBranchAblation, TerminalTruncation:
		return DefectType(v), nil
	}
	return 0, fmt.Errorf("%w: unknown defect type %d", ErrValidation, v)
}

// DefectRecord is the provenance of one injected defect
type DefectRecord struct {
	BranchID int
	Type     DefectType
	Center   r3.Vector // voxel-index coordinates (x, y, z)
	Diameter float64
	Length   float64
}
