// Package tabular reads and writes the CSV tables exchanged with the
// measurement and evaluation tools: branch measures, voxel spacing,
// defect provenance, metric scores and defect extents.
package tabular

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"

	"airwaydefects/internal/models"
)

// Branch table columns
const (
	ColBranchID   = "airway_ID"
	ColGeneration = "generation"
	ColParentID   = "parent_ID"
	ColChildren   = "childrenID"
	ColDiameter   = "d_inner_global"
	ColLength     = "airway_length"
)

var pointColumns = [3][3]string{
	{"begPoint_x", "begPoint_y", "begPoint_z"},
	{"endPoint_x", "endPoint_y", "endPoint_z"},
	{"midPoint_x", "midPoint_y", "midPoint_z"},
}

// table is a CSV file with a header row
type table struct {
	cols map[string]int
	rows [][]string
}

func readTable(r io.Reader) (*table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: empty table", models.ErrValidation)
	}

	t := &table{cols: make(map[string]int), rows: records[1:]}
	for i, name := range records[0] {
		t.cols[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	return t, nil
}

// require fails when any of the columns is missing
func (t *table) require(names ...string) error {
	var missing []string
	for _, n := range names {
		if _, ok := t.cols[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing columns %s", models.ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

func (t *table) field(row []string, col string) string {
	i := t.cols[col]
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (t *table) floatField(row []string, line int, col string) (float64, error) {
	v, err := strconv.ParseFloat(t.field(row, col), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: row %d column %s: %v", models.ErrValidation, line, col, err)
	}
	return v, nil
}

func (t *table) intField(row []string, line int, col string) (int, error) {
	s := t.field(row, col)
	v, err := strconv.Atoi(s)
	if err != nil {
		// integer columns are sometimes exported as floats
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int(f)) {
			return 0, fmt.Errorf("%w: row %d column %s: %v", models.ErrValidation, line, col, err)
		}
		v = int(f)
	}
	return v, nil
}

func (t *table) point(row []string, line int, cols [3]string) (r3.Vector, error) {
	var xyz [3]float64
	for i, c := range cols {
		v, err := t.floatField(row, line, c)
		if err != nil {
			return r3.Vector{}, err
		}
		xyz[i] = v
	}
	return r3.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}

// isNull reports the empty and NaN spellings of a missing value
func isNull(s string) bool {
	switch strings.ToLower(s) {
	case "", "nan", "none", "null":
		return true
	}
	return false
}

// ReadBranches parses a branch measurement table
func ReadBranches(r io.Reader) ([]models.BranchRecord, error) {
	t, err := readTable(r)
	if err != nil {
		return nil, err
	}
	required := []string{ColBranchID, ColGeneration, ColParentID, ColChildren, ColDiameter, ColLength}
	for _, pc := range pointColumns {
		required = append(required, pc[:]...)
	}
	if err := t.require(required...); err != nil {
		return nil, err
	}

	out := make([]models.BranchRecord, 0, len(t.rows))
	for i, row := range t.rows {
		line := i + 2
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}

		var b models.BranchRecord
		if b.ID, err = t.intField(row, line, ColBranchID); err != nil {
			return nil, err
		}
		if b.Generation, err = t.intField(row, line, ColGeneration); err != nil {
			return nil, err
		}
		if s := t.field(row, ColParentID); !isNull(s) {
			p, err := t.intField(row, line, ColParentID)
			if err != nil {
				return nil, err
			}
			b.ParentID = &p
		}
		for _, tok := range strings.Fields(t.field(row, ColChildren)) {
			child, err := strconv.Atoi(tok)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d column %s: %v", models.ErrValidation, line, ColChildren, err)
			}
			b.ChildrenIDs = append(b.ChildrenIDs, child)
		}
		if b.InnerDiameter, err = t.floatField(row, line, ColDiameter); err != nil {
			return nil, err
		}
		if b.AirwayLength, err = t.floatField(row, line, ColLength); err != nil {
			return nil, err
		}
		if b.Begin, err = t.point(row, line, pointColumns[0]); err != nil {
			return nil, err
		}
		if b.End, err = t.point(row, line, pointColumns[1]); err != nil {
			return nil, err
		}
		if b.Mid, err = t.point(row, line, pointColumns[2]); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// ReadBranchFile parses the branch measurement table at path
func ReadBranchFile(path string) ([]models.BranchRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open branch table: %w", err)
	}
	defer f.Close()

	branches, err := ReadBranches(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return branches, nil
}

// Spacing table columns
const (
	ColCaseName = "casename"
	ColVoxelX   = "voxel_size_x"
	ColVoxelY   = "voxel_size_y"
	ColVoxelZ   = "voxel_size_z"
	ColSizeX    = "image_size_x"
	ColSizeY    = "image_size_y"
	ColSizeZ    = "image_size_z"
)

// ImagesInfoHeader is the header of the images table written by WriteImagesInfo
var ImagesInfoHeader = []string{
	ColCaseName, ColSizeZ, ColSizeX, ColSizeY, ColVoxelZ, ColVoxelX, ColVoxelY,
}

// ImageInfo is one row of the images table
type ImageInfo struct {
	Case       string
	NX, NY, NZ int
	Spacing    models.Spacing
}

// WriteImagesInfo writes the grid size and voxel size of each case. The
// table is readable by ReadSpacing.
func WriteImagesInfo(w io.Writer, infos []ImageInfo) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ImagesInfoHeader); err != nil {
		return err
	}
	for _, info := range infos {
		row := []string{
			info.Case,
			strconv.Itoa(info.NZ),
			strconv.Itoa(info.NX),
			strconv.Itoa(info.NY),
			strconv.FormatFloat(info.Spacing.Z, 'f', -1, 64),
			strconv.FormatFloat(info.Spacing.X, 'f', -1, 64),
			strconv.FormatFloat(info.Spacing.Y, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteImagesInfoFile writes an images table to path
func WriteImagesInfoFile(path string, infos []ImageInfo) error {
	return writeFile(path, func(w io.Writer) error { return WriteImagesInfo(w, infos) })
}

// ReadSpacing parses a table of voxel sizes keyed by case name
func ReadSpacing(r io.Reader) (map[string]models.Spacing, error) {
	t, err := readTable(r)
	if err != nil {
		return nil, err
	}
	if err := t.require(ColCaseName, ColVoxelX, ColVoxelY, ColVoxelZ); err != nil {
		return nil, err
	}

	out := make(map[string]models.Spacing, len(t.rows))
	for i, row := range t.rows {
		line := i + 2
		name := t.field(row, ColCaseName)
		if name == "" {
			continue
		}
		p, err := t.point(row, line, [3]string{ColVoxelX, ColVoxelY, ColVoxelZ})
		if err != nil {
			return nil, err
		}
		s := models.Spacing{X: p.X, Y: p.Y, Z: p.Z}
		if !s.Valid() {
			return nil, fmt.Errorf("%w: row %d case %s has non-positive spacing", models.ErrValidation, line, name)
		}
		out[name] = s
	}
	return out, nil
}

// ReadSpacingFile parses the voxel size table at path
func ReadSpacingFile(path string) (map[string]models.Spacing, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spacing table: %w", err)
	}
	defer f.Close()

	spacing, err := ReadSpacing(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return spacing, nil
}
