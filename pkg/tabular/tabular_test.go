package tabular

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"

	"airwaydefects/internal/models"
	"airwaydefects/pkg/extent"
)

const branchCSV = `airway_ID, generation, parent_ID, childrenID, d_inner_global, airway_length, begPoint_x, begPoint_y, begPoint_z, endPoint_x, endPoint_y, endPoint_z, midPoint_x, midPoint_y, midPoint_z
0, 0, , 1 2, 14.2, 90.5, 100, 120, 200, 100, 125, 110, 100, 122.5, 155
1, 1, 0, , 9.8, 40.0, 100, 125, 110, 80, 130, 90, 90, 127.5, 100
2, 1.0, 0, , 9.1, 35.5, 100, 125, 110, 120, 130, 92, 110, 127.5, 101
`

// TestReadBranches verifies parsing of nullable parents and child lists
func TestReadBranches(t *testing.T) {
	got, err := ReadBranches(strings.NewReader(branchCSV))
	if err != nil {
		t.Fatalf("ReadBranches failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 branches, got %d", len(got))
	}

	root := got[0]
	if root.ParentID != nil {
		t.Errorf("Expected a nil parent for the root, got %d", *root.ParentID)
	}
	if diff := cmp.Diff([]int{1, 2}, root.ChildrenIDs); diff != "" {
		t.Errorf("children mismatch (-want +got):\n%s", diff)
	}
	if root.Begin != (r3.Vector{X: 100, Y: 120, Z: 200}) || root.Mid != (r3.Vector{X: 100, Y: 122.5, Z: 155}) {
		t.Errorf("Unexpected points %v %v", root.Begin, root.Mid)
	}
	if root.InnerDiameter != 14.2 || root.AirwayLength != 90.5 {
		t.Errorf("Unexpected measures %f %f", root.InnerDiameter, root.AirwayLength)
	}

	leaf := got[2]
	if leaf.ParentID == nil || *leaf.ParentID != 0 || !leaf.IsTerminal() || leaf.Generation != 1 {
		t.Errorf("Unexpected leaf %+v", leaf)
	}
}

// TestReadBranchesErrors verifies validation errors on malformed tables
func TestReadBranchesErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"missing column", "airway_ID,generation\n1,0\n"},
		{"bad number", strings.Replace(branchCSV, "14.2", "wide", 1)},
		{"bad child", strings.Replace(branchCSV, "1 2", "1 b", 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadBranches(strings.NewReader(tt.input)); !errors.Is(err, models.ErrValidation) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}

	_, err := ReadBranches(strings.NewReader("airway_ID,generation\n1,0\n"))
	if err == nil || !strings.Contains(err.Error(), "d_inner_global") {
		t.Errorf("Expected the missing columns to be named, got %v", err)
	}
}

// TestReadSpacing verifies the per-case voxel size lookup
func TestReadSpacing(t *testing.T) {
	in := "casename,voxel_size_x,voxel_size_y,voxel_size_z\ncase01,0.62,0.62,1.0\ncase02,0.7,0.7,0.5\n"
	got, err := ReadSpacing(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadSpacing failed: %v", err)
	}
	want := map[string]models.Spacing{
		"case01": {X: 0.62, Y: 0.62, Z: 1},
		"case02": {X: 0.7, Y: 0.7, Z: 0.5},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("spacing mismatch (-want +got):\n%s", diff)
	}

	if _, err := ReadSpacing(strings.NewReader("casename,voxel_size_x,voxel_size_y,voxel_size_z\nc,0,1,1\n")); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected validation error for zero spacing, got %v", err)
	}
}

// TestWriteImagesInfo verifies the images table layout and that it reads
// back as a spacing table
func TestWriteImagesInfo(t *testing.T) {
	infos := []ImageInfo{
		{Case: "case01", NX: 512, NY: 512, NZ: 300, Spacing: models.Spacing{X: 0.625, Y: 0.625, Z: 1.25}},
		{Case: "case02", NX: 10, NY: 20, NZ: 30, Spacing: models.Spacing{X: 1, Y: 1, Z: 0.5}},
	}
	var buf strings.Builder
	if err := WriteImagesInfo(&buf, infos); err != nil {
		t.Fatalf("WriteImagesInfo failed: %v", err)
	}

	want := "casename,image_size_z,image_size_x,image_size_y,voxel_size_z,voxel_size_x,voxel_size_y\n" +
		"case01,300,512,512,1.25,0.625,0.625\n" +
		"case02,30,10,20,0.5,1,1\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("images table mismatch (-want +got):\n%s", diff)
	}

	got, err := ReadSpacing(strings.NewReader(buf.String()))
	if err != nil {
		t.Fatalf("ReadSpacing failed: %v", err)
	}
	if diff := cmp.Diff(map[string]models.Spacing{"case01": infos[0].Spacing, "case02": infos[1].Spacing}, got); diff != "" {
		t.Errorf("spacing mismatch (-want +got):\n%s", diff)
	}
}

// TestProvenanceRoundTrip verifies writing and reading provenance files
func TestProvenanceRoundTrip(t *testing.T) {
	records := []models.DefectRecord{
		{BranchID: 7, Type: models.MidBranchAblation, Center: r3.Vector{X: 1.5, Y: 2.25, Z: 3}, Diameter: 8, Length: 3.75},
		{BranchID: 12, Type: models.TerminalTruncation, Center: r3.Vector{X: 10, Y: 11, Z: 12.125}, Diameter: 12, Length: 9.5},
	}
	path := filepath.Join(t.TempDir(), "case01_air-error-measures.csv")
	if err := WriteProvenanceFile(path, records); err != nil {
		t.Fatalf("WriteProvenanceFile failed: %v", err)
	}
	got, err := ReadProvenanceFile(path)
	if err != nil {
		t.Fatalf("ReadProvenanceFile failed: %v", err)
	}
	if diff := cmp.Diff(records, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}

	bad := "airway_id,type_error,loc_center_x,loc_center_y,loc_center_z,diam_blank,length_blank\n1,3,0,0,0,1,1\n"
	if _, err := ReadProvenance(strings.NewReader(bad)); !errors.Is(err, models.ErrValidation) {
		t.Errorf("Expected validation error for an unknown type, got %v", err)
	}
}

// TestWriteMetrics verifies the column order and fixed precision
func TestWriteMetrics(t *testing.T) {
	results := []models.MetricResult{
		{Case: "case01", Values: []models.MetricValue{{Name: "dice", Value: 0.9}, {Name: "completeness", Value: 2.0 / 3.0}}},
		{Case: "case02", Values: []models.MetricValue{{Name: "dice", Value: 1}}},
	}

	var buf bytes.Buffer
	if err := WriteMetrics(&buf, []string{"completeness", "dice"}, results, 6); err != nil {
		t.Fatalf("WriteMetrics failed: %v", err)
	}
	want := "case,completeness,dice\ncase01,0.666667,0.900000\ncase02,,1.000000\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

// TestWriteExtents verifies the extent table format
func TestWriteExtents(t *testing.T) {
	s := []extent.Summary{{
		Case:      "case01",
		MidBranch: extent.TypeExtent{BranchCountRatio: 0.12345, TreeLengthRatio: 0.05},
		Terminal:  extent.TypeExtent{BranchCountRatio: 0.4, TreeLengthRatio: 0.2216},
	}}

	var buf bytes.Buffer
	if err := WriteExtents(&buf, s); err != nil {
		t.Fatalf("WriteExtents failed: %v", err)
	}
	want := "case,ratio_num_branch_error_type1,ratio_tree_length_error_type1,ratio_num_branch_error_type2,ratio_tree_length_error_type2\n" +
		"case01,0.123,0.050,0.400,0.222\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}
