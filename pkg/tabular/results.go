package tabular

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/golang/geo/r3"

	"airwaydefects/internal/models"
	"airwaydefects/pkg/extent"
)

// ProvenanceHeader is the header of a defect provenance table
var ProvenanceHeader = []string{
	"airway_id", "type_error", "loc_center_x", "loc_center_y", "loc_center_z", "diam_blank", "length_blank",
}

// ExtentHeader is the header of a defect extent table
var ExtentHeader = []string{
	"case",
	"ratio_num_branch_error_type1", "ratio_tree_length_error_type1",
	"ratio_num_branch_error_type2", "ratio_tree_length_error_type2",
}

// DefaultPrecision is the number of decimals of metric tables
const DefaultPrecision = 6

// extentPrecision is the number of decimals of extent tables
const extentPrecision = 3

func formatFloat(v float64, precision int) string {
	return strconv.FormatFloat(v, 'f', precision, 64)
}

// WriteProvenance writes one row per injected defect
func WriteProvenance(w io.Writer, records []models.DefectRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ProvenanceHeader); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			strconv.Itoa(rec.BranchID),
			strconv.Itoa(int(rec.Type)),
			formatFloat(rec.Center.X, -1),
			formatFloat(rec.Center.Y, -1),
			formatFloat(rec.Center.Z, -1),
			formatFloat(rec.Diameter, -1),
			formatFloat(rec.Length, -1),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadProvenance parses a defect provenance table
func ReadProvenance(r io.Reader) ([]models.DefectRecord, error) {
	t, err := readTable(r)
	if err != nil {
		return nil, err
	}
	if err := t.require(ProvenanceHeader...); err != nil {
		return nil, err
	}

	out := make([]models.DefectRecord, 0, len(t.rows))
	for i, row := range t.rows {
		line := i + 2
		var rec models.DefectRecord
		if rec.BranchID, err = t.intField(row, line, "airway_id"); err != nil {
			return nil, err
		}
		typ, err := t.intField(row, line, "type_error")
		if err != nil {
			return nil, err
		}
		if rec.Type, err = models.ParseDefectType(typ); err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		var center r3.Vector
		if center, err = t.point(row, line, [3]string{"loc_center_x", "loc_center_y", "loc_center_z"}); err != nil {
			return nil, err
		}
		rec.Center = center
		if rec.Diameter, err = t.floatField(row, line, "diam_blank"); err != nil {
			return nil, err
		}
		if rec.Length, err = t.floatField(row, line, "length_blank"); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// WriteProvenanceFile writes a provenance table to path
func WriteProvenanceFile(path string, records []models.DefectRecord) error {
	return writeFile(path, func(w io.Writer) error { return WriteProvenance(w, records) })
}

// ReadProvenanceFile parses the provenance table at path
func ReadProvenanceFile(path string) ([]models.DefectRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open provenance table: %w", err)
	}
	defer f.Close()

	records, err := ReadProvenance(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// WriteMetrics writes one row per case and one column per metric name.
// A case without a value for a column gets an empty cell.
func WriteMetrics(w io.Writer, names []string, results []models.MetricResult, precision int) error {
	if precision < 0 {
		precision = DefaultPrecision
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"case"}, names...)); err != nil {
		return err
	}
	for _, res := range results {
		row := make([]string, 0, len(names)+1)
		row = append(row, res.Case)
		for _, n := range names {
			v, ok := res.Get(n)
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, formatFloat(v, precision))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteMetricsFile writes a metrics table to path
func WriteMetricsFile(path string, names []string, results []models.MetricResult, precision int) error {
	return writeFile(path, func(w io.Writer) error { return WriteMetrics(w, names, results, precision) })
}

// WriteExtents writes one row of defect extent ratios per case
func WriteExtents(w io.Writer, summaries []extent.Summary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExtentHeader); err != nil {
		return err
	}
	for _, s := range summaries {
		row := []string{
			s.Case,
			formatFloat(s.MidBranch.BranchCountRatio, extentPrecision),
			formatFloat(s.MidBranch.TreeLengthRatio, extentPrecision),
			formatFloat(s.Terminal.BranchCountRatio, extentPrecision),
			formatFloat(s.Terminal.TreeLengthRatio, extentPrecision),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteExtentsFile writes an extent table to path
func WriteExtentsFile(path string, summaries []extent.Summary) error {
	return writeFile(path, func(w io.Writer) error { return WriteExtents(w, summaries) })
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
