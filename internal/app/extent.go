package app

import (
	"context"
	"fmt"
	"path/filepath"

	"airwaydefects/internal/models"
	"airwaydefects/pkg/extent"
	"airwaydefects/pkg/tabular"
	"airwaydefects/pkg/topology"
)

// ExtentOptions locates the inputs and outputs of the extent workflow
type ExtentOptions struct {
	// ProvenanceDir holds the provenance tables, <case>_air-error-measures.csv
	ProvenanceDir string

	// MeasuresDir holds the branch tables, <case>_ResultsPerBranch.csv
	MeasuresDir string

	// ImagesInfo is the voxel size table. Required when branch measures
	// are in millimetres.
	ImagesInfo string

	// OutputFile receives the extent table
	OutputFile string
}

// Extent summarizes how much of each tree the injected defects removed
func (a *App) Extent(ctx context.Context, opts ExtentOptions) ([]extent.Summary, error) {
	cases, tables, err := casesBySuffix(opts.ProvenanceDir, ProvenanceSuffix, false)
	if err != nil {
		return nil, err
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("%w: no provenance tables in %s", models.ErrValidation, opts.ProvenanceDir)
	}

	var spacing map[string]models.Spacing
	var fallback *models.Spacing
	switch {
	case opts.ImagesInfo != "":
		if spacing, err = tabular.ReadSpacingFile(opts.ImagesInfo); err != nil {
			return nil, err
		}
	case a.cfg.Geometry.MeasuresInMillimetres:
		return nil, fmt.Errorf("%w: branch measures in millimetres need an images table", models.ErrConfiguration)
	default:
		// spacing only scales millimetre measures
		fallback = &models.Spacing{X: 1, Y: 1, Z: 1}
	}

	runID, err := a.beginRun(ctx, "extent")
	if err != nil {
		return nil, err
	}

	outcomes, runErr := runCases(ctx, a, "extent", cases, func(ctx context.Context, name string) (extent.Summary, error) {
		sp, err := spacingFor(name, spacing, fallback)
		if err != nil {
			return extent.Summary{}, err
		}
		branches, err := tabular.ReadBranchFile(filepath.Join(opts.MeasuresDir, name+BranchTableSuffix))
		if err != nil {
			return extent.Summary{}, err
		}
		c, err := topology.New(name, branches, sp, a.cfg.TopologyOptions())
		if err != nil {
			return extent.Summary{}, err
		}
		records, err := tabular.ReadProvenanceFile(tables[name])
		if err != nil {
			return extent.Summary{}, err
		}
		return extent.Summarize(c, records)
	})

	var summaries []extent.Summary
	for _, o := range outcomes {
		if o.Err != nil {
			continue
		}
		summaries = append(summaries, o.Value)
		if a.store != nil {
			if err := a.store.SaveExtent(ctx, runID, o.Value); err != nil {
				a.log.Error("failed to store extent", "case", o.Case, "error", err)
			}
		}
	}
	a.finishRun(ctx, runID, len(summaries), len(outcomes)-len(summaries))

	if opts.OutputFile != "" {
		if err := tabular.WriteExtentsFile(opts.OutputFile, summaries); err != nil {
			return summaries, err
		}
		a.log.Info("extents written", "file", opts.OutputFile, "cases", len(summaries))
	}
	return summaries, runErr
}
