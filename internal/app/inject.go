package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"airwaydefects/internal/models"
	"airwaydefects/pkg/batch"
	"airwaydefects/pkg/injection"
	"airwaydefects/pkg/nifti"
	"airwaydefects/pkg/tabular"
	"airwaydefects/pkg/topology"
	"airwaydefects/pkg/visualization"
)

// InjectOptions locates the inputs and outputs of the inject workflow
type InjectOptions struct {
	// LabelsDir holds the reference masks, <case>_manual-airways.nii.gz
	LabelsDir string

	// MeasuresDir holds the branch tables, <case>_ResultsPerBranch.csv
	MeasuresDir string

	// ImagesInfo is the voxel size table. When empty the spacing of each
	// mask header is used.
	ImagesInfo string

	// OutputDir receives the injected masks and provenance tables
	OutputDir string
}

// InjectReport summarizes one injected case
type InjectReport struct {
	Case         string
	MaskFile     string
	Provenance   string
	Result       injection.Result
	Inconsistent []int
	Previews     int
}

// Inject carves synthetic defects into every reference mask of
// opts.LabelsDir
func (a *App) Inject(ctx context.Context, opts InjectOptions) ([]InjectReport, error) {
	params, err := a.cfg.InjectionParams()
	if err != nil {
		return nil, err
	}
	injector, err := injection.NewInjector(params)
	if err != nil {
		return nil, err
	}

	cases, masks, err := casesBySuffix(opts.LabelsDir, ReferenceSuffix, true)
	if err != nil {
		return nil, err
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("%w: no reference masks in %s", models.ErrValidation, opts.LabelsDir)
	}

	var spacing map[string]models.Spacing
	if opts.ImagesInfo != "" {
		if spacing, err = tabular.ReadSpacingFile(opts.ImagesInfo); err != nil {
			return nil, err
		}
	} else {
		a.log.Info("no images table, using the spacing of each mask header")
	}
	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("error creating output directory: %w", err)
	}

	runID, err := a.beginRun(ctx, "inject")
	if err != nil {
		return nil, err
	}

	outcomes, runErr := runCases(ctx, a, "inject", cases, func(ctx context.Context, name string) (InjectReport, error) {
		return a.injectCase(name, masks[name], spacing, injector, opts)
	})

	var reports []InjectReport
	for _, o := range outcomes {
		if o.Err != nil {
			continue
		}
		reports = append(reports, o.Value)
		if a.store != nil {
			if err := a.store.SaveDefects(ctx, runID, o.Case, o.Value.Result.Records); err != nil {
				a.log.Error("failed to store defects", "case", o.Case, "error", err)
			}
		}
	}
	a.finishRun(ctx, runID, len(reports), len(outcomes)-len(reports))

	return reports, runErr
}

func (a *App) injectCase(name, maskFile string, spacing map[string]models.Spacing,
	injector *injection.Injector, opts InjectOptions) (InjectReport, error) {
	log := a.log.With("case", name)

	mask, err := nifti.ReadMask(maskFile)
	if err != nil {
		return InjectReport{}, err
	}
	sp, err := spacingFor(name, spacing, &mask.Spacing)
	if err != nil {
		return InjectReport{}, err
	}

	branches, err := tabular.ReadBranchFile(filepath.Join(opts.MeasuresDir, name+BranchTableSuffix))
	if err != nil {
		return InjectReport{}, err
	}
	c, err := topology.New(name, branches, sp, a.cfg.TopologyOptions())
	if err != nil {
		return InjectReport{}, err
	}

	// in test-shapes mode the defects are carved out of a full volume and
	// the result inverted, leaving only the shapes
	base := mask
	if a.cfg.Output.TestShapes {
		base = models.NewMaskLike(mask)
		base.Fill(1)
	}
	work := base.Clone()

	res, err := injector.Process(c, work, batch.NewRand(a.cfg.Processing.Seed, name))
	if err != nil {
		return InjectReport{}, err
	}
	for t, serr := range res.SamplingErrors {
		log.Warn("defect type skipped", "type", t.String(), "error", serr)
	}

	report := InjectReport{
		Case:         name,
		Result:       res,
		Inconsistent: c.Inconsistent(),
	}

	if dir := a.cfg.Output.PreviewDir; dir != "" {
		viewer, err := visualization.NewViewer(base, work)
		if err != nil {
			return InjectReport{}, err
		}
		if report.Previews, err = viewer.SaveCarvedSlices("z", dir, name); err != nil {
			return InjectReport{}, fmt.Errorf("failed to write previews: %w", err)
		}
	}

	suffix := InjectedSuffix
	if a.cfg.Output.TestShapes {
		work.Invert()
		suffix = TestShapesSuffix
	}
	report.MaskFile = filepath.Join(opts.OutputDir, name+suffix+".nii.gz")
	if err := nifti.WriteMask(report.MaskFile, work); err != nil {
		return InjectReport{}, err
	}
	report.Provenance = filepath.Join(opts.OutputDir, name+ProvenanceSuffix)
	if err := tabular.WriteProvenanceFile(report.Provenance, res.Records); err != nil {
		return InjectReport{}, err
	}

	for _, t := range models.DefectTypes {
		a.metrics.AddDefects(t, res.Count(t))
	}
	a.metrics.AddCarved(res.Zeroed)
	for _, s := range res.Skipped {
		a.metrics.AddSkipped(s.Reason)
	}

	log.Info("defects injected",
		"type1", res.Count(models.MidBranchAblation),
		"type2", res.Count(models.TerminalTruncation),
		"skipped", len(res.Skipped),
		"voxels", res.Zeroed)
	return report, nil
}
