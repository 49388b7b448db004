package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"airwaydefects/internal/models"
	"airwaydefects/pkg/morphology"
	"airwaydefects/pkg/nifti"
)

// PostprocessOptions locates the inputs and outputs of the postprocess workflow
type PostprocessOptions struct {
	// PosteriorsDir holds one posterior probability map per case, <case>.nii.gz
	PosteriorsDir string

	// CoarseDir holds <case>-airways.nii.gz. When set the coarse airways
	// are merged into each binary mask.
	CoarseDir string

	// OutputDir receives <case>_binmask.nii.gz
	OutputDir string
}

// PostprocessReport summarizes one binarized case
type PostprocessReport struct {
	Case       string
	MaskFile   string
	Voxels     int
	Components int
}

// Postprocess thresholds each posterior map, attaches the coarse airways and
// keeps the largest connected tree
func (a *App) Postprocess(ctx context.Context, opts PostprocessOptions) ([]PostprocessReport, error) {
	files, err := listMasks(opts.PosteriorsDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no posterior maps in %s", models.ErrValidation, opts.PosteriorsDir)
	}
	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("error creating output directory: %w", err)
	}

	posteriors := make(map[string]string, len(files))
	cases := make([]string, 0, len(files))
	for _, f := range files {
		name, _ := trimMaskExt(filepath.Base(f))
		posteriors[name] = f
		cases = append(cases, name)
	}

	runID, err := a.beginRun(ctx, "postprocess")
	if err != nil {
		return nil, err
	}

	outcomes, runErr := runCases(ctx, a, "postprocess", cases, func(ctx context.Context, name string) (PostprocessReport, error) {
		return a.postprocessCase(name, posteriors[name], opts)
	})

	var reports []PostprocessReport
	for _, o := range outcomes {
		if o.Err == nil {
			reports = append(reports, o.Value)
		}
	}
	a.finishRun(ctx, runID, len(reports), len(outcomes)-len(reports))

	return reports, runErr
}

func (a *App) postprocessCase(name, posteriorFile string, opts PostprocessOptions) (PostprocessReport, error) {
	pp := a.cfg.Postprocess

	posterior, err := nifti.ReadVolume(posteriorFile)
	if err != nil {
		return PostprocessReport{}, err
	}
	mask := morphology.Threshold(posterior, pp.Threshold)

	if opts.CoarseDir != "" {
		coarseFile, err := findMask(opts.CoarseDir, name+CoarseSuffix)
		if err != nil {
			return PostprocessReport{}, err
		}
		coarse, err := nifti.ReadMask(coarseFile)
		if err != nil {
			return PostprocessReport{}, err
		}
		if mask, err = morphology.Merge(mask, coarse); err != nil {
			return PostprocessReport{}, err
		}
	}

	components, err := morphology.CountComponents(mask, pp.Connectivity)
	if err != nil {
		return PostprocessReport{}, err
	}
	if pp.LargestComponent && components > 1 {
		if mask, err = morphology.LargestComponent(mask, pp.Connectivity); err != nil {
			return PostprocessReport{}, err
		}
		a.log.Debug("kept largest component", "case", name, "components", components)
	}

	report := PostprocessReport{
		Case:       name,
		MaskFile:   filepath.Join(opts.OutputDir, name+PredictionSuffix+".nii.gz"),
		Voxels:     mask.Count(),
		Components: components,
	}
	if err := nifti.WriteMask(report.MaskFile, mask); err != nil {
		return PostprocessReport{}, err
	}
	return report, nil
}
