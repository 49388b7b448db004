package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"airwaydefects/internal/models"
	"airwaydefects/pkg/metrics"
	"airwaydefects/pkg/morphology"
	"airwaydefects/pkg/nifti"
	"airwaydefects/pkg/tabular"
)

// EvaluateOptions locates the inputs and outputs of the evaluate workflow
type EvaluateOptions struct {
	// MasksDir holds the predicted masks, <case>_binmask*.nii.gz
	MasksDir string

	// CenterlinesDir holds the predicted centerlines, one per predicted
	// mask in the same name order. Only read by centerline metrics.
	CenterlinesDir string

	// ReferenceDir holds the reference masks, <case>_manual-airways.nii.gz
	ReferenceDir string

	// ReferenceCenterlinesDir holds <case>_manual-airways_cenlines.nii.gz
	ReferenceCenterlinesDir string

	// CoarseDir holds <case>-airways.nii.gz, read when coarse airways are
	// removed before scoring
	CoarseDir string

	// OutputFile receives the metrics table
	OutputFile string
}

// predictionCase derives the case name of a predicted mask file
func predictionCase(path string) string {
	name, _ := trimMaskExt(filepath.Base(path))
	if before, _, found := strings.Cut(name, PredictionSuffix); found && before != "" {
		return before
	}
	return name
}

// evalInput pairs a predicted mask with its centerline file
type evalInput struct {
	mask       string
	centerline string
}

// Evaluate scores every predicted mask against its reference and writes the
// metrics table
func (a *App) Evaluate(ctx context.Context, opts EvaluateOptions) ([]models.MetricResult, error) {
	engine, err := metrics.FromSpecs(a.cfg.MetricSpecs())
	if err != nil {
		return nil, err
	}
	needs := engine.Requires()
	if a.cfg.Evaluation.RemoveCoarseAirways && opts.CoarseDir == "" {
		return nil, fmt.Errorf("%w: coarse airway removal needs a coarse airways directory", models.ErrConfiguration)
	}

	maskFiles, err := listMasks(opts.MasksDir)
	if err != nil {
		return nil, err
	}
	if len(maskFiles) == 0 {
		return nil, fmt.Errorf("%w: no predicted masks in %s", models.ErrValidation, opts.MasksDir)
	}
	var centerlineFiles []string
	if needs.NeedsCenterlines {
		if centerlineFiles, err = listMasks(opts.CenterlinesDir); err != nil {
			return nil, err
		}
		if len(centerlineFiles) != len(maskFiles) {
			return nil, fmt.Errorf("%w: %d predicted masks but %d predicted centerlines",
				models.ErrValidation, len(maskFiles), len(centerlineFiles))
		}
	}

	inputs := make(map[string]evalInput, len(maskFiles))
	cases := make([]string, 0, len(maskFiles))
	for i, f := range maskFiles {
		name := predictionCase(f)
		if _, dup := inputs[name]; dup {
			return nil, fmt.Errorf("%w: case %s has more than one predicted mask", models.ErrValidation, name)
		}
		in := evalInput{mask: f}
		if needs.NeedsCenterlines {
			in.centerline = centerlineFiles[i]
		}
		inputs[name] = in
		cases = append(cases, name)
	}

	runID, err := a.beginRun(ctx, "evaluate")
	if err != nil {
		return nil, err
	}

	outcomes, runErr := runCases(ctx, a, "evaluate", cases, func(ctx context.Context, name string) (models.MetricResult, error) {
		return a.evaluateCase(name, inputs[name], engine, opts)
	})

	var results []models.MetricResult
	for _, o := range outcomes {
		if o.Err != nil {
			continue
		}
		results = append(results, o.Value)
		if a.store != nil {
			if err := a.store.SaveMetrics(ctx, runID, o.Value); err != nil {
				a.log.Error("failed to store metrics", "case", o.Case, "error", err)
			}
		}
	}
	a.finishRun(ctx, runID, len(results), len(outcomes)-len(results))

	if opts.OutputFile != "" {
		if err := tabular.WriteMetricsFile(opts.OutputFile, engine.Names(), results, a.cfg.Evaluation.Precision); err != nil {
			return results, err
		}
		a.log.Info("metrics written", "file", opts.OutputFile, "cases", len(results))
	}
	return results, runErr
}

func (a *App) evaluateCase(name string, in evalInput, engine *metrics.Engine, opts EvaluateOptions) (models.MetricResult, error) {
	needs := engine.Requires()

	pred, err := nifti.ReadMask(in.mask)
	if err != nil {
		return models.MetricResult{}, err
	}
	refFile, err := findMask(opts.ReferenceDir, name+ReferenceSuffix)
	if err != nil {
		return models.MetricResult{}, err
	}
	ref, err := nifti.ReadMask(refFile)
	if err != nil {
		return models.MetricResult{}, err
	}

	mctx := metrics.Context{
		Reference:  ref,
		Prediction: pred,
		Spacing:    pred.Spacing,
	}

	if needs.NeedsCenterlines {
		if mctx.PredictionCenterline, err = nifti.ReadMask(in.centerline); err != nil {
			return models.MetricResult{}, err
		}
		refCLFile, err := findMask(opts.ReferenceCenterlinesDir, name+ReferenceCenterlineSuffix)
		if err != nil {
			return models.MetricResult{}, err
		}
		if mctx.ReferenceCenterline, err = nifti.ReadMask(refCLFile); err != nil {
			return models.MetricResult{}, err
		}
	}

	if a.cfg.Evaluation.RemoveCoarseAirways {
		coarseFile, err := findMask(opts.CoarseDir, name+CoarseSuffix)
		if err != nil {
			return models.MetricResult{}, err
		}
		coarse, err := nifti.ReadMask(coarseFile)
		if err != nil {
			return models.MetricResult{}, err
		}
		region := morphology.Dilate(coarse, morphology.Cross, a.cfg.Evaluation.CoarseDilateIterations)
		if mctx, err = metrics.ExcludeRegion(mctx, region); err != nil {
			return models.MetricResult{}, err
		}
		a.log.Debug("coarse airways removed", "case", name, "voxels", region.Count())
	}

	return engine.Evaluate(name, mctx)
}
