// Package app wires the processing packages into the command workflows:
// inject, evaluate, extent and postprocess. Each workflow discovers its
// cases on disk, runs them on the worker pool and writes its outputs.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"airwaydefects/internal/logging"
	"airwaydefects/internal/models"
	"airwaydefects/pkg/batch"
	"airwaydefects/pkg/config"
	"airwaydefects/pkg/store"
	"airwaydefects/pkg/telemetry"
)

// File name conventions of a data set
const (
	// ReferenceSuffix marks a reference airway mask: <case>_manual-airways.nii.gz
	ReferenceSuffix = "_manual-airways"

	// ReferenceCenterlineSuffix marks a reference centerline mask
	ReferenceCenterlineSuffix = "_manual-airways_cenlines"

	// CoarseSuffix marks the trachea and main bronchi mask: <case>-airways.nii.gz
	CoarseSuffix = "-airways"

	// PredictionSuffix marks a binary prediction: <case>_binmask.nii.gz
	PredictionSuffix = "_binmask"

	// BranchTableSuffix marks a branch measurement table
	BranchTableSuffix = "_ResultsPerBranch.csv"

	// ProvenanceSuffix marks a defect provenance table
	ProvenanceSuffix = "_air-error-measures.csv"

	// InjectedSuffix marks an injected mask
	InjectedSuffix = "_airways-error"

	// TestShapesSuffix marks the carved shapes written in test-shapes mode
	TestShapesSuffix = "_test-error-shapes"
)

// maskExtensions in lookup order
var maskExtensions = []string{".nii.gz", ".nii"}

// App runs the workflows of one CLI invocation
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *telemetry.Metrics
	store   *store.Store
}

// New validates the configuration and creates an App. The telemetry and
// store are optional.
func New(cfg *config.Config, metrics *telemetry.Metrics, st *store.Store) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = telemetry.New()
	}
	return &App{
		cfg:     cfg,
		log:     logging.New("app"),
		metrics: metrics,
		store:   st,
	}, nil
}

// Config returns the configuration of the App
func (a *App) Config() *config.Config {
	return a.cfg
}

// Metrics returns the telemetry of the App
func (a *App) Metrics() *telemetry.Metrics {
	return a.metrics
}

// beginRun opens a run row when a store is attached
func (a *App) beginRun(ctx context.Context, command string) (string, error) {
	if a.store == nil {
		return "", nil
	}
	data, err := yaml.Marshal(a.cfg)
	if err != nil {
		return "", fmt.Errorf("error marshaling config: %w", err)
	}
	id, err := a.store.BeginRun(ctx, command, a.cfg.Processing.Seed, string(data))
	if err != nil {
		return "", err
	}
	a.log.Info("run started", "command", command, "run", id)
	return id, nil
}

// finishRun closes a run row
func (a *App) finishRun(ctx context.Context, runID string, ok, failed int) {
	if a.store == nil || runID == "" {
		return
	}
	if err := a.store.FinishRun(ctx, runID, ok, failed); err != nil {
		a.log.Error("failed to close run", "run", runID, "error", err)
	}
}

// runCases runs fn for every case on the worker pool, logs and counts each
// outcome, and returns an error naming the failed cases
func runCases[T any](ctx context.Context, a *App, command string, cases []string,
	fn func(ctx context.Context, name string) (T, error)) ([]batch.Outcome[T], error) {
	log := a.log.With("command", command)
	log.Info("processing cases", "cases", len(cases), "workers", a.cfg.Workers())

	outcomes := batch.Run(ctx, cases, a.cfg.Workers(), fn)

	for _, o := range outcomes {
		switch {
		case o.Err == nil:
			a.metrics.ObserveCase(command, telemetry.StatusOK, o.Duration)
			log.Info("case done", "case", o.Case, "duration", o.Duration)
		case errors.Is(o.Err, context.Canceled) || errors.Is(o.Err, context.DeadlineExceeded):
			a.metrics.ObserveCase(command, telemetry.StatusSkipped, o.Duration)
			log.Warn("case not processed", "case", o.Case, "error", o.Err)
		default:
			a.metrics.ObserveCase(command, telemetry.StatusFailed, o.Duration)
			log.Error("case failed", "case", o.Case, "error", o.Err)
		}
	}

	failed := batch.Failed(outcomes)
	if len(failed) == 0 {
		return outcomes, nil
	}
	errs := make([]error, len(failed))
	for i, o := range failed {
		errs[i] = fmt.Errorf("case %s: %w", o.Case, o.Err)
	}
	return outcomes, fmt.Errorf("%d of %d cases failed: %w", len(failed), len(outcomes), errors.Join(errs...))
}

// trimMaskExt strips a NIfTI extension from a file name
func trimMaskExt(name string) (string, bool) {
	for _, ext := range maskExtensions {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext), true
		}
	}
	return name, false
}

// listMasks returns the NIfTI files of dir sorted by name
func listMasks(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := trimMaskExt(e.Name()); ok {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// casesBySuffix maps case names to the files of dir named <case><suffix>,
// where suffix may be followed by a NIfTI extension when masks is true
func casesBySuffix(dir, suffix string, masks bool) ([]string, map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	files := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if masks {
			var ok bool
			if name, ok = trimMaskExt(name); !ok {
				continue
			}
		}
		caseName, found := strings.CutSuffix(name, suffix)
		if !found || caseName == "" {
			continue
		}
		if _, dup := files[caseName]; dup {
			continue
		}
		files[caseName] = filepath.Join(dir, e.Name())
	}

	cases := make([]string, 0, len(files))
	for c := range files {
		cases = append(cases, c)
	}
	sort.Strings(cases)
	return cases, files, nil
}

// findMask returns the path of <dir>/<base>.nii.gz or <dir>/<base>.nii
func findMask(dir, base string) (string, error) {
	for _, ext := range maskExtensions {
		path := filepath.Join(dir, base+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: no mask %s in %s", models.ErrValidation, base, dir)
}

// spacingFor returns the spacing of a case from the images table, or the
// fallback when the table is not used
func spacingFor(caseName string, table map[string]models.Spacing, fallback *models.Spacing) (models.Spacing, error) {
	if table != nil {
		if s, ok := table[caseName]; ok {
			return s, nil
		}
		return models.Spacing{}, fmt.Errorf("%w: case %s missing from images table", models.ErrValidation, caseName)
	}
	if fallback != nil {
		return *fallback, nil
	}
	return models.Spacing{}, fmt.Errorf("%w: no voxel spacing for case %s", models.ErrValidation, caseName)
}
