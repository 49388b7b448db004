package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"airwaydefects/internal/models"
	"airwaydefects/pkg/nifti"
	"airwaydefects/pkg/tabular"
)

// InfoOptions locates the inputs and outputs of the images table workflow
type InfoOptions struct {
	// ImagesDir holds one image per case, <case>.nii.gz or
	// <case>_manual-airways.nii.gz
	ImagesDir string

	// OutputFile receives the images table
	OutputFile string
}

// imageCase returns the case name of an image file
func imageCase(path string) string {
	name, _ := trimMaskExt(filepath.Base(path))
	return strings.TrimSuffix(name, ReferenceSuffix)
}

// Info reads the grid and voxel size from the header of every image and
// writes the images table used to scale branch measures
func (a *App) Info(ctx context.Context, opts InfoOptions) ([]tabular.ImageInfo, error) {
	files, err := listMasks(opts.ImagesDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no images in %s", models.ErrValidation, opts.ImagesDir)
	}

	paths := make(map[string]string, len(files))
	cases := make([]string, 0, len(files))
	for _, f := range files {
		name := imageCase(f)
		if _, dup := paths[name]; dup {
			a.log.Warn("duplicate image for case", "case", name, "file", f)
			continue
		}
		paths[name] = f
		cases = append(cases, name)
	}

	runID, err := a.beginRun(ctx, "info")
	if err != nil {
		return nil, err
	}

	outcomes, runErr := runCases(ctx, a, "info", cases, func(_ context.Context, name string) (tabular.ImageInfo, error) {
		h, err := nifti.ReadHeader(paths[name])
		if err != nil {
			return tabular.ImageInfo{}, err
		}
		nx, ny, nz := h.Dims()
		return tabular.ImageInfo{Case: name, NX: nx, NY: ny, NZ: nz, Spacing: h.Spacing()}, nil
	})

	var infos []tabular.ImageInfo
	for _, o := range outcomes {
		if o.Err == nil {
			infos = append(infos, o.Value)
		}
	}
	a.finishRun(ctx, runID, len(infos), len(outcomes)-len(infos))

	if opts.OutputFile != "" {
		if err := tabular.WriteImagesInfoFile(opts.OutputFile, infos); err != nil {
			return infos, err
		}
		a.log.Info("images table written", "file", opts.OutputFile, "cases", len(infos))
	}
	return infos, runErr
}
