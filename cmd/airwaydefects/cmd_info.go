package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"airwaydefects/internal/app"
)

var infoFlags app.InfoOptions

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Write the images table of grid and voxel sizes read from image headers",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

func init() {
	f := infoCmd.Flags()
	f.StringVar(&infoFlags.ImagesDir, "images", "", "Directory of NIfTI images or reference masks")
	f.StringVarP(&infoFlags.OutputFile, "output", "o", "images_info.csv", "Output images table")
}

func runInfo(cmd *cobra.Command, _ []string) error {
	if err := requireFlag("images", infoFlags.ImagesDir); err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	infos, runErr := s.app.Info(cmd.Context(), infoFlags)

	out := cmd.OutOrStdout()
	for _, info := range infos {
		fmt.Fprintf(out, "%s: %dx%dx%d voxels of %gx%gx%g\n", info.Case,
			info.NX, info.NY, info.NZ, info.Spacing.X, info.Spacing.Y, info.Spacing.Z)
	}
	return s.finish(runErr)
}
