package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"airwaydefects/internal/app"
)

var postprocessFlags app.PostprocessOptions

var postprocessCmd = &cobra.Command{
	Use:   "postprocess",
	Short: "Binarize posterior maps into connected airway trees",
	Long: `Threshold every posterior map of the posteriors directory, merge the
coarse airways when a coarse directory is given, and keep the largest
connected component. Writes <case>_binmask.nii.gz.`,
	Args: cobra.NoArgs,
	RunE: runPostprocess,
}

func init() {
	f := postprocessCmd.Flags()
	f.StringVar(&postprocessFlags.PosteriorsDir, "posteriors", "", "Directory of posterior maps")
	f.StringVar(&postprocessFlags.CoarseDir, "coarse", "", "Directory of coarse airway masks")
	f.StringVarP(&postprocessFlags.OutputDir, "output", "o", "BinaryMasks", "Output directory")
}

func runPostprocess(cmd *cobra.Command, _ []string) error {
	if err := requireFlag("posteriors", postprocessFlags.PosteriorsDir); err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	reports, runErr := s.app.Postprocess(cmd.Context(), postprocessFlags)

	out := cmd.OutOrStdout()
	for _, r := range reports {
		fmt.Fprintf(out, "%s: %d voxels from %d components -> %s\n", r.Case, r.Voxels, r.Components, r.MaskFile)
	}
	return s.finish(runErr)
}
