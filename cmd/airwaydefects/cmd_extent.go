package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"airwaydefects/internal/app"
)

var extentFlags app.ExtentOptions

var extentCmd = &cobra.Command{
	Use:   "extent",
	Short: "Summarize the share of each tree removed by injected defects",
	Args:  cobra.NoArgs,
	RunE:  runExtent,
}

func init() {
	f := extentCmd.Flags()
	f.StringVar(&extentFlags.ProvenanceDir, "provenance", "", "Directory of provenance tables")
	f.StringVar(&extentFlags.MeasuresDir, "measures", "", "Directory of branch measurement tables")
	f.StringVar(&extentFlags.ImagesInfo, "images-info", "", "Voxel size table")
	f.StringVarP(&extentFlags.OutputFile, "output", "o", "defect_extent.csv", "Output extent table")
}

func runExtent(cmd *cobra.Command, _ []string) error {
	if err := requireFlag("provenance", extentFlags.ProvenanceDir); err != nil {
		return err
	}
	if err := requireFlag("measures", extentFlags.MeasuresDir); err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	summaries, runErr := s.app.Extent(cmd.Context(), extentFlags)

	out := cmd.OutOrStdout()
	for _, sum := range summaries {
		fmt.Fprintf(out, "%s: type1 %.3f branches %.3f length, type2 %.3f branches %.3f length\n", sum.Case,
			sum.MidBranch.BranchCountRatio, sum.MidBranch.TreeLengthRatio,
			sum.Terminal.BranchCountRatio, sum.Terminal.TreeLengthRatio)
	}
	return s.finish(runErr)
}
