package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"airwaydefects/internal/app"
	"airwaydefects/internal/models"
)

var injectFlags app.InjectOptions

var injectCmd = &cobra.Command{
	Use:   "inject",
	Short: "Carve synthetic defects into reference airway masks",
	Long: `Inject mid-branch ablations (type 1) and terminal truncations (type 2)
into every <case>_manual-airways mask of the labels directory, using the
branch measurements in <case>_ResultsPerBranch.csv.

For each case the output directory receives <case>_airways-error.nii.gz and
the provenance table <case>_air-error-measures.csv.`,
	Args: cobra.NoArgs,
	RunE: runInject,
}

func init() {
	f := injectCmd.Flags()
	f.StringVar(&injectFlags.LabelsDir, "labels", "", "Directory of reference masks")
	f.StringVar(&injectFlags.MeasuresDir, "measures", "", "Directory of branch measurement tables")
	f.StringVar(&injectFlags.ImagesInfo, "images-info", "", "Voxel size table (default: mask header spacing)")
	f.StringVarP(&injectFlags.OutputDir, "output", "o", "Labels-Errors", "Output directory")
}

func runInject(cmd *cobra.Command, _ []string) error {
	if err := requireFlag("labels", injectFlags.LabelsDir); err != nil {
		return err
	}
	if err := requireFlag("measures", injectFlags.MeasuresDir); err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	reports, runErr := s.app.Inject(cmd.Context(), injectFlags)

	out := cmd.OutOrStdout()
	for _, r := range reports {
		fmt.Fprintf(out, "%s: %d type1, %d type2, %d skipped, %d voxels -> %s\n", r.Case,
			r.Result.Count(models.MidBranchAblation), r.Result.Count(models.TerminalTruncation),
			len(r.Result.Skipped), r.Result.Zeroed, r.MaskFile)
	}
	return s.finish(runErr)
}
