package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"airwaydefects/internal/app"
)

var evaluateFlags app.EvaluateOptions

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Score predicted masks against reference masks",
	Long: `Compute the configured metrics for every predicted mask of the masks
directory. Predicted centerlines are paired with the predicted masks in name
order; reference masks and centerlines are looked up by case name.

When evaluation.removeCoarseAirways is set, the dilated trachea and main
bronchi mask <case>-airways is removed from all inputs before scoring.`,
	Args: cobra.NoArgs,
	RunE: runEvaluate,
}

func init() {
	f := evaluateCmd.Flags()
	f.StringVar(&evaluateFlags.MasksDir, "masks", "BinaryMasks", "Directory of predicted masks")
	f.StringVar(&evaluateFlags.CenterlinesDir, "centerlines", "Centrelines", "Directory of predicted centerlines")
	f.StringVar(&evaluateFlags.ReferenceDir, "reference", "", "Directory of reference masks")
	f.StringVar(&evaluateFlags.ReferenceCenterlinesDir, "reference-centerlines", "", "Directory of reference centerlines")
	f.StringVar(&evaluateFlags.CoarseDir, "coarse", "", "Directory of coarse airway masks")
	f.StringVarP(&evaluateFlags.OutputFile, "output", "o", "result_metrics.csv", "Output metrics table")
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	if err := requireFlag("reference", evaluateFlags.ReferenceDir); err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	results, runErr := s.app.Evaluate(cmd.Context(), evaluateFlags)

	out := cmd.OutOrStdout()
	for _, r := range results {
		fmt.Fprintf(out, "%s:", r.Case)
		for _, v := range r.Values {
			fmt.Fprintf(out, " %s=%.4f", v.Name, v.Value)
		}
		fmt.Fprintln(out)
	}
	return s.finish(runErr)
}
