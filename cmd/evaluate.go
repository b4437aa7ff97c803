package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/evaluation"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <dataset-dir>",
	Short: "Compare the fast and accurate recognizers on a labeled dataset",
	Long: `Replay every image of a labeled dataset through both recognizers against
the enrolled gallery and report accuracy, F1, Cohen's kappa and speed.

Directory names are matched to enrolled identities by normalized name; images
of people who are not enrolled are expected to be rejected. Reports are
written to RESULTS_DIR as JSON and CSV.`,
	Args: cobra.ExactArgs(1),
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().Int("per", 0, "Images per identity to evaluate (0 = all)")
	evaluateCmd.Flags().Bool("count-rejections", false, "Count a rejected unknown probe as a correct answer")
	evaluateCmd.Flags().String("results-dir", "", "Directory for reports (overrides RESULTS_DIR)")
	evaluateCmd.Flags().Bool("json", false, "Output the comparison as JSON")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	jsonOutput := mustGetBool(cmd, "json")

	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	resultsDir := a.cfg.ResultsDir
	if dir := mustGetString(cmd, "results-dir"); dir != "" {
		resultsDir = dir
	}

	var bar *progressbar.ProgressBar
	res, err := a.service(nil, nil).Evaluate(ctx, args[0], attendance.EvaluateOptions{
		ImagesPerIdentity:      mustGetInt(cmd, "per"),
		CountCorrectRejections: mustGetBool(cmd, "count-rejections"),
		AccurateDetector:       a.cfg.Accurate.Detector,
		Progress: func(done, total int) {
			if jsonOutput {
				return
			}
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription("Comparing recognizers"),
					progressbar.OptionShowCount(),
					progressbar.OptionSetItsString("images"),
					progressbar.OptionShowElapsedTimeOnFinish(),
					progressbar.OptionSetPredictTime(true),
					progressbar.OptionFullWidth(),
				)
			}
			_ = bar.Set(done)
		},
	})
	if err != nil {
		return err
	}
	if bar != nil {
		_ = bar.Finish()
	}

	var reportPath string
	if resultsDir != "" {
		if reportPath, err = res.WriteReports(resultsDir, time.Now()); err != nil {
			return err
		}
	}

	if jsonOutput {
		return outputJSON(res)
	}
	printEvaluation(res, reportPath)
	return nil
}

func printEvaluation(res *attendance.Evaluation, reportPath string) {
	c := res.Comparison
	fmt.Printf("\nSamples: %d processed, %d errors\n", res.Summary.Processed, res.Summary.Errors)
	if len(res.Unresolved) > 0 {
		fmt.Printf("Not enrolled (expected unknown): %v\n", res.Unresolved)
	}

	fmt.Printf("\n%-22s %14s %14s\n", "", evaluation.Fast, evaluation.Accurate)
	row := func(name string, fast, acc float64, format string) {
		fmt.Printf("%-22s "+format+" "+format+"\n", name, fast, acc)
	}
	row("Accuracy", c.Fast.Accuracy*100, c.Accurate.Accuracy*100, "%13.1f%%")
	row("Accuracy (valid only)", c.Fast.AccuracyValidOnly*100, c.Accurate.AccuracyValidOnly*100, "%13.1f%%")
	row("F1 macro", c.Fast.F1Macro, c.Accurate.F1Macro, "%14.3f")
	row("Cohen's kappa", c.Fast.CohenKappa, c.Accurate.CohenKappa, "%14.3f")
	row("Avg confidence", c.Fast.AvgConfidenceValid, c.Accurate.AvgConfidenceValid, "%14.1f")
	row("Avg time (s)", c.Fast.AvgProcessingTime, c.Accurate.AvgProcessingTime, "%14.3f")
	fmt.Printf("%-22s %14d %14d\n", "Failed predictions", c.Fast.FailedPredictions, c.Accurate.FailedPredictions)

	s := c.Summary
	fmt.Printf("\nWinners: accuracy %s, F1 %s, kappa %s, speed %s\n", s.WinnerAccuracy, s.WinnerF1, s.WinnerKappa, s.WinnerSpeed)
	if reportPath != "" {
		fmt.Printf("Report saved to %s\n", reportPath)
	}
}
