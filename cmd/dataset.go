package cmd

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/dataset"
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Inspect and prepare labeled face datasets",
}

var datasetValidateCmd = &cobra.Command{
	Use:   "validate <dataset-dir>",
	Short: "Show dataset statistics and warnings",
	Args:  cobra.ExactArgs(1),
	RunE:  runDatasetValidate,
}

var datasetSplitCmd = &cobra.Command{
	Use:   "split <dataset-dir> <output-dir>",
	Short: "Split a dataset into train and test sets",
	Long: `Copy a dataset into <output-dir>/train and <output-dir>/test. Each
identity keeps at least one training image.`,
	Args: cobra.ExactArgs(2),
	RunE: runDatasetSplit,
}

var datasetScaffoldCmd = &cobra.Command{
	Use:   "scaffold <dataset-dir>",
	Short: "Create an empty dataset layout to fill with images",
	Args:  cobra.ExactArgs(1),
	RunE:  runDatasetScaffold,
}

func init() {
	rootCmd.AddCommand(datasetCmd)
	datasetCmd.AddCommand(datasetValidateCmd, datasetSplitCmd, datasetScaffoldCmd)

	datasetValidateCmd.Flags().String("export", "", "Write the statistics as JSON to this file")
	datasetValidateCmd.Flags().Bool("json", false, "Output as JSON")

	datasetSplitCmd.Flags().Float64("test-ratio", constants.DefaultTestRatio, "Share of each identity's images put in the test set")
	datasetSplitCmd.Flags().Int64("seed", 42, "Shuffle seed")

	datasetScaffoldCmd.Flags().Int("identities", 5, "Number of identity directories to create")
}

func runDatasetValidate(cmd *cobra.Command, args []string) error {
	ds, err := dataset.Load(args[0])
	if err != nil {
		return err
	}
	stats := ds.Validate()

	if path := mustGetString(cmd, "export"); path != "" {
		if err := ds.ExportMetadata(path); err != nil {
			return err
		}
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(stats)
	}

	fmt.Printf("Identities: %d\n", stats.TotalIdentities)
	fmt.Printf("Images:     %d (min %d, max %d, avg %.1f per identity)\n",
		stats.TotalImages, stats.MinImages, stats.MaxImages, stats.AvgImages)

	names := make([]string, 0, len(stats.Identities))
	for name := range stats.Identities {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-30s %d\n", name, stats.Identities[name].NumImages)
	}
	for _, w := range stats.Warnings {
		fmt.Printf("Warning: %s\n", w)
	}
	return nil
}

func runDatasetSplit(cmd *cobra.Command, args []string) error {
	ratio := mustGetFloat64(cmd, "test-ratio")
	if ratio <= 0 || ratio >= 1 {
		return fmt.Errorf("--test-ratio must be between 0 and 1, got %v", ratio)
	}
	rng := rand.New(rand.NewSource(mustGetInt64(cmd, "seed"))) //nolint:gosec // reproducible split, not security sensitive
	trainDir, testDir, err := dataset.Prepare(args[0], args[1], 1-ratio, rng)
	if err != nil {
		return err
	}
	fmt.Printf("Train set: %s\n", trainDir)
	fmt.Printf("Test set:  %s\n", testDir)
	return nil
}

func runDatasetScaffold(cmd *cobra.Command, args []string) error {
	n := mustGetInt(cmd, "identities")
	if err := dataset.Scaffold(args[0], n); err != nil {
		return err
	}
	fmt.Printf("Created %d identity directories in %s\n", n, args[0])
	return nil
}
