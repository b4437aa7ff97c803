package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/extractor"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Inspect the enrolled face gallery",
}

var galleryNearestCmd = &cobra.Command{
	Use:   "nearest <image>",
	Short: "List the gallery faces closest to an image",
	Args:  cobra.ExactArgs(1),
	RunE:  runGalleryNearest,
}

var galleryIndexCmd = &cobra.Command{
	Use:   "index",
	Short: "Rebuild the cached HNSW indexes",
	Long: `Rebuild the HNSW nearest-neighbor index of both extractor kinds from the
database and save it to HNSW_INDEX_PATH.`,
	Args: cobra.NoArgs,
	RunE: runGalleryIndex,
}

var galleryDetectCmd = &cobra.Command{
	Use:   "detect <image>",
	Short: "Show the faces an extractor detects in an image",
	Args:  cobra.ExactArgs(1),
	RunE:  runGalleryDetect,
}

var galleryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show enrolled faces per identity",
	Args:  cobra.NoArgs,
	RunE:  runGalleryStats,
}

func init() {
	rootCmd.AddCommand(galleryCmd)
	galleryCmd.AddCommand(galleryNearestCmd, galleryIndexCmd, galleryDetectCmd, galleryStatsCmd)

	galleryNearestCmd.Flags().String("kind", string(facematch.KindAccurate), "Extractor kind: fast or accurate")
	galleryNearestCmd.Flags().Int("k", constants.DefaultNearestLimit, "Number of faces to list")
	galleryNearestCmd.Flags().Bool("index", false, "Search through the HNSW index")
	galleryNearestCmd.Flags().Bool("json", false, "Output as JSON")

	galleryDetectCmd.Flags().String("kind", string(facematch.KindAccurate), "Extractor kind: fast or accurate")
	galleryDetectCmd.Flags().Bool("json", false, "Output as JSON")
}

func runGalleryNearest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	kind, err := facematch.ParseKind(mustGetString(cmd, "kind"))
	if err != nil {
		return err
	}
	k := mustGetInt(cmd, "k")
	if k <= 0 || k > constants.MaxNearestLimit {
		return fmt.Errorf("--k must be between 1 and %d", constants.MaxNearestLimit)
	}

	image, err := readImageFile(args[0])
	if err != nil {
		return err
	}

	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var indexes map[facematch.Kind]*database.HNSWIndex
	if mustGetBool(cmd, "index") {
		metric := a.arb.Accurate().Matcher.Profile().Metric
		if kind == facematch.KindFast {
			metric = a.arb.Fast().Matcher.Profile().Metric
		}
		idx, err := prepareIndex(ctx, a, kind, metric)
		if err != nil {
			return err
		}
		indexes = map[facematch.Kind]*database.HNSWIndex{kind: idx}
	}

	res, err := a.service(nil, indexes).Nearest(ctx, image, kind, k)
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(res)
	}

	fmt.Printf("Nearest %s faces (source %s, %.3fs)\n", res.Kind, res.Source, res.Elapsed)
	fmt.Printf("%-4s %-24s %8s %10s %11s\n", "#", "IDENTITY", "FACE", "DISTANCE", "CONFIDENCE")
	for i, m := range res.Matches {
		fmt.Printf("%-4d %-24s %8d %10.4f %10.1f%%\n", i+1, m.IdentityName, m.EntryID, m.Distance, m.Confidence)
	}
	return nil
}

func runGalleryIndex(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Database.HNSWIndexPath == "" {
		return errors.New("HNSW_INDEX_PATH environment variable is required")
	}

	for _, rec := range []struct {
		kind   facematch.Kind
		metric facematch.Metric
	}{
		{facematch.KindFast, a.arb.Fast().Matcher.Profile().Metric},
		{facematch.KindAccurate, a.arb.Accurate().Matcher.Profile().Metric},
	} {
		entries, err := a.store.LoadGallery(ctx, rec.kind)
		if err != nil {
			return err
		}
		idx := database.NewHNSWIndex(rec.kind, rec.metric)
		skipped, err := idx.Build(entries)
		if err != nil {
			return err
		}
		path := indexPath(a.cfg, rec.kind)
		if err := saveIndex(idx, path); err != nil {
			return err
		}
		fmt.Printf("%-9s %6d faces indexed (%d skipped) -> %s\n", rec.kind, idx.Count(), skipped, path)
	}
	return nil
}

func runGalleryDetect(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	kind, err := facematch.ParseKind(mustGetString(cmd, "kind"))
	if err != nil {
		return err
	}
	image, err := readImageFile(args[0])
	if err != nil {
		return err
	}

	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	client := a.accurate
	if kind == facematch.KindFast {
		client = a.fast
	}
	resp, err := client.DetectFaces(ctx, image)
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(resp)
	}

	fmt.Printf("%d faces detected by %s (%s)\n", len(resp.Faces), client.Model(), client.Detector())
	primary := extractor.PrimaryFace(resp.Faces)
	for _, f := range resp.Faces {
		marker := " "
		if f.FaceIndex == primary.FaceIndex {
			marker = "*"
		}
		fmt.Printf("%s face %d: bbox %v, score %.3f, area %.0f, %d-d\n",
			marker, f.FaceIndex, f.BBox, f.DetScore, extractor.BBoxArea(f.BBox), len(f.Embedding))
	}
	return nil
}

func runGalleryStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	idents, err := a.store.ListIdentities(ctx)
	if err != nil {
		return err
	}
	counts, err := a.store.CountFaces(ctx)
	if err != nil {
		return err
	}
	byID := make(map[int64]database.FaceCount, len(counts))
	for _, c := range counts {
		byID[c.IdentityID] = c
	}

	var fast, accurate int
	fmt.Printf("%-6s %-30s %6s %9s\n", "ID", "NAME", "FAST", "ACCURATE")
	for _, ident := range idents {
		c := byID[ident.ID]
		fast += c.Fast
		accurate += c.Accurate
		fmt.Printf("%-6d %-30s %6d %9d\n", ident.ID, ident.Name, c.Fast, c.Accurate)
	}
	fmt.Printf("\n%d identities, %d fast and %d accurate faces\n", len(idents), fast, accurate)
	return nil
}
