package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/dataset"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <dataset-dir>",
	Short: "Enroll identities from a dataset directory",
	Long: `Enroll every identity of a dataset laid out as <dir>/<identity>/*.jpg.

Identities are matched to existing ones by normalized name and created when
missing. Each image is embedded by both extractors and stored in the gallery.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().Int("per", constants.DefaultImagesPerIdentity, "Images to enroll per identity (0 = all)")
	enrollCmd.Flags().String("group", "", "Group name to assign new identities to")
	enrollCmd.Flags().Int("workers", constants.EvaluationWorkers, "Images embedded concurrently")
	enrollCmd.Flags().Bool("dry-run", false, "Show what would be enrolled without calling the extractors")
}

// enrollJob is one image to embed for an identity.
type enrollJob struct {
	identityID int64
	path       string
}

// enrollStats counts enrollment outcomes across workers.
type enrollStats struct {
	mu       sync.Mutex
	stored   int
	partial  int
	noFace   int
	failures []string
}

func (s *enrollStats) record(job enrollJob, res attendance.EnrollResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case errors.Is(err, facematch.ErrNoFaceDetected):
		s.noFace++
	case err != nil:
		s.failures = append(s.failures, fmt.Sprintf("%s: %v", job.path, err))
	case len(res.NoFace) > 0:
		s.partial++
		s.stored++
	default:
		s.stored++
	}
}

func runEnroll(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	per := mustGetInt(cmd, "per")
	workers := max(1, mustGetInt(cmd, "workers"))
	dryRun := mustGetBool(cmd, "dry-run")

	ds, err := dataset.Load(args[0])
	if err != nil {
		return err
	}

	if dryRun {
		for _, identity := range ds.Identities() {
			images := ds.Images(identity)
			if per > 0 && len(images) > per {
				images = images[:per]
			}
			fmt.Printf("%-30s %d images\n", identity, len(images))
		}
		return nil
	}

	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	jobs, created, err := planEnrollment(ctx, a.store, ds, per, mustGetString(cmd, "group"))
	if err != nil {
		return err
	}
	if created > 0 {
		fmt.Printf("Created %d new identities\n", created)
	}
	if len(jobs) == 0 {
		fmt.Println("No images to enroll.")
		return nil
	}

	svc := a.service(nil, nil)
	bar := progressbar.NewOptions(len(jobs),
		progressbar.OptionSetDescription("Enrolling faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var stats enrollStats
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, job := range jobs {
		g.Go(func() error {
			defer bar.Add(1)
			image, err := readImageFile(job.path)
			if err != nil {
				stats.record(job, attendance.EnrollResult{}, err)
				return nil
			}
			res, err := svc.Enroll(gctx, job.identityID, image, filepath.Base(job.path))
			stats.record(job, res, err)
			return nil
		})
	}
	_ = g.Wait()
	_ = bar.Finish()

	fmt.Printf("\nEnrolled:     %d images\n", stats.stored)
	if stats.partial > 0 {
		fmt.Printf("Partial:      %d images (one extractor found no face)\n", stats.partial)
	}
	fmt.Printf("No face:      %d images\n", stats.noFace)
	if len(stats.failures) > 0 {
		fmt.Printf("Errors:       %d\n", len(stats.failures))
		for _, f := range stats.failures {
			fmt.Printf("  %s\n", f)
		}
	}
	return nil
}

// planEnrollment resolves dataset identities to enrolled ones, creating the
// missing ones, and lists the images to embed.
func planEnrollment(ctx context.Context, store database.Store, ds *dataset.Dataset, per int, group string) ([]enrollJob, int, error) {
	idents, err := store.ListIdentities(ctx)
	if err != nil {
		return nil, 0, err
	}
	byName := make(map[string]int64, len(idents))
	for _, ident := range idents {
		byName[facematch.NormalizeIdentityName(ident.Name)] = ident.ID
	}

	var groupID *int64
	if group != "" {
		g, err := store.CreateGroup(ctx, group)
		if err != nil {
			return nil, 0, err
		}
		groupID = &g.ID
	}

	var jobs []enrollJob
	created := 0
	for _, identity := range ds.Identities() {
		id, ok := byName[facematch.NormalizeIdentityName(identity)]
		if !ok {
			ident, err := store.CreateIdentity(ctx, identity, groupID)
			if err != nil {
				return nil, 0, fmt.Errorf("creating identity %s: %w", identity, err)
			}
			id = ident.ID
			created++
		}

		images := ds.Images(identity)
		if per > 0 && len(images) > per {
			images = images[:per]
		}
		for _, img := range images {
			jobs = append(jobs, enrollJob{identityID: id, path: img})
		}
	}
	return jobs, created, nil
}
