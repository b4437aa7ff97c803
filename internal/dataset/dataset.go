// Package dataset manages labeled face datasets laid out as one directory
// per identity: root/<identity>/*.jpg.
package dataset

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/evaluation"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// Dataset maps identity directory names to their image paths.
type Dataset struct {
	Root       string
	identities []string
	images     map[string][]string
}

// Load scans root. Identity directories without images are ignored.
func Load(root string) (*Dataset, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read dataset directory: %w", err)
	}

	ds := &Dataset{Root: root, images: make(map[string][]string)}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("read identity directory %s: %w", entry.Name(), err)
		}

		var images []string
		for _, f := range files {
			if f.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(f.Name()))] {
				continue
			}
			images = append(images, filepath.Join(dir, f.Name()))
		}
		if len(images) == 0 {
			continue
		}
		sort.Strings(images)
		ds.identities = append(ds.identities, entry.Name())
		ds.images[entry.Name()] = images
	}
	sort.Strings(ds.identities)
	return ds, nil
}

// Identities returns identity names sorted.
func (d *Dataset) Identities() []string {
	out := make([]string, len(d.identities))
	copy(out, d.identities)
	return out
}

// Images returns the image paths of one identity.
func (d *Dataset) Images(identity string) []string {
	return d.images[identity]
}

// TotalImages counts all images.
func (d *Dataset) TotalImages() int {
	n := 0
	for _, imgs := range d.images {
		n += len(imgs)
	}
	return n
}

// Samples returns labeled samples, identities numbered from 1 in name order.
// perIdentity limits the images taken from each identity; 0 takes all.
func (d *Dataset) Samples(perIdentity int) []evaluation.Sample {
	var samples []evaluation.Sample
	for i, identity := range d.identities {
		images := d.images[identity]
		if perIdentity > 0 && len(images) > perIdentity {
			images = images[:perIdentity]
		}
		for _, img := range images {
			samples = append(samples, evaluation.Sample{Path: img, Identity: identity, Truth: int64(i + 1)})
		}
	}
	return samples
}

// ResolveLabels relabels samples with enrolled identity ids, matching
// directory names against enrolled names after normalization. Samples of
// identities that are not enrolled get evaluation.Unknown. It returns the
// directory names that could not be resolved. An exact name match wins;
// when several enrolled names normalize alike the lowest id is used.
func ResolveLabels(samples []evaluation.Sample, enrolled map[string]int64) []string {
	byName := make(map[string]int64, len(enrolled))
	for name, id := range enrolled {
		key := facematch.NormalizeIdentityName(name)
		if prev, ok := byName[key]; !ok || id < prev {
			byName[key] = id
		}
	}

	missing := make(map[string]bool)
	for i := range samples {
		id, ok := enrolled[samples[i].Identity]
		if !ok {
			id, ok = byName[facematch.NormalizeIdentityName(samples[i].Identity)]
		}
		if !ok {
			samples[i].Truth = evaluation.Unknown
			missing[samples[i].Identity] = true
			continue
		}
		samples[i].Truth = id
	}

	out := make([]string, 0, len(missing))
	for name := range missing {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Split shuffles each identity's images and splits them into train and test
// sets. Every identity keeps at least one training image.
func (d *Dataset) Split(testRatio float64, rng *rand.Rand) (train, test map[string][]string) {
	train = make(map[string][]string, len(d.identities))
	test = make(map[string][]string, len(d.identities))
	for _, identity := range d.identities {
		images := append([]string(nil), d.images[identity]...)
		rng.Shuffle(len(images), func(i, j int) { images[i], images[j] = images[j], images[i] })

		split := int(float64(len(images)) * (1 - testRatio))
		if split < 1 {
			split = 1
		}
		if split > len(images) {
			split = len(images)
		}
		train[identity] = images[:split]
		test[identity] = images[split:]
	}
	return train, test
}

// IdentityStats describes one identity directory.
type IdentityStats struct {
	NumImages  int      `json:"num_images"`
	ImagePaths []string `json:"image_paths"`
}

// Stats is the validation summary of a dataset.
type Stats struct {
	TotalIdentities int                      `json:"total_identities"`
	TotalImages     int                      `json:"total_images"`
	Identities      map[string]IdentityStats `json:"identities"`
	MinImages       int                      `json:"min_images_per_identity"`
	MaxImages       int                      `json:"max_images_per_identity"`
	AvgImages       float64                  `json:"avg_images_per_identity"`
	Warnings        []string                 `json:"warnings"`
}

// Validation warnings.
const (
	WarnFewImages  = "some identities have fewer than 2 images, which weakens the comparison"
	WarnUnbalanced = "large spread in the number of images per identity"
)

// Validate computes dataset statistics and warnings.
func (d *Dataset) Validate() Stats {
	stats := Stats{
		TotalIdentities: len(d.identities),
		TotalImages:     d.TotalImages(),
		Identities:      make(map[string]IdentityStats, len(d.identities)),
		Warnings:        []string{},
	}
	for i, identity := range d.identities {
		n := len(d.images[identity])
		stats.Identities[identity] = IdentityStats{NumImages: n, ImagePaths: d.images[identity]}
		if i == 0 || n < stats.MinImages {
			stats.MinImages = n
		}
		if n > stats.MaxImages {
			stats.MaxImages = n
		}
	}
	if stats.TotalIdentities > 0 {
		stats.AvgImages = float64(stats.TotalImages) / float64(stats.TotalIdentities)
	}

	if stats.MinImages < 2 {
		stats.Warnings = append(stats.Warnings, WarnFewImages)
	}
	if stats.MaxImages-stats.MinImages > 5 {
		stats.Warnings = append(stats.Warnings, WarnUnbalanced)
	}
	return stats
}

// ExportMetadata writes the validation stats as indented JSON to path.
func (d *Dataset) ExportMetadata(path string) error {
	data, err := json.MarshalIndent(d.Validate(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dataset metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write dataset metadata: %w", err)
	}
	return nil
}

// Prepare splits the dataset at src into out/train and out/test, copying
// the images. It returns both directory paths.
func Prepare(src, out string, trainRatio float64, rng *rand.Rand) (trainDir, testDir string, err error) {
	ds, err := Load(src)
	if err != nil {
		return "", "", err
	}
	train, test := ds.Split(1-trainRatio, rng)

	trainDir = filepath.Join(out, "train")
	testDir = filepath.Join(out, "test")
	if err := copySet(train, trainDir); err != nil {
		return "", "", err
	}
	if err := copySet(test, testDir); err != nil {
		return "", "", err
	}
	return trainDir, testDir, nil
}

// Scaffold creates an empty dataset layout with n identity directories.
func Scaffold(root string, n int) error {
	for i := 1; i <= n; i++ {
		if err := os.MkdirAll(filepath.Join(root, fmt.Sprintf("identity_%d", i)), 0755); err != nil {
			return fmt.Errorf("create identity directory: %w", err)
		}
	}
	return nil
}

func copySet(set map[string][]string, dir string) error {
	for identity, images := range set {
		target := filepath.Join(dir, identity)
		if err := os.MkdirAll(target, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", target, err)
		}
		for _, img := range images {
			if err := copyFile(img, filepath.Join(target, filepath.Base(img))); err != nil {
				return err
			}
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // dataset paths come from the operator
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst) //nolint:gosec // dataset paths come from the operator
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
