package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mariadb"
	"github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/kozaktomas/face-attendance/internal/extractor"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/hybrid"
	"github.com/kozaktomas/face-attendance/internal/logger"
	"github.com/kozaktomas/face-attendance/internal/mqtt"
)

// app holds everything a command needs to talk to the gallery and the
// extractors. Close releases it.
type app struct {
	cfg        *config.Config
	log        *logrus.Logger
	store      database.Store
	arb        *hybrid.Arbitrator
	thresholds *facematch.Thresholds
	fast       *extractor.Client
	accurate   *extractor.Client
	closeLog   func()
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.WithError(err).Warn("Failed to close database")
		}
	}
	a.closeLog()
}

// setupApp loads and validates the configuration, opens the store and wires
// both recognizers into an arbitrator.
func setupApp(ctx context.Context) (*app, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, closeLog, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, closeLog: closeLog}

	if a.thresholds, err = cfg.Thresholds(); err != nil {
		a.Close()
		return nil, err
	}
	hybridCfg, err := cfg.HybridSettings()
	if err != nil {
		a.Close()
		return nil, err
	}

	if a.store, err = openStore(ctx, cfg, log); err != nil {
		a.Close()
		return nil, err
	}

	a.fast = newExtractor(cfg.Fast, facematch.KindFast)
	a.accurate = newExtractor(cfg.Accurate, facematch.KindAccurate)
	a.arb = hybrid.New(
		hybrid.NewRecognizer(a.fast, facematch.NewMatcher(cfg.Fast.Profile(facematch.KindFast, a.thresholds), log)),
		hybrid.NewRecognizer(a.accurate, facematch.NewMatcher(cfg.Accurate.Profile(facematch.KindAccurate, a.thresholds), log)),
		hybridCfg,
		log,
	)
	return a, nil
}

// service builds the attendance service over the app's store.
func (a *app) service(pub mqtt.Publisher, indexes map[facematch.Kind]*database.HNSWIndex) *attendance.Service {
	return attendance.NewService(a.store, a.arb, attendance.Options{
		Publisher:        pub,
		Logger:           a.log,
		StatisticsWindow: a.cfg.Hybrid.StatsWindow,
		Indexes:          indexes,
	})
}

func newExtractor(cfg config.ExtractorConfig, kind facematch.Kind) *extractor.Client {
	return extractor.NewClient(extractor.Options{
		BaseURL:      cfg.URL,
		Kind:         kind,
		Model:        cfg.Model,
		Detector:     cfg.Detector,
		Timeout:      cfg.Timeout,
		RateLimit:    cfg.RateLimit,
		MaxImageSize: cfg.MaxImageSize,
	})
}

// openStore opens the configured database backend and applies migrations.
func openStore(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (database.Store, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	log.WithField("driver", cfg.Database.Driver).Info("Connecting to database")
	switch cfg.Database.Driver {
	case "mariadb":
		return mariadb.Open(ctx, &cfg.Database, log)
	default:
		return postgres.Open(ctx, &cfg.Database, log)
	}
}

// indexPath returns where the index of kind is cached, or "" when caching
// is disabled.
func indexPath(cfg *config.Config, kind facematch.Kind) string {
	if cfg.Database.HNSWIndexPath == "" {
		return ""
	}
	return filepath.Join(cfg.Database.HNSWIndexPath, "faces_"+string(kind)+".hnsw")
}

// prepareIndex loads the cached HNSW index of kind when it still matches the
// gallery, and rebuilds (and re-caches) it otherwise.
func prepareIndex(ctx context.Context, a *app, kind facematch.Kind, metric facematch.Metric) (*database.HNSWIndex, error) {
	entries, err := a.store.LoadGallery(ctx, kind)
	if err != nil {
		return nil, err
	}

	log := a.log.WithField("kind", kind)
	path := indexPath(a.cfg, kind)
	if path != "" {
		idx, err := database.LoadHNSWIndex(path, kind, metric)
		if err == nil {
			if idx.Reflects(entries) {
				log.WithFields(logrus.Fields{"path": path, "entries": idx.Count()}).Info("Loaded cached HNSW index")
				return idx, nil
			}
			log.Info("Cached HNSW index is stale, rebuilding")
		} else if !errors.Is(err, fs.ErrNotExist) {
			log.WithError(err).Debug("Cached HNSW index unusable, rebuilding")
		}
	}

	idx := database.NewHNSWIndex(kind, metric)
	skipped, err := idx.Build(entries)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		log.WithField("skipped", skipped).Warn("Malformed gallery entries left out of the index")
	}
	log.WithField("entries", idx.Count()).Info("Built HNSW index")

	if path != "" {
		if err := saveIndex(idx, path); err != nil {
			log.WithError(err).Warn("Failed to cache HNSW index")
		}
	}
	return idx, nil
}

func saveIndex(idx *database.HNSWIndex, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}
	return idx.Save(path)
}

// prepareIndexes builds the indexes for both kinds. A failing kind is logged
// and left out, so nearest queries fall back to the database or a scan.
func prepareIndexes(ctx context.Context, a *app) map[facematch.Kind]*database.HNSWIndex {
	indexes := make(map[facematch.Kind]*database.HNSWIndex, 2)
	for _, rec := range []hybrid.Recognizer{a.arb.Fast(), a.arb.Accurate()} {
		profile := rec.Matcher.Profile()
		idx, err := prepareIndex(ctx, a, profile.Kind, profile.Metric)
		if err != nil {
			a.log.WithError(err).WithField("kind", profile.Kind).Warn("HNSW index unavailable")
			continue
		}
		indexes[profile.Kind] = idx
	}
	return indexes
}
