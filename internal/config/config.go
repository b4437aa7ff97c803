package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/hybrid"
)

type Config struct {
	Database       DatabaseConfig
	Fast           ExtractorConfig
	Accurate       ExtractorConfig
	Hybrid         HybridConfig
	MQTT           MQTTConfig
	Log            LogConfig
	Server         ServerConfig
	ResultsDir     string // Where comparison reports are written
	ThresholdsFile string // Optional YAML overlay for the threshold table
}

type DatabaseConfig struct {
	Driver        string // postgres (default) or mariadb
	URL           string // Connection URL or MariaDB DSN
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	HNSWIndexPath string // Directory to cache nearest-neighbor indexes (optional)
}

type ExtractorConfig struct {
	URL          string
	Model        string
	Detector     string
	Metric       facematch.Metric
	Scale        facematch.Scale
	Timeout      time.Duration
	RateLimit    float64 // requests per second, 0 disables
	MaxImageSize int     // longer side in pixels, 0 disables resizing
}

type HybridConfig struct {
	Mode        string
	High        float64
	Low         float64
	StatsWindow int // recent decisions kept for statistics
}

type MQTTConfig struct {
	Broker   string // e.g. tcp://localhost:1883, empty disables publishing
	ClientID string
	Topic    string
	Username string
	Password string
	QoS      int
}

// Enabled reports whether attendance events should be published.
func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

type LogConfig struct {
	Level string
	File  string
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// AllowedOrigins receive CORS headers in addition to localhost.
	AllowedOrigins []string
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a non-negative float, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envDuration reads a Go duration such as "30s", falling back to defaultVal.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

// envList reads a comma-separated environment variable, dropping blank items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:        strings.ToLower(envString("DATABASE_DRIVER", "postgres")),
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Fast: ExtractorConfig{
			URL:          envString("FAST_EXTRACTOR_URL", "http://localhost:8001"),
			Model:        envString("FAST_MODEL", "face_recognition"),
			Detector:     os.Getenv("FAST_DETECTOR"),
			Metric:       facematch.Metric(envString("FAST_METRIC", string(facematch.MetricEuclidean))),
			Scale:        facematch.ScaleLinear,
			Timeout:      envDuration("FAST_TIMEOUT", 10*time.Second),
			RateLimit:    envFloat("FAST_RATE_LIMIT", 0),
			MaxImageSize: envInt("FAST_MAX_IMAGE_SIZE", 1280),
		},
		Accurate: ExtractorConfig{
			URL:          envString("ACCURATE_EXTRACTOR_URL", "http://localhost:8002"),
			Model:        envString("ACCURATE_MODEL", "Facenet512"),
			Detector:     envString("ACCURATE_DETECTOR", "retinaface"),
			Metric:       facematch.Metric(envString("ACCURATE_METRIC", string(facematch.MetricCosine))),
			Scale:        facematch.ScaleThreshold,
			Timeout:      envDuration("ACCURATE_TIMEOUT", 60*time.Second),
			RateLimit:    envFloat("ACCURATE_RATE_LIMIT", 0),
			MaxImageSize: envInt("ACCURATE_MAX_IMAGE_SIZE", 1920),
		},
		Hybrid: HybridConfig{
			Mode:        envString("HYBRID_MODE", string(hybrid.ModeSmart)),
			High:        envFloat("HYBRID_HIGH_CONFIDENCE", hybrid.DefaultHigh),
			Low:         envFloat("HYBRID_LOW_CONFIDENCE", hybrid.DefaultLow),
			StatsWindow: envInt("HYBRID_STATS_WINDOW", constants.DefaultStatisticsWindow),
		},
		MQTT: MQTTConfig{
			Broker:   os.Getenv("MQTT_BROKER"),
			ClientID: envString("MQTT_CLIENT_ID", "face-attendance"),
			Topic:    envString("MQTT_TOPIC", "attendance/events"),
			Username: os.Getenv("MQTT_USERNAME"),
			Password: os.Getenv("MQTT_PASSWORD"),
			QoS:      envInt("MQTT_QOS", 1),
		},
		Log: LogConfig{
			Level: envString("LOG_LEVEL", "info"),
			File:  os.Getenv("LOG_FILE"),
		},
		Server: ServerConfig{
			Host:           os.Getenv("SERVER_HOST"),
			Port:           envInt("SERVER_PORT", 8080),
			ReadTimeout:    envDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   envDuration("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		ResultsDir:     envString("RESULTS_DIR", "results"),
		ThresholdsFile: os.Getenv("THRESHOLDS_FILE"),
	}
}

// Validate checks values that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "postgres", "mariadb":
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}

	for name, ext := range map[string]ExtractorConfig{"fast": c.Fast, "accurate": c.Accurate} {
		if ext.URL == "" {
			errs = append(errs, fmt.Errorf("%s extractor URL is required", name))
		}
		if ext.Model == "" {
			errs = append(errs, fmt.Errorf("%s model is required", name))
		}
		if _, err := facematch.ParseMetric(string(ext.Metric)); err != nil {
			errs = append(errs, fmt.Errorf("%s extractor: %w", name, err))
		}
	}

	hc := hybrid.Config{Mode: hybrid.Mode(c.Hybrid.Mode), High: c.Hybrid.High, Low: c.Hybrid.Low}
	if err := hc.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("MQTT QoS must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}

	return errors.Join(errs...)
}

// HybridSettings converts the settings into the arbitrator's configuration.
func (c *Config) HybridSettings() (hybrid.Config, error) {
	mode, err := hybrid.ParseMode(c.Hybrid.Mode)
	if err != nil {
		return hybrid.Config{}, err
	}
	return hybrid.Config{Mode: mode, High: c.Hybrid.High, Low: c.Hybrid.Low}, nil
}

// Thresholds returns the threshold table, layered with ThresholdsFile if set.
func (c *Config) Thresholds() (*facematch.Thresholds, error) {
	if c.ThresholdsFile == "" {
		return facematch.DefaultThresholds(), nil
	}
	return facematch.LoadThresholds(c.ThresholdsFile)
}

// Profile builds the matcher profile of one extractor.
func (e ExtractorConfig) Profile(kind facematch.Kind, t *facematch.Thresholds) facematch.Profile {
	return facematch.NewProfile(e.Model, kind, e.Metric, e.Scale, t)
}
