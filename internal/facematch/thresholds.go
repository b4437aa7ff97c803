package facematch

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed thresholds.yaml
var thresholdsYAML []byte

// FallbackThreshold is used for model/metric pairs missing from the table.
const FallbackThreshold = 0.4

// Thresholds is the per-model, per-metric acceptance table. Embedding spaces of
// different models are not comparable in absolute distance units.
type Thresholds struct {
	Models map[string]map[Metric]float64 `yaml:"models"`
}

// DefaultThresholds returns the built-in table.
func DefaultThresholds() *Thresholds {
	t, err := ParseThresholds(thresholdsYAML)
	if err != nil {
		// Embedded file, cannot fail unless the binary was built from a broken tree.
		panic("failed to parse embedded thresholds.yaml: " + err.Error())
	}
	return t
}

// ParseThresholds parses a YAML threshold table.
func ParseThresholds(data []byte) (*Thresholds, error) {
	var t Thresholds
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse thresholds: %w", err)
	}
	for model, metrics := range t.Models {
		for metric, v := range metrics {
			if _, err := ParseMetric(string(metric)); err != nil {
				return nil, fmt.Errorf("model %s: %w", model, err)
			}
			if v <= 0 {
				return nil, fmt.Errorf("model %s: threshold for %s must be positive, got %v", model, metric, v)
			}
		}
	}
	return &t, nil
}

// LoadThresholds reads a threshold table from path and layers it over the
// built-in defaults, so a file only needs the entries it changes.
func LoadThresholds(path string) (*Thresholds, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("read thresholds file: %w", err)
	}
	override, err := ParseThresholds(data)
	if err != nil {
		return nil, err
	}
	t := DefaultThresholds()
	for model, metrics := range override.Models {
		if t.Models[model] == nil {
			t.Models[model] = make(map[Metric]float64, len(metrics))
		}
		for metric, v := range metrics {
			t.Models[model][metric] = v
		}
	}
	return t, nil
}

// Lookup returns the threshold for model and metric, falling back to
// FallbackThreshold when the pair is unknown.
func (t *Thresholds) Lookup(model string, metric Metric) float64 {
	if t != nil {
		if v, ok := t.Models[model][metric]; ok {
			return v
		}
	}
	return FallbackThreshold
}
