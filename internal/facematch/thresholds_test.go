package facematch

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultThresholds(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		model    string
		metric   Metric
		expected float64
	}{
		{"Facenet512", MetricCosine, 0.30},
		{"Facenet512", MetricEuclidean, 23.56},
		{"Facenet512", MetricEuclideanL2, 1.04},
		{"ArcFace", MetricCosine, 0.68},
		{"SFace", MetricEuclidean, 10.734},
		{"DeepID", MetricCosine, 0.015},
		{"face_recognition", MetricEuclidean, 0.6},
		{"unknown-model", MetricCosine, FallbackThreshold},
		{"face_recognition", MetricCosine, FallbackThreshold},
	}

	for _, tt := range tests {
		t.Run(tt.model+"/"+string(tt.metric), func(t *testing.T) {
			got := th.Lookup(tt.model, tt.metric)
			if got != tt.expected {
				t.Errorf("Lookup(%s, %s) = %v, want %v", tt.model, tt.metric, got, tt.expected)
			}
		})
	}
}

func TestThresholds_NilLookup(t *testing.T) {
	var th *Thresholds
	if got := th.Lookup("Facenet512", MetricCosine); got != FallbackThreshold {
		t.Errorf("nil Lookup = %v, want %v", got, FallbackThreshold)
	}
}

func TestParseThresholds_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown metric", "models:\n  X:\n    manhattan: 1\n"},
		{"non-positive", "models:\n  X:\n    cosine: 0\n"},
		{"not yaml", "models: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseThresholds([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadThresholds_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	data := "models:\n  Facenet512:\n    cosine: 0.35\n  Custom:\n    euclidean: 2.5\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	th, err := LoadThresholds(path)
	if err != nil {
		t.Fatalf("LoadThresholds error: %v", err)
	}
	if got := th.Lookup("Facenet512", MetricCosine); got != 0.35 {
		t.Errorf("overridden Facenet512/cosine = %v, want 0.35", got)
	}
	if got := th.Lookup("Facenet512", MetricEuclidean); got != 23.56 {
		t.Errorf("default Facenet512/euclidean = %v, want 23.56", got)
	}
	if got := th.Lookup("Custom", MetricEuclidean); got != 2.5 {
		t.Errorf("Custom/euclidean = %v, want 2.5", got)
	}
}

func TestLoadThresholds_MissingFile(t *testing.T) {
	if _, err := LoadThresholds(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
