package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("a\nb\rc"); got != "abc" {
		t.Errorf("sanitizeForLog = %q, want abc", got)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("get identity: %w", database.ErrNotFound), http.StatusNotFound},
		{"empty gallery", attendance.ErrEmptyGallery, http.StatusConflict},
		{"no face", facematch.ErrNoFaceDetected, http.StatusUnprocessableEntity},
		{"dimension mismatch", facematch.ErrDimensionMismatch, http.StatusUnprocessableEntity},
		{"extractor", &facematch.ExtractorError{Kind: facematch.KindFast, Err: errors.New("down")}, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorStatus(tt.err); got != tt.want {
				t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestParseOptionalID(t *testing.T) {
	seven := int64(7)
	tests := []struct {
		query   string
		want    *int64
		wantErr bool
	}{
		{"", nil, false},
		{"?group_id=7", &seven, false},
		{"?group_id=0", nil, true},
		{"?group_id=abc", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/"+tt.query, nil)
			got, err := parseOptionalID(req, "group_id")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
				t.Errorf("parseOptionalID = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadImage(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := multipartRequest(t, http.MethodPost, "/", nil, map[string]string{"x": "y"})
		if _, _, ok := readImage(rec, req, 1<<20); ok {
			t.Fatal("expected failure")
		}
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("too large", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := multipartRequest(t, http.MethodPost, "/", make([]byte, 4096), nil)
		if _, _, ok := readImage(rec, req, 1024); ok {
			t.Fatal("expected failure")
		}
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("ok", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := multipartRequest(t, http.MethodPost, "/", []byte("jpeg"), nil)
		data, name, ok := readImage(rec, req, 1<<20)
		if !ok || string(data) != "jpeg" || name != "probe.jpg" {
			t.Errorf("readImage = %q, %q, %v", data, name, ok)
		}
	})
}
