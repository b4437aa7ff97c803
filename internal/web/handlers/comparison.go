package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/dataset"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/hybrid"
)

// ComparisonHandler runs fast versus accurate comparisons.
type ComparisonHandler struct {
	svc              *attendance.Service
	jobs             *JobManager
	thresholds       *facematch.Thresholds
	resultsDir       string
	accurateDetector string
	log              logrus.FieldLogger
}

// ComparisonSettings configures a ComparisonHandler.
type ComparisonSettings struct {
	Thresholds       *facematch.Thresholds
	ResultsDir       string // reports are written here when set
	AccurateDetector string
}

// NewComparisonHandler creates a new comparison handler.
func NewComparisonHandler(svc *attendance.Service, settings ComparisonSettings, log logrus.FieldLogger) *ComparisonHandler {
	if settings.Thresholds == nil {
		settings.Thresholds = facematch.DefaultThresholds()
	}
	return &ComparisonHandler{
		svc:              svc,
		jobs:             NewJobManager(),
		thresholds:       settings.Thresholds,
		resultsDir:       settings.ResultsDir,
		accurateDetector: settings.AccurateDetector,
		log:              log,
	}
}

// TestSingle handles POST /api/v1/comparison/test-single with a multipart "file"
// and an optional "truth" identity ID form field.
func (h *ComparisonHandler) TestSingle(w http.ResponseWriter, r *http.Request) {
	image, _, ok := readImage(w, r, constants.MaxUploadSize)
	if !ok {
		return
	}

	var truth *int64
	if raw := strings.TrimSpace(r.FormValue("truth")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid truth %q", raw))
			return
		}
		truth = &id
	}

	res, err := h.svc.Probe(r.Context(), image, truth)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// StartBatch handles POST /api/v1/comparison/batch. The run continues in the
// background; progress is streamed on the job's events endpoint.
func (h *ComparisonHandler) StartBatch(w http.ResponseWriter, r *http.Request) {
	var opts ComparisonOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if opts.DatasetPath == "" {
		respondError(w, http.StatusBadRequest, "dataset_path is required")
		return
	}
	if opts.ImagesPerIdentity < 0 {
		respondError(w, http.StatusBadRequest, "images_per_identity must not be negative")
		return
	}
	if info, err := os.Stat(opts.DatasetPath); err != nil || !info.IsDir() {
		respondError(w, http.StatusBadRequest, "dataset_path is not a directory")
		return
	}

	job := h.jobs.CreateJob(uuid.New().String(), opts)
	ctx, cancel := context.WithCancel(context.Background())
	job.cancel = cancel

	go h.runBatch(ctx, job)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(JobStatusPending),
	})
}

func (h *ComparisonHandler) runBatch(ctx context.Context, job *ComparisonJob) {
	defer job.cancel()

	job.mu.Lock()
	job.Status = JobStatusRunning
	job.mu.Unlock()
	job.SendEvent(JobEvent{Type: "started", Message: "Comparison started"})

	log := h.log.WithFields(logrus.Fields{"job_id": job.ID, "dataset": sanitizeForLog(job.Options.DatasetPath)})
	log.Info("Starting batch comparison")

	res, err := h.svc.Evaluate(ctx, job.Options.DatasetPath, attendance.EvaluateOptions{
		ImagesPerIdentity:      job.Options.ImagesPerIdentity,
		CountCorrectRejections: job.Options.CountCorrectRejections,
		AccurateDetector:       h.accurateDetector,
		Progress: func(done, total int) {
			job.setProgress(done, total)
			job.SendEvent(JobEvent{Type: "progress", Data: map[string]int{"processed": done, "total": total}})
		},
	})
	if err != nil {
		log.WithError(err).Error("Batch comparison failed")
		job.finish(JobStatusFailed, err.Error())
		job.SendEvent(JobEvent{Type: "job_error", Message: err.Error()})
		return
	}

	var reportPath string
	if h.resultsDir != "" {
		reportPath, err = res.WriteReports(h.resultsDir, time.Now())
		if err != nil {
			log.WithError(err).Warn("Failed to write comparison report")
		}
	}

	job.mu.Lock()
	job.Result = res
	job.ReportPath = reportPath
	job.mu.Unlock()
	job.finish(JobStatusCompleted, "")
	job.SendEvent(JobEvent{Type: "completed", Data: res.Comparison.Summary})
	log.WithField("processed", res.Summary.Processed).Info("Batch comparison completed")
}

// ListJobs handles GET /api/v1/comparison/jobs.
func (h *ComparisonHandler) ListJobs(w http.ResponseWriter, _ *http.Request) {
	jobs := h.jobs.ListJobs()
	out := make([]ComparisonJobState, 0, len(jobs))
	for _, job := range jobs {
		state := job.Snapshot()
		state.Result = nil
		out = append(out, state)
	}
	respondJSON(w, http.StatusOK, out)
}

// GetJob handles GET /api/v1/comparison/jobs/{jobId}.
func (h *ComparisonHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job := h.jobs.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job.Snapshot())
}

// Events handles GET /api/v1/comparison/jobs/{jobId}/events (SSE).
func (h *ComparisonHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r,
		func(id string) SSEJob {
			job := h.jobs.GetJob(id)
			if job == nil {
				return nil
			}
			return job
		},
		func(j SSEJob) any {
			return j.(*ComparisonJob).Snapshot()
		},
	)
}

// Report handles GET /api/v1/comparison/jobs/{jobId}/report. With
// ?format=csv the raw per-sample rows are returned instead.
func (h *ComparisonHandler) Report(w http.ResponseWriter, r *http.Request) {
	job := h.jobs.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	state := job.Snapshot()
	if state.Result == nil {
		respondError(w, http.StatusConflict, "job has no result yet")
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "comparison_"+state.ID+".csv"))
		if err := state.Result.Ledger.WriteCSV(w); err != nil {
			h.log.WithError(err).Error("Failed to write CSV report")
		}
		return
	}
	respondJSON(w, http.StatusOK, state.Result.Comparison)
}

// DeleteJob handles DELETE /api/v1/comparison/jobs/{jobId}, cancelling it
// first when still running.
func (h *ComparisonHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobId")
	job := h.jobs.GetJob(id)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if !isJobTerminal(job.GetStatus()) {
		job.Cancel()
	}
	h.jobs.DeleteJob(id)
	w.WriteHeader(http.StatusNoContent)
}

// Models handles GET /api/v1/comparison/models.
func (h *ComparisonHandler) Models(w http.ResponseWriter, _ *http.Request) {
	arb := h.svc.Arbitrator()
	respondJSON(w, http.StatusOK, map[string]any{
		"fast":       arb.Fast().Matcher.Profile(),
		"accurate":   arb.Accurate().Matcher.Profile(),
		"thresholds": h.thresholds.Models,
		"modes":      hybrid.Modes,
		"metrics":    []facematch.Metric{facematch.MetricCosine, facematch.MetricEuclidean, facematch.MetricEuclideanL2},
		"hybrid":     arb.Config(),
	})
}

// ValidateDataset handles GET /api/v1/comparison/dataset/validate?path=.
func (h *ComparisonHandler) ValidateDataset(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	ds, err := dataset.Load(path)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, ds.Validate())
}

// SaveReport handles POST /api/v1/comparison/jobs/{jobId}/report, writing
// the JSON and CSV reports into the results directory.
func (h *ComparisonHandler) SaveReport(w http.ResponseWriter, r *http.Request) {
	job := h.jobs.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if h.resultsDir == "" {
		respondError(w, http.StatusConflict, "no results directory configured")
		return
	}
	state := job.Snapshot()
	if state.Result == nil {
		respondError(w, http.StatusConflict, "job has no result yet")
		return
	}

	path, err := state.Result.WriteReports(h.resultsDir, time.Now())
	if err != nil {
		h.log.WithError(err).Error("Failed to write comparison report")
		respondError(w, http.StatusInternalServerError, "failed to write report")
		return
	}
	job.mu.Lock()
	job.ReportPath = path
	job.mu.Unlock()
	respondJSON(w, http.StatusCreated, map[string]string{"report_path": path})
}
