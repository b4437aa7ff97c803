package handlers

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/evaluation"
)

func writeDataset(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, name := range []string{"Alice", "Bob"} {
		dir := filepath.Join(root, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "1.jpg"), []byte("img"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func waitForJob(t *testing.T, job *ComparisonJob) ComparisonJobState {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if isJobTerminal(job.GetStatus()) {
			return job.Snapshot()
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not finish in time")
	return ComparisonJobState{}
}

func TestComparisonHandler_TestSingle(t *testing.T) {
	env := newTestEnv(t, true)
	h := NewComparisonHandler(env.svc, ComparisonSettings{}, testLogger())

	rec := httptest.NewRecorder()
	h.TestSingle(rec, multipartRequest(t, http.MethodPost, "/api/v1/comparison/test-single", []byte("img"),
		map[string]string{"truth": strconv.FormatInt(env.alice.ID, 10)}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var res evaluation.ProbeResult
	decodeJSON(t, rec, &res)
	if res.Fast.Correct == nil || !*res.Fast.Correct || res.Accurate.Correct == nil || !*res.Accurate.Correct {
		t.Errorf("both recognizers should be correct: %+v", res)
	}

	rec = httptest.NewRecorder()
	h.TestSingle(rec, multipartRequest(t, http.MethodPost, "/", []byte("img"), map[string]string{"truth": "x"}))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad truth: status = %d, want 400", rec.Code)
	}
}

func TestComparisonHandler_StartBatchValidation(t *testing.T) {
	env := newTestEnv(t, true)
	h := NewComparisonHandler(env.svc, ComparisonSettings{}, testLogger())

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing path", `{}`},
		{"negative limit", `{"dataset_path":"/tmp","images_per_identity":-1}`},
		{"not a directory", `{"dataset_path":"/does/not/exist"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.StartBatch(rec, httptest.NewRequest(http.MethodPost, "/api/v1/comparison/batch", strings.NewReader(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestComparisonHandler_BatchLifecycle(t *testing.T) {
	env := newTestEnv(t, true)
	results := t.TempDir()
	h := NewComparisonHandler(env.svc, ComparisonSettings{ResultsDir: results}, testLogger())

	body := `{"dataset_path":"` + writeDataset(t) + `","count_correct_rejections":true}`
	rec := httptest.NewRecorder()
	h.StartBatch(rec, httptest.NewRequest(http.MethodPost, "/api/v1/comparison/batch", strings.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var started struct {
		JobID string `json:"job_id"`
	}
	decodeJSON(t, rec, &started)

	state := waitForJob(t, h.jobs.GetJob(started.JobID))
	if state.Status != JobStatusCompleted {
		t.Fatalf("job status = %s (%s)", state.Status, state.Error)
	}
	if state.Processed != 2 || state.Progress != 100 {
		t.Errorf("progress = %d/%d (%d%%)", state.Processed, state.Total, state.Progress)
	}
	if state.ReportPath == "" {
		t.Fatal("report should be written to the results directory")
	}
	csvPath := strings.TrimSuffix(state.ReportPath, ".json") + ".csv"
	if _, err := os.Stat(csvPath); err != nil {
		t.Errorf("csv report missing: %v", err)
	}

	params := map[string]string{"jobId": started.JobID}

	rec = httptest.NewRecorder()
	h.Report(rec, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/?format=csv", nil), params))
	if rec.Header().Get("Content-Type") != "text/csv" || !strings.Contains(rec.Body.String(), "\n") {
		t.Errorf("unexpected csv response: %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.Report(rec, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/", nil), params))
	var cmp evaluation.Comparison
	decodeJSON(t, rec, &cmp)
	if cmp.Metadata.TotalTests != 2 {
		t.Errorf("total tests = %d, want 2", cmp.Metadata.TotalTests)
	}

	rec = httptest.NewRecorder()
	h.Events(rec, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/", nil), params))
	if !strings.HasPrefix(rec.Body.String(), "event: status\ndata: ") {
		t.Errorf("unexpected SSE stream: %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ListJobs(rec, httptest.NewRequest(http.MethodGet, "/api/v1/comparison/jobs", nil))
	var jobs []ComparisonJobState
	decodeJSON(t, rec, &jobs)
	if len(jobs) != 1 || jobs[0].Result != nil {
		t.Errorf("list should hold one job without its result: %+v", jobs)
	}

	rec = httptest.NewRecorder()
	h.DeleteJob(rec, requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/", nil), params))
	if rec.Code != http.StatusNoContent || h.jobs.GetJob(started.JobID) != nil {
		t.Errorf("delete failed: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.GetJob(rec, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/", nil), params))
	if rec.Code != http.StatusNotFound {
		t.Errorf("deleted job: status = %d, want 404", rec.Code)
	}
}

func TestComparisonHandler_Models(t *testing.T) {
	env := newTestEnv(t, false)
	h := NewComparisonHandler(env.svc, ComparisonSettings{}, testLogger())

	rec := httptest.NewRecorder()
	h.Models(rec, httptest.NewRequest(http.MethodGet, "/api/v1/comparison/models", nil))
	var body struct {
		Fast  struct{ Model string } `json:"fast"`
		Modes []string               `json:"modes"`
	}
	decodeJSON(t, rec, &body)
	if body.Fast.Model != "face_recognition" || len(body.Modes) != 3 {
		t.Errorf("unexpected models response: %+v", body)
	}
}

func TestComparisonHandler_ValidateDataset(t *testing.T) {
	env := newTestEnv(t, false)
	h := NewComparisonHandler(env.svc, ComparisonSettings{}, testLogger())

	rec := httptest.NewRecorder()
	h.ValidateDataset(rec, httptest.NewRequest(http.MethodGet, "/?path="+writeDataset(t), nil))
	var stats struct {
		TotalIdentities int `json:"total_identities"`
	}
	decodeJSON(t, rec, &stats)
	if rec.Code != http.StatusOK || stats.TotalIdentities != 2 {
		t.Errorf("status %d, stats %+v", rec.Code, stats)
	}

	rec = httptest.NewRecorder()
	h.ValidateDataset(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing path: status = %d, want 400", rec.Code)
	}
}
