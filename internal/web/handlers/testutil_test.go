package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/hybrid"
)

type fakeExtractor struct {
	kind      facematch.Kind
	values    []float32
	err       error
	healthErr error
}

func (f *fakeExtractor) Extract(_ context.Context, _ []byte) (facematch.Embedding, error) {
	if f.err != nil {
		return facematch.Embedding{}, f.err
	}
	return facematch.NewEmbedding(f.kind, f.values), nil
}

func (f *fakeExtractor) Health(context.Context) error {
	return f.healthErr
}

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// testEnv wires a service over the in-memory store. Alice sits on both
// probes, Bob is far from them.
type testEnv struct {
	store    *mock.Store
	fast     *fakeExtractor
	accurate *fakeExtractor
	svc      *attendance.Service
	alice    *database.Identity
	bob      *database.Identity
}

func newTestEnv(t *testing.T, withGallery bool) *testEnv {
	t.Helper()
	ctx := context.Background()

	env := &testEnv{
		store:    mock.NewStore(),
		fast:     &fakeExtractor{kind: facematch.KindFast, values: []float32{0}},
		accurate: &fakeExtractor{kind: facematch.KindAccurate, values: []float32{1, 0}},
	}
	env.alice, _ = env.store.CreateIdentity(ctx, "Alice", nil)
	env.bob, _ = env.store.CreateIdentity(ctx, "Bob", nil)

	if withGallery {
		env.enroll(t, env.alice.ID, facematch.KindFast, 0.1)
		env.enroll(t, env.alice.ID, facematch.KindAccurate, 1, 0)
		env.enroll(t, env.bob.ID, facematch.KindFast, 0.8)
		env.enroll(t, env.bob.ID, facematch.KindAccurate, 0, 1)
	}

	fastProfile := facematch.Profile{
		Model: "face_recognition", Kind: facematch.KindFast,
		Metric: facematch.MetricEuclidean, Threshold: 0.9, Scale: facematch.ScaleLinear,
	}
	accProfile := facematch.Profile{
		Model: "Facenet512", Kind: facematch.KindAccurate,
		Metric: facematch.MetricCosine, Threshold: 0.3, Scale: facematch.ScaleThreshold,
	}
	arb := hybrid.New(
		hybrid.NewRecognizer(env.fast, facematch.NewMatcher(fastProfile, nil)),
		hybrid.NewRecognizer(env.accurate, facematch.NewMatcher(accProfile, nil)),
		hybrid.DefaultConfig(),
		nil,
	)
	env.svc = attendance.NewService(env.store, arb, attendance.Options{Logger: testLogger()})
	return env
}

func (env *testEnv) enroll(t *testing.T, identityID int64, kind facematch.Kind, values ...float32) {
	t.Helper()
	entry, err := facematch.NewGalleryEntry(identityID, facematch.NewEmbedding(kind, values), "")
	if err != nil {
		t.Fatalf("NewGalleryEntry: %v", err)
	}
	env.store.AddFace(database.StoredFace{IdentityID: identityID, Kind: kind, Encoding: entry.Encoding, Raw: entry.Raw, Dim: len(values)})
}

// multipartRequest builds a request carrying data as the "file" part plus
// any extra form fields.
func multipartRequest(t *testing.T, method, target string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if data != nil {
		part, err := mw.CreateFormFile("file", "probe.jpg")
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		part.Write(data)
	}
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()

	req := httptest.NewRequest(method, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}
