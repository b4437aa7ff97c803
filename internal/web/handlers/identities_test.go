package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

func TestIdentitiesHandler_Create(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantGroup  bool
	}{
		{"plain", `{"name":"Carol"}`, http.StatusCreated, false},
		{"with group name", `{"name":"Dave","group":"3.A"}`, http.StatusCreated, true},
		{"blank name", `{"name":"  "}`, http.StatusBadRequest, false},
		{"invalid json", `{`, http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, false)
			h := NewIdentitiesHandler(env.svc, testLogger())

			rec := httptest.NewRecorder()
			h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/v1/identities", strings.NewReader(tt.body)))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if rec.Code != http.StatusCreated {
				return
			}
			var ident database.Identity
			decodeJSON(t, rec, &ident)
			if (ident.GroupID != nil) != tt.wantGroup {
				t.Errorf("group = %v, wantGroup %v", ident.GroupID, tt.wantGroup)
			}
		})
	}
}

func TestIdentitiesHandler_ListWithCounts(t *testing.T) {
	env := newTestEnv(t, true)
	h := NewIdentitiesHandler(env.svc, testLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/identities", nil))

	var out []IdentityResponse
	decodeJSON(t, rec, &out)
	if len(out) != 2 {
		t.Fatalf("expected 2 identities, got %d", len(out))
	}
	for _, ident := range out {
		if ident.FastFaces != 1 || ident.AccurateFaces != 1 {
			t.Errorf("%s: counts %d/%d, want 1/1", ident.Name, ident.FastFaces, ident.AccurateFaces)
		}
	}
}

func TestIdentitiesHandler_Get(t *testing.T) {
	env := newTestEnv(t, false)
	h := NewIdentitiesHandler(env.svc, testLogger())

	tests := []struct {
		id   string
		want int
	}{
		{strconv.FormatInt(env.alice.ID, 10), http.StatusOK},
		{"999", http.StatusNotFound},
		{"abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": tt.id})
			h.Get(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestIdentitiesHandler_AddAndDeleteFaces(t *testing.T) {
	env := newTestEnv(t, false)
	h := NewIdentitiesHandler(env.svc, testLogger())
	params := map[string]string{"id": strconv.FormatInt(env.alice.ID, 10)}

	rec := httptest.NewRecorder()
	h.AddFace(rec, requestWithChiParams(multipartRequest(t, http.MethodPost, "/", []byte("img"), nil), params))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var res attendance.EnrollResult
	decodeJSON(t, rec, &res)
	if len(res.Stored) != 2 {
		t.Errorf("expected rows for both kinds, got %+v", res.Stored)
	}

	counts, _ := env.store.CountFaces(context.Background())
	if len(counts) != 1 || counts[0].Fast != 1 || counts[0].Accurate != 1 {
		t.Errorf("unexpected counts after enroll: %+v", counts)
	}

	rec = httptest.NewRecorder()
	h.DeleteFaces(rec, requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/", nil), params))
	var del struct {
		Deleted int `json:"deleted"`
	}
	decodeJSON(t, rec, &del)
	if del.Deleted != 2 {
		t.Errorf("deleted = %d, want 2", del.Deleted)
	}
}

func TestIdentitiesHandler_AddFaceNoFace(t *testing.T) {
	env := newTestEnv(t, false)
	env.fast.err = facematch.ErrNoFaceDetected
	env.accurate.err = facematch.ErrNoFaceDetected
	h := NewIdentitiesHandler(env.svc, testLogger())

	rec := httptest.NewRecorder()
	req := requestWithChiParams(multipartRequest(t, http.MethodPost, "/", []byte("img"), nil),
		map[string]string{"id": strconv.FormatInt(env.alice.ID, 10)})
	h.AddFace(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestIdentitiesHandler_Groups(t *testing.T) {
	env := newTestEnv(t, false)
	h := NewIdentitiesHandler(env.svc, testLogger())

	rec := httptest.NewRecorder()
	h.ListGroups(rec, httptest.NewRequest(http.MethodGet, "/api/v1/groups", nil))
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("empty group list should encode as [], got %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.CreateGroup(rec, httptest.NewRequest(http.MethodPost, "/api/v1/groups", strings.NewReader(`{"name":"3.A"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ListGroups(rec, httptest.NewRequest(http.MethodGet, "/api/v1/groups", nil))
	var groups []database.Group
	decodeJSON(t, rec, &groups)
	if len(groups) != 1 || groups[0].Name != "3.A" {
		t.Errorf("unexpected groups: %+v", groups)
	}
}

func TestIdentitiesHandler_Update(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		body       string
		wantStatus int
		wantName   string
	}{
		{"rename", "", `{"name":" Alice B. "}`, http.StatusOK, "Alice B."},
		{"blank name", "", `{"name":"  "}`, http.StatusBadRequest, ""},
		{"exclusive group fields", "", `{"group_id":1,"clear_group":true}`, http.StatusBadRequest, ""},
		{"unknown group", "", `{"group_id":999}`, http.StatusNotFound, ""},
		{"unknown identity", "999", `{"name":"Nobody"}`, http.StatusNotFound, ""},
		{"invalid id", "abc", `{}`, http.StatusBadRequest, ""},
		{"invalid json", "", `{`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, false)
			h := NewIdentitiesHandler(env.svc, testLogger())
			id := tt.id
			if id == "" {
				id = strconv.FormatInt(env.alice.ID, 10)
			}

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPut, "/api/v1/identities/"+id, strings.NewReader(tt.body))
			h.Update(rec, requestWithChiParams(req, map[string]string{"id": id}))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if rec.Code != http.StatusOK {
				return
			}
			var ident database.Identity
			decodeJSON(t, rec, &ident)
			if ident.Name != tt.wantName || !ident.Active {
				t.Errorf("got %+v, want active %q", ident, tt.wantName)
			}
		})
	}
}

func TestIdentitiesHandler_DeactivateStopsMatching(t *testing.T) {
	env := newTestEnv(t, true)
	h := NewIdentitiesHandler(env.svc, testLogger())
	id := strconv.FormatInt(env.alice.ID, 10)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/identities/"+id, strings.NewReader(`{"active":false}`))
	h.Update(rec, requestWithChiParams(req, map[string]string{"id": id}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}

	out, err := env.svc.Recognize(context.Background(), nil, "", nil)
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if out.Success && out.Identity.ID == env.alice.ID {
		t.Error("deactivated identity was still matched")
	}
}

func TestIdentitiesHandler_Delete(t *testing.T) {
	env := newTestEnv(t, true)
	h := NewIdentitiesHandler(env.svc, testLogger())
	id := strconv.FormatInt(env.alice.ID, 10)

	rec := httptest.NewRecorder()
	h.Delete(rec, requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/", nil), map[string]string{"id": id}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	var out struct {
		Deleted int64   `json:"deleted"`
		FaceIDs []int64 `json:"face_ids"`
	}
	decodeJSON(t, rec, &out)
	if out.Deleted != env.alice.ID || len(out.FaceIDs) != 2 {
		t.Errorf("unexpected response: %+v", out)
	}

	gallery, _ := env.store.LoadGallery(context.Background(), facematch.KindAccurate)
	if len(gallery) != 1 || gallery[0].IdentityID != env.bob.ID {
		t.Errorf("deleted identity's faces should leave the gallery, got %+v", gallery)
	}

	rec = httptest.NewRecorder()
	h.Delete(rec, requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/", nil), map[string]string{"id": id}))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestIdentitiesHandler_DeleteGroup(t *testing.T) {
	env := newTestEnv(t, false)
	h := NewIdentitiesHandler(env.svc, testLogger())
	group, _ := env.store.CreateGroup(context.Background(), "3.A")
	gid := strconv.FormatInt(group.ID, 10)

	tests := []struct {
		name string
		id   string
		want int
	}{
		{"existing", gid, http.StatusNoContent},
		{"already deleted", gid, http.StatusNotFound},
		{"invalid id", "0", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.DeleteGroup(rec, requestWithChiParams(httptest.NewRequest(http.MethodDelete, "/", nil), map[string]string{"id": tt.id}))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
