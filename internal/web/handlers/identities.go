package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// IdentitiesHandler handles identity, group and enrollment endpoints.
type IdentitiesHandler struct {
	svc *attendance.Service
	log logrus.FieldLogger
}

// NewIdentitiesHandler creates a new identities handler.
func NewIdentitiesHandler(svc *attendance.Service, log logrus.FieldLogger) *IdentitiesHandler {
	return &IdentitiesHandler{svc: svc, log: log}
}

// IdentityResponse is an identity with its enrolled face counts.
type IdentityResponse struct {
	database.Identity
	FastFaces     int `json:"fast_faces"`
	AccurateFaces int `json:"accurate_faces"`
}

// List handles GET /api/v1/identities.
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	store := h.svc.Store()
	idents, err := store.ListIdentities(r.Context())
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	counts, err := store.CountFaces(r.Context())
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}

	byID := make(map[int64]database.FaceCount, len(counts))
	for _, c := range counts {
		byID[c.IdentityID] = c
	}

	out := make([]IdentityResponse, 0, len(idents))
	for _, ident := range idents {
		c := byID[ident.ID]
		out = append(out, IdentityResponse{Identity: ident, FastFaces: c.Fast, AccurateFaces: c.Accurate})
	}
	respondJSON(w, http.StatusOK, out)
}

// Get handles GET /api/v1/identities/{id}.
func (h *IdentitiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ident, err := h.svc.Store().GetIdentity(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, ident)
}

// CreateIdentityRequest is the body of POST /api/v1/identities. Group names
// are created on demand; GroupID takes precedence when both are set.
type CreateIdentityRequest struct {
	Name    string `json:"name"`
	GroupID *int64 `json:"group_id,omitempty"`
	Group   string `json:"group,omitempty"`
}

// Create handles POST /api/v1/identities.
func (h *IdentitiesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	store := h.svc.Store()
	groupID := req.GroupID
	if groupID == nil && strings.TrimSpace(req.Group) != "" {
		g, err := store.CreateGroup(r.Context(), strings.TrimSpace(req.Group))
		if err != nil {
			respondServiceError(w, h.log, err)
			return
		}
		groupID = &g.ID
	}

	ident, err := store.CreateIdentity(r.Context(), req.Name, groupID)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	h.log.WithField("identity_id", ident.ID).Info("Created identity")
	respondJSON(w, http.StatusCreated, ident)
}

// Update handles PUT /api/v1/identities/{id}. Omitted fields keep their
// value; "active": false removes the identity from recognition.
func (h *IdentitiesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var upd attendance.IdentityUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			respondError(w, http.StatusBadRequest, "name must not be empty")
			return
		}
		upd.Name = &name
	}
	if upd.ClearGroup && upd.GroupID != nil {
		respondError(w, http.StatusBadRequest, "group_id and clear_group are exclusive")
		return
	}

	ident, err := h.svc.UpdateIdentity(r.Context(), id, upd)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, ident)
}

// Delete handles DELETE /api/v1/identities/{id}, removing the identity with
// its faces and attendance.
func (h *IdentitiesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ids, err := h.svc.DeleteIdentity(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": id, "face_ids": ids})
}

// AddFace handles POST /api/v1/identities/{id}/faces with a multipart "file".
func (h *IdentitiesHandler) AddFace(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	image, filename, ok := readImage(w, r, constants.MaxUploadSize)
	if !ok {
		return
	}

	res, err := h.svc.Enroll(r.Context(), id, image, filename)
	if errors.Is(err, facematch.ErrNoFaceDetected) {
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  err.Error(),
			"result": res,
		})
		return
	}
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

// DeleteFaces handles DELETE /api/v1/identities/{id}/faces.
func (h *IdentitiesHandler) DeleteFaces(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ids, err := h.svc.RemoveFaces(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"deleted": len(ids), "face_ids": ids})
}

// ListGroups handles GET /api/v1/groups.
func (h *IdentitiesHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.svc.Store().ListGroups(r.Context())
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	if groups == nil {
		groups = []database.Group{}
	}
	respondJSON(w, http.StatusOK, groups)
}

// CreateGroup handles POST /api/v1/groups.
func (h *IdentitiesHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	g, err := h.svc.Store().CreateGroup(r.Context(), strings.TrimSpace(req.Name))
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, g)
}

// DeleteGroup handles DELETE /api/v1/groups/{id}.
func (h *IdentitiesHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.svc.DeleteGroup(r.Context(), id); err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
