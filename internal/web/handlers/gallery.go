package handlers

import (
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// GalleryHandler handles gallery diagnostics.
type GalleryHandler struct {
	svc *attendance.Service
	log logrus.FieldLogger
}

// NewGalleryHandler creates a new gallery handler.
func NewGalleryHandler(svc *attendance.Service, log logrus.FieldLogger) *GalleryHandler {
	return &GalleryHandler{svc: svc, log: log}
}

// Nearest handles POST /api/v1/gallery/nearest?k=&kind= with a multipart "file".
func (h *GalleryHandler) Nearest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	k := constants.DefaultNearestLimit
	if raw := q.Get("k"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > constants.MaxNearestLimit {
			respondError(w, http.StatusBadRequest, "k must be between 1 and "+strconv.Itoa(constants.MaxNearestLimit))
			return
		}
		k = v
	}

	kind := facematch.KindAccurate
	if raw := q.Get("kind"); raw != "" {
		parsed, err := facematch.ParseKind(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		kind = parsed
	}

	image, _, ok := readImage(w, r, constants.MaxUploadSize)
	if !ok {
		return
	}

	res, err := h.svc.Nearest(r.Context(), image, kind, k)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
