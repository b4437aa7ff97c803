package handlers

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/hybrid"
)

// RecognizeHandler handles attendance recognition.
type RecognizeHandler struct {
	svc *attendance.Service
	log logrus.FieldLogger
}

// NewRecognizeHandler creates a new recognize handler.
func NewRecognizeHandler(svc *attendance.Service, log logrus.FieldLogger) *RecognizeHandler {
	return &RecognizeHandler{svc: svc, log: log}
}

// Recognize handles POST /api/v1/recognize?mode=&group_id= with a multipart "file".
// Unrecognized probes answer 200 with success=false and the decision.
func (h *RecognizeHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	// an empty mode leaves the configured default to the arbitrator
	var mode hybrid.Mode
	if raw := r.URL.Query().Get("mode"); raw != "" {
		var err error
		if mode, err = hybrid.ParseMode(raw); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	groupID, err := parseOptionalID(r, "group_id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	image, filename, ok := readImage(w, r, constants.MaxUploadSize)
	if !ok {
		return
	}

	out, err := h.svc.Recognize(r.Context(), image, mode, groupID)
	if err != nil {
		h.log.WithField("file", sanitizeForLog(filename)).WithError(err).Error("Recognition failed")
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// TestModes handles POST /api/v1/recognize/test, running every mode without
// recording attendance.
func (h *RecognizeHandler) TestModes(w http.ResponseWriter, r *http.Request) {
	image, _, ok := readImage(w, r, constants.MaxUploadSize)
	if !ok {
		return
	}

	test, err := h.svc.TestModes(r.Context(), image)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, test)
}
