package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
)

// AttendanceHandler handles attendance listing and review.
type AttendanceHandler struct {
	svc *attendance.Service
	log logrus.FieldLogger
}

// NewAttendanceHandler creates a new attendance handler.
func NewAttendanceHandler(svc *attendance.Service, log logrus.FieldLogger) *AttendanceHandler {
	return &AttendanceHandler{svc: svc, log: log}
}

// parseAttendanceFilter reads identity_id, group_id, since, until (RFC 3339),
// reviewed and limit from the query string.
func parseAttendanceFilter(r *http.Request) (database.AttendanceFilter, error) {
	var f database.AttendanceFilter
	var err error
	q := r.URL.Query()

	if f.IdentityID, err = parseOptionalID(r, "identity_id"); err != nil {
		return f, err
	}
	if f.GroupID, err = parseOptionalID(r, "group_id"); err != nil {
		return f, err
	}
	for name, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, fmt.Errorf("invalid %s %q: expected RFC 3339", name, raw)
		}
		*dst = t
	}
	if raw := q.Get("reviewed"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return f, fmt.Errorf("invalid reviewed %q", raw)
		}
		f.Reviewed = &b
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return f, fmt.Errorf("invalid limit %q", raw)
		}
		f.Limit = n
	}
	return f, nil
}

// List handles GET /api/v1/attendance.
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAttendanceFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := h.svc.List(r.Context(), filter)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	if records == nil {
		records = []database.AttendanceRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

// Get handles GET /api/v1/attendance/{id}.
func (h *AttendanceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.svc.Store().GetAttendance(r.Context(), id)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// Review handles POST /api/v1/attendance/{id}/review.
func (h *AttendanceHandler) Review(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var review database.Review
	if err := json.NewDecoder(r.Body).Decode(&review); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	review.ReviewedBy = strings.TrimSpace(review.ReviewedBy)
	if review.ReviewedBy == "" {
		respondError(w, http.StatusBadRequest, "reviewed_by is required")
		return
	}

	rec, err := h.svc.Review(r.Context(), id, review)
	if err != nil {
		respondServiceError(w, h.log, err)
		return
	}
	h.log.WithFields(logrus.Fields{
		"attendance_id": id,
		"reviewed_by":   sanitizeForLog(review.ReviewedBy),
	}).Info("Attendance reviewed")
	respondJSON(w, http.StatusOK, rec)
}
