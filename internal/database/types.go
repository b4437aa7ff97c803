package database

import (
	"errors"
	"time"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// Group is a class or team identities belong to.
type Group struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity is an enrolled person (a student).
type Identity struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	GroupID   *int64    `json:"group_id,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// StoredFace is a gallery row together with its bookkeeping columns.
type StoredFace struct {
	ID          int64
	IdentityID  int64
	Kind        facematch.Kind
	Encoding    facematch.Encoding
	Raw         []byte
	Model       string
	Dim         int
	SourceLabel string
	CreatedAt   time.Time
}

// Entry converts the row into the matcher's gallery entry.
func (f StoredFace) Entry() facematch.GalleryEntry {
	return facematch.GalleryEntry{
		EntryID:     f.ID,
		IdentityID:  f.IdentityID,
		Kind:        f.Kind,
		Encoding:    f.Encoding,
		Raw:         f.Raw,
		SourceLabel: f.SourceLabel,
	}
}

// FaceCount is the number of stored faces per extractor kind for one identity.
type FaceCount struct {
	IdentityID int64 `json:"identity_id"`
	Fast       int   `json:"fast"`
	Accurate   int   `json:"accurate"`
}

// AttendanceRecord is one accepted recognition.
type AttendanceRecord struct {
	ID         int64      `json:"id"`
	IdentityID int64      `json:"identity_id"`
	GroupID    *int64     `json:"group_id,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
	Confidence float64    `json:"confidence"`
	Method     string     `json:"method"`
	Mode       string     `json:"mode"`
	Reviewed   bool       `json:"reviewed"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	ReviewedBy string     `json:"reviewed_by,omitempty"`
	Note       string     `json:"note,omitempty"`
}

// AttendanceFilter narrows attendance listings. Zero values match everything.
type AttendanceFilter struct {
	IdentityID *int64
	GroupID    *int64
	Since      time.Time
	Until      time.Time
	Reviewed   *bool
	Limit      int
}

// Review marks an attendance record as checked by a person.
type Review struct {
	ReviewedBy string `json:"reviewed_by"`
	Note       string `json:"note"`
}

// Neighbor is one nearest gallery row for a probe embedding.
type Neighbor struct {
	EntryID    int64   `json:"entry_id"`
	IdentityID int64   `json:"identity_id"`
	Distance   float64 `json:"distance"`
}
