package database

import (
	"context"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// GalleryReader provides read-only access to enrolled face embeddings
type GalleryReader interface {
	// LoadGallery returns a fresh snapshot of every entry of the given kind,
	// ordered by entry ID. Rows are returned still encoded.
	LoadGallery(ctx context.Context, kind facematch.Kind) ([]facematch.GalleryEntry, error)
	// CountFaces returns per-identity face counts
	CountFaces(ctx context.Context) ([]FaceCount, error)
}

// GalleryWriter provides write access to enrolled face embeddings
type GalleryWriter interface {
	GalleryReader

	// SaveFace stores one encoded gallery row and returns its ID
	SaveFace(ctx context.Context, face StoredFace) (int64, error)
	// DeleteFaces removes every face of an identity and returns the deleted IDs
	DeleteFaces(ctx context.Context, identityID int64) ([]int64, error)
}

// NearestFinder is implemented by stores that can search vectors natively
type NearestFinder interface {
	// FindNearest returns up to k float32 gallery rows of kind ordered by cosine distance
	FindNearest(ctx context.Context, kind facematch.Kind, embedding []float32, k int) ([]Neighbor, error)
}

// IdentityReader provides read-only access to identities and groups
type IdentityReader interface {
	// GetIdentity returns ErrNotFound when the identity does not exist
	GetIdentity(ctx context.Context, id int64) (*Identity, error)
	ListIdentities(ctx context.Context) ([]Identity, error)
	ListGroups(ctx context.Context) ([]Group, error)
}

// IdentityWriter provides write access to identities and groups
type IdentityWriter interface {
	IdentityReader

	CreateIdentity(ctx context.Context, name string, groupID *int64) (*Identity, error)
	// UpdateIdentity replaces the name, group and active flag of an identity.
	// Inactive identities stay stored but leave the gallery.
	UpdateIdentity(ctx context.Context, id int64, name string, groupID *int64, active bool) (*Identity, error)
	// DeleteIdentity removes an identity with its faces and attendance and
	// returns the deleted face IDs
	DeleteIdentity(ctx context.Context, id int64) ([]int64, error)
	CreateGroup(ctx context.Context, name string) (*Group, error)
	// DeleteGroup removes a group; its identities and records keep no group
	DeleteGroup(ctx context.Context, id int64) error
}

// AttendanceReader provides read-only access to attendance records
type AttendanceReader interface {
	// GetAttendance returns ErrNotFound when the record does not exist
	GetAttendance(ctx context.Context, id int64) (*AttendanceRecord, error)
	// ListAttendance returns records newest first
	ListAttendance(ctx context.Context, filter AttendanceFilter) ([]AttendanceRecord, error)
}

// AttendanceWriter provides write access to attendance records
type AttendanceWriter interface {
	AttendanceReader

	// RecordAttendance inserts rec and fills in its ID and RecordedAt
	RecordAttendance(ctx context.Context, rec *AttendanceRecord) error
	// ReviewAttendance marks a record reviewed and returns the updated record
	ReviewAttendance(ctx context.Context, id int64, review Review) (*AttendanceRecord, error)
}

// Store is the full persistence contract of the attendance service.
type Store interface {
	GalleryWriter
	IdentityWriter
	AttendanceWriter
	Close() error
}
