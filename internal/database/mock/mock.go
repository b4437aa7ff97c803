// Package mock provides an in-memory implementation of the database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// Store is an in-memory database.Store. Its *Error fields are returned by the
// matching methods when set.
type Store struct {
	mu         sync.RWMutex
	nextID     int64
	groups     map[int64]*database.Group
	identities map[int64]*database.Identity
	faces      map[int64]*database.StoredFace
	attendance map[int64]*database.AttendanceRecord
	closed     bool

	// Error injection
	LoadGalleryError      error
	CountFacesError       error
	SaveFaceError         error
	DeleteFacesError      error
	FindNearestError      error
	GetIdentityError      error
	ListIdentitiesError   error
	CreateIdentityError   error
	UpdateIdentityError   error
	DeleteIdentityError   error
	ListGroupsError       error
	CreateGroupError      error
	DeleteGroupError      error
	RecordAttendanceError error
	GetAttendanceError    error
	ListAttendanceError   error
	ReviewAttendanceError error
}

var (
	_ database.Store         = (*Store)(nil)
	_ database.NearestFinder = (*Store)(nil)
)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		groups:     make(map[int64]*database.Group),
		identities: make(map[int64]*database.Identity),
		faces:      make(map[int64]*database.StoredFace),
		attendance: make(map[int64]*database.AttendanceRecord),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// AddFace inserts a gallery row directly, bypassing error injection.
func (s *Store) AddFace(face database.StoredFace) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if face.ID == 0 {
		face.ID = s.id()
	} else if face.ID > s.nextID {
		s.nextID = face.ID
	}
	if face.CreatedAt.IsZero() {
		face.CreatedAt = time.Now()
	}
	s.faces[face.ID] = &face
	return face.ID
}

// SetActive toggles whether an identity takes part in recognition.
func (s *Store) SetActive(identityID int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ident, ok := s.identities[identityID]; ok {
		ident.Active = active
	}
}

// Closed reports whether Close has been called.
func (s *Store) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close marks the store closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// LoadGallery returns the faces of kind belonging to active identities, ordered by ID.
func (s *Store) LoadGallery(ctx context.Context, kind facematch.Kind) ([]facematch.GalleryEntry, error) {
	if s.LoadGalleryError != nil {
		return nil, s.LoadGalleryError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []facematch.GalleryEntry
	for _, f := range s.faces {
		if f.Kind != kind || !s.activeLocked(f.IdentityID) {
			continue
		}
		entries = append(entries, f.Entry())
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].EntryID < entries[j].EntryID })
	return entries, nil
}

func (s *Store) activeLocked(identityID int64) bool {
	ident, ok := s.identities[identityID]
	return ok && ident.Active
}

// CountFaces returns per-identity face counts ordered by identity ID.
func (s *Store) CountFaces(ctx context.Context) ([]database.FaceCount, error) {
	if s.CountFacesError != nil {
		return nil, s.CountFacesError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := make(map[int64]*database.FaceCount)
	for _, f := range s.faces {
		c, ok := byID[f.IdentityID]
		if !ok {
			c = &database.FaceCount{IdentityID: f.IdentityID}
			byID[f.IdentityID] = c
		}
		switch f.Kind {
		case facematch.KindFast:
			c.Fast++
		case facematch.KindAccurate:
			c.Accurate++
		}
	}

	counts := make([]database.FaceCount, 0, len(byID))
	for _, c := range byID {
		counts = append(counts, *c)
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].IdentityID < counts[j].IdentityID })
	return counts, nil
}

// SaveFace stores one gallery row.
func (s *Store) SaveFace(ctx context.Context, face database.StoredFace) (int64, error) {
	if s.SaveFaceError != nil {
		return 0, s.SaveFaceError
	}
	s.mu.RLock()
	_, ok := s.identities[face.IdentityID]
	s.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("identity %d: %w", face.IdentityID, database.ErrNotFound)
	}
	face.ID = 0
	return s.AddFace(face), nil
}

// DeleteFaces removes every face of an identity.
func (s *Store) DeleteFaces(ctx context.Context, identityID int64) ([]int64, error) {
	if s.DeleteFacesError != nil {
		return nil, s.DeleteFacesError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for id, f := range s.faces {
		if f.IdentityID == identityID {
			ids = append(ids, id)
			delete(s.faces, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// FindNearest does an exact cosine scan over float32le rows with matching dimensionality.
func (s *Store) FindNearest(ctx context.Context, kind facematch.Kind, embedding []float32, k int) ([]database.Neighbor, error) {
	if s.FindNearestError != nil {
		return nil, s.FindNearestError
	}
	if k <= 0 {
		return nil, nil
	}

	entries, err := s.LoadGallery(ctx, kind)
	if err != nil {
		return nil, err
	}

	var out []database.Neighbor
	for _, e := range entries {
		if e.Encoding != facematch.EncodingFloat32LE {
			continue
		}
		values, err := facematch.DecodeEmbedding(e.Raw, e.Encoding)
		if err != nil || len(values) != len(embedding) {
			continue
		}
		d, err := facematch.Distance(embedding, values, facematch.MetricCosine)
		if err != nil {
			continue
		}
		out = append(out, database.Neighbor{EntryID: e.EntryID, IdentityID: e.IdentityID, Distance: d})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].EntryID < out[j].EntryID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// GetIdentity retrieves an identity by ID.
func (s *Store) GetIdentity(ctx context.Context, id int64) (*database.Identity, error) {
	if s.GetIdentityError != nil {
		return nil, s.GetIdentityError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ident, ok := s.identities[id]
	if !ok {
		return nil, fmt.Errorf("identity %d: %w", id, database.ErrNotFound)
	}
	cp := *ident
	return &cp, nil
}

// ListIdentities returns all identities ordered by name.
func (s *Store) ListIdentities(ctx context.Context) ([]database.Identity, error) {
	if s.ListIdentitiesError != nil {
		return nil, s.ListIdentitiesError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]database.Identity, 0, len(s.identities))
	for _, ident := range s.identities {
		out = append(out, *ident)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// CreateIdentity inserts a new active identity.
func (s *Store) CreateIdentity(ctx context.Context, name string, groupID *int64) (*database.Identity, error) {
	if s.CreateIdentityError != nil {
		return nil, s.CreateIdentityError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if groupID != nil {
		if _, ok := s.groups[*groupID]; !ok {
			return nil, fmt.Errorf("group %d: %w", *groupID, database.ErrNotFound)
		}
	}
	ident := &database.Identity{ID: s.id(), Name: name, GroupID: groupID, Active: true, CreatedAt: time.Now()}
	s.identities[ident.ID] = ident
	cp := *ident
	return &cp, nil
}

// UpdateIdentity replaces the mutable fields of an identity.
func (s *Store) UpdateIdentity(ctx context.Context, id int64, name string, groupID *int64, active bool) (*database.Identity, error) {
	if s.UpdateIdentityError != nil {
		return nil, s.UpdateIdentityError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ident, ok := s.identities[id]
	if !ok {
		return nil, fmt.Errorf("identity %d: %w", id, database.ErrNotFound)
	}
	if groupID != nil {
		if _, ok := s.groups[*groupID]; !ok {
			return nil, fmt.Errorf("group %d: %w", *groupID, database.ErrNotFound)
		}
	}
	ident.Name = name
	ident.GroupID = groupID
	ident.Active = active
	cp := *ident
	return &cp, nil
}

// DeleteIdentity removes an identity, its faces and its attendance records.
func (s *Store) DeleteIdentity(ctx context.Context, id int64) ([]int64, error) {
	if s.DeleteIdentityError != nil {
		return nil, s.DeleteIdentityError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.identities[id]; !ok {
		return nil, fmt.Errorf("identity %d: %w", id, database.ErrNotFound)
	}
	var ids []int64
	for faceID, f := range s.faces {
		if f.IdentityID == id {
			ids = append(ids, faceID)
			delete(s.faces, faceID)
		}
	}
	for recID, rec := range s.attendance {
		if rec.IdentityID == id {
			delete(s.attendance, recID)
		}
	}
	delete(s.identities, id)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ListGroups returns all groups ordered by name.
func (s *Store) ListGroups(ctx context.Context) ([]database.Group, error) {
	if s.ListGroupsError != nil {
		return nil, s.ListGroupsError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]database.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateGroup inserts a group, returning the existing one if the name is taken.
func (s *Store) CreateGroup(ctx context.Context, name string) (*database.Group, error) {
	if s.CreateGroupError != nil {
		return nil, s.CreateGroupError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range s.groups {
		if g.Name == name {
			cp := *g
			return &cp, nil
		}
	}
	g := &database.Group{ID: s.id(), Name: name, CreatedAt: time.Now()}
	s.groups[g.ID] = g
	cp := *g
	return &cp, nil
}

// DeleteGroup removes a group and clears it from identities and records.
func (s *Store) DeleteGroup(ctx context.Context, id int64) error {
	if s.DeleteGroupError != nil {
		return s.DeleteGroupError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[id]; !ok {
		return fmt.Errorf("group %d: %w", id, database.ErrNotFound)
	}
	delete(s.groups, id)
	for _, ident := range s.identities {
		if ident.GroupID != nil && *ident.GroupID == id {
			ident.GroupID = nil
		}
	}
	for _, rec := range s.attendance {
		if rec.GroupID != nil && *rec.GroupID == id {
			rec.GroupID = nil
		}
	}
	return nil
}

// RecordAttendance stores rec and fills in ID and RecordedAt.
func (s *Store) RecordAttendance(ctx context.Context, rec *database.AttendanceRecord) error {
	if s.RecordAttendanceError != nil {
		return s.RecordAttendanceError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = s.id()
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	cp := *rec
	s.attendance[rec.ID] = &cp
	return nil
}

// GetAttendance retrieves an attendance record by ID.
func (s *Store) GetAttendance(ctx context.Context, id int64) (*database.AttendanceRecord, error) {
	if s.GetAttendanceError != nil {
		return nil, s.GetAttendanceError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.attendance[id]
	if !ok {
		return nil, fmt.Errorf("attendance %d: %w", id, database.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

// ListAttendance returns records matching filter, newest first.
func (s *Store) ListAttendance(ctx context.Context, filter database.AttendanceFilter) ([]database.AttendanceRecord, error) {
	if s.ListAttendanceError != nil {
		return nil, s.ListAttendanceError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []database.AttendanceRecord
	for _, rec := range s.attendance {
		if !matchesFilter(rec, filter) {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].RecordedAt.After(out[j].RecordedAt)
		}
		return out[i].ID > out[j].ID
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = database.DefaultAttendanceLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matchesFilter(rec *database.AttendanceRecord, f database.AttendanceFilter) bool {
	if f.IdentityID != nil && rec.IdentityID != *f.IdentityID {
		return false
	}
	if f.GroupID != nil && (rec.GroupID == nil || *rec.GroupID != *f.GroupID) {
		return false
	}
	if !f.Since.IsZero() && rec.RecordedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !rec.RecordedAt.Before(f.Until) {
		return false
	}
	if f.Reviewed != nil && rec.Reviewed != *f.Reviewed {
		return false
	}
	return true
}

// ReviewAttendance marks a record reviewed.
func (s *Store) ReviewAttendance(ctx context.Context, id int64, review database.Review) (*database.AttendanceRecord, error) {
	if s.ReviewAttendanceError != nil {
		return nil, s.ReviewAttendanceError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.attendance[id]
	if !ok {
		return nil, fmt.Errorf("attendance %d: %w", id, database.ErrNotFound)
	}
	now := time.Now()
	rec.Reviewed = true
	rec.ReviewedAt = &now
	rec.ReviewedBy = review.ReviewedBy
	rec.Note = review.Note
	cp := *rec
	return &cp, nil
}
