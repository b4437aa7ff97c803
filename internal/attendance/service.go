// Package attendance ties recognition to the store: it loads the gallery,
// asks the hybrid arbitrator for a decision and records accepted identities.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/hybrid"
	"github.com/kozaktomas/face-attendance/internal/mqtt"
)

// ErrEmptyGallery is returned when no faces are enrolled.
var ErrEmptyGallery = errors.New("gallery is empty")

// Options configures optional collaborators of a Service.
type Options struct {
	Publisher        mqtt.Publisher
	Logger           logrus.FieldLogger
	StatisticsWindow int
	// Indexes holds optional ANN indexes per kind used by Nearest.
	Indexes map[facematch.Kind]*database.HNSWIndex
}

// Service records attendance from probe images.
type Service struct {
	store     database.Store
	arb       *hybrid.Arbitrator
	publisher mqtt.Publisher
	log       logrus.FieldLogger
	indexes   map[facematch.Kind]*database.HNSWIndex

	mu     sync.Mutex
	recent []hybrid.Decision
	window int
}

// NewService creates a service over store and arbitrator.
func NewService(store database.Store, arb *hybrid.Arbitrator, opts Options) *Service {
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	pub := opts.Publisher
	if pub == nil {
		pub = mqtt.Noop{}
	}
	window := opts.StatisticsWindow
	if window <= 0 {
		window = constants.DefaultStatisticsWindow
	}
	return &Service{
		store:     store,
		arb:       arb,
		publisher: pub,
		log:       log,
		indexes:   opts.Indexes,
		window:    window,
	}
}

// Store returns the underlying store.
func (s *Service) Store() database.Store {
	return s.store
}

// Arbitrator returns the hybrid arbitrator.
func (s *Service) Arbitrator() *hybrid.Arbitrator {
	return s.arb
}

// Outcome is the result of one attendance attempt.
type Outcome struct {
	Success    bool                       `json:"success"`
	Message    string                     `json:"message"`
	Identity   *database.Identity         `json:"identity,omitempty"`
	Attendance *database.AttendanceRecord `json:"attendance,omitempty"`
	Decision   hybrid.Decision            `json:"decision"`
}

// loadGallery reads a fresh snapshot of both kinds.
func (s *Service) loadGallery(ctx context.Context) ([]facematch.GalleryEntry, error) {
	fast, err := s.store.LoadGallery(ctx, facematch.KindFast)
	if err != nil {
		return nil, fmt.Errorf("load fast gallery: %w", err)
	}
	accurate, err := s.store.LoadGallery(ctx, facematch.KindAccurate)
	if err != nil {
		return nil, fmt.Errorf("load accurate gallery: %w", err)
	}
	return append(fast, accurate...), nil
}

// Recognize decides who is on image and records attendance for an accepted
// identity. Store failures are returned as errors; everything else is
// reported through the outcome.
func (s *Service) Recognize(ctx context.Context, image []byte, mode hybrid.Mode, groupID *int64) (Outcome, error) {
	if mode == "" {
		mode = s.arb.Config().Mode
	}
	gallery, err := s.loadGallery(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if len(gallery) == 0 {
		return Outcome{Message: ErrEmptyGallery.Error(), Decision: hybrid.Decision{Mode: mode}}, nil
	}

	d := s.arb.Recognize(ctx, image, gallery, mode)
	s.remember(d)

	out := Outcome{Decision: d}
	id, ok := d.Identity()
	if !ok {
		out.Message = failureMessage(d)
		return out, nil
	}

	ident, err := s.store.GetIdentity(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		out.Message = fmt.Sprintf("identity %d is no longer enrolled", id)
		return out, nil
	}
	if err != nil {
		return out, err
	}
	out.Identity = ident

	rec := &database.AttendanceRecord{
		IdentityID: id,
		GroupID:    groupID,
		Confidence: d.Confidence,
		Method:     string(d.Method),
		Mode:       string(d.Mode),
	}
	if rec.GroupID == nil {
		rec.GroupID = ident.GroupID
	}
	if err := s.store.RecordAttendance(ctx, rec); err != nil {
		return out, fmt.Errorf("record attendance: %w", err)
	}
	out.Attendance = rec
	out.Success = true
	out.Message = fmt.Sprintf("attendance recorded for %s", ident.Name)

	log := s.log.WithFields(logrus.Fields{
		"identity_id": id,
		"method":      d.Method,
		"confidence":  fmt.Sprintf("%.1f", d.Confidence),
	})
	log.Info("Attendance recorded")

	ev := mqtt.Event{
		Type:         mqtt.EventAttendance,
		AttendanceID: rec.ID,
		IdentityID:   id,
		IdentityName: ident.Name,
		GroupID:      rec.GroupID,
		Confidence:   rec.Confidence,
		Method:       rec.Method,
		Mode:         rec.Mode,
		RecordedAt:   rec.RecordedAt,
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		log.WithError(err).Warn("Failed to publish attendance event")
	}
	return out, nil
}

func failureMessage(d hybrid.Decision) string {
	switch d.Method {
	case hybrid.MethodNoFace:
		return "no face detected"
	case hybrid.MethodError:
		return "recognition failed: " + d.Error
	case hybrid.MethodBothUncertain:
		// fast matched weakly and accurate found nobody
		return "low confidence, no identity confirmed"
	default:
		return "no matching identity"
	}
}

// ModeResult is one mode's decision with the accepted identity's name.
type ModeResult struct {
	hybrid.Decision
	IdentityName string `json:"identity_name,omitempty"`
}

// ModeTest compares all modes on one probe.
type ModeTest struct {
	Results        map[hybrid.Mode]ModeResult `json:"results"`
	Recommendation string                     `json:"recommendation"`
}

// TestModes runs every mode on image concurrently without recording attendance.
func (s *Service) TestModes(ctx context.Context, image []byte) (ModeTest, error) {
	gallery, err := s.loadGallery(ctx)
	if err != nil {
		return ModeTest{}, err
	}
	if len(gallery) == 0 {
		return ModeTest{}, ErrEmptyGallery
	}

	decisions := make([]hybrid.Decision, len(hybrid.Modes))
	g, gctx := errgroup.WithContext(ctx)
	for i, mode := range hybrid.Modes {
		g.Go(func() error {
			decisions[i] = s.arb.Recognize(gctx, image, gallery, mode)
			return nil
		})
	}
	_ = g.Wait()

	names, err := s.identityNames(ctx)
	if err != nil {
		return ModeTest{}, err
	}

	test := ModeTest{Results: make(map[hybrid.Mode]ModeResult, len(decisions))}
	byMode := make(map[hybrid.Mode]hybrid.Decision, len(decisions))
	for _, d := range decisions {
		r := ModeResult{Decision: d}
		if id, ok := d.Identity(); ok {
			r.IdentityName = names[id]
		}
		test.Results[d.Mode] = r
		byMode[d.Mode] = d
	}
	test.Recommendation = hybrid.Recommend(byMode)
	return test, nil
}

func (s *Service) identityNames(ctx context.Context) (map[int64]string, error) {
	idents, err := s.store.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(idents))
	for _, ident := range idents {
		names[ident.ID] = ident.Name
	}
	return names, nil
}

// EnrollResult reports which kinds of embedding were stored for a photo.
type EnrollResult struct {
	IdentityID int64                    `json:"identity_id"`
	Stored     map[facematch.Kind]int64 `json:"stored"`
	NoFace     []facematch.Kind         `json:"no_face,omitempty"`
}

// Enroll extracts image with both recognizers and stores one gallery row per
// kind. A kind whose extractor finds no face is reported in NoFace; if
// neither finds a face ErrNoFaceDetected is returned.
func (s *Service) Enroll(ctx context.Context, identityID int64, image []byte, label string) (EnrollResult, error) {
	res := EnrollResult{IdentityID: identityID, Stored: make(map[facematch.Kind]int64)}
	if _, err := s.store.GetIdentity(ctx, identityID); err != nil {
		return res, err
	}

	for _, rec := range []hybrid.Recognizer{s.arb.Fast(), s.arb.Accurate()} {
		kind := rec.Kind()
		emb, err := rec.Extractor.Extract(ctx, image)
		if errors.Is(err, facematch.ErrNoFaceDetected) {
			res.NoFace = append(res.NoFace, kind)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("extract %s embedding: %w", kind, err)
		}
		emb.Kind = kind

		entry, err := facematch.NewGalleryEntry(identityID, emb, label)
		if err != nil {
			return res, err
		}
		face := database.StoredFace{
			IdentityID:  identityID,
			Kind:        kind,
			Encoding:    entry.Encoding,
			Raw:         entry.Raw,
			Model:       rec.Matcher.Profile().Model,
			Dim:         emb.Dim(),
			SourceLabel: label,
		}
		id, err := s.store.SaveFace(ctx, face)
		if err != nil {
			return res, fmt.Errorf("save %s face: %w", kind, err)
		}
		res.Stored[kind] = id

		if idx := s.indexes[kind]; idx != nil {
			entry.EntryID = id
			if err := idx.Add(entry); err != nil {
				s.log.WithError(err).WithField("entry_id", id).Warn("Failed to add face to index")
			}
		}
	}

	if len(res.Stored) == 0 {
		return res, facematch.ErrNoFaceDetected
	}
	s.log.WithFields(logrus.Fields{
		"identity_id": identityID,
		"kinds":       len(res.Stored),
	}).Info("Enrolled face")
	return res, nil
}

// RemoveFaces deletes every enrolled face of an identity.
func (s *Service) RemoveFaces(ctx context.Context, identityID int64) ([]int64, error) {
	ids, err := s.store.DeleteFaces(ctx, identityID)
	if err != nil {
		return nil, err
	}
	for _, idx := range s.indexes {
		for _, id := range ids {
			idx.Delete(id)
		}
	}
	return ids, nil
}

// IdentityUpdate holds the fields to change on an identity. Nil fields keep
// their current value; ClearGroup removes the group.
type IdentityUpdate struct {
	Name       *string `json:"name,omitempty"`
	GroupID    *int64  `json:"group_id,omitempty"`
	ClearGroup bool    `json:"clear_group,omitempty"`
	Active     *bool   `json:"active,omitempty"`
}

// UpdateIdentity applies upd to an identity. Deactivating an identity drops
// its faces from the indexes and reactivating it adds them back.
func (s *Service) UpdateIdentity(ctx context.Context, id int64, upd IdentityUpdate) (*database.Identity, error) {
	current, err := s.store.GetIdentity(ctx, id)
	if err != nil {
		return nil, err
	}

	name := current.Name
	if upd.Name != nil {
		name = *upd.Name
	}
	groupID := current.GroupID
	switch {
	case upd.ClearGroup:
		groupID = nil
	case upd.GroupID != nil:
		groupID = upd.GroupID
	}
	active := current.Active
	if upd.Active != nil {
		active = *upd.Active
	}

	updated, err := s.store.UpdateIdentity(ctx, id, name, groupID, active)
	if err != nil {
		return nil, err
	}

	log := s.log.WithField("identity_id", id)
	switch {
	case current.Active && !updated.Active:
		removed := 0
		for _, idx := range s.indexes {
			removed += idx.RemoveIdentity(id)
		}
		log.WithField("index_entries", removed).Info("Deactivated identity")
	case !current.Active && updated.Active:
		s.restoreIndexed(ctx, id)
		log.Info("Reactivated identity")
	}
	return updated, nil
}

// restoreIndexed adds the stored faces of an identity back to every index.
// Failures leave the index short and are only logged.
func (s *Service) restoreIndexed(ctx context.Context, identityID int64) {
	for kind, idx := range s.indexes {
		entries, err := s.store.LoadGallery(ctx, kind)
		if err != nil {
			s.log.WithError(err).WithField("kind", kind).Warn("Failed to reload gallery for index")
			continue
		}
		for _, e := range entries {
			if e.IdentityID != identityID {
				continue
			}
			if err := idx.Add(e); err != nil {
				s.log.WithError(err).WithField("entry_id", e.EntryID).Warn("Failed to add face to index")
			}
		}
	}
}

// DeleteIdentity removes an identity with its faces and attendance and
// returns the deleted face IDs.
func (s *Service) DeleteIdentity(ctx context.Context, id int64) ([]int64, error) {
	faceIDs, err := s.store.DeleteIdentity(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, idx := range s.indexes {
		idx.RemoveIdentity(id)
	}
	s.log.WithFields(logrus.Fields{
		"identity_id": id,
		"faces":       len(faceIDs),
	}).Info("Deleted identity")
	return faceIDs, nil
}

// DeleteGroup removes a group. Its identities and records keep no group.
func (s *Service) DeleteGroup(ctx context.Context, id int64) error {
	if err := s.store.DeleteGroup(ctx, id); err != nil {
		return err
	}
	s.log.WithField("group_id", id).Info("Deleted group")
	return nil
}

// List returns attendance records matching filter.
func (s *Service) List(ctx context.Context, filter database.AttendanceFilter) ([]database.AttendanceRecord, error) {
	return s.store.ListAttendance(ctx, filter)
}

// Review marks an attendance record as checked.
func (s *Service) Review(ctx context.Context, id int64, review database.Review) (*database.AttendanceRecord, error) {
	if review.ReviewedBy == "" {
		return nil, errors.New("reviewer is required")
	}
	return s.store.ReviewAttendance(ctx, id, review)
}

func (s *Service) remember(d hybrid.Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, d)
	if len(s.recent) > s.window {
		s.recent = s.recent[len(s.recent)-s.window:]
	}
}

// Statistics summarizes the most recent decisions.
func (s *Service) Statistics() hybrid.Statistics {
	s.mu.Lock()
	recent := make([]hybrid.Decision, len(s.recent))
	copy(recent, s.recent)
	s.mu.Unlock()
	return hybrid.Summarize(recent)
}

// NearestMatch is one gallery neighbour of a probe.
type NearestMatch struct {
	EntryID      int64   `json:"entry_id,omitempty"`
	IdentityID   int64   `json:"identity_id"`
	IdentityName string  `json:"identity_name"`
	Distance     float64 `json:"distance"`
	Confidence   float64 `json:"confidence"`
}

// Nearest sources.
const (
	SourceIndex    = "hnsw"
	SourcePgvector = "pgvector"
	SourceScan     = "scan"
)

// NearestResult lists the closest gallery faces of one kind.
type NearestResult struct {
	Kind    facematch.Kind `json:"kind"`
	Source  string         `json:"source"`
	Matches []NearestMatch `json:"matches"`
	Elapsed float64        `json:"elapsed_seconds"`
}

// Nearest extracts image with the recognizer of kind and returns the k closest
// gallery faces. It uses the HNSW index when one is loaded, the store's native
// vector search for cosine profiles, and an exact per-identity scan otherwise.
func (s *Service) Nearest(ctx context.Context, image []byte, kind facematch.Kind, k int) (NearestResult, error) {
	if k <= 0 {
		k = constants.DefaultNearestLimit
	}
	k = min(k, constants.MaxNearestLimit)

	rec := s.arb.Fast()
	if kind == facematch.KindAccurate {
		rec = s.arb.Accurate()
	}
	profile := rec.Matcher.Profile()

	start := time.Now()
	emb, err := rec.Extractor.Extract(ctx, image)
	if err != nil {
		return NearestResult{}, err
	}
	emb.Kind = kind

	res := NearestResult{Kind: kind}
	var neighbors []database.Neighbor
	finder, native := s.store.(database.NearestFinder)

	switch {
	case s.indexes[kind] != nil:
		res.Source = SourceIndex
		neighbors, err = s.indexes[kind].Search(emb, k)
	case native && profile.Metric == facematch.MetricCosine:
		res.Source = SourcePgvector
		neighbors, err = finder.FindNearest(ctx, kind, emb.Values, k)
	default:
		res.Source = SourceScan
		var gallery []facematch.GalleryEntry
		gallery, err = s.store.LoadGallery(ctx, kind)
		if err == nil {
			var candidates []facematch.Candidate
			candidates, err = rec.Matcher.Rank(emb, gallery, k)
			for _, c := range candidates {
				neighbors = append(neighbors, database.Neighbor{IdentityID: c.IdentityID, Distance: c.Distance})
			}
		}
	}
	if err != nil {
		return res, fmt.Errorf("nearest %s faces: %w", kind, err)
	}

	names, err := s.identityNames(ctx)
	if err != nil {
		return res, err
	}
	for _, n := range neighbors {
		res.Matches = append(res.Matches, NearestMatch{
			EntryID:      n.EntryID,
			IdentityID:   n.IdentityID,
			IdentityName: names[n.IdentityID],
			Distance:     n.Distance,
			Confidence:   profile.Confidence(n.Distance),
		})
	}
	res.Elapsed = time.Since(start).Seconds()
	return res, nil
}
