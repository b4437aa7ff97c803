package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// Store provides PostgreSQL-backed storage for the gallery, identities and
// attendance records.
type Store struct {
	pool *Pool
}

var (
	_ database.Store         = (*Store)(nil)
	_ database.NearestFinder = (*Store)(nil)
)

// NewStore creates a new PostgreSQL store.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// LoadGallery returns every face of the given kind belonging to an active identity.
func (s *Store) LoadGallery(ctx context.Context, kind facematch.Kind) ([]facematch.GalleryEntry, error) {
	query := `
		SELECT f.id, f.identity_id, f.kind, f.encoding, f.raw, f.source_label
		FROM faces f
		JOIN identities i ON i.id = f.identity_id
		WHERE f.kind = $1 AND i.active
		ORDER BY f.id
	`

	rows, err := s.pool.Query(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query gallery: %w", err)
	}
	defer rows.Close()

	var entries []facematch.GalleryEntry
	for rows.Next() {
		var e facematch.GalleryEntry
		var label sql.NullString
		if err := rows.Scan(&e.EntryID, &e.IdentityID, &e.Kind, &e.Encoding, &e.Raw, &label); err != nil {
			return nil, fmt.Errorf("scan gallery entry: %w", err)
		}
		e.SourceLabel = label.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gallery: %w", err)
	}
	return entries, nil
}

// CountFaces returns per-identity face counts.
func (s *Store) CountFaces(ctx context.Context) ([]database.FaceCount, error) {
	query := `
		SELECT identity_id,
		       COUNT(*) FILTER (WHERE kind = 'fast'),
		       COUNT(*) FILTER (WHERE kind = 'accurate')
		FROM faces
		GROUP BY identity_id
		ORDER BY identity_id
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count faces: %w", err)
	}
	defer rows.Close()

	var counts []database.FaceCount
	for rows.Next() {
		var c database.FaceCount
		if err := rows.Scan(&c.IdentityID, &c.Fast, &c.Accurate); err != nil {
			return nil, fmt.Errorf("scan face count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate face counts: %w", err)
	}
	return counts, nil
}

// SaveFace stores one gallery row. float32le rows are mirrored into the
// vector column so they can be searched natively.
func (s *Store) SaveFace(ctx context.Context, face database.StoredFace) (int64, error) {
	var vec any
	if face.Encoding == facematch.EncodingFloat32LE {
		values, err := facematch.DecodeEmbedding(face.Raw, face.Encoding)
		if err != nil {
			return 0, fmt.Errorf("save face: %w", err)
		}
		vec = pgvector.NewVector(values)
	}

	var label sql.NullString
	if face.SourceLabel != "" {
		label = sql.NullString{String: face.SourceLabel, Valid: true}
	}

	query := `
		INSERT INTO faces (identity_id, kind, encoding, raw, embedding, model, dim, source_label)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		face.IdentityID, string(face.Kind), string(face.Encoding), face.Raw, vec, face.Model, face.Dim, label,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert face: %w", err)
	}
	return id, nil
}

// DeleteFaces removes every face of an identity and returns the deleted IDs.
func (s *Store) DeleteFaces(ctx context.Context, identityID int64) ([]int64, error) {
	rows, err := s.pool.Query(ctx, "DELETE FROM faces WHERE identity_id = $1 RETURNING id", identityID)
	if err != nil {
		return nil, fmt.Errorf("delete faces: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan face id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate face ids: %w", err)
	}
	return ids, nil
}

// FindNearest uses pgvector cosine distance over float32le rows of kind with
// the probe's dimensionality.
func (s *Store) FindNearest(ctx context.Context, kind facematch.Kind, embedding []float32, k int) ([]database.Neighbor, error) {
	if k <= 0 {
		return nil, nil
	}

	query := `
		SELECT f.id, f.identity_id, f.embedding <=> $1::vector AS distance
		FROM faces f
		JOIN identities i ON i.id = f.identity_id
		WHERE f.kind = $2 AND i.active
		  AND f.embedding IS NOT NULL AND f.dim = $3
		ORDER BY distance, f.id
		LIMIT $4
	`

	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(embedding), string(kind), len(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("query nearest faces: %w", err)
	}
	defer rows.Close()

	var neighbors []database.Neighbor
	for rows.Next() {
		var n database.Neighbor
		if err := rows.Scan(&n.EntryID, &n.IdentityID, &n.Distance); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		neighbors = append(neighbors, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate neighbors: %w", err)
	}
	return neighbors, nil
}
