package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// Store provides MariaDB-backed storage. It has no native vector search, so
// nearest-neighbour queries go through the in-memory HNSW index instead.
type Store struct {
	pool *Pool
}

var _ database.Store = (*Store)(nil)

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// LoadGallery returns every face of the given kind belonging to an active identity.
func (s *Store) LoadGallery(ctx context.Context, kind facematch.Kind) ([]facematch.GalleryEntry, error) {
	rows, err := s.pool.db.QueryContext(ctx, `
		SELECT f.id, f.identity_id, f.kind, f.encoding, f.raw, f.source_label
		FROM faces f
		JOIN identities i ON i.id = f.identity_id
		WHERE f.kind = ? AND i.active
		ORDER BY f.id
	`, string(kind))
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
	return entries, rows.Err()
}

// CountFaces returns per-identity face counts.
func (s *Store) CountFaces(ctx context.Context) ([]database.FaceCount, error) {
	rows, err := s.pool.db.QueryContext(ctx, `
		SELECT identity_id,
		       SUM(CASE WHEN kind = 'fast' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN kind = 'accurate' THEN 1 ELSE 0 END)
		FROM faces
		GROUP BY identity_id
		ORDER BY identity_id
	`)
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
	return counts, rows.Err()
}

// SaveFace stores one gallery row and returns its ID.
func (s *Store) SaveFace(ctx context.Context, face database.StoredFace) (int64, error) {
	var label sql.NullString
	if face.SourceLabel != "" {
		label = sql.NullString{String: face.SourceLabel, Valid: true}
	}

	res, err := s.pool.db.ExecContext(ctx, `
		INSERT INTO faces (identity_id, kind, encoding, raw, model, dim, source_label)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, face.IdentityID, string(face.Kind), string(face.Encoding), face.Raw, face.Model, face.Dim, label)
	if err != nil {
		return 0, fmt.Errorf("insert face: %w", err)
	}
	return res.LastInsertId()
}

// DeleteFaces removes every face of an identity and returns the deleted IDs.
func (s *Store) DeleteFaces(ctx context.Context, identityID int64) ([]int64, error) {
	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, "SELECT id FROM faces WHERE identity_id = ? FOR UPDATE", identityID)
	if err != nil {
		return nil, fmt.Errorf("select faces: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan face id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, "DELETE FROM faces WHERE identity_id = ?", identityID); err != nil {
		return nil, fmt.Errorf("delete faces: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

const identityColumns = "id, name, group_id, active, created_at"

// errNoReferencedRow is ER_NO_REFERENCED_ROW_2, a foreign key pointing nowhere.
const errNoReferencedRow = 1452

// GetIdentity retrieves an identity by ID.
func (s *Store) GetIdentity(ctx context.Context, id int64) (*database.Identity, error) {
	row := s.pool.db.QueryRowContext(ctx, "SELECT "+identityColumns+" FROM identities WHERE id = ?", id)
	ident, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("identity %d: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return &ident, nil
}

// ListIdentities returns all identities ordered by name.
func (s *Store) ListIdentities(ctx context.Context) ([]database.Identity, error) {
	rows, err := s.pool.db.QueryContext(ctx, "SELECT "+identityColumns+" FROM identities ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	var out []database.Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, ident)
	}
	return out, rows.Err()
}

// CreateIdentity inserts a new active identity.
func (s *Store) CreateIdentity(ctx context.Context, name string, groupID *int64) (*database.Identity, error) {
	res, err := s.pool.db.ExecContext(ctx, "INSERT INTO identities (name, group_id) VALUES (?, ?)", name, nullInt64(groupID))
	if err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}
	return s.GetIdentity(ctx, id)
}

// UpdateIdentity replaces the name, group and active flag of an identity.
func (s *Store) UpdateIdentity(ctx context.Context, id int64, name string, groupID *int64, active bool) (*database.Identity, error) {
	// RowsAffected is 0 for an unchanged row, so existence is checked first.
	if _, err := s.GetIdentity(ctx, id); err != nil {
		return nil, err
	}
	_, err := s.pool.db.ExecContext(ctx, "UPDATE identities SET name = ?, group_id = ?, active = ? WHERE id = ?",
		name, nullInt64(groupID), active, id)
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == errNoReferencedRow && groupID != nil {
		return nil, fmt.Errorf("group %d: %w", *groupID, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update identity: %w", err)
	}
	return s.GetIdentity(ctx, id)
}

// DeleteIdentity removes an identity. Faces and attendance go with it through
// ON DELETE CASCADE; the face IDs are collected first so indexes can follow.
func (s *Store) DeleteIdentity(ctx context.Context, id int64) ([]int64, error) {
	tx, err := s.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var found int64
	err = tx.QueryRowContext(ctx, "SELECT id FROM identities WHERE id = ? FOR UPDATE", id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("identity %d: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lock identity: %w", err)
	}

	rows, err := tx.QueryContext(ctx, "SELECT id FROM faces WHERE identity_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("select faces: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var faceID int64
		if err := rows.Scan(&faceID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan face id: %w", err)
		}
		ids = append(ids, faceID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate face ids: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM identities WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("delete identity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

// ListGroups returns all groups ordered by name.
func (s *Store) ListGroups(ctx context.Context) ([]database.Group, error) {
	rows, err := s.pool.db.QueryContext(ctx, "SELECT id, name, created_at FROM `groups` ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var out []database.Group
	for rows.Next() {
		var g database.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// CreateGroup inserts a group, returning the existing one if the name is taken.
func (s *Store) CreateGroup(ctx context.Context, name string) (*database.Group, error) {
	if _, err := s.pool.db.ExecContext(ctx, "INSERT IGNORE INTO `groups` (name) VALUES (?)", name); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	var g database.Group
	err := s.pool.db.QueryRowContext(ctx, "SELECT id, name, created_at FROM `groups` WHERE name = ?", name).
		Scan(&g.ID, &g.Name, &g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	return &g, nil
}

// DeleteGroup removes a group. Identities and attendance records referencing
// it are set to no group by the foreign keys.
func (s *Store) DeleteGroup(ctx context.Context, id int64) error {
	res, err := s.pool.db.ExecContext(ctx, "DELETE FROM `groups` WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("group %d: %w", id, database.ErrNotFound)
	}
	return nil
}

const attendanceColumns = "id, identity_id, group_id, recorded_at, confidence, method, mode, reviewed, reviewed_at, reviewed_by, note"

// RecordAttendance inserts an attendance record and fills in ID and RecordedAt.
func (s *Store) RecordAttendance(ctx context.Context, rec *database.AttendanceRecord) error {
	res, err := s.pool.db.ExecContext(ctx, `
		INSERT INTO attendance (identity_id, group_id, confidence, method, mode)
		VALUES (?, ?, ?, ?, ?)
	`, rec.IdentityID, nullInt64(rec.GroupID), rec.Confidence, rec.Method, rec.Mode)
	if err != nil {
		return fmt.Errorf("insert attendance: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert attendance: %w", err)
	}
	rec.ID = id
	if err := s.pool.db.QueryRowContext(ctx, "SELECT recorded_at FROM attendance WHERE id = ?", id).Scan(&rec.RecordedAt); err != nil {
		return fmt.Errorf("read attendance timestamp: %w", err)
	}
	return nil
}

// GetAttendance retrieves an attendance record by ID.
func (s *Store) GetAttendance(ctx context.Context, id int64) (*database.AttendanceRecord, error) {
	row := s.pool.db.QueryRowContext(ctx, "SELECT "+attendanceColumns+" FROM attendance WHERE id = ?", id)
	rec, err := scanAttendance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attendance %d: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	return &rec, nil
}

// ListAttendance returns records matching filter, newest first.
func (s *Store) ListAttendance(ctx context.Context, filter database.AttendanceFilter) ([]database.AttendanceRecord, error) {
	var where []string
	var args []any
	if filter.IdentityID != nil {
		where = append(where, "identity_id = ?")
		args = append(args, *filter.IdentityID)
	}
	if filter.GroupID != nil {
		where = append(where, "group_id = ?")
		args = append(args, *filter.GroupID)
	}
	if !filter.Since.IsZero() {
		where = append(where, "recorded_at >= ?")
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		where = append(where, "recorded_at < ?")
		args = append(args, filter.Until)
	}
	if filter.Reviewed != nil {
		where = append(where, "reviewed = ?")
		args = append(args, *filter.Reviewed)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = database.DefaultAttendanceLimit
	}

	query := "SELECT " + attendanceColumns + " FROM attendance"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY recorded_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.pool.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	defer rows.Close()

	var out []database.AttendanceRecord
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ReviewAttendance marks a record reviewed by a person.
func (s *Store) ReviewAttendance(ctx context.Context, id int64, review database.Review) (*database.AttendanceRecord, error) {
	_, err := s.pool.db.ExecContext(ctx, `
		UPDATE attendance
		SET reviewed = TRUE, reviewed_at = CURRENT_TIMESTAMP(6), reviewed_by = ?, note = ?
		WHERE id = ?
	`, review.ReviewedBy, review.Note, id)
	if err != nil {
		return nil, fmt.Errorf("review attendance: %w", err)
	}
	// RowsAffected cannot tell a missing row from an unchanged one.
	return s.GetAttendance(ctx, id)
}

func scanIdentity(scanner interface{ Scan(...any) error }) (database.Identity, error) {
	var ident database.Identity
	var groupID sql.NullInt64
	if err := scanner.Scan(&ident.ID, &ident.Name, &groupID, &ident.Active, &ident.CreatedAt); err != nil {
		return ident, err
	}
	if groupID.Valid {
		ident.GroupID = &groupID.Int64
	}
	return ident, nil
}

func scanAttendance(scanner interface{ Scan(...any) error }) (database.AttendanceRecord, error) {
	var rec database.AttendanceRecord
	var groupID sql.NullInt64
	var reviewedAt sql.NullTime
	var reviewedBy, note sql.NullString

	err := scanner.Scan(&rec.ID, &rec.IdentityID, &groupID, &rec.RecordedAt, &rec.Confidence,
		&rec.Method, &rec.Mode, &rec.Reviewed, &reviewedAt, &reviewedBy, &note)
	if err != nil {
		return rec, err
	}
	if groupID.Valid {
		rec.GroupID = &groupID.Int64
	}
	if reviewedAt.Valid {
		rec.ReviewedAt = &reviewedAt.Time
	}
	rec.ReviewedBy = reviewedBy.String
	rec.Note = note.String
	return rec, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
