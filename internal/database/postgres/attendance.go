package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/database"
)

const attendanceColumns = `id, identity_id, group_id, recorded_at, confidence, method, mode,
		       reviewed, reviewed_at, reviewed_by, note`

// RecordAttendance inserts an attendance record and fills in ID and RecordedAt.
func (s *Store) RecordAttendance(ctx context.Context, rec *database.AttendanceRecord) error {
	query := `
		INSERT INTO attendance (identity_id, group_id, confidence, method, mode)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, recorded_at
	`

	err := s.pool.QueryRow(ctx, query,
		rec.IdentityID, nullInt64(rec.GroupID), rec.Confidence, rec.Method, rec.Mode,
	).Scan(&rec.ID, &rec.RecordedAt)
	if err != nil {
		return fmt.Errorf("insert attendance: %w", err)
	}
	return nil
}

// GetAttendance retrieves an attendance record by ID.
func (s *Store) GetAttendance(ctx context.Context, id int64) (*database.AttendanceRecord, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendance WHERE id = $1`

	rec, err := scanAttendance(s.pool.QueryRow(ctx, query, id))
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
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.IdentityID != nil {
		add("identity_id = $%d", *filter.IdentityID)
	}
	if filter.GroupID != nil {
		add("group_id = $%d", *filter.GroupID)
	}
	if !filter.Since.IsZero() {
		add("recorded_at >= $%d", filter.Since)
	}
	if !filter.Until.IsZero() {
		add("recorded_at < $%d", filter.Until)
	}
	if filter.Reviewed != nil {
		add("reviewed = $%d", *filter.Reviewed)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = database.DefaultAttendanceLimit
	}

	query := `SELECT ` + attendanceColumns + ` FROM attendance`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY recorded_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}
	return out, nil
}

// ReviewAttendance marks a record reviewed by a person.
func (s *Store) ReviewAttendance(ctx context.Context, id int64, review database.Review) (*database.AttendanceRecord, error) {
	query := `
		UPDATE attendance
		SET reviewed = TRUE, reviewed_at = NOW(), reviewed_by = $2, note = $3
		WHERE id = $1
		RETURNING ` + attendanceColumns

	rec, err := scanAttendance(s.pool.QueryRow(ctx, query, id, review.ReviewedBy, review.Note))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attendance %d: %w", id, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("review attendance: %w", err)
	}
	return &rec, nil
}

func scanAttendance(scanner interface{ Scan(...any) error }) (database.AttendanceRecord, error) {
	var rec database.AttendanceRecord
	var groupID sql.NullInt64
	var reviewedAt sql.NullTime
	var reviewedBy, note sql.NullString

	err := scanner.Scan(
		&rec.ID,
		&rec.IdentityID,
		&groupID,
		&rec.RecordedAt,
		&rec.Confidence,
		&rec.Method,
		&rec.Mode,
		&rec.Reviewed,
		&reviewedAt,
		&reviewedBy,
		&note,
	)
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
