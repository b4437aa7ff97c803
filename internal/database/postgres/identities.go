package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// foreignKeyViolation is the SQLSTATE of a missing referenced row.
const foreignKeyViolation = "23503"

// GetIdentity retrieves an identity by ID.
func (s *Store) GetIdentity(ctx context.Context, id int64) (*database.Identity, error) {
	query := `SELECT id, name, group_id, active, created_at FROM identities WHERE id = $1`

	ident, err := scanIdentity(s.pool.QueryRow(ctx, query, id))
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
	rows, err := s.pool.Query(ctx, `SELECT id, name, group_id, active, created_at FROM identities ORDER BY name, id`)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return out, nil
}

// CreateIdentity inserts a new active identity.
func (s *Store) CreateIdentity(ctx context.Context, name string, groupID *int64) (*database.Identity, error) {
	query := `
		INSERT INTO identities (name, group_id)
		VALUES ($1, $2)
		RETURNING id, name, group_id, active, created_at
	`

	ident, err := scanIdentity(s.pool.QueryRow(ctx, query, name, nullInt64(groupID)))
	if err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}
	return &ident, nil
}

// UpdateIdentity replaces the name, group and active flag of an identity.
func (s *Store) UpdateIdentity(ctx context.Context, id int64, name string, groupID *int64, active bool) (*database.Identity, error) {
	query := `
		UPDATE identities SET name = $2, group_id = $3, active = $4
		WHERE id = $1
		RETURNING id, name, group_id, active, created_at
	`

	ident, err := scanIdentity(s.pool.QueryRow(ctx, query, id, name, nullInt64(groupID), active))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("identity %d: %w", id, database.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation && groupID != nil {
		return nil, fmt.Errorf("group %d: %w", *groupID, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("update identity: %w", err)
	}
	return &ident, nil
}

// DeleteIdentity removes an identity. Faces and attendance go with it through
// ON DELETE CASCADE; the face IDs are collected first so indexes can follow.
func (s *Store) DeleteIdentity(ctx context.Context, id int64) ([]int64, error) {
	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, "DELETE FROM faces WHERE identity_id = $1 RETURNING id", id)
	if err != nil {
		return nil, fmt.Errorf("delete faces: %w", err)
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

	res, err := tx.ExecContext(ctx, "DELETE FROM identities WHERE id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("delete identity: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("identity %d: %w", id, database.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

// ListGroups returns all groups ordered by name.
func (s *Store) ListGroups(ctx context.Context) ([]database.Group, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, created_at FROM groups ORDER BY name`)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return out, nil
}

// CreateGroup inserts a group, returning the existing one if the name is taken.
func (s *Store) CreateGroup(ctx context.Context, name string) (*database.Group, error) {
	query := `
		INSERT INTO groups (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, created_at
	`

	var g database.Group
	if err := s.pool.QueryRow(ctx, query, name).Scan(&g.ID, &g.Name, &g.CreatedAt); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	return &g, nil
}

// DeleteGroup removes a group. Identities and attendance records referencing
// it are set to no group by the foreign keys.
func (s *Store) DeleteGroup(ctx context.Context, id int64) error {
	res, err := s.pool.Exec(ctx, "DELETE FROM groups WHERE id = $1", id)
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

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
