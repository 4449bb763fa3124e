// Package memberships persists WorkspaceMembership rows, the only source of
// ordinary (non-bypass) access. A user holds at most one role per workspace;
// the (workspace_id, user_id) unique constraint enforces it.
package memberships

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/warden/pkg/authzerr"
	"github.com/platinummonkey/warden/pkg/storage"
)

// Membership grants RoleID to UserID inside exactly one workspace.
// InvitedBy is a historical record and may name a user who has since left.
type Membership struct {
	ID          int64     `json:"id"`
	WorkspaceID int64     `json:"workspace_id"`
	UserID      int64     `json:"user_id"`
	RoleID      int64     `json:"role_id"`
	InvitedBy   *int64    `json:"invited_by,omitempty"`
	JoinedAt    time.Time `json:"joined_at"`
}

const membershipColumns = `id, workspace_id, user_id, role_id, invited_by, joined_at`

// Store persists memberships
type Store struct {
	db storage.DBTX
}

// NewStore creates a membership store. db may be a *sql.DB or a *sql.Tx.
func NewStore(db storage.DBTX) *Store {
	return &Store{db: db}
}

// Insert creates m. A concurrent or earlier row for the same
// (workspace_id, user_id) yields authzerr.ErrDuplicateAssignment.
func (s *Store) Insert(ctx context.Context, m *Membership) error {
	created, err := s.insert(ctx, m)
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("user %d in workspace %d: %w", m.UserID, m.WorkspaceID, authzerr.ErrDuplicateAssignment)
	}
	return nil
}

// Ensure creates m unless the user already has a membership, in which case the
// existing row is loaded into m. It reports whether a row was created.
func (s *Store) Ensure(ctx context.Context, m *Membership) (bool, error) {
	created, err := s.insert(ctx, m)
	if err != nil || created {
		return created, err
	}
	existing, err := s.Get(ctx, m.WorkspaceID, m.UserID)
	if err != nil {
		return false, err
	}
	*m = *existing
	return false, nil
}

func (s *Store) insert(ctx context.Context, m *Membership) (bool, error) {
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO workspace_memberships (workspace_id, user_id, role_id, invited_by, joined_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (workspace_id, user_id) DO NOTHING
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query, m.WorkspaceID, m.UserID, m.RoleID, m.InvitedBy, m.JoinedAt).Scan(&m.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to add membership: %w", err)
	}
	return true, nil
}

// InsertIfEmpty creates m only when the workspace has no memberships at all.
// The emptiness check and the insert are one statement, and the unique
// constraint rejects a racing insert for the same user, so at most one caller
// succeeds. Failure yields authzerr.ErrBootstrapPrecondition.
func (s *Store) InsertIfEmpty(ctx context.Context, m *Membership) error {
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO workspace_memberships (workspace_id, user_id, role_id, invited_by, joined_at)
		SELECT CAST($1 AS BIGINT), CAST($2 AS BIGINT), CAST($3 AS BIGINT), CAST($4 AS BIGINT), $5
		WHERE NOT EXISTS (SELECT 1 FROM workspace_memberships WHERE workspace_id = $1)
		ON CONFLICT DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, m.WorkspaceID, m.UserID, m.RoleID, m.InvitedBy, m.JoinedAt)
	if err != nil {
		return fmt.Errorf("failed to bootstrap membership: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("workspace %d already has members: %w", m.WorkspaceID, authzerr.ErrBootstrapPrecondition)
	}

	created, err := s.Get(ctx, m.WorkspaceID, m.UserID)
	if err != nil {
		return err
	}
	*m = *created
	return nil
}

func scanMembership(row interface{ Scan(...interface{}) error }) (*Membership, error) {
	m := &Membership{}
	if err := row.Scan(&m.ID, &m.WorkspaceID, &m.UserID, &m.RoleID, &m.InvitedBy, &m.JoinedAt); err != nil {
		return nil, err
	}
	return m, nil
}

// Get retrieves the membership of userID in workspaceID
func (s *Store) Get(ctx context.Context, workspaceID, userID int64) (*Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM workspace_memberships WHERE workspace_id = $1 AND user_id = $2`
	m, err := scanMembership(s.db.QueryRowContext(ctx, query, workspaceID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d in workspace %d: %w", userID, workspaceID, authzerr.ErrMembershipNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// Find is Get with a nil result instead of an error when there is no row
func (s *Store) Find(ctx context.Context, workspaceID, userID int64) (*Membership, error) {
	m, err := s.Get(ctx, workspaceID, userID)
	if errors.Is(err, authzerr.ErrMembershipNotFound) {
		return nil, nil
	}
	return m, err
}

// List lists the memberships of a workspace in join order
func (s *Store) List(ctx context.Context, workspaceID int64) ([]*Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM workspace_memberships WHERE workspace_id = $1 ORDER BY joined_at, id`
	rows, err := s.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var result []*Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// Count returns the number of memberships in a workspace
func (s *Store) Count(ctx context.Context, workspaceID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workspace_memberships WHERE workspace_id = $1`, workspaceID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count memberships: %w", err)
	}
	return count, nil
}

// UpdateRole changes the role of an existing membership
func (s *Store) UpdateRole(ctx context.Context, workspaceID, userID, roleID int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE workspace_memberships SET role_id = $1 WHERE workspace_id = $2 AND user_id = $3`,
		roleID, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("failed to update membership role: %w", err)
	}
	return requireRow(result, workspaceID, userID)
}

// Delete removes the membership of userID in workspaceID
func (s *Store) Delete(ctx context.Context, workspaceID, userID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM workspace_memberships WHERE workspace_id = $1 AND user_id = $2`, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove membership: %w", err)
	}
	return requireRow(result, workspaceID, userID)
}

func requireRow(result sql.Result, workspaceID, userID int64) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user %d in workspace %d: %w", userID, workspaceID, authzerr.ErrMembershipNotFound)
	}
	return nil
}
