package authority

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/warden/pkg/authzerr"
	"github.com/platinummonkey/warden/pkg/storage"
)

// Designation marks a user as Super Admin of one organization.
// It is not a role and never appears in role grant evaluation.
type Designation struct {
	OrganizationID int64     `json:"organization_id"`
	UserID         int64     `json:"user_id"`
	AssignedBy     int64     `json:"assigned_by"`
	AssignedAt     time.Time `json:"assigned_at"`
}

// DesignationStore persists Super Admin designations
type DesignationStore struct {
	db storage.DBTX
}

// NewDesignationStore creates a designation store. db may be a *sql.DB or a *sql.Tx.
func NewDesignationStore(db storage.DBTX) *DesignationStore {
	return &DesignationStore{db: db}
}

// Insert adds a designation. The (organization_id, user_id) primary key
// decides races: the loser gets authzerr.ErrDuplicateAssignment.
func (s *DesignationStore) Insert(ctx context.Context, d *Designation) error {
	if d.AssignedAt.IsZero() {
		d.AssignedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO super_admins (organization_id, user_id, assigned_by, assigned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (organization_id, user_id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, d.OrganizationID, d.UserID, d.AssignedBy, d.AssignedAt)
	if err != nil {
		return fmt.Errorf("failed to assign super admin: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user %d is already super admin of %d: %w", d.UserID, d.OrganizationID, authzerr.ErrDuplicateAssignment)
	}
	return nil
}

// Delete removes a designation
func (s *DesignationStore) Delete(ctx context.Context, orgID, userID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM super_admins WHERE organization_id = $1 AND user_id = $2`, orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke super admin: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user %d in %d: %w", userID, orgID, authzerr.ErrDesignationNotFound)
	}
	return nil
}

// Exists reports whether userID is a Super Admin of orgID
func (s *DesignationStore) Exists(ctx context.Context, orgID, userID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM super_admins WHERE organization_id = $1 AND user_id = $2)`,
		orgID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check super admin: %w", err)
	}
	return exists, nil
}

// List returns the designations of an organization
func (s *DesignationStore) List(ctx context.Context, orgID int64) ([]*Designation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT organization_id, user_id, assigned_by, assigned_at
		FROM super_admins
		WHERE organization_id = $1
		ORDER BY assigned_at, user_id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list super admins: %w", err)
	}
	defer rows.Close()

	var result []*Designation
	for rows.Next() {
		d := &Designation{}
		if err := rows.Scan(&d.OrganizationID, &d.UserID, &d.AssignedBy, &d.AssignedAt); err != nil {
			return nil, fmt.Errorf("failed to scan super admin: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}
