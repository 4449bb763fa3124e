package workspaces

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/warden/pkg/authzerr"
	"github.com/platinummonkey/warden/pkg/storage"
)

const workspaceColumns = `id, type, parent_id, owner_id, name, created_at`

// Store persists workspaces
type Store struct {
	db storage.DBTX
}

// NewStore creates a new workspace store. db may be a *sql.DB or a *sql.Tx.
func NewStore(db storage.DBTX) *Store {
	return &Store{db: db}
}

func scanWorkspace(row interface{ Scan(...interface{}) error }) (*Workspace, error) {
	w := &Workspace{}
	if err := row.Scan(&w.ID, &w.Type, &w.ParentID, &w.OwnerID, &w.Name, &w.CreatedAt); err != nil {
		return nil, err
	}
	return w, nil
}

// Get retrieves a workspace by id
func (s *Store) Get(ctx context.Context, id int64) (*Workspace, error) {
	query := `SELECT ` + workspaceColumns + ` FROM workspaces WHERE id = $1`
	w, err := scanWorkspace(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workspace %d: %w", id, authzerr.ErrWorkspaceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return w, nil
}

// GetOrganization retrieves id and fails unless it is an organization
func (s *Store) GetOrganization(ctx context.Context, id int64) (*Workspace, error) {
	w, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !w.IsOrganization() {
		return nil, fmt.Errorf("workspace %d: %w", id, authzerr.ErrNotOrganization)
	}
	return w, nil
}

// CreateOrganization creates a new organization owned by ownerID
func (s *Store) CreateOrganization(ctx context.Context, name string, ownerID int64) (*Workspace, error) {
	w := &Workspace{
		Type:      TypeOrganization,
		OwnerID:   &ownerID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	query := `
		INSERT INTO workspaces (type, owner_id, name, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	if err := s.db.QueryRowContext(ctx, query, w.Type, ownerID, name, w.CreatedAt).Scan(&w.ID); err != nil {
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}
	return w, nil
}

// CreateProject creates a project under organization orgID
func (s *Store) CreateProject(ctx context.Context, orgID int64, name string) (*Workspace, error) {
	if _, err := s.GetOrganization(ctx, orgID); err != nil {
		return nil, err
	}

	w := &Workspace{
		Type:      TypeProject,
		ParentID:  &orgID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	query := `
		INSERT INTO workspaces (type, parent_id, name, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	if err := s.db.QueryRowContext(ctx, query, w.Type, orgID, name, w.CreatedAt).Scan(&w.ID); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return w, nil
}

// ListProjects lists the projects of an organization
func (s *Store) ListProjects(ctx context.Context, orgID int64) ([]*Workspace, error) {
	query := `SELECT ` + workspaceColumns + ` FROM workspaces WHERE parent_id = $1 ORDER BY id`
	return s.list(ctx, query, orgID)
}

// TransferOwner sets owner_id to newOwner iff it is currently currentOwner.
// It reports whether the row changed; callers decide what a miss means.
func (s *Store) TransferOwner(ctx context.Context, orgID, currentOwner, newOwner int64) (bool, error) {
	query := `
		UPDATE workspaces SET owner_id = $1
		WHERE id = $2 AND type = 'organization' AND owner_id = $3
	`
	result, err := s.db.ExecContext(ctx, query, newOwner, orgID, currentOwner)
	if err != nil {
		return false, fmt.Errorf("failed to transfer ownership: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// DeleteOrganization removes an organization, its projects and every row
// scoped to them. It must run inside a transaction.
func (s *Store) DeleteOrganization(ctx context.Context, orgID int64) error {
	scope := `(SELECT id FROM workspaces WHERE id = $1 OR parent_id = $1)`
	statements := []struct {
		what  string
		query string
	}{
		{"memberships", `DELETE FROM workspace_memberships WHERE workspace_id IN ` + scope},
		{"workspace features", `DELETE FROM workspace_features WHERE workspace_id IN ` + scope},
		{"super admins", `DELETE FROM super_admins WHERE organization_id = $1`},
		{"custom role grants", `DELETE FROM role_permissions WHERE role_id IN (SELECT id FROM roles WHERE organization_id = $1)`},
		{"custom roles", `DELETE FROM roles WHERE organization_id = $1`},
		{"projects", `DELETE FROM workspaces WHERE parent_id = $1`},
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt.query, orgID); err != nil {
			return fmt.Errorf("failed to delete %s: %w", stmt.what, err)
		}
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = $1 AND type = 'organization'`, orgID)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("workspace %d: %w", orgID, authzerr.ErrWorkspaceNotFound)
	}
	return nil
}

// FindOrphanedProjects returns projects whose parent is missing or is not an organization
func (s *Store) FindOrphanedProjects(ctx context.Context) ([]*Workspace, error) {
	query := `
		SELECT w.id, w.type, w.parent_id, w.owner_id, w.name, w.created_at
		FROM workspaces w
		LEFT JOIN workspaces p ON p.id = w.parent_id
		WHERE w.type = 'project' AND (p.id IS NULL OR p.type <> 'organization')
		ORDER BY w.id
	`
	return s.list(ctx, query)
}

// FindOwnersWithoutMembership returns organizations whose owner holds no membership row
func (s *Store) FindOwnersWithoutMembership(ctx context.Context) ([]*Workspace, error) {
	query := `
		SELECT w.id, w.type, w.parent_id, w.owner_id, w.name, w.created_at
		FROM workspaces w
		WHERE w.type = 'organization'
		  AND NOT EXISTS (
			SELECT 1 FROM workspace_memberships m
			WHERE m.workspace_id = w.id AND m.user_id = w.owner_id
		  )
		ORDER BY w.id
	`
	return s.list(ctx, query)
}

func (s *Store) list(ctx context.Context, query string, args ...interface{}) ([]*Workspace, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var result []*Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		result = append(result, w)
	}
	return result, rows.Err()
}
