package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/warden/pkg/authzerr"
	"github.com/platinummonkey/warden/pkg/storage"
)

// Store handles catalog persistence
type Store struct {
	db storage.DBTX
}

// NewStore creates a new catalog store. db may be a *sql.DB or a *sql.Tx.
func NewStore(db storage.DBTX) *Store {
	return &Store{db: db}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// Features

func scanFeature(row scanner) (*Feature, error) {
	f := &Feature{}
	if err := row.Scan(&f.ID, &f.Slug, &f.Name, &f.Mandatory); err != nil {
		return nil, err
	}
	return f, nil
}

// GetFeatureBySlug retrieves a feature by slug
func (s *Store) GetFeatureBySlug(ctx context.Context, slug string) (*Feature, error) {
	f, err := scanFeature(s.db.QueryRowContext(ctx,
		`SELECT id, slug, name, mandatory FROM features WHERE slug = $1`, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feature %q: %w", slug, authzerr.ErrFeatureNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feature: %w", err)
	}
	return f, nil
}

// ListFeatures lists every feature ordered by slug
func (s *Store) ListFeatures(ctx context.Context) ([]*Feature, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, slug, name, mandatory FROM features ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("failed to list features: %w", err)
	}
	defer rows.Close()

	var features []*Feature
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feature: %w", err)
		}
		features = append(features, f)
	}
	return features, rows.Err()
}

// UpsertFeature inserts or updates a feature by slug and fills in its id
func (s *Store) UpsertFeature(ctx context.Context, f *Feature) error {
	query := `
		INSERT INTO features (slug, name, mandatory)
		VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO UPDATE SET name = excluded.name, mandatory = excluded.mandatory
		RETURNING id
	`
	if err := s.db.QueryRowContext(ctx, query, f.Slug, f.Name, f.Mandatory).Scan(&f.ID); err != nil {
		return fmt.Errorf("failed to upsert feature %s: %w", f.Slug, err)
	}
	return nil
}

// Workspace feature activation

// FeatureState reports whether featureID is mandatory and whether it is
// enabled in exactly workspaceID. No parent or child workspace is consulted.
func (s *Store) FeatureState(ctx context.Context, workspaceID, featureID int64) (mandatory, enabled bool, err error) {
	query := `
		SELECT f.mandatory, COALESCE(wf.enabled, FALSE)
		FROM features f
		LEFT JOIN workspace_features wf ON wf.feature_id = f.id AND wf.workspace_id = $1
		WHERE f.id = $2
	`
	err = s.db.QueryRowContext(ctx, query, workspaceID, featureID).Scan(&mandatory, &enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, fmt.Errorf("feature %d: %w", featureID, authzerr.ErrFeatureNotFound)
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to get feature state: %w", err)
	}
	return mandatory, enabled, nil
}

// GetWorkspaceFeature retrieves the activation record, if any
func (s *Store) GetWorkspaceFeature(ctx context.Context, workspaceID, featureID int64) (*WorkspaceFeature, error) {
	query := `
		SELECT workspace_id, feature_id, enabled, config, updated_at
		FROM workspace_features
		WHERE workspace_id = $1 AND feature_id = $2
	`
	wf := &WorkspaceFeature{}
	var config string
	err := s.db.QueryRowContext(ctx, query, workspaceID, featureID).
		Scan(&wf.WorkspaceID, &wf.FeatureID, &wf.Enabled, &config, &wf.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace feature: %w", err)
	}
	wf.Config = json.RawMessage(config)
	return wf, nil
}

// UpsertWorkspaceFeature writes the activation record for a workspace
func (s *Store) UpsertWorkspaceFeature(ctx context.Context, wf *WorkspaceFeature) error {
	config := "{}"
	if len(wf.Config) > 0 {
		config = string(wf.Config)
	}
	if wf.UpdatedAt.IsZero() {
		wf.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO workspace_features (workspace_id, feature_id, enabled, config, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (workspace_id, feature_id)
		DO UPDATE SET enabled = excluded.enabled, config = excluded.config, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, wf.WorkspaceID, wf.FeatureID, wf.Enabled, config, wf.UpdatedAt); err != nil {
		return fmt.Errorf("failed to set workspace feature: %w", err)
	}
	return nil
}

// Permissions

func scanPermission(row scanner) (*Permission, error) {
	p := &Permission{}
	if err := row.Scan(&p.ID, &p.Name, &p.FeatureID, &p.Description); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPermissionByName retrieves a permission by its resource.action name
func (s *Store) GetPermissionByName(ctx context.Context, name string) (*Permission, error) {
	p, err := scanPermission(s.db.QueryRowContext(ctx,
		`SELECT id, name, feature_id, description FROM permissions WHERE name = $1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("permission %q: %w", name, authzerr.ErrPermissionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return p, nil
}

// ListPermissions lists every permission
func (s *Store) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.listPermissions(ctx, `SELECT id, name, feature_id, description FROM permissions ORDER BY name`)
}

// ListFeaturePermissions lists the permissions owned by a feature
func (s *Store) ListFeaturePermissions(ctx context.Context, featureID int64) ([]Permission, error) {
	return s.listPermissions(ctx,
		`SELECT id, name, feature_id, description FROM permissions WHERE feature_id = $1 ORDER BY name`, featureID)
}

// UpsertPermission inserts or updates a permission by name and fills in its id
func (s *Store) UpsertPermission(ctx context.Context, p *Permission) error {
	if !ValidPermissionName(p.Name) {
		return fmt.Errorf("invalid permission name %q: expected resource.action", p.Name)
	}
	query := `
		INSERT INTO permissions (name, feature_id, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET feature_id = excluded.feature_id, description = excluded.description
		RETURNING id
	`
	if err := s.db.QueryRowContext(ctx, query, p.Name, p.FeatureID, p.Description).Scan(&p.ID); err != nil {
		return fmt.Errorf("failed to upsert permission %s: %w", p.Name, err)
	}
	return nil
}

func (s *Store) listPermissions(ctx context.Context, query string, args ...interface{}) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, *p)
	}
	return perms, rows.Err()
}

// Roles

const roleColumns = `id, name, description, organization_id, is_system_role, created_at`

func scanRole(row scanner) (*Role, error) {
	r := &Role{}
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.OrganizationID, &r.IsSystemRole, &r.CreatedAt); err != nil {
		return nil, err
	}
	return r, nil
}

// GetRole retrieves a role by id
func (s *Store) GetRole(ctx context.Context, id int64) (*Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("role %d: %w", id, authzerr.ErrRoleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return r, nil
}

// GetRoleByName retrieves a system role (orgID nil) or a custom role of orgID
func (s *Store) GetRoleByName(ctx context.Context, name string, orgID *int64) (*Role, error) {
	var row *sql.Row
	if orgID == nil {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+roleColumns+` FROM roles WHERE name = $1 AND organization_id IS NULL`, name)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+roleColumns+` FROM roles WHERE name = $1 AND organization_id = $2`, name, *orgID)
	}

	r, err := scanRole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("role %q: %w", name, authzerr.ErrRoleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return r, nil
}

// ListRoles lists system roles plus the custom roles of orgID
func (s *Store) ListRoles(ctx context.Context, orgID int64) ([]*Role, error) {
	query := `
		SELECT ` + roleColumns + ` FROM roles
		WHERE organization_id IS NULL OR organization_id = $1
		ORDER BY is_system_role DESC, name
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// CreateRole creates a new role
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO roles (name, description, organization_id, is_system_role, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		role.Name, role.Description, role.OrganizationID, role.IsSystemRole, role.CreatedAt,
	).Scan(&role.ID)
	if storage.IsUniqueViolation(err) {
		return fmt.Errorf("role %q: %w", role.Name, authzerr.ErrDuplicateAssignment)
	}
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// ReplaceRolePermissions sets the grants of a role to exactly permissionIDs.
// It must run inside a transaction.
func (s *Store) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("failed to clear role permissions: %w", err)
	}
	for _, permID := range permissionIDs {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO role_permissions (role_id, permission_id)
			VALUES ($1, $2)
			ON CONFLICT (role_id, permission_id) DO NOTHING
		`, roleID, permID)
		if err != nil {
			return fmt.Errorf("failed to grant permission %d: %w", permID, err)
		}
	}
	return nil
}

// RolePermissions returns every permission granted to the role, ignoring features
func (s *Store) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	query := `
		SELECT p.id, p.name, p.feature_id, p.description
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.name
	`
	return s.listPermissions(ctx, query, roleID)
}

// GatedRolePermissions returns the permissions granted to the role whose
// feature is mandatory or enabled in exactly workspaceID.
func (s *Store) GatedRolePermissions(ctx context.Context, roleID, workspaceID int64) ([]Permission, error) {
	query := `
		SELECT p.id, p.name, p.feature_id, p.description
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		JOIN features f ON f.id = p.feature_id
		WHERE rp.role_id = $1
		  AND (
			f.mandatory = TRUE OR EXISTS (
				SELECT 1 FROM workspace_features wf
				WHERE wf.feature_id = f.id AND wf.workspace_id = $2 AND wf.enabled = TRUE
			)
		  )
		ORDER BY p.name
	`
	return s.listPermissions(ctx, query, roleID, workspaceID)
}
