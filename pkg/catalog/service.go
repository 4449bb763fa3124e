package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/platinummonkey/warden/pkg/authzerr"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/platinummonkey/warden/pkg/workspaces"
)

// Service is the Role & Permission Catalog. Reads go through read (a replica
// in production) and the grant cache; writes go to primary and invalidate the
// cache. Cache fills always load from primary so a lagging replica can never
// repopulate an entry that was just invalidated.
type Service struct {
	primary *sql.DB
	read    *Store
	fill    *Store
	cache   *Cache
}

// NewService creates a catalog service. read may be the same handle as primary.
// cache may be nil to disable caching.
func NewService(primary *sql.DB, read storage.DBTX, cache *Cache) *Service {
	return &Service{
		primary: primary,
		read:    NewStore(read),
		fill:    NewStore(primary),
		cache:   cache,
	}
}

// GetPermissionByName resolves a resource.action name
func (s *Service) GetPermissionByName(ctx context.Context, name string) (*Permission, error) {
	return s.read.GetPermissionByName(ctx, name)
}

// ListPermissions lists the full permission catalog
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.read.ListPermissions(ctx)
}

// GetFeatureBySlug resolves a feature slug
func (s *Service) GetFeatureBySlug(ctx context.Context, slug string) (*Feature, error) {
	return s.read.GetFeatureBySlug(ctx, slug)
}

// ListFeatures lists every feature
func (s *Service) ListFeatures(ctx context.Context) ([]*Feature, error) {
	return s.read.ListFeatures(ctx)
}

// ListFeaturePermissions lists the permissions owned by a feature
func (s *Service) ListFeaturePermissions(ctx context.Context, featureID int64) ([]Permission, error) {
	return s.read.ListFeaturePermissions(ctx, featureID)
}

// GetRole retrieves a role by id
func (s *Service) GetRole(ctx context.Context, id int64) (*Role, error) {
	return s.read.GetRole(ctx, id)
}

// GetRoleByName retrieves a system role (orgID nil) or a custom role of orgID
func (s *Service) GetRoleByName(ctx context.Context, name string, orgID *int64) (*Role, error) {
	return s.read.GetRoleByName(ctx, name, orgID)
}

// ListRoles lists the roles usable in an organization
func (s *Service) ListRoles(ctx context.Context, orgID int64) ([]*Role, error) {
	return s.read.ListRoles(ctx, orgID)
}

// IsFeatureActive reports whether feature is usable in exactly workspaceID.
// Mandatory features are always active.
func (s *Service) IsFeatureActive(ctx context.Context, workspaceID, featureID int64) (bool, error) {
	mandatory, enabled, err := s.read.FeatureState(ctx, workspaceID, featureID)
	if err != nil {
		return false, err
	}
	return mandatory || enabled, nil
}

// GetRolePermissions returns the permissions granted by roleID whose feature
// is active in workspaceID. The same role can grant less in a workspace where
// a feature is disabled.
func (s *Service) GetRolePermissions(ctx context.Context, roleID, workspaceID int64) (PermissionSet, error) {
	var perms []Permission
	var err error
	if s.cache != nil {
		perms, err = s.cache.RolePermissions(ctx, roleID, workspaceID, func(ctx context.Context) ([]Permission, error) {
			return s.fill.GatedRolePermissions(ctx, roleID, workspaceID)
		})
	} else {
		perms, err = s.read.GatedRolePermissions(ctx, roleID, workspaceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load role %d permissions: %w", roleID, err)
	}
	return NewPermissionSet(perms...), nil
}

// CreateCustomRole creates a role scoped to orgID with the named permissions
func (s *Service) CreateCustomRole(ctx context.Context, orgID int64, name, description string, permissions []string) (*Role, error) {
	role := &Role{
		Name:           name,
		Description:    description,
		OrganizationID: &orgID,
		CreatedAt:      time.Now().UTC(),
	}

	err := storage.WithTx(ctx, s.primary, func(tx *sql.Tx) error {
		if _, err := workspaces.NewStore(tx).GetOrganization(ctx, orgID); err != nil {
			return err
		}
		store := NewStore(tx)
		ids, err := resolvePermissionIDs(ctx, store, permissions)
		if err != nil {
			return err
		}
		if err := store.CreateRole(ctx, role); err != nil {
			return err
		}
		return store.ReplaceRolePermissions(ctx, role.ID, ids)
	})
	if err != nil {
		return nil, err
	}
	return role, nil
}

// SetRolePermissions replaces the grants of a custom role. System role grants
// come from the catalog definition and cannot be changed here.
func (s *Service) SetRolePermissions(ctx context.Context, roleID int64, permissions []string) error {
	err := storage.WithTx(ctx, s.primary, func(tx *sql.Tx) error {
		store := NewStore(tx)
		role, err := store.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if role.IsSystemRole {
			return fmt.Errorf("role %s: %w", role.Name, authzerr.ErrCatalogImmutable)
		}
		ids, err := resolvePermissionIDs(ctx, store, permissions)
		if err != nil {
			return err
		}
		return store.ReplaceRolePermissions(ctx, roleID, ids)
	})
	if err != nil {
		return err
	}

	if s.cache != nil {
		return s.cache.InvalidateRole(ctx, roleID)
	}
	return nil
}

// SetFeatureEnabled activates or deactivates a feature in one workspace.
// Mandatory features cannot be disabled.
func (s *Service) SetFeatureEnabled(ctx context.Context, workspaceID int64, slug string, enabled bool, config json.RawMessage) (*WorkspaceFeature, error) {
	store := NewStore(s.primary)

	feature, err := store.GetFeatureBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if feature.Mandatory && !enabled {
		return nil, fmt.Errorf("feature %s is mandatory: %w", slug, authzerr.ErrCatalogImmutable)
	}

	wf := &WorkspaceFeature{
		WorkspaceID: workspaceID,
		FeatureID:   feature.ID,
		Enabled:     enabled,
		Config:      config,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := store.UpsertWorkspaceFeature(ctx, wf); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.InvalidateWorkspace(ctx, workspaceID); err != nil {
			return nil, err
		}
	}
	return wf, nil
}

// InvalidateWorkspace drops cached grants of workspaceID
func (s *Service) InvalidateWorkspace(ctx context.Context, workspaceID int64) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.InvalidateWorkspace(ctx, workspaceID)
}

func resolvePermissionIDs(ctx context.Context, store *Store, names []string) ([]int64, error) {
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		perm, err := store.GetPermissionByName(ctx, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, perm.ID)
	}
	return ids, nil
}
