package assignment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/authzerr"
	"github.com/platinummonkey/warden/pkg/catalog"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/workspaces"
)

// ToggleFeature enables or disables a feature in workspaceID on behalf of
// actorID, who must hold features.manage there.
func (m *Manager) ToggleFeature(ctx context.Context, workspaceID int64, slug string, enabled bool, config json.RawMessage, actorID int64) (*catalog.WorkspaceFeature, error) {
	event := newEvent(ctx, audit.EventTypeFeatureToggled, audit.ResourceTypeFeature, actorID, 0)
	event.WorkspaceID = audit.Int64(workspaceID)
	event.ResourceID = slug
	var wf *catalog.WorkspaceFeature
	err := m.run(ctx, "toggle_feature", event, func(ctx context.Context) error {
		root, err := workspaces.NewStore(m.db).ResolveOrganizationRoot(ctx, workspaceID)
		if err != nil {
			return err
		}
		event.OrganizationID = audit.Int64(root.ID)

		if err := m.require(ctx, actorID, workspaceID, rbac.PermFeaturesManage); err != nil {
			return err
		}
		wf, err = m.catalog.SetFeatureEnabled(ctx, workspaceID, slug, enabled, config)
		if err != nil {
			return err
		}
		event.Message = fmt.Sprintf("set feature %s enabled=%t", slug, enabled)
		event.Metadata = map[string]interface{}{"enabled": enabled}
		return nil
	})
	return wf, err
}

// CreateCustomRole adds a role scoped to orgID. actorID must hold roles.manage
// in the organization.
func (m *Manager) CreateCustomRole(ctx context.Context, orgID int64, name, description string, permissions []string, actorID int64) (*catalog.Role, error) {
	event := newEvent(ctx, audit.EventTypeCustomRoleCreated, audit.ResourceTypeRole, actorID, 0)
	event.OrganizationID = audit.Int64(orgID)
	event.WorkspaceID = audit.Int64(orgID)
	var role *catalog.Role
	err := m.run(ctx, "create_custom_role", event, func(ctx context.Context) error {
		if err := m.require(ctx, actorID, orgID, rbac.PermRolesManage); err != nil {
			return err
		}
		var err error
		role, err = m.catalog.CreateCustomRole(ctx, orgID, name, description, permissions)
		if err != nil {
			return err
		}
		event.ResourceID = fmt.Sprintf("%d", role.ID)
		event.Message = fmt.Sprintf("created role %s", name)
		event.Metadata = map[string]interface{}{"permissions": permissions}
		return nil
	})
	return role, err
}

// UpdateRoleGrants replaces the permissions of a custom role. actorID must
// hold roles.manage in the role's organization. System roles are immutable.
func (m *Manager) UpdateRoleGrants(ctx context.Context, roleID int64, permissions []string, actorID int64) error {
	event := newEvent(ctx, audit.EventTypeRoleGrantsUpdated, audit.ResourceTypeRole, actorID, 0)
	event.ResourceID = fmt.Sprintf("%d", roleID)
	return m.run(ctx, "update_role_grants", event, func(ctx context.Context) error {
		role, err := catalog.NewStore(m.db).GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if role.OrganizationID == nil {
			return fmt.Errorf("role %s: %w", role.Name, authzerr.ErrCatalogImmutable)
		}
		orgID := *role.OrganizationID
		event.OrganizationID = audit.Int64(orgID)
		event.WorkspaceID = audit.Int64(orgID)

		if err := m.require(ctx, actorID, orgID, rbac.PermRolesManage); err != nil {
			return err
		}
		if err := m.catalog.SetRolePermissions(ctx, roleID, permissions); err != nil {
			return err
		}
		event.Message = fmt.Sprintf("updated grants of role %s", role.Name)
		event.Metadata = map[string]interface{}{"permissions": permissions}
		return nil
	})
}
