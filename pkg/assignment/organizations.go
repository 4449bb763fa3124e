package assignment

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/authority"
	"github.com/platinummonkey/warden/pkg/authzerr"
	"github.com/platinummonkey/warden/pkg/catalog"
	"github.com/platinummonkey/warden/pkg/memberships"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/platinummonkey/warden/pkg/workspaces"
)

// AssignSuperAdmin designates userID as Super Admin of orgID. Only the Owner
// may do this, and the Owner cannot designate themself.
func (m *Manager) AssignSuperAdmin(ctx context.Context, orgID, userID, actorID int64) error {
	event := newEvent(ctx, audit.EventTypeSuperAdminAssigned, audit.ResourceTypeSuperAdmin, actorID, userID)
	event.OrganizationID = audit.Int64(orgID)
	event.WorkspaceID = audit.Int64(orgID)
	return m.run(ctx, "assign_super_admin", event, func(ctx context.Context) error {
		org, err := workspaces.NewStore(m.db).GetOrganization(ctx, orgID)
		if err != nil {
			return err
		}
		if err := requireOwner(org, actorID); err != nil {
			return err
		}
		if err := m.guardTarget(ctx, org, userID, actorID); err != nil {
			return err
		}

		err = authority.NewDesignationStore(m.db).Insert(ctx, &authority.Designation{
			OrganizationID: orgID,
			UserID:         userID,
			AssignedBy:     actorID,
		})
		if err != nil {
			return err
		}
		event.ResourceID = fmt.Sprintf("%d:%d", orgID, userID)
		event.Message = fmt.Sprintf("designated user %d as super admin", userID)
		return nil
	})
}

// RevokeSuperAdmin removes the designation of userID. Only the Owner may do
// this; a user who is not a Super Admin yields ErrDesignationNotFound.
func (m *Manager) RevokeSuperAdmin(ctx context.Context, orgID, userID, actorID int64) error {
	event := newEvent(ctx, audit.EventTypeSuperAdminRevoked, audit.ResourceTypeSuperAdmin, actorID, userID)
	event.OrganizationID = audit.Int64(orgID)
	event.WorkspaceID = audit.Int64(orgID)
	return m.run(ctx, "revoke_super_admin", event, func(ctx context.Context) error {
		org, err := workspaces.NewStore(m.db).GetOrganization(ctx, orgID)
		if err != nil {
			return err
		}
		if err := requireOwner(org, actorID); err != nil {
			return err
		}
		if err := authority.NewDesignationStore(m.db).Delete(ctx, orgID, userID); err != nil {
			return err
		}
		event.ResourceID = fmt.Sprintf("%d:%d", orgID, userID)
		event.Message = fmt.Sprintf("revoked super admin from user %d", userID)
		return nil
	})
}

// TransferOwnership hands orgID from currentOwner to newOwner. Only the
// current owner may call it. The owner swap and the new owner's enrollment
// commit together, and a concurrent transfer that already moved ownership
// makes this one fail with ErrInsufficientAuthority. Transferring to the
// current owner is a no-op.
func (m *Manager) TransferOwnership(ctx context.Context, orgID, currentOwner, newOwner, actorID int64) error {
	event := newEvent(ctx, audit.EventTypeOwnershipTransfer, audit.ResourceTypeWorkspace, actorID, newOwner)
	event.OrganizationID = audit.Int64(orgID)
	event.WorkspaceID = audit.Int64(orgID)
	event.ResourceID = fmt.Sprintf("%d", orgID)
	return m.run(ctx, "transfer_ownership", event, func(ctx context.Context) error {
		return storage.WithTx(ctx, m.db, func(tx *sql.Tx) error {
			store := workspaces.NewStore(tx)
			org, err := store.GetOrganization(ctx, orgID)
			if err != nil {
				return err
			}
			if err := requireOwner(org, actorID); err != nil {
				return err
			}
			if err := requireOwner(org, currentOwner); err != nil {
				return err
			}
			if newOwner == currentOwner {
				event.Message = "ownership unchanged"
				return nil
			}

			moved, err := store.TransferOwner(ctx, orgID, currentOwner, newOwner)
			if err != nil {
				return err
			}
			if !moved {
				return fmt.Errorf("ownership of organization %d changed concurrently: %w", orgID, authzerr.ErrInsufficientAuthority)
			}

			role, err := catalog.NewStore(tx).GetRoleByName(ctx, m.cfg.OwnerRole, nil)
			if err != nil {
				return err
			}
			enrolled, err := memberships.NewStore(tx).Ensure(ctx, &memberships.Membership{
				WorkspaceID: orgID,
				UserID:      newOwner,
				RoleID:      role.ID,
				InvitedBy:   &actorID,
			})
			if err != nil {
				return err
			}

			event.Message = fmt.Sprintf("transferred ownership from %d to %d", currentOwner, newOwner)
			event.Changes = &audit.ChangeDetails{
				Before: map[string]interface{}{"owner_id": currentOwner},
				After:  map[string]interface{}{"owner_id": newOwner},
			}
			event.Metadata = map[string]interface{}{"enrolled": enrolled}
			return nil
		})
	})
}

// DeleteOrganization removes orgID with its projects, memberships,
// designations, custom roles and feature activations. Only the Owner may
// call it.
func (m *Manager) DeleteOrganization(ctx context.Context, orgID, actorID int64) error {
	event := newEvent(ctx, audit.EventTypeOrganizationDeleted, audit.ResourceTypeWorkspace, actorID, 0)
	event.OrganizationID = audit.Int64(orgID)
	event.WorkspaceID = audit.Int64(orgID)
	event.ResourceID = fmt.Sprintf("%d", orgID)
	return m.run(ctx, "delete_organization", event, func(ctx context.Context) error {
		store := workspaces.NewStore(m.db)
		org, err := store.GetOrganization(ctx, orgID)
		if err != nil {
			return err
		}
		if err := requireOwner(org, actorID); err != nil {
			return err
		}
		projects, err := store.ListProjects(ctx, orgID)
		if err != nil {
			return err
		}

		err = storage.WithTx(ctx, m.db, func(tx *sql.Tx) error {
			return workspaces.NewStore(tx).DeleteOrganization(ctx, orgID)
		})
		if err != nil {
			return err
		}

		if m.catalog != nil {
			for _, id := range append([]int64{orgID}, projectIDs(projects)...) {
				if err := m.catalog.InvalidateWorkspace(ctx, id); err != nil {
					m.logger.WithError(err).WithField("workspace_id", id).Warn("failed to invalidate cached grants")
				}
			}
		}
		event.Message = fmt.Sprintf("deleted organization %s", org.Name)
		event.Metadata = map[string]interface{}{"projects": len(projects)}
		return nil
	})
}

func projectIDs(projects []*workspaces.Workspace) []int64 {
	ids := make([]int64, len(projects))
	for i, p := range projects {
		ids[i] = p.ID
	}
	return ids
}

// ProvisionOrganization creates an organization owned by creatorID and
// bootstraps the creator as its first member with the owner role.
func (m *Manager) ProvisionOrganization(ctx context.Context, name string, creatorID int64) (*workspaces.Workspace, *memberships.Membership, error) {
	event := newEvent(ctx, audit.EventTypeOrganizationCreated, audit.ResourceTypeWorkspace, creatorID, creatorID)
	var (
		org        *workspaces.Workspace
		membership *memberships.Membership
	)
	err := m.run(ctx, "provision_organization", event, func(ctx context.Context) error {
		role, err := catalog.NewStore(m.db).GetRoleByName(ctx, m.cfg.OwnerRole, nil)
		if err != nil {
			return err
		}
		return storage.WithTx(ctx, m.db, func(tx *sql.Tx) error {
			org, err = workspaces.NewStore(tx).CreateOrganization(ctx, name, creatorID)
			if err != nil {
				return err
			}
			event.OrganizationID = audit.Int64(org.ID)
			event.WorkspaceID = audit.Int64(org.ID)
			membership, err = bootstrap(ctx, tx, event, org, creatorID, role)
			if err != nil {
				return err
			}
			event.ResourceID = fmt.Sprintf("%d", org.ID)
			event.Message = fmt.Sprintf("created organization %s", org.Name)
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return org, membership, nil
}

// ProvisionProject creates a project under orgID and enrolls creatorID in it
// with the project creator role. The creator must hold projects.create in
// the organization.
func (m *Manager) ProvisionProject(ctx context.Context, orgID int64, name string, creatorID int64) (*workspaces.Workspace, *memberships.Membership, error) {
	event := newEvent(ctx, audit.EventTypeProjectCreated, audit.ResourceTypeWorkspace, creatorID, creatorID)
	event.OrganizationID = audit.Int64(orgID)
	var (
		project    *workspaces.Workspace
		membership *memberships.Membership
	)
	err := m.run(ctx, "provision_project", event, func(ctx context.Context) error {
		if _, err := workspaces.NewStore(m.db).GetOrganization(ctx, orgID); err != nil {
			return err
		}
		if err := m.require(ctx, creatorID, orgID, rbac.PermProjectsCreate); err != nil {
			return err
		}
		role, err := catalog.NewStore(m.db).GetRoleByName(ctx, m.cfg.ProjectCreatorRole, nil)
		if err != nil {
			return err
		}

		return storage.WithTx(ctx, m.db, func(tx *sql.Tx) error {
			project, err = workspaces.NewStore(tx).CreateProject(ctx, orgID, name)
			if err != nil {
				return err
			}
			membership, err = m.assign(ctx, tx, event, project.ID, creatorID, role.ID, creatorID)
			if err != nil {
				return err
			}
			event.ResourceID = fmt.Sprintf("%d", project.ID)
			event.Message = fmt.Sprintf("created project %s", project.Name)
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return project, membership, nil
}
