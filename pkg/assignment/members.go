package assignment

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/authzerr"
	"github.com/platinummonkey/warden/pkg/catalog"
	"github.com/platinummonkey/warden/pkg/memberships"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/platinummonkey/warden/pkg/workspaces"
)

// AssignRole grants roleID to userID in workspaceID. A user holds at most one
// membership per workspace, so a second assignment fails with
// ErrDuplicateAssignment even when two callers race. Self-assignment is
// allowed; callers that need an inviter check use InviteMember.
func (m *Manager) AssignRole(ctx context.Context, workspaceID, userID, roleID, invitedBy int64) (*memberships.Membership, error) {
	event := newEvent(ctx, audit.EventTypeRoleAssigned, audit.ResourceTypeMembership, invitedBy, userID)
	var membership *memberships.Membership
	err := m.run(ctx, "assign_role", event, func(ctx context.Context) error {
		var err error
		membership, err = m.assign(ctx, m.db, event, workspaceID, userID, roleID, invitedBy)
		return err
	})
	return membership, err
}

// InviteMember is AssignRole on behalf of actorID, who must hold members.invite
func (m *Manager) InviteMember(ctx context.Context, workspaceID, userID, roleID, actorID int64) (*memberships.Membership, error) {
	event := newEvent(ctx, audit.EventTypeRoleAssigned, audit.ResourceTypeMembership, actorID, userID)
	var membership *memberships.Membership
	err := m.run(ctx, "invite_member", event, func(ctx context.Context) error {
		if err := m.require(ctx, actorID, workspaceID, rbac.PermMembersInvite); err != nil {
			event.WorkspaceID = audit.Int64(workspaceID)
			return err
		}
		var err error
		membership, err = m.assign(ctx, m.db, event, workspaceID, userID, roleID, actorID)
		return err
	})
	return membership, err
}

func (m *Manager) assign(ctx context.Context, db storage.DBTX, event *audit.AuditEvent, workspaceID, userID, roleID, invitedBy int64) (*memberships.Membership, error) {
	event.WorkspaceID = audit.Int64(workspaceID)

	root, err := workspaces.NewStore(db).ResolveOrganizationRoot(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	event.OrganizationID = audit.Int64(root.ID)

	role, err := usableRole(ctx, catalog.NewStore(db), roleID, root)
	if err != nil {
		return nil, err
	}

	membership := &memberships.Membership{
		WorkspaceID: workspaceID,
		UserID:      userID,
		RoleID:      role.ID,
		InvitedBy:   &invitedBy,
	}
	if err := memberships.NewStore(db).Insert(ctx, membership); err != nil {
		return nil, err
	}

	event.ResourceID = fmt.Sprintf("%d", membership.ID)
	event.Message = fmt.Sprintf("assigned role %s to user %d", role.Name, userID)
	event.Metadata = map[string]interface{}{"role_id": role.ID, "role": role.Name}
	return membership, nil
}

// RemoveRole deletes the membership of userID in workspaceID. actorID must
// hold roles.remove. The Owner can never be removed, and a Super Admin can
// only be removed by the Owner.
func (m *Manager) RemoveRole(ctx context.Context, workspaceID, userID, actorID int64) error {
	event := newEvent(ctx, audit.EventTypeRoleRemoved, audit.ResourceTypeMembership, actorID, userID)
	event.WorkspaceID = audit.Int64(workspaceID)
	return m.run(ctx, "remove_role", event, func(ctx context.Context) error {
		root, err := workspaces.NewStore(m.db).ResolveOrganizationRoot(ctx, workspaceID)
		if err != nil {
			return err
		}
		event.OrganizationID = audit.Int64(root.ID)

		if err := m.require(ctx, actorID, workspaceID, rbac.PermRolesRemove); err != nil {
			return err
		}
		if err := m.guardTarget(ctx, root, userID, actorID); err != nil {
			return err
		}

		store := memberships.NewStore(m.db)
		existing, err := store.Get(ctx, workspaceID, userID)
		if err != nil {
			return err
		}
		if err := store.Delete(ctx, workspaceID, userID); err != nil {
			return err
		}

		event.ResourceID = fmt.Sprintf("%d", existing.ID)
		event.Message = fmt.Sprintf("removed user %d from workspace %d", userID, workspaceID)
		event.Metadata = map[string]interface{}{"role_id": existing.RoleID}
		return nil
	})
}

// ChangeRole replaces the role of an existing membership. actorID must hold
// roles.assign, and the same Owner and Super Admin protections as RemoveRole
// apply.
func (m *Manager) ChangeRole(ctx context.Context, workspaceID, userID, roleID, actorID int64) (*memberships.Membership, error) {
	event := newEvent(ctx, audit.EventTypeRoleChanged, audit.ResourceTypeMembership, actorID, userID)
	event.WorkspaceID = audit.Int64(workspaceID)
	var membership *memberships.Membership
	err := m.run(ctx, "change_role", event, func(ctx context.Context) error {
		root, err := workspaces.NewStore(m.db).ResolveOrganizationRoot(ctx, workspaceID)
		if err != nil {
			return err
		}
		event.OrganizationID = audit.Int64(root.ID)

		if err := m.require(ctx, actorID, workspaceID, rbac.PermRolesAssign); err != nil {
			return err
		}
		if err := m.guardTarget(ctx, root, userID, actorID); err != nil {
			return err
		}
		role, err := usableRole(ctx, catalog.NewStore(m.db), roleID, root)
		if err != nil {
			return err
		}

		store := memberships.NewStore(m.db)
		before, err := store.Get(ctx, workspaceID, userID)
		if err != nil {
			return err
		}
		if err := store.UpdateRole(ctx, workspaceID, userID, role.ID); err != nil {
			return err
		}
		membership = before
		membership.RoleID = role.ID

		event.ResourceID = fmt.Sprintf("%d", before.ID)
		event.Message = fmt.Sprintf("changed role of user %d to %s", userID, role.Name)
		event.Changes = &audit.ChangeDetails{
			Before: map[string]interface{}{"role_id": before.RoleID},
			After:  map[string]interface{}{"role_id": role.ID},
		}
		return nil
	})
	return membership, err
}

// BootstrapFirstMember enrolls the owner of an organization that has no
// members yet. It fails with ErrBootstrapPrecondition when creatorID is not
// the owner or when any membership already exists, and with
// ErrNotOrganization for a project.
func (m *Manager) BootstrapFirstMember(ctx context.Context, workspaceID, creatorID, roleID int64) (*memberships.Membership, error) {
	event := newEvent(ctx, audit.EventTypeMemberBootstrapped, audit.ResourceTypeMembership, creatorID, creatorID)
	event.WorkspaceID = audit.Int64(workspaceID)
	var membership *memberships.Membership
	err := m.run(ctx, "bootstrap_first_member", event, func(ctx context.Context) error {
		org, err := workspaces.NewStore(m.db).Get(ctx, workspaceID)
		if err != nil {
			return err
		}
		if !org.IsOrganization() {
			return fmt.Errorf("workspace %d: %w", workspaceID, authzerr.ErrNotOrganization)
		}
		event.OrganizationID = audit.Int64(org.ID)
		role, err := usableRole(ctx, catalog.NewStore(m.db), roleID, org)
		if err != nil {
			return err
		}

		return storage.WithTx(ctx, m.db, func(tx *sql.Tx) error {
			membership, err = bootstrap(ctx, tx, event, org, creatorID, role)
			return err
		})
	})
	return membership, err
}

func bootstrap(ctx context.Context, db storage.DBTX, event *audit.AuditEvent, org *workspaces.Workspace, creatorID int64, role *catalog.Role) (*memberships.Membership, error) {
	if !org.IsOwnedBy(creatorID) {
		return nil, fmt.Errorf("user %d does not own organization %d: %w", creatorID, org.ID, authzerr.ErrBootstrapPrecondition)
	}
	membership := &memberships.Membership{
		WorkspaceID: org.ID,
		UserID:      creatorID,
		RoleID:      role.ID,
		InvitedBy:   &creatorID,
	}
	if err := memberships.NewStore(db).InsertIfEmpty(ctx, membership); err != nil {
		return nil, err
	}
	event.ResourceID = fmt.Sprintf("%d", membership.ID)
	event.Message = fmt.Sprintf("bootstrapped owner %d with role %s", creatorID, role.Name)
	return membership, nil
}
