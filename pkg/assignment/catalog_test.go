package assignment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/authzerr"
)

func TestToggleFeature(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)
	f.staff(t)

	_, err := f.manager.ToggleFeature(ctx, f.acme.ID, "boards", false, nil, userMember)
	assert.ErrorIs(t, err, authzerr.ErrInsufficientAuthority)
	assert.Equal(t, audit.EventStatusDenied, f.audit.last(t).Status)
	assert.True(t, f.can(t, userMember, f.acme.ID, "boards.read"))

	wf, err := f.manager.ToggleFeature(ctx, f.acme.ID, "boards", false, nil, userAdmin)
	require.NoError(t, err)
	assert.False(t, wf.Enabled)
	assert.False(t, f.can(t, userMember, f.acme.ID, "boards.read"), "grant is gated by the disabled feature")
	assert.True(t, f.can(t, userOwner, f.acme.ID, "boards.read"), "owner bypasses feature gates")

	event := f.audit.last(t)
	assert.Equal(t, audit.EventTypeFeatureToggled, event.EventType)
	assert.Equal(t, f.acme.ID, *event.OrganizationID)
	assert.Equal(t, "boards", event.ResourceID)

	_, err = f.manager.ToggleFeature(ctx, f.acme.ID, "members", false, nil, userOwner)
	assert.ErrorIs(t, err, authzerr.ErrCatalogImmutable)

	_, err = f.manager.ToggleFeature(ctx, 4040, "boards", true, nil, userOwner)
	assert.ErrorIs(t, err, authzerr.ErrWorkspaceNotFound)
}

func TestCreateCustomRole(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)
	f.staff(t)

	_, err := f.manager.CreateCustomRole(ctx, f.acme.ID, "triage", "", []string{"boards.read"}, userMember)
	assert.ErrorIs(t, err, authzerr.ErrInsufficientAuthority)

	role, err := f.manager.CreateCustomRole(ctx, f.acme.ID, "triage", "Moves cards around", []string{"boards.read", "boards.delete"}, userAdmin)
	require.NoError(t, err)
	require.NotNil(t, role.OrganizationID)
	assert.Equal(t, f.acme.ID, *role.OrganizationID)
	assert.False(t, role.IsSystemRole)
	assert.Equal(t, audit.EventTypeCustomRoleCreated, f.audit.last(t).EventType)

	_, err = f.manager.AssignRole(ctx, f.acme.ID, 20, role.ID, userOwner)
	require.NoError(t, err)
	assert.True(t, f.can(t, 20, f.acme.ID, "boards.delete"))
	assert.False(t, f.can(t, 20, f.acme.ID, "boards.create"))

	// custom roles are scoped to their organization
	_, err = f.manager.AssignRole(ctx, f.globex.ID, 21, role.ID, 50)
	assert.ErrorIs(t, err, authzerr.ErrRoleNotFound)
}

func TestUpdateRoleGrants(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)
	f.staff(t)

	role, err := f.manager.CreateCustomRole(ctx, f.acme.ID, "triage", "", []string{"boards.read"}, userOwner)
	require.NoError(t, err)
	_, err = f.manager.AssignRole(ctx, f.acme.ID, 20, role.ID, userOwner)
	require.NoError(t, err)
	assert.False(t, f.can(t, 20, f.acme.ID, "boards.delete"))

	assert.ErrorIs(t, f.manager.UpdateRoleGrants(ctx, role.ID, []string{"boards.delete"}, userMember), authzerr.ErrInsufficientAuthority)

	require.NoError(t, f.manager.UpdateRoleGrants(ctx, role.ID, []string{"boards.read", "boards.delete"}, userAdmin))
	assert.True(t, f.can(t, 20, f.acme.ID, "boards.delete"), "cached grants are invalidated")

	event := f.audit.last(t)
	assert.Equal(t, audit.EventTypeRoleGrantsUpdated, event.EventType)
	assert.Equal(t, audit.EventStatusSuccess, event.Status)

	err = f.manager.UpdateRoleGrants(ctx, f.roles["member"].ID, []string{"boards.delete"}, userOwner)
	assert.ErrorIs(t, err, authzerr.ErrCatalogImmutable)

	err = f.manager.UpdateRoleGrants(ctx, 4040, nil, userOwner)
	assert.ErrorIs(t, err, authzerr.ErrRoleNotFound)
}
