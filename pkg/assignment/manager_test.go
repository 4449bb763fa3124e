package assignment

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/authzerr"
	"github.com/platinummonkey/warden/pkg/catalog"
	"github.com/platinummonkey/warden/pkg/memberships"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/storage/storagetest"
	"github.com/platinummonkey/warden/pkg/workspaces"
)

const (
	userOwner      int64 = 1
	userSuperAdmin int64 = 2
	userAdmin      int64 = 3
	userMember     int64 = 4
	userNewOwner   int64 = 5
	userStranger   int64 = 99
)

// recordingLogger keeps every audit event in memory
type recordingLogger struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
}

func (r *recordingLogger) Log(_ context.Context, event *audit.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingLogger) Close() error { return nil }

func (r *recordingLogger) last(t *testing.T) *audit.AuditEvent {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.events)
	return r.events[len(r.events)-1]
}

type managerFixture struct {
	db      *sql.DB
	manager *Manager
	engine  *rbac.Engine
	catalog *catalog.Service
	audit   *recordingLogger
	metrics *observability.Metrics
	acme    *workspaces.Workspace
	project *workspaces.Workspace
	globex  *workspaces.Workspace
	roles   map[string]*catalog.Role
}

// newManagerFixture seeds the catalog and creates Acme (owner U1, no members
// yet) with project AcmeProject1, plus Globex owned by someone else. Boards
// are enabled in Acme.
func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	ctx := context.Background()
	db := storagetest.NewSQLite(t)

	def, err := catalog.DefaultDefinition()
	require.NoError(t, err)
	require.NoError(t, catalog.Seed(ctx, db, def))

	ws := workspaces.NewStore(db)
	acme, err := ws.CreateOrganization(ctx, "Acme", userOwner)
	require.NoError(t, err)
	project, err := ws.CreateProject(ctx, acme.ID, "AcmeProject1")
	require.NoError(t, err)
	globex, err := ws.CreateOrganization(ctx, "Globex", 50)
	require.NoError(t, err)

	cat := catalog.NewService(db, db, catalog.NewCache(catalog.DefaultCacheConfig(), nil, nil, nil))
	_, err = cat.SetFeatureEnabled(ctx, acme.ID, "boards", true, nil)
	require.NoError(t, err)
	roles := make(map[string]*catalog.Role)
	for _, name := range []string{"owner", "admin", "member", "viewer"} {
		role, err := cat.GetRoleByName(ctx, name, nil)
		require.NoError(t, err)
		roles[name] = role
	}

	engine := rbac.NewEngine(db, cat)
	recorder := &recordingLogger{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	return &managerFixture{
		db:      db,
		manager: NewManager(db, engine, cat, WithAuditLogger(recorder), WithMetrics(metrics)),
		engine:  engine,
		catalog: cat,
		audit:   recorder,
		metrics: metrics,
		acme:    acme,
		project: project,
		globex:  globex,
		roles:   roles,
	}
}

// staff bootstraps the owner and adds a super admin, an admin and a member to Acme
func (f *managerFixture) staff(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := f.manager.BootstrapFirstMember(ctx, f.acme.ID, userOwner, f.roles["owner"].ID)
	require.NoError(t, err)
	require.NoError(t, f.manager.AssignSuperAdmin(ctx, f.acme.ID, userSuperAdmin, userOwner))
	f.assign(t, f.acme.ID, userSuperAdmin, "member")
	f.assign(t, f.acme.ID, userAdmin, "admin")
	f.assign(t, f.acme.ID, userMember, "member")
}

func (f *managerFixture) assign(t *testing.T, workspaceID, userID int64, role string) *memberships.Membership {
	t.Helper()
	m, err := f.manager.AssignRole(context.Background(), workspaceID, userID, f.roles[role].ID, userOwner)
	require.NoError(t, err)
	return m
}

func (f *managerFixture) can(t *testing.T, userID, workspaceID int64, permission string) bool {
	t.Helper()
	ok, err := f.engine.HasPermission(context.Background(), userID, workspaceID, permission)
	require.NoError(t, err)
	return ok
}

func TestBootstrapFirstMember(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)
	ownerRole := f.roles["owner"].ID

	_, err := f.manager.BootstrapFirstMember(ctx, f.acme.ID, userStranger, ownerRole)
	assert.ErrorIs(t, err, authzerr.ErrBootstrapPrecondition, "only the owner may bootstrap")

	m, err := f.manager.BootstrapFirstMember(ctx, f.acme.ID, userOwner, ownerRole)
	require.NoError(t, err)
	assert.Equal(t, userOwner, m.UserID)
	assert.Equal(t, ownerRole, m.RoleID)
	require.NotNil(t, m.InvitedBy)
	assert.Equal(t, userOwner, *m.InvitedBy)
	assert.True(t, f.can(t, userOwner, f.acme.ID, rbac.PermOrganizationDelete))

	event := f.audit.last(t)
	assert.Equal(t, audit.EventTypeMemberBootstrapped, event.EventType)
	assert.Equal(t, audit.EventStatusSuccess, event.Status)

	for _, caller := range []int64{userOwner, userStranger} {
		_, err = f.manager.BootstrapFirstMember(ctx, f.acme.ID, caller, ownerRole)
		assert.ErrorIs(t, err, authzerr.ErrBootstrapPrecondition, "second bootstrap by %d", caller)
	}

	count, err := memberships.NewStore(f.db).Count(ctx, f.acme.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	t.Run("projects are provisioned through ProvisionProject", func(t *testing.T) {
		_, err := f.manager.BootstrapFirstMember(ctx, f.project.ID, userOwner, ownerRole)
		assert.ErrorIs(t, err, authzerr.ErrNotOrganization)
	})

	t.Run("unknown workspace", func(t *testing.T) {
		_, err := f.manager.BootstrapFirstMember(ctx, 4040, userOwner, ownerRole)
		assert.ErrorIs(t, err, authzerr.ErrWorkspaceNotFound)
	})

	t.Run("unknown role", func(t *testing.T) {
		_, err := f.manager.BootstrapFirstMember(ctx, f.globex.ID, 50, 4040)
		assert.ErrorIs(t, err, authzerr.ErrRoleNotFound)
	})
}

func TestAssignRole(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)

	m, err := f.manager.AssignRole(ctx, f.acme.ID, userMember, f.roles["member"].ID, userOwner)
	require.NoError(t, err)
	assert.NotZero(t, m.ID)
	assert.Equal(t, userOwner, *m.InvitedBy)

	_, err = f.manager.AssignRole(ctx, f.acme.ID, userMember, f.roles["viewer"].ID, userOwner)
	assert.ErrorIs(t, err, authzerr.ErrDuplicateAssignment)

	t.Run("self assignment", func(t *testing.T) {
		m, err := f.manager.AssignRole(ctx, f.project.ID, userStranger, f.roles["viewer"].ID, userStranger)
		require.NoError(t, err)
		assert.Equal(t, userStranger, *m.InvitedBy)
	})

	t.Run("organization roles do not reach projects", func(t *testing.T) {
		assert.True(t, f.can(t, userMember, f.acme.ID, "projects.read"))
		assert.False(t, f.can(t, userMember, f.project.ID, "projects.read"))
	})

	t.Run("custom role of another organization", func(t *testing.T) {
		globexRole, err := f.catalog.CreateCustomRole(ctx, f.globex.ID, "auditor", "", []string{"members.read"})
		require.NoError(t, err)
		_, err = f.manager.AssignRole(ctx, f.acme.ID, 7, globexRole.ID, userOwner)
		assert.ErrorIs(t, err, authzerr.ErrRoleNotFound)

		_, err = f.manager.AssignRole(ctx, f.globex.ID, 7, globexRole.ID, 50)
		assert.NoError(t, err)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := f.manager.AssignRole(ctx, 4040, 7, f.roles["member"].ID, userOwner)
		assert.ErrorIs(t, err, authzerr.ErrWorkspaceNotFound)
		_, err = f.manager.AssignRole(ctx, f.acme.ID, 7, 4040, userOwner)
		assert.ErrorIs(t, err, authzerr.ErrRoleNotFound)
	})
}

func TestAssignRoleConcurrent(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.manager.AssignRole(ctx, f.project.ID, userMember, f.roles["member"].ID, userOwner)
		}(i)
	}
	wg.Wait()

	var succeeded, duplicates int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, authzerr.ErrDuplicateAssignment):
			duplicates++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, callers-1, duplicates)
}

func TestInviteMember(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)
	f.staff(t)

	_, err := f.manager.InviteMember(ctx, f.acme.ID, 10, f.roles["viewer"].ID, userMember)
	assert.ErrorIs(t, err, authzerr.ErrInsufficientAuthority)
	assert.Equal(t, audit.EventStatusDenied, f.audit.last(t).Status)

	m, err := f.manager.InviteMember(ctx, f.acme.ID, 10, f.roles["viewer"].ID, userAdmin)
	require.NoError(t, err)
	assert.Equal(t, userAdmin, *m.InvitedBy)

	// a super admin needs no membership in the project to invite there
	_, err = f.manager.InviteMember(ctx, f.project.ID, 11, f.roles["member"].ID, userSuperAdmin)
	assert.NoError(t, err)
}

func TestAssignSuperAdmin(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)
	f.staff(t)

	// the designation alone reaches every project
	assert.True(t, f.can(t, userSuperAdmin, f.project.ID, rbac.PermProjectsCreate))

	tests := []struct {
		name    string
		userID  int64
		actorID int64
		wantErr error
	}{
		{"super admin cannot designate", 10, userSuperAdmin, authzerr.ErrInsufficientAuthority},
		{"admin cannot designate", 10, userAdmin, authzerr.ErrInsufficientAuthority},
		{"owner cannot designate themself", userOwner, userOwner, authzerr.ErrOwnerProtected},
		{"already designated", userSuperAdmin, userOwner, authzerr.ErrDuplicateAssignment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.manager.AssignSuperAdmin(ctx, f.acme.ID, tt.userID, tt.actorID)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("projects have no super admins", func(t *testing.T) {
		err := f.manager.AssignSuperAdmin(ctx, f.project.ID, 10, userOwner)
		assert.ErrorIs(t, err, authzerr.ErrNotOrganization)
	})

	t.Run("designation is per organization", func(t *testing.T) {
		assert.False(t, f.can(t, userSuperAdmin, f.globex.ID, "organization.read"))
	})
}

func TestRevokeSuperAdmin(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)
	f.staff(t)

	err := f.manager.RevokeSuperAdmin(ctx, f.acme.ID, userSuperAdmin, userSuperAdmin)
	assert.ErrorIs(t, err, authzerr.ErrInsufficientAuthority)

	err = f.manager.RevokeSuperAdmin(ctx, f.acme.ID, userAdmin, userOwner)
	assert.ErrorIs(t, err, authzerr.ErrDesignationNotFound)

	require.NoError(t, f.manager.RevokeSuperAdmin(ctx, f.acme.ID, userSuperAdmin, userOwner))
	assert.False(t, f.can(t, userSuperAdmin, f.project.ID, rbac.PermProjectsCreate))
	// the membership granted alongside the designation survives
	assert.True(t, f.can(t, userSuperAdmin, f.acme.ID, "projects.read"))

	err = f.manager.RevokeSuperAdmin(ctx, f.acme.ID, userSuperAdmin, userOwner)
	assert.ErrorIs(t, err, authzerr.ErrDesignationNotFound)
}

func TestRemoveRole(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)
	f.staff(t)
	require.NoError(t, f.manager.AssignSuperAdmin(ctx, f.acme.ID, 6, userOwner))

	tests := []struct {
		name    string
		userID  int64
		actorID int64
		wantErr error
	}{
		{"super admin removes owner", userOwner, userSuperAdmin, authzerr.ErrOwnerProtected},
		{"owner removes themself", userOwner, userOwner, authzerr.ErrOwnerProtected},
		{"super admin removes another super admin", 6, userSuperAdmin, authzerr.ErrSuperAdminProtected},
		{"super admin removes themself", userSuperAdmin, userSuperAdmin, authzerr.ErrSuperAdminProtected},
		{"admin removes super admin", userSuperAdmin, userAdmin, authzerr.ErrSuperAdminProtected},
		{"member lacks roles.remove", userAdmin, userMember, authzerr.ErrInsufficientAuthority},
		{"stranger", userMember, userStranger, authzerr.ErrInsufficientAuthority},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.manager.RemoveRole(ctx, f.acme.ID, tt.userID, tt.actorID)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, audit.EventStatusDenied, f.audit.last(t).Status)
		})
	}

	t.Run("admin removes member", func(t *testing.T) {
		require.NoError(t, f.manager.RemoveRole(ctx, f.acme.ID, userMember, userAdmin))
		assert.False(t, f.can(t, userMember, f.acme.ID, "organization.read"))

		err := f.manager.RemoveRole(ctx, f.acme.ID, userMember, userAdmin)
		assert.ErrorIs(t, err, authzerr.ErrMembershipNotFound)
	})

	t.Run("owner removes super admin membership", func(t *testing.T) {
		require.NoError(t, f.manager.RemoveRole(ctx, f.acme.ID, userSuperAdmin, userOwner))
		event := f.audit.last(t)
		assert.Equal(t, audit.EventTypeRoleRemoved, event.EventType)
		assert.Equal(t, audit.EventStatusSuccess, event.Status)
	})

	t.Run("unknown workspace", func(t *testing.T) {
		err := f.manager.RemoveRole(ctx, 4040, userMember, userOwner)
		assert.ErrorIs(t, err, authzerr.ErrWorkspaceNotFound)
	})
}

func TestChangeRole(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)
	f.staff(t)

	assert.True(t, f.can(t, userMember, f.acme.ID, "boards.create"))
	m, err := f.manager.ChangeRole(ctx, f.acme.ID, userMember, f.roles["viewer"].ID, userAdmin)
	require.NoError(t, err)
	assert.Equal(t, f.roles["viewer"].ID, m.RoleID)
	assert.False(t, f.can(t, userMember, f.acme.ID, "boards.create"))

	event := f.audit.last(t)
	require.NotNil(t, event.Changes)
	assert.Equal(t, f.roles["member"].ID, event.Changes.Before["role_id"])
	assert.Equal(t, f.roles["viewer"].ID, event.Changes.After["role_id"])

	_, err = f.manager.ChangeRole(ctx, f.acme.ID, userOwner, f.roles["viewer"].ID, userAdmin)
	assert.ErrorIs(t, err, authzerr.ErrOwnerProtected)
	_, err = f.manager.ChangeRole(ctx, f.acme.ID, userSuperAdmin, f.roles["viewer"].ID, userAdmin)
	assert.ErrorIs(t, err, authzerr.ErrSuperAdminProtected)
	_, err = f.manager.ChangeRole(ctx, f.acme.ID, userAdmin, f.roles["viewer"].ID, userMember)
	assert.ErrorIs(t, err, authzerr.ErrInsufficientAuthority)
	_, err = f.manager.ChangeRole(ctx, f.acme.ID, userStranger, f.roles["viewer"].ID, userAdmin)
	assert.ErrorIs(t, err, authzerr.ErrMembershipNotFound)

	_, err = f.manager.ChangeRole(ctx, f.acme.ID, userSuperAdmin, f.roles["admin"].ID, userOwner)
	assert.NoError(t, err)
}

func TestTransferOwnership(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)
	f.staff(t)

	err := f.manager.TransferOwnership(ctx, f.acme.ID, userOwner, userNewOwner, userSuperAdmin)
	assert.ErrorIs(t, err, authzerr.ErrInsufficientAuthority, "only the owner may transfer")
	err = f.manager.TransferOwnership(ctx, f.acme.ID, userAdmin, userNewOwner, userAdmin)
	assert.ErrorIs(t, err, authzerr.ErrInsufficientAuthority, "currentOwner must own the organization")

	require.NoError(t, f.manager.TransferOwnership(ctx, f.acme.ID, userOwner, userOwner, userOwner))

	require.NoError(t, f.manager.TransferOwnership(ctx, f.acme.ID, userOwner, userNewOwner, userOwner))

	org, err := workspaces.NewStore(f.db).GetOrganization(ctx, f.acme.ID)
	require.NoError(t, err)
	assert.True(t, org.IsOwnedBy(userNewOwner))

	enrolled, err := memberships.NewStore(f.db).Get(ctx, f.acme.ID, userNewOwner)
	require.NoError(t, err)
	assert.Equal(t, f.roles["owner"].ID, enrolled.RoleID)

	// the previous owner keeps the membership but loses the bypass
	_, err = memberships.NewStore(f.db).Get(ctx, f.acme.ID, userOwner)
	assert.NoError(t, err)
	assert.False(t, f.can(t, userOwner, f.acme.ID, rbac.PermOrganizationDelete))
	assert.False(t, f.can(t, userOwner, f.project.ID, "projects.read"))
	assert.True(t, f.can(t, userNewOwner, f.project.ID, rbac.PermOrganizationDelete))

	err = f.manager.TransferOwnership(ctx, f.acme.ID, userOwner, userAdmin, userOwner)
	assert.ErrorIs(t, err, authzerr.ErrInsufficientAuthority)

	t.Run("existing membership is kept as is", func(t *testing.T) {
		require.NoError(t, f.manager.TransferOwnership(ctx, f.acme.ID, userNewOwner, userMember, userNewOwner))
		m, err := memberships.NewStore(f.db).Get(ctx, f.acme.ID, userMember)
		require.NoError(t, err)
		assert.Equal(t, f.roles["member"].ID, m.RoleID)
	})
}

func TestDeleteOrganization(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)
	f.staff(t)
	f.assign(t, f.project.ID, userMember, "member")

	for _, actor := range []int64{userSuperAdmin, userAdmin, userStranger} {
		err := f.manager.DeleteOrganization(ctx, f.acme.ID, actor)
		assert.ErrorIs(t, err, authzerr.ErrInsufficientAuthority)
	}

	require.NoError(t, f.manager.DeleteOrganization(ctx, f.acme.ID, userOwner))

	store := workspaces.NewStore(f.db)
	for _, id := range []int64{f.acme.ID, f.project.ID} {
		_, err := store.Get(ctx, id)
		assert.ErrorIs(t, err, authzerr.ErrWorkspaceNotFound)
		count, err := memberships.NewStore(f.db).Count(ctx, id)
		require.NoError(t, err)
		assert.Zero(t, count)
	}
	_, err := store.Get(ctx, f.globex.ID)
	assert.NoError(t, err)

	err = f.manager.DeleteOrganization(ctx, f.acme.ID, userOwner)
	assert.ErrorIs(t, err, authzerr.ErrWorkspaceNotFound)
}

func TestProvisionOrganization(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)

	org, m, err := f.manager.ProvisionOrganization(ctx, "Initech", 20)
	require.NoError(t, err)
	assert.True(t, org.IsOwnedBy(20))
	assert.Equal(t, org.ID, m.WorkspaceID)
	assert.Equal(t, f.roles["owner"].ID, m.RoleID)
	assert.True(t, f.can(t, 20, org.ID, rbac.PermOrganizationDelete))

	event := f.audit.last(t)
	assert.Equal(t, audit.EventTypeOrganizationCreated, event.EventType)
	require.NotNil(t, event.OrganizationID)
	assert.Equal(t, org.ID, *event.OrganizationID)

	_, err = f.manager.BootstrapFirstMember(ctx, org.ID, 20, f.roles["owner"].ID)
	assert.ErrorIs(t, err, authzerr.ErrBootstrapPrecondition)

	t.Run("unknown owner role", func(t *testing.T) {
		broken := NewManager(f.db, f.engine, f.catalog, WithConfig(Config{OwnerRole: "emperor", ProjectCreatorRole: "admin"}))
		_, _, err := broken.ProvisionOrganization(ctx, "Hooli", 21)
		assert.ErrorIs(t, err, authzerr.ErrRoleNotFound)
	})
}

func TestProvisionProject(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)
	f.staff(t)

	_, _, err := f.manager.ProvisionProject(ctx, f.acme.ID, "Denied", userMember)
	assert.ErrorIs(t, err, authzerr.ErrInsufficientAuthority)

	project, m, err := f.manager.ProvisionProject(ctx, f.acme.ID, "Rocket", userAdmin)
	require.NoError(t, err)
	require.NotNil(t, project.ParentID)
	assert.Equal(t, f.acme.ID, *project.ParentID)
	assert.Equal(t, project.ID, m.WorkspaceID)
	assert.Equal(t, f.roles["admin"].ID, m.RoleID)
	assert.True(t, f.can(t, userAdmin, project.ID, "projects.update"))
	assert.False(t, f.can(t, userMember, project.ID, "projects.read"))

	_, _, err = f.manager.ProvisionProject(ctx, f.acme.ID, "Orbit", userSuperAdmin)
	assert.NoError(t, err)

	_, _, err = f.manager.ProvisionProject(ctx, f.project.ID, "Nested", userOwner)
	assert.ErrorIs(t, err, authzerr.ErrNotOrganization)
}

func TestAcmeWalkthrough(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)

	// 1. the creator bootstraps and holds owner-only permissions
	_, err := f.manager.BootstrapFirstMember(ctx, f.acme.ID, userOwner, f.roles["owner"].ID)
	require.NoError(t, err)
	assert.True(t, f.can(t, userOwner, f.acme.ID, "organization.delete"))

	// 2. a super admin needs no project membership
	require.NoError(t, f.manager.AssignSuperAdmin(ctx, f.acme.ID, userSuperAdmin, userOwner))
	assert.True(t, f.can(t, userSuperAdmin, f.project.ID, "projects.create"))

	// 3. the super admin cannot remove the owner
	err = f.manager.RemoveRole(ctx, f.acme.ID, userOwner, userSuperAdmin)
	assert.ErrorIs(t, err, authzerr.ErrOwnerProtected)
}
