package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/assignment"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/catalog"
	"github.com/platinummonkey/warden/pkg/memberships"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/storage/storagetest"
	"github.com/platinummonkey/warden/pkg/workspaces"
)

const (
	ownerID    int64 = 1
	adminID    int64 = 3
	memberID   int64 = 4
	strangerID int64 = 99
)

type testServer struct {
	*Server
	roles map[string]*catalog.Role
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	db := storagetest.NewSQLite(t)

	def, err := catalog.DefaultDefinition()
	require.NoError(t, err)
	require.NoError(t, catalog.Seed(ctx, db, def))

	cat := catalog.NewService(db, db, nil)
	engine := rbac.NewEngine(db, cat)
	auditLog, err := audit.NewDBLogger(db)
	require.NoError(t, err)
	manager := assignment.NewManager(db, engine, cat, assignment.WithAuditLogger(auditLog))

	roles := make(map[string]*catalog.Role)
	for _, name := range []string{"owner", "admin", "member", "viewer"} {
		role, err := cat.GetRoleByName(ctx, name, nil)
		require.NoError(t, err)
		roles[name] = role
	}

	return &testServer{
		Server: NewServer(Dependencies{
			Checker: engine,
			Manager: manager,
			Catalog: cat,
			Read:    db,
			Audit:   auditLog,
		}),
		roles: roles,
	}
}

func (s *testServer) do(t *testing.T, userID int64, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		req.Header.Set(middleware.UserIDHeader, fmt.Sprintf("%d", userID))
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dest), rec.Body.String())
}

// provision creates an organization owned by ownerID with an admin and a member
func (s *testServer) provision(t *testing.T) *workspaces.Workspace {
	t.Helper()
	rec := s.do(t, ownerID, http.MethodPost, "/v1/organizations", CreateWorkspaceRequest{Name: "Acme"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp ProvisionResponse
	decode(t, rec, &resp)

	for userID, role := range map[int64]string{adminID: "admin", memberID: "member"} {
		rec := s.do(t, ownerID, http.MethodPost, fmt.Sprintf("/v1/workspaces/%d/members", resp.Workspace.ID),
			MemberRequest{UserID: userID, RoleID: s.roles[role].ID})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	return resp.Workspace
}

func TestIdentityRequired(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, 0, http.MethodPost, "/v1/organizations", CreateWorkspaceRequest{Name: "Acme"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
}

func TestCreateOrganization(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, ownerID, http.MethodPost, "/v1/organizations", CreateWorkspaceRequest{Name: "Acme"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp ProvisionResponse
	decode(t, rec, &resp)
	assert.Equal(t, "Acme", resp.Workspace.Name)
	assert.True(t, resp.Workspace.IsOwnedBy(ownerID))
	assert.Equal(t, s.roles["owner"].ID, resp.Membership.RoleID)

	rec = s.do(t, ownerID, http.MethodPost, "/v1/organizations", CreateWorkspaceRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, ownerID, http.MethodGet, fmt.Sprintf("/v1/organizations/%d", resp.Workspace.ID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, strangerID, http.MethodGet, fmt.Sprintf("/v1/organizations/%d", resp.Workspace.ID), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, ownerID, http.MethodGet, "/v1/organizations/12345", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheck(t *testing.T) {
	s := newTestServer(t)
	org := s.provision(t)

	tests := []struct {
		name       string
		actor      int64
		req        CheckRequest
		wantStatus int
		allowed    bool
		authority  rbac.Authority
	}{
		{
			name:       "owner holds protected permission",
			actor:      ownerID,
			req:        CheckRequest{WorkspaceID: org.ID, Permission: rbac.PermOrganizationDelete},
			wantStatus: http.StatusOK,
			allowed:    true,
			authority:  rbac.AuthorityOwner,
		},
		{
			name:       "admin denied protected permission",
			actor:      adminID,
			req:        CheckRequest{WorkspaceID: org.ID, Permission: rbac.PermOrganizationDelete},
			wantStatus: http.StatusOK,
			authority:  rbac.AuthorityRoleHolder,
		},
		{
			name:       "member reads members",
			actor:      memberID,
			req:        CheckRequest{WorkspaceID: org.ID, Permission: rbac.PermMembersRead},
			wantStatus: http.StatusOK,
			allowed:    true,
			authority:  rbac.AuthorityRoleHolder,
		},
		{
			name:       "admin asks about member",
			actor:      adminID,
			req:        CheckRequest{UserID: memberID, WorkspaceID: org.ID, Permission: rbac.PermMembersInvite},
			wantStatus: http.StatusOK,
			authority:  rbac.AuthorityRoleHolder,
		},
		{
			name:       "stranger cannot ask about others",
			actor:      strangerID,
			req:        CheckRequest{UserID: ownerID, WorkspaceID: org.ID, Permission: rbac.PermMembersRead},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "missing permission",
			actor:      ownerID,
			req:        CheckRequest{WorkspaceID: org.ID},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown workspace",
			actor:      ownerID,
			req:        CheckRequest{WorkspaceID: 12345, Permission: rbac.PermMembersRead},
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.actor, http.MethodPost, "/v1/authz/check", tt.req)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus != http.StatusOK {
				return
			}

			var decision struct {
				Allowed   bool   `json:"allowed"`
				Authority string `json:"authority"`
			}
			decode(t, rec, &decision)
			assert.Equal(t, tt.allowed, decision.Allowed)
			assert.Equal(t, tt.authority.String(), decision.Authority)
		})
	}
}

func TestPermissionsAndVisibility(t *testing.T) {
	s := newTestServer(t)
	org := s.provision(t)

	rec := s.do(t, memberID, http.MethodGet, fmt.Sprintf("/v1/workspaces/%d/permissions", org.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var perms PermissionsResponse
	decode(t, rec, &perms)
	assert.Equal(t, "role_holder", perms.Authority)
	assert.Contains(t, perms.Permissions, rbac.PermMembersRead)
	assert.NotContains(t, perms.Permissions, rbac.PermMembersInvite)
	assert.NotContains(t, perms.Permissions, "boards.read", "boards is disabled")

	rec = s.do(t, ownerID, http.MethodGet, fmt.Sprintf("/v1/workspaces/%d/permissions?user_id=%d", org.ID, strangerID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &perms)
	assert.Equal(t, "none", perms.Authority)
	assert.Empty(t, perms.Permissions)

	path := fmt.Sprintf("/v1/workspaces/%d/visibility/boards", org.ID)
	rec = s.do(t, memberID, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var vis VisibilityResponse
	decode(t, rec, &vis)
	assert.False(t, vis.Visible)

	rec = s.do(t, adminID, http.MethodPut, fmt.Sprintf("/v1/workspaces/%d/features/boards", org.ID), FeatureRequest{Enabled: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, memberID, http.MethodGet, path, nil)
	decode(t, rec, &vis)
	assert.True(t, vis.Visible)

	rec = s.do(t, memberID, http.MethodPut, fmt.Sprintf("/v1/workspaces/%d/features/boards", org.ID), FeatureRequest{Enabled: false})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, ownerID, http.MethodPut, fmt.Sprintf("/v1/workspaces/%d/features/members", org.ID), FeatureRequest{Enabled: false})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, memberID, http.MethodGet, fmt.Sprintf("/v1/workspaces/%d/features", org.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var features []FeatureStatus
	decode(t, rec, &features)
	assert.NotEmpty(t, features)
}

func TestMembers(t *testing.T) {
	s := newTestServer(t)
	org := s.provision(t)
	members := fmt.Sprintf("/v1/workspaces/%d/members", org.ID)

	rec := s.do(t, memberID, http.MethodGet, members, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []*memberships.Membership
	decode(t, rec, &list)
	assert.Len(t, list, 3)

	rec = s.do(t, strangerID, http.MethodGet, members, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	t.Run("member cannot invite", func(t *testing.T) {
		rec := s.do(t, memberID, http.MethodPost, members, MemberRequest{UserID: 10, RoleID: s.roles["viewer"].ID})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("duplicate invite conflicts", func(t *testing.T) {
		rec := s.do(t, adminID, http.MethodPost, members, MemberRequest{UserID: memberID, RoleID: s.roles["viewer"].ID})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("admin changes role", func(t *testing.T) {
		rec := s.do(t, adminID, http.MethodPut, fmt.Sprintf("%s/%d", members, memberID), MemberRequest{RoleID: s.roles["viewer"].ID})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var m memberships.Membership
		decode(t, rec, &m)
		assert.Equal(t, s.roles["viewer"].ID, m.RoleID)
	})

	t.Run("owner is protected", func(t *testing.T) {
		rec := s.do(t, adminID, http.MethodDelete, fmt.Sprintf("%s/%d", members, ownerID), nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin removes member", func(t *testing.T) {
		rec := s.do(t, adminID, http.MethodDelete, fmt.Sprintf("%s/%d", members, memberID), nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = s.do(t, adminID, http.MethodDelete, fmt.Sprintf("%s/%d", members, memberID), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bootstrap on populated organization", func(t *testing.T) {
		rec := s.do(t, ownerID, http.MethodPost, fmt.Sprintf("/v1/workspaces/%d/bootstrap", org.ID), BootstrapRequest{RoleID: s.roles["owner"].ID})
		assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	})
}

func TestProjects(t *testing.T) {
	s := newTestServer(t)
	org := s.provision(t)
	projects := fmt.Sprintf("/v1/organizations/%d/projects", org.ID)

	rec := s.do(t, memberID, http.MethodPost, projects, CreateWorkspaceRequest{Name: "Nope"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, adminID, http.MethodPost, projects, CreateWorkspaceRequest{Name: "Roadmap"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp ProvisionResponse
	decode(t, rec, &resp)
	assert.Equal(t, workspaces.TypeProject, resp.Workspace.Type)
	assert.Equal(t, adminID, resp.Membership.UserID)

	rec = s.do(t, memberID, http.MethodGet, projects, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []*workspaces.Workspace
	decode(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "Roadmap", list[0].Name)

	// org membership grants nothing inside the project
	rec = s.do(t, memberID, http.MethodPost, "/v1/authz/check", CheckRequest{WorkspaceID: resp.Workspace.ID, Permission: "projects.read"})
	require.Equal(t, http.StatusOK, rec.Code)
	var decision struct {
		Allowed bool `json:"allowed"`
	}
	decode(t, rec, &decision)
	assert.False(t, decision.Allowed)

	rec = s.do(t, ownerID, http.MethodPost, fmt.Sprintf("/v1/workspaces/%d/bootstrap", resp.Workspace.ID), BootstrapRequest{RoleID: s.roles["owner"].ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSuperAdmins(t *testing.T) {
	s := newTestServer(t)
	org := s.provision(t)
	path := fmt.Sprintf("/v1/organizations/%d/super-admins", org.ID)

	rec := s.do(t, adminID, http.MethodPost, path, SuperAdminRequest{UserID: memberID})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, ownerID, http.MethodPost, path, SuperAdminRequest{UserID: memberID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, ownerID, http.MethodPost, path, SuperAdminRequest{UserID: memberID})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, ownerID, http.MethodPost, path, SuperAdminRequest{UserID: ownerID})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, memberID, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]interface{}
	decode(t, rec, &list)
	assert.Len(t, list, 1)

	// admin cannot touch a super admin
	rec = s.do(t, adminID, http.MethodDelete, fmt.Sprintf("/v1/workspaces/%d/members/%d", org.ID, memberID), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, ownerID, http.MethodDelete, fmt.Sprintf("%s/%d", path, memberID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, ownerID, http.MethodDelete, fmt.Sprintf("%s/%d", path, memberID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTransferOwnership(t *testing.T) {
	s := newTestServer(t)
	org := s.provision(t)
	path := fmt.Sprintf("/v1/organizations/%d/transfer", org.ID)

	rec := s.do(t, adminID, http.MethodPost, path, TransferRequest{NewOwnerID: adminID})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, ownerID, http.MethodPost, path, TransferRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, ownerID, http.MethodPost, path, TransferRequest{NewOwnerID: adminID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated workspaces.Workspace
	decode(t, rec, &updated)
	assert.True(t, updated.IsOwnedBy(adminID))

	rec = s.do(t, ownerID, http.MethodDelete, fmt.Sprintf("/v1/organizations/%d", org.ID), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, adminID, http.MethodDelete, fmt.Sprintf("/v1/organizations/%d", org.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, adminID, http.MethodGet, fmt.Sprintf("/v1/organizations/%d", org.ID), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCustomRoles(t *testing.T) {
	s := newTestServer(t)
	org := s.provision(t)
	roles := fmt.Sprintf("/v1/organizations/%d/roles", org.ID)

	rec := s.do(t, memberID, http.MethodPost, roles, RoleRequest{Name: "auditor", Permissions: []string{"audit.read"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, adminID, http.MethodPost, roles, RoleRequest{Name: "auditor", Permissions: []string{"audit.read"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var role catalog.Role
	decode(t, rec, &role)
	require.NotNil(t, role.OrganizationID)

	rec = s.do(t, adminID, http.MethodPost, roles, RoleRequest{Name: "broken", Permissions: []string{"nope.nope"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, memberID, http.MethodGet, roles, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []*catalog.Role
	decode(t, rec, &list)
	assert.Len(t, list, 5)

	rec = s.do(t, adminID, http.MethodPut, fmt.Sprintf("/v1/roles/%d/permissions", role.ID), RoleRequest{Permissions: []string{"audit.read", "members.read"}})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, ownerID, http.MethodPut, fmt.Sprintf("/v1/roles/%d/permissions", s.roles["member"].ID), RoleRequest{Permissions: []string{"members.read"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestExportAudit(t *testing.T) {
	s := newTestServer(t)
	org := s.provision(t)
	path := fmt.Sprintf("/v1/organizations/%d/audit", org.ID)

	rec := s.do(t, memberID, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, adminID, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var events []*audit.AuditEvent
	decode(t, rec, &events)
	require.NotEmpty(t, events)
	for _, e := range events {
		require.NotNil(t, e.OrganizationID)
		assert.Equal(t, org.ID, *e.OrganizationID)
	}

	rec = s.do(t, adminID, http.MethodGet, path+"?format=csv&event_type="+string(audit.EventTypeRoleAssigned), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Len(t, lines, 3, "header plus two invites")

	rec = s.do(t, adminID, http.MethodGet, path+"?format=xml", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
