package api

import (
	"net/http"

	"github.com/platinummonkey/warden/pkg/authority"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/workspaces"
)

// createOrganization handles POST /v1/organizations. The acting user becomes
// Owner and first member.
func (s *Server) createOrganization(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkspaceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	org, membership, err := s.manager.ProvisionOrganization(r.Context(), req.Name, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, ProvisionResponse{Workspace: org, Membership: membership})
}

// getOrganization handles GET /v1/organizations/{id}
func (s *Server) getOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	org, err := s.workspaces.GetOrganization(r.Context(), orgID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

// deleteOrganization handles DELETE /v1/organizations/{id}
func (s *Server) deleteOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := s.manager.DeleteOrganization(r.Context(), orgID, actor(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// createProject handles POST /v1/organizations/{id}/projects
func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req CreateWorkspaceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	project, membership, err := s.manager.ProvisionProject(r.Context(), orgID, req.Name, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, ProvisionResponse{Workspace: project, Membership: membership})
}

// listProjects handles GET /v1/organizations/{id}/projects
func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if _, err := s.workspaces.GetOrganization(r.Context(), orgID); err != nil {
		s.writeError(w, r, err)
		return
	}
	projects, err := s.workspaces.ListProjects(r.Context(), orgID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if projects == nil {
		projects = []*workspaces.Workspace{}
	}
	httputil.WriteSuccess(w, projects)
}

// transferOwnership handles POST /v1/organizations/{id}/transfer
func (s *Server) transferOwnership(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req TransferRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.NewOwnerID, "new_owner_id") {
		return
	}

	actorID := actor(r)
	current := req.CurrentOwnerID
	if current == 0 {
		current = actorID
	}

	if err := s.manager.TransferOwnership(r.Context(), orgID, current, req.NewOwnerID, actorID); err != nil {
		s.writeError(w, r, err)
		return
	}

	org, err := s.workspaces.GetOrganization(r.Context(), orgID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

// listSuperAdmins handles GET /v1/organizations/{id}/super-admins
func (s *Server) listSuperAdmins(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if _, err := s.workspaces.GetOrganization(r.Context(), orgID); err != nil {
		s.writeError(w, r, err)
		return
	}
	designations, err := s.designations.List(r.Context(), orgID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if designations == nil {
		designations = []*authority.Designation{}
	}
	httputil.WriteSuccess(w, designations)
}

// assignSuperAdmin handles POST /v1/organizations/{id}/super-admins
func (s *Server) assignSuperAdmin(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req SuperAdminRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.UserID, "user_id") {
		return
	}

	if err := s.manager.AssignSuperAdmin(r.Context(), orgID, req.UserID, actor(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, req)
}

// revokeSuperAdmin handles DELETE /v1/organizations/{id}/super-admins/{user_id}
func (s *Server) revokeSuperAdmin(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	if err := s.manager.RevokeSuperAdmin(r.Context(), orgID, userID, actor(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
