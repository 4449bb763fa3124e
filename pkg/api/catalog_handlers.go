package api

import (
	"net/http"

	"github.com/platinummonkey/warden/pkg/catalog"
	"github.com/platinummonkey/warden/pkg/httputil"
)

// listFeatures handles GET /v1/workspaces/{id}/features. Every feature is
// listed with whether the acting user can see it in the workspace.
func (s *Server) listFeatures(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if _, err := s.workspaces.Get(r.Context(), workspaceID); err != nil {
		s.writeError(w, r, err)
		return
	}
	features, err := s.catalog.ListFeatures(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	userID := actor(r)
	statuses := make([]FeatureStatus, 0, len(features))
	for _, f := range features {
		visible, err := s.checker.IsVisible(r.Context(), userID, workspaceID, f.Slug)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		statuses = append(statuses, FeatureStatus{
			Slug:      f.Slug,
			Name:      f.Name,
			Mandatory: f.Mandatory,
			Visible:   visible,
		})
	}
	httputil.WriteSuccess(w, statuses)
}

// setFeature handles PUT /v1/workspaces/{id}/features/{feature}
func (s *Server) setFeature(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	slug, ok := httputil.ParsePathStringOrError(w, r, "feature")
	if !ok {
		return
	}
	var req FeatureRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	wf, err := s.manager.ToggleFeature(r.Context(), workspaceID, slug, req.Enabled, req.Config, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, wf)
}

// listRoles handles GET /v1/organizations/{id}/roles
func (s *Server) listRoles(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	roles, err := s.catalog.ListRoles(r.Context(), orgID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if roles == nil {
		roles = []*catalog.Role{}
	}
	httputil.WriteSuccess(w, roles)
}

// createRole handles POST /v1/organizations/{id}/roles
func (s *Server) createRole(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req RoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	role, err := s.manager.CreateCustomRole(r.Context(), orgID, req.Name, req.Description, req.Permissions, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, role)
}

// updateRoleGrants handles PUT /v1/roles/{id}/permissions
func (s *Server) updateRoleGrants(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req RoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := s.manager.UpdateRoleGrants(r.Context(), roleID, req.Permissions, actor(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
