package api

import (
	"fmt"
	"net/http"

	"github.com/platinummonkey/warden/pkg/authzerr"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// subject returns the user a query is about. Asking about someone else
// requires members.read in the workspace.
func (s *Server) subject(w http.ResponseWriter, r *http.Request, workspaceID, userID int64) (int64, bool) {
	actorID := actor(r)
	if userID == 0 || userID == actorID {
		return actorID, true
	}

	allowed, err := s.checker.HasPermission(r.Context(), actorID, workspaceID, rbac.PermMembersRead)
	if err != nil {
		s.writeError(w, r, err)
		return 0, false
	}
	if !allowed {
		s.writeError(w, r, fmt.Errorf("user %d cannot inspect user %d: %w", actorID, userID, authzerr.ErrInsufficientAuthority))
		return 0, false
	}
	return userID, true
}

// check handles POST /v1/authz/check
func (s *Server) check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w,
		func() (bool, string) { return req.WorkspaceID > 0, "workspace_id is required" },
		func() (bool, string) { return req.Permission != "", "permission is required" },
	) {
		return
	}

	userID, ok := s.subject(w, r, req.WorkspaceID, req.UserID)
	if !ok {
		return
	}

	decision, err := s.checker.Check(r.Context(), rbac.PermissionCheck{
		UserID:      userID,
		WorkspaceID: req.WorkspaceID,
		Permission:  req.Permission,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, decision)
}

// visibility handles GET /v1/workspaces/{id}/visibility/{feature}
func (s *Server) visibility(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	feature, ok := httputil.ParsePathStringOrError(w, r, "feature")
	if !ok {
		return
	}
	requested, err := httputil.ParseQueryInt64(r, "user_id", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	userID, ok := s.subject(w, r, workspaceID, requested)
	if !ok {
		return
	}

	visible, err := s.checker.IsVisible(r.Context(), userID, workspaceID, feature)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, VisibilityResponse{
		UserID:      userID,
		WorkspaceID: workspaceID,
		Feature:     feature,
		Visible:     visible,
	})
}

// permissions handles GET /v1/workspaces/{id}/permissions
func (s *Server) permissions(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	requested, err := httputil.ParseQueryInt64(r, "user_id", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	userID, ok := s.subject(w, r, workspaceID, requested)
	if !ok {
		return
	}

	auth, err := s.checker.ResolveAuthority(r.Context(), userID, workspaceID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	names, err := s.checker.EffectivePermissions(r.Context(), userID, workspaceID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if names == nil {
		names = []string{}
	}

	httputil.WriteSuccess(w, PermissionsResponse{
		UserID:      userID,
		WorkspaceID: workspaceID,
		Authority:   auth.String(),
		Permissions: names,
	})
}
