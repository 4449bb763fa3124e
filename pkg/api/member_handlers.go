package api

import (
	"net/http"

	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/memberships"
)

// listMembers handles GET /v1/workspaces/{id}/members
func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	members, err := s.memberships.List(r.Context(), workspaceID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if members == nil {
		members = []*memberships.Membership{}
	}
	httputil.WriteSuccess(w, members)
}

// inviteMember handles POST /v1/workspaces/{id}/members
func (s *Server) inviteMember(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req MemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.UserID, "user_id") || !httputil.RequirePositive(w, req.RoleID, "role_id") {
		return
	}

	membership, err := s.manager.InviteMember(r.Context(), workspaceID, req.UserID, req.RoleID, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, membership)
}

// changeRole handles PUT /v1/workspaces/{id}/members/{user_id}
func (s *Server) changeRole(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	var req MemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.RoleID, "role_id") {
		return
	}

	membership, err := s.manager.ChangeRole(r.Context(), workspaceID, userID, req.RoleID, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, membership)
}

// removeMember handles DELETE /v1/workspaces/{id}/members/{user_id}
func (s *Server) removeMember(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	if err := s.manager.RemoveRole(r.Context(), workspaceID, userID, actor(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// bootstrap handles POST /v1/workspaces/{id}/bootstrap. Only the Owner of an
// organization with no members may call it.
func (s *Server) bootstrap(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req BootstrapRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.RoleID, "role_id") {
		return
	}

	membership, err := s.manager.BootstrapFirstMember(r.Context(), workspaceID, actor(r), req.RoleID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, membership)
}
