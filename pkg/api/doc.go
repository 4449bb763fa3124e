// Package api exposes the authorization engine over HTTP.
//
// Every route requires the X-Warden-User-ID header set by the upstream
// identity provider; the value is trusted as the acting user. Read routes are
// gated on a catalog permission in the workspace named by the {id} path
// variable (see rbac.RequirePermission). Mutations go through the assignment
// manager, which checks the actor's authority itself and records the outcome
// in the audit trail.
//
// # Evaluation
//
//	POST /v1/authz/check                         {"workspace_id", "permission", "user_id"?}
//	GET  /v1/workspaces/{id}/visibility/{feature}?user_id=
//	GET  /v1/workspaces/{id}/permissions?user_id=
//
// Asking about another user requires members.read in the workspace.
//
// # Organizations
//
//	POST   /v1/organizations
//	GET    /v1/organizations/{id}
//	DELETE /v1/organizations/{id}                owner only
//	POST   /v1/organizations/{id}/transfer       owner only
//	GET    /v1/organizations/{id}/projects
//	POST   /v1/organizations/{id}/projects       projects.create
//	GET    /v1/organizations/{id}/super-admins
//	POST   /v1/organizations/{id}/super-admins   owner only
//	DELETE /v1/organizations/{id}/super-admins/{user_id}
//	GET    /v1/organizations/{id}/roles
//	POST   /v1/organizations/{id}/roles          roles.manage
//	PUT    /v1/roles/{id}/permissions            roles.manage
//	GET    /v1/organizations/{id}/audit          audit.read
//
// # Workspaces
//
//	GET    /v1/workspaces/{id}/members
//	POST   /v1/workspaces/{id}/members           members.invite
//	PUT    /v1/workspaces/{id}/members/{user_id} roles.assign
//	DELETE /v1/workspaces/{id}/members/{user_id} roles.remove
//	POST   /v1/workspaces/{id}/bootstrap         owner of an empty organization
//	GET    /v1/workspaces/{id}/features
//	PUT    /v1/workspaces/{id}/features/{feature} features.manage
//
// Errors are JSON objects with an "error" field. Authority failures map to
// 403, unknown ids to 404, uniqueness violations and immutable catalog
// entries to 409, and a bootstrap on a non-empty organization to 412.
package api
