package api

import (
	"encoding/json"

	"github.com/platinummonkey/warden/pkg/memberships"
	"github.com/platinummonkey/warden/pkg/workspaces"
)

// CheckRequest asks whether a user holds a permission in a workspace.
// UserID defaults to the acting user.
type CheckRequest struct {
	UserID      int64  `json:"user_id,omitempty"`
	WorkspaceID int64  `json:"workspace_id"`
	Permission  string `json:"permission"`
}

// VisibilityResponse answers a feature visibility query
type VisibilityResponse struct {
	UserID      int64  `json:"user_id"`
	WorkspaceID int64  `json:"workspace_id"`
	Feature     string `json:"feature"`
	Visible     bool   `json:"visible"`
}

// PermissionsResponse lists the permissions a user can exercise in a workspace
type PermissionsResponse struct {
	UserID      int64    `json:"user_id"`
	WorkspaceID int64    `json:"workspace_id"`
	Authority   string   `json:"authority"`
	Permissions []string `json:"permissions"`
}

// CreateWorkspaceRequest names a new organization or project
type CreateWorkspaceRequest struct {
	Name string `json:"name"`
}

// ProvisionResponse is a new workspace together with the creator's membership
type ProvisionResponse struct {
	Workspace  *workspaces.Workspace   `json:"workspace"`
	Membership *memberships.Membership `json:"membership"`
}

// TransferRequest hands an organization to a new owner. CurrentOwnerID
// defaults to the acting user.
type TransferRequest struct {
	CurrentOwnerID int64 `json:"current_owner_id,omitempty"`
	NewOwnerID     int64 `json:"new_owner_id"`
}

// SuperAdminRequest names the user to designate
type SuperAdminRequest struct {
	UserID int64 `json:"user_id"`
}

// MemberRequest invites a user or changes their role
type MemberRequest struct {
	UserID int64 `json:"user_id,omitempty"`
	RoleID int64 `json:"role_id"`
}

// BootstrapRequest names the role of the first member
type BootstrapRequest struct {
	RoleID int64 `json:"role_id"`
}

// FeatureRequest enables or disables a feature
type FeatureRequest struct {
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// FeatureStatus is a feature as the acting user sees it
type FeatureStatus struct {
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	Mandatory bool   `json:"mandatory"`
	Visible   bool   `json:"visible"`
}

// RoleRequest creates a custom role or replaces its grants
type RoleRequest struct {
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
}
