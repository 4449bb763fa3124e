package rbac

import (
	"fmt"
	"time"
)

// Authority is the closed set of ways a user can be authorized inside a
// workspace, ordered from weakest to strongest.
type Authority int

const (
	// AuthorityNone means no membership and no bypass
	AuthorityNone Authority = iota
	// AuthorityRoleHolder means a membership row in the evaluated workspace
	AuthorityRoleHolder
	// AuthoritySuperAdmin means a designation on the organization root
	AuthoritySuperAdmin
	// AuthorityOwner means owner_id of the organization root
	AuthorityOwner
)

// String returns the metric and log label of the authority
func (a Authority) String() string {
	switch a {
	case AuthorityRoleHolder:
		return "role_holder"
	case AuthoritySuperAdmin:
		return "super_admin"
	case AuthorityOwner:
		return "owner"
	default:
		return "none"
	}
}

// MarshalText encodes the authority by label
func (a Authority) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// IsBypass reports whether the authority ignores role grants
func (a Authority) IsBypass() bool {
	return a == AuthorityOwner || a == AuthoritySuperAdmin
}

// Protected permission names. Only the Owner holds these.
const (
	PermOrganizationDelete            = "organization.delete"
	PermOrganizationTransferOwnership = "organization.transfer_ownership"
	PermSuperAdminsAssign             = "super_admins.assign"
	PermSuperAdminsRevoke             = "super_admins.revoke"
)

// Permission names the manager and API gate on
const (
	PermOrganizationRead = "organization.read"
	PermMembersInvite    = "members.invite"
	PermMembersRead      = "members.read"
	PermRolesAssign      = "roles.assign"
	PermRolesRemove      = "roles.remove"
	PermRolesManage      = "roles.manage"
	PermProjectsRead     = "projects.read"
	PermProjectsCreate   = "projects.create"
	PermFeaturesManage   = "features.manage"
	PermAuditRead        = "audit.read"
)

var protectedPermissions = map[string]struct{}{
	PermOrganizationDelete:            {},
	PermOrganizationTransferOwnership: {},
	PermSuperAdminsAssign:             {},
	PermSuperAdminsRevoke:             {},
}

// IsProtected reports whether permission is reserved to the Owner
func IsProtected(permission string) bool {
	_, ok := protectedPermissions[permission]
	return ok
}

// PermissionCheck asks whether UserID may use Permission in WorkspaceID
type PermissionCheck struct {
	UserID      int64  `json:"user_id"`
	WorkspaceID int64  `json:"workspace_id"`
	Permission  string `json:"permission"`
}

func (c PermissionCheck) String() string {
	return fmt.Sprintf("user %d %s in workspace %d", c.UserID, c.Permission, c.WorkspaceID)
}

// Decision is the outcome of a PermissionCheck
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Authority Authority `json:"authority"`
	Reason    string    `json:"reason"`
	CheckedAt time.Time `json:"checked_at"`
}
