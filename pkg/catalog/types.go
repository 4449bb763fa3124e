package catalog

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Feature is a module definition that owns a group of permissions
type Feature struct {
	ID        int64  `json:"id"`
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	Mandatory bool   `json:"mandatory"`
}

// WorkspaceFeature is the activation record of a feature in one workspace
type WorkspaceFeature struct {
	WorkspaceID int64           `json:"workspace_id"`
	FeatureID   int64           `json:"feature_id"`
	Enabled     bool            `json:"enabled"`
	Config      json.RawMessage `json:"config,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Permission is an immutable catalog entry named resource.action
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	FeatureID   int64  `json:"feature_id"`
	Description string `json:"description,omitempty"`
}

// Resource returns the part of the name before the dot
func (p Permission) Resource() string {
	resource, _, _ := strings.Cut(p.Name, ".")
	return resource
}

// Action returns the part of the name after the dot
func (p Permission) Action() string {
	_, action, _ := strings.Cut(p.Name, ".")
	return action
}

// ValidPermissionName reports whether name has the resource.action shape
func ValidPermissionName(name string) bool {
	resource, action, ok := strings.Cut(name, ".")
	return ok && resource != "" && action != "" && !strings.Contains(action, ".")
}

// Role is either a system role shared by every organization
// (OrganizationID nil) or a custom role scoped to one organization
type Role struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	OrganizationID *int64    `json:"organization_id,omitempty"`
	IsSystemRole   bool      `json:"is_system_role"`
	CreatedAt      time.Time `json:"created_at"`
}

// UsableIn reports whether the role may be granted inside organization orgID
func (r *Role) UsableIn(orgID int64) bool {
	return r.OrganizationID == nil || *r.OrganizationID == orgID
}

// PermissionSet is a set of permissions keyed by name
type PermissionSet map[string]Permission

// NewPermissionSet builds a set from a slice
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p.Name] = p
	}
	return set
}

// Has reports whether the set contains the named permission
func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the permission names in sorted order
func (s PermissionSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Slice returns the permissions sorted by name
func (s PermissionSet) Slice() []Permission {
	perms := make([]Permission, 0, len(s))
	for _, name := range s.Names() {
		perms = append(perms, s[name])
	}
	return perms
}
