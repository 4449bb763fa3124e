package workspaces

import "time"

// Type distinguishes the two levels of the workspace tree
type Type string

const (
	TypeOrganization Type = "organization"
	TypeProject      Type = "project"
)

// Workspace is a node in the two-level tenant tree. Organizations have an
// owner and no parent; projects have exactly one parent organization.
type Workspace struct {
	ID        int64     `json:"id"`
	Type      Type      `json:"type"`
	ParentID  *int64    `json:"parent_id,omitempty"`
	OwnerID   *int64    `json:"owner_id,omitempty"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// IsOrganization reports whether w is an organization root
func (w *Workspace) IsOrganization() bool {
	return w.Type == TypeOrganization
}

// IsOwnedBy reports whether userID is the owner of organization w
func (w *Workspace) IsOwnedBy(userID int64) bool {
	return w.IsOrganization() && w.OwnerID != nil && *w.OwnerID == userID
}
