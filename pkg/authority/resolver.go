// Package authority resolves the two bypass authorities, Owner and Super
// Admin. Both are organization-wide: they are always looked up on the
// organization root and apply to every project beneath it. Neither depends on
// any role or membership row.
package authority

import (
	"context"

	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/platinummonkey/warden/pkg/workspaces"
)

// Resolver answers IsOwner and IsSuperAdmin for any workspace id
type Resolver struct {
	workspaces   *workspaces.Store
	designations *DesignationStore
}

// NewResolver creates a resolver reading through db
func NewResolver(db storage.DBTX) *Resolver {
	return &Resolver{
		workspaces:   workspaces.NewStore(db),
		designations: NewDesignationStore(db),
	}
}

// Root resolves the organization root of workspaceID
func (r *Resolver) Root(ctx context.Context, workspaceID int64) (*workspaces.Workspace, error) {
	return r.workspaces.ResolveOrganizationRoot(ctx, workspaceID)
}

// IsOwner reports whether userID owns the organization of workspaceID
func (r *Resolver) IsOwner(ctx context.Context, userID, workspaceID int64) (bool, error) {
	root, err := r.Root(ctx, workspaceID)
	if err != nil {
		return false, err
	}
	return root.IsOwnedBy(userID), nil
}

// IsSuperAdmin reports whether userID is a Super Admin of the organization of workspaceID
func (r *Resolver) IsSuperAdmin(ctx context.Context, userID, workspaceID int64) (bool, error) {
	root, err := r.Root(ctx, workspaceID)
	if err != nil {
		return false, err
	}
	return r.IsSuperAdminOf(ctx, root, userID)
}

// IsSuperAdminOf checks a designation on an already resolved organization root
func (r *Resolver) IsSuperAdminOf(ctx context.Context, root *workspaces.Workspace, userID int64) (bool, error) {
	return r.designations.Exists(ctx, root.ID, userID)
}
