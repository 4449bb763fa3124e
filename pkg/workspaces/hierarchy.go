package workspaces

import (
	"context"
	"errors"
	"fmt"

	"github.com/platinummonkey/warden/pkg/authzerr"
)

// ResolveOrganizationRoot returns the organization that owns workspace id:
// the workspace itself for an organization, its parent for a project.
//
// A project whose parent is missing, or whose parent is itself a project,
// yields authzerr.ErrOrphanedProject. That is an integrity failure, not a
// user error, and callers must not treat it as a denial.
func (s *Store) ResolveOrganizationRoot(ctx context.Context, id int64) (*Workspace, error) {
	w, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.IsOrganization() {
		return w, nil
	}
	if w.ParentID == nil {
		return nil, fmt.Errorf("project %d has no parent: %w", id, authzerr.ErrOrphanedProject)
	}

	parent, err := s.Get(ctx, *w.ParentID)
	if errors.Is(err, authzerr.ErrWorkspaceNotFound) {
		return nil, fmt.Errorf("project %d parent %d missing: %w", id, *w.ParentID, authzerr.ErrOrphanedProject)
	}
	if err != nil {
		return nil, err
	}
	if !parent.IsOrganization() {
		return nil, fmt.Errorf("project %d parent %d is not an organization: %w", id, parent.ID, authzerr.ErrOrphanedProject)
	}
	return parent, nil
}
