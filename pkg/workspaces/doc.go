// Package workspaces models the two-level tenant tree.
//
// An organization is a root workspace with an owner. A project is a child of
// exactly one organization. Bypass authority (Owner, Super Admin) is always
// resolved against the organization root, which ResolveOrganizationRoot
// computes for any workspace id. Role grants are never resolved through the
// tree: a membership applies only to the workspace it names.
package workspaces
