// Package authzerr defines the error kinds returned by the authorization engine.
//
// Every kind is a sentinel value. Layers wrap them with fmt.Errorf("...: %w", err)
// so callers match with errors.Is regardless of how much context was added:
//
//	if errors.Is(err, authzerr.ErrDuplicateAssignment) {
//		// user already has a role in this workspace
//	}
//
// Storage errors are never converted into one of these kinds; they pass through
// wrapped so that the caller can decide whether to retry.
package authzerr

import (
	"errors"
	"net/http"
)

var (
	// ErrWorkspaceNotFound is returned when a workspace id does not exist.
	ErrWorkspaceNotFound = errors.New("workspace not found")

	// ErrRoleNotFound is returned when a role does not exist or is a custom role
	// belonging to another organization.
	ErrRoleNotFound = errors.New("role not found")

	// ErrPermissionNotFound is returned for permission names missing from the catalog.
	ErrPermissionNotFound = errors.New("permission not found")

	// ErrFeatureNotFound is returned for feature slugs missing from the catalog.
	ErrFeatureNotFound = errors.New("feature not found")

	// ErrMembershipNotFound is returned when a user has no membership in a workspace.
	ErrMembershipNotFound = errors.New("membership not found")

	// ErrDesignationNotFound is returned when revoking a Super Admin designation that does not exist.
	ErrDesignationNotFound = errors.New("super admin designation not found")

	// ErrNotOrganization is returned when an organization-only operation targets a project.
	ErrNotOrganization = errors.New("workspace is not an organization")

	// ErrDuplicateAssignment is returned when a storage uniqueness constraint rejects an insert.
	ErrDuplicateAssignment = errors.New("duplicate assignment")

	// ErrInsufficientAuthority is returned when the actor lacks the administrative right.
	ErrInsufficientAuthority = errors.New("insufficient authority")

	// ErrOwnerProtected is returned on any attempt to remove or modify the Owner.
	ErrOwnerProtected = errors.New("owner is protected")

	// ErrSuperAdminProtected is returned when a non-Owner targets a Super Admin.
	ErrSuperAdminProtected = errors.New("super admin is protected")

	// ErrBootstrapPrecondition is returned when a bootstrap is attempted on a
	// workspace that already has members or by someone other than the owner.
	ErrBootstrapPrecondition = errors.New("bootstrap precondition failed")

	// ErrCatalogImmutable is returned when changing a catalog entry that only
	// the catalog definition may change: system role grants, mandatory features.
	ErrCatalogImmutable = errors.New("catalog entry is immutable")

	// ErrOrphanedProject is an integrity failure: a project whose parent organization is missing.
	ErrOrphanedProject = errors.New("orphaned project")
)

// IsNotFound reports whether err is one of the not-found kinds.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrWorkspaceNotFound) ||
		errors.Is(err, ErrRoleNotFound) ||
		errors.Is(err, ErrPermissionNotFound) ||
		errors.Is(err, ErrFeatureNotFound) ||
		errors.Is(err, ErrMembershipNotFound) ||
		errors.Is(err, ErrDesignationNotFound)
}

// IsForbidden reports whether err denies the actor on authority grounds.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrInsufficientAuthority) ||
		errors.Is(err, ErrOwnerProtected) ||
		errors.Is(err, ErrSuperAdminProtected)
}

// IsFatal reports whether err signals broken referential integrity.
func IsFatal(err error) bool {
	return errors.Is(err, ErrOrphanedProject)
}

// HTTPStatus maps an engine error to the status code the API layer should use.
// Unknown errors, including storage failures, map to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsForbidden(err):
		return http.StatusForbidden
	case IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateAssignment), errors.Is(err, ErrCatalogImmutable):
		return http.StatusConflict
	case errors.Is(err, ErrBootstrapPrecondition):
		return http.StatusPreconditionFailed
	case errors.Is(err, ErrNotOrganization):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
