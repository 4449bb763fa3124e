package rbac

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// IsVisible reports whether featureSlug should be exposed to userID in
// workspaceID: always for the Owner and Super Admins, otherwise when at least
// one permission of the feature passes the resolver chain.
func (e *Engine) IsVisible(ctx context.Context, userID, workspaceID int64, featureSlug string) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "rbac.IsVisible", trace.WithAttributes(
		attribute.Int64("authz.user_id", userID),
		attribute.Int64("authz.workspace_id", workspaceID),
		attribute.String("authz.feature", featureSlug),
	))
	defer span.End()
	start := time.Now()

	visible, auth, err := e.isVisible(ctx, userID, workspaceID, featureSlug)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	e.metrics.RecordDecision("visibility", auth.String(), visible, time.Since(start))
	span.SetAttributes(attribute.Bool("authz.visible", visible))
	return visible, nil
}

func (e *Engine) isVisible(ctx context.Context, userID, workspaceID int64, featureSlug string) (bool, Authority, error) {
	feature, err := e.catalog.GetFeatureBySlug(ctx, featureSlug)
	if err != nil {
		return false, AuthorityNone, err
	}

	owner, err := e.authority.IsOwner(ctx, userID, workspaceID)
	if err != nil || owner {
		return owner, AuthorityOwner, err
	}
	superAdmin, err := e.authority.IsSuperAdmin(ctx, userID, workspaceID)
	if err != nil || superAdmin {
		return superAdmin, AuthoritySuperAdmin, err
	}

	m, err := e.memberships.Find(ctx, workspaceID, userID)
	if err != nil || m == nil {
		return false, AuthorityNone, err
	}
	// grants of an inactive feature are filtered out anyway
	active, err := e.catalog.IsFeatureActive(ctx, workspaceID, feature.ID)
	if err != nil || !active {
		return false, AuthorityRoleHolder, err
	}

	granted, err := e.catalog.GetRolePermissions(ctx, m.RoleID, workspaceID)
	if err != nil {
		return false, AuthorityRoleHolder, err
	}
	perms, err := e.catalog.ListFeaturePermissions(ctx, feature.ID)
	if err != nil {
		return false, AuthorityRoleHolder, err
	}
	for _, p := range perms {
		if !IsProtected(p.Name) && granted.Has(p.Name) {
			return true, AuthorityRoleHolder, nil
		}
	}
	return false, AuthorityRoleHolder, nil
}
