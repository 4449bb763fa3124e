package rbac

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/warden/pkg/authority"
	"github.com/platinummonkey/warden/pkg/catalog"
	"github.com/platinummonkey/warden/pkg/memberships"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/platinummonkey/warden/pkg/workspaces"
)

const tracerName = "github.com/platinummonkey/warden/pkg/rbac"

// Checker is the read-only authorization surface used by handlers and the
// assignment manager.
type Checker interface {
	// Check decides a permission check and reports which authority decided it
	Check(ctx context.Context, check PermissionCheck) (*Decision, error)

	// HasPermission is the boolean projection of Check
	HasPermission(ctx context.Context, userID, workspaceID int64, permission string) (bool, error)

	// ResolveAuthority returns the strongest authority the user holds in the workspace
	ResolveAuthority(ctx context.Context, userID, workspaceID int64) (Authority, error)

	// IsVisible reports whether any part of a feature is reachable by the user
	IsVisible(ctx context.Context, userID, workspaceID int64, featureSlug string) (bool, error)
}

// evaluation carries one check through the resolver chain
type evaluation struct {
	check PermissionCheck
	root  *workspaces.Workspace
}

// resolver either decides an evaluation or returns nil to defer to the next one
type resolver func(ctx context.Context, ev *evaluation) (*Decision, error)

// Engine evaluates permission checks with an ordered resolver chain:
// Owner, then Super Admin, then the membership of the exact workspace, then
// deny. Nothing is ever looked up on a parent workspace except the two bypass
// authorities, which live on the organization root.
type Engine struct {
	authority   *authority.Resolver
	memberships *memberships.Store
	catalog     *catalog.Service
	metrics     *observability.Metrics
	logger      *observability.Logger
	tracer      trace.Tracer
	chain       []resolver
}

// Option configures an Engine
type Option func(*Engine)

// WithMetrics records decisions to m
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the engine logger
func WithLogger(l *observability.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer overrides the global OpenTelemetry tracer
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// NewEngine creates an engine that reads through read, normally a replica
func NewEngine(read storage.DBTX, cat *catalog.Service, opts ...Option) *Engine {
	e := &Engine{
		authority:   authority.NewResolver(read),
		memberships: memberships.NewStore(read),
		catalog:     cat,
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = observability.NewLogger(observability.InfoLevel, io.Discard)
	}
	e.logger = e.logger.WithField("component", "rbac")

	e.chain = []resolver{
		e.resolveOwner,
		e.resolveSuperAdmin,
		e.resolveRoleHolder,
		e.resolveNone,
	}
	return e
}

func allow(a Authority, reason string) *Decision {
	return &Decision{Allowed: true, Authority: a, Reason: reason, CheckedAt: time.Now()}
}

func deny(a Authority, reason string) *Decision {
	return &Decision{Allowed: false, Authority: a, Reason: reason, CheckedAt: time.Now()}
}

func (e *Engine) resolveOwner(_ context.Context, ev *evaluation) (*Decision, error) {
	if ev.root.IsOwnedBy(ev.check.UserID) {
		return allow(AuthorityOwner, fmt.Sprintf("owner of organization %d", ev.root.ID)), nil
	}
	return nil, nil
}

func (e *Engine) resolveSuperAdmin(ctx context.Context, ev *evaluation) (*Decision, error) {
	ok, err := e.authority.IsSuperAdminOf(ctx, ev.root, ev.check.UserID)
	if err != nil || !ok {
		return nil, err
	}
	if IsProtected(ev.check.Permission) {
		return deny(AuthoritySuperAdmin, ev.check.Permission+" is reserved to the organization owner"), nil
	}
	return allow(AuthoritySuperAdmin, fmt.Sprintf("super admin of organization %d", ev.root.ID)), nil
}

func (e *Engine) resolveRoleHolder(ctx context.Context, ev *evaluation) (*Decision, error) {
	m, err := e.memberships.Find(ctx, ev.check.WorkspaceID, ev.check.UserID)
	if err != nil || m == nil {
		return nil, err
	}
	if IsProtected(ev.check.Permission) {
		return deny(AuthorityRoleHolder, ev.check.Permission+" is reserved to the organization owner"), nil
	}

	perms, err := e.catalog.GetRolePermissions(ctx, m.RoleID, ev.check.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if perms.Has(ev.check.Permission) {
		return allow(AuthorityRoleHolder, fmt.Sprintf("granted by role %d", m.RoleID)), nil
	}
	return deny(AuthorityRoleHolder, fmt.Sprintf("role %d does not grant %s here", m.RoleID, ev.check.Permission)), nil
}

func (e *Engine) resolveNone(_ context.Context, ev *evaluation) (*Decision, error) {
	return deny(AuthorityNone, fmt.Sprintf("no membership in workspace %d", ev.check.WorkspaceID)), nil
}

func (e *Engine) decide(ctx context.Context, ev *evaluation) (*Decision, error) {
	for _, r := range e.chain {
		d, err := r(ctx, ev)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}
	}
	return deny(AuthorityNone, "no resolver matched"), nil
}

// Check validates the permission name, resolves the organization root and
// runs the resolver chain.
func (e *Engine) Check(ctx context.Context, check PermissionCheck) (*Decision, error) {
	ctx, span := e.tracer.Start(ctx, "rbac.Check", trace.WithAttributes(
		attribute.Int64("authz.user_id", check.UserID),
		attribute.Int64("authz.workspace_id", check.WorkspaceID),
		attribute.String("authz.permission", check.Permission),
	))
	defer span.End()
	start := time.Now()

	decision, err := e.check(ctx, check)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	e.metrics.RecordDecision("check", decision.Authority.String(), decision.Allowed, time.Since(start))
	span.SetAttributes(
		attribute.Bool("authz.allowed", decision.Allowed),
		attribute.String("authz.authority", decision.Authority.String()),
	)
	if !decision.Allowed {
		e.logger.WithFields(map[string]interface{}{
			"user_id":      check.UserID,
			"workspace_id": check.WorkspaceID,
			"permission":   check.Permission,
			"authority":    decision.Authority.String(),
		}).Debugf("permission denied: %s", decision.Reason)
	}
	return decision, nil
}

func (e *Engine) check(ctx context.Context, check PermissionCheck) (*Decision, error) {
	if _, err := e.catalog.GetPermissionByName(ctx, check.Permission); err != nil {
		return nil, err
	}
	root, err := e.authority.Root(ctx, check.WorkspaceID)
	if err != nil {
		return nil, err
	}
	return e.decide(ctx, &evaluation{check: check, root: root})
}

// HasPermission reports whether userID may use permission in workspaceID
func (e *Engine) HasPermission(ctx context.Context, userID, workspaceID int64, permission string) (bool, error) {
	d, err := e.Check(ctx, PermissionCheck{UserID: userID, WorkspaceID: workspaceID, Permission: permission})
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// ResolveAuthority returns the strongest authority userID holds in workspaceID
func (e *Engine) ResolveAuthority(ctx context.Context, userID, workspaceID int64) (Authority, error) {
	root, err := e.authority.Root(ctx, workspaceID)
	if err != nil {
		return AuthorityNone, err
	}
	return e.resolveAuthority(ctx, root, userID, workspaceID)
}

func (e *Engine) resolveAuthority(ctx context.Context, root *workspaces.Workspace, userID, workspaceID int64) (Authority, error) {
	if root.IsOwnedBy(userID) {
		return AuthorityOwner, nil
	}
	sa, err := e.authority.IsSuperAdminOf(ctx, root, userID)
	if err != nil {
		return AuthorityNone, err
	}
	if sa {
		return AuthoritySuperAdmin, nil
	}
	m, err := e.memberships.Find(ctx, workspaceID, userID)
	if err != nil {
		return AuthorityNone, err
	}
	if m != nil {
		return AuthorityRoleHolder, nil
	}
	return AuthorityNone, nil
}

// EffectivePermissions lists, sorted, every permission name userID may use in
// workspaceID.
func (e *Engine) EffectivePermissions(ctx context.Context, userID, workspaceID int64) ([]string, error) {
	root, err := e.authority.Root(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	auth, err := e.resolveAuthority(ctx, root, userID, workspaceID)
	if err != nil {
		return nil, err
	}

	var candidates []catalog.Permission
	switch auth {
	case AuthorityOwner, AuthoritySuperAdmin:
		candidates, err = e.catalog.ListPermissions(ctx)
	case AuthorityRoleHolder:
		var m *memberships.Membership
		m, err = e.memberships.Get(ctx, workspaceID, userID)
		if err != nil {
			return nil, err
		}
		var set catalog.PermissionSet
		set, err = e.catalog.GetRolePermissions(ctx, m.RoleID, workspaceID)
		candidates = set.Slice()
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(candidates))
	for _, p := range candidates {
		if auth != AuthorityOwner && IsProtected(p.Name) {
			continue
		}
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names, nil
}

var _ Checker = (*Engine)(nil)
