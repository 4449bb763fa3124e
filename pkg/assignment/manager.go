// Package assignment is the only writer of memberships, Super Admin
// designations and ownership. Every operation checks the actor's authority
// first, enforces the Owner > Super Admin > role holder hierarchy, relies on
// storage constraints for uniqueness and emits one audit event whether it
// succeeds or not.
package assignment

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/authority"
	"github.com/platinummonkey/warden/pkg/authzerr"
	"github.com/platinummonkey/warden/pkg/catalog"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/workspaces"
)

const tracerName = "github.com/platinummonkey/warden/pkg/assignment"

// Config names the roles granted automatically during provisioning
type Config struct {
	// OwnerRole is bootstrapped for the creator of an organization and given
	// to a new owner who had no membership
	OwnerRole string
	// ProjectCreatorRole is assigned to the creator of a project
	ProjectCreatorRole string
}

// DefaultConfig returns the built-in catalog role names
func DefaultConfig() Config {
	return Config{OwnerRole: "owner", ProjectCreatorRole: "admin"}
}

// Manager performs authorization state mutations against the primary database
type Manager struct {
	db      *sql.DB
	checker rbac.Checker
	catalog *catalog.Service
	cfg     Config
	audit   audit.Logger
	metrics *observability.Metrics
	logger  *observability.Logger
	tracer  trace.Tracer
}

// Option configures a Manager
type Option func(*Manager)

// WithConfig overrides the provisioning role names
func WithConfig(cfg Config) Option {
	return func(m *Manager) { m.cfg = cfg }
}

// WithAuditLogger sends audit events to l
func WithAuditLogger(l audit.Logger) Option {
	return func(m *Manager) { m.audit = l }
}

// WithMetrics records operations to metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithLogger sets the manager logger
func WithLogger(l *observability.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a manager. checker authorizes actors and should read
// from db so that decisions see the manager's own writes.
func NewManager(db *sql.DB, checker rbac.Checker, cat *catalog.Service, opts ...Option) *Manager {
	m := &Manager{
		db:      db,
		checker: checker,
		catalog: cat,
		cfg:     DefaultConfig(),
		audit:   audit.NoopLogger{},
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = observability.NewLogger(observability.InfoLevel, io.Discard)
	}
	m.logger = m.logger.WithField("component", "assignment")
	return m
}

// run wraps one operation with a span, metrics, logging and its audit event
func (m *Manager) run(ctx context.Context, op string, event *audit.AuditEvent, fn func(context.Context) error) error {
	ctx, span := m.tracer.Start(ctx, "assignment."+op)
	defer span.End()
	start := time.Now()

	err := fn(ctx)

	status := audit.StatusFromError(err)
	m.metrics.RecordAssignment(op, string(status), time.Since(start))

	event.Status = status
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	logger := observability.UpdateLoggerWithTraceContext(ctx, m.logger).WithFields(eventFields(op, event))
	if err != nil {
		event.ErrorMessage = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if status == audit.EventStatusDenied {
			logger.WithError(err).Debug("mutation denied")
		} else {
			logger.WithError(err).Warn("mutation failed")
		}
	} else {
		logger.Info("mutation applied")
	}
	span.SetAttributes(attribute.String("assignment.result", string(status)))

	if logErr := m.audit.Log(ctx, event); logErr != nil {
		m.logger.WithError(logErr).Error("failed to write audit event")
	}
	return err
}

func eventFields(op string, event *audit.AuditEvent) map[string]interface{} {
	fields := map[string]interface{}{"operation": op}
	if event.ActorID != nil {
		fields["actor_id"] = *event.ActorID
	}
	if event.TargetUserID != nil {
		fields["target_user_id"] = *event.TargetUserID
	}
	if event.WorkspaceID != nil {
		fields["workspace_id"] = *event.WorkspaceID
	}
	if event.OrganizationID != nil {
		fields["organization_id"] = *event.OrganizationID
	}
	return fields
}

// newEvent starts an audit event for an action by actorID on targetID
func newEvent(ctx context.Context, eventType audit.EventType, resource audit.ResourceType, actorID, targetID int64) *audit.AuditEvent {
	event := audit.NewEvent(ctx, eventType, audit.EventStatusSuccess)
	event.ResourceType = resource
	if actorID != 0 {
		event.ActorID = audit.Int64(actorID)
	}
	if targetID != 0 {
		event.TargetUserID = audit.Int64(targetID)
	}
	return event
}

// require fails with ErrInsufficientAuthority unless actorID holds permission in workspaceID
func (m *Manager) require(ctx context.Context, actorID, workspaceID int64, permission string) error {
	ok, err := m.checker.HasPermission(ctx, actorID, workspaceID, permission)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %d lacks %s in workspace %d: %w", actorID, permission, workspaceID, authzerr.ErrInsufficientAuthority)
	}
	return nil
}

// requireOwner fails with ErrInsufficientAuthority unless actorID owns org
func requireOwner(org *workspaces.Workspace, actorID int64) error {
	if !org.IsOwnedBy(actorID) {
		return fmt.Errorf("user %d is not the owner of organization %d: %w", actorID, org.ID, authzerr.ErrInsufficientAuthority)
	}
	return nil
}

// guardTarget protects the Owner from any change and a Super Admin from any
// change not made by the Owner.
func (m *Manager) guardTarget(ctx context.Context, root *workspaces.Workspace, targetID, actorID int64) error {
	if root.IsOwnedBy(targetID) {
		return fmt.Errorf("user %d owns organization %d: %w", targetID, root.ID, authzerr.ErrOwnerProtected)
	}
	sa, err := authority.NewDesignationStore(m.db).Exists(ctx, root.ID, targetID)
	if err != nil {
		return err
	}
	if sa && !root.IsOwnedBy(actorID) {
		return fmt.Errorf("user %d is a super admin of organization %d: %w", targetID, root.ID, authzerr.ErrSuperAdminProtected)
	}
	return nil
}

// usableRole loads roleID through db and checks that it may be used in org
func usableRole(ctx context.Context, store *catalog.Store, roleID int64, org *workspaces.Workspace) (*catalog.Role, error) {
	role, err := store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if !role.UsableIn(org.ID) {
		return nil, fmt.Errorf("role %d belongs to another organization: %w", roleID, authzerr.ErrRoleNotFound)
	}
	return role, nil
}
