// Package integrity finds rows that break the workspace tree invariants.
// It only reports; nothing is repaired automatically.
package integrity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/authzerr"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/workspaces"
)

// Finding kinds, also used as the metric label
const (
	KindOrphanedProject  = "orphaned_project"
	KindOwnerNotMember   = "owner_not_member"
	KindAuditLogsExpired = "audit_logs_expired"
)

// AuditCleaner removes audit events past their retention
type AuditCleaner interface {
	Cleanup(ctx context.Context, policy audit.RetentionPolicy) (int64, error)
}

// Report is the outcome of one sweep
type Report struct {
	OrphanedProjects []*workspaces.Workspace
	OwnersNotMembers []*workspaces.Workspace
	AuditLogsRemoved int64
	StartedAt        time.Time
	Duration         time.Duration
}

// Clean reports whether the sweep found nothing wrong
func (r *Report) Clean() bool {
	return len(r.OrphanedProjects) == 0 && len(r.OwnersNotMembers) == 0
}

// Sweeper runs integrity passes over the workspace tables
type Sweeper struct {
	workspaces *workspaces.Store
	audit      AuditCleaner
	retention  audit.RetentionPolicy
	metrics    *observability.Metrics
	logger     *logrus.Logger
}

// NewSweeper creates a sweeper. cleaner and metrics may be nil.
func NewSweeper(db *sql.DB, cleaner AuditCleaner, retention audit.RetentionPolicy, metrics *observability.Metrics, logger *logrus.Logger) *Sweeper {
	return &Sweeper{
		workspaces: workspaces.NewStore(db),
		audit:      cleaner,
		retention:  retention,
		metrics:    metrics,
		logger:     logger,
	}
}

// Run performs one pass and logs every finding
func (s *Sweeper) Run(ctx context.Context) (*Report, error) {
	report := &Report{StartedAt: time.Now().UTC()}

	orphans, err := s.workspaces.FindOrphanedProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find orphaned projects: %w", err)
	}
	report.OrphanedProjects = orphans
	for _, p := range orphans {
		entry := s.logger.WithFields(logrus.Fields{"kind": KindOrphanedProject, "workspace_id": p.ID, "name": p.Name})
		if p.ParentID != nil {
			entry = entry.WithField("parent_id", *p.ParentID)
		}
		entry.Error(authzerr.ErrOrphanedProject)
	}
	s.metrics.SetIntegrityFindings(KindOrphanedProject, len(orphans))

	missing, err := s.workspaces.FindOwnersWithoutMembership(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find owners without membership: %w", err)
	}
	report.OwnersNotMembers = missing
	for _, org := range missing {
		entry := s.logger.WithFields(logrus.Fields{"kind": KindOwnerNotMember, "workspace_id": org.ID, "name": org.Name})
		if org.OwnerID != nil {
			entry = entry.WithField("owner_id", *org.OwnerID)
		}
		entry.Warn("organization owner has no membership")
	}
	s.metrics.SetIntegrityFindings(KindOwnerNotMember, len(missing))

	if s.audit != nil {
		removed, err := s.audit.Cleanup(ctx, s.retention)
		if err != nil {
			return nil, fmt.Errorf("failed to clean up audit logs: %w", err)
		}
		report.AuditLogsRemoved = removed
		if removed > 0 {
			s.logger.WithFields(logrus.Fields{"kind": KindAuditLogsExpired, "removed": removed}).Info("removed expired audit events")
		}
	}

	report.Duration = time.Since(report.StartedAt)
	s.logger.WithFields(logrus.Fields{
		"orphaned_projects":  len(report.OrphanedProjects),
		"owners_not_members": len(report.OwnersNotMembers),
		"duration":           report.Duration,
	}).Info("integrity sweep complete")
	return report, nil
}
