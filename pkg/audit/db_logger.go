package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DBLogger implements audit logging to the audit_logs table
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger. The audit_logs
// table is created by storage.RunMigrations.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

func marshalNullable(v interface{}, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	metadata, err := marshalNullable(event.Metadata, len(event.Metadata) == 0)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	changes, err := marshalNullable(event.Changes, event.Changes == nil)
	if err != nil {
		return fmt.Errorf("failed to marshal changes: %w", err)
	}

	query := `
		INSERT INTO audit_logs (
			timestamp, event_type, status,
			actor_id, target_user_id, organization_id, workspace_id,
			resource_type, resource_id, request_id,
			message, error_message, metadata, changes
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9, $10,
			$11, $12, $13, $14
		) RETURNING id
	`

	err = l.db.QueryRowContext(ctx, query,
		event.Timestamp, string(event.EventType), string(event.Status),
		event.ActorID, event.TargetUserID, event.OrganizationID, event.WorkspaceID,
		string(event.ResourceType), event.ResourceID, event.RequestID,
		event.Message, event.ErrorMessage, metadata, changes,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// Search searches audit logs based on filters, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	query := `
		SELECT
			id, timestamp, event_type, status,
			actor_id, target_user_id, organization_id, workspace_id,
			resource_type, resource_id, request_id,
			message, error_message, metadata, changes
		FROM audit_logs
		WHERE 1=1
	`

	args := []interface{}{}
	next := func(clause string, arg interface{}) {
		args = append(args, arg)
		query += fmt.Sprintf(clause, len(args))
	}

	if filter.StartTime != nil {
		next(" AND timestamp >= $%d", *filter.StartTime)
	}
	if filter.EndTime != nil {
		next(" AND timestamp <= $%d", *filter.EndTime)
	}
	if filter.ActorID != nil {
		next(" AND actor_id = $%d", *filter.ActorID)
	}
	if filter.TargetUserID != nil {
		next(" AND target_user_id = $%d", *filter.TargetUserID)
	}
	if filter.OrganizationID != nil {
		next(" AND organization_id = $%d", *filter.OrganizationID)
	}
	if filter.WorkspaceID != nil {
		next(" AND workspace_id = $%d", *filter.WorkspaceID)
	}
	if len(filter.EventTypes) > 0 {
		placeholders := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			args = append(args, string(et))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		query += " AND event_type IN (" + strings.Join(placeholders, ", ") + ")"
	}
	if filter.Status != nil {
		next(" AND status = $%d", string(*filter.Status))
	}

	query += " ORDER BY timestamp DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	next(" LIMIT $%d", limit)
	if filter.Offset > 0 {
		next(" OFFSET $%d", filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func scanEvent(rows *sql.Rows) (*AuditEvent, error) {
	var (
		event                        AuditEvent
		eventType, status            string
		resourceType, resourceID     sql.NullString
		requestID, message, errorMsg sql.NullString
		metadata, changes            sql.NullString
	)
	err := rows.Scan(
		&event.ID, &event.Timestamp, &eventType, &status,
		&event.ActorID, &event.TargetUserID, &event.OrganizationID, &event.WorkspaceID,
		&resourceType, &resourceID, &requestID,
		&message, &errorMsg, &metadata, &changes,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}

	event.EventType = EventType(eventType)
	event.Status = EventStatus(status)
	event.ResourceType = ResourceType(resourceType.String)
	event.ResourceID = resourceID.String
	event.RequestID = requestID.String
	event.Message = message.String
	event.ErrorMessage = errorMsg.String

	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if changes.Valid {
		event.Changes = &ChangeDetails{}
		if err := json.Unmarshal([]byte(changes.String), event.Changes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
		}
	}
	return &event, nil
}

// Export renders the events matching filter in format
func (l *DBLogger) Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error) {
	events, err := l.Search(ctx, filter)
	if err != nil {
		return nil, err
	}
	return Export(events, format)
}

// Cleanup removes audit logs older than the retention period
func (l *DBLogger) Cleanup(ctx context.Context, policy RetentionPolicy) (int64, error) {
	if policy.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -policy.RetentionDays)

	result, err := l.db.ExecContext(ctx, "DELETE FROM audit_logs WHERE timestamp < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up audit logs: %w", err)
	}
	return result.RowsAffected()
}

// Close is a no-op; the database handle is owned by the caller
func (l *DBLogger) Close() error {
	return nil
}
