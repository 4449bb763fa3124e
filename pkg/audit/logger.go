package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/warden/pkg/authzerr"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, contextkeys.AuditLoggerKey, logger)
}

// FromContext retrieves the audit logger from context
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return NoopLogger{}
}

// NoopLogger discards every event
type NoopLogger struct{}

// Log implements Logger
func (NoopLogger) Log(context.Context, *AuditEvent) error { return nil }

// Close implements Logger
func (NoopLogger) Close() error { return nil }

// NewEvent creates an event stamped with the current time and the request id
// and acting user carried by ctx.
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	event := &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: observability.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}
	if userID, ok := observability.GetUserID(ctx); ok {
		event.ActorID = &userID
	}
	return event
}

// StatusFromError classifies the outcome of an operation
func StatusFromError(err error) EventStatus {
	switch {
	case err == nil:
		return EventStatusSuccess
	case authzerr.IsForbidden(err):
		return EventStatusDenied
	default:
		return EventStatusFailure
	}
}

// Int64 returns a pointer to v for the optional id fields of AuditEvent
func Int64(v int64) *int64 {
	return &v
}
