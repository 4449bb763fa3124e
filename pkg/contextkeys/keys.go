// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here. This
// prevents typos, documents dependencies, and makes key usage discoverable.
// Typed accessors live next to the values they carry (observability for
// request id, acting user and logger; audit for the audit logger).
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/warden/pkg/contextkeys"
//	ctx = context.WithValue(ctx, contextkeys.UserIDKey, userID)
//	userID, ok := ctx.Value(contextkeys.UserIDKey).(int64)
package contextkeys

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID (pkg/middleware/identity.go)
	// Used by: Logger, audit trail, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains the acting user id
	// Set by: middleware.Identity from the trusted identity header
	// Used by: Logger, audit trail, rbac.RequirePermission, API handlers
	// Type: int64
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: middleware.RequestLogger
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// AuditLoggerKey contains audit.Logger interface
	// Set by: callers that route events away from the manager's default sink
	// Used by: audit.FromContext
	// Type: audit.Logger
	AuditLoggerKey Key = "audit_logger"
)
