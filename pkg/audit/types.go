package audit

import "time"

// EventType represents the category of audit event
type EventType string

const (
	// Provisioning events
	EventTypeOrganizationCreated EventType = "organization.created"
	EventTypeOrganizationDeleted EventType = "organization.deleted"
	EventTypeProjectCreated      EventType = "project.created"
	EventTypeOwnershipTransfer   EventType = "organization.ownership_transferred"

	// Membership events
	EventTypeMemberBootstrapped EventType = "membership.bootstrapped"
	EventTypeRoleAssigned       EventType = "membership.role_assigned"
	EventTypeRoleChanged        EventType = "membership.role_changed"
	EventTypeRoleRemoved        EventType = "membership.role_removed"

	// Bypass authority events
	EventTypeSuperAdminAssigned EventType = "super_admin.assigned"
	EventTypeSuperAdminRevoked  EventType = "super_admin.revoked"

	// Catalog events
	EventTypeCustomRoleCreated EventType = "role.created"
	EventTypeRoleGrantsUpdated EventType = "role.grants_updated"
	EventTypeFeatureToggled    EventType = "feature.toggled"
)

// EventStatus represents the outcome of an audited operation
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource an event is about
type ResourceType string

const (
	ResourceTypeWorkspace  ResourceType = "workspace"
	ResourceTypeMembership ResourceType = "membership"
	ResourceTypeSuperAdmin ResourceType = "super_admin"
	ResourceTypeRole       ResourceType = "role"
	ResourceTypeFeature    ResourceType = "feature"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Who acted, and on whose behalf
	ActorID      *int64 `json:"actor_id,omitempty"`
	TargetUserID *int64 `json:"target_user_id,omitempty"`

	// Where
	OrganizationID *int64 `json:"organization_id,omitempty"`
	WorkspaceID    *int64 `json:"workspace_id,omitempty"`

	// What
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	RequestID    string `json:"request_id,omitempty"`
	Message      string `json:"message,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Changes tracking (before/after for updates)
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	ActorID        *int64
	TargetUserID   *int64
	OrganizationID *int64
	WorkspaceID    *int64

	EventTypes []EventType
	Status     *EventStatus

	// Pagination
	Limit  int
	Offset int
}

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)

// RetentionPolicy defines how long audit logs are kept
type RetentionPolicy struct {
	RetentionDays int
}

// DefaultRetentionPolicy returns a default retention policy (90 days)
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{RetentionDays: 90}
}
