// Package audit records every administrative mutation of the authorization
// state, successful or rejected, for compliance and forensics.
//
// # Event Types
//
// Provisioning: organization.created, organization.deleted, project.created,
// organization.ownership_transferred
// Membership: membership.bootstrapped, membership.role_assigned,
// membership.role_changed, membership.role_removed
// Bypass authority: super_admin.assigned, super_admin.revoked
// Catalog: role.created, role.grants_updated, feature.toggled
//
// Rejections are recorded with status "denied" when the actor lacked the
// authority, and "failure" for everything else.
//
// # Usage Example
//
//	event := audit.NewEvent(ctx, audit.EventTypeRoleAssigned, audit.StatusFromError(err))
//	event.WorkspaceID = audit.Int64(workspaceID)
//	event.TargetUserID = audit.Int64(userID)
//	event.ResourceType = audit.ResourceTypeMembership
//	logger.Log(ctx, event)
//
// Search audit logs:
//
//	events, err := dbLogger.Search(ctx, audit.SearchFilter{
//		OrganizationID: &orgID,
//		EventTypes:     []audit.EventType{audit.EventTypeSuperAdminAssigned},
//		Limit:          50,
//	})
//
// # Destinations
//
// DBLogger writes to the audit_logs table, FileLogger to rotated JSON-lines
// files, and MultiLogger fans out to several. NoopLogger is the default when
// nothing is configured.
//
// # Retention Policy
//
// DBLogger.Cleanup deletes rows older than RetentionPolicy.RetentionDays
// (default 90). Export renders JSON, CSV or NDJSON.
package audit
