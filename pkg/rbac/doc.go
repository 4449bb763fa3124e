// Package rbac is the permission evaluation engine and visibility calculator.
//
// # Decision order
//
// Every check runs the same resolver chain and the first resolver that
// decides wins:
//
//  1. Owner: owner_id of the organization root. Allows every permission.
//  2. Super Admin: a designation on the organization root. Allows every
//     permission except the protected set.
//  3. Role holder: the membership row of the evaluated workspace. Allows the
//     permissions its role grants where their feature is active.
//  4. None: deny.
//
// The protected set (organization.delete, organization.transfer_ownership,
// super_admins.assign, super_admins.revoke) is reserved to the Owner whatever
// a role grants.
//
// Role grants never cross workspaces. A project check that finds no
// membership in the project is denied even when the user holds a role in the
// parent organization, and the reverse.
//
// # Usage
//
//	engine := rbac.NewEngine(replica, catalogService,
//		rbac.WithMetrics(metrics),
//		rbac.WithLogger(logger),
//	)
//
//	ok, err := engine.HasPermission(ctx, userID, workspaceID, "boards.create")
//
//	decision, err := engine.Check(ctx, rbac.PermissionCheck{
//		UserID:      userID,
//		WorkspaceID: workspaceID,
//		Permission:  "boards.delete",
//	})
//	// decision.Authority reports which resolver decided
//
//	visible, err := engine.IsVisible(ctx, userID, workspaceID, "boards")
//
// Routes can be gated directly:
//
//	router.Handle("/v1/workspaces/{id}/boards",
//		rbac.RequirePermission(engine, "boards.read", "id")(handler))
//
// Unknown permission names fail with authzerr.ErrPermissionNotFound and
// unknown workspaces with authzerr.ErrWorkspaceNotFound; neither is reported
// as a plain denial.
package rbac
