package api

import (
	"context"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/assignment"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/authority"
	"github.com/platinummonkey/warden/pkg/authzerr"
	"github.com/platinummonkey/warden/pkg/catalog"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/memberships"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/storage"
	"github.com/platinummonkey/warden/pkg/workspaces"
)

// Evaluator is the read side of the engine the API answers questions with
type Evaluator interface {
	rbac.Checker

	// EffectivePermissions lists every permission the user may use in the workspace
	EffectivePermissions(ctx context.Context, userID, workspaceID int64) ([]string, error)
}

// AuditSearcher finds recorded audit events
type AuditSearcher interface {
	Search(ctx context.Context, filter audit.SearchFilter) ([]*audit.AuditEvent, error)
}

// Dependencies are the services the API is built on
type Dependencies struct {
	// Checker answers authorization questions, usually from a replica
	Checker Evaluator
	// Manager performs every mutation against the primary
	Manager *assignment.Manager
	Catalog *catalog.Service
	// Read serves listings
	Read storage.DBTX
	// Audit is optional; without it the audit route is not registered
	Audit  AuditSearcher
	Logger *observability.Logger
}

// Server represents our API server
type Server struct {
	router       *mux.Router
	checker      Evaluator
	manager      *assignment.Manager
	catalog      *catalog.Service
	workspaces   *workspaces.Store
	memberships  *memberships.Store
	designations *authority.DesignationStore
	audit        AuditSearcher
	logger       *observability.Logger
}

// NewServer creates a new API server
func NewServer(deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, io.Discard)
	}

	s := &Server{
		router:       mux.NewRouter(),
		checker:      deps.Checker,
		manager:      deps.Manager,
		catalog:      deps.Catalog,
		workspaces:   workspaces.NewStore(deps.Read),
		memberships:  memberships.NewStore(deps.Read),
		designations: authority.NewDesignationStore(deps.Read),
		audit:        deps.Audit,
		logger:       logger,
	}

	s.router.Use(
		httputil.RecoveryMiddleware(logger),
		middleware.RequestID,
		middleware.NewIdentityMiddleware(false).Handler,
		middleware.RequestLogger(logger),
		httputil.ContentTypeMiddleware,
	)
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/v1").Subrouter()

	// Evaluation
	v1.HandleFunc("/authz/check", s.check).Methods("POST")
	v1.HandleFunc("/workspaces/{id}/visibility/{feature}", s.visibility).Methods("GET")
	v1.HandleFunc("/workspaces/{id}/permissions", s.permissions).Methods("GET")

	// Organizations and projects
	v1.HandleFunc("/organizations", s.createOrganization).Methods("POST")
	v1.Handle("/organizations/{id}", s.require(rbac.PermOrganizationRead, s.getOrganization)).Methods("GET")
	v1.HandleFunc("/organizations/{id}", s.deleteOrganization).Methods("DELETE")
	v1.HandleFunc("/organizations/{id}/projects", s.createProject).Methods("POST")
	v1.Handle("/organizations/{id}/projects", s.require(rbac.PermProjectsRead, s.listProjects)).Methods("GET")
	v1.HandleFunc("/organizations/{id}/transfer", s.transferOwnership).Methods("POST")

	// Super Admins
	v1.Handle("/organizations/{id}/super-admins", s.require(rbac.PermOrganizationRead, s.listSuperAdmins)).Methods("GET")
	v1.HandleFunc("/organizations/{id}/super-admins", s.assignSuperAdmin).Methods("POST")
	v1.HandleFunc("/organizations/{id}/super-admins/{user_id}", s.revokeSuperAdmin).Methods("DELETE")

	// Memberships
	v1.Handle("/workspaces/{id}/members", s.require(rbac.PermMembersRead, s.listMembers)).Methods("GET")
	v1.HandleFunc("/workspaces/{id}/members", s.inviteMember).Methods("POST")
	v1.HandleFunc("/workspaces/{id}/members/{user_id}", s.changeRole).Methods("PUT")
	v1.HandleFunc("/workspaces/{id}/members/{user_id}", s.removeMember).Methods("DELETE")
	v1.HandleFunc("/workspaces/{id}/bootstrap", s.bootstrap).Methods("POST")

	// Catalog
	v1.HandleFunc("/workspaces/{id}/features", s.listFeatures).Methods("GET")
	v1.HandleFunc("/workspaces/{id}/features/{feature}", s.setFeature).Methods("PUT")
	v1.Handle("/organizations/{id}/roles", s.require(rbac.PermOrganizationRead, s.listRoles)).Methods("GET")
	v1.HandleFunc("/organizations/{id}/roles", s.createRole).Methods("POST")
	v1.HandleFunc("/roles/{id}/permissions", s.updateRoleGrants).Methods("PUT")

	// Audit trail
	if s.audit != nil {
		v1.Handle("/organizations/{id}/audit", s.require(rbac.PermAuditRead, s.exportAudit)).Methods("GET")
	}
}

// require gates h on permission in the workspace named by the id path variable
func (s *Server) require(permission string, h http.HandlerFunc) http.Handler {
	return rbac.RequirePermission(s.checker, permission, "id")(h)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the router for instrumentation
func (s *Server) Router() *mux.Router {
	return s.router
}

// actor returns the acting user; IdentityMiddleware guarantees one
func actor(r *http.Request) int64 {
	userID, _ := middleware.GetUserID(r)
	return userID
}

// writeError maps engine errors to status codes and logs server side failures
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.FromContext(r.Context()).WithError(err)
	if status := authzerr.HTTPStatus(err); status >= http.StatusInternalServerError {
		logger.Error("request failed")
	} else {
		logger.Debug("request rejected")
	}
	httputil.WriteAuthzError(w, err)
}
