package rbac

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/observability"
)

// RequirePermission gates a route on permission in the workspace named by
// the workspaceVar path variable. The acting user must already be on the
// request context (see middleware.IdentityMiddleware).
func RequirePermission(checker Checker, permission, workspaceVar string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := observability.GetUserID(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			workspaceID, err := strconv.ParseInt(mux.Vars(r)[workspaceVar], 10, 64)
			if err != nil {
				httputil.WriteBadRequest(w, "Invalid workspace id")
				return
			}

			allowed, err := checker.HasPermission(r.Context(), userID, workspaceID, permission)
			if err != nil {
				httputil.WriteAuthzError(w, err)
				return
			}
			if !allowed {
				httputil.WriteForbidden(w, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
