// Package httputil holds the JSON request and response helpers shared by the
// warden API handlers and middleware.
//
// Every error body has the shape {"error": "..."}. Handlers report engine
// errors with WriteAuthzError, which maps authzerr kinds to status codes and
// hides the message of unclassified failures:
//
//	decision, err := checker.Check(ctx, check)
//	if err != nil {
//		httputil.WriteAuthzError(w, err)
//		return
//	}
//	httputil.WriteSuccess(w, decision)
//
// Request bodies are decoded strictly. Unknown fields and trailing data are
// rejected, and bodies over the MaxBytesMiddleware limit answer 413:
//
//	var req MemberRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//	workspaceID, ok := httputil.ParsePathInt64OrError(w, r, "id")
package httputil
