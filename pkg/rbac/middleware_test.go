package rbac

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/warden/pkg/observability"
)

func TestRequirePermission(t *testing.T) {
	f := newEngineFixture(t)
	f.join(t, f.project.ID, userProject, "member")

	router := mux.NewRouter()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	router.Handle("/workspaces/{id}/boards", RequirePermission(f.engine, "boards.create", "id")(ok))
	router.Handle("/workspaces/{id}/boards/{board}", RequirePermission(f.engine, "boards.delete", "id")(ok)).Methods(http.MethodDelete)

	project := strconv.FormatInt(f.project.ID, 10)
	tests := []struct {
		name   string
		method string
		path   string
		userID *int64
		want   int
	}{
		{"anonymous", http.MethodPost, "/workspaces/" + project + "/boards", nil, http.StatusUnauthorized},
		{"bad workspace id", http.MethodPost, "/workspaces/abc/boards", ptr(userProject), http.StatusBadRequest},
		{"unknown workspace", http.MethodPost, "/workspaces/4242/boards", ptr(userProject), http.StatusNotFound},
		{"granted", http.MethodPost, "/workspaces/" + project + "/boards", ptr(userProject), http.StatusNoContent},
		{"not granted", http.MethodDelete, "/workspaces/" + project + "/boards/7", ptr(userProject), http.StatusForbidden},
		{"owner bypass", http.MethodDelete, "/workspaces/" + project + "/boards/7", ptr(userOwner), http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.userID != nil {
				req = req.WithContext(observability.WithUserID(req.Context(), *tt.userID))
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func ptr(v int64) *int64 { return &v }
