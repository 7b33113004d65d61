package apiflow

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// usersAPI is a tiny user service: create, fetch and delete user 7.
type usersAPI struct {
	*httptest.Server
	mu   sync.Mutex
	hits []string
}

func newUsersAPI(t *testing.T) *usersAPI {
	t.Helper()
	api := &usersAPI{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /users", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]any
		_ = json.NewDecoder(r.Body).Decode(&in)
		writeJSON(w, http.StatusCreated, map[string]any{"id": 7, "name": in["name"]})
	})
	mux.HandleFunc("GET /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "7" {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": 7, "name": "ada", "token": r.Header.Get("X-Token")})
	})
	mux.HandleFunc("DELETE /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	api.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		api.hits = append(api.hits, r.Method+" "+r.URL.Path)
		api.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(api.Close)
	return api
}

func (a *usersAPI) requests() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.hits...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// usersFlow creates, fetches and deletes a user.
func usersFlow(name string) *WorkflowBuilder {
	return New(name).
		Tags("users").
		Var("name", "ada").
		Step(
			NewStep("create", "POST /users").
				Body(map[string]any{"name": "${name}"}).
				ExpectStatus(201).
				ExpectBody(map[string]any{"name": "${name}", "id": "type:integer"}).
				Extract("user_id", "$.id"),
			NewStep("fetch", "GET /users/{id}").
				PathParam("id", "${user_id}").
				DependsOn("create").
				ExpectStatus(200).
				Check("response.body.name == 'ada'"),
		).
		Teardown(NewStep("delete", "DELETE /users/{id}").PathParam("id", "${user_id}"))
}

func healthFlow(name string, tags ...string) Workflow {
	return New(name).Tags(tags...).
		Step(NewStep("ping", "GET /health").ExpectStatus(200)).
		MustBuild()
}

func hasPrefix(list []string, prefix string) bool {
	for _, s := range list {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
