package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/stanza-editor/stanza/backend/internal/auth"
	"github.com/stanza-editor/stanza/backend/internal/doc"
	"github.com/stanza-editor/stanza/backend/internal/presence"
	"github.com/stanza-editor/stanza/backend/internal/room"
	"github.com/stanza-editor/stanza/backend/internal/store"
	"github.com/stanza-editor/stanza/backend/internal/ws"
)

func setupTestAPI(t *testing.T) (*API, *mux.Router) {
	t.Helper()

	tmpDir := t.TempDir()

	usersPath := filepath.Join(tmpDir, "users.txt")
	if err := os.WriteFile(usersPath, []byte("alice:wonderland\nbob:builder\n"), 0o644); err != nil {
		t.Fatalf("Failed to write users file: %v", err)
	}

	st, err := store.New(filepath.Join(tmpDir, "data"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	tracker := presence.NewTracker(presence.DefaultTTL)
	registry := room.NewRegistry(st, doc.NewSpliceEngine(), tracker, 20*time.Millisecond)
	gate := auth.NewGate(auth.NewStore(usersPath))
	hub := ws.NewHub()
	go hub.Run()

	api := New(registry, st, tracker, gate, hub)
	router := mux.NewRouter()
	api.Register(router)

	return api, router
}

// asAlice attaches valid basic-auth credentials.
func asAlice(req *http.Request) *http.Request {
	req.SetBasicAuth("alice", "wonderland")
	return req
}

func doRequest(router *mux.Router, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthHandler(t *testing.T) {
	_, router := setupTestAPI(t)

	// Health is the one route that needs no credentials
	w := doRequest(router, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%v'", response["status"])
	}
	if _, ok := response["active_rooms"]; !ok {
		t.Error("Response should contain 'active_rooms'")
	}
}

func TestSpaceRoutesRequireAuth(t *testing.T) {
	_, router := setupTestAPI(t)

	tests := []struct {
		method string
		path   string
	}{
		{"GET", "/api/spaces"},
		{"GET", "/api/spaces/notes"},
		{"PUT", "/api/spaces/notes"},
		{"POST", "/api/spaces/notes"},
		{"DELETE", "/api/spaces/notes"},
		{"POST", "/api/spaces/notes/rename"},
		{"POST", "/api/spaces/notes/presence"},
		{"DELETE", "/api/spaces/notes/presence"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := doRequest(router, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != http.StatusUnauthorized {
				t.Errorf("Expected status 401, got %d", w.Code)
			}
		})
	}
}

func TestAuthViaQueryParams(t *testing.T) {
	_, router := setupTestAPI(t)

	w := doRequest(router, httptest.NewRequest("GET", "/api/spaces?user=bob&pass=builder", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 with query credentials, got %d", w.Code)
	}

	w = doRequest(router, httptest.NewRequest("GET", "/api/spaces?username=bob&password=builder", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200 with long-form query credentials, got %d", w.Code)
	}

	w = doRequest(router, httptest.NewRequest("GET", "/api/spaces?user=bob&pass=wrong", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 with wrong secret, got %d", w.Code)
	}
}

func TestListSpaces(t *testing.T) {
	api, router := setupTestAPI(t)

	for _, id := range []string{"beta", "alpha"} {
		if err := api.store.Create(id); err != nil {
			t.Fatalf("Failed to seed space: %v", err)
		}
	}
	api.presence.Mark("alpha", "bob")

	w := doRequest(router, asAlice(httptest.NewRequest("GET", "/api/spaces", nil)))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response struct {
		Spaces []spaceInfo `json:"spaces"`
		User   string      `json:"user"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response.User != "alice" {
		t.Errorf("Expected authenticated user 'alice', got %q", response.User)
	}
	if len(response.Spaces) != 2 {
		t.Fatalf("Expected 2 spaces, got %d", len(response.Spaces))
	}
	if response.Spaces[0].ID != "alpha" || response.Spaces[1].ID != "beta" {
		t.Errorf("Expected sorted ids [alpha beta], got %v", response.Spaces)
	}
	if len(response.Spaces[0].Users) != 1 || response.Spaces[0].Users[0] != "bob" {
		t.Errorf("Expected bob active in alpha, got %v", response.Spaces[0].Users)
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	_, router := setupTestAPI(t)

	body := bytes.NewReader([]byte("drafted over http"))
	w := doRequest(router, asAlice(httptest.NewRequest("PUT", "/api/spaces/notes", body)))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 on write, got %d", w.Code)
	}

	w = doRequest(router, asAlice(httptest.NewRequest("GET", "/api/spaces/notes", nil)))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 on read, got %d", w.Code)
	}
	if got := w.Body.String(); got != "drafted over http" {
		t.Errorf("Expected written content back, got %q", got)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Errorf("Expected text/plain response, got %q", ct)
	}
}

func TestWriteEmptyBody(t *testing.T) {
	api, router := setupTestAPI(t)

	if err := api.store.WriteSnapshot("notes", "previous"); err != nil {
		t.Fatalf("Failed to seed space: %v", err)
	}

	w := doRequest(router, asAlice(httptest.NewRequest("PUT", "/api/spaces/notes", bytes.NewReader(nil))))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	content, err := api.store.Read("notes")
	if err != nil || content != "" {
		t.Errorf("Expected emptied space, got %q, %v", content, err)
	}
}

func TestReadMissingSpace(t *testing.T) {
	_, router := setupTestAPI(t)

	w := doRequest(router, asAlice(httptest.NewRequest("GET", "/api/spaces/ghost", nil)))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestCreateSpaceIdempotent(t *testing.T) {
	api, router := setupTestAPI(t)

	for i := 0; i < 2; i++ {
		w := doRequest(router, asAlice(httptest.NewRequest("POST", "/api/spaces/notes", nil)))
		if w.Code != http.StatusOK {
			t.Fatalf("Create attempt %d: expected status 200, got %d", i+1, w.Code)
		}
	}

	content, err := api.store.Read("notes")
	if err != nil || content != "" {
		t.Errorf("Expected empty created space, got %q, %v", content, err)
	}
}

func TestCreateDoesNotClobber(t *testing.T) {
	api, router := setupTestAPI(t)

	if err := api.store.WriteSnapshot("notes", "existing content"); err != nil {
		t.Fatalf("Failed to seed space: %v", err)
	}

	w := doRequest(router, asAlice(httptest.NewRequest("POST", "/api/spaces/notes", nil)))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	content, _ := api.store.Read("notes")
	if content != "existing content" {
		t.Errorf("Create must not overwrite an existing space, got %q", content)
	}
}

func TestDeleteSpace(t *testing.T) {
	api, router := setupTestAPI(t)

	if err := api.store.Create("doomed"); err != nil {
		t.Fatalf("Failed to seed space: %v", err)
	}
	api.presence.Mark("doomed", "alice")

	w := doRequest(router, asAlice(httptest.NewRequest("DELETE", "/api/spaces/doomed", nil)))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	if exists, _ := api.store.Exists("doomed"); exists {
		t.Error("Space should have been deleted")
	}
	if got := api.presence.Active("doomed"); len(got) != 0 {
		t.Errorf("Presence should be cleared, got %v", got)
	}
}

func TestRenameSpace(t *testing.T) {
	api, router := setupTestAPI(t)

	if err := api.store.WriteSnapshot("old-name", "content"); err != nil {
		t.Fatalf("Failed to seed space: %v", err)
	}

	body := bytes.NewReader([]byte(`{"name": "new-name"}`))
	req := asAlice(httptest.NewRequest("POST", "/api/spaces/old-name/rename", body))
	req.Header.Set("Content-Type", "application/json")
	w := doRequest(router, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var response map[string]any
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["id"] != "new-name" {
		t.Errorf("Expected new id in response, got %v", response["id"])
	}

	if exists, _ := api.store.Exists("old-name"); exists {
		t.Error("Old id should be gone")
	}
	content, err := api.store.Read("new-name")
	if err != nil || content != "content" {
		t.Errorf("Expected content under new id, got %q, %v", content, err)
	}
}

func TestRenameSpaceErrors(t *testing.T) {
	api, router := setupTestAPI(t)

	if err := api.store.Create("taken"); err != nil {
		t.Fatalf("Failed to seed space: %v", err)
	}
	if err := api.store.Create("source"); err != nil {
		t.Fatalf("Failed to seed space: %v", err)
	}

	tests := []struct {
		name           string
		path           string
		body           string
		expectedStatus int
	}{
		{
			name:           "Invalid JSON body",
			path:           "/api/spaces/source/rename",
			body:           "not json",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Missing target name",
			path:           "/api/spaces/source/rename",
			body:           `{}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Invalid target name",
			path:           "/api/spaces/source/rename",
			body:           `{"name": "../escape"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Source does not exist",
			path:           "/api/spaces/ghost/rename",
			body:           `{"name": "anything"}`,
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "Missing source outranks invalid target",
			path:           "/api/spaces/ghost/rename",
			body:           `{"name": "../escape"}`,
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "Target already exists",
			path:           "/api/spaces/source/rename",
			body:           `{"name": "taken"}`,
			expectedStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := asAlice(httptest.NewRequest("POST", tt.path, bytes.NewReader([]byte(tt.body))))
			req.Header.Set("Content-Type", "application/json")
			w := doRequest(router, req)
			if w.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestPresenceEndpoints(t *testing.T) {
	api, router := setupTestAPI(t)

	w := doRequest(router, asAlice(httptest.NewRequest("POST", "/api/spaces/notes/presence", nil)))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 on mark, got %d", w.Code)
	}
	if got := api.presence.Active("notes"); len(got) != 1 || got[0] != "alice" {
		t.Errorf("Expected alice active, got %v", got)
	}

	w = doRequest(router, asAlice(httptest.NewRequest("DELETE", "/api/spaces/notes/presence", nil)))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200 on clear, got %d", w.Code)
	}
	if got := api.presence.Active("notes"); len(got) != 0 {
		t.Errorf("Expected no active users, got %v", got)
	}
}

func TestInvalidSpaceID(t *testing.T) {
	_, router := setupTestAPI(t)

	// Path segments with slashes never match the route, but ids that are
	// syntactically reachable and still invalid must be rejected.
	w := doRequest(router, asAlice(httptest.NewRequest("GET", "/api/spaces/bad.name", nil)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for invalid id, got %d", w.Code)
	}
}
