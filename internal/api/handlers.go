package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/stanza-editor/stanza/backend/internal/auth"
	"github.com/stanza-editor/stanza/backend/internal/presence"
	"github.com/stanza-editor/stanza/backend/internal/room"
	"github.com/stanza-editor/stanza/backend/internal/store"
	"github.com/stanza-editor/stanza/backend/internal/ws"
)

type API struct {
	registry *room.Registry
	store    *store.Store
	presence *presence.Tracker
	gate     *auth.Gate
	hub      *ws.Hub
}

func New(registry *room.Registry, st *store.Store, tracker *presence.Tracker, gate *auth.Gate, hub *ws.Hub) *API {
	return &API{
		registry: registry,
		store:    st,
		presence: tracker,
		gate:     gate,
		hub:      hub,
	}
}

// Register wires all routes onto the router. Every space route goes
// through the auth gate.
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/health", a.HealthHandler).Methods(http.MethodGet)

	r.HandleFunc("/api/spaces", a.requireAuth(a.ListSpacesHandler)).Methods(http.MethodGet)
	r.HandleFunc("/api/spaces/{id}", a.requireAuth(a.ReadSpaceHandler)).Methods(http.MethodGet)
	r.HandleFunc("/api/spaces/{id}", a.requireAuth(a.WriteSpaceHandler)).Methods(http.MethodPut)
	r.HandleFunc("/api/spaces/{id}", a.requireAuth(a.CreateSpaceHandler)).Methods(http.MethodPost)
	r.HandleFunc("/api/spaces/{id}", a.requireAuth(a.DeleteSpaceHandler)).Methods(http.MethodDelete)
	r.HandleFunc("/api/spaces/{id}/rename", a.requireAuth(a.RenameSpaceHandler)).Methods(http.MethodPost)
	r.HandleFunc("/api/spaces/{id}/presence", a.requireAuth(a.MarkPresenceHandler)).Methods(http.MethodPost)
	r.HandleFunc("/api/spaces/{id}/presence", a.requireAuth(a.ClearPresenceHandler)).Methods(http.MethodDelete)
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// storeError maps the storage taxonomy onto status codes.
func storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidID):
		errorResponse(w, http.StatusBadRequest, "Invalid space id")
	case errors.Is(err, store.ErrNotFound):
		errorResponse(w, http.StatusNotFound, "Space not found")
	case errors.Is(err, store.ErrExists):
		errorResponse(w, http.StatusConflict, "Space already exists")
	default:
		log.Printf("Storage error: %v", err)
		errorResponse(w, http.StatusInternalServerError, "Storage failure")
	}
}

type authedHandler func(w http.ResponseWriter, r *http.Request, user string)

func (a *API) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := a.gate.Authenticate(r)
		if err != nil {
			errorResponse(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r, user)
	}
}

func spaceID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":       "ok",
		"active_rooms": a.registry.Count(),
		"ws_clients":   a.hub.ClientCount(),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}

type spaceInfo struct {
	ID    string   `json:"id"`
	Users []string `json:"users"`
}

func (a *API) ListSpacesHandler(w http.ResponseWriter, r *http.Request, user string) {
	ids, err := a.store.List()
	if err != nil {
		storeError(w, err)
		return
	}

	spaces := make([]spaceInfo, 0, len(ids))
	for _, id := range ids {
		spaces = append(spaces, spaceInfo{ID: id, Users: a.presence.Active(id)})
	}

	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"spaces": spaces,
		"user":   user,
	})
}

func (a *API) ReadSpaceHandler(w http.ResponseWriter, r *http.Request, user string) {
	content, err := a.store.Read(spaceID(r))
	if err != nil {
		storeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(content))
}

func (a *API) WriteSpaceHandler(w http.ResponseWriter, r *http.Request, user string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "Failed to read body")
		return
	}
	id := spaceID(r)
	if err := a.registry.WriteThrough(id, string(body)); err != nil {
		storeError(w, err)
		return
	}
	// Connected editors get the replacement pushed as a state frame.
	if liveRoom, ok := a.registry.Peek(id); ok {
		a.hub.Broadcast(id, ws.EncodeMessage(ws.MessageUpdate, liveRoom.Doc().State()))
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// CreateSpaceHandler is idempotent: creating a space that already exists
// reports success without touching it.
func (a *API) CreateSpaceHandler(w http.ResponseWriter, r *http.Request, user string) {
	if err := a.store.Create(spaceID(r)); err != nil && !errors.Is(err, store.ErrExists) {
		storeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (a *API) DeleteSpaceHandler(w http.ResponseWriter, r *http.Request, user string) {
	if err := a.registry.Delete(spaceID(r)); err != nil {
		storeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{"ok": true})
}

type renameRequest struct {
	Name  string `json:"name"`
	ID    string `json:"id"`
	Space string `json:"space"`
}

func (req renameRequest) target() string {
	for _, candidate := range []string{req.Name, req.ID, req.Space} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func (a *API) RenameSpaceHandler(w http.ResponseWriter, r *http.Request, user string) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// A missing source answers 404 even when the requested target would
	// also be rejected.
	exists, err := a.store.Exists(spaceID(r))
	if err != nil {
		storeError(w, err)
		return
	}
	if !exists {
		errorResponse(w, http.StatusNotFound, "Space not found")
		return
	}

	newID := req.target()
	if !store.ValidID(newID) {
		errorResponse(w, http.StatusBadRequest, "Invalid space id")
		return
	}

	if err := a.registry.Rename(spaceID(r), newID); err != nil {
		storeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]interface{}{"ok": true, "id": newID})
}

func (a *API) MarkPresenceHandler(w http.ResponseWriter, r *http.Request, user string) {
	id := spaceID(r)
	if !store.ValidID(id) {
		errorResponse(w, http.StatusBadRequest, "Invalid space id")
		return
	}
	a.presence.Mark(id, user)
	jsonResponse(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (a *API) ClearPresenceHandler(w http.ResponseWriter, r *http.Request, user string) {
	id := spaceID(r)
	if !store.ValidID(id) {
		errorResponse(w, http.StatusBadRequest, "Invalid space id")
		return
	}
	a.presence.Clear(id, user)
	jsonResponse(w, http.StatusOK, map[string]interface{}{"ok": true})
}
