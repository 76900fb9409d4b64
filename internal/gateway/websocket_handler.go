package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/agilecards/agilecards/internal/room"
)

// WebSocketHandler handles WebSocket upgrade requests for room connections
type WebSocketHandler struct {
	service *Service
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(s *Service) *WebSocketHandler {
	return &WebSocketHandler{service: s}
}

// HandleRoomConnection attaches a WebSocket to a room. The room code comes
// from the path, the identity from the username query parameter; token
// verification happens upstream of the gateway.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(strings.TrimSpace(r.PathValue("code")))
	if code == "" {
		http.Error(w, "room code is required", http.StatusBadRequest)
		return
	}

	username := r.URL.Query().Get("username")
	if username == "" {
		username = "anonymous"
	}

	handle, err := h.service.registry.Acquire(r.Context(), code)
	if err != nil {
		if errors.Is(err, room.ErrNotFound) {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("room_code", code).Msg("failed to resolve room")
		http.Error(w, "failed to resolve room", http.StatusInternalServerError)
		return
	}

	conn, cameOnline, err := h.service.connectionManager.Attach(w, r, username, code, handle)
	if err != nil {
		h.service.registry.Release(handle)
		log.Error().
			Err(err).
			Str("room_code", code).
			Str("username", username).
			Msg("failed to upgrade WebSocket connection")
		return
	}

	if cameOnline {
		h.service.broadcast(code, PresenceEvent{Type: ServerEventPresence, Username: username, Online: true})
	}

	// Private snapshot so the new client can render the round immediately.
	if snap, err := handle.Snapshot(r.Context()); err == nil {
		conn.SendEvent(newSnapshotEvent(snap))
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.service.connectionManager.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to write stats response")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/rooms/{code}", h.HandleRoomConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
