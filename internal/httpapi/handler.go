// Package httpapi is the REST surface around the live session: room
// creation and membership, backlog management, and results export. Token
// issuance and verification live upstream; handlers trust the X-Username
// header the auth proxy sets.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/agilecards/agilecards/internal/models"
	"github.com/agilecards/agilecards/internal/room"
	"github.com/agilecards/agilecards/internal/session"
)

// Handler serves the room REST API.
type Handler struct {
	rooms    *room.App
	registry *session.Registry
}

// NewHandler creates a new REST Handler
func NewHandler(rooms *room.App, registry *session.Registry) *Handler {
	return &Handler{rooms: rooms, registry: registry}
}

// RegisterRoutes registers the REST routes with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/rooms", h.CreateRoom)
	mux.HandleFunc("POST /api/rooms/join", h.JoinRoom)
	mux.HandleFunc("GET /api/rooms/{code}", h.GetRoom)
	mux.HandleFunc("POST /api/rooms/{code}/backlog", h.SetBacklog)
	mux.HandleFunc("GET /api/rooms/{code}/backlog", h.GetBacklog)
	mux.HandleFunc("GET /api/rooms/{code}/current", h.GetCurrentTask)
	mux.HandleFunc("POST /api/rooms/{code}/start", h.StartGame)
	mux.HandleFunc("GET /api/rooms/{code}/export", h.ExportResults)
}

// CreateRoom handles POST /api/rooms
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	username := identity(r)
	if username == "" {
		errorResponse(w, http.StatusUnauthorized, "username is required")
		return
	}

	var req struct {
		Mode string `json:"mode"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	rm, err := h.rooms.CreateRoom(r.Context(), room.CreateRoomRequest{
		Mode:    roomMode(req.Mode),
		Creator: username,
	})
	if err != nil {
		if errors.Is(err, room.ErrInvalidMode) {
			errorResponse(w, http.StatusBadRequest, "invalid mode")
			return
		}
		log.Error().Err(err).Msg("failed to create room")
		errorResponse(w, http.StatusInternalServerError, "failed to create room")
		return
	}

	jsonResponse(w, http.StatusCreated, rm)
}

// JoinRoom handles POST /api/rooms/join
func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	username := identity(r)
	if username == "" {
		errorResponse(w, http.StatusUnauthorized, "username is required")
		return
	}

	var req struct {
		Code string `json:"code"`
	}
	if err := parseJSONBody(r, &req); err != nil || strings.TrimSpace(req.Code) == "" {
		errorResponse(w, http.StatusBadRequest, "room code required")
		return
	}

	status, err := h.rooms.JoinRoom(r.Context(), req.Code, username)
	if err != nil {
		h.writeRoomError(w, err, "failed to join room")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{
		"status": status,
		"code":   strings.ToUpper(strings.TrimSpace(req.Code)),
	})
}

// GetRoom handles GET /api/rooms/{code}
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	rm, err := h.rooms.GetRoom(r.Context(), r.PathValue("code"))
	if err != nil {
		h.writeRoomError(w, err, "failed to get room")
		return
	}
	jsonResponse(w, http.StatusOK, rm)
}

// SetBacklog handles POST /api/rooms/{code}/backlog. The replacement goes
// through the session registry's room lock so it cannot race a vote or a
// reveal, and it resets progress and clears every vote for the room.
func (h *Handler) SetBacklog(w http.ResponseWriter, r *http.Request) {
	username := identity(r)
	if username == "" {
		errorResponse(w, http.StatusUnauthorized, "username is required")
		return
	}
	code := strings.ToUpper(strings.TrimSpace(r.PathValue("code")))

	var items []room.BacklogItemInput
	if err := parseJSONBody(r, &items); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	handle, err := h.registry.Acquire(r.Context(), code)
	if err != nil {
		h.writeRoomError(w, err, "failed to resolve room")
		return
	}
	defer h.registry.Release(handle)

	count, err := handle.ReplaceBacklog(r.Context(), username, items)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrUnauthorized):
			errorResponse(w, http.StatusForbidden, "only room admin can set backlog")
		case errors.Is(err, room.ErrInvalidBacklog):
			errorResponse(w, http.StatusBadRequest, err.Error())
		default:
			log.Error().Err(err).Str("room_code", code).Msg("failed to set backlog")
			errorResponse(w, http.StatusInternalServerError, "failed to set backlog")
		}
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{"status": "backlog_set", "count": count})
}

// GetBacklog handles GET /api/rooms/{code}/backlog
func (h *Handler) GetBacklog(w http.ResponseWriter, r *http.Request) {
	rm, err := h.rooms.GetRoom(r.Context(), r.PathValue("code"))
	if err != nil {
		h.writeRoomError(w, err, "failed to get backlog")
		return
	}
	jsonResponse(w, http.StatusOK, rm.Backlog)
}

// GetCurrentTask handles GET /api/rooms/{code}/current
func (h *Handler) GetCurrentTask(w http.ResponseWriter, r *http.Request) {
	rm, err := h.rooms.GetRoom(r.Context(), r.PathValue("code"))
	if err != nil {
		h.writeRoomError(w, err, "failed to get current task")
		return
	}

	if rm.Done() {
		jsonResponse(w, http.StatusOK, map[string]any{"done": true})
		return
	}
	jsonResponse(w, http.StatusOK, rm.Current())
}

// StartGame handles POST /api/rooms/{code}/start
func (h *Handler) StartGame(w http.ResponseWriter, r *http.Request) {
	username := identity(r)
	if username == "" {
		errorResponse(w, http.StatusUnauthorized, "username is required")
		return
	}

	err := h.rooms.StartGame(r.Context(), r.PathValue("code"), username)
	if err != nil {
		if errors.Is(err, room.ErrUnauthorized) {
			errorResponse(w, http.StatusForbidden, "only admin can start the game")
			return
		}
		h.writeRoomError(w, err, "failed to start game")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]any{"success": true, "started": true})
}

// ExportResults handles GET /api/rooms/{code}/export
func (h *Handler) ExportResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.rooms.ExportResults(r.Context(), r.PathValue("code"))
	if err != nil {
		h.writeRoomError(w, err, "failed to export results")
		return
	}
	jsonResponse(w, http.StatusOK, results)
}

func (h *Handler) writeRoomError(w http.ResponseWriter, err error, fallback string) {
	if errors.Is(err, room.ErrNotFound) {
		errorResponse(w, http.StatusNotFound, "room not found")
		return
	}
	log.Error().Err(err).Msg(fallback)
	errorResponse(w, http.StatusInternalServerError, fallback)
}

func identity(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Username"))
}

func roomMode(mode string) models.Mode {
	return models.Mode(strings.ToLower(strings.TrimSpace(mode)))
}

func parseJSONBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

func jsonResponse(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}
