package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/journeyman/messaging/internal/storage"
	"github.com/journeyman/messaging/internal/ws"
)

type PresenceHandler struct {
	hub *ws.Hub
}

func NewPresenceHandler(hub *ws.Hub) *PresenceHandler {
	return &PresenceHandler{hub: hub}
}

// GetPresence returns {user_id, online, last_seen}. last_seen is omitted while online.
func (h *PresenceHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	st, err := h.hub.Presence(r.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeHubError(w, "handler.GetPresence", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
