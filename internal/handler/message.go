package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/journeyman/messaging/internal/middleware"
	"github.com/journeyman/messaging/internal/model"
	"github.com/journeyman/messaging/internal/storage"
	"github.com/journeyman/messaging/internal/ws"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// MessageHandler serves conversation history and the REST form of the read
// receipt. Writes go through the hub so REST and WebSocket share one path.
type MessageHandler struct {
	hub   *ws.Hub
	msgs  storage.MessageStore
	users storage.UserStore
}

func NewMessageHandler(hub *ws.Hub, msgs storage.MessageStore, users storage.UserStore) *MessageHandler {
	return &MessageHandler{hub: hub, msgs: msgs, users: users}
}

func (h *MessageHandler) GetConversations(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	convs, err := h.msgs.ListConversations(r.Context(), userID)
	if err != nil {
		writeHubError(w, "handler.GetConversations", err)
		return
	}
	if convs == nil {
		convs = []model.ConversationSummary{}
	}
	writeJSON(w, http.StatusOK, convs)
}

// GetMessages returns the history with {userId}, oldest first.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	otherID := chi.URLParam(r, "userId")
	if otherID == "" || otherID == userID {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	ok, err := h.users.UserExists(r.Context(), otherID)
	if err != nil {
		writeHubError(w, "handler.GetMessages", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	limit := queryInt(r, "limit", defaultPageSize)
	offset := queryInt(r, "offset", 0)
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	messages, err := h.msgs.ListMessages(r.Context(), model.ConversationID(userID, otherID), limit, offset)
	if err != nil {
		writeHubError(w, "handler.GetMessages", err)
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

type markReadRequest struct {
	ConversationID string `json:"conversation_id"`
}

// MarkAsRead marks everything {userId} sent to the caller as read.
func (h *MessageHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	senderID := chi.URLParam(r, "userId")

	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	res, err := h.hub.MarkRead(r.Context(), userID, req.ConversationID, senderID)
	if err != nil {
		writeHubError(w, "handler.MarkAsRead", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type unreadResponse struct {
	ConversationID string `json:"conversation_id"`
	UnreadCount    int    `json:"unread_count"`
}

func (h *MessageHandler) GetUnread(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	convID := chi.URLParam(r, "conversationId")
	n, err := h.hub.UnreadCount(r.Context(), userID, convID)
	if err != nil {
		writeHubError(w, "handler.GetUnread", err)
		return
	}
	writeJSON(w, http.StatusOK, unreadResponse{ConversationID: convID, UnreadCount: n})
}
