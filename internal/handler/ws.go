package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/journeyman/messaging/internal/logger"
	"github.com/journeyman/messaging/internal/middleware"
	"github.com/journeyman/messaging/internal/ws"
)

type WSHandler struct {
	hub            *ws.Hub
	allowedOrigins string
	opts           ws.ClientOptions
}

// NewWSHandler creates the WebSocket endpoint. allowedOrigins uses the CORS format
// (comma-separated list or "*").
func NewWSHandler(hub *ws.Hub, allowedOrigins string, opts ws.ClientOptions) *WSHandler {
	return &WSHandler{hub: hub, allowedOrigins: strings.TrimSpace(allowedOrigins), opts: opts}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.checkOrigin(r) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn, userID, h.opts)
	if err := h.hub.Register(client); err != nil {
		if errors.Is(err, ws.ErrConnectionLimit) {
			logger.Warnf("ws reject user=%s: %v", userID, err)
		} else {
			logger.Errorf("ws register user=%s: %v", userID, err)
		}
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	}
	// The connection outlives the upgrade request.
	ctx, cancel := context.WithCancel(context.Background())
	client.Start(ctx, cancel)
}
