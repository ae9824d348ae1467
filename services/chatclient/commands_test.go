package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journeyman/messaging/internal/middleware"
	"github.com/journeyman/messaging/internal/model"
	"github.com/journeyman/messaging/internal/session"
	"github.com/journeyman/messaging/internal/ws"
)

func TestFormatEvent(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 30, 0, 0, time.Local)

	msg := &model.Message{ID: "msg_1", SenderID: "bob", RecipientID: "alice", Content: "hi", MessageType: model.MessageTypeText, CreatedAt: at}
	assert.Equal(t, "12:30:00 bob: hi", formatEvent(session.Event{Type: ws.EventNewMessage, Message: msg}))

	img := &model.Message{SenderID: "bob", MessageType: model.MessageTypeImage, MediaURL: "https://x/y.png", CreatedAt: at}
	assert.Equal(t, "12:30:00 bob: [image] https://x/y.png", formatEvent(session.Event{Type: ws.EventNewMessage, Message: img}))

	assert.Equal(t, "bob is typing...", formatEvent(session.Event{Type: ws.EventTyping, Typing: &ws.TypingFrame{UserID: "bob", IsTyping: true}}))
	assert.Empty(t, formatEvent(session.Event{Type: ws.EventTyping, Typing: &ws.TypingFrame{UserID: "bob", IsTyping: false}, Expired: true}))

	assert.Equal(t, "12:30:00 bob is offline", formatEvent(session.Event{Type: ws.EventStatusUpdate, Status: &ws.StatusFrame{UserID: "bob", Timestamp: at}}))
	assert.Equal(t, "error (validation): content is required",
		formatEvent(session.Event{Type: ws.EventError, Error: &ws.ErrorFrame{Code: ws.CodeValidation, Error: "content is required"}}))
}

func TestTokenCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"token", "alice", "--secret", "cli-secret"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		opts = globalOptions{}
	})
	require.NoError(t, rootCmd.Execute())

	sub, err := middleware.ParseToken("cli-secret", string(bytes.TrimSpace(out.Bytes())))
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)
}
