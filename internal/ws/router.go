package ws

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/journeyman/messaging/internal/events"
	"github.com/journeyman/messaging/internal/logger"
	"github.com/journeyman/messaging/internal/model"
	"github.com/journeyman/messaging/internal/observability"
	"github.com/journeyman/messaging/internal/push"
)

const pushPreviewLength = 120

// SendMessage validates, persists and delivers a chat message from senderID.
// The message is durably stored before any delivery is attempted; a recipient
// without a live connection picks it up from history later.
func (h *Hub) SendMessage(ctx context.Context, senderID string, in IncomingMessage) (*model.Message, error) {
	defer logger.DeferLogDuration("ws.SendMessage", time.Now())()

	m, err := h.buildMessage(senderID, in)
	if err != nil {
		return nil, err
	}

	exists, err := h.users.UserExists(ctx, m.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("ws.SendMessage lookup recipient: %w", err)
	}
	if !exists {
		return nil, ErrUnknownRecipient
	}

	// Persist and enqueue under the conversation lock so a live recipient sees
	// messages in persisted order.
	unlock := h.convLocks.Lock(m.ConversationID)
	m.CreatedAt = h.now()
	if err := h.msgs.CreateMessage(ctx, m); err != nil {
		unlock()
		return nil, fmt.Errorf("ws.SendMessage persist: %w", err)
	}
	d := h.deliver(ctx, m.RecipientID, newMessageFrame(m.Clone()))
	unlock()

	observability.IncMessage(d.String())
	created := events.MessageCreated{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		RecipientID:    m.RecipientID,
		MessageType:    string(m.MessageType),
		Delivered:      d != notDelivered,
	}
	notify := d == notDelivered
	preview := notificationBody(m)
	h.afterDelivery(func(ctx context.Context) {
		if notify && h.push != nil {
			h.push.Notify(ctx, created.RecipientID, "New message", preview, map[string]string{
				"conversation_id": created.ConversationID,
				"message_id":      created.MessageID,
				"sender_id":       created.SenderID,
			})
		}
		h.publishEvent(ctx, events.RoutingMessageCreated, created)
	})

	return m.Clone(), nil
}

// buildMessage applies defaults and validates the frame without touching storage.
func (h *Hub) buildMessage(senderID string, in IncomingMessage) (*model.Message, error) {
	recipient := strings.TrimSpace(in.RecipientID)
	if recipient == "" {
		return nil, validationError("recipient_id is required")
	}
	if recipient == senderID {
		return nil, validationError("cannot send a message to yourself")
	}

	msgType := in.MessageType
	if msgType == "" {
		msgType = model.MessageTypeText
	}
	if !msgType.Valid() {
		return nil, validationError("unsupported message_type %q", msgType)
	}

	mediaURL := strings.TrimSpace(in.MediaURL)
	gif := in.GifData
	if string(gif) == "null" {
		gif = nil
	}
	switch msgType {
	case model.MessageTypeText:
		if strings.TrimSpace(in.Content) == "" {
			return nil, validationError("content is required for text messages")
		}
	case model.MessageTypeImage, model.MessageTypeVideo:
		if mediaURL == "" {
			return nil, validationError("media_url is required for %s messages", msgType)
		}
	case model.MessageTypeGIF:
		if mediaURL == "" && len(gif) == 0 {
			return nil, validationError("media_url or gif_data is required for gif messages")
		}
	}
	if utf8.RuneCountInString(in.Content) > h.maxContentLength {
		return nil, validationError("content exceeds %d characters", h.maxContentLength)
	}

	return &model.Message{
		ID:             h.newID(),
		ConversationID: model.ConversationID(senderID, recipient),
		SenderID:       senderID,
		RecipientID:    recipient,
		Content:        in.Content,
		MessageType:    msgType,
		MediaURL:       mediaURL,
		GifData:        gif,
		Reactions:      []model.Reaction{},
	}, nil
}

func notificationBody(m *model.Message) string {
	switch m.MessageType {
	case model.MessageTypeImage:
		return "Photo"
	case model.MessageTypeVideo:
		return "Video"
	case model.MessageTypeGIF:
		return "GIF"
	}
	return push.Preview(m.Content, pushPreviewLength)
}
