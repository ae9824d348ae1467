package ws

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/journeyman/messaging/internal/logger"
	"github.com/journeyman/messaging/internal/model"
)

const maxEmojiLength = 16

// SendTyping forwards a typing signal to the recipient if connected. Nothing is
// stored and an offline recipient simply never sees it.
func (h *Hub) SendTyping(ctx context.Context, fromID, toID string, isTyping bool) error {
	toID = strings.TrimSpace(toID)
	if toID == "" {
		return validationError("recipient_id is required")
	}
	if toID == fromID {
		return validationError("cannot send typing to yourself")
	}
	h.deliver(ctx, toID, TypingFrame{Type: EventTyping, UserID: fromID, IsTyping: isTyping})
	return nil
}

// AddReaction appends userID's emoji to the message and forwards it to the other
// participant when connected. Repeated identical reactions are kept.
// Only the two participants of the message's conversation may react.
func (h *Hub) AddReaction(ctx context.Context, userID, messageID, emoji string) (*model.Message, error) {
	defer logger.DeferLogDuration("ws.AddReaction", time.Now())()
	messageID = strings.TrimSpace(messageID)
	emoji = strings.TrimSpace(emoji)
	if messageID == "" {
		return nil, validationError("message_id is required")
	}
	if emoji == "" {
		return nil, validationError("emoji is required")
	}
	if utf8.RuneCountInString(emoji) > maxEmojiLength {
		return nil, validationError("emoji is too long")
	}

	orig, err := h.msgs.GetMessage(ctx, messageID)
	if err != nil {
		if isNotFound(err) {
			return nil, &FrameError{Code: CodeNotFound, Msg: "message not found", Err: err}
		}
		return nil, fmt.Errorf("ws.AddReaction get: %w", err)
	}
	if orig.SenderID != userID && orig.RecipientID != userID {
		return nil, &FrameError{Code: CodeNotFound, Msg: "message not found"}
	}

	m, err := h.msgs.AppendReaction(ctx, messageID, model.Reaction{UserID: userID, Emoji: emoji, CreatedAt: h.now()})
	if err != nil {
		if isNotFound(err) {
			return nil, &FrameError{Code: CodeNotFound, Msg: "message not found", Err: err}
		}
		return nil, fmt.Errorf("ws.AddReaction append: %w", err)
	}

	h.deliver(ctx, m.OtherParticipant(userID), ReactionFrame{
		Type:           EventReaction,
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		UserID:         userID,
		Emoji:          emoji,
	})
	return m, nil
}
