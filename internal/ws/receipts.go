package ws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/journeyman/messaging/internal/events"
	"github.com/journeyman/messaging/internal/logger"
	"github.com/journeyman/messaging/internal/model"
	"github.com/journeyman/messaging/internal/storage"
)

// ReadResult describes one markRead call.
type ReadResult struct {
	ConversationID string    `json:"conversation_id"`
	ReadBy         string    `json:"read_by"`
	SenderID       string    `json:"sender_id"`
	Marked         int64     `json:"marked"`
	ReadAt         time.Time `json:"read_at"`
}

// MarkRead marks every unread message addressed to readerID in the conversation as
// read and resets the reader's unread counter. The original sender gets a
// read_receipt when something changed and they are connected, so calling it
// again is a no-op.
//
// Either conversationID or senderID identifies the conversation; when both are
// given they must agree.
func (h *Hub) MarkRead(ctx context.Context, readerID, conversationID, senderID string) (ReadResult, error) {
	defer logger.DeferLogDuration("ws.MarkRead", time.Now())()
	convID, other, err := resolveConversation(readerID, strings.TrimSpace(conversationID), strings.TrimSpace(senderID))
	if err != nil {
		return ReadResult{}, err
	}

	res := ReadResult{ConversationID: convID, ReadBy: readerID, SenderID: other}
	unlock := h.convLocks.Lock(convID)
	res.ReadAt = h.now()
	res.Marked, err = h.msgs.MarkConversationRead(ctx, convID, readerID, other, res.ReadAt)
	if err != nil {
		unlock()
		return ReadResult{}, fmt.Errorf("ws.MarkRead: %w", err)
	}
	if res.Marked > 0 {
		h.deliver(ctx, other, ReadReceiptFrame{
			Type:           EventReadReceipt,
			ConversationID: convID,
			ReadBy:         readerID,
			ReadAt:         res.ReadAt,
		})
	}
	unlock()

	if res.Marked > 0 {
		read := events.MessageRead{
			ConversationID: convID,
			ReaderID:       readerID,
			SenderID:       other,
			Count:          res.Marked,
			ReadAt:         res.ReadAt,
		}
		h.afterDelivery(func(ctx context.Context) {
			h.publishEvent(ctx, events.RoutingMessageRead, read)
		})
	}
	return res, nil
}

// UnreadCount returns readerID's unread counter for the conversation.
func (h *Hub) UnreadCount(ctx context.Context, readerID, conversationID string) (int, error) {
	if _, _, err := resolveConversation(readerID, conversationID, ""); err != nil {
		return 0, err
	}
	n, err := h.msgs.UnreadCount(ctx, conversationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("ws.UnreadCount: %w", err)
	}
	return n, nil
}

// resolveConversation returns the conversation id and the other participant.
func resolveConversation(readerID, conversationID, senderID string) (string, string, error) {
	if senderID == "" && conversationID == "" {
		return "", "", validationError("conversation_id or sender_id is required")
	}
	if senderID == readerID {
		return "", "", validationError("sender_id must be the other participant")
	}
	if senderID != "" {
		derived := model.ConversationID(readerID, senderID)
		if conversationID != "" && conversationID != derived {
			return "", "", validationError("conversation_id does not match sender_id")
		}
		return derived, senderID, nil
	}

	other, ok := otherFromConversationID(readerID, conversationID)
	if !ok {
		return "", "", validationError("not a participant of %s", conversationID)
	}
	return conversationID, other, nil
}

// otherFromConversationID returns the partner of readerID in conversationID.
func otherFromConversationID(readerID, conversationID string) (string, bool) {
	a, b, ok := model.ParseConversationID(conversationID)
	if !ok || readerID == "" || a == b {
		return "", false
	}
	switch readerID {
	case a:
		return b, true
	case b:
		return a, true
	}
	return "", false
}

func isNotFound(err error) bool { return errors.Is(err, storage.ErrNotFound) }
