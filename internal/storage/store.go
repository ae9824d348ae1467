package storage

import (
	"context"
	"errors"
	"time"

	"github.com/journeyman/messaging/internal/model"
)

// ErrNotFound is returned when a message or user does not exist.
var ErrNotFound = errors.New("not found")

// MessageStore persists messages and per-participant conversation state.
// Implementations: repository.MessageRepository (PostgreSQL), memory.Store.
type MessageStore interface {
	// CreateMessage stores m, creates the conversation on first message and
	// increments the recipient's unread counter, all in one unit of work.
	CreateMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	// AppendReaction adds r to the end of the message's reaction list.
	AppendReaction(ctx context.Context, messageID string, r model.Reaction) (*model.Message, error)
	// MarkConversationRead marks every unread message in conversationID addressed to
	// readerID as read at `at` and resets the reader's unread counter. A non-empty
	// senderID restricts the update to messages from that sender.
	MarkConversationRead(ctx context.Context, conversationID, readerID, senderID string, at time.Time) (int64, error)
	// ListMessages returns the conversation in ascending creation order.
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error)
	ListConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error)
	UnreadCount(ctx context.Context, conversationID, userID string) (int, error)
	// ConversationPartners returns every user that shares a conversation with userID.
	ConversationPartners(ctx context.Context, userID string) ([]string, error)
}

// UserStore is the slice of the user directory the messaging core needs.
type UserStore interface {
	UserExists(ctx context.Context, userID string) (bool, error)
	// SetPresence records the online flag; when going offline `at` becomes last_seen.
	SetPresence(ctx context.Context, userID string, online bool, at time.Time) error
	GetLastSeen(ctx context.Context, userID string) (*time.Time, error)
	// ResetPresence marks every user offline. Called once at startup.
	ResetPresence(ctx context.Context) error
}
