package ws

import (
	"encoding/json"
	"time"

	"github.com/journeyman/messaging/internal/model"
)

type EventType string

// Inbound (client -> server).
const (
	EventMessage  EventType = "message"
	EventTyping   EventType = "typing"
	EventReaction EventType = "reaction"
	EventRead     EventType = "read"
)

// Outbound (server -> client). typing and reaction reuse the inbound names.
const (
	EventNewMessage   EventType = "new_message"
	EventMessageSent  EventType = "message_sent"
	EventReadReceipt  EventType = "read_receipt"
	EventStatusUpdate EventType = "status_update"
	EventError        EventType = "error"
)

// IncomingMessage is what the client sends to the server. Only the fields of the
// frame's type are read; sender identity always comes from the connection.
type IncomingMessage struct {
	Type EventType `json:"type"`

	// message, typing
	RecipientID string            `json:"recipient_id,omitempty"`
	Content     string            `json:"content,omitempty"`
	MessageType model.MessageType `json:"message_type,omitempty"`
	MediaURL    string            `json:"media_url,omitempty"`
	GifData     json.RawMessage   `json:"gif_data,omitempty"`

	// typing; absent means true
	IsTyping *bool `json:"is_typing,omitempty"`

	// reaction
	MessageID string `json:"message_id,omitempty"`
	Emoji     string `json:"emoji,omitempty"`

	// read
	ConversationID string `json:"conversation_id,omitempty"`
	SenderID       string `json:"sender_id,omitempty"`
}

// Frame is an outbound JSON frame. Every frame marshals to a flat object with a "type" key.
type Frame interface {
	FrameType() EventType
}

// MessageFrame carries a persisted message: new_message to the recipient,
// message_sent back to the sender.
type MessageFrame struct {
	Type    EventType      `json:"type"`
	Message *model.Message `json:"message"`
}

func (f MessageFrame) FrameType() EventType { return f.Type }

type TypingFrame struct {
	Type     EventType `json:"type"`
	UserID   string    `json:"user_id"`
	IsTyping bool      `json:"is_typing"`
}

func (f TypingFrame) FrameType() EventType { return f.Type }

type ReactionFrame struct {
	Type           EventType `json:"type"`
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	UserID         string    `json:"user_id"`
	Emoji          string    `json:"emoji"`
}

func (f ReactionFrame) FrameType() EventType { return f.Type }

type ReadReceiptFrame struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id"`
	ReadBy         string    `json:"read_by"`
	ReadAt         time.Time `json:"read_at"`
}

func (f ReadReceiptFrame) FrameType() EventType { return f.Type }

type StatusFrame struct {
	Type      EventType `json:"type"`
	UserID    string    `json:"user_id"`
	Online    bool      `json:"online"`
	Timestamp time.Time `json:"timestamp"`
}

func (f StatusFrame) FrameType() EventType { return f.Type }

type ErrorFrame struct {
	Type  EventType `json:"type"`
	Code  ErrorCode `json:"code"`
	Error string    `json:"error"`
}

func (f ErrorFrame) FrameType() EventType { return f.Type }

// RawFrame is an already-encoded frame, e.g. one received from another instance.
type RawFrame struct {
	Kind EventType
	Data json.RawMessage
}

func (f RawFrame) FrameType() EventType { return f.Kind }

func (f RawFrame) MarshalJSON() ([]byte, error) { return f.Data, nil }

func newMessageFrame(m *model.Message) MessageFrame {
	return MessageFrame{Type: EventNewMessage, Message: m}
}

func messageSentFrame(m *model.Message) MessageFrame {
	return MessageFrame{Type: EventMessageSent, Message: m}
}

func statusFrame(userID string, online bool, at time.Time) StatusFrame {
	return StatusFrame{Type: EventStatusUpdate, UserID: userID, Online: online, Timestamp: at}
}
