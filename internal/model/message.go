package model

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeGIF   MessageType = "gif"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
)

// Valid reports whether t is one of the supported message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeGIF, MessageTypeImage, MessageTypeVideo:
		return true
	}
	return false
}

// Message is a persisted chat message between two users.
// Reactions only grow; Read/ReadAt flip once when the recipient reads the conversation.
type Message struct {
	ID             string          `json:"message_id"`
	ConversationID string          `json:"conversation_id"`
	SenderID       string          `json:"sender_id"`
	RecipientID    string          `json:"recipient_id"`
	Content        string          `json:"content"`
	MessageType    MessageType     `json:"message_type"`
	MediaURL       string          `json:"media_url,omitempty"`
	GifData        json.RawMessage `json:"gif_data,omitempty"`
	Reactions      []Reaction      `json:"reactions"`
	Read           bool            `json:"read"`
	ReadAt         *time.Time      `json:"read_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Clone returns a deep copy, so callers can hand the message to other goroutines.
func (m *Message) Clone() *Message {
	c := *m
	if m.GifData != nil {
		c.GifData = append(json.RawMessage(nil), m.GifData...)
	}
	c.Reactions = append([]Reaction(nil), m.Reactions...)
	if c.Reactions == nil {
		c.Reactions = []Reaction{}
	}
	if m.ReadAt != nil {
		t := *m.ReadAt
		c.ReadAt = &t
	}
	return &c
}

// OtherParticipant returns the participant that is not userID.
func (m *Message) OtherParticipant(userID string) string {
	if m.SenderID == userID {
		return m.RecipientID
	}
	return m.SenderID
}

type Reaction struct {
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}
