package model

import (
	"strings"
	"time"
)

const conversationPrefix = "conv_"

// idEscaper keeps "_" free to separate the two participants. "~" is
// unreserved in URLs, so ids stay usable as path segments.
var (
	idEscaper   = strings.NewReplacer("~", "~~", "_", "~u")
	idUnescaper = strings.NewReplacer("~~", "~", "~u", "_")
)

// ConversationID derives the stable id of the conversation between two users.
// The pair is unordered: ConversationID(a, b) == ConversationID(b, a), and
// distinct pairs never share an id. Ids without "_" or "~" read as
// "conv_<min>_<max>".
func ConversationID(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return conversationPrefix + idEscaper.Replace(userA) + "_" + idEscaper.Replace(userB)
}

// ParseConversationID returns the two participants of id in canonical order.
// ok is false when id was not produced by ConversationID.
func ParseConversationID(id string) (userA, userB string, ok bool) {
	rest, ok := strings.CutPrefix(id, conversationPrefix)
	if !ok {
		return "", "", false
	}
	a, b, ok := strings.Cut(rest, "_")
	if !ok || a == "" || b == "" || strings.Contains(b, "_") {
		return "", "", false
	}
	userA, userB = idUnescaper.Replace(a), idUnescaper.Replace(b)
	if ConversationID(userA, userB) != id {
		return "", "", false
	}
	return userA, userB, true
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	OtherUserID    string    `json:"other_user_id"`
	LastMessage    *Message  `json:"last_message,omitempty"`
	UnreadCount    int       `json:"unread_count"`
	UpdatedAt      time.Time `json:"updated_at"`
}
