package model

import "time"

// Presence is what the REST layer exposes as the user's online/last_seen fields.
// LastSeen is only meaningful while Online is false.
type Presence struct {
	UserID   string     `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}
