package models

import (
	"errors"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("closed")
)

// TempIDPrefix marks client-generated identifiers that have not yet been
// confirmed durable by the backend.
const TempIDPrefix = "temp-"

// IsTempID reports whether id is a client-side provisional identifier.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Message represents a direct chat message. ID is provisional until the
// insert round-trips, after which it holds the durable identifier.
type Message struct {
	ID        string `json:"id"`
	FromID    string `json:"fromId"`
	ToID      string `json:"toId"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"createdAt"`        // Unix timestamp (milliseconds)
	ReadAt    int64  `json:"readAt,omitempty"` // 0 means unread
}

// Draft is an outgoing message before it is persisted.
type Draft struct {
	FromID string `json:"fromId"`
	ToID   string `json:"toId"`
	Body   string `json:"body"`
}

// Contact is a conversation summary row in the contact list.
// ID is the identifier of the latest message backing the summary and is
// provisional for contacts created client-side before any round-trip.
type Contact struct {
	ID          string `json:"id"`
	ContactID   string `json:"contactId"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	LastBody    string `json:"lastBody"`
	LastAt      int64  `json:"lastAt"` // Unix timestamp (milliseconds)
}

// Matches reports whether the contact display name matches a search query.
func (c Contact) Matches(query string) bool {
	return strings.Contains(strings.ToLower(c.DisplayName), strings.ToLower(query))
}

// Notification represents a user notification. The core only ever flips
// Seen to true; notifications are never deleted here.
type Notification struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Seen      bool   `json:"seen"`
	CreatedAt int64  `json:"createdAt"` // Unix timestamp (milliseconds)
	JobID     string `json:"jobId,omitempty"`
}

// Profile is the directory view of a peer.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}
