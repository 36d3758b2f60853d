// Package chat holds the conversation/message domain model and the in-memory
// caches the sync core keeps consistent with the backend.
package chat

import (
	"time"
	"unicode/utf8"
)

// previewLimit bounds the conversation list preview text.
const previewLimit = 100

// Conversation describes one thread between two participants.
type Conversation struct {
	ID                 string     `json:"id"`
	InitiatorID        string     `json:"initiator_id"`
	CounterpartyID     string     `json:"counterparty_id"`
	LastMessageAt      time.Time  `json:"last_message_at,omitempty"`
	LastMessagePreview string     `json:"last_message_preview,omitempty"`
	LastMessageSender  string     `json:"last_message_sender_id,omitempty"`
	UnreadCount        int        `json:"unread_count"`
	UpdatedAt          time.Time  `json:"updated_at,omitempty"`
}

// Counterpart returns the participant that is not userID.
func (c Conversation) Counterpart(userID string) string {
	if c.InitiatorID == userID {
		return c.CounterpartyID
	}
	return c.InitiatorID
}

// HasParticipant reports whether userID belongs to the thread.
func (c Conversation) HasParticipant(userID string) bool {
	return c.InitiatorID == userID || c.CounterpartyID == userID
}

// Message is a single chat message. The id is always assigned by the
// authoritative store, never by this client.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"created_at"`
	IsRead         bool       `json:"is_read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

// Preview truncates content to the conversation-list preview length.
func Preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLimit {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewLimit])
}

// TypingPayload is the wire payload of a typing change event.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

// Event is the tagged union of everything the realtime channel can push.
// The orchestrator consumes all variants in a single dispatch point.
type Event interface {
	isEvent()
}

// MessageInserted signals a new message row.
type MessageInserted struct {
	Message Message
}

// MessageUpdated signals an in-place change, typically a read receipt.
type MessageUpdated struct {
	Message Message
}

// ConversationChanged signals new or changed conversation metadata.
type ConversationChanged struct {
	Conversation Conversation
}

// TypingChanged signals a participant starting or stopping typing.
type TypingChanged struct {
	ConversationID string
	UserID         string
	IsTyping       bool
}

func (MessageInserted) isEvent()     {}
func (MessageUpdated) isEvent()      {}
func (ConversationChanged) isEvent() {}
func (TypingChanged) isEvent()       {}
