// Package server is the reference chat backend: a gin HTTP API over a
// pluggable store, plus a websocket hub pushing row-level change events.
package server

import (
	"context"
	"errors"
	"time"

	"github.com/Harelzx/skillup-messaging/internal/chat"
)

var (
	// ErrConversationNotFound is returned when a conversation id is unknown.
	ErrConversationNotFound = errors.New("server: conversation not found")
	// ErrConversationExists is returned when the participant pair already
	// has a thread.
	ErrConversationExists = errors.New("server: conversation already exists")
)

// Store persists conversations and messages.
type Store interface {
	Conversations(ctx context.Context, userID string) ([]chat.Conversation, error)
	ConversationByID(ctx context.Context, id string) (chat.Conversation, error)
	CreateConversation(ctx context.Context, conv chat.Conversation) error
	Messages(ctx context.Context, conversationID string, limit, offset int) ([]chat.Message, int, error)
	AppendMessage(ctx context.Context, msg chat.Message) error
	MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]chat.Message, error)
	Ping(ctx context.Context) error
}
