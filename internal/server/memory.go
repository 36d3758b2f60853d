package server

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Harelzx/skillup-messaging/internal/chat"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]chat.Conversation
	messages      map[string][]chat.Message
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]chat.Conversation),
		messages:      make(map[string][]chat.Message),
	}
}

// Conversations returns the user's threads, most recent first, with the
// unread count computed for that user.
func (s *MemoryStore) Conversations(ctx context.Context, userID string) ([]chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Conversation, 0, len(s.conversations))
	for _, conv := range s.conversations {
		if !conv.HasParticipant(userID) {
			continue
		}
		conv.UnreadCount = s.unreadLocked(conv.ID, userID)
		out = append(out, conv)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

// ConversationByID returns one thread or ErrConversationNotFound.
func (s *MemoryStore) ConversationByID(ctx context.Context, id string) (chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return chat.Conversation{}, ErrConversationNotFound
	}
	return conv, nil
}

// CreateConversation stores a new thread. The participant pair is unique.
func (s *MemoryStore) CreateConversation(ctx context.Context, conv chat.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.conversations {
		if existing.HasParticipant(conv.InitiatorID) && existing.HasParticipant(conv.CounterpartyID) {
			return ErrConversationExists
		}
	}
	s.conversations[conv.ID] = conv
	return nil
}

// Messages returns one page ordered oldest first, plus the total count.
func (s *MemoryStore) Messages(ctx context.Context, conversationID string, limit, offset int) ([]chat.Message, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, 0, ErrConversationNotFound
	}
	all := s.messages[conversationID]
	total := len(all)
	if offset >= total {
		return []chat.Message{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	page := make([]chat.Message, end-offset)
	copy(page, all[offset:end])
	return page, total, nil
}

// AppendMessage stores a message and bumps the thread's recency metadata.
func (s *MemoryStore) AppendMessage(ctx context.Context, msg chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[msg.ConversationID]
	if !ok {
		return ErrConversationNotFound
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], msg)
	conv.LastMessageAt = msg.CreatedAt
	conv.LastMessagePreview = chat.Preview(msg.Content)
	conv.LastMessageSender = msg.SenderID
	conv.UpdatedAt = msg.CreatedAt
	s.conversations[msg.ConversationID] = conv
	return nil
}

// MarkRead flags every message addressed to readerID as read and returns the
// ones that changed, so the caller can push receipts.
func (s *MemoryStore) MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return nil, ErrConversationNotFound
	}
	var changed []chat.Message
	all := s.messages[conversationID]
	for i := range all {
		if all[i].SenderID == readerID || all[i].IsRead {
			continue
		}
		readAt := at
		all[i].IsRead = true
		all[i].ReadAt = &readAt
		changed = append(changed, all[i])
	}
	return changed, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) unreadLocked(conversationID, userID string) int {
	count := 0
	for _, msg := range s.messages[conversationID] {
		if msg.SenderID != userID && !msg.IsRead {
			count++
		}
	}
	return count
}

var _ Store = (*MemoryStore)(nil)
