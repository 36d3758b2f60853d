package chat

import (
	"sort"
	"sync"
	"time"
)

// ConversationCache is the single source of truth for the inbox list:
// conversation summaries ordered most-recently-active first.
type ConversationCache struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*Conversation
}

// NewConversationCache builds an empty cache.
func NewConversationCache() *ConversationCache {
	return &ConversationCache{byID: make(map[string]*Conversation)}
}

// UpsertSummary replaces an existing summary or inserts a new one, then
// restores the recency ordering. Serves both "new message arrived" and
// "metadata changed" pushes.
func (c *ConversationCache) UpsertSummary(conv Conversation) {
	if conv.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.byID[conv.ID]; ok {
		*existing = conv
	} else {
		stored := conv
		c.byID[conv.ID] = &stored
		c.order = append([]string{conv.ID}, c.order...)
	}
	c.resortLocked()
}

// IncrementUnread bumps the unread count for a counterpart message received
// while the conversation is not open, updating recency fields. No-op when
// the conversation is not cached.
func (c *ConversationCache) IncrementUnread(conversationID string, at time.Time, preview string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.byID[conversationID]
	if !ok {
		return
	}
	conv.UnreadCount++
	if !at.IsZero() {
		conv.LastMessageAt = at
		conv.UpdatedAt = at
	}
	if preview != "" {
		conv.LastMessagePreview = Preview(preview)
	}
	c.resortLocked()
}

// Touch updates recency fields without changing the unread count. Used for
// self-originated messages, which must never inflate the badge.
func (c *ConversationCache) Touch(conversationID string, at time.Time, preview string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.byID[conversationID]
	if !ok {
		return
	}
	if !at.IsZero() {
		conv.LastMessageAt = at
		conv.UpdatedAt = at
	}
	if preview != "" {
		conv.LastMessagePreview = Preview(preview)
	}
	c.resortLocked()
}

// ResetUnread zeroes the unread count. Idempotent; does not reorder.
func (c *ConversationCache) ResetUnread(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conv, ok := c.byID[conversationID]; ok {
		conv.UnreadCount = 0
	}
}

// Get returns a copy of one summary.
func (c *ConversationCache) Get(conversationID string) (Conversation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conv, ok := c.byID[conversationID]
	if !ok {
		return Conversation{}, false
	}
	return *conv, true
}

// List returns summaries most-recently-active first.
func (c *ConversationCache) List() []Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Conversation, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.byID[id])
	}
	return out
}

// Len returns the number of cached conversations.
func (c *ConversationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// resortLocked recomputes the ordering eagerly; the UI renders straight from
// List so lazy sorting would show stale order.
func (c *ConversationCache) resortLocked() {
	sort.SliceStable(c.order, func(i, j int) bool {
		a, b := c.byID[c.order[i]], c.byID[c.order[j]]
		return a.LastMessageAt.After(b.LastMessageAt)
	})
}
