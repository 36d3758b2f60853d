package chat

import (
	"sort"
	"sync"
	"time"
)

// MessagePatch carries the mutable fields a message-updated push may change.
// Nil fields are left untouched.
type MessagePatch struct {
	IsRead *bool
	ReadAt *time.Time
}

// MessageCache holds one conversation's ordered, deduplicated message list.
// Both the optimistic send path and the realtime push path may try to add
// the same logical message; dedup-by-id makes whichever arrives second a
// no-op.
type MessageCache struct {
	mu       sync.RWMutex
	messages []Message
	index    map[string]int
}

// NewMessageCache builds an empty cache.
func NewMessageCache() *MessageCache {
	return &MessageCache{index: make(map[string]int)}
}

// ReplaceAll installs the initial page, oldest first. Input in any order is
// normalized to ascending created_at with ties kept in given order.
func (c *MessageCache) ReplaceAll(messages []Message) {
	sorted := make([]Message, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = sorted
	c.index = make(map[string]int, len(sorted))
	for i, m := range sorted {
		c.index[m.ID] = i
	}
}

// Append inserts the message unless an entry with the same id exists.
// Returns whether an insertion happened.
func (c *MessageCache) Append(m Message) bool {
	if m.ID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.index[m.ID]; ok {
		return false
	}
	c.index[m.ID] = len(c.messages)
	c.messages = append(c.messages, m)
	return true
}

// MarkRead flags every unread message matching the predicate as read at now.
// Already-read messages are untouched, so the operation is idempotent.
// Returns the number of messages flipped.
func (c *MessageCache) MarkRead(predicate func(Message) bool, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := 0
	for i := range c.messages {
		if c.messages[i].IsRead || !predicate(c.messages[i]) {
			continue
		}
		c.messages[i].IsRead = true
		at := now
		c.messages[i].ReadAt = &at
		changed++
	}
	return changed
}

// UpdateByID applies a patch to the message with the given id. A miss is a
// no-op: read receipts for messages not yet loaded are best-effort.
func (c *MessageCache) UpdateByID(id string, patch MessagePatch) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[id]
	if !ok {
		return false
	}
	if patch.IsRead != nil {
		c.messages[i].IsRead = *patch.IsRead
	}
	if patch.ReadAt != nil {
		at := *patch.ReadAt
		c.messages[i].ReadAt = &at
	}
	return true
}

// Get returns a copy of the message with the given id.
func (c *MessageCache) Get(id string) (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[id]
	if !ok {
		return Message{}, false
	}
	return c.messages[i], true
}

// List returns the ordered messages, oldest first.
func (c *MessageCache) List() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of cached messages.
func (c *MessageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}
