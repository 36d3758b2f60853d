package chat

import (
	"sync"
	"time"
)

// DefaultTypingExpiry is how long a typing signal stays valid without a
// refresh. It bounds "stuck typing" UI when the other client crashes or
// drops connectivity mid-type.
const DefaultTypingExpiry = 3 * time.Second

// TypingBroadcaster debounces the local "I am typing" signal. Repeated
// Signal(true) calls reset an idle timer; once the timer lapses a false is
// emitted automatically, so the caller never has to remember to clear it.
type TypingBroadcaster struct {
	mu     sync.Mutex
	clock  Clock
	idle   time.Duration
	emit   func(bool)
	timer  Timer
	active bool
}

// NewTypingBroadcaster builds a broadcaster emitting through emit.
func NewTypingBroadcaster(emit func(bool), clock Clock, idle time.Duration) *TypingBroadcaster {
	if clock == nil {
		clock = RealClock()
	}
	if idle <= 0 {
		idle = DefaultTypingExpiry
	}
	return &TypingBroadcaster{clock: clock, idle: idle, emit: emit}
}

// Signal reports local typing state. True starts or extends the idle window;
// false emits immediately and cancels it.
func (b *TypingBroadcaster) Signal(isTyping bool) {
	b.mu.Lock()
	if !isTyping {
		wasActive := b.active
		b.active = false
		if b.timer != nil {
			b.timer.Stop()
		}
		b.mu.Unlock()
		if wasActive {
			b.emit(false)
		}
		return
	}

	wasActive := b.active
	b.active = true
	if b.timer == nil {
		b.timer = b.clock.AfterFunc(b.idle, b.expire)
	} else {
		b.timer.Reset(b.idle)
	}
	b.mu.Unlock()
	if !wasActive {
		b.emit(true)
	}
}

// Dispose cancels the idle timer and clears any outstanding typing state.
// Safe to call more than once.
func (b *TypingBroadcaster) Dispose() {
	b.mu.Lock()
	wasActive := b.active
	b.active = false
	if b.timer != nil {
		b.timer.Stop()
	}
	b.mu.Unlock()
	if wasActive {
		b.emit(false)
	}
}

func (b *TypingBroadcaster) expire() {
	b.mu.Lock()
	if !b.active {
		b.mu.Unlock()
		return
	}
	b.active = false
	b.mu.Unlock()
	b.emit(false)
}

// TypingSet aggregates remote typing indicators for one conversation.
// Indicators older than the expiry window are treated as stale even when no
// explicit stop event arrived.
type TypingSet struct {
	mu      sync.Mutex
	entries map[string]time.Time
	expiry  time.Duration
}

// NewTypingSet builds a set with the given expiry window.
func NewTypingSet(expiry time.Duration) *TypingSet {
	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}
	return &TypingSet{entries: make(map[string]time.Time), expiry: expiry}
}

// Set records a typing change for a participant at the given time.
func (s *TypingSet) Set(userID string, isTyping bool, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if isTyping {
		s.entries[userID] = at
		return
	}
	delete(s.entries, userID)
}

// AnyoneTyping reports whether any non-stale indicator remains as of now.
func (s *TypingSet) AnyoneTyping(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	return len(s.entries) > 0
}

// Typing returns the participants with live indicators as of now.
func (s *TypingSet) Typing(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	out := make([]string, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	return out
}

func (s *TypingSet) pruneLocked(now time.Time) {
	for id, at := range s.entries {
		if now.Sub(at) > s.expiry {
			delete(s.entries, id)
		}
	}
}
