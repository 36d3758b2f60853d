package realtime

import (
	"context"
	"sync/atomic"
	"time"
)

// Subscription is the token returned by Adapter.Subscribe. Unsubscribe is
// idempotent, and once it returns the handler is never invoked again.
type Subscription struct {
	adapter *Adapter
	topic   Topic
	handler Handler
	closed  atomic.Bool
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() Topic { return s.topic }

// Unsubscribe closes the subscription and releases the transport channel.
func (s *Subscription) Unsubscribe() {
	if s.closed.Swap(true) {
		return
	}
	s.adapter.remove(s)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.adapter.transport.Unsubscribe(ctx, s.topic); err != nil && s.adapter.logger != nil {
		s.adapter.logger.Warn("transport unsubscribe failed", "topic", s.topic.String(), "error", err)
	}
	s.adapter.Status(s.topic, StatusClosed)
}
