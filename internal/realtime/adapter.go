// Package realtime wraps a pub/sub transport into typed per-resource
// subscriptions with an explicit subscribe/unsubscribe lifecycle.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// TopicKind selects the resource family a subscription covers.
type TopicKind string

const (
	// TopicMessages delivers message rows for one conversation.
	TopicMessages TopicKind = "messages"
	// TopicTyping delivers typing changes for one conversation.
	TopicTyping TopicKind = "typing"
	// TopicConversations delivers conversation rows and message inserts
	// scoped to one user.
	TopicConversations TopicKind = "conversations"
)

// Topic identifies one subscribable resource.
type Topic struct {
	Kind TopicKind
	ID   string
}

func (t Topic) String() string {
	return string(t.Kind) + ":" + t.ID
}

// ParseTopic parses the kind:id wire form.
func ParseTopic(raw string) (Topic, error) {
	kind, id, ok := strings.Cut(raw, ":")
	if !ok || kind == "" || id == "" {
		return Topic{}, fmt.Errorf("realtime: malformed topic %q", raw)
	}
	return Topic{Kind: TopicKind(kind), ID: id}, nil
}

// ChannelStatus reports transport-level subscription health.
type ChannelStatus string

const (
	StatusSubscribed   ChannelStatus = "SUBSCRIBED"
	StatusTimedOut     ChannelStatus = "TIMED_OUT"
	StatusChannelError ChannelStatus = "CHANNEL_ERROR"
	StatusClosed       ChannelStatus = "CLOSED"
)

// Row-level change event types, matching what the backend emits.
const (
	EventInsert = "insert"
	EventUpdate = "update"
	EventDelete = "delete"
)

// Envelope is the wire format of a single pushed change: which topic, which
// table, what happened, and the before/after rows.
type Envelope struct {
	Topic string          `json:"topic"`
	Table string          `json:"table,omitempty"`
	Event string          `json:"event"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

// Handler consumes envelopes for one subscription.
type Handler func(Envelope)

// StatusHandler observes channel status changes per topic.
type StatusHandler func(Topic, ChannelStatus)

// ErrAlreadySubscribed flags a second Subscribe for a live topic. It is a
// programmer error; the adapter keeps the original subscription intact.
var ErrAlreadySubscribed = errors.New("realtime: topic already subscribed")

// Transport moves envelopes between the adapter and the wire. Implementations
// deliver received envelopes and status changes through the Sink passed to
// Start, and must keep delivering after transient failures (resubscribe with
// backoff is the transport's job).
type Transport interface {
	Start(ctx context.Context, sink Sink) error
	Subscribe(ctx context.Context, topic Topic) error
	Unsubscribe(ctx context.Context, topic Topic) error
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// Sink receives transport callbacks. The Adapter is the only implementation;
// the interface exists so transports stay decoupled and testable.
type Sink interface {
	Deliver(env Envelope)
	Status(topic Topic, status ChannelStatus)
}

// Adapter owns the subscription registry: exactly one live subscription per
// topic, symmetric subscribe/unsubscribe, and handler isolation (a panicking
// handler never breaks delivery for subsequent events).
type Adapter struct {
	transport Transport
	logger    *slog.Logger

	mu       sync.Mutex
	subs     map[Topic]*Subscription
	onStatus StatusHandler
	started  bool
}

// NewAdapter builds an adapter over the given transport.
func NewAdapter(transport Transport, logger *slog.Logger) *Adapter {
	return &Adapter{
		transport: transport,
		logger:    logger,
		subs:      make(map[Topic]*Subscription),
	}
}

// Start connects the underlying transport.
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	a.mu.Unlock()
	return a.transport.Start(ctx, a)
}

// OnStatus registers the channel-status observer (the lifecycle manager).
func (a *Adapter) OnStatus(fn StatusHandler) {
	a.mu.Lock()
	a.onStatus = fn
	a.mu.Unlock()
}

// Subscribe opens the topic and routes its envelopes to handler. Subscribing
// to an already-live topic returns the existing subscription together with
// ErrAlreadySubscribed; the original handler stays in place.
func (a *Adapter) Subscribe(ctx context.Context, topic Topic, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("realtime: nil handler")
	}
	a.mu.Lock()
	if existing, ok := a.subs[topic]; ok {
		a.mu.Unlock()
		if a.logger != nil {
			a.logger.Warn("duplicate subscribe collapsed", "topic", topic.String())
		}
		return existing, ErrAlreadySubscribed
	}
	sub := &Subscription{adapter: a, topic: topic, handler: handler}
	a.subs[topic] = sub
	a.mu.Unlock()

	if err := a.transport.Subscribe(ctx, topic); err != nil {
		a.mu.Lock()
		delete(a.subs, topic)
		a.mu.Unlock()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return sub, nil
}

// Publish sends an envelope outward (typing broadcasts).
func (a *Adapter) Publish(ctx context.Context, env Envelope) error {
	return a.transport.Publish(ctx, env)
}

// Close unsubscribes everything and shuts the transport down.
func (a *Adapter) Close() error {
	a.mu.Lock()
	subs := make([]*Subscription, 0, len(a.subs))
	for _, sub := range a.subs {
		subs = append(subs, sub)
	}
	a.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	return a.transport.Close()
}

// Topics returns the currently subscribed topics.
func (a *Adapter) Topics() []Topic {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Topic, 0, len(a.subs))
	for t := range a.subs {
		out = append(out, t)
	}
	return out
}

// Deliver routes a received envelope to its subscription. Transport-facing.
func (a *Adapter) Deliver(env Envelope) {
	topic, err := ParseTopic(env.Topic)
	if err != nil {
		if a.logger != nil {
			a.logger.Warn("dropping malformed envelope", "error", err)
		}
		return
	}
	a.mu.Lock()
	sub := a.subs[topic]
	a.mu.Unlock()
	if sub == nil || sub.closed.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil && a.logger != nil {
			a.logger.Error("subscription handler panicked", "topic", env.Topic, "panic", r)
		}
	}()
	sub.handler(env)
}

// Status forwards a channel status change. Transport-facing.
func (a *Adapter) Status(topic Topic, status ChannelStatus) {
	a.mu.Lock()
	fn := a.onStatus
	a.mu.Unlock()
	if fn != nil {
		fn(topic, status)
	}
}

func (a *Adapter) remove(sub *Subscription) {
	a.mu.Lock()
	if a.subs[sub.topic] == sub {
		delete(a.subs, sub.topic)
	}
	a.mu.Unlock()
}
