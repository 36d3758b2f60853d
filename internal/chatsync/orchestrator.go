// Package chatsync keeps the local conversation and message caches
// consistent with the backend: optimistic local writes on one side,
// asynchronous realtime pushes on the other, reconciled in one place.
package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Harelzx/skillup-messaging/internal/backend"
	"github.com/Harelzx/skillup-messaging/internal/chat"
	"github.com/Harelzx/skillup-messaging/internal/lifecycle"
	"github.com/Harelzx/skillup-messaging/internal/realtime"
)

// Backend is the query/write/identity collaborator contract.
// *backend.Client is the production implementation.
type Backend interface {
	FetchMessages(ctx context.Context, conversationID string, limit, offset int) (backend.MessagePage, error)
	FetchConversations(ctx context.Context, userID string) ([]chat.Conversation, error)
	SendMessage(ctx context.Context, conversationID, content string) (chat.Message, error)
	MarkConversationRead(ctx context.Context, conversationID string) error
	CurrentUserID() string
}

// ViewState is the per-conversation view lifecycle.
type ViewState int

const (
	ViewClosed ViewState = iota
	ViewLoading
	ViewActive
)

func (s ViewState) String() string {
	switch s {
	case ViewLoading:
		return "loading"
	case ViewActive:
		return "active"
	default:
		return "closed"
	}
}

// Wire table names inside envelopes.
const (
	tableMessages      = "messages"
	tableConversations = "conversations"
	tableTyping        = "typing"
)

const defaultPageSize = 50

// Options tunes the orchestrator.
type Options struct {
	PageSize     int
	TypingExpiry time.Duration
	Clock        chat.Clock
	Logger       *slog.Logger
}

// Orchestrator owns the caches and defines the reconciliation rules between
// optimistic local writes and server-confirmed pushes.
type Orchestrator struct {
	backend      Backend
	adapter      *realtime.Adapter
	clock        chat.Clock
	logger       *slog.Logger
	pageSize     int
	typingExpiry time.Duration
	userID       string

	mu            sync.Mutex
	conversations *chat.ConversationCache
	messages      map[string]*chat.MessageCache
	views         map[string]ViewState
	convSubs      map[string][]*realtime.Subscription
	listSub       *realtime.Subscription
	typing        map[string]*chat.TypingSet
	typists       map[string]*chat.TypingBroadcaster
	resumeSet     map[string]struct{}
}

// New builds an orchestrator over the given collaborators.
func New(be Backend, adapter *realtime.Adapter, opts Options) *Orchestrator {
	clock := opts.Clock
	if clock == nil {
		clock = chat.RealClock()
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	typingExpiry := opts.TypingExpiry
	if typingExpiry <= 0 {
		typingExpiry = chat.DefaultTypingExpiry
	}
	return &Orchestrator{
		backend:       be,
		adapter:       adapter,
		clock:         clock,
		logger:        opts.Logger,
		pageSize:      pageSize,
		typingExpiry:  typingExpiry,
		userID:        be.CurrentUserID(),
		conversations: chat.NewConversationCache(),
		messages:      make(map[string]*chat.MessageCache),
		views:         make(map[string]ViewState),
		convSubs:      make(map[string][]*realtime.Subscription),
		typing:        make(map[string]*chat.TypingSet),
		typists:       make(map[string]*chat.TypingBroadcaster),
		resumeSet:     make(map[string]struct{}),
	}
}

// Start loads the inbox and opens the user-scoped conversation subscription.
func (o *Orchestrator) Start(ctx context.Context) error {
	conversations, err := o.backend.FetchConversations(ctx, o.userID)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	for _, conv := range conversations {
		o.conversations.UpsertSummary(conv)
	}

	sub, err := o.adapter.Subscribe(ctx, realtime.Topic{Kind: realtime.TopicConversations, ID: o.userID}, o.handleUserEnvelope)
	if err != nil && !errors.Is(err, realtime.ErrAlreadySubscribed) {
		return err
	}
	o.mu.Lock()
	o.listSub = sub
	o.mu.Unlock()
	return nil
}

// Stop closes every view and the inbox subscription.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.views))
	for id, state := range o.views {
		if state != ViewClosed {
			ids = append(ids, id)
		}
	}
	listSub := o.listSub
	o.listSub = nil
	o.mu.Unlock()

	for _, id := range ids {
		o.CloseConversation(id)
	}
	if listSub != nil {
		listSub.Unsubscribe()
	}
}

// OpenConversation drives CLOSED → LOADING → ACTIVE: initial page fetch, then
// message and typing subscriptions. A fetch failure returns a retryable error
// and opens nothing.
func (o *Orchestrator) OpenConversation(ctx context.Context, conversationID string) error {
	o.mu.Lock()
	if o.views[conversationID] != ViewClosed {
		o.mu.Unlock()
		return nil
	}
	o.views[conversationID] = ViewLoading
	o.mu.Unlock()

	page, err := o.backend.FetchMessages(ctx, conversationID, o.pageSize, 0)
	if err != nil {
		o.mu.Lock()
		o.views[conversationID] = ViewClosed
		o.mu.Unlock()
		return fmt.Errorf("load messages: %w", err)
	}

	o.mu.Lock()
	cache := o.ensureMessageCacheLocked(conversationID)
	o.ensureTypingSetLocked(conversationID)
	o.mu.Unlock()
	cache.ReplaceAll(page.Messages)

	subs, err := o.subscribeConversation(ctx, conversationID)
	if err != nil {
		o.mu.Lock()
		o.views[conversationID] = ViewClosed
		o.mu.Unlock()
		return err
	}

	o.mu.Lock()
	o.convSubs[conversationID] = subs
	o.views[conversationID] = ViewActive
	o.mu.Unlock()

	// Opening the thread is the explicit mark-as-read.
	o.conversations.ResetUnread(conversationID)
	cache.MarkRead(o.fromCounterpart, o.clock.Now())
	go o.markReadRemote(conversationID)
	return nil
}

// CloseConversation tears down the view's subscriptions synchronously: after
// it returns no handler for this conversation runs again.
func (o *Orchestrator) CloseConversation(conversationID string) {
	o.mu.Lock()
	subs := o.convSubs[conversationID]
	delete(o.convSubs, conversationID)
	o.views[conversationID] = ViewClosed
	typist := o.typists[conversationID]
	delete(o.typists, conversationID)
	delete(o.resumeSet, conversationID)
	o.mu.Unlock()

	if typist != nil {
		typist.Dispose()
	}
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// SendMessage performs the authoritative write and appends the returned
// message only on success, under its server-assigned id. If the realtime push
// for the same message lands first, dedup-by-id makes this append a no-op.
func (o *Orchestrator) SendMessage(ctx context.Context, conversationID, content string) (chat.Message, error) {
	msg, err := o.backend.SendMessage(ctx, conversationID, content)
	if err != nil {
		return chat.Message{}, err
	}
	o.applyMessage(msg)
	return msg, nil
}

// MarkRead flags the counterpart's messages read and resets the unread badge,
// then confirms with the backend.
func (o *Orchestrator) MarkRead(ctx context.Context, conversationID string) error {
	o.mu.Lock()
	cache := o.messages[conversationID]
	o.mu.Unlock()
	if cache != nil {
		cache.MarkRead(o.fromCounterpart, o.clock.Now())
	}
	o.conversations.ResetUnread(conversationID)
	return o.backend.MarkConversationRead(ctx, conversationID)
}

// SetTyping reports the local typing state for a conversation. True arms the
// debounce window; lack of further calls auto-clears within the expiry.
func (o *Orchestrator) SetTyping(conversationID string, isTyping bool) {
	o.mu.Lock()
	typist, ok := o.typists[conversationID]
	if !ok {
		typist = chat.NewTypingBroadcaster(func(v bool) {
			o.publishTyping(conversationID, v)
		}, o.clock, o.typingExpiry)
		o.typists[conversationID] = typist
	}
	o.mu.Unlock()
	typist.Signal(isTyping)
}

// AnyoneTyping reports whether any counterpart has a live typing indicator.
func (o *Orchestrator) AnyoneTyping(conversationID string) bool {
	o.mu.Lock()
	set := o.typing[conversationID]
	o.mu.Unlock()
	if set == nil {
		return false
	}
	return set.AnyoneTyping(o.clock.Now())
}

// Conversations returns the inbox snapshot, most recent first.
func (o *Orchestrator) Conversations() []chat.Conversation {
	return o.conversations.List()
}

// Messages returns a snapshot of one conversation's messages, oldest first.
func (o *Orchestrator) Messages(conversationID string) []chat.Message {
	o.mu.Lock()
	cache := o.messages[conversationID]
	o.mu.Unlock()
	if cache == nil {
		return nil
	}
	return cache.List()
}

// ViewStateOf reports the view lifecycle state for a conversation.
func (o *Orchestrator) ViewStateOf(conversationID string) ViewState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.views[conversationID]
}

// BindLifecycle wires backgrounding: per-conversation subscriptions are torn
// down proactively on background and re-established (with a refresh fetch) on
// foreground. The user-scoped inbox subscription stays open.
func (o *Orchestrator) BindLifecycle(m *lifecycle.Manager) {
	m.OnTransition(func(p lifecycle.Phase) {
		if p == lifecycle.Background {
			o.suspend()
		} else {
			o.resume()
		}
	})
}

func (o *Orchestrator) suspend() {
	o.mu.Lock()
	var torn []*realtime.Subscription
	var typists []*chat.TypingBroadcaster
	for id, state := range o.views {
		if state != ViewActive {
			continue
		}
		o.resumeSet[id] = struct{}{}
		torn = append(torn, o.convSubs[id]...)
		delete(o.convSubs, id)
		if typist := o.typists[id]; typist != nil {
			typists = append(typists, typist)
			delete(o.typists, id)
		}
	}
	o.mu.Unlock()

	for _, typist := range typists {
		typist.Dispose()
	}
	for _, sub := range torn {
		sub.Unsubscribe()
	}
}

func (o *Orchestrator) resume() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.resumeSet))
	for id := range o.resumeSet {
		ids = append(ids, id)
	}
	o.resumeSet = make(map[string]struct{})
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, id := range ids {
		subs, err := o.subscribeConversation(ctx, id)
		if err != nil {
			if o.logger != nil {
				o.logger.Warn("resume subscribe failed", "conversation_id", id, "error", err)
			}
			continue
		}
		o.mu.Lock()
		o.convSubs[id] = subs
		o.mu.Unlock()
		go o.refreshMessages(id)
	}
	go o.refreshConversations()
}

func (o *Orchestrator) subscribeConversation(ctx context.Context, conversationID string) ([]*realtime.Subscription, error) {
	msgSub, err := o.adapter.Subscribe(ctx, realtime.Topic{Kind: realtime.TopicMessages, ID: conversationID}, func(env realtime.Envelope) {
		o.handleConversationEnvelope(conversationID, env)
	})
	if err != nil && !errors.Is(err, realtime.ErrAlreadySubscribed) {
		return nil, err
	}
	// Only a subscription this call opened may be rolled back; an existing
	// one returned with ErrAlreadySubscribed belongs to someone else.
	msgSubOwned := err == nil
	typingSub, err := o.adapter.Subscribe(ctx, realtime.Topic{Kind: realtime.TopicTyping, ID: conversationID}, func(env realtime.Envelope) {
		o.handleTypingEnvelope(conversationID, env)
	})
	if err != nil && !errors.Is(err, realtime.ErrAlreadySubscribed) {
		if msgSubOwned {
			msgSub.Unsubscribe()
		}
		return nil, err
	}
	return []*realtime.Subscription{msgSub, typingSub}, nil
}

// handleConversationEnvelope processes pushes for an open conversation.
// Events during ViewLoading are applied, not dropped: the transport may flush
// a backlog the moment the subscription opens, before the view turns active.
func (o *Orchestrator) handleConversationEnvelope(conversationID string, env realtime.Envelope) {
	if o.ViewStateOf(conversationID) == ViewClosed {
		// Teardown raced an in-flight delivery; drop without mutating.
		return
	}
	if env.Table != tableMessages {
		return
	}
	event, ok := o.decodeMessageEvent(env)
	if !ok {
		return
	}
	o.dispatch(event)
}

// handleUserEnvelope processes the user-scoped inbox subscription.
func (o *Orchestrator) handleUserEnvelope(env realtime.Envelope) {
	switch env.Table {
	case tableConversations:
		var conv chat.Conversation
		if err := json.Unmarshal(env.New, &conv); err != nil || conv.ID == "" {
			o.dropMalformed(env, err)
			return
		}
		o.dispatch(chat.ConversationChanged{Conversation: conv})
	case tableMessages:
		event, ok := o.decodeMessageEvent(env)
		if !ok {
			return
		}
		o.dispatch(event)
	}
}

func (o *Orchestrator) handleTypingEnvelope(conversationID string, env realtime.Envelope) {
	if env.Table != tableTyping {
		return
	}
	var payload chat.TypingPayload
	if err := json.Unmarshal(env.New, &payload); err != nil || payload.UserID == "" {
		o.dropMalformed(env, err)
		return
	}
	o.dispatch(chat.TypingChanged{
		ConversationID: conversationID,
		UserID:         payload.UserID,
		IsTyping:       payload.IsTyping,
	})
}

func (o *Orchestrator) decodeMessageEvent(env realtime.Envelope) (chat.Event, bool) {
	var msg chat.Message
	if err := json.Unmarshal(env.New, &msg); err != nil || msg.ID == "" || msg.ConversationID == "" {
		o.dropMalformed(env, err)
		return nil, false
	}
	switch env.Event {
	case realtime.EventInsert:
		return chat.MessageInserted{Message: msg}, true
	case realtime.EventUpdate:
		return chat.MessageUpdated{Message: msg}, true
	default:
		return nil, false
	}
}

// dispatch is the single reconciliation point for every pushed event.
func (o *Orchestrator) dispatch(event chat.Event) {
	switch e := event.(type) {
	case chat.MessageInserted:
		o.applyMessage(e.Message)
	case chat.MessageUpdated:
		o.applyReceipt(e.Message)
	case chat.ConversationChanged:
		conv := e.Conversation
		if o.ViewStateOf(conv.ID) == ViewActive {
			// The user is looking at it; the badge must not resurface.
			conv.UnreadCount = 0
		}
		o.conversations.UpsertSummary(conv)
	case chat.TypingChanged:
		if e.UserID == o.userID {
			return
		}
		o.mu.Lock()
		set := o.ensureTypingSetLocked(e.ConversationID)
		o.mu.Unlock()
		set.Set(e.UserID, e.IsTyping, o.clock.Now())
	}
}

// applyMessage reconciles one message into the caches, whether it came from
// the optimistic send path or a realtime push. The cache is created on first
// contact, so every delivery hits id dedup; a redelivery anywhere in the
// history (reconnect resubscribe, broker rebalance replay) is a no-op and in
// particular never touches the unread count.
func (o *Orchestrator) applyMessage(msg chat.Message) {
	o.mu.Lock()
	cache := o.ensureMessageCacheLocked(msg.ConversationID)
	view := o.views[msg.ConversationID]
	o.mu.Unlock()

	if !cache.Append(msg) {
		return
	}

	switch {
	case msg.SenderID == o.userID:
		o.conversations.Touch(msg.ConversationID, msg.CreatedAt, msg.Content)
	case view == ViewActive:
		// Thread is on screen: no badge, confirm the read instead.
		o.conversations.Touch(msg.ConversationID, msg.CreatedAt, msg.Content)
		cache.MarkRead(o.fromCounterpart, o.clock.Now())
		go o.markReadRemote(msg.ConversationID)
	default:
		o.conversations.IncrementUnread(msg.ConversationID, msg.CreatedAt, msg.Content)
	}
}

// applyReceipt handles a read-receipt push. A miss (message not loaded yet)
// is absorbed: receipts are a best-effort UI affordance.
func (o *Orchestrator) applyReceipt(msg chat.Message) {
	o.mu.Lock()
	cache := o.messages[msg.ConversationID]
	o.mu.Unlock()
	if cache == nil {
		return
	}
	isRead := msg.IsRead
	cache.UpdateByID(msg.ID, chat.MessagePatch{IsRead: &isRead, ReadAt: msg.ReadAt})
}

func (o *Orchestrator) publishTyping(conversationID string, isTyping bool) {
	payload, err := json.Marshal(chat.TypingPayload{
		ConversationID: conversationID,
		UserID:         o.userID,
		IsTyping:       isTyping,
	})
	if err != nil {
		return
	}
	topic := realtime.Topic{Kind: realtime.TopicTyping, ID: conversationID}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = o.adapter.Publish(ctx, realtime.Envelope{
		Topic: topic.String(),
		Table: tableTyping,
		Event: realtime.EventUpdate,
		New:   payload,
	})
	if err != nil && o.logger != nil {
		o.logger.Warn("typing publish failed", "conversation_id", conversationID, "error", err)
	}
}

func (o *Orchestrator) refreshMessages(conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	page, err := o.backend.FetchMessages(ctx, conversationID, o.pageSize, 0)
	if err != nil {
		if o.logger != nil {
			o.logger.Warn("refresh fetch failed", "conversation_id", conversationID, "error", err)
		}
		return
	}
	o.mu.Lock()
	cache := o.ensureMessageCacheLocked(conversationID)
	o.mu.Unlock()
	cache.ReplaceAll(page.Messages)
}

func (o *Orchestrator) refreshConversations() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conversations, err := o.backend.FetchConversations(ctx, o.userID)
	if err != nil {
		if o.logger != nil {
			o.logger.Warn("inbox refresh failed", "error", err)
		}
		return
	}
	for _, conv := range conversations {
		o.dispatch(chat.ConversationChanged{Conversation: conv})
	}
}

func (o *Orchestrator) markReadRemote(conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.backend.MarkConversationRead(ctx, conversationID); err != nil && o.logger != nil {
		o.logger.Warn("mark read failed", "conversation_id", conversationID, "error", err)
	}
}

func (o *Orchestrator) fromCounterpart(m chat.Message) bool {
	return m.SenderID != o.userID
}

func (o *Orchestrator) ensureMessageCacheLocked(conversationID string) *chat.MessageCache {
	cache, ok := o.messages[conversationID]
	if !ok {
		cache = chat.NewMessageCache()
		o.messages[conversationID] = cache
	}
	return cache
}

func (o *Orchestrator) ensureTypingSetLocked(conversationID string) *chat.TypingSet {
	set, ok := o.typing[conversationID]
	if !ok {
		set = chat.NewTypingSet(o.typingExpiry)
		o.typing[conversationID] = set
	}
	return set
}

func (o *Orchestrator) dropMalformed(env realtime.Envelope, err error) {
	if o.logger != nil {
		o.logger.Warn("dropping malformed push payload", "topic", env.Topic, "table", env.Table, "error", err)
	}
}
