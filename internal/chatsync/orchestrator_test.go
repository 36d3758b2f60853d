package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Harelzx/skillup-messaging/internal/backend"
	"github.com/Harelzx/skillup-messaging/internal/chat"
	"github.com/Harelzx/skillup-messaging/internal/lifecycle"
	"github.com/Harelzx/skillup-messaging/internal/realtime"
)

const (
	testUser    = "student-1"
	counterpart = "tutor-1"
)

// fakeTransport lets tests push envelopes and inspect subscription traffic.
type fakeTransport struct {
	mu            sync.Mutex
	sink          realtime.Sink
	subscribed    map[string]int
	unsubscribed  map[string]int
	published     []realtime.Envelope
	failSubscribe map[string]error
	onSubscribe   func(realtime.Topic)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		subscribed:    make(map[string]int),
		unsubscribed:  make(map[string]int),
		failSubscribe: make(map[string]error),
	}
}

func (f *fakeTransport) Start(ctx context.Context, sink realtime.Sink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sink = sink
	return nil
}

func (f *fakeTransport) Subscribe(ctx context.Context, topic realtime.Topic) error {
	f.mu.Lock()
	if err := f.failSubscribe[topic.String()]; err != nil {
		f.mu.Unlock()
		return err
	}
	f.subscribed[topic.String()]++
	hook := f.onSubscribe
	f.mu.Unlock()
	if hook != nil {
		hook(topic)
	}
	return nil
}

func (f *fakeTransport) Unsubscribe(ctx context.Context, topic realtime.Topic) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed[topic.String()]++
	return nil
}

func (f *fakeTransport) Publish(ctx context.Context, env realtime.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, env)
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) pushMessage(topic realtime.Topic, event string, msg chat.Message) {
	raw, _ := json.Marshal(msg)
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink.Deliver(realtime.Envelope{Topic: topic.String(), Table: "messages", Event: event, New: raw})
}

func (f *fakeTransport) pushTyping(conversationID string, payload chat.TypingPayload) {
	raw, _ := json.Marshal(payload)
	topic := realtime.Topic{Kind: realtime.TopicTyping, ID: conversationID}
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink.Deliver(realtime.Envelope{Topic: topic.String(), Table: "typing", Event: "update", New: raw})
}

func (f *fakeTransport) subscribeCount(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed[topic]
}

func (f *fakeTransport) unsubscribeCount(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubscribed[topic]
}

// fakeBackend is a controllable query/write collaborator.
type fakeBackend struct {
	mu            sync.Mutex
	conversations []chat.Conversation
	pages         map[string]backend.MessagePage
	fetchErr      error
	sendDelay     time.Duration
	sendResult    chat.Message
	sendErr       error
	markedRead    []string
	fetchCalls    int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{pages: make(map[string]backend.MessagePage)}
}

func (f *fakeBackend) FetchMessages(ctx context.Context, conversationID string, limit, offset int) (backend.MessagePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return backend.MessagePage{}, f.fetchErr
	}
	return f.pages[conversationID], nil
}

func (f *fakeBackend) FetchConversations(ctx context.Context, userID string) ([]chat.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Conversation(nil), f.conversations...), nil
}

func (f *fakeBackend) SendMessage(ctx context.Context, conversationID, content string) (chat.Message, error) {
	f.mu.Lock()
	delay := f.sendDelay
	result := f.sendResult
	err := f.sendErr
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return chat.Message{}, ctx.Err()
		}
	}
	if err != nil {
		return chat.Message{}, err
	}
	return result, nil
}

func (f *fakeBackend) MarkConversationRead(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedRead = append(f.markedRead, conversationID)
	return nil
}

func (f *fakeBackend) CurrentUserID() string { return testUser }

func newTestOrchestrator(t *testing.T, be *fakeBackend) (*Orchestrator, *fakeTransport, *chat.ManualClock) {
	t.Helper()
	transport := newFakeTransport()
	adapter := realtime.NewAdapter(transport, nil)
	if err := adapter.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	clock := chat.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	o := New(be, adapter, Options{Clock: clock})
	return o, transport, clock
}

func seedConversation(be *fakeBackend, id string, at time.Time) {
	be.conversations = append(be.conversations, chat.Conversation{
		ID:             id,
		InitiatorID:    testUser,
		CounterpartyID: counterpart,
		LastMessageAt:  at,
	})
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartLoadsInbox(t *testing.T) {
	be := newFakeBackend()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seedConversation(be, "conv-1", base.Add(time.Minute))
	seedConversation(be, "conv-2", base.Add(2*time.Minute))
	o, transport, _ := newTestOrchestrator(t, be)

	if err := o.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	list := o.Conversations()
	if len(list) != 2 || list[0].ID != "conv-2" {
		t.Fatalf("expected recency-ordered inbox, got %+v", list)
	}
	if transport.subscribeCount("conversations:"+testUser) != 1 {
		t.Fatal("expected the user-scoped inbox subscription")
	}
}

func TestOpenConversationLifecycle(t *testing.T) {
	be := newFakeBackend()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seedConversation(be, "conv-1", base)
	be.pages["conv-1"] = backend.MessagePage{Messages: []chat.Message{
		{ID: "m1", ConversationID: "conv-1", SenderID: counterpart, Content: "hi", CreatedAt: base},
	}}
	o, transport, _ := newTestOrchestrator(t, be)
	_ = o.Start(context.Background())

	if err := o.OpenConversation(context.Background(), "conv-1"); err != nil {
		t.Fatal(err)
	}
	if o.ViewStateOf("conv-1") != ViewActive {
		t.Fatalf("expected active view, got %s", o.ViewStateOf("conv-1"))
	}
	if transport.subscribeCount("messages:conv-1") != 1 || transport.subscribeCount("typing:conv-1") != 1 {
		t.Fatal("expected message and typing subscriptions")
	}
	if msgs := o.Messages("conv-1"); len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("unexpected initial page: %+v", msgs)
	}
	eventually(t, func() bool {
		be.mu.Lock()
		defer be.mu.Unlock()
		return len(be.markedRead) == 1
	}, "opening a thread must mark it read remotely")

	// Opening again is a no-op.
	if err := o.OpenConversation(context.Background(), "conv-1"); err != nil {
		t.Fatal(err)
	}
	if transport.subscribeCount("messages:conv-1") != 1 {
		t.Fatal("reopen of an active view must not resubscribe")
	}
}

func TestOpenConversationFetchFailure(t *testing.T) {
	be := newFakeBackend()
	be.fetchErr = &backend.APIError{Status: 503, Message: "overloaded"}
	o, transport, _ := newTestOrchestrator(t, be)
	_ = o.Start(context.Background())

	err := o.OpenConversation(context.Background(), "conv-1")
	if err == nil {
		t.Fatal("expected fetch error to surface")
	}
	if o.ViewStateOf("conv-1") != ViewClosed {
		t.Fatal("failed load must not leave the view active")
	}
	if transport.subscribeCount("messages:conv-1") != 0 {
		t.Fatal("no subscriptions may open for data that failed to load")
	}

	// The error is retryable: a second attempt succeeds.
	be.mu.Lock()
	be.fetchErr = nil
	be.mu.Unlock()
	if err := o.OpenConversation(context.Background(), "conv-1"); err != nil {
		t.Fatal(err)
	}
	if o.ViewStateOf("conv-1") != ViewActive {
		t.Fatal("retry should reach the active state")
	}
}

func TestSendPushRace(t *testing.T) {
	run := func(t *testing.T, pushDelay, sendDelay time.Duration) {
		be := newFakeBackend()
		base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		seedConversation(be, "conv-1", base)
		be.pages["conv-1"] = backend.MessagePage{}
		sent := chat.Message{ID: "42", ConversationID: "conv-1", SenderID: testUser, Content: "hi", CreatedAt: base.Add(time.Second)}
		be.sendResult = sent
		be.sendDelay = sendDelay
		o, transport, _ := newTestOrchestrator(t, be)
		_ = o.Start(context.Background())
		_ = o.OpenConversation(context.Background(), "conv-1")

		done := make(chan error, 1)
		go func() {
			_, err := o.SendMessage(context.Background(), "conv-1", "hi")
			done <- err
		}()
		time.Sleep(pushDelay)
		transport.pushMessage(realtime.Topic{Kind: realtime.TopicMessages, ID: "conv-1"}, realtime.EventInsert, sent)
		if err := <-done; err != nil {
			t.Fatal(err)
		}

		msgs := o.Messages("conv-1")
		count := 0
		for _, m := range msgs {
			if m.ID == "42" {
				count++
			}
		}
		if count != 1 {
			t.Fatalf("expected exactly one message with id 42, got %d (messages: %+v)", count, msgs)
		}
	}

	t.Run("push lands first", func(t *testing.T) { run(t, 10*time.Millisecond, 50*time.Millisecond) })
	t.Run("send resolves first", func(t *testing.T) { run(t, 50*time.Millisecond, 10*time.Millisecond) })
}

func TestUnreadRules(t *testing.T) {
	be := newFakeBackend()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seedConversation(be, "conv-1", base)
	o, transport, _ := newTestOrchestrator(t, be)
	_ = o.Start(context.Background())

	userTopic := realtime.Topic{Kind: realtime.TopicConversations, ID: testUser}
	for i := 0; i < 3; i++ {
		transport.pushMessage(userTopic, realtime.EventInsert, chat.Message{
			ID:             "m" + string(rune('1'+i)),
			ConversationID: "conv-1",
			SenderID:       counterpart,
			Content:        "ping",
			CreatedAt:      base.Add(time.Duration(i+1) * time.Second),
		})
	}
	if got := o.Conversations()[0].UnreadCount; got != 3 {
		t.Fatalf("expected 3 distinct counterpart messages to yield unread 3, got %d", got)
	}

	// Self-originated push must not inflate the badge.
	transport.pushMessage(userTopic, realtime.EventInsert, chat.Message{
		ID:             "m9",
		ConversationID: "conv-1",
		SenderID:       testUser,
		Content:        "mine",
		CreatedAt:      base.Add(10 * time.Second),
	})
	if got := o.Conversations()[0].UnreadCount; got != 3 {
		t.Fatalf("self push changed unread: %d", got)
	}

	// Replay of the latest message must not double count.
	transport.pushMessage(userTopic, realtime.EventInsert, chat.Message{
		ID:             "m9",
		ConversationID: "conv-1",
		SenderID:       counterpart,
		Content:        "mine",
		CreatedAt:      base.Add(10 * time.Second),
	})
	if got := o.Conversations()[0].UnreadCount; got != 3 {
		t.Fatalf("replayed push changed unread: %d", got)
	}

	// Redelivery of an earlier message (reconnect resubscribe) must not
	// count again, wherever it sits in the history.
	transport.pushMessage(userTopic, realtime.EventInsert, chat.Message{
		ID:             "m1",
		ConversationID: "conv-1",
		SenderID:       counterpart,
		Content:        "ping",
		CreatedAt:      base.Add(time.Second),
	})
	if got := o.Conversations()[0].UnreadCount; got != 3 {
		t.Fatalf("redelivered earlier push changed unread: %d", got)
	}

	if err := o.MarkRead(context.Background(), "conv-1"); err != nil {
		t.Fatal(err)
	}
	if got := o.Conversations()[0].UnreadCount; got != 0 {
		t.Fatalf("expected unread 0 after mark read, got %d", got)
	}
}

func TestOpenConversationSuppressesUnread(t *testing.T) {
	be := newFakeBackend()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seedConversation(be, "conv-1", base)
	be.pages["conv-1"] = backend.MessagePage{}
	o, transport, _ := newTestOrchestrator(t, be)
	_ = o.Start(context.Background())
	_ = o.OpenConversation(context.Background(), "conv-1")

	transport.pushMessage(realtime.Topic{Kind: realtime.TopicMessages, ID: "conv-1"}, realtime.EventInsert, chat.Message{
		ID:             "m1",
		ConversationID: "conv-1",
		SenderID:       counterpart,
		Content:        "hello",
		CreatedAt:      base.Add(time.Second),
	})

	if got := o.Conversations()[0].UnreadCount; got != 0 {
		t.Fatalf("open conversation must not accumulate unread, got %d", got)
	}
	msgs := o.Messages("conv-1")
	if len(msgs) != 1 || !msgs[0].IsRead {
		t.Fatalf("inbound message on an open thread should be read immediately: %+v", msgs)
	}
}

func TestInsertDuringLoadIsKept(t *testing.T) {
	be := newFakeBackend()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seedConversation(be, "conv-1", base)
	be.pages["conv-1"] = backend.MessagePage{Messages: []chat.Message{
		{ID: "m1", ConversationID: "conv-1", SenderID: counterpart, Content: "hi", CreatedAt: base},
	}}
	o, transport, _ := newTestOrchestrator(t, be)
	_ = o.Start(context.Background())

	// The transport flushes a queued insert the instant the message topic
	// opens, while the view is still loading.
	transport.mu.Lock()
	transport.onSubscribe = func(topic realtime.Topic) {
		if topic.Kind != realtime.TopicMessages {
			return
		}
		transport.pushMessage(topic, realtime.EventInsert, chat.Message{
			ID:             "m2",
			ConversationID: "conv-1",
			SenderID:       counterpart,
			Content:        "queued",
			CreatedAt:      base.Add(time.Second),
		})
	}
	transport.mu.Unlock()

	if err := o.OpenConversation(context.Background(), "conv-1"); err != nil {
		t.Fatal(err)
	}
	msgs := o.Messages("conv-1")
	if len(msgs) != 2 || msgs[1].ID != "m2" {
		t.Fatalf("insert delivered mid-load must land in the cache: %+v", msgs)
	}
	if got := o.Conversations()[0].UnreadCount; got != 0 {
		t.Fatalf("opening the thread clears unread from the load window, got %d", got)
	}
}

func TestTypingSubscribeFailureKeepsForeignSubscription(t *testing.T) {
	be := newFakeBackend()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seedConversation(be, "conv-1", base)
	be.pages["conv-1"] = backend.MessagePage{}
	transport := newFakeTransport()
	adapter := realtime.NewAdapter(transport, nil)
	if err := adapter.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	clock := chat.NewManualClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	o := New(be, adapter, Options{Clock: clock})
	_ = o.Start(context.Background())

	// Another component already follows the message topic.
	topic := realtime.Topic{Kind: realtime.TopicMessages, ID: "conv-1"}
	foreign := 0
	if _, err := adapter.Subscribe(context.Background(), topic, func(realtime.Envelope) {
		foreign++
	}); err != nil {
		t.Fatal(err)
	}

	transport.mu.Lock()
	transport.failSubscribe["typing:conv-1"] = errors.New("broker unavailable")
	transport.mu.Unlock()

	if err := o.OpenConversation(context.Background(), "conv-1"); err == nil {
		t.Fatal("expected the typing subscribe failure to surface")
	}
	if o.ViewStateOf("conv-1") != ViewClosed {
		t.Fatal("failed open must leave the view closed")
	}
	if transport.unsubscribeCount("messages:conv-1") != 0 {
		t.Fatal("rollback must not tear down a subscription it does not own")
	}

	transport.pushMessage(topic, realtime.EventInsert, chat.Message{
		ID: "m1", ConversationID: "conv-1", SenderID: counterpart, Content: "hi", CreatedAt: base,
	})
	if foreign != 1 {
		t.Fatalf("pre-existing subscriber must keep receiving events, got %d", foreign)
	}
}

func TestTeardownDropsLateEvents(t *testing.T) {
	be := newFakeBackend()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seedConversation(be, "conv-1", base)
	be.pages["conv-1"] = backend.MessagePage{Messages: []chat.Message{
		{ID: "m1", ConversationID: "conv-1", SenderID: counterpart, Content: "hi", CreatedAt: base},
	}}
	o, transport, _ := newTestOrchestrator(t, be)
	_ = o.Start(context.Background())
	_ = o.OpenConversation(context.Background(), "conv-1")

	transport.pushMessage(realtime.Topic{Kind: realtime.TopicMessages, ID: "conv-1"}, realtime.EventInsert, chat.Message{
		ID: "m2", ConversationID: "conv-1", SenderID: counterpart, Content: "one", CreatedAt: base.Add(time.Second),
	})
	o.CloseConversation("conv-1")
	if transport.unsubscribeCount("messages:conv-1") != 1 || transport.unsubscribeCount("typing:conv-1") != 1 {
		t.Fatal("close must unsubscribe both topics")
	}

	before := len(o.Messages("conv-1"))
	transport.pushMessage(realtime.Topic{Kind: realtime.TopicMessages, ID: "conv-1"}, realtime.EventInsert, chat.Message{
		ID: "m3", ConversationID: "conv-1", SenderID: counterpart, Content: "late", CreatedAt: base.Add(2 * time.Second),
	})
	if len(o.Messages("conv-1")) != before {
		t.Fatal("no cache mutation may happen after teardown")
	}
}

func TestTypingRoundTrip(t *testing.T) {
	be := newFakeBackend()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seedConversation(be, "conv-1", base)
	be.pages["conv-1"] = backend.MessagePage{}
	o, transport, clock := newTestOrchestrator(t, be)
	_ = o.Start(context.Background())
	_ = o.OpenConversation(context.Background(), "conv-1")

	// Local side: signal emits a publish, expiry emits the stop.
	o.SetTyping("conv-1", true)
	transport.mu.Lock()
	published := len(transport.published)
	transport.mu.Unlock()
	if published != 1 {
		t.Fatalf("expected one typing publish, got %d", published)
	}
	clock.Advance(chat.DefaultTypingExpiry + time.Millisecond)
	transport.mu.Lock()
	var last realtime.Envelope
	published = len(transport.published)
	if published > 0 {
		last = transport.published[published-1]
	}
	transport.mu.Unlock()
	if published != 2 {
		t.Fatalf("expected automatic stop publish, got %d", published)
	}
	var payload chat.TypingPayload
	if err := json.Unmarshal(last.New, &payload); err != nil || payload.IsTyping {
		t.Fatalf("expected is_typing=false payload, got %+v (err %v)", payload, err)
	}

	// Remote side: counterpart typing shows up and expires on its own.
	transport.pushTyping("conv-1", chat.TypingPayload{ConversationID: "conv-1", UserID: counterpart, IsTyping: true})
	if !o.AnyoneTyping("conv-1") {
		t.Fatal("expected counterpart typing to register")
	}
	clock.Advance(4 * time.Second)
	if o.AnyoneTyping("conv-1") {
		t.Fatal("stale typing indicator must expire")
	}

	// Own echo over the channel is ignored.
	transport.pushTyping("conv-1", chat.TypingPayload{ConversationID: "conv-1", UserID: testUser, IsTyping: true})
	if o.AnyoneTyping("conv-1") {
		t.Fatal("self typing echo must not register")
	}
}

func TestBackgroundForeground(t *testing.T) {
	be := newFakeBackend()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seedConversation(be, "conv-1", base)
	be.pages["conv-1"] = backend.MessagePage{}
	o, transport, _ := newTestOrchestrator(t, be)
	_ = o.Start(context.Background())
	_ = o.OpenConversation(context.Background(), "conv-1")

	lm := lifecycle.NewManager(nil)
	o.BindLifecycle(lm)

	lm.Background()
	if transport.unsubscribeCount("messages:conv-1") != 1 {
		t.Fatal("backgrounding must tear down per-conversation subscriptions")
	}
	if transport.unsubscribeCount("conversations:"+testUser) != 0 {
		t.Fatal("the inbox subscription stays open across backgrounding")
	}
	if o.ViewStateOf("conv-1") != ViewActive {
		t.Fatal("the view is still considered active while backgrounded")
	}

	be.mu.Lock()
	fetchesBefore := be.fetchCalls
	be.mu.Unlock()

	lm.Foreground()
	if transport.subscribeCount("messages:conv-1") != 2 {
		t.Fatal("foregrounding must re-establish the message subscription")
	}
	eventually(t, func() bool {
		be.mu.Lock()
		defer be.mu.Unlock()
		return be.fetchCalls > fetchesBefore
	}, "foregrounding must issue a refresh fetch")
}

func TestSendFailureLeavesNoOptimisticEntry(t *testing.T) {
	be := newFakeBackend()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seedConversation(be, "conv-1", base)
	be.pages["conv-1"] = backend.MessagePage{}
	be.sendErr = &backend.APIError{Status: 500, Message: "write failed"}
	o, _, _ := newTestOrchestrator(t, be)
	_ = o.Start(context.Background())
	_ = o.OpenConversation(context.Background(), "conv-1")

	if _, err := o.SendMessage(context.Background(), "conv-1", "hi"); err == nil {
		t.Fatal("expected send failure to surface")
	}
	if len(o.Messages("conv-1")) != 0 {
		t.Fatal("a failed send must leave no stale optimistic entry")
	}
}

func TestReadReceiptBestEffort(t *testing.T) {
	be := newFakeBackend()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seedConversation(be, "conv-1", base)
	be.pages["conv-1"] = backend.MessagePage{Messages: []chat.Message{
		{ID: "m1", ConversationID: "conv-1", SenderID: testUser, Content: "hi", CreatedAt: base},
	}}
	o, transport, _ := newTestOrchestrator(t, be)
	_ = o.Start(context.Background())
	_ = o.OpenConversation(context.Background(), "conv-1")

	readAt := base.Add(time.Minute)
	topic := realtime.Topic{Kind: realtime.TopicMessages, ID: "conv-1"}
	transport.pushMessage(topic, realtime.EventUpdate, chat.Message{
		ID: "m1", ConversationID: "conv-1", SenderID: testUser, IsRead: true, ReadAt: &readAt,
	})
	msgs := o.Messages("conv-1")
	if !msgs[0].IsRead || msgs[0].ReadAt == nil {
		t.Fatalf("receipt should mark the cached message read: %+v", msgs[0])
	}

	// Receipt for a message that was never loaded: silently absorbed.
	transport.pushMessage(topic, realtime.EventUpdate, chat.Message{
		ID: "ghost", ConversationID: "conv-1", SenderID: testUser, IsRead: true,
	})
	if len(o.Messages("conv-1")) != 1 {
		t.Fatal("unknown receipt must not create entries")
	}
}
