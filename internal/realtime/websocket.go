package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// wsCommand is the client-to-server frame.
type wsCommand struct {
	Action   string    `json:"action"` // subscribe | unsubscribe | publish
	Topic    string    `json:"topic,omitempty"`
	Envelope *Envelope `json:"envelope,omitempty"`
}

// ReconnectConfig bounds the automatic resubscribe backoff.
type ReconnectConfig struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func (c *ReconnectConfig) defaults() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 10
	}
}

// reconnector tracks backoff state. Attempts reset after a connection has
// held for a minute.
type reconnector struct {
	cfg         ReconnectConfig
	attempt     int
	connectedAt time.Time
}

func (r *reconnector) shouldReconnect() bool {
	return r.cfg.MaxAttempts < 0 || r.attempt < r.cfg.MaxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.cfg.BaseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.cfg.BaseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.cfg.MaxDelay),
	))
	r.attempt++
	return delay
}

// WebsocketTransport implements Transport over a single websocket connection,
// multiplexing topics through subscribe/unsubscribe commands. Disconnects
// trigger reconnection with exponential backoff and a full resubscribe of
// every live topic.
type WebsocketTransport struct {
	url    string
	token  string
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	topics map[Topic]struct{}
	sink   Sink
	recon  reconnector
	closed bool
	cancel context.CancelFunc
}

// NewWebsocketTransport builds a transport for the given event stream URL.
func NewWebsocketTransport(url, token string, cfg ReconnectConfig, logger *slog.Logger) *WebsocketTransport {
	cfg.defaults()
	return &WebsocketTransport{
		url:    url,
		token:  token,
		logger: logger,
		topics: make(map[Topic]struct{}),
		recon:  reconnector{cfg: cfg},
	}
}

// Start dials the event stream and begins delivering envelopes to sink.
func (t *WebsocketTransport) Start(ctx context.Context, sink Sink) error {
	t.mu.Lock()
	t.sink = sink
	t.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	if err := t.dial(runCtx); err != nil {
		cancel()
		return err
	}
	go t.readLoop(runCtx)
	return nil
}

// Subscribe opens a topic on the wire. The topic is remembered so it is
// re-established after a reconnect.
func (t *WebsocketTransport) Subscribe(ctx context.Context, topic Topic) error {
	t.mu.Lock()
	t.topics[topic] = struct{}{}
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		// Not connected right now; the reconnect path will subscribe.
		return nil
	}
	if err := t.write(ctx, conn, wsCommand{Action: "subscribe", Topic: topic.String()}); err != nil {
		return err
	}
	t.notify(topic, StatusSubscribed)
	return nil
}

// Unsubscribe drops a topic from the wire and from the resubscribe set.
func (t *WebsocketTransport) Unsubscribe(ctx context.Context, topic Topic) error {
	t.mu.Lock()
	delete(t.topics, topic)
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return t.write(ctx, conn, wsCommand{Action: "unsubscribe", Topic: topic.String()})
}

// Publish sends an envelope upstream.
func (t *WebsocketTransport) Publish(ctx context.Context, env Envelope) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return errors.New("realtime: not connected")
	}
	return t.write(ctx, conn, wsCommand{Action: "publish", Envelope: &env})
}

// Close tears the connection down for good.
func (t *WebsocketTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client close")
	}
	return nil
}

func (t *WebsocketTransport) dial(ctx context.Context) error {
	url := t.url
	if t.token != "" {
		url += "?token=" + t.token
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	topics := make([]Topic, 0, len(t.topics))
	for topic := range t.topics {
		topics = append(topics, topic)
	}
	t.mu.Unlock()
	t.recon.markConnected()

	for _, topic := range topics {
		if err := t.write(ctx, conn, wsCommand{Action: "subscribe", Topic: topic.String()}); err != nil {
			return err
		}
		t.notify(topic, StatusSubscribed)
	}
	return nil
}

func (t *WebsocketTransport) readLoop(ctx context.Context) {
	for {
		t.mu.Lock()
		conn := t.conn
		closed := t.closed
		t.mu.Unlock()
		if closed || conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			t.handleDisconnect(ctx, err)
			return
		}

		var env Envelope
		if jsonErr := json.Unmarshal(data, &env); jsonErr != nil || env.Topic == "" {
			if t.logger != nil {
				t.logger.Warn("dropping malformed frame", "error", jsonErr)
			}
			continue
		}
		t.mu.Lock()
		sink := t.sink
		t.mu.Unlock()
		if sink != nil {
			sink.Deliver(env)
		}
	}
}

func (t *WebsocketTransport) handleDisconnect(ctx context.Context, cause error) {
	t.mu.Lock()
	closed := t.closed
	t.conn = nil
	t.mu.Unlock()
	if closed || ctx.Err() != nil {
		t.notifyAll(StatusClosed)
		return
	}

	status := StatusChannelError
	if errors.Is(cause, context.DeadlineExceeded) {
		status = StatusTimedOut
	}
	t.notifyAll(status)
	if t.logger != nil {
		t.logger.Warn("event stream disconnected", "error", cause)
	}

	for t.recon.shouldReconnect() {
		delay := t.recon.nextDelay()
		select {
		case <-ctx.Done():
			t.notifyAll(StatusClosed)
			return
		case <-time.After(delay):
		}
		if err := t.dial(ctx); err != nil {
			if t.logger != nil {
				t.logger.Warn("reconnect failed", "attempt", t.recon.attempt, "error", err)
			}
			continue
		}
		go t.readLoop(ctx)
		return
	}
	t.notifyAll(StatusClosed)
}

func (t *WebsocketTransport) write(ctx context.Context, conn *websocket.Conn, cmd wsCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

func (t *WebsocketTransport) notify(topic Topic, status ChannelStatus) {
	t.mu.Lock()
	sink := t.sink
	t.mu.Unlock()
	if sink != nil {
		sink.Status(topic, status)
	}
}

func (t *WebsocketTransport) notifyAll(status ChannelStatus) {
	t.mu.Lock()
	sink := t.sink
	topics := make([]Topic, 0, len(t.topics))
	for topic := range t.topics {
		topics = append(topics, topic)
	}
	t.mu.Unlock()
	if sink == nil {
		return
	}
	for _, topic := range topics {
		sink.Status(topic, status)
	}
}
