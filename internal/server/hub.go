package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/Harelzx/skillup-messaging/internal/realtime"
)

// command is the client-to-server websocket frame.
type command struct {
	Action   string             `json:"action"` // subscribe | unsubscribe | publish
	Topic    string             `json:"topic,omitempty"`
	Envelope *realtime.Envelope `json:"envelope,omitempty"`
}

// Hub fans change-event envelopes out to websocket subscribers, keyed by
// topic. When a Kafka producer is attached every broadcast is mirrored onto
// the broker so headless consumers see the same stream.
type Hub struct {
	logger   *slog.Logger
	producer *realtime.Producer

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	topics  map[string]map[*hubClient]struct{}
}

// NewHub builds a hub. producer may be nil.
func NewHub(producer *realtime.Producer, logger *slog.Logger) *Hub {
	return &Hub{
		logger:   logger,
		producer: producer,
		clients:  make(map[*hubClient]struct{}),
		topics:   make(map[string]map[*hubClient]struct{}),
	}
}

// Broadcast pushes an envelope to every subscriber of its topic.
func (h *Hub) Broadcast(env realtime.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	h.mu.Lock()
	subscribers := make([]*hubClient, 0, len(h.topics[env.Topic]))
	for client := range h.topics[env.Topic] {
		subscribers = append(subscribers, client)
	}
	h.mu.Unlock()

	for _, client := range subscribers {
		select {
		case client.send <- data:
		default:
			// Slow consumer; drop the frame rather than block the hub.
			if h.logger != nil {
				h.logger.Warn("dropping frame for slow subscriber", "topic", env.Topic)
			}
		}
	}

	if h.producer != nil {
		if err := h.producer.Publish(env); err != nil && h.logger != nil {
			h.logger.Warn("kafka mirror failed", "topic", env.Topic, "error", err)
		}
	}
}

// ServeWS upgrades the request and runs the connection until it drops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("websocket accept failed", "error", err)
		}
		return
	}
	client := &hubClient{hub: h, conn: conn, send: make(chan []byte, 64)}
	h.register(client)

	ctx, cancel := context.WithCancel(r.Context())
	go client.writePump(ctx)
	client.readPump(ctx)
	cancel()
	h.unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) register(c *hubClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	for topic, subscribers := range h.topics {
		delete(subscribers, c)
		if len(subscribers) == 0 {
			delete(h.topics, topic)
		}
	}
	h.mu.Unlock()
	// The send channel is never closed: Broadcast may still hold a snapshot
	// of this client and a send on a closed channel would panic. After the
	// topic maps are cleared the channel just goes quiet.
}

func (h *Hub) subscribe(c *hubClient, topic string) {
	if _, err := realtime.ParseTopic(topic); err != nil {
		if h.logger != nil {
			h.logger.Warn("rejecting malformed topic", "topic", topic)
		}
		return
	}
	h.mu.Lock()
	subscribers, ok := h.topics[topic]
	if !ok {
		subscribers = make(map[*hubClient]struct{})
		h.topics[topic] = subscribers
	}
	subscribers[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unsubscribe(c *hubClient, topic string) {
	h.mu.Lock()
	if subscribers, ok := h.topics[topic]; ok {
		delete(subscribers, c)
		if len(subscribers) == 0 {
			delete(h.topics, topic)
		}
	}
	h.mu.Unlock()
}

type hubClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *hubClient) readPump(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}
		switch cmd.Action {
		case "subscribe":
			c.hub.subscribe(c, cmd.Topic)
		case "unsubscribe":
			c.hub.unsubscribe(c, cmd.Topic)
		case "publish":
			if cmd.Envelope != nil && cmd.Envelope.Topic != "" {
				c.hub.Broadcast(*cmd.Envelope)
			}
		}
	}
}

func (c *hubClient) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
