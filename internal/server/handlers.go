package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Harelzx/skillup-messaging/internal/chat"
	"github.com/Harelzx/skillup-messaging/internal/realtime"
)

// API exposes the chat REST surface and wires change events into the hub.
type API struct {
	Store  Store
	Hub    *Hub
	Logger *slog.Logger
	NowFn  func() time.Time
}

func (a *API) now() time.Time {
	if a.NowFn != nil {
		return a.NowFn()
	}
	return time.Now().UTC()
}

// NewRouter builds the gin engine with all chat routes mounted.
func NewRouter(env string, origins []string, api *API) *gin.Engine {
	configureGinMode(env)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID"},
		ExposeHeaders: []string{"Content-Length", "Content-Type"},
		MaxAge:        12 * time.Hour,
	}))

	router.GET("/healthz", api.Health)
	router.GET("/ws", func(c *gin.Context) {
		api.Hub.ServeWS(c.Writer, c.Request)
	})

	v1 := router.Group("/v1")
	v1.Use(requireUser())
	v1.GET("/conversations", api.ListConversations)
	v1.POST("/conversations", api.CreateConversation)
	v1.GET("/conversations/:id/messages", api.ListMessages)
	v1.POST("/conversations/:id/messages", api.SendMessage)
	v1.POST("/conversations/:id/read", api.MarkRead)
	return router
}

// requireUser resolves the caller identity from the X-User-ID header.
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader("X-User-ID"))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "X-User-ID is required"})
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString("user_id")
}

// Health reports store reachability.
func (a *API) Health(c *gin.Context) {
	if err := a.Store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListConversations returns the caller's threads, most recent first.
func (a *API) ListConversations(c *gin.Context) {
	userID := currentUser(c)
	if filter := strings.TrimSpace(c.Query("user_id")); filter != "" {
		userID = filter
	}
	conversations, err := a.Store.Conversations(c.Request.Context(), userID)
	if err != nil {
		a.respondStoreError(c, err, "list conversations")
		return
	}
	if conversations == nil {
		conversations = []chat.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"items": conversations})
}

// CreateConversation starts a thread between the caller and a counterparty.
func (a *API) CreateConversation(c *gin.Context) {
	var req struct {
		CounterpartyID string `json:"counterparty_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.CounterpartyID = strings.TrimSpace(req.CounterpartyID)
	userID := currentUser(c)
	if req.CounterpartyID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "counterparty_id is required"})
		return
	}
	if req.CounterpartyID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot start chat with yourself"})
		return
	}

	now := a.now()
	conv := chat.Conversation{
		ID:             uuid.NewString(),
		InitiatorID:    userID,
		CounterpartyID: req.CounterpartyID,
		UpdatedAt:      now,
	}
	if err := a.Store.CreateConversation(c.Request.Context(), conv); err != nil {
		if errors.Is(err, ErrConversationExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "conversation already exists"})
			return
		}
		a.respondStoreError(c, err, "create conversation")
		return
	}
	a.broadcastConversation(conv)
	c.JSON(http.StatusCreated, conv)
}

// ListMessages returns one page of a thread the caller participates in.
func (a *API) ListMessages(c *gin.Context) {
	conv, ok := a.requireParticipant(c)
	if !ok {
		return
	}
	limit := parsePositiveInt(c.Query("limit"), 50)
	offset := parseNonNegativeInt(c.Query("offset"), 0)

	page, total, err := a.Store.Messages(c.Request.Context(), conv.ID, limit, offset)
	if err != nil {
		a.respondStoreError(c, err, "list messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items":    page,
		"total":    total,
		"has_more": offset+len(page) < total,
	})
}

// SendMessage appends a message and pushes the insert to subscribers.
func (a *API) SendMessage(c *gin.Context) {
	conv, ok := a.requireParticipant(c)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	msg := chat.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       currentUser(c),
		Content:        req.Content,
		CreatedAt:      a.now(),
	}
	if err := a.Store.AppendMessage(c.Request.Context(), msg); err != nil {
		a.respondStoreError(c, err, "send message")
		return
	}

	a.broadcastMessage(realtime.Topic{Kind: realtime.TopicMessages, ID: conv.ID}, realtime.EventInsert, msg)
	// The counterpart follows its user-scoped topic even with the thread
	// closed; that is what drives the unread badge.
	a.broadcastMessage(realtime.Topic{Kind: realtime.TopicConversations, ID: conv.Counterpart(msg.SenderID)}, realtime.EventInsert, msg)
	c.JSON(http.StatusCreated, msg)
}

// MarkRead flags the counterpart's messages read and pushes the receipts.
func (a *API) MarkRead(c *gin.Context) {
	conv, ok := a.requireParticipant(c)
	if !ok {
		return
	}
	readAt := a.now()
	changed, err := a.Store.MarkRead(c.Request.Context(), conv.ID, currentUser(c), readAt)
	if err != nil {
		a.respondStoreError(c, err, "mark read")
		return
	}
	topic := realtime.Topic{Kind: realtime.TopicMessages, ID: conv.ID}
	for _, msg := range changed {
		a.broadcastMessage(topic, realtime.EventUpdate, msg)
	}
	c.JSON(http.StatusOK, gin.H{"read_at": readAt, "updated": len(changed)})
}

func (a *API) requireParticipant(c *gin.Context) (chat.Conversation, bool) {
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id is required"})
		return chat.Conversation{}, false
	}
	conv, err := a.Store.ConversationByID(c.Request.Context(), conversationID)
	if err != nil {
		a.respondStoreError(c, err, "load conversation")
		return chat.Conversation{}, false
	}
	if !conv.HasParticipant(currentUser(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a chat participant"})
		return chat.Conversation{}, false
	}
	return conv, true
}

func (a *API) broadcastMessage(topic realtime.Topic, event string, msg chat.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	a.Hub.Broadcast(realtime.Envelope{
		Topic: topic.String(),
		Table: "messages",
		Event: event,
		New:   payload,
	})
}

func (a *API) broadcastConversation(conv chat.Conversation) {
	payload, err := json.Marshal(conv)
	if err != nil {
		return
	}
	for _, userID := range []string{conv.InitiatorID, conv.CounterpartyID} {
		a.Hub.Broadcast(realtime.Envelope{
			Topic: realtime.Topic{Kind: realtime.TopicConversations, ID: userID}.String(),
			Table: "conversations",
			Event: realtime.EventInsert,
			New:   payload,
		})
	}
}

func (a *API) respondStoreError(c *gin.Context, err error, action string) {
	if errors.Is(err, ErrConversationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	if a.Logger != nil {
		a.Logger.Error("store call failed", "action", action, "error", err)
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func configureGinMode(env string) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test", "testing":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
}

func parsePositiveInt(raw string, def int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return def
	}
	return value
}

func parseNonNegativeInt(raw string, def int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value < 0 {
		return def
	}
	return value
}
