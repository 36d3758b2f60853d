package server

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Harelzx/skillup-messaging/internal/chat"
)

// MongoStore persists conversations and messages in two collections.
type MongoStore struct {
	conversations *mongo.Collection
	messages      *mongo.Collection
}

// NewMongoStore connects to uri and targets database.
func NewMongoStore(uri, database string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	opts := options.Client().ApplyURI(uri).SetRetryWrites(true)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	db := client.Database(database)
	return &MongoStore{
		conversations: db.Collection("conversations"),
		messages:      db.Collection("messages"),
	}, nil
}

// Ping checks the server connection.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.conversations.Database().Client().Ping(ctx, nil)
}

// Conversations returns the user's threads, most recent first.
func (s *MongoStore) Conversations(ctx context.Context, userID string) ([]chat.Conversation, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"initiator_id": userID},
		bson.M{"counterparty_id": userID},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "last_message_at", Value: -1}})
	cursor, err := s.conversations.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []chat.Conversation
	for cursor.Next(ctx) {
		var doc conversationDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		conv := doc.toConversation()
		unread, err := s.unreadCount(ctx, conv.ID, userID)
		if err != nil {
			return nil, err
		}
		conv.UnreadCount = unread
		out = append(out, conv)
	}
	return out, cursor.Err()
}

// ConversationByID returns one thread or ErrConversationNotFound.
func (s *MongoStore) ConversationByID(ctx context.Context, id string) (chat.Conversation, error) {
	var doc conversationDocument
	err := s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return chat.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return chat.Conversation{}, err
	}
	return doc.toConversation(), nil
}

// CreateConversation inserts a new thread unless the pair already has one.
func (s *MongoStore) CreateConversation(ctx context.Context, conv chat.Conversation) error {
	pair := bson.A{conv.InitiatorID, conv.CounterpartyID}
	count, err := s.conversations.CountDocuments(ctx, bson.M{
		"initiator_id":    bson.M{"$in": pair},
		"counterparty_id": bson.M{"$in": pair},
	})
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrConversationExists
	}
	_, err = s.conversations.InsertOne(ctx, newConversationDocument(conv))
	if mongo.IsDuplicateKeyError(err) {
		return ErrConversationExists
	}
	return err
}

// Messages returns one page ordered oldest first, plus the total count.
func (s *MongoStore) Messages(ctx context.Context, conversationID string, limit, offset int) ([]chat.Message, int, error) {
	if _, err := s.ConversationByID(ctx, conversationID); err != nil {
		return nil, 0, err
	}
	filter := bson.M{"conversation_id": conversationID}
	total, err := s.messages.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetSkip(int64(offset))
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cursor.Close(ctx)

	page := make([]chat.Message, 0, limit)
	for cursor.Next(ctx) {
		var doc messageDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, 0, err
		}
		page = append(page, doc.toMessage())
	}
	return page, int(total), cursor.Err()
}

// AppendMessage stores a message and bumps the thread's recency metadata.
func (s *MongoStore) AppendMessage(ctx context.Context, msg chat.Message) error {
	if _, err := s.messages.InsertOne(ctx, newMessageDocument(msg)); err != nil {
		return err
	}
	update := bson.M{"$set": bson.M{
		"last_message_at":      msg.CreatedAt.UnixMilli(),
		"last_message_preview": chat.Preview(msg.Content),
		"last_message_sender":  msg.SenderID,
		"updated_at":           msg.CreatedAt.UnixMilli(),
	}}
	res, err := s.conversations.UpdateOne(ctx, bson.M{"_id": msg.ConversationID}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// MarkRead flags every message addressed to readerID as read and returns the
// ones that changed.
func (s *MongoStore) MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) ([]chat.Message, error) {
	filter := bson.M{
		"conversation_id": conversationID,
		"sender_id":       bson.M{"$ne": readerID},
		"is_read":         false,
	}
	cursor, err := s.messages.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	var changed []chat.Message
	for cursor.Next(ctx) {
		var doc messageDocument
		if err := cursor.Decode(&doc); err != nil {
			cursor.Close(ctx)
			return nil, err
		}
		msg := doc.toMessage()
		readAt := at
		msg.IsRead = true
		msg.ReadAt = &readAt
		changed = append(changed, msg)
	}
	if err := cursor.Err(); err != nil {
		cursor.Close(ctx)
		return nil, err
	}
	cursor.Close(ctx)

	_, err = s.messages.UpdateMany(ctx, filter, bson.M{"$set": bson.M{
		"is_read": true,
		"read_at": at.UnixMilli(),
	}})
	return changed, err
}

func (s *MongoStore) unreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	count, err := s.messages.CountDocuments(ctx, bson.M{
		"conversation_id": conversationID,
		"sender_id":       bson.M{"$ne": userID},
		"is_read":         false,
	})
	return int(count), err
}

type conversationDocument struct {
	ID                 string `bson:"_id"`
	InitiatorID        string `bson:"initiator_id"`
	CounterpartyID     string `bson:"counterparty_id"`
	LastMessageAt      int64  `bson:"last_message_at"`
	LastMessagePreview string `bson:"last_message_preview"`
	LastMessageSender  string `bson:"last_message_sender"`
	UpdatedAt          int64  `bson:"updated_at"`
}

func newConversationDocument(c chat.Conversation) conversationDocument {
	return conversationDocument{
		ID:                 c.ID,
		InitiatorID:        c.InitiatorID,
		CounterpartyID:     c.CounterpartyID,
		LastMessageAt:      c.LastMessageAt.UnixMilli(),
		LastMessagePreview: c.LastMessagePreview,
		LastMessageSender:  c.LastMessageSender,
		UpdatedAt:          c.UpdatedAt.UnixMilli(),
	}
}

func (d conversationDocument) toConversation() chat.Conversation {
	return chat.Conversation{
		ID:                 d.ID,
		InitiatorID:        d.InitiatorID,
		CounterpartyID:     d.CounterpartyID,
		LastMessageAt:      timestampToTime(d.LastMessageAt),
		LastMessagePreview: d.LastMessagePreview,
		LastMessageSender:  d.LastMessageSender,
		UpdatedAt:          timestampToTime(d.UpdatedAt),
	}
}

type messageDocument struct {
	ID             string `bson:"_id"`
	ConversationID string `bson:"conversation_id"`
	SenderID       string `bson:"sender_id"`
	Content        string `bson:"content"`
	CreatedAt      int64  `bson:"created_at"`
	IsRead         bool   `bson:"is_read"`
	ReadAt         int64  `bson:"read_at,omitempty"`
}

func newMessageDocument(m chat.Message) messageDocument {
	doc := messageDocument{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt.UnixMilli(),
		IsRead:         m.IsRead,
	}
	if m.ReadAt != nil {
		doc.ReadAt = m.ReadAt.UnixMilli()
	}
	return doc
}

func (d messageDocument) toMessage() chat.Message {
	msg := chat.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Content:        d.Content,
		CreatedAt:      timestampToTime(d.CreatedAt),
		IsRead:         d.IsRead,
	}
	if d.ReadAt != 0 {
		readAt := timestampToTime(d.ReadAt)
		msg.ReadAt = &readAt
	}
	return msg
}

func timestampToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

var _ Store = (*MongoStore)(nil)
