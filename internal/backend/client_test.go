package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Harelzx/skillup-messaging/internal/chat"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewClient(Config{
		BaseURL: server.URL,
		Token:   "test-token",
		UserID:  "student-1",
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func TestFetchMessages(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/conversations/conv-1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "50" {
			t.Errorf("expected limit=50, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("missing bearer token, got %q", got)
		}
		json.NewEncoder(w).Encode(MessagePage{
			Messages: []chat.Message{{ID: "m1", ConversationID: "conv-1", SenderID: "tutor-1", Content: "hi", CreatedAt: created}},
			Total:    1,
		})
	})

	page, err := client.FetchMessages(context.Background(), "conv-1", 50, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Messages) != 1 || page.Messages[0].ID != "m1" {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestFetchConversationsDefaultsToSelf(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("user_id"); got != "student-1" {
			t.Errorf("expected own user id, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"items": []chat.Conversation{{ID: "conv-1"}}})
	})

	conversations, err := client.FetchConversations(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(conversations) != 1 || conversations[0].ID != "conv-1" {
		t.Fatalf("unexpected conversations: %+v", conversations)
	}
}

func TestSendMessageRequiresServerID(t *testing.T) {
	t.Run("server assigns id", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["content"] != "hello" {
				t.Errorf("unexpected body: %v", body)
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(chat.Message{ID: "42", ConversationID: "conv-1", SenderID: "student-1", Content: "hello"})
		})
		msg, err := client.SendMessage(context.Background(), "conv-1", "hello")
		if err != nil {
			t.Fatal(err)
		}
		if msg.ID != "42" {
			t.Fatalf("expected server id 42, got %q", msg.ID)
		}
	})

	t.Run("missing id is an error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(chat.Message{Content: "hello"})
		})
		if _, err := client.SendMessage(context.Background(), "conv-1", "hello"); err == nil {
			t.Fatal("expected error for response without id")
		}
	})

	t.Run("blank content rejected locally", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("request must not reach the server")
		})
		if _, err := client.SendMessage(context.Background(), "conv-1", "   "); err == nil {
			t.Fatal("expected validation error")
		}
	})
}

func TestErrorMapping(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"conversation not found"}`, http.StatusNotFound)
		})
		_, err := client.FetchMessages(context.Background(), "ghost", 10, 0)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("server error is retryable", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
		})
		err := client.MarkConversationRead(context.Background(), "conv-1")
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got %v", err)
		}
		if !apiErr.Retryable() || apiErr.Message != "overloaded" {
			t.Fatalf("unexpected APIError: %+v", apiErr)
		}
	})

	t.Run("bad request is not retryable", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"content too long"}`, http.StatusBadRequest)
		})
		_, err := client.SendMessage(context.Background(), "conv-1", "x")
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Retryable() {
			t.Fatalf("expected non-retryable APIError, got %v", err)
		}
	})
}
