package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Harelzx/skillup-messaging/internal/chat"
)

func newTestAPI(t *testing.T) (*API, http.Handler) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	api := &API{
		Store: NewMemoryStore(),
		Hub:   NewHub(nil, nil),
		NowFn: func() time.Time { return now },
	}
	return api, NewRouter("test", []string{"*"}, api)
}

func doRequest(t *testing.T, handler http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func createConversation(t *testing.T, handler http.Handler, initiator, counterparty string) chat.Conversation {
	t.Helper()
	rec := doRequest(t, handler, http.MethodPost, "/v1/conversations", initiator,
		`{"counterparty_id":"`+counterparty+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create conversation: status %d body %s", rec.Code, rec.Body.String())
	}
	var conv chat.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &conv); err != nil {
		t.Fatal(err)
	}
	return conv
}

func TestIdentityRequired(t *testing.T) {
	_, handler := newTestAPI(t)
	rec := doRequest(t, handler, http.MethodGet, "/v1/conversations", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", rec.Code)
	}
}

func TestConversationLifecycle(t *testing.T) {
	_, handler := newTestAPI(t)
	conv := createConversation(t, handler, "student-1", "tutor-1")
	if conv.ID == "" || conv.InitiatorID != "student-1" {
		t.Fatalf("unexpected conversation: %+v", conv)
	}

	// Duplicate pair is rejected, in either direction.
	rec := doRequest(t, handler, http.MethodPost, "/v1/conversations", "tutor-1",
		`{"counterparty_id":"student-1"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate pair, got %d", rec.Code)
	}

	// Both participants see the thread.
	for _, userID := range []string{"student-1", "tutor-1"} {
		rec := doRequest(t, handler, http.MethodGet, "/v1/conversations", userID, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("list as %s: status %d", userID, rec.Code)
		}
		var resp struct {
			Items []chat.Conversation `json:"items"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if len(resp.Items) != 1 || resp.Items[0].ID != conv.ID {
			t.Fatalf("list as %s: %+v", userID, resp.Items)
		}
	}
}

func TestSendAndListMessages(t *testing.T) {
	_, handler := newTestAPI(t)
	conv := createConversation(t, handler, "student-1", "tutor-1")

	rec := doRequest(t, handler, http.MethodPost, "/v1/conversations/"+conv.ID+"/messages",
		"student-1", `{"content":"hello"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("send: status %d body %s", rec.Code, rec.Body.String())
	}
	var msg chat.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.ID == "" {
		t.Fatal("server must assign the message id")
	}

	rec = doRequest(t, handler, http.MethodGet, "/v1/conversations/"+conv.ID+"/messages", "tutor-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	var page struct {
		Items   []chat.Message `json:"items"`
		Total   int            `json:"total"`
		HasMore bool           `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].Content != "hello" || page.HasMore {
		t.Fatalf("unexpected page: %+v", page)
	}

	// Unread badge shows up for the recipient only.
	rec = doRequest(t, handler, http.MethodGet, "/v1/conversations", "tutor-1", "")
	var inbox struct {
		Items []chat.Conversation `json:"items"`
	}
	json.Unmarshal(rec.Body.Bytes(), &inbox)
	if inbox.Items[0].UnreadCount != 1 {
		t.Fatalf("expected unread 1 for recipient, got %d", inbox.Items[0].UnreadCount)
	}
	rec = doRequest(t, handler, http.MethodGet, "/v1/conversations", "student-1", "")
	json.Unmarshal(rec.Body.Bytes(), &inbox)
	if inbox.Items[0].UnreadCount != 0 {
		t.Fatalf("sender must not see own message as unread, got %d", inbox.Items[0].UnreadCount)
	}
}

func TestSendValidation(t *testing.T) {
	_, handler := newTestAPI(t)
	conv := createConversation(t, handler, "student-1", "tutor-1")

	rec := doRequest(t, handler, http.MethodPost, "/v1/conversations/"+conv.ID+"/messages",
		"student-1", `{"content":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank content, got %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPost, "/v1/conversations/"+conv.ID+"/messages",
		"stranger", `{"content":"hi"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-participant, got %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPost, "/v1/conversations/ghost/messages",
		"student-1", `{"content":"hi"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown conversation, got %d", rec.Code)
	}
}

func TestMarkRead(t *testing.T) {
	_, handler := newTestAPI(t)
	conv := createConversation(t, handler, "student-1", "tutor-1")

	for _, content := range []string{"one", "two"} {
		rec := doRequest(t, handler, http.MethodPost, "/v1/conversations/"+conv.ID+"/messages",
			"student-1", `{"content":"`+content+`"}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("send: status %d", rec.Code)
		}
	}

	rec := doRequest(t, handler, http.MethodPost, "/v1/conversations/"+conv.ID+"/read", "tutor-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("mark read: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Updated int `json:"updated"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Updated != 2 {
		t.Fatalf("expected 2 receipts, got %d", resp.Updated)
	}

	// Idempotent: nothing left to flag.
	rec = doRequest(t, handler, http.MethodPost, "/v1/conversations/"+conv.ID+"/read", "tutor-1", "")
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Updated != 0 {
		t.Fatalf("second mark read must be a no-op, got %d", resp.Updated)
	}

	rec = doRequest(t, handler, http.MethodGet, "/v1/conversations", "tutor-1", "")
	var inbox struct {
		Items []chat.Conversation `json:"items"`
	}
	json.Unmarshal(rec.Body.Bytes(), &inbox)
	if inbox.Items[0].UnreadCount != 0 {
		t.Fatalf("expected unread 0 after read, got %d", inbox.Items[0].UnreadCount)
	}
}

func TestMessagePagination(t *testing.T) {
	_, handler := newTestAPI(t)
	conv := createConversation(t, handler, "student-1", "tutor-1")
	for _, content := range []string{"a", "b", "c"} {
		doRequest(t, handler, http.MethodPost, "/v1/conversations/"+conv.ID+"/messages",
			"student-1", `{"content":"`+content+`"}`)
	}

	rec := doRequest(t, handler, http.MethodGet,
		"/v1/conversations/"+conv.ID+"/messages?limit=2&offset=0", "student-1", "")
	var page struct {
		Items   []chat.Message `json:"items"`
		Total   int            `json:"total"`
		HasMore bool           `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || page.Total != 3 || !page.HasMore {
		t.Fatalf("unexpected first page: %+v", page)
	}

	rec = doRequest(t, handler, http.MethodGet,
		"/v1/conversations/"+conv.ID+"/messages?limit=2&offset=2", "student-1", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.HasMore {
		t.Fatalf("unexpected last page: %+v", page)
	}
}
