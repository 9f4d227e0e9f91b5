package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

type capturedRequest struct {
	Method   string
	Endpoint string
	Query    map[string]string
	Body     map[string]any
}

// newCaptureServer records the last proxied request and answers with a
// success envelope around the given data.
func newCaptureServer(t *testing.T, data string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Method = r.Method
		captured.Endpoint = r.URL.Query().Get("endpoint")
		captured.Query = map[string]string{}
		for key := range r.URL.Query() {
			captured.Query[key] = r.URL.Query().Get(key)
		}
		captured.Body = nil
		if raw, err := io.ReadAll(r.Body); err == nil && len(raw) > 0 {
			_ = json.Unmarshal(raw, &captured.Body)
		}
		_, _ = w.Write([]byte(`{"success": true, "data": ` + data + `}`))
	}))
	return server, captured
}

func TestListConversationsFilters(t *testing.T) {
	tests := []struct {
		name     string
		filters  ConversationFilters
		expected map[string]string
		absent   []string
	}{
		{
			name:     "no filters",
			filters:  ConversationFilters{},
			expected: map[string]string{"endpoint": "conversations"},
			absent:   []string{"status", "assignee_id", "inbox_id"},
		},
		{
			name:     "status all is dropped",
			filters:  ConversationFilters{Status: "all"},
			absent:   []string{"status"},
			expected: map[string]string{"endpoint": "conversations"},
		},
		{
			name:    "all filters",
			filters: ConversationFilters{Status: "open", AssigneeID: 4, InboxID: 2},
			expected: map[string]string{
				"status":      "open",
				"assignee_id": "4",
				"inbox_id":    "2",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, captured := newCaptureServer(t, `[]`)
			defer server.Close()
			client := New(server.URL, "token", 3)

			if _, err := client.ListConversations(context.Background(), tt.filters); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			for key, want := range tt.expected {
				if got := captured.Query[key]; got != want {
					t.Errorf("Query %s = %q, want %q", key, got, want)
				}
			}
			for _, key := range tt.absent {
				if got, ok := captured.Query[key]; ok {
					t.Errorf("Query %s should be absent, got %q", key, got)
				}
			}
		})
	}
}

func TestListMessages(t *testing.T) {
	server, captured := newCaptureServer(t, `{"payload": []}`)
	defer server.Close()
	client := New(server.URL, "token", 3)

	if _, err := client.ListMessages(context.Background(), 17); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if captured.Endpoint != "conversations/17/messages" {
		t.Errorf("Endpoint = %q", captured.Endpoint)
	}
	if captured.Method != http.MethodGet {
		t.Errorf("Method = %q", captured.Method)
	}
}

func TestConversationCountsDefaultsStatus(t *testing.T) {
	server, captured := newCaptureServer(t, `{"all": 10, "open": 4}`)
	defer server.Close()
	client := New(server.URL, "token", 3)

	if _, err := client.ConversationCounts(context.Background(), ""); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if captured.Endpoint != "conversations/meta" {
		t.Errorf("Endpoint = %q", captured.Endpoint)
	}
	if captured.Query["status"] != "all" {
		t.Errorf("Expected status defaulted to all, got %q", captured.Query["status"])
	}
}

func TestSendMessage(t *testing.T) {
	server, captured := newCaptureServer(t, `{"id": 99}`)
	defer server.Close()
	client := New(server.URL, "token", 3)

	req := SendMessageRequest{Content: "hello", MessageType: "outgoing"}
	if _, err := client.SendMessage(context.Background(), 8, req); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if captured.Method != http.MethodPost {
		t.Errorf("Method = %q", captured.Method)
	}
	if captured.Endpoint != "conversations/8/messages" {
		t.Errorf("Endpoint = %q", captured.Endpoint)
	}
	if captured.Body["content"] != "hello" {
		t.Errorf("Body content = %v", captured.Body["content"])
	}
	if captured.Body["message_type"] != "outgoing" {
		t.Errorf("Body message_type = %v", captured.Body["message_type"])
	}
}

func TestUpdateConversationStatus(t *testing.T) {
	server, captured := newCaptureServer(t, `{"id": 8, "status": "resolved"}`)
	defer server.Close()
	client := New(server.URL, "token", 3)

	if _, err := client.UpdateConversationStatus(context.Background(), 8, "resolved"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if captured.Method != http.MethodPatch {
		t.Errorf("Method = %q", captured.Method)
	}
	if captured.Endpoint != "conversations/8" {
		t.Errorf("Endpoint = %q", captured.Endpoint)
	}
	if captured.Body["status"] != "resolved" {
		t.Errorf("Body status = %v", captured.Body["status"])
	}
}

func TestAssignConversation(t *testing.T) {
	server, captured := newCaptureServer(t, `{}`)
	defer server.Close()
	client := New(server.URL, "token", 3)

	if _, err := client.AssignConversation(context.Background(), 8, 12); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if captured.Endpoint != "conversations/8/assignments" {
		t.Errorf("Endpoint = %q", captured.Endpoint)
	}
	if got := captured.Body["assignee_id"]; got != float64(12) {
		t.Errorf("Body assignee_id = %v", got)
	}

	// Unassign sends an explicit null.
	if _, err := client.AssignConversation(context.Background(), 8, 0); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got, ok := captured.Body["assignee_id"]; !ok || got != nil {
		t.Errorf("Expected assignee_id null, got %v (present=%v)", got, ok)
	}
}

func TestAddLabels(t *testing.T) {
	server, captured := newCaptureServer(t, `{"payload": ["vip", "billing"]}`)
	defer server.Close()
	client := New(server.URL, "token", 3)

	if _, err := client.AddLabels(context.Background(), 8, []string{"vip", "billing"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if captured.Endpoint != "conversations/8/labels" {
		t.Errorf("Endpoint = %q", captured.Endpoint)
	}
	labels, ok := captured.Body["labels"].([]any)
	if !ok || len(labels) != 2 {
		t.Errorf("Body labels = %v", captured.Body["labels"])
	}
}

func TestMarkRead(t *testing.T) {
	server, captured := newCaptureServer(t, `{}`)
	defer server.Close()
	client := New(server.URL, "token", 3)

	if err := client.MarkRead(context.Background(), 8); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if captured.Method != http.MethodPost {
		t.Errorf("Method = %q", captured.Method)
	}
	if captured.Endpoint != "conversations/8/update_last_seen" {
		t.Errorf("Endpoint = %q", captured.Endpoint)
	}
}

func TestCreateAgent(t *testing.T) {
	server, captured := newCaptureServer(t, `{"id": 4}`)
	defer server.Close()
	client := New(server.URL, "token", 3)

	req := CreateAgentRequest{Name: "Dana", Email: "dana@example.com", Role: "administrator"}
	if _, err := client.CreateAgent(context.Background(), req); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if captured.Endpoint != "agents" {
		t.Errorf("Endpoint = %q", captured.Endpoint)
	}
	if captured.Body["email"] != "dana@example.com" {
		t.Errorf("Body email = %v", captured.Body["email"])
	}
}

func TestUpdateContact(t *testing.T) {
	server, captured := newCaptureServer(t, `{"id": 6}`)
	defer server.Close()
	client := New(server.URL, "token", 3)

	if _, err := client.UpdateContact(context.Background(), 6, map[string]any{"name": "New Name"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if captured.Method != http.MethodPatch {
		t.Errorf("Method = %q", captured.Method)
	}
	if captured.Endpoint != "contacts/6" {
		t.Errorf("Endpoint = %q", captured.Endpoint)
	}
}
