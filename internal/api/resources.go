package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// ConversationFilters narrows the conversations listing. Zero values mean
// "no filter". Status "all" is treated the same as empty.
type ConversationFilters struct {
	Status     string
	AssigneeID int
	InboxID    int
}

func (f ConversationFilters) values() url.Values {
	query := url.Values{}
	if f.Status != "" && f.Status != "all" {
		query.Set("status", f.Status)
	}
	if f.AssigneeID > 0 {
		query.Set("assignee_id", strconv.Itoa(f.AssigneeID))
	}
	if f.InboxID > 0 {
		query.Set("inbox_id", strconv.Itoa(f.InboxID))
	}
	return query
}

// ListConversations fetches the raw conversation collection. The payload may
// be a bare array or nested under data/payload; callers hand it to
// normalize.ExtractPayload.
func (c *Client) ListConversations(ctx context.Context, filters ConversationFilters) (json.RawMessage, error) {
	return c.call(ctx, http.MethodGet, "conversations", filters.values(), nil)
}

// ListMessages fetches the raw message list for a conversation.
func (c *Client) ListMessages(ctx context.Context, conversationID int) (json.RawMessage, error) {
	return c.call(ctx, http.MethodGet, fmt.Sprintf("conversations/%d/messages", conversationID), nil, nil)
}

// ListAgents fetches the raw agent list.
func (c *Client) ListAgents(ctx context.Context) (json.RawMessage, error) {
	return c.call(ctx, http.MethodGet, "agents", nil, nil)
}

// ListContacts fetches the raw contact list.
func (c *Client) ListContacts(ctx context.Context) (json.RawMessage, error) {
	return c.call(ctx, http.MethodGet, "contacts", nil, nil)
}

// ListInboxes fetches the raw inbox list.
func (c *Client) ListInboxes(ctx context.Context) (json.RawMessage, error) {
	return c.call(ctx, http.MethodGet, "inboxes", nil, nil)
}

// ConversationCounts fetches per-status conversation totals from the meta
// endpoint.
func (c *Client) ConversationCounts(ctx context.Context, status string) (json.RawMessage, error) {
	query := url.Values{}
	if status == "" {
		status = "all"
	}
	query.Set("status", status)
	return c.call(ctx, http.MethodGet, "conversations/meta", query, nil)
}

// SendMessageRequest is the outgoing-message write payload.
type SendMessageRequest struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type,omitempty"`
	Private     bool   `json:"private,omitempty"`
}

// SendMessage posts a new outgoing message to a conversation and returns the
// created record in the proxy's uncertain-shape envelope.
func (c *Client) SendMessage(ctx context.Context, conversationID int, req SendMessageRequest) (json.RawMessage, error) {
	return c.call(ctx, http.MethodPost, fmt.Sprintf("conversations/%d/messages", conversationID), nil, req)
}

// UpdateConversationStatus patches a conversation's status.
func (c *Client) UpdateConversationStatus(ctx context.Context, conversationID int, status string) (json.RawMessage, error) {
	body := map[string]string{"status": status}
	return c.call(ctx, http.MethodPatch, fmt.Sprintf("conversations/%d", conversationID), nil, body)
}

// AssignConversation assigns a conversation to an agent. assigneeID 0 clears
// the assignment.
func (c *Client) AssignConversation(ctx context.Context, conversationID, assigneeID int) (json.RawMessage, error) {
	body := map[string]any{"assignee_id": nil}
	if assigneeID > 0 {
		body["assignee_id"] = assigneeID
	}
	return c.call(ctx, http.MethodPost, fmt.Sprintf("conversations/%d/assignments", conversationID), nil, body)
}

// AddLabels adds labels to a conversation.
func (c *Client) AddLabels(ctx context.Context, conversationID int, labels []string) (json.RawMessage, error) {
	body := map[string][]string{"labels": labels}
	return c.call(ctx, http.MethodPost, fmt.Sprintf("conversations/%d/labels", conversationID), nil, body)
}

// MarkRead marks all messages in a conversation as seen by the agent.
func (c *Client) MarkRead(ctx context.Context, conversationID int) error {
	_, err := c.call(ctx, http.MethodPost, fmt.Sprintf("conversations/%d/update_last_seen", conversationID), nil, nil)
	return err
}

// CreateAgentRequest is the new-agent write payload.
type CreateAgentRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

// CreateAgent creates a support agent upstream.
func (c *Client) CreateAgent(ctx context.Context, req CreateAgentRequest) (json.RawMessage, error) {
	return c.call(ctx, http.MethodPost, "agents", nil, req)
}

// UpdateAgent patches an agent record.
func (c *Client) UpdateAgent(ctx context.Context, agentID int, fields map[string]any) (json.RawMessage, error) {
	return c.call(ctx, http.MethodPatch, fmt.Sprintf("agents/%d", agentID), nil, fields)
}

// CreateContactRequest is the new-contact write payload.
type CreateContactRequest struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone_number,omitempty"`
}

// CreateContact creates a contact upstream.
func (c *Client) CreateContact(ctx context.Context, req CreateContactRequest) (json.RawMessage, error) {
	return c.call(ctx, http.MethodPost, "contacts", nil, req)
}

// UpdateContact patches a contact record.
func (c *Client) UpdateContact(ctx context.Context, contactID int, fields map[string]any) (json.RawMessage, error) {
	return c.call(ctx, http.MethodPatch, fmt.Sprintf("contacts/%d", contactID), nil, fields)
}
