// Package model defines the canonical entities the rest of the application
// works with. Raw proxy payloads are converted into these types by
// internal/normalize; after normalization no field is ever nil where a
// default is documented.
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Conversation statuses recognized by the upstream platform.
const (
	StatusOpen     = "open"
	StatusPending  = "pending"
	StatusResolved = "resolved"
)

// KnownStatus reports whether s is one of the three recognized statuses.
func KnownStatus(s string) bool {
	return s == StatusOpen || s == StatusPending || s == StatusResolved
}

// SenderType classifies who authored a message. It decides the display mode:
// customer messages are left-aligned, agent messages right-aligned, system
// notices centered.
type SenderType int

const (
	SenderSystem SenderType = iota
	SenderCustomer
	SenderAgent
)

func (s SenderType) String() string {
	switch s {
	case SenderCustomer:
		return "customer"
	case SenderAgent:
		return "agent"
	default:
		return "system"
	}
}

// MarshalJSON renders the classification as its display string.
func (s SenderType) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the display strings produced by MarshalJSON.
func (s *SenderType) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch v {
	case "customer":
		*s = SenderCustomer
	case "agent":
		*s = SenderAgent
	default:
		*s = SenderSystem
	}
	return nil
}

// FlexInt handles JSON numbers that may come as strings or integers.
type FlexInt int

func (fi *FlexInt) UnmarshalJSON(data []byte) error {
	var i int
	if err := json.Unmarshal(data, &i); err == nil {
		*fi = FlexInt(i)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" {
			*fi = 0
			return nil
		}
		i, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*fi = FlexInt(i)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into FlexInt", data)
}

// FlexTime handles timestamps that arrive as unix seconds, unix float
// seconds, or RFC3339 strings. The upstream proxy is not consistent about
// which it sends.
type FlexTime struct {
	time.Time
}

func (ft *FlexTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		ft.Time = time.Time{}
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err == nil {
		if secs > 0 {
			ft.Time = time.Unix(int64(secs), 0).UTC()
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("cannot unmarshal %s into FlexTime", data)
	}
	if s == "" {
		ft.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			ft.Time = t.UTC()
			return nil
		}
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		ft.Time = time.Unix(int64(secs), 0).UTC()
		return nil
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

func (ft FlexTime) MarshalJSON() ([]byte, error) {
	if ft.Time.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ft.Time.Format(time.RFC3339))
}

// ContactRef is the customer side of a conversation.
type ContactRef struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Phone  string `json:"phone_number,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// AgentRef is the assignee side of a conversation.
type AgentRef struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// InboxRef identifies the channel a conversation arrived on.
type InboxRef struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	ChannelType string `json:"channel_type"`
}

// Attachment is a file attached to a message.
type Attachment struct {
	ID       int    `json:"id"`
	FileType string `json:"file_type,omitempty"`
	DataURL  string `json:"data_url,omitempty"`
	ThumbURL string `json:"thumb_url,omitempty"`
}

// Message is a single utterance within a conversation. Messages are immutable
// once created; the only local mutation is the optimistic append of an
// outgoing message ahead of server confirmation.
type Message struct {
	ID             int          `json:"id"`
	ConversationID int          `json:"conversation_id"`
	Content        string       `json:"content"`
	Sender         SenderType   `json:"sender_type"`
	SenderID       int          `json:"sender_id,omitempty"`
	SenderName     string       `json:"sender_name,omitempty"`
	CreatedAt      FlexTime     `json:"created_at"`
	Attachments    []Attachment `json:"attachments"`
	Pending        bool         `json:"pending,omitempty"` // optimistic append not yet confirmed
}

// Conversation is a support thread. Invariants guaranteed by normalization:
// Messages and Labels are never nil, Status is one of the recognized values,
// UnreadCount is never negative.
type Conversation struct {
	ID             int       `json:"id"`
	AccountID      int       `json:"account_id"`
	Status         string    `json:"status"`
	UnreadCount    int       `json:"unread_count"`
	Inbox          InboxRef  `json:"inbox"`
	Assignee       *AgentRef `json:"assignee,omitempty"`
	Contact        ContactRef `json:"contact"`
	Messages       []Message `json:"messages"`
	Labels         []string  `json:"labels"`
	LastActivityAt FlexTime  `json:"last_activity_at"`
	CreatedAt      FlexTime  `json:"created_at"`
	UpdatedAt      FlexTime  `json:"updated_at"`
}

// AgentStats holds activity counters sourced from upstream. They are opaque
// display values, never computed locally.
type AgentStats struct {
	ConversationsToday int     `json:"conversations_today"`
	AvgResponseTime    string  `json:"avg_response_time"`
	ResolutionRate     float64 `json:"resolution_rate"`
	Rating             float64 `json:"rating"`
}

// Agent is a support staff member.
type Agent struct {
	ID           int        `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Phone        string     `json:"phone,omitempty"`
	Role         string     `json:"role"`
	Availability string     `json:"availability"`
	Teams        []string   `json:"teams"`
	Avatar       string     `json:"avatar,omitempty"`
	Stats        AgentStats `json:"stats"`
}

// Contact is a customer record.
type Contact struct {
	ID        int      `json:"id"`
	Name      string   `json:"name"`
	Email     string   `json:"email,omitempty"`
	Phone     string   `json:"phone_number,omitempty"`
	Avatar    string   `json:"avatar,omitempty"`
	Labels    []string `json:"labels"`
	CreatedAt FlexTime `json:"created_at"`
	UpdatedAt FlexTime `json:"updated_at"`
}

// Inbox is a channel configuration record.
type Inbox struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	ChannelType string `json:"channel_type"`
	WebsiteURL  string `json:"website_url,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
}

// ConversationCounts is the conversations/meta response.
type ConversationCounts struct {
	All      int `json:"all"`
	Open     int `json:"open"`
	Pending  int `json:"pending"`
	Resolved int `json:"resolved"`
	Snoozed  int `json:"snoozed"`
}
