// Package normalize converts raw proxy payloads of uncertain shape into the
// canonical entities in internal/model.
//
// The upstream proxy has been observed to wrap its payload array four
// different ways and to move optional fields between locations from one
// deployment to the next. Rather than scattering per-field fallbacks across
// call sites, each entity declares an ordered list of candidate source paths
// per target field; a single generic resolver walks them, first non-empty
// value wins.
//
// Normalization never fails. A record that cannot be decoded produces a
// best-effort entity with defaults instead of being dropped, so the number
// of entities out always equals the number of records extracted.
package normalize

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/chathook/chathook-cli/internal/model"
)

// ExtractPayload resolves the payload array out of a raw proxy response.
// Resolution order, first match wins:
//
//  1. the value is already an array
//  2. data is an array
//  3. data.payload is an array
//  4. top-level payload is an array
//
// Anything else yields an empty slice and ok=false; the caller may log a
// warning but extraction itself never fails.
func ExtractPayload(raw json.RawMessage) ([]json.RawMessage, bool) {
	if isArray(raw) {
		var arr []json.RawMessage
		if json.Unmarshal(raw, &arr) == nil {
			return arr, true
		}
		return []json.RawMessage{}, false
	}

	var env struct {
		Data    json.RawMessage `json:"data"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &env); err == nil {
		if isArray(env.Data) {
			var arr []json.RawMessage
			if json.Unmarshal(env.Data, &arr) == nil {
				return arr, true
			}
		}
		if len(env.Data) > 0 {
			var inner struct {
				Payload json.RawMessage `json:"payload"`
			}
			if json.Unmarshal(env.Data, &inner) == nil && isArray(inner.Payload) {
				var arr []json.RawMessage
				if json.Unmarshal(inner.Payload, &arr) == nil {
					return arr, true
				}
			}
		}
		if isArray(env.Payload) {
			var arr []json.RawMessage
			if json.Unmarshal(env.Payload, &arr) == nil {
				return arr, true
			}
		}
	}
	return []json.RawMessage{}, false
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

// record is a decoded raw entity. lookup walks dotted paths ("meta.sender.name").
type record map[string]any

func decodeRecord(raw json.RawMessage) record {
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return record{}
	}
	return r
}

func (r record) lookup(path string) (any, bool) {
	var cur any = map[string]any(r)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// firstString returns the first non-empty string among the candidate paths.
// Empty string and absence are treated equivalently.
func (r record) firstString(paths ...string) string {
	for _, p := range paths {
		v, ok := r.lookup(p)
		if !ok {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// firstInt returns the first numeric value among the candidate paths.
// JSON numbers decode as float64; numeric strings are accepted too.
func (r record) firstInt(paths ...string) (int, bool) {
	for _, p := range paths {
		v, ok := r.lookup(p)
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int(n), true
		case string:
			var fi model.FlexInt
			if fi.UnmarshalJSON([]byte(`"`+n+`"`)) == nil && n != "" {
				return int(fi), true
			}
		}
	}
	return 0, false
}

// firstTime returns the first parseable timestamp among the candidate paths.
func (r record) firstTime(paths ...string) model.FlexTime {
	for _, p := range paths {
		v, ok := r.lookup(p)
		if !ok {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			continue
		}
		var ft model.FlexTime
		if ft.UnmarshalJSON(raw) == nil && !ft.IsZero() {
			return ft
		}
	}
	return model.FlexTime{}
}

// rawSlice returns the value at the first candidate path that is an array,
// re-encoded element by element. A non-array value yields nil.
func (r record) rawSlice(paths ...string) []json.RawMessage {
	for _, p := range paths {
		v, ok := r.lookup(p)
		if !ok {
			continue
		}
		items, ok := v.([]any)
		if !ok {
			continue
		}
		out := make([]json.RawMessage, 0, len(items))
		for _, item := range items {
			raw, err := json.Marshal(item)
			if err != nil {
				continue
			}
			out = append(out, raw)
		}
		return out
	}
	return nil
}

// stringSlice coerces the value at path to a []string, dropping non-string
// elements. Never returns nil.
func (r record) stringSlice(path string) []string {
	v, ok := r.lookup(path)
	if !ok {
		return []string{}
	}
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Observed alternate field locations per target field. These are the chains
// the upstream payloads have actually used; order matters.
var (
	contactIDPaths     = []string{"contact.id", "contact_id", "meta.sender.id"}
	contactNamePaths   = []string{"contact.name", "contact_name", "meta.sender.name"}
	contactEmailPaths  = []string{"contact.email", "contact_email", "meta.sender.email"}
	contactPhonePaths  = []string{"contact.phone_number", "contact_phone", "meta.sender.phone_number"}
	contactAvatarPaths = []string{"contact.avatar", "contact.thumbnail", "meta.sender.thumbnail"}
	lastActivityPaths  = []string{"last_activity_at", "updated_at", "created_at"}
	channelPaths       = []string{"inbox.channel_type", "meta.channel"}
)

// NormalizeConversation converts one raw conversation record into the
// canonical shape. Every documented default is applied: messages and labels
// are never nil, status falls back to "open", unread_count is clamped to
// non-negative.
func NormalizeConversation(raw json.RawMessage) model.Conversation {
	r := decodeRecord(raw)

	conv := model.Conversation{
		Messages: []model.Message{},
		Labels:   r.stringSlice("labels"),
		Status:   model.StatusOpen,
	}
	conv.ID, _ = r.firstInt("id")
	conv.AccountID, _ = r.firstInt("account_id")

	if status := r.firstString("status"); model.KnownStatus(status) {
		conv.Status = status
	}
	if unread, ok := r.firstInt("unread_count"); ok && unread > 0 {
		conv.UnreadCount = unread
	}

	conv.Contact = model.ContactRef{
		Name:   r.firstString(contactNamePaths...),
		Email:  r.firstString(contactEmailPaths...),
		Phone:  r.firstString(contactPhonePaths...),
		Avatar: r.firstString(contactAvatarPaths...),
	}
	conv.Contact.ID, _ = r.firstInt(contactIDPaths...)

	inboxID, _ := r.firstInt("inbox.id", "inbox_id")
	conv.Inbox = model.InboxRef{
		ID:          inboxID,
		Name:        r.firstString("inbox.name"),
		ChannelType: r.firstString(channelPaths...),
	}
	if conv.Inbox.Name == "" {
		conv.Inbox.Name = "Chat"
	}
	if conv.Inbox.ChannelType == "" {
		conv.Inbox.ChannelType = "webchat"
	}

	if id, ok := r.firstInt("assignee.id", "assignee_id"); ok && id > 0 {
		conv.Assignee = &model.AgentRef{
			ID:     id,
			Name:   r.firstString("assignee.name", "assignee.available_name"),
			Email:  r.firstString("assignee.email"),
			Avatar: r.firstString("assignee.avatar_url", "assignee.thumbnail"),
		}
	}

	conv.CreatedAt = r.firstTime("created_at")
	conv.UpdatedAt = r.firstTime("updated_at", "created_at")
	conv.LastActivityAt = r.firstTime(lastActivityPaths...)

	for _, rawMsg := range r.rawSlice("messages") {
		conv.Messages = append(conv.Messages, NormalizeMessage(rawMsg, conv.ID, nil))
	}

	return conv
}

// NormalizeConversations extracts and normalizes a whole collection. The
// returned slice always has exactly one entry per extracted record.
func NormalizeConversations(raw json.RawMessage) ([]model.Conversation, bool) {
	records, ok := ExtractPayload(raw)
	out := make([]model.Conversation, 0, len(records))
	for _, rec := range records {
		out = append(out, NormalizeConversation(rec))
	}
	return out, ok
}

// AgentLookup resolves a sender id to a display name. A nil lookup resolves
// nothing.
type AgentLookup func(id int) (model.Agent, bool)

// NormalizeMessage converts one raw message record. Sender classification:
// "User"/"contact" map to the customer mode, "Agent"/"agent" to the agent
// mode (name resolved via the lookup, then embedded sender data, then the
// literal "Agente"), anything else to the system mode.
func NormalizeMessage(raw json.RawMessage, conversationID int, agents AgentLookup) model.Message {
	r := decodeRecord(raw)

	msg := model.Message{
		ConversationID: conversationID,
		Content:        r.firstString("content"),
		Attachments:    []model.Attachment{},
		Sender:         model.SenderSystem,
	}
	msg.ID, _ = r.firstInt("id")
	if id, ok := r.firstInt("conversation_id"); ok && id > 0 {
		msg.ConversationID = id
	}
	msg.CreatedAt = r.firstTime("created_at")
	msg.SenderID, _ = r.firstInt("sender_id", "sender.id")

	switch r.firstString("sender_type", "sender.type") {
	case "User", "contact":
		msg.Sender = model.SenderCustomer
		msg.SenderName = r.firstString("sender.name")
	case "Agent", "agent":
		msg.Sender = model.SenderAgent
		msg.SenderName = agentName(msg.SenderID, r, agents)
	default:
		// Some deployments only send the numeric message_type.
		if mt, ok := r.firstInt("message_type"); ok {
			switch mt {
			case 0:
				msg.Sender = model.SenderCustomer
				msg.SenderName = r.firstString("sender.name")
			case 1:
				msg.Sender = model.SenderAgent
				msg.SenderName = agentName(msg.SenderID, r, agents)
			}
		}
	}

	for _, rawAtt := range r.rawSlice("attachments") {
		ar := decodeRecord(rawAtt)
		att := model.Attachment{
			FileType: ar.firstString("file_type"),
			DataURL:  ar.firstString("data_url"),
			ThumbURL: ar.firstString("thumb_url"),
		}
		att.ID, _ = ar.firstInt("id")
		msg.Attachments = append(msg.Attachments, att)
	}

	return msg
}

func agentName(senderID int, r record, agents AgentLookup) string {
	if agents != nil {
		if agent, ok := agents(senderID); ok && agent.Name != "" {
			return agent.Name
		}
	}
	if name := r.firstString("sender.name", "sender.available_name"); name != "" {
		return name
	}
	return "Agente"
}

// NormalizeMessages extracts and normalizes a message collection.
func NormalizeMessages(raw json.RawMessage, conversationID int, agents AgentLookup) ([]model.Message, bool) {
	records, ok := ExtractPayload(raw)
	out := make([]model.Message, 0, len(records))
	for _, rec := range records {
		out = append(out, NormalizeMessage(rec, conversationID, agents))
	}
	return out, ok
}

// NormalizeAgent converts one raw agent record. Role defaults to "agent",
// availability to "offline"; the activity counters are opaque upstream
// values passed through as-is.
func NormalizeAgent(raw json.RawMessage) model.Agent {
	r := decodeRecord(raw)

	agent := model.Agent{
		Name:         r.firstString("name"),
		Email:        r.firstString("email"),
		Phone:        r.firstString("phone_number", "phone"),
		Role:         "agent",
		Availability: "offline",
		Avatar:       r.firstString("avatar", "thumbnail"),
		Teams:        r.stringSlice("teams"),
	}
	agent.ID, _ = r.firstInt("id")
	if role := r.firstString("role"); role != "" {
		agent.Role = role
	}
	if avail := r.firstString("availability_status", "status"); avail != "" {
		agent.Availability = avail
	}

	agent.Stats.ConversationsToday, _ = r.firstInt("conversations_count")
	agent.Stats.AvgResponseTime = r.firstString("avg_response_time")
	if agent.Stats.AvgResponseTime == "" {
		agent.Stats.AvgResponseTime = "0m"
	}
	if v, ok := r.lookup("resolution_rate"); ok {
		if f, ok := v.(float64); ok {
			agent.Stats.ResolutionRate = f
		}
	}
	if v, ok := r.lookup("rating"); ok {
		if f, ok := v.(float64); ok {
			agent.Stats.Rating = f
		}
	}
	return agent
}

// NormalizeAgents extracts and normalizes an agent collection.
func NormalizeAgents(raw json.RawMessage) ([]model.Agent, bool) {
	records, ok := ExtractPayload(raw)
	out := make([]model.Agent, 0, len(records))
	for _, rec := range records {
		out = append(out, NormalizeAgent(rec))
	}
	return out, ok
}

// NormalizeContact converts one raw contact record.
func NormalizeContact(raw json.RawMessage) model.Contact {
	r := decodeRecord(raw)

	contact := model.Contact{
		Name:   r.firstString("name"),
		Email:  r.firstString("email"),
		Phone:  r.firstString("phone_number", "phone"),
		Avatar: r.firstString("avatar", "thumbnail"),
		Labels: r.stringSlice("labels"),
	}
	contact.ID, _ = r.firstInt("id")
	contact.CreatedAt = r.firstTime("created_at")
	contact.UpdatedAt = r.firstTime("updated_at", "created_at")
	return contact
}

// NormalizeContacts extracts and normalizes a contact collection.
func NormalizeContacts(raw json.RawMessage) ([]model.Contact, bool) {
	records, ok := ExtractPayload(raw)
	out := make([]model.Contact, 0, len(records))
	for _, rec := range records {
		out = append(out, NormalizeContact(rec))
	}
	return out, ok
}

// NormalizeInbox converts one raw inbox record. ChannelType defaults to the
// web widget, matching what the upstream platform creates by default.
func NormalizeInbox(raw json.RawMessage) model.Inbox {
	r := decodeRecord(raw)

	inbox := model.Inbox{
		Name:        r.firstString("name"),
		ChannelType: r.firstString("channel_type"),
		WebsiteURL:  r.firstString("website_url"),
		Avatar:      r.firstString("avatar", "avatar_url"),
	}
	inbox.ID, _ = r.firstInt("id")
	if inbox.ChannelType == "" {
		inbox.ChannelType = "Channel::WebWidget"
	}
	return inbox
}

// NormalizeInboxes extracts and normalizes an inbox collection.
func NormalizeInboxes(raw json.RawMessage) ([]model.Inbox, bool) {
	records, ok := ExtractPayload(raw)
	out := make([]model.Inbox, 0, len(records))
	for _, rec := range records {
		out = append(out, NormalizeInbox(rec))
	}
	return out, ok
}

// NormalizeCounts decodes the conversations/meta response. Both observed
// shapes are accepted: flat {"all": n, ...} and the nested
// {"meta": {"all_count": n, ...}} the upstream also sends. Missing or
// malformed counts come back zeroed rather than as an error.
func NormalizeCounts(raw json.RawMessage) model.ConversationCounts {
	var counts model.ConversationCounts
	_ = json.Unmarshal(raw, &counts)
	if counts != (model.ConversationCounts{}) {
		return counts
	}

	r := decodeRecord(raw)
	counts.All, _ = r.firstInt("meta.all_count", "all_count")
	counts.Open, _ = r.firstInt("meta.open_count", "open_count")
	counts.Pending, _ = r.firstInt("meta.pending_count", "pending_count")
	counts.Resolved, _ = r.firstInt("meta.resolved_count", "resolved_count")
	counts.Snoozed, _ = r.firstInt("meta.snoozed_count", "snoozed_count")
	return counts
}
