package sync

import (
	"context"
	"time"

	"github.com/chathook/chathook-cli/internal/api"
	"github.com/chathook/chathook-cli/internal/model"
	"github.com/chathook/chathook-cli/internal/normalize"
)

// Mutations apply locally first and confirm in the background. A confirmed
// write invalidates the conversation cache and triggers an immediate refetch,
// so the authoritative collection supersedes the optimistic patch. A failed
// write emits EventMutationFailed and leaves the optimistic state in place;
// the next successful refresh is the only correction path. This mirrors the
// behavior users expect from the web inbox: the action appears to take
// effect instantly and quietly reconciles.

// SetStatus optimistically changes a conversation's status.
func (c *Controller) SetStatus(id int, status string) {
	if !model.KnownStatus(status) {
		return
	}
	c.mu.Lock()
	for i := range c.conversations {
		if c.conversations[i].ID == id {
			c.conversations[i].Status = status
			break
		}
	}
	c.mu.Unlock()

	c.spawnMutation("status", id, func(ctx context.Context) error {
		_, err := c.backend.UpdateConversationStatus(ctx, id, status)
		return err
	})
}

// Assign optimistically assigns a conversation to an agent. agentID 0
// clears the assignment.
func (c *Controller) Assign(id, agentID int) {
	c.mu.Lock()
	for i := range c.conversations {
		if c.conversations[i].ID != id {
			continue
		}
		if agentID == 0 {
			c.conversations[i].Assignee = nil
		} else {
			ref := &model.AgentRef{ID: agentID}
			if agent, ok := c.AgentByID(agentID); ok {
				ref.Name = agent.Name
				ref.Email = agent.Email
				ref.Avatar = agent.Avatar
			}
			c.conversations[i].Assignee = ref
		}
		break
	}
	c.mu.Unlock()

	c.spawnMutation("assign", id, func(ctx context.Context) error {
		_, err := c.backend.AssignConversation(ctx, id, agentID)
		return err
	})
}

// AddLabels optimistically adds labels to a conversation, deduplicating
// against those already present.
func (c *Controller) AddLabels(id int, labels []string) {
	if len(labels) == 0 {
		return
	}
	c.mu.Lock()
	for i := range c.conversations {
		if c.conversations[i].ID != id {
			continue
		}
		existing := make(map[string]bool, len(c.conversations[i].Labels))
		for _, l := range c.conversations[i].Labels {
			existing[l] = true
		}
		for _, l := range labels {
			if !existing[l] {
				c.conversations[i].Labels = append(c.conversations[i].Labels, l)
				existing[l] = true
			}
		}
		break
	}
	c.mu.Unlock()

	c.spawnMutation("labels", id, func(ctx context.Context) error {
		_, err := c.backend.AddLabels(ctx, id, labels)
		return err
	})
}

// MarkRead optimistically zeroes a conversation's unread count.
func (c *Controller) MarkRead(id int) {
	c.mu.Lock()
	for i := range c.conversations {
		if c.conversations[i].ID == id {
			c.conversations[i].UnreadCount = 0
			break
		}
	}
	c.mu.Unlock()

	c.spawnMutation("mark_read", id, func(ctx context.Context) error {
		return c.backend.MarkRead(ctx, id)
	})
}

// SendMessage optimistically appends an outgoing message to the selected
// conversation's thread. The pending entry carries a negative placeholder
// id; a confirmed send replaces it with the server record, a failed send
// leaves it marked pending.
func (c *Controller) SendMessage(id int, content string, private bool) {
	if content == "" {
		return
	}
	c.mu.Lock()
	c.tempID--
	tempID := c.tempID
	pending := model.Message{
		ID:             tempID,
		ConversationID: id,
		Content:        content,
		Sender:         model.SenderAgent,
		CreatedAt:      model.FlexTime{Time: time.Now().UTC()},
		Attachments:    []model.Attachment{},
		Pending:        true,
	}
	if c.selectedID == id {
		c.messages = append(c.messages, pending)
	}
	c.mu.Unlock()

	req := api.SendMessageRequest{Content: content, MessageType: "outgoing", Private: private}
	c.spawnMutation("send_message", id, func(ctx context.Context) error {
		raw, err := c.backend.SendMessage(ctx, id, req)
		if err != nil {
			return err
		}
		confirmed := normalize.NormalizeMessage(raw, id, c.agentLookup())
		c.mu.Lock()
		if c.selectedID == id {
			for i := range c.messages {
				if c.messages[i].ID == tempID {
					if confirmed.ID != 0 {
						confirmed.Pending = false
						c.messages[i] = confirmed
					} else {
						c.messages[i].Pending = false
					}
					break
				}
			}
		}
		c.mu.Unlock()
		return nil
	})
}

// spawnMutation runs a write in the background. A confirmed write drops the
// cached conversation collection and refetches so server state replaces the
// optimistic patch; a failed write is reported through the sink and the
// optimistic patch stays.
func (c *Controller) spawnMutation(op string, id int, write func(context.Context) error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), api.DefaultTimeout)
		defer cancel()
		if err := write(ctx); err != nil {
			c.logger.Warn("mutation failed", "op", op, "conversation_id", id, "error", err)
			c.sink(Event{Kind: EventMutationFailed, ConversationID: id, Op: op, Err: err})
			return
		}
		if c.caches.Conversations != nil {
			c.caches.Conversations.Clear()
		}
		c.RefreshNow()
	}()
}
