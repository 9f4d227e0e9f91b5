package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chathook/chathook-cli/internal/api"
	"github.com/chathook/chathook-cli/internal/cache"
	"github.com/chathook/chathook-cli/internal/model"
)

// fakeBackend serves canned raw payloads and records write calls.
type fakeBackend struct {
	mu gosync.Mutex

	conversations json.RawMessage
	messages      json.RawMessage
	agents        json.RawMessage
	contacts      json.RawMessage
	inboxes       json.RawMessage
	counts        json.RawMessage

	listErr  error
	writeErr error

	statusCalls  []string
	assignCalls  []int
	labelCalls   [][]string
	readCalls    []int
	sendCalls    []api.SendMessageRequest
	listBlock    chan struct{}
	listCount    int
	messageCount int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		conversations: json.RawMessage(`{"data": {"payload": []}}`),
		messages:      json.RawMessage(`{"payload": []}`),
		agents:        json.RawMessage(`[]`),
		contacts:      json.RawMessage(`[]`),
		inboxes:       json.RawMessage(`[]`),
		counts:        json.RawMessage(`{"all": 0}`),
	}
}

func (f *fakeBackend) ListConversations(ctx context.Context, _ api.ConversationFilters) (json.RawMessage, error) {
	f.mu.Lock()
	f.listCount++
	block := f.listBlock
	raw, err := f.conversations, f.listErr
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return raw, err
}

func (f *fakeBackend) ListMessages(ctx context.Context, id int) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messageCount++
	return f.messages, f.listErr
}

func (f *fakeBackend) ListAgents(ctx context.Context) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.agents, f.listErr
}

func (f *fakeBackend) ListContacts(ctx context.Context) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.contacts, f.listErr
}

func (f *fakeBackend) ListInboxes(ctx context.Context) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inboxes, f.listErr
}

func (f *fakeBackend) ConversationCounts(ctx context.Context, status string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts, nil
}

func (f *fakeBackend) SendMessage(ctx context.Context, id int, req api.SendMessageRequest) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls = append(f.sendCalls, req)
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	// The sent message becomes part of the authoritative thread, so the
	// confirm refetch sees it.
	f.messages = json.RawMessage(fmt.Sprintf(`[{"id": 500, "content": %q, "sender_type": "Agent", "conversation_id": %d}]`, req.Content, id))
	return json.RawMessage(fmt.Sprintf(`{"id": 500, "content": %q, "sender_type": "Agent", "conversation_id": %d}`, req.Content, id)), nil
}

func (f *fakeBackend) UpdateConversationStatus(ctx context.Context, id int, status string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, status)
	return json.RawMessage(`{}`), f.writeErr
}

func (f *fakeBackend) AssignConversation(ctx context.Context, id, assigneeID int) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assignCalls = append(f.assignCalls, assigneeID)
	return json.RawMessage(`{}`), f.writeErr
}

func (f *fakeBackend) AddLabels(ctx context.Context, id int, labels []string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labelCalls = append(f.labelCalls, labels)
	return json.RawMessage(`{}`), f.writeErr
}

func (f *fakeBackend) MarkRead(ctx context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readCalls = append(f.readCalls, id)
	return f.writeErr
}

// eventRecorder collects events safely across goroutines.
type eventRecorder struct {
	mu     gosync.Mutex
	events []Event
}

func (r *eventRecorder) sink(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) byKind(kind EventKind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) waitFor(t *testing.T, kind EventKind) Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if events := r.byKind(kind); len(events) > 0 {
			return events[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for event kind %d", kind)
	return Event{}
}

func newTestController(backend Backend, rec *eventRecorder) *Controller {
	opts := Options{Interval: time.Hour}
	if rec != nil {
		opts.Sink = rec.sink
	}
	return New(backend, opts)
}

func TestStartPopulatesView(t *testing.T) {
	backend := newFakeBackend()
	backend.conversations = json.RawMessage(`{"data": {"payload": [
		{"id": 1, "status": "open", "last_activity_at": 1700000100},
		{"id": 2, "status": "pending", "last_activity_at": 1700000200}
	]}}`)
	backend.counts = json.RawMessage(`{"all": 2, "open": 1, "pending": 1}`)

	c := newTestController(backend, nil)
	defer c.Close()

	require.NoError(t, c.Start(context.Background()))

	snap := c.Snapshot()
	require.Len(t, snap.Conversations, 2)
	// Most recent activity first.
	assert.Equal(t, 2, snap.Conversations[0].ID)
	assert.Equal(t, 1, snap.Conversations[1].ID)
	assert.Equal(t, 2, snap.Counts.All)
	assert.NoError(t, snap.LastError)
	assert.False(t, snap.LastRefresh.IsZero())
}

func TestRefreshErrorKeepsPreviousView(t *testing.T) {
	backend := newFakeBackend()
	backend.conversations = json.RawMessage(`[{"id": 1}]`)

	rec := &eventRecorder{}
	c := newTestController(backend, rec)
	defer c.Close()
	require.NoError(t, c.Start(context.Background()))

	backend.mu.Lock()
	backend.listErr = errors.New("proxy down")
	backend.mu.Unlock()

	c.RefreshNow()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(rec.byKind(EventRefreshed)) >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	snap := c.Snapshot()
	require.Len(t, snap.Conversations, 1, "stale view must survive a failed refresh")
	assert.Error(t, snap.LastError)
}

func TestSelectionRetainedWhenAbsentFromRefresh(t *testing.T) {
	backend := newFakeBackend()
	backend.conversations = json.RawMessage(`[{"id": 1}, {"id": 2}]`)

	rec := &eventRecorder{}
	c := newTestController(backend, rec)
	defer c.Close()
	require.NoError(t, c.Start(context.Background()))

	c.Select(2)
	rec.waitFor(t, EventSelectionChanged)

	// Conversation 2 drops out of the filtered listing.
	backend.mu.Lock()
	backend.conversations = json.RawMessage(`[{"id": 1}]`)
	backend.mu.Unlock()

	require.NoError(t, c.refresh(context.Background()))
	assert.Equal(t, 2, c.SelectedID(), "selection must survive absence from a refresh page")
}

func TestSelectFetchesMessages(t *testing.T) {
	backend := newFakeBackend()
	backend.messages = json.RawMessage(`{"payload": [{"id": 10, "content": "hi", "sender_type": "User"}]}`)

	rec := &eventRecorder{}
	c := newTestController(backend, rec)
	defer c.Close()

	c.Select(7)
	rec.waitFor(t, EventSelectionChanged)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(c.Snapshot().Messages) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap := c.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "hi", snap.Messages[0].Content)
	assert.Equal(t, 7, snap.Messages[0].ConversationID)
}

func TestSelectSameIDIsNoop(t *testing.T) {
	backend := newFakeBackend()
	rec := &eventRecorder{}
	c := newTestController(backend, rec)
	defer c.Close()

	c.Select(3)
	rec.waitFor(t, EventSelectionChanged)
	c.Select(3)

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.byKind(EventSelectionChanged), 1)
}

func TestOptimisticStatusChange(t *testing.T) {
	backend := newFakeBackend()
	backend.conversations = json.RawMessage(`[{"id": 1, "status": "open"}]`)

	c := newTestController(backend, nil)
	defer c.Close()
	require.NoError(t, c.Start(context.Background()))

	// Park the confirm refetch so the optimistic state stays observable.
	backend.mu.Lock()
	backend.listBlock = make(chan struct{})
	backend.mu.Unlock()

	c.SetStatus(1, model.StatusResolved)

	// Local state flips before the write is confirmed.
	assert.Equal(t, model.StatusResolved, c.Snapshot().Conversations[0].Status)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		backend.mu.Lock()
		n := len(backend.statusCalls)
		backend.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.statusCalls, 1)
	assert.Equal(t, model.StatusResolved, backend.statusCalls[0])
}

func TestOptimisticStatusRejectsUnknown(t *testing.T) {
	backend := newFakeBackend()
	backend.conversations = json.RawMessage(`[{"id": 1, "status": "open"}]`)

	c := newTestController(backend, nil)
	defer c.Close()
	require.NoError(t, c.Start(context.Background()))

	c.SetStatus(1, "snoozed")
	assert.Equal(t, model.StatusOpen, c.Snapshot().Conversations[0].Status)
}

func TestFailedMutationDoesNotRollBack(t *testing.T) {
	backend := newFakeBackend()
	backend.conversations = json.RawMessage(`[{"id": 1, "status": "open", "unread_count": 4}]`)
	backend.writeErr = errors.New("write rejected")

	rec := &eventRecorder{}
	c := newTestController(backend, rec)
	defer c.Close()
	require.NoError(t, c.Start(context.Background()))

	c.SetStatus(1, model.StatusResolved)
	c.MarkRead(1)

	failed := rec.waitFor(t, EventMutationFailed)
	assert.Equal(t, 1, failed.ConversationID)
	assert.Error(t, failed.Err)

	snap := c.Snapshot()
	assert.Equal(t, model.StatusResolved, snap.Conversations[0].Status, "optimistic state stays after failure")
	assert.Equal(t, 0, snap.Conversations[0].UnreadCount)

	time.Sleep(50 * time.Millisecond)
	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, 1, backend.listCount, "a failed write must not trigger a refetch")
}

func TestConfirmedMutationTriggersRefetch(t *testing.T) {
	backend := newFakeBackend()
	backend.conversations = json.RawMessage(`[{"id": 1, "status": "open"}]`)

	c := newTestController(backend, nil)
	defer c.Close()
	require.NoError(t, c.Start(context.Background()))

	c.SetStatus(1, model.StatusResolved)

	// The confirmed write refetches the collection. The server still says
	// open, and that authoritative answer supersedes the optimistic patch.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Snapshot().Conversations[0].Status == model.StatusOpen {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, model.StatusOpen, c.Snapshot().Conversations[0].Status)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.GreaterOrEqual(t, backend.listCount, 2, "confirmed write must refetch the collection")
}

func TestConfirmedMutationInvalidatesConversationCache(t *testing.T) {
	t.Setenv("CHATHOOK_NO_CACHE", "")
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := cache.NewStore(client, "conversations", "https://proxy.example", 1)

	backend := newFakeBackend()
	backend.conversations = json.RawMessage(`[{"id": 1, "status": "open"}]`)

	c := New(backend, Options{Interval: time.Hour, Caches: Caches{Conversations: store}})
	defer c.Close()
	require.NoError(t, c.Start(context.Background()))

	var cached []model.Conversation
	require.True(t, store.Get(&cached), "initial refresh writes the listing through the cache")
	require.Len(t, cached, 1)

	// Park the confirm refetch so the invalidation is observable before the
	// fresh listing lands.
	backend.mu.Lock()
	backend.listBlock = make(chan struct{})
	backend.mu.Unlock()

	c.SetStatus(1, model.StatusResolved)

	gone := false
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var tmp []model.Conversation
		if !store.Get(&tmp) {
			gone = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, gone, "confirmed write must drop the cached listing")
}

func TestCloseDuringMutationSpawn(t *testing.T) {
	backend := newFakeBackend()
	backend.conversations = json.RawMessage(`[{"id": 1, "status": "open"}]`)

	for i := 0; i < 20; i++ {
		c := newTestController(backend, nil)
		require.NoError(t, c.Start(context.Background()))

		var wg gosync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.SetStatus(1, model.StatusResolved)
			c.MarkRead(1)
		}()
		c.Close()
		wg.Wait()
	}
}

func TestAssignAndUnassign(t *testing.T) {
	backend := newFakeBackend()
	backend.conversations = json.RawMessage(`[{"id": 1, "assignee": {"id": 9, "name": "Old"}}]`)

	c := newTestController(backend, nil)
	defer c.Close()
	require.NoError(t, c.Start(context.Background()))

	backend.mu.Lock()
	backend.listBlock = make(chan struct{})
	backend.mu.Unlock()

	c.Assign(1, 12)
	snap := c.Snapshot()
	require.NotNil(t, snap.Conversations[0].Assignee)
	assert.Equal(t, 12, snap.Conversations[0].Assignee.ID)

	c.Assign(1, 0)
	assert.Nil(t, c.Snapshot().Conversations[0].Assignee)
}

func TestAddLabelsDeduplicates(t *testing.T) {
	backend := newFakeBackend()
	backend.conversations = json.RawMessage(`[{"id": 1, "labels": ["vip"]}]`)

	c := newTestController(backend, nil)
	defer c.Close()
	require.NoError(t, c.Start(context.Background()))

	backend.mu.Lock()
	backend.listBlock = make(chan struct{})
	backend.mu.Unlock()

	c.AddLabels(1, []string{"vip", "billing"})
	assert.Equal(t, []string{"vip", "billing"}, c.Snapshot().Conversations[0].Labels)
}

func TestSendMessageOptimisticAppend(t *testing.T) {
	backend := newFakeBackend()
	rec := &eventRecorder{}
	c := newTestController(backend, rec)
	defer c.Close()

	c.Select(5)
	rec.waitFor(t, EventSelectionChanged)

	c.SendMessage(5, "on it", false)

	snap := c.Snapshot()
	require.NotEmpty(t, snap.Messages)
	last := snap.Messages[len(snap.Messages)-1]
	assert.Equal(t, "on it", last.Content)
	assert.Equal(t, model.SenderAgent, last.Sender)
	assert.Negative(t, last.ID, "placeholder id until the server confirms")

	// Confirmation swaps in the server record.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs := c.Snapshot().Messages
		if len(msgs) > 0 && msgs[len(msgs)-1].ID == 500 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	msgs := c.Snapshot().Messages
	last = msgs[len(msgs)-1]
	assert.Equal(t, 500, last.ID)
	assert.False(t, last.Pending)
}

func TestSendMessageFailureKeepsPendingEntry(t *testing.T) {
	backend := newFakeBackend()
	backend.writeErr = errors.New("rejected")

	rec := &eventRecorder{}
	c := newTestController(backend, rec)
	defer c.Close()

	c.Select(5)
	rec.waitFor(t, EventSelectionChanged)
	c.SendMessage(5, "lost?", false)

	failed := rec.waitFor(t, EventMutationFailed)
	assert.Equal(t, "send_message", failed.Op)

	msgs := c.Snapshot().Messages
	require.NotEmpty(t, msgs)
	assert.True(t, msgs[len(msgs)-1].Pending, "failed send stays visible as pending")
}

func TestRefreshNowCoalesces(t *testing.T) {
	backend := newFakeBackend()
	block := make(chan struct{})
	backend.listBlock = block

	rec := &eventRecorder{}
	c := newTestController(backend, rec)
	defer c.Close()

	c.RefreshNow() // starts, blocks on the backend
	time.Sleep(20 * time.Millisecond)
	c.RefreshNow() // queued
	c.RefreshNow() // coalesced into the queued one
	close(block)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(rec.byKind(EventRefreshed)) >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, 2, backend.listCount, "requests while refreshing coalesce into one follow-up")
}

func TestSetEnabledStopsPolling(t *testing.T) {
	backend := newFakeBackend()
	c := New(backend, Options{Interval: 20 * time.Millisecond})
	defer c.Close()
	require.NoError(t, c.Start(context.Background()))

	c.SetEnabled(false)
	backend.mu.Lock()
	before := backend.listCount
	backend.mu.Unlock()

	time.Sleep(100 * time.Millisecond)

	backend.mu.Lock()
	after := backend.listCount
	backend.mu.Unlock()
	assert.Equal(t, before, after, "no refreshes while disabled")
}

func TestSetIntervalReschedulesPendingTimer(t *testing.T) {
	backend := newFakeBackend()
	c := New(backend, Options{Interval: time.Hour})
	defer c.Close()
	require.NoError(t, c.Start(context.Background()))

	backend.mu.Lock()
	initial := backend.listCount
	backend.mu.Unlock()

	// Replaces the armed hour-long timer with a single short one.
	c.SetInterval(20 * time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	fired := false
	for time.Now().Before(deadline) {
		backend.mu.Lock()
		fired = backend.listCount > initial
		backend.mu.Unlock()
		if fired {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, fired, "refresh fired on the rescheduled timer, not the old one")
}

func TestSetIntervalValidation(t *testing.T) {
	c := newTestController(newFakeBackend(), nil)
	defer c.Close()

	c.SetInterval(10 * time.Second)
	assert.Equal(t, 10*time.Second, c.Interval())

	c.SetInterval(0)
	assert.Equal(t, DefaultInterval, c.Interval())
}

func TestCloseIsIdempotentAndStopsWork(t *testing.T) {
	backend := newFakeBackend()
	c := New(backend, Options{Interval: 10 * time.Millisecond})
	require.NoError(t, c.Start(context.Background()))

	c.Close()
	backend.mu.Lock()
	before := backend.listCount
	backend.mu.Unlock()

	time.Sleep(50 * time.Millisecond)
	backend.mu.Lock()
	after := backend.listCount
	backend.mu.Unlock()
	assert.Equal(t, before, after)

	c.RefreshNow() // must be a no-op after Close
	c.Close()
}

func TestWarmupPopulatesLookups(t *testing.T) {
	backend := newFakeBackend()
	backend.agents = json.RawMessage(`[{"id": 12, "name": "Marina", "role": "administrator"}]`)
	backend.contacts = json.RawMessage(`{"payload": [{"id": 4, "name": "Lia"}]}`)
	backend.inboxes = json.RawMessage(`[{"id": 2, "name": "Site"}]`)

	rec := &eventRecorder{}
	c := newTestController(backend, rec)
	defer c.Close()

	require.NoError(t, c.Warmup(context.Background()))
	rec.waitFor(t, EventWarmedUp)

	agent, ok := c.AgentByID(12)
	require.True(t, ok)
	assert.Equal(t, "Marina", agent.Name)

	contact, ok := c.ContactByID(4)
	require.True(t, ok)
	assert.Equal(t, "Lia", contact.Name)

	inbox, ok := c.InboxByID(2)
	require.True(t, ok)
	assert.Equal(t, "Site", inbox.Name)

	_, ok = c.AgentByID(99)
	assert.False(t, ok)
}

func TestWarmupResolvesAgentNamesInMessages(t *testing.T) {
	backend := newFakeBackend()
	backend.agents = json.RawMessage(`[{"id": 12, "name": "Marina"}]`)
	backend.messages = json.RawMessage(`[{"id": 1, "content": "done", "sender_type": "Agent", "sender_id": 12}]`)

	c := newTestController(backend, nil)
	defer c.Close()
	require.NoError(t, c.Warmup(context.Background()))

	msgs, err := c.fetchMessages(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Marina", msgs[0].SenderName)
}
