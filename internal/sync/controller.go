// Package sync keeps a local view of the inbox consistent with the remote
// platform through periodic polling.
//
// The Controller is a small state machine: idle (polling disabled), scheduled
// (one timer armed for the next refresh), refreshing (a fetch in flight). At
// most one timer is ever outstanding and at most one refresh runs at a time;
// interval changes while scheduled disarm the old timer and arm exactly one
// new one. Mutations are optimistic: local state changes immediately and the
// write is sent in the background. A confirmed write invalidates the cached
// conversation collection and refetches, so authoritative state supersedes
// the optimistic patch; a failure is reported through the event sink without
// rolling the local change back, and the next successful refresh reconciles
// with whatever the server actually holds.
package sync

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	gosync "sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/chathook/chathook-cli/internal/api"
	"github.com/chathook/chathook-cli/internal/cache"
	"github.com/chathook/chathook-cli/internal/model"
	"github.com/chathook/chathook-cli/internal/normalize"
)

// DefaultInterval is the polling cadence used when none is configured.
const DefaultInterval = 30 * time.Second

// lookupTTL bounds how long warmed-up agent/contact/inbox lookups are
// trusted before the next warmup replaces them.
const lookupTTL = 5 * time.Minute

// Backend is the subset of the proxy client the controller needs.
// *api.Client satisfies it.
type Backend interface {
	ListConversations(ctx context.Context, filters api.ConversationFilters) (json.RawMessage, error)
	ListMessages(ctx context.Context, conversationID int) (json.RawMessage, error)
	ListAgents(ctx context.Context) (json.RawMessage, error)
	ListContacts(ctx context.Context) (json.RawMessage, error)
	ListInboxes(ctx context.Context) (json.RawMessage, error)
	ConversationCounts(ctx context.Context, status string) (json.RawMessage, error)
	SendMessage(ctx context.Context, conversationID int, req api.SendMessageRequest) (json.RawMessage, error)
	UpdateConversationStatus(ctx context.Context, conversationID int, status string) (json.RawMessage, error)
	AssignConversation(ctx context.Context, conversationID, assigneeID int) (json.RawMessage, error)
	AddLabels(ctx context.Context, conversationID int, labels []string) (json.RawMessage, error)
	MarkRead(ctx context.Context, conversationID int) error
}

// EventKind identifies what the controller is reporting.
type EventKind int

const (
	// EventRefreshed fires after a completed refresh, successful or not.
	EventRefreshed EventKind = iota
	// EventSelectionChanged fires when the selected conversation changes.
	EventSelectionChanged
	// EventMutationFailed fires when a background write fails. Local state
	// is not rolled back.
	EventMutationFailed
	// EventWarmedUp fires after the agent/contact/inbox lookups are loaded.
	EventWarmedUp
)

// Event is a controller notification. Err is set for failed refreshes and
// failed mutations.
type Event struct {
	Kind           EventKind
	ConversationID int
	Op             string
	Err            error
}

// Sink receives controller events. It is called from controller goroutines
// and must not block; it must not call back into the controller while
// handling an event synchronously.
type Sink func(Event)

// Caches groups the optional Redis-backed collection caches. The lookup
// caches feed warmup; Conversations holds the last refreshed listing and is
// invalidated by every confirmed mutation. Any field may be nil.
type Caches struct {
	Agents        *cache.Store
	Contacts      *cache.Store
	Inboxes       *cache.Store
	Conversations *cache.Store
}

// Snapshot is an immutable copy of the controller's current view.
type Snapshot struct {
	Conversations []model.Conversation
	Counts        model.ConversationCounts
	SelectedID    int
	Messages      []model.Message
	LastRefresh   time.Time
	LastError     error
}

type pollState int

const (
	stateIdle pollState = iota
	stateScheduled
	stateRefreshing
)

// Controller owns the synchronized inbox view.
type Controller struct {
	backend Backend
	filters api.ConversationFilters
	caches  Caches
	sink    Sink
	logger  *slog.Logger

	// lookups holds warmed-up agents, contacts, and inboxes keyed by id
	// with a TTL, so message normalization can resolve sender names
	// without a fetch per message.
	lookups *gocache.Cache

	mu             gosync.Mutex
	state          pollState
	interval       time.Duration
	enabled        bool
	timer          *time.Timer
	refreshAgain   bool
	closed         bool
	cancelInFlight context.CancelFunc

	conversations []model.Conversation
	counts        model.ConversationCounts
	selectedID    int
	messages      []model.Message
	lastRefresh   time.Time
	lastError     error
	tempID        int // placeholder ids for optimistic sends, always negative

	wg gosync.WaitGroup
}

// Options configures a Controller.
type Options struct {
	Filters  api.ConversationFilters
	Interval time.Duration
	Enabled  *bool // nil means enabled
	Caches   Caches
	Sink     Sink
	Logger   *slog.Logger
}

// New creates a Controller. Polling does not start until Start is called.
func New(backend Backend, opts Options) *Controller {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	enabled := true
	if opts.Enabled != nil {
		enabled = *opts.Enabled
	}
	sink := opts.Sink
	if sink == nil {
		sink = func(Event) {}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		backend:  backend,
		filters:  opts.Filters,
		caches:   opts.Caches,
		sink:     sink,
		logger:   logger,
		interval: interval,
		enabled:  enabled,
		lookups:  gocache.New(lookupTTL, 2*lookupTTL),
	}
}

// Start performs the initial refresh synchronously, then arms the polling
// timer. The context bounds the initial refresh only; background refreshes
// carry their own contexts, cancelled by Close.
func (c *Controller) Start(ctx context.Context) error {
	err := c.refresh(ctx)
	c.mu.Lock()
	if c.enabled && !c.closed {
		c.armTimerLocked()
	}
	c.mu.Unlock()
	return err
}

// Close stops polling, cancels any in-flight refresh, and waits for
// background work to drain. The controller cannot be restarted.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.disarmTimerLocked()
	if c.cancelInFlight != nil {
		c.cancelInFlight()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// SetInterval changes the polling cadence. If a timer is armed it is
// replaced with a single new one at the new interval; a refresh in flight
// is unaffected and the next timer uses the new interval.
func (c *Controller) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval = d
	if c.state == stateScheduled {
		c.disarmTimerLocked()
		c.armTimerLocked()
	}
}

// SetEnabled turns polling on or off. Disabling disarms the timer; an
// in-flight refresh completes but does not reschedule. Enabling arms a
// timer if none is outstanding.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	if !enabled {
		c.disarmTimerLocked()
		if c.state == stateScheduled {
			c.state = stateIdle
		}
		return
	}
	if c.state == stateIdle && !c.closed {
		c.armTimerLocked()
	}
}

// Interval returns the current polling cadence.
func (c *Controller) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// SetFilters changes the conversation listing filters. Takes effect on the
// next refresh.
func (c *Controller) SetFilters(f api.ConversationFilters) {
	c.mu.Lock()
	c.filters = f
	c.mu.Unlock()
}

// RefreshNow triggers an immediate background refresh. If one is already in
// flight, another runs right after it finishes; requests never queue deeper
// than one.
func (c *Controller) RefreshNow() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.state == stateRefreshing {
		c.refreshAgain = true
		c.mu.Unlock()
		return
	}
	c.disarmTimerLocked()
	c.mu.Unlock()
	c.spawnRefresh()
}

// Select changes the selected conversation and kicks off a background fetch
// of its messages. Selecting 0 clears the selection.
func (c *Controller) Select(id int) {
	c.mu.Lock()
	if c.selectedID == id {
		c.mu.Unlock()
		return
	}
	c.selectedID = id
	c.messages = nil
	fetch := id != 0 && !c.closed
	if fetch {
		// Add while holding mu so Close cannot slip its Wait between the
		// closed check and the Add.
		c.wg.Add(1)
	}
	c.mu.Unlock()

	c.sink(Event{Kind: EventSelectionChanged, ConversationID: id})
	if !fetch {
		return
	}

	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), api.DefaultTimeout)
		defer cancel()
		msgs, err := c.fetchMessages(ctx, id)
		if err != nil {
			c.logger.Warn("message fetch failed", "conversation_id", id, "error", err)
			return
		}
		c.mu.Lock()
		// The user may have moved on while the fetch was in flight.
		if c.selectedID == id {
			c.messages = msgs
		}
		c.mu.Unlock()
	}()
}

// SelectedID returns the currently selected conversation id, 0 for none.
func (c *Controller) SelectedID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedID
}

// Snapshot returns a copy of the current view, safe for the caller to hold.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		Conversations: make([]model.Conversation, len(c.conversations)),
		Counts:        c.counts,
		SelectedID:    c.selectedID,
		Messages:      make([]model.Message, len(c.messages)),
		LastRefresh:   c.lastRefresh,
		LastError:     c.lastError,
	}
	copy(snap.Conversations, c.conversations)
	copy(snap.Messages, c.messages)
	return snap
}

// armTimerLocked arms the single polling timer. Caller holds mu.
func (c *Controller) armTimerLocked() {
	if c.timer != nil || c.closed || !c.enabled {
		return
	}
	c.state = stateScheduled
	c.timer = time.AfterFunc(c.interval, func() {
		c.mu.Lock()
		c.timer = nil
		if c.closed || c.state != stateScheduled {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		c.spawnRefresh()
	})
}

// disarmTimerLocked stops the timer if armed. Caller holds mu.
func (c *Controller) disarmTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// spawnRefresh transitions to refreshing and runs one refresh in the
// background, rescheduling afterwards.
func (c *Controller) spawnRefresh() {
	c.mu.Lock()
	if c.closed || c.state == stateRefreshing {
		c.mu.Unlock()
		return
	}
	c.state = stateRefreshing
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelInFlight = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer cancel()
		_ = c.refresh(ctx)

		c.mu.Lock()
		c.cancelInFlight = nil
		c.state = stateIdle
		again := c.refreshAgain
		c.refreshAgain = false
		if !again && c.enabled && !c.closed {
			c.armTimerLocked()
		}
		c.mu.Unlock()

		if again {
			c.spawnRefresh()
		}
	}()
}

// refresh fetches conversations, counts, and the selected conversation's
// messages concurrently, then swaps the local view. The selected id is kept
// even when it no longer appears in the refreshed listing: absence from a
// filtered page does not mean the conversation is gone.
func (c *Controller) refresh(ctx context.Context) error {
	c.mu.Lock()
	filters := c.filters
	selectedID := c.selectedID
	c.mu.Unlock()

	var (
		convs  []model.Conversation
		counts model.ConversationCounts
		msgs   []model.Message
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		raw, err := c.backend.ListConversations(gctx, filters)
		if err != nil {
			return err
		}
		list, ok := normalize.NormalizeConversations(raw)
		if !ok {
			c.logger.Warn("unrecognized conversations payload shape")
		}
		convs = list
		return nil
	})
	g.Go(func() error {
		raw, err := c.backend.ConversationCounts(gctx, "all")
		if err != nil {
			// Counts are decorative; a failure must not fail the refresh.
			c.logger.Warn("counts fetch failed", "error", err)
			return nil
		}
		counts = normalize.NormalizeCounts(raw)
		return nil
	})
	if selectedID > 0 {
		g.Go(func() error {
			list, err := c.fetchMessages(gctx, selectedID)
			if err != nil {
				c.logger.Warn("message fetch failed", "conversation_id", selectedID, "error", err)
				return nil
			}
			msgs = list
			return nil
		})
	}
	err := g.Wait()

	c.mu.Lock()
	c.lastRefresh = time.Now()
	c.lastError = err
	if err == nil {
		sort.SliceStable(convs, func(i, j int) bool {
			return convs[i].LastActivityAt.Time.After(convs[j].LastActivityAt.Time)
		})
		c.conversations = convs
		c.counts = counts
		if selectedID > 0 && msgs != nil && c.selectedID == selectedID {
			c.messages = msgs
		}
	}
	c.mu.Unlock()

	if err == nil && c.caches.Conversations != nil {
		c.caches.Conversations.Put(convs)
	}

	c.sink(Event{Kind: EventRefreshed, Err: err})
	return err
}

// fetchMessages loads and normalizes a conversation's messages, resolving
// agent sender names through the warmed-up lookups.
func (c *Controller) fetchMessages(ctx context.Context, conversationID int) ([]model.Message, error) {
	raw, err := c.backend.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	msgs, ok := normalize.NormalizeMessages(raw, conversationID, c.agentLookup())
	if !ok {
		c.logger.Warn("unrecognized messages payload shape", "conversation_id", conversationID)
	}
	return msgs, nil
}
