package sync

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/chathook/chathook-cli/internal/cache"
	"github.com/chathook/chathook-cli/internal/model"
	"github.com/chathook/chathook-cli/internal/normalize"
)

// Warmup loads agents, contacts, and inboxes concurrently and indexes them
// by id for fast lookup during normalization. Each collection goes through
// its Redis cache when one is configured: a hit skips the fetch, a fetch
// populates the cache. Warmup failures are soft; a missing lookup only
// means sender names fall back to embedded data.
func (c *Controller) Warmup(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		agents, err := loadCollection(gctx, c.caches.Agents, func(ctx context.Context) ([]model.Agent, error) {
			raw, err := c.backend.ListAgents(ctx)
			if err != nil {
				return nil, err
			}
			list, _ := normalize.NormalizeAgents(raw)
			return list, nil
		})
		if err != nil {
			return fmt.Errorf("warmup agents: %w", err)
		}
		for _, a := range agents {
			c.lookups.SetDefault(lookupKey("agent", a.ID), a)
		}
		return nil
	})

	g.Go(func() error {
		contacts, err := loadCollection(gctx, c.caches.Contacts, func(ctx context.Context) ([]model.Contact, error) {
			raw, err := c.backend.ListContacts(ctx)
			if err != nil {
				return nil, err
			}
			list, _ := normalize.NormalizeContacts(raw)
			return list, nil
		})
		if err != nil {
			return fmt.Errorf("warmup contacts: %w", err)
		}
		for _, ct := range contacts {
			c.lookups.SetDefault(lookupKey("contact", ct.ID), ct)
		}
		return nil
	})

	g.Go(func() error {
		inboxes, err := loadCollection(gctx, c.caches.Inboxes, func(ctx context.Context) ([]model.Inbox, error) {
			raw, err := c.backend.ListInboxes(ctx)
			if err != nil {
				return nil, err
			}
			list, _ := normalize.NormalizeInboxes(raw)
			return list, nil
		})
		if err != nil {
			return fmt.Errorf("warmup inboxes: %w", err)
		}
		for _, ib := range inboxes {
			c.lookups.SetDefault(lookupKey("inbox", ib.ID), ib)
		}
		return nil
	})

	err := g.Wait()
	c.sink(Event{Kind: EventWarmedUp, Err: err})
	return err
}

// loadCollection tries the Redis cache first, falls back to fetching, and
// writes a fresh fetch back through the cache.
func loadCollection[T any](ctx context.Context, store *cache.Store, fetch func(context.Context) ([]T, error)) ([]T, error) {
	if store != nil {
		var cached []T
		if store.Get(&cached) {
			return cached, nil
		}
	}
	items, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if store != nil {
		store.Put(items)
	}
	return items, nil
}

func lookupKey(kind string, id int) string {
	return fmt.Sprintf("%s:%d", kind, id)
}

// AgentByID returns a warmed-up agent.
func (c *Controller) AgentByID(id int) (model.Agent, bool) {
	v, ok := c.lookups.Get(lookupKey("agent", id))
	if !ok {
		return model.Agent{}, false
	}
	a, ok := v.(model.Agent)
	return a, ok
}

// ContactByID returns a warmed-up contact.
func (c *Controller) ContactByID(id int) (model.Contact, bool) {
	v, ok := c.lookups.Get(lookupKey("contact", id))
	if !ok {
		return model.Contact{}, false
	}
	ct, ok := v.(model.Contact)
	return ct, ok
}

// InboxByID returns a warmed-up inbox.
func (c *Controller) InboxByID(id int) (model.Inbox, bool) {
	v, ok := c.lookups.Get(lookupKey("inbox", id))
	if !ok {
		return model.Inbox{}, false
	}
	ib, ok := v.(model.Inbox)
	return ib, ok
}

func (c *Controller) agentLookup() normalize.AgentLookup {
	return func(id int) (model.Agent, bool) {
		return c.AgentByID(id)
	}
}
