// Package notify keeps the per-identity notification feed: a bounded,
// newest-first mirror with optimistic mutations and soft-fail persistence.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"shipcode/client/internal/backend"
	"shipcode/client/internal/model"
)

// Center is the notification feed for the signed-in identity. It stays
// usable with no identity at all: entries are then local-only and vanish
// on the next identity change, which is what transient toasts want.
type Center struct {
	data  backend.Data
	limit int
	log   *slog.Logger

	mu       sync.Mutex
	gen      int
	identity string
	items    []model.Notification

	inflight sync.WaitGroup
}

func New(data backend.Data, limit int, log *slog.Logger) *Center {
	if log == nil {
		log = slog.Default()
	}
	return &Center{data: data, limit: limit, log: log}
}

// SetIdentity switches the feed to a new owner. The mirror is cleared
// either way; pass an empty string on sign-out.
func (c *Center) SetIdentity(identityID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.identity = identityID
	c.items = nil
}

// Load fetches the newest entries for the current identity, bounded by
// the configured limit. Without an identity it is a no-op.
func (c *Center) Load(ctx context.Context) error {
	c.mu.Lock()
	gen := c.gen
	identity := c.identity
	c.mu.Unlock()
	if identity == "" {
		return nil
	}

	items, err := c.data.ListNotifications(ctx, identity, c.limit)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil
	}
	c.items = items
	return nil
}

// Flush waits for all in-flight remote writes.
func (c *Center) Flush() {
	c.inflight.Wait()
}

// All returns the feed newest-first.
func (c *Center) All() []model.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Notification, 0, len(c.items))
	for _, n := range c.items {
		out = append(out, n.Clone())
	}
	return out
}

func (c *Center) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, n := range c.items {
		if !n.Read {
			count++
		}
	}
	return count
}

// Add prepends a notification under a temporary identifier and persists
// it in the background. Persistence failure is logged and the local entry
// kept: a notification the user saw once beats one they never saw.
func (c *Center) Add(n model.Notification) model.Notification {
	if !model.IsTempID(n.ID) {
		n.ID = model.NewTempID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	c.mu.Lock()
	gen := c.gen
	identity := c.identity
	c.prependLocked(n)
	c.mu.Unlock()

	if identity == "" {
		return n
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		ctx := context.Background()
		id, err := c.data.InsertNotification(ctx, identity, n)
		if err != nil {
			c.log.Warn("notification not persisted", "tempID", n.ID, "error", err)
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen {
			return
		}
		for i := range c.items {
			if c.items[i].ID == n.ID {
				c.items[i].ID = id
				return
			}
		}
	}()
	return n
}

// Merge applies an inbound entry by identifier: replace when present,
// prepend when new. A push echo of a local insert that still carries a
// temporary identifier locally is matched by nothing and prepends; the
// next Load converges that.
func (c *Center) Merge(n model.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.items {
		if c.items[i].ID == n.ID {
			c.items[i] = n.Clone()
			return
		}
	}
	c.prependLocked(n)
}

func (c *Center) MarkRead(id string) {
	c.mu.Lock()
	found := false
	for i := range c.items {
		if c.items[i].ID == id {
			c.items[i].Read = true
			found = true
			break
		}
	}
	c.mu.Unlock()
	if !found || model.IsTempID(id) {
		return
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		if err := c.data.MarkNotificationRead(context.Background(), id); err != nil {
			c.log.Warn("mark-read not persisted", "id", id, "error", err)
		}
	}()
}

func (c *Center) MarkAllRead() {
	c.mu.Lock()
	identity := c.identity
	for i := range c.items {
		c.items[i].Read = true
	}
	c.mu.Unlock()
	if identity == "" {
		return
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		if err := c.data.MarkAllNotificationsRead(context.Background(), identity); err != nil {
			c.log.Warn("mark-all-read not persisted", "error", err)
		}
	}()
}

// Remove deletes an entry locally and fires a fire-and-forget remote
// delete. Same policy as entity deletes: no rollback.
func (c *Center) Remove(id string) {
	c.mu.Lock()
	for i := range c.items {
		if c.items[i].ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	if model.IsTempID(id) {
		return
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		if err := c.data.DeleteNotification(context.Background(), id); err != nil {
			c.log.Warn("notification delete not persisted", "id", id, "error", err)
		}
	}()
}

func (c *Center) ClearAll() {
	c.mu.Lock()
	identity := c.identity
	c.items = nil
	c.mu.Unlock()
	if identity == "" {
		return
	}

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		if err := c.data.ClearNotifications(context.Background(), identity); err != nil {
			c.log.Warn("notification clear not persisted", "error", err)
		}
	}()
}

// prependLocked adds newest-first and enforces the bound.
func (c *Center) prependLocked(n model.Notification) {
	c.items = append([]model.Notification{n.Clone()}, c.items...)
	if c.limit > 0 && len(c.items) > c.limit {
		c.items = c.items[:c.limit]
	}
}
