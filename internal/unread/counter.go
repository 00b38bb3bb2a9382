// Package unread keeps per-contact unread message counts, seeded from
// durable read markers when the schema supports them and degrading to
// zero counts when it does not.
package unread

import (
	"fmt"
	"log/slog"
	"sync"

	"livesync/internal/models"
)

// MarkerStore is the durable read-marker surface. SupportsReadMarkers
// reports the schema probe result; when false the counter never touches
// the store and read state is local only.
type MarkerStore interface {
	SupportsReadMarkers() bool
	CountUnread(fromID, toID string) (int, error)
	MarkRead(fromID, toID string) error
}

// Counter owns the contact → unread count mapping. It is the only writer
// of that mapping.
type Counter struct {
	selfID string
	store  MarkerStore

	mu     sync.RWMutex
	counts map[string]int
}

func NewCounter(selfID string, store MarkerStore) *Counter {
	return &Counter{
		selfID: selfID,
		store:  store,
		counts: make(map[string]int),
	}
}

// Seed initializes counts for the given contacts. With read markers
// available each contact gets its persisted unread count; a per-contact
// store error degrades that contact to zero rather than failing the seed.
func (c *Counter) Seed(contacts []models.Contact) {
	markers := c.store != nil && c.store.SupportsReadMarkers()

	counts := make(map[string]int, len(contacts))
	for _, contact := range contacts {
		counts[contact.ContactID] = 0
		if !markers {
			continue
		}
		n, err := c.store.CountUnread(contact.ContactID, c.selfID)
		if err != nil {
			slog.Warn("unread seed failed", "contact_id", contact.ContactID, "error", err)
			continue
		}
		counts[contact.ContactID] = n
	}

	c.mu.Lock()
	c.counts = counts
	c.mu.Unlock()
}

// OnInboundMessage records one inbound message attributed to fromID.
// While that conversation is active its count stays zero; otherwise the
// count grows by exactly one per event.
func (c *Counter) OnInboundMessage(fromID string, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if active {
		c.counts[fromID] = 0
		return
	}
	c.counts[fromID]++
}

// MarkRead resets the local count to zero and, when the schema supports
// read markers, persists the read state. The local reset happens first
// and unconditionally: a failed or skipped durable write still leaves
// Get returning zero. The durable write error is returned for reporting.
func (c *Counter) MarkRead(contactID string) error {
	c.mu.Lock()
	c.counts[contactID] = 0
	c.mu.Unlock()

	if c.store == nil || !c.store.SupportsReadMarkers() {
		return nil
	}
	if err := c.store.MarkRead(contactID, c.selfID); err != nil {
		return fmt.Errorf("failed to persist read marker for %s: %w", contactID, err)
	}
	return nil
}

func (c *Counter) Get(contactID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counts[contactID]
}

// Counts returns a copy of the whole mapping.
func (c *Counter) Counts() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}
