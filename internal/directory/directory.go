// Package directory resolves peer profiles for contact display. A failed
// or empty lookup falls back to a generated label so one bad profile can
// never block event processing.
package directory

import (
	"context"
	"fmt"
	"time"

	"livesync/internal/models"

	"github.com/c-pro/geche"
)

// Directory resolves a peer identifier to a display profile.
type Directory interface {
	Lookup(id string) (models.Profile, error)
}

// FallbackName is the generated display label used when a lookup fails
// or the resolved profile carries no name.
func FallbackName(id string) string {
	return fmt.Sprintf("User %s", id)
}

// DisplayName resolves id through dir, falling back to a generated label.
func DisplayName(dir Directory, id string) string {
	if dir == nil {
		return FallbackName(id)
	}
	p, err := dir.Lookup(id)
	if err != nil || p.DisplayName == "" {
		return FallbackName(id)
	}
	return p.DisplayName
}

// Cached decorates a Directory with a TTL cache so repeated lookups for
// the same peer (one per inbound event) do not hit the backing source.
type Cached struct {
	inner Directory
	cache geche.Geche[string, models.Profile]
}

func NewCached(ctx context.Context, inner Directory, ttl time.Duration) *Cached {
	return &Cached{
		inner: inner,
		cache: geche.NewMapTTLCache[string, models.Profile](ctx, ttl, time.Minute),
	}
}

func (c *Cached) Lookup(id string) (models.Profile, error) {
	if p, err := c.cache.Get(id); err == nil {
		return p, nil
	}

	p, err := c.inner.Lookup(id)
	if err != nil {
		return models.Profile{}, err
	}
	c.cache.Set(id, p)
	return p, nil
}
