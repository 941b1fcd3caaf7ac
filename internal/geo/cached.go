package geo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gatekeeper/internal/kvstore"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

const cacheKeyPrefix = "geo:"

// CachedLocator remembers positive answers in the key-value store and
// collapses concurrent lookups of the same address into one provider call.
type CachedLocator struct {
	next  Locator
	store kvstore.Store
	ttl   time.Duration
	group singleflight.Group
}

func NewCachedLocator(next Locator, store kvstore.Store, ttl time.Duration) *CachedLocator {
	return &CachedLocator{next: next, store: store, ttl: ttl}
}

func (c *CachedLocator) Lookup(ctx context.Context, ip string) (Location, error) {
	key := cacheKeyPrefix + ip

	if c.store != nil && c.ttl > 0 {
		if raw, err := c.store.Get(ctx, key); err == nil {
			var loc Location
			if json.Unmarshal(raw, &loc) == nil && !loc.Empty() {
				return loc, nil
			}
		} else if !errors.Is(err, kvstore.ErrNotFound) {
			log.Debug("geo: cache read failed", "error", err)
		}
	}

	res, err, _ := c.group.Do(ip, func() (interface{}, error) {
		return c.next.Lookup(ctx, ip)
	})
	if err != nil {
		return Location{}, err
	}
	loc := res.(Location)

	if c.store != nil && c.ttl > 0 && !loc.Empty() {
		if raw, err := json.Marshal(loc); err == nil {
			if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
				log.Debug("geo: cache write failed", "error", err)
			}
		}
	}
	return loc, nil
}
