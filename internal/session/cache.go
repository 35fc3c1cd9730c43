package session

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// Cached is a read-through, write-through cache in front of a Store.
// Misses are not cached so a new session is visible on the next Get.
type Cached struct {
	next  Store
	cache *cache.Cache
}

func NewCached(next Store, ttl time.Duration) *Cached {
	cleanup := 2 * ttl
	return &Cached{next: next, cache: cache.New(ttl, cleanup)}
}

func (c *Cached) Get(ctx context.Context, chatID int64) (Session, error) {
	k := Key(chatID)
	if x, ok := c.cache.Get(k); ok {
		return x.(Session), nil
	}
	v, err := c.next.Get(ctx, chatID)
	if err != nil {
		return Session{}, err
	}
	c.cache.Set(k, v, cache.DefaultExpiration)
	return v, nil
}

func (c *Cached) Put(ctx context.Context, v Session) error {
	if err := c.next.Put(ctx, v); err != nil {
		c.cache.Delete(v.Key())
		return err
	}
	c.cache.Set(v.Key(), v, cache.DefaultExpiration)
	return nil
}

func (c *Cached) Compact(ctx context.Context) error {
	c.cache.DeleteExpired()
	return c.next.Compact(ctx)
}

func (c *Cached) Close() error {
	c.cache.Flush()
	return c.next.Close()
}
