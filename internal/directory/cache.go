package directory

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cached memoizes usernames and contact lists for ttl. Emails and push tokens
// always go to the store so a re-registered device is alerted at once. Errors
// are never cached.
type Cached struct {
	next  Directory
	cache *gocache.Cache
}

var _ Directory = (*Cached)(nil)

func NewCached(next Directory, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: gocache.New(ttl, 2*ttl)}
}

func (c *Cached) Username(ctx context.Context, userID string) (string, error) {
	return cachedString(c, "username:"+userID, func() (string, error) { return c.next.Username(ctx, userID) })
}

func (c *Cached) Email(ctx context.Context, userID string) (string, error) {
	return c.next.Email(ctx, userID)
}

func (c *Cached) Token(ctx context.Context, userID string) (string, error) {
	return c.next.Token(ctx, userID)
}

func (c *Cached) ContactIDs(ctx context.Context, userID string) ([]string, error) {
	key := "contacts:" + userID
	if v, ok := c.cache.Get(key); ok {
		return append([]string(nil), v.([]string)...), nil
	}
	ids, err := c.next.ContactIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, append([]string(nil), ids...), gocache.DefaultExpiration)
	return ids, nil
}

func cachedString(c *Cached, key string, load func() (string, error)) (string, error) {
	if v, ok := c.cache.Get(key); ok {
		return v.(string), nil
	}
	s, err := load()
	if err != nil {
		return "", err
	}
	c.cache.Set(key, s, gocache.DefaultExpiration)
	return s, nil
}
