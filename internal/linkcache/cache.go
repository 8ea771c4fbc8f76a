package linkcache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dubinc/dub-sub034/internal/models"
	"github.com/go-redis/redis/v8"
)

// keyPrefix namespaces all cache entries. The projection shape stored under
// these keys is a contract shared with the redirect path; all writers must
// go through Set/Delete/Rename rather than touching keys directly.
const keyPrefix = "linkcache:"

// Cache is a Redis-backed mirror of link metadata keyed by (domain, key).
// It holds derived, rebuildable copies only; on any disagreement with the
// relational store the store wins and the entry must be rewritten.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache creates a new link cache
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{
		client: client,
		ttl:    ttl,
	}
}

// cacheKey builds the Redis key for a (domain, key) pair. Domains and keys
// are case-insensitive.
func cacheKey(domain, key string) string {
	return keyPrefix + strings.ToLower(domain) + ":" + strings.ToLower(key)
}

// Get returns the cached projection for (domain, key). A miss returns
// (nil, nil); it is a valid outcome, not an error.
func (c *Cache) Get(ctx context.Context, domain, key string) (*models.LinkView, error) {
	data, err := c.client.Get(ctx, cacheKey(domain, key)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get link from cache: %w", err)
	}

	var view models.LinkView
	if err := json.Unmarshal([]byte(data), &view); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached link: %w", err)
	}
	return &view, nil
}

// Set writes the denormalized projection for a link, unconditionally
// overwriting any existing entry. Writes are always sourced from the
// relational store, so last-writer-wins is acceptable.
func (c *Cache) Set(ctx context.Context, view *models.LinkView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to marshal link view: %w", err)
	}

	if err := c.client.Set(ctx, cacheKey(view.Domain, view.Key), data, c.entryTTL(view)).Err(); err != nil {
		return fmt.Errorf("failed to set link in cache: %w", err)
	}
	return nil
}

// SetMany writes a batch of projections in a single pipeline
func (c *Cache) SetMany(ctx context.Context, views []*models.LinkView) error {
	if len(views) == 0 {
		return nil
	}

	pipe := c.client.TxPipeline()
	for _, view := range views {
		data, err := json.Marshal(view)
		if err != nil {
			return fmt.Errorf("failed to marshal link view: %w", err)
		}
		pipe.Set(ctx, cacheKey(view.Domain, view.Key), data, c.entryTTL(view))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set links in cache: %w", err)
	}
	return nil
}

// Delete removes the entry for (domain, key). Used on link deletion and
// workspace detachment; deletion is synchronous on those paths.
func (c *Cache) Delete(ctx context.Context, domain, key string) error {
	if err := c.client.Del(ctx, cacheKey(domain, key)).Err(); err != nil {
		return fmt.Errorf("failed to delete link from cache: %w", err)
	}
	return nil
}

// Pair identifies a cache entry by its (domain, key) pair
type Pair struct {
	Domain string
	Key    string
}

// DeleteMany removes a batch of entries in a single round trip
func (c *Cache) DeleteMany(ctx context.Context, pairs []Pair) error {
	if len(pairs) == 0 {
		return nil
	}

	keys := make([]string, len(pairs))
	for i, p := range pairs {
		keys[i] = cacheKey(p.Domain, p.Key)
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete links from cache: %w", err)
	}
	return nil
}

// Rename moves a batch of entries from oldDomain to newDomain, preserving
// per-link fields. The writes and deletes for one batch go through a single
// pipeline, so both keys never resolve for longer than one batch; callers
// retry with further pages until the source domain is empty.
func (c *Cache) Rename(ctx context.Context, oldDomain, newDomain string, views []*models.LinkView) error {
	if len(views) == 0 {
		return nil
	}

	pipe := c.client.TxPipeline()
	for _, view := range views {
		moved := *view
		moved.Domain = newDomain

		data, err := json.Marshal(&moved)
		if err != nil {
			return fmt.Errorf("failed to marshal link view: %w", err)
		}
		pipe.Set(ctx, cacheKey(newDomain, moved.Key), data, c.entryTTL(&moved))
		pipe.Del(ctx, cacheKey(oldDomain, view.Key))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to rename links in cache: %w", err)
	}
	return nil
}

// entryTTL returns the TTL for a cache entry, clamped to the link's
// expiration when it falls inside the default TTL window.
func (c *Cache) entryTTL(view *models.LinkView) time.Duration {
	if view.ExpiresAt != nil {
		until := time.Until(*view.ExpiresAt)
		if until > 0 && until < c.ttl {
			return until
		}
	}
	return c.ttl
}
