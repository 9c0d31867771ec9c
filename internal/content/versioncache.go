package content

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	haven "github.com/haven-app/haven/internal"
	"github.com/haven-app/haven/internal/storage"
	"github.com/haven-app/haven/internal/telemetry"
)

const versionPath = "admin/version_control/version.json"

// DefaultVersionTTL is how long a fetched version document stays fresh.
const DefaultVersionTTL = 4 * time.Hour

// VersionCache serves the app version document with a TTL cache in front
// of storage. Concurrent refreshes of an expired entry are collapsed into
// a single storage read.
type VersionCache struct {
	store   storage.Store
	ttl     time.Duration
	now     func() time.Time
	metrics *telemetry.Metrics

	group singleflight.Group

	mu        sync.Mutex
	value     json.RawMessage
	fetchedAt time.Time
}

// NewVersionCache returns a VersionCache with the given TTL. A zero ttl
// uses DefaultVersionTTL.
func NewVersionCache(store storage.Store, ttl time.Duration, metrics *telemetry.Metrics) *VersionCache {
	return NewVersionCacheWithClock(store, ttl, metrics, time.Now)
}

// NewVersionCacheWithClock is NewVersionCache with an injected clock.
func NewVersionCacheWithClock(store storage.Store, ttl time.Duration, metrics *telemetry.Metrics, now func() time.Time) *VersionCache {
	if ttl <= 0 {
		ttl = DefaultVersionTTL
	}
	return &VersionCache{store: store, ttl: ttl, metrics: metrics, now: now}
}

// GetOrRefresh returns the cached version document, refreshing it from
// storage when the entry is missing or older than the TTL. A missing
// version object surfaces as ErrNotFound.
func (c *VersionCache) GetOrRefresh(ctx context.Context) (json.RawMessage, error) {
	c.mu.Lock()
	if c.value != nil && c.now().Sub(c.fetchedAt) < c.ttl {
		doc := c.value
		c.mu.Unlock()
		c.metrics.CacheHits.Inc()
		return doc, nil
	}
	c.mu.Unlock()
	c.metrics.CacheMisses.Inc()

	v, err, _ := c.group.Do("version", func() (any, error) {
		doc, err := c.store.LoadObject(ctx, versionPath)
		if err != nil {
			return nil, err
		}
		if !json.Valid(doc) {
			return nil, fmt.Errorf("%w: version document is not valid JSON", haven.ErrStorage)
		}
		c.mu.Lock()
		c.value = doc
		c.fetchedAt = c.now()
		c.mu.Unlock()
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}
