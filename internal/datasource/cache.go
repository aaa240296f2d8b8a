package datasource

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultCacheTTL bounds how long a fetched bandwidth value is reused before
// asking the backend again.
const DefaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	value   any
	expires time.Time
}

type ttlCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

func newTTLCache() *ttlCache {
	return &ttlCache{entries: map[string]cacheEntry{}, now: time.Now}
}

func (c *ttlCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *ttlCache) set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expires: c.now().Add(ttl)}
}

// CachedClient wraps a Client with a short-lived value cache. Picker lookups
// and resolved values are cached; TestConnection always goes upstream.
type CachedClient struct {
	inner Client
	ttl   time.Duration
	cache *ttlCache
}

func NewCachedClient(inner Client, ttl time.Duration) *CachedClient {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedClient{inner: inner, ttl: ttl, cache: newTTLCache()}
}

func (c *CachedClient) TestConnection(ctx context.Context) (string, error) {
	return c.inner.TestConnection(ctx)
}

func (c *CachedClient) Hosts(ctx context.Context, search string) ([]Host, error) {
	key := "hosts:" + search
	if v, ok := c.cache.get(key); ok {
		return v.([]Host), nil
	}
	hosts, err := c.inner.Hosts(ctx, search)
	if err != nil {
		return nil, err
	}
	c.cache.set(key, hosts, c.ttl)
	return hosts, nil
}

func (c *CachedClient) InterfaceOptions(ctx context.Context, hostID string) ([]InterfaceOption, error) {
	key := "ifaces:" + hostID
	if v, ok := c.cache.get(key); ok {
		return v.([]InterfaceOption), nil
	}
	opts, err := c.inner.InterfaceOptions(ctx, hostID)
	if err != nil {
		return nil, err
	}
	c.cache.set(key, opts, c.ttl)
	return opts, nil
}

func (c *CachedClient) ResolveCurrent(ctx context.Context, sel Selector) (CurrentValues, error) {
	key := "current:" + sel.String()
	if v, ok := c.cache.get(key); ok {
		return v.(CurrentValues), nil
	}
	cv, err := c.inner.ResolveCurrent(ctx, sel)
	if err != nil {
		return CurrentValues{}, err
	}
	c.cache.set(key, cv, c.ttl)
	return cv, nil
}

func (c *CachedClient) ResolveSeries(ctx context.Context, sel Selector, window time.Duration) (*BandwidthSeries, error) {
	key := fmt.Sprintf("series:%s:%d", sel.String(), int64(window/time.Second))
	if v, ok := c.cache.get(key); ok {
		return v.(*BandwidthSeries), nil
	}
	bs, err := c.inner.ResolveSeries(ctx, sel, window)
	if err != nil {
		return nil, err
	}
	c.cache.set(key, bs, c.ttl)
	return bs, nil
}
