package cache

import (
	"context"
	"sync"
	"time"

	"github.com/zenGate-Global/tenant-pool/domains/credentials/be/service"
	"github.com/zenGate-Global/tenant-pool/platform/go/retry"
)

type memoryEntry struct {
	cred      service.Credentials
	expiresAt time.Time
}

// MemoryCache keeps credentials in process with a fixed TTL. A zero TTL never expires.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]memoryEntry
	ttl   time.Duration
	clock retry.Clock
}

// NewMemoryCache returns an empty cache.
func NewMemoryCache(ttl time.Duration, clock retry.Clock) *MemoryCache {
	if clock == nil {
		clock = retry.SystemClock()
	}
	return &MemoryCache{items: make(map[string]memoryEntry), ttl: ttl, clock: clock}
}

func (c *MemoryCache) Get(ctx context.Context, projectID string) (service.Credentials, error) {
	c.mu.RLock()
	entry, ok := c.items[projectID]
	c.mu.RUnlock()
	if !ok {
		return service.Credentials{}, service.ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && !c.clock.Now().Before(entry.expiresAt) {
		c.mu.Lock()
		delete(c.items, projectID)
		c.mu.Unlock()
		return service.Credentials{}, service.ErrCacheMiss
	}
	return entry.cred, nil
}

func (c *MemoryCache) Set(ctx context.Context, cred service.Credentials) error {
	entry := memoryEntry{cred: cred}
	if c.ttl > 0 {
		entry.expiresAt = c.clock.Now().Add(c.ttl)
	}
	c.mu.Lock()
	c.items[cred.ProjectID] = entry
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, projectID string) error {
	c.mu.Lock()
	delete(c.items, projectID)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.items = make(map[string]memoryEntry)
	c.mu.Unlock()
	return nil
}

var _ service.Cache = (*MemoryCache)(nil)
