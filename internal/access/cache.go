package access

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/deskpulse/internal/adapter/metrics"
	"github.com/pscheid92/deskpulse/internal/domain"
)

// OwnershipCache remembers which organization owns a topic's entity for a
// fixed TTL. A non-positive TTL disables caching.
type OwnershipCache struct {
	mu      sync.RWMutex
	entries map[domain.Topic]cacheEntry
	ttl     time.Duration
	clock   clockwork.Clock
	metrics *metrics.CacheMetrics
}

type cacheEntry struct {
	organizationID string
	expiresAt      time.Time
}

func NewOwnershipCache(ttl time.Duration, clock clockwork.Clock, m *metrics.CacheMetrics) *OwnershipCache {
	return &OwnershipCache{
		entries: make(map[domain.Topic]cacheEntry),
		ttl:     ttl,
		clock:   clock,
		metrics: m,
	}
}

// Get returns the cached owner if present and not expired.
func (c *OwnershipCache) Get(topic domain.Topic) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[topic]
	if !ok || c.clock.Now().After(entry.expiresAt) {
		// Expired entries are left for EvictExpired.
		return "", false
	}
	return entry.organizationID, true
}

func (c *OwnershipCache) Set(topic domain.Topic, organizationID string) {
	if c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[topic] = cacheEntry{
		organizationID: organizationID,
		expiresAt:      c.clock.Now().Add(c.ttl),
	}
}

// Size returns the number of entries, including expired ones not yet evicted.
func (c *OwnershipCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// EvictExpired removes expired entries and returns how many were dropped.
func (c *OwnershipCache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	evicted := 0
	for topic, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, topic)
			evicted++
		}
	}
	return evicted
}

// StartEvictionTimer evicts expired entries every interval until the
// returned stop function is called.
func (c *OwnershipCache) StartEvictionTimer(interval time.Duration) func() {
	ticker := c.clock.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				evicted := c.EvictExpired()
				if evicted > 0 {
					slog.Debug("Evicted expired ownership cache entries",
						"count", evicted,
						"remaining", c.Size(),
					)
				}
				if c.metrics != nil {
					c.metrics.Evictions.Add(float64(evicted))
					c.metrics.Entries.Set(float64(c.Size()))
				}
			case <-done:
				return
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }
}
