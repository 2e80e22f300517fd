package dashboard

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/yeoskin/backend/internal/events"
	"github.com/yeoskin/backend/internal/metrics"
)

// Cache keeps built dashboards for a short TTL. It is dropped for a creator on any event
// about that creator, so a read after a write never sees the old projection. Every
// invalidation bumps the creator's generation; Put refuses a dashboard loaded under an older
// generation, since a write may have committed while it was being built.
type Cache struct {
	ttl     time.Duration
	clock   clockwork.Clock
	mu      sync.Mutex
	entries map[uuid.UUID]cacheEntry
	gens    map[uuid.UUID]uint64
}

type cacheEntry struct {
	d       *Dashboard
	expires time.Time
}

func NewCache(ttl time.Duration, clock clockwork.Clock) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{ttl: ttl, clock: clock, entries: make(map[uuid.UUID]cacheEntry), gens: make(map[uuid.UUID]uint64)}
}

func (c *Cache) Get(creatorID uuid.UUID) (*Dashboard, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[creatorID]
	if !ok || !c.clock.Now().Before(e.expires) {
		delete(c.entries, creatorID)
		metrics.DashboardCacheTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.DashboardCacheTotal.WithLabelValues("hit").Inc()
	return e.d, true
}

// Generation is read before loading a dashboard and handed back to Put.
func (c *Cache) Generation(creatorID uuid.UUID) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[creatorID]
}

// Put stores d unless the creator was invalidated after gen was read.
func (c *Cache) Put(creatorID uuid.UUID, gen uint64, d *Dashboard) bool {
	if c.ttl <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[creatorID] != gen {
		metrics.DashboardCacheTotal.WithLabelValues("stale").Inc()
		return false
	}
	c.entries[creatorID] = cacheEntry{d: d, expires: c.clock.Now().Add(c.ttl)}
	return true
}

func (c *Cache) Invalidate(creatorID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[creatorID]++
	if _, ok := c.entries[creatorID]; ok {
		delete(c.entries, creatorID)
		metrics.DashboardCacheTotal.WithLabelValues("invalidated").Inc()
	}
}

// Subscribe invalidates on every bus event that names a creator. Batch events carry no
// creator; their items publish their own events.
func (c *Cache) Subscribe(bus *events.Bus) func() {
	return bus.Subscribe(func(e events.Event) {
		if e.CreatorID != uuid.Nil {
			c.Invalidate(e.CreatorID)
		}
	})
}
