package gate

import (
	"container/list"
	"sync"
	"time"

	"github.com/upb/audit-governance/models"
)

// cacheEntry represents a single cache entry with TTL
type cacheEntry struct {
	tenantID   string
	policies   []*models.LoadSheddingPolicy
	insertedAt time.Time
	element    *list.Element // For LRU tracking
}

// isExpired checks if the cache entry has expired
func (e *cacheEntry) isExpired(ttl time.Duration) bool {
	return time.Since(e.insertedAt) > ttl
}

// PolicyCache is an in-memory LRU cache with TTL for resolved policy sets,
// keyed by tenant. The TTL bounds how quickly a policy edit takes effect
// globally; entries are lazily refreshed on expiry and can be invalidated
// explicitly per tenant or globally.
// Thread-safe implementation using sync.Mutex.
type PolicyCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	lruList *list.List    // Doubly linked list for LRU tracking
	maxSize int           // Maximum number of tenants cached
	ttl     time.Duration // Time-to-live for entries
	hits    uint64
	misses  uint64
}

// NewPolicyCache creates a new PolicyCache with specified max size and TTL
func NewPolicyCache(maxSize int, ttl time.Duration) *PolicyCache {
	return &PolicyCache{
		entries: make(map[string]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get retrieves the cached policy set for a tenant.
// The second return value is false when absent or expired.
func (c *PolicyCache) Get(tenantID string) ([]*models.LoadSheddingPolicy, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[tenantID]
	if !exists || entry.isExpired(c.ttl) {
		c.misses++
		if exists {
			// Remove expired entry
			c.removeEntry(tenantID)
		}
		return nil, false
	}

	// Move to front (most recently used)
	c.lruList.MoveToFront(entry.element)
	c.hits++

	return entry.policies, true
}

// Set stores a tenant's policy set in the cache
func (c *PolicyCache) Set(tenantID string, policies []*models.LoadSheddingPolicy) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Check if entry already exists
	if entry, exists := c.entries[tenantID]; exists {
		entry.policies = policies
		entry.insertedAt = time.Now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	// Evict least recently used entry if cache is full
	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{
		tenantID:   tenantID,
		policies:   policies,
		insertedAt: time.Now(),
	}

	entry.element = c.lruList.PushFront(tenantID)
	c.entries[tenantID] = entry
}

// Invalidate removes the cached policy set for one tenant
func (c *PolicyCache) Invalidate(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeEntry(tenantID)
}

// InvalidateAll removes all cached policy sets
func (c *PolicyCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.lruList.Init()
}

// Stats returns cache statistics
func (c *PolicyCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: c.calculateHitRate(),
	}
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// calculateHitRate calculates the cache hit rate
func (c *PolicyCache) calculateHitRate() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

// removeEntry removes an entry from the cache (must be called with lock held)
func (c *PolicyCache) removeEntry(tenantID string) {
	if entry, exists := c.entries[tenantID]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, tenantID)
	}
}

// evictLRU evicts the least recently used entry (must be called with lock held)
func (c *PolicyCache) evictLRU() {
	backElement := c.lruList.Back()
	if backElement != nil {
		tenantID := backElement.Value.(string)
		c.lruList.Remove(backElement)
		delete(c.entries, tenantID)
	}
}
