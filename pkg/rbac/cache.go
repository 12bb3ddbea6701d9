package rbac

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultCacheTTL bounds how long a decision survives if an invalidation is lost
const DefaultCacheTTL = 5 * time.Minute

// Entry is the cached resolution for one (user, scope) pair
type Entry struct {
	Scope Scope `json:"scope"`

	// WorkspaceID is the owning workspace for board scopes
	WorkspaceID int64 `json:"workspace_id,omitempty"`

	// DirectRole comes from the membership row at the scope itself
	DirectRole Role `json:"direct_role,omitempty"`

	// InheritedRole comes from the owning workspace membership (board scopes only)
	InheritedRole Role `json:"inherited_role,omitempty"`

	// Epoch is the user's invalidation epoch observed before the stores were read
	Epoch uint64 `json:"epoch"`

	ExpiresAt time.Time `json:"expires_at"`
}

// Effective returns the effective role for the scope
func (e *Entry) Effective() Role {
	return Higher(e.DirectRole, e.InheritedRole)
}

func (e *Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// DecisionCache stores resolved access per (user, scope).
//
// Every eviction advances the user's epoch, and Put only stores entries whose
// Epoch matches the current one, so a resolution that started before a
// membership mutation can never repopulate the cache after it.
type DecisionCache interface {
	// Get returns a live entry or ErrCacheMiss
	Get(ctx context.Context, userID int64, scope Scope) (*Entry, error)

	// Put stores an entry unless the user's epoch moved since entry.Epoch was read
	Put(ctx context.Context, userID int64, scope Scope, entry *Entry) error

	// Evict removes one entry and advances the user's epoch
	Evict(ctx context.Context, userID int64, scope Scope) error

	// EvictUser removes every entry of a user and advances the user's epoch
	EvictUser(ctx context.Context, userID int64) error

	// Epoch returns the user's current invalidation epoch
	Epoch(ctx context.Context, userID int64) (uint64, error)
}

// CacheStats reports cache effectiveness
type CacheStats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	ItemCount int64   `json:"item_count"`
	HitRate   float64 `json:"hit_rate"`
}

// NoopCache never stores anything
type NoopCache struct{}

func (NoopCache) Get(context.Context, int64, Scope) (*Entry, error) { return nil, ErrCacheMiss }
func (NoopCache) Put(context.Context, int64, Scope, *Entry) error { return nil }
func (NoopCache) Evict(context.Context, int64, Scope) error { return nil }
func (NoopCache) EvictUser(context.Context, int64) error { return nil }
func (NoopCache) Epoch(context.Context, int64) (uint64, error) { return 0, nil }

// MemoryCache is an in-process DecisionCache backed by an expirable LRU.
//
// Per-user epochs live in a bounded LRU. Dropping a user's counter advances
// base past it, so no user's epoch ever goes back to a value an in-flight
// load may still hold.
type MemoryCache struct {
	mu      sync.Mutex
	entries *expirable.LRU[string, *Entry]
	epochs  *lru.Cache[int64, uint64]
	base    uint64 // added to every user's epoch; advanced by Purge and epoch eviction
	ttl     time.Duration
	now     func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemoryCache creates an in-memory decision cache
func NewMemoryCache(maxEntries int, ttl time.Duration) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &MemoryCache{
		entries: expirable.NewLRU[string, *Entry](maxEntries, nil, ttl),
		ttl:     ttl,
		now:     time.Now,
	}
	// only fails for a non-positive size
	c.epochs, _ = lru.NewWithEvict[int64, uint64](maxEntries, func(_ int64, epoch uint64) {
		c.base += epoch + 1
	})
	return c
}

// epoch and bump must be called with mu held
func (c *MemoryCache) epoch(userID int64) uint64 {
	n, _ := c.epochs.Peek(userID)
	return c.base + n
}

func (c *MemoryCache) bump(userID int64) {
	n, _ := c.epochs.Get(userID)
	c.epochs.Add(userID, n+1)
}

func memoryKey(userID int64, scope Scope) string {
	return fmt.Sprintf("%d|%s", userID, scope)
}

// Get implements DecisionCache
func (c *MemoryCache) Get(_ context.Context, userID int64, scope Scope) (*Entry, error) {
	entry, ok := c.entries.Get(memoryKey(userID, scope))
	if !ok || entry.expired(c.now()) {
		c.misses.Add(1)
		return nil, ErrCacheMiss
	}
	c.hits.Add(1)
	out := *entry
	return &out, nil
}

// Put implements DecisionCache
func (c *MemoryCache) Put(_ context.Context, userID int64, scope Scope, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("entry cannot be nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry.Epoch != c.epoch(userID) {
		return nil
	}
	stored := *entry
	stored.Scope = scope
	if stored.ExpiresAt.IsZero() {
		stored.ExpiresAt = c.now().Add(c.ttl)
	}
	c.entries.Add(memoryKey(userID, scope), &stored)
	return nil
}

// Evict implements DecisionCache
func (c *MemoryCache) Evict(_ context.Context, userID int64, scope Scope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bump(userID)
	c.entries.Remove(memoryKey(userID, scope))
	return nil
}

// EvictUser implements DecisionCache
func (c *MemoryCache) EvictUser(_ context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bump(userID)
	prefix := fmt.Sprintf("%d|", userID)
	for _, key := range c.entries.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.entries.Remove(key)
		}
	}
	return nil
}

// Epoch implements DecisionCache
func (c *MemoryCache) Epoch(_ context.Context, userID int64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch(userID), nil
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() CacheStats {
	stats := CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		ItemCount: int64(c.entries.Len()),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Purge drops every entry and advances the epoch of every user
func (c *MemoryCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.base++
	c.entries.Purge()
}
