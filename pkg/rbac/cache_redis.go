package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// DefaultRedisPrefix namespaces decision cache keys
	DefaultRedisPrefix = "corkboard:authz"

	// epochTTL outlives any entry so an epoch cannot reset while entries fenced by it exist
	epochTTL = 24 * time.Hour
)

// putIfEpoch stores a hash field only when the user's epoch still matches.
// KEYS[1] epoch key, KEYS[2] user hash; ARGV: expected epoch, field, value, ttl seconds.
var putIfEpoch = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
	current = '0'
end
if current ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[2], ARGV[2], ARGV[3])
redis.call('EXPIRE', KEYS[2], tonumber(ARGV[4]))
return 1
`)

// RedisCache is a DecisionCache shared across instances.
// Each user owns one hash (prefix:user:{id}) keyed by scope, so EvictUser is a
// single DEL, plus an epoch counter (prefix:epoch:{id}).
type RedisCache struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisCache creates a Redis-backed decision cache on an existing client
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{redis: client, prefix: prefix, ttl: ttl, now: time.Now}
}

// DialRedisCache connects to Redis and verifies the connection
func DialRedisCache(ctx context.Context, addr, password string, db int, prefix string, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisCache(client, prefix, ttl), nil
}

// Client returns the underlying Redis client
func (c *RedisCache) Client() *redis.Client {
	return c.redis
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.redis.Close()
}

func (c *RedisCache) userKey(userID int64) string {
	return fmt.Sprintf("%s:user:%d", c.prefix, userID)
}

func (c *RedisCache) epochKey(userID int64) string {
	return fmt.Sprintf("%s:epoch:%d", c.prefix, userID)
}

// Get implements DecisionCache
func (c *RedisCache) Get(ctx context.Context, userID int64, scope Scope) (*Entry, error) {
	cached, err := c.redis.HGet(ctx, c.userKey(userID), scope.String()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read decision cache: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(cached), &entry); err != nil {
		c.redis.HDel(ctx, c.userKey(userID), scope.String())
		return nil, ErrCacheMiss
	}
	if entry.expired(c.now()) {
		c.redis.HDel(ctx, c.userKey(userID), scope.String())
		return nil, ErrCacheMiss
	}
	return &entry, nil
}

// Put implements DecisionCache
func (c *RedisCache) Put(ctx context.Context, userID int64, scope Scope, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("entry cannot be nil")
	}

	stored := *entry
	stored.Scope = scope
	if stored.ExpiresAt.IsZero() {
		stored.ExpiresAt = c.now().Add(c.ttl)
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to encode decision: %w", err)
	}

	keys := []string{c.epochKey(userID), c.userKey(userID)}
	args := []interface{}{
		strconv.FormatUint(entry.Epoch, 10),
		scope.String(),
		data,
		int64(c.ttl / time.Second),
	}
	if err := putIfEpoch.Run(ctx, c.redis, keys, args...).Err(); err != nil {
		return fmt.Errorf("failed to write decision cache: %w", err)
	}
	return nil
}

// Evict implements DecisionCache
func (c *RedisCache) Evict(ctx context.Context, userID int64, scope Scope) error {
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.epochKey(userID))
		pipe.Expire(ctx, c.epochKey(userID), epochTTL)
		pipe.HDel(ctx, c.userKey(userID), scope.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to evict decision: %w", err)
	}
	return nil
}

// EvictUser implements DecisionCache
func (c *RedisCache) EvictUser(ctx context.Context, userID int64) error {
	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.epochKey(userID))
		pipe.Expire(ctx, c.epochKey(userID), epochTTL)
		pipe.Del(ctx, c.userKey(userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to evict user decisions: %w", err)
	}
	return nil
}

// Epoch implements DecisionCache
func (c *RedisCache) Epoch(ctx context.Context, userID int64) (uint64, error) {
	val, err := c.redis.Get(ctx, c.epochKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cache epoch: %w", err)
	}
	epoch, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cache epoch %q: %w", val, err)
	}
	return epoch, nil
}
