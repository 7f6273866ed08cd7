package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStore puts Redis in front of another Client for login lookups.
// Redis: fast path for clientId -> contentId
// next: source of truth, every other call goes straight through
type CachedStore struct {
	next   Client
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisClient connects to redisURL ("redis://host:port/db" or bare
// "host:port") and verifies the connection with a ping.
func NewRedisClient(redisURL, password string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		if strings.Contains(redisURL, "://") {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		opts = &redis.Options{Addr: redisURL}
	}
	if password != "" {
		opts.Password = password
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return rdb, nil
}

// NewCachedStore wraps next. A nil client disables caching.
func NewCachedStore(next Client, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedStore{next: next, client: client, ttl: ttl, logger: logger}
}

func contentKey(table, clientID string) string {
	return fmt.Sprintf("runserver:content:%s:%s", table, clientID)
}

// LookupContentID tries Redis first, falls back to the wrapped store and
// warms the cache on a hit there. Only found identities are cached.
func (c *CachedStore) LookupContentID(ctx context.Context, clientID, table string) (string, bool, error) {
	if c.client == nil {
		return c.next.LookupContentID(ctx, clientID, table)
	}

	key := contentKey(table, clientID)
	contentID, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		return contentID, true, nil
	case errors.Is(err, redis.Nil):
		// miss
	default:
		c.logger.Warn("redis_lookup_failed_fallback_to_store",
			"client_id", clientID,
			"error", err,
		)
	}

	contentID, found, err := c.next.LookupContentID(ctx, clientID, table)
	if err != nil || !found {
		return contentID, found, err
	}

	if err := c.client.Set(ctx, key, contentID, c.ttl).Err(); err != nil {
		c.logger.Warn("redis_cache_warm_failed",
			"client_id", clientID,
			"error", err,
		)
	}
	return contentID, true, nil
}

func (c *CachedStore) GetRecordByID(ctx context.Context, table, id string) (Record, error) {
	return c.next.GetRecordByID(ctx, table, id)
}

// UpsertRecord writes through and drops the cached content id for the row
func (c *CachedStore) UpsertRecord(ctx context.Context, table string, data Record) (bool, error) {
	ok, err := c.next.UpsertRecord(ctx, table, data)
	if err != nil || c.client == nil {
		return ok, err
	}
	if id, hasID := data.ID(); hasID {
		if err := c.client.Del(ctx, contentKey(table, id)).Err(); err != nil {
			c.logger.Warn("redis_cache_invalidate_failed",
				"id", id,
				"error", err,
			)
		}
	}
	return ok, nil
}

func (c *CachedStore) ListAllRecords(ctx context.Context, table string) ([]Record, error) {
	return c.next.ListAllRecords(ctx, table)
}

func (c *CachedStore) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
