package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

const visitedPrefix = "harvester:visited:"

// redisCommander is the slice of the go-redis client the ledger uses.
type redisCommander interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	SetEx(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Redis is a ledger shared by every process that uses the same run ID.
// Keys expire after the configured TTL so stale runs clean themselves up.
type Redis struct {
	client redisCommander
	hasher harvest.Hasher
	prefix string
	ttl    time.Duration
}

// RedisConfig controls key layout and lifetime.
type RedisConfig struct {
	RunID string
	TTL   time.Duration
}

// NewRedis builds a Redis-backed ledger scoped to cfg.RunID.
func NewRedis(client redisCommander, hasher harvest.Hasher, cfg RedisConfig) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("redis ledger requires a client")
	}
	if hasher == nil {
		return nil, fmt.Errorf("redis ledger requires a hasher")
	}
	if cfg.RunID == "" {
		return nil, fmt.Errorf("redis ledger requires a run id")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Redis{
		client: client,
		hasher: hasher,
		prefix: visitedPrefix + cfg.RunID + ":",
		ttl:    ttl,
	}, nil
}

func (r *Redis) key(rawURL string) (string, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	return r.hasher.Key(r.prefix, normalized), nil
}

// ShouldFetch reports whether no process has marked the URL yet.
func (r *Redis) ShouldFetch(ctx context.Context, rawURL string) (bool, error) {
	key, err := r.key(rawURL)
	if err != nil {
		return false, err
	}
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n == 0, nil
}

// MarkFetched records the URL, refreshing its TTL.
func (r *Redis) MarkFetched(ctx context.Context, rawURL string) error {
	key, err := r.key(rawURL)
	if err != nil {
		return err
	}
	if err := r.client.SetEx(ctx, key, "1", r.ttl).Err(); err != nil {
		return fmt.Errorf("redis setex: %w", err)
	}
	return nil
}

// MarkIfNew claims the URL with SETNX; only the first caller across all processes wins.
func (r *Redis) MarkIfNew(ctx context.Context, rawURL string) (bool, error) {
	key, err := r.key(rawURL)
	if err != nil {
		return false, err
	}
	won, err := r.client.SetNX(ctx, key, "1", r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return won, nil
}
