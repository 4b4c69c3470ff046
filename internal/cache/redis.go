package cache

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Admin aggregates are cheap to serve slightly stale, so entries live for
// one minute and queue handlers invalidate the prefix on any write.
const defaultTTL = 60 * time.Second

// Redis is a small read-through cache for expensive admin aggregates.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects using a redis URL. Bare host:port addresses get the
// redis:// scheme prepended so a plain REDIS_URL works too.
func NewRedis(redisURL string) (*Redis, error) {
	u := redisURL
	if u != "" && !strings.HasPrefix(u, "redis://") && !strings.HasPrefix(u, "rediss://") {
		u = "redis://" + u
	}
	opt, err := redis.ParseURL(u)
	if err != nil {
		return nil, err
	}
	return &Redis{client: redis.NewClient(opt), ttl: defaultTTL}, nil
}

// Get returns the cached payload, or nil on a miss.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return b, err
}

func (r *Redis) Set(ctx context.Context, key string, val []byte) error {
	return r.client.Set(ctx, key, val, r.ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// DeleteByPrefix removes all keys matching prefix (e.g. "admin:").
func (r *Redis) DeleteByPrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			_ = r.client.Del(ctx, keys...).Err()
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
