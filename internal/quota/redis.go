package quota

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares quota counters across processes. Keys expire two days
// after first use since the tracker never reads past days.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: 48 * time.Hour}
}

func (s *RedisStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	count, err := s.rdb.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, err
	}

	// Set the expiration only when the key was just created.
	if count == delta {
		s.rdb.Expire(ctx, key, s.ttl)
	}

	return count, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	count, err := s.rdb.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return count, err
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}
