package watermark

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding one field per query type.
const DefaultRedisKey = "sierra:last_updated"

// RedisStore keeps watermarks in a Redis hash.
type RedisStore struct {
	redis *redis.Client
	key   string
}

// NewRedisStore creates a Redis-backed store. An empty key uses DefaultRedisKey.
func NewRedisStore(redisClient *redis.Client, key string) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{redis: redisClient, key: key}
}

// Load reads the hash. A missing key is ErrStoreNotFound.
func (r *RedisStore) Load(ctx context.Context) (*State, error) {
	exists, err := r.redis.Exists(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis exists: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: redis key %s", ErrStoreNotFound, r.key)
	}

	dates, err := r.redis.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	return NewState(dates), nil
}

// Save writes every entry in a single HSET.
func (r *RedisStore) Save(ctx context.Context, state *State) error {
	dates := state.Dates()
	if len(dates) == 0 {
		return nil
	}

	values := make([]any, 0, len(dates)*2)
	for _, k := range state.Keys() {
		values = append(values, k, dates[k])
	}
	if err := r.redis.HSet(ctx, r.key, values...).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}
