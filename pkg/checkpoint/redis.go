package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key prefixes.
const (
	RedisKeyCheckpointPrefix = "dispatch:checkpoint:"
	RedisKeyLeasePrefix      = "dispatch:lease:"
)

// DefaultRetention is how long a checkpoint outlives its last update.
const DefaultRetention = 14 * 24 * time.Hour

// releaseScript deletes the lease only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps checkpoints as JSON values in Redis.
type RedisStore struct {
	redis     *redis.Client
	retention time.Duration
}

// NewRedisStore creates a store. A retention <= 0 uses DefaultRetention.
func NewRedisStore(redisClient *redis.Client, retention time.Duration) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStore{redis: redisClient, retention: retention}
}

func checkpointKey(workday string) string { return RedisKeyCheckpointPrefix + workday }
func leaseKey(workday string) string      { return RedisKeyLeasePrefix + workday }

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, workday string) (*Checkpoint, error) {
	data, err := s.redis.Get(ctx, checkpointKey(workday)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		StoreErrors.WithLabelValues("redis", "get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		StoreErrors.WithLabelValues("redis", "get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidCheckpoint, err)
	}
	return &cp, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, cp *Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if err := s.redis.Set(ctx, checkpointKey(cp.Workday), data, s.retention).Err(); err != nil {
		StoreErrors.WithLabelValues("redis", "put").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, workday string) error {
	if err := s.redis.Del(ctx, checkpointKey(workday)).Err(); err != nil {
		StoreErrors.WithLabelValues("redis", "delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// AcquireLease implements Store with SET NX PX. Re-acquiring an own lease
// extends it.
func (s *RedisStore) AcquireLease(ctx context.Context, workday, owner string, ttl time.Duration) (bool, error) {
	key := leaseKey(workday)

	ok, err := s.redis.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		StoreErrors.WithLabelValues("redis", "lease").Inc()
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	if ok {
		return true, nil
	}

	holder, err := s.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between the two calls; try once more.
		return s.redis.SetNX(ctx, key, owner, ttl).Result()
	}
	if err != nil {
		StoreErrors.WithLabelValues("redis", "lease").Inc()
		return false, fmt.Errorf("redis get lease: %w", err)
	}
	if holder != owner {
		return false, nil
	}
	if err := s.redis.PExpire(ctx, key, ttl).Err(); err != nil {
		return false, fmt.Errorf("redis pexpire: %w", err)
	}
	return true, nil
}

// ReleaseLease implements Store.
func (s *RedisStore) ReleaseLease(ctx context.Context, workday, owner string) error {
	if err := releaseScript.Run(ctx, s.redis, []string{leaseKey(workday)}, owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		StoreErrors.WithLabelValues("redis", "lease").Inc()
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}
