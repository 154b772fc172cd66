// Redis-backed Store, grounded on
// original_source/core/state/state_persistence.py's StateManager
// (host/port/password/db config, setex-with-TTL save, get-then-decode
// load), rewritten against github.com/redis/go-redis/v9 instead of the
// original's redis-py client.
package state

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists the state document through a redis.Client.
type RedisStore struct {
	client *redis.Client
}

// RedisConfig mirrors the connection fields
// original_source/config/settings.py reads for Redis.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisStore dials cfg and returns a ready RedisStore.
func NewRedisStore(cfg RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:         redisAddr(cfg),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	return &RedisStore{client: client}
}

func redisAddr(cfg RedisConfig) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6379
	}
	return host + ":" + strconv.Itoa(port)
}

// Set writes value under key with the given TTL, matching the
// original's SETEX call.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Get reads the value stored at key, returning ErrNotFound if it is
// absent or expired.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Ping checks connectivity, matching the original's is_connected().
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

var _ Store = (*RedisStore)(nil)
