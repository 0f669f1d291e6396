package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ShopScout/server/internal/config"
	"ShopScout/server/internal/interfaces"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) GetClient() *redis.Client {
	return s.client
}

// Helper methods for common operations
func (s *RedisStore) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return s.client.Set(ctx, key, value, expiration).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	return s.client.Get(ctx, key).Result()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

// Recent-turn cache. The hot read path (memory decision and retrieval) wants
// the last few turns without a database round-trip.
const (
	turnListKeyFmt  = "session:%s:turns"
	turnListMaxSize = 64
	turnListTTL     = 24 * time.Hour
)

// PushTurn appends a turn to the session's recent-turn list.
func (s *RedisStore) PushTurn(ctx context.Context, turn interfaces.Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	key := fmt.Sprintf(turnListKeyFmt, turn.SessionID)
	if err := s.client.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("failed to push turn: %w", err)
	}
	if err := s.client.LTrim(ctx, key, 0, int64(turnListMaxSize-1)).Err(); err != nil {
		return fmt.Errorf("failed to trim turn list: %w", err)
	}
	return s.client.Expire(ctx, key, turnListTTL).Err()
}

// RecentTurns returns the most recent cached turns in chronological order.
func (s *RedisStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]interfaces.Turn, error) {
	if limit <= 0 || limit > turnListMaxSize {
		limit = turnListMaxSize
	}

	key := fmt.Sprintf(turnListKeyFmt, sessionID)
	results, err := s.client.LRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read turn list: %w", err)
	}

	turns := make([]interfaces.Turn, 0, len(results))
	for i := len(results) - 1; i >= 0; i-- {
		var turn interfaces.Turn
		if err := json.Unmarshal([]byte(results[i]), &turn); err != nil {
			continue // Skip invalid entries
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Session locks. Concurrent turns on one session must be serialized; the lock
// makes the coordinator the single writer for the session's current turn.
const (
	sessionLockKeyFmt = "session:%s:lock"
	sessionLockTTL    = 2 * time.Minute
)

// AcquireSessionLock takes the per-session lock, returning false when another
// turn holds it.
func (s *RedisStore) AcquireSessionLock(ctx context.Context, sessionID, owner string) (bool, error) {
	key := fmt.Sprintf(sessionLockKeyFmt, sessionID)
	return s.client.SetNX(ctx, key, owner, sessionLockTTL).Result()
}

// ReleaseSessionLock releases the lock if still held by owner.
func (s *RedisStore) ReleaseSessionLock(ctx context.Context, sessionID, owner string) error {
	key := fmt.Sprintf(sessionLockKeyFmt, sessionID)
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if val != owner {
		return nil // Expired and re-acquired elsewhere
	}
	return s.client.Del(ctx, key).Err()
}
