package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chainflow/relay-engine/pkg/model"
)

// ErrNotFound is returned when no snapshot exists for an execution id.
var ErrNotFound = errors.New("snapshot not found")

// Store is the contract for caching live execution progress. It is a
// serving layer for the read API, not durable history: entries expire.
type Store interface {
	SetSnapshot(ctx context.Context, executionID string, snap *model.ProgressSnapshot) error
	GetSnapshot(ctx context.Context, executionID string) (*model.ProgressSnapshot, error)
	DeleteSnapshot(ctx context.Context, executionID string) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// RedisStore keeps the latest progress snapshot per execution id in Redis
// so the read endpoint works across processes.
type RedisStore struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New connects to Redis and verifies the connection.
func New(addr, password string, db int, ttl time.Duration, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{redis: rdb, ttl: ttl, logger: logger}, nil
}

// NewWithClient wraps an existing Redis client. Used by tests.
func NewWithClient(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{redis: rdb, ttl: ttl, logger: logger}
}

func snapshotKey(executionID string) string {
	return "execution:snapshot:" + executionID
}

// SetSnapshot stores the latest snapshot for an execution, refreshing the TTL.
func (s *RedisStore) SetSnapshot(ctx context.Context, executionID string, snap *model.ProgressSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.redis.Set(ctx, snapshotKey(executionID), data, s.ttl).Err(); err != nil {
		s.logger.Error("store.set_snapshot_failed",
			zap.String("execution_id", executionID),
			zap.Error(err))
		return err
	}
	return nil
}

// GetSnapshot returns the latest snapshot for an execution.
func (s *RedisStore) GetSnapshot(ctx context.Context, executionID string) (*model.ProgressSnapshot, error) {
	data, err := s.redis.Get(ctx, snapshotKey(executionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var snap model.ProgressSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// DeleteSnapshot drops the entry for an execution.
func (s *RedisStore) DeleteSnapshot(ctx context.Context, executionID string) error {
	return s.redis.Del(ctx, snapshotKey(executionID)).Err()
}

// HealthCheck pings Redis.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.redis.Close()
}
