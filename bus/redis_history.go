package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/questweaver/questweaver/types"
)

// RedisHistoryConfig configures a RedisHistory sink.
type RedisHistoryConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
	// Capacity bounds the retained list; oldest entries are trimmed first.
	Capacity int `yaml:"capacity" json:"capacity"`
}

// DefaultRedisHistoryConfig returns defaults matching a local Redis.
func DefaultRedisHistoryConfig() RedisHistoryConfig {
	return RedisHistoryConfig{
		Addr:      "localhost:6379",
		PoolSize:  10,
		KeyPrefix: "questweaver:",
		Capacity:  1000,
	}
}

// RedisHistory is a Redis-backed HistoryStore. Messages are kept in a bounded
// list so an external layer can inspect recent traffic across restarts.
type RedisHistory struct {
	client   *redis.Client
	key      string
	capacity int
	logger   *zap.Logger
}

// NewRedisHistory connects to Redis and returns a history sink.
func NewRedisHistory(cfg RedisHistoryConfig, logger *zap.Logger) (*RedisHistory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "questweaver:"
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 1000
	}
	store := &RedisHistory{
		client:   client,
		key:      prefix + "bus:history",
		capacity: capacity,
		logger:   logger.With(zap.String("component", "redis_history")),
	}
	store.logger.Info("redis history connected",
		zap.String("addr", cfg.Addr),
		zap.Int("capacity", capacity),
	)
	return store, nil
}

// Append pushes the message and trims the list to capacity.
func (s *RedisHistory) Append(ctx context.Context, msg types.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, s.key, data)
	pipe.LTrim(ctx, s.key, int64(-s.capacity), -1)
	_, err = pipe.Exec(ctx)
	return err
}

// Recent returns up to limit retained messages, newest last.
func (s *RedisHistory) Recent(ctx context.Context, limit int) ([]types.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := s.client.LRange(ctx, s.key, start, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]types.Message, 0, len(raw))
	for _, item := range raw {
		var msg types.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}

// Ping checks store health.
func (s *RedisHistory) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisHistory) Close() error {
	s.logger.Info("redis history closed")
	return s.client.Close()
}
