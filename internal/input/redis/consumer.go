package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"threatshield/internal/logger"
)

// Config configures the Redis consumer.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Key          string
	BlockTimeout time.Duration
}

// Consumer pops raw CloudTrail events from a Redis list. Producers RPUSH,
// so BLPOP yields events in arrival order.
type Consumer struct {
	client       *redis.Client
	key          string
	blockTimeout time.Duration
}

// NewConsumer connects to Redis and verifies the connection.
func NewConsumer(ctx context.Context, cfg Config) (*Consumer, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis %s: %w", cfg.Addr, err)
	}

	c, err := NewConsumerWithClient(client, cfg.Key, cfg.BlockTimeout)
	if err != nil {
		client.Close()
		return nil, err
	}
	logger.Infof("Redis event consumer initialized: addr=%s key=%s", cfg.Addr, cfg.Key)
	return c, nil
}

// NewConsumerWithClient uses an existing client.
func NewConsumerWithClient(client *redis.Client, key string, blockTimeout time.Duration) (*Consumer, error) {
	if key == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	if blockTimeout <= 0 {
		blockTimeout = 5 * time.Second
	}
	return &Consumer{client: client, key: key, blockTimeout: blockTimeout}, nil
}

// Pop pops one event, returning nil, nil when the block timeout elapses.
func (c *Consumer) Pop(ctx context.Context) ([]byte, error) {
	res, err := c.client.BLPop(ctx, c.blockTimeout, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

// Depth returns the number of queued events.
func (c *Consumer) Depth(ctx context.Context) (int64, error) {
	return c.client.LLen(ctx, c.key).Result()
}

// Close closes the consumer.
func (c *Consumer) Close() error {
	return c.client.Close()
}
