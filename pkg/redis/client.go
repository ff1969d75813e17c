package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tellor-io/supplyx/pkg/collector"
	"github.com/tellor-io/supplyx/pkg/utils"
	"go.uber.org/zap"
)

const (
	// DefaultStreamMaxLen caps the snapshot stream length (approximate trim).
	DefaultStreamMaxLen = 10000

	// SnapshotStream holds the durable feed of snapshot events.
	SnapshotStream = "supplyx:snapshots"

	// SnapshotChannel is the Pub/Sub channel for live snapshot notifications.
	SnapshotChannel = "supplyx:events:snapshot"

	lockPrefix = "supplyx:run:"
)

// Client wraps the Redis client for event notifications and run locks.
type Client struct {
	client       *redis.Client
	logger       *zap.Logger
	streamMaxLen int64
}

// NewClient creates a new Redis client using environment variables for configuration.
// Environment variables:
//   - REDIS_HOST: Redis host (default: "localhost")
//   - REDIS_PORT: Redis port (default: "6379")
//   - REDIS_PASSWORD: Redis password (default: "")
//   - REDIS_DB: Redis database number (default: "0")
//   - REDIS_STREAM_MAXLEN: Max entries per stream (default: 10000, 0 = unlimited)
func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	host := utils.Env("REDIS_HOST", "localhost")
	port := utils.Env("REDIS_PORT", "6379")
	password := utils.Env("REDIS_PASSWORD", "")
	db := utils.EnvInt("REDIS_DB", 0)
	streamMaxLen := utils.EnvInt64("REDIS_STREAM_MAXLEN", DefaultStreamMaxLen)

	addr := fmt.Sprintf("%s:%s", host, port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	logger.Info("Connected to Redis", zap.String("addr", addr), zap.Int("db", db))

	return &Client{
		client:       rdb,
		logger:       logger,
		streamMaxLen: streamMaxLen,
	}, nil
}

// PublishSnapshot appends the event to the snapshot stream and notifies
// live subscribers on the Pub/Sub channel.
func (c *Client) PublishSnapshot(ctx context.Context, event collector.SnapshotEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: SnapshotStream,
		Values: map[string]interface{}{
			"settlement_ts":    strconv.FormatUint(event.SettlementTs, 10),
			"settlement_block": strconv.FormatUint(event.SettlementBlock, 10),
			"completeness":     strconv.FormatFloat(event.Completeness, 'f', 2, 64),
			"payload":          string(payload),
		},
	}
	if c.streamMaxLen > 0 {
		args.MaxLen = c.streamMaxLen
		args.Approx = true
	}

	if err := c.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append snapshot event to stream: %w", err)
	}

	// Pub/Sub delivery is fire-and-forget for connected listeners.
	if err := c.client.Publish(ctx, SnapshotChannel, payload).Err(); err != nil {
		c.logger.Warn("Failed to publish snapshot notification",
			zap.Uint64("settlement_ts", event.SettlementTs),
			zap.Error(err))
	}

	return nil
}

// SubscribeSnapshots subscribes to live snapshot notifications. The caller
// owns the returned PubSub and must Close it when done.
func (c *Client) SubscribeSnapshots(ctx context.Context) *redis.PubSub {
	return c.client.Subscribe(ctx, SnapshotChannel)
}

// RecentEvents returns up to limit of the newest entries from the snapshot stream.
func (c *Client) RecentEvents(ctx context.Context, limit int64) ([]collector.SnapshotEvent, error) {
	if limit <= 0 {
		limit = 10
	}
	msgs, err := c.client.XRevRangeN(ctx, SnapshotStream, "+", "-", limit).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot stream: %w", err)
	}

	events := make([]collector.SnapshotEvent, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["payload"].(string)
		if !ok {
			continue
		}
		var event collector.SnapshotEvent
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			c.logger.Warn("Skipping malformed snapshot event", zap.String("id", msg.ID), zap.Error(err))
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// AcquireLock takes a distributed run lock for the named operation.
// Returns false when another process already holds it.
func (c *Client) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, lockPrefix+name, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	return ok, nil
}

// ReleaseLock releases a previously acquired run lock.
func (c *Client) ReleaseLock(ctx context.Context, name string) error {
	if err := c.client.Del(ctx, lockPrefix+name).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", name, err)
	}
	return nil
}

// Health verifies the Redis connection is alive.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}
