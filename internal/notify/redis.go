package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"arbscan/internal/config"
)

// streamClient is the subset of redis.Cmdable the sink uses.
type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// RedisSink publishes alerts to a Redis stream for downstream consumers.
// Repeated alerts for the same (kind, opportunity) within the dedup TTL are
// dropped, so an arbitrage that persists across cycles is announced once.
type RedisSink struct {
	client   streamClient
	stream   string
	maxLen   int64
	dedupTTL time.Duration
}

// NewRedisSink creates a sink over client. client is usually a *redis.Client.
func NewRedisSink(client redis.Cmdable, cfg config.RedisStreamConfig) *RedisSink {
	return newRedisSink(client, cfg)
}

func newRedisSink(client streamClient, cfg config.RedisStreamConfig) *RedisSink {
	return &RedisSink{
		client:   client,
		stream:   cfg.Stream,
		maxLen:   cfg.MaxLen,
		dedupTTL: cfg.DedupTTL,
	}
}

func (r *RedisSink) Name() string { return "redis" }

func (r *RedisSink) Send(ctx context.Context, a Alert) error {
	if a.OpportunityID != "" && r.dedupTTL > 0 {
		key := fmt.Sprintf("%s:seen:%s:%s", r.stream, a.Kind, a.OpportunityID)
		fresh, err := r.client.SetNX(ctx, key, a.At.Unix(), r.dedupTTL).Result()
		if err != nil {
			return fmt.Errorf("redis: dedup %s: %w", key, err)
		}
		if !fresh {
			return nil
		}
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("redis: marshal alert: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]any{
			"kind":  string(a.Kind),
			"alert": string(payload),
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if _, err := r.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("redis: publish to stream %s: %w", r.stream, err)
	}
	return nil
}
