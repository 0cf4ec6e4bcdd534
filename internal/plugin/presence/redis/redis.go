// Package redis tracks online users with TTL keys in Redis, so presence
// survives restarts and is shared across replicas.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ichat/chat-service/internal/config"
	registrypresence "github.com/ichat/chat-service/internal/registry/presence"
)

const keyPrefix = "presence:"

func init() {
	registrypresence.Register(registrypresence.Plugin{
		Name: "redis",
		Loader: func(ctx context.Context) (registrypresence.Tracker, error) {
			return New(ctx, config.FromContext(ctx))
		},
	})
}

type Tracker struct {
	client *goredis.Client
	ttl    time.Duration
}

var _ registrypresence.Tracker = (*Tracker)(nil)

func New(ctx context.Context, cfg *config.Config) (*Tracker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis presence: missing config in context")
	}
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Tracker{client: client, ttl: cfg.PresenceTTL}, nil
}

func (t *Tracker) MarkOnline(ctx context.Context, userID uuid.UUID) error {
	return t.client.Set(ctx, keyPrefix+userID.String(), "1", t.ttl).Err()
}

func (t *Tracker) MarkOffline(ctx context.Context, userID uuid.UUID) error {
	return t.client.Del(ctx, keyPrefix+userID.String()).Err()
}

func (t *Tracker) Online(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	online := make(map[uuid.UUID]bool, len(userIDs))
	if len(userIDs) == 0 {
		return online, nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = keyPrefix + id.String()
	}
	values, err := t.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query presence: %w", err)
	}
	for i, v := range values {
		online[userIDs[i]] = v != nil
	}
	return online, nil
}
