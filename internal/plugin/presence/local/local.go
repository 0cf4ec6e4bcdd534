// Package local tracks online users in an in-process TTL cache. Suitable for
// single-replica deployments and tests.
package local

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"

	"github.com/ichat/chat-service/internal/config"
	registrypresence "github.com/ichat/chat-service/internal/registry/presence"
)

func init() {
	registrypresence.Register(registrypresence.Plugin{
		Name: "local",
		Loader: func(ctx context.Context) (registrypresence.Tracker, error) {
			return New(config.FromContext(ctx))
		},
	})
}

type Tracker struct {
	cache *ristretto.Cache[string, bool]
	cfg   *config.Config
}

var _ registrypresence.Tracker = (*Tracker)(nil)

func New(cfg *config.Config) (*Tracker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("local presence: missing config in context")
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, bool]{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create presence cache: %w", err)
	}
	return &Tracker{cache: cache, cfg: cfg}, nil
}

func (t *Tracker) MarkOnline(ctx context.Context, userID uuid.UUID) error {
	t.cache.SetWithTTL(userID.String(), true, 1, t.cfg.PresenceTTL)
	t.cache.Wait()
	return nil
}

func (t *Tracker) MarkOffline(ctx context.Context, userID uuid.UUID) error {
	t.cache.Del(userID.String())
	return nil
}

func (t *Tracker) Online(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	online := make(map[uuid.UUID]bool, len(userIDs))
	for _, id := range userIDs {
		_, found := t.cache.Get(id.String())
		online[id] = found
	}
	return online, nil
}
