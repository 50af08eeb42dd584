package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/parleychat/parley/internal/logging"
)

// Redis publishes wake-up events to a pub/sub channel the external push
// service subscribes to.
type Redis struct {
	client  *redis.Client
	channel string
	logger  logging.Logger
}

// NewRedis connects and pings, so a misconfigured address fails at
// startup instead of silently losing every wake-up.
func NewRedis(ctx context.Context, addr, channel string, logger logging.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Redis{client: client, channel: channel, logger: logger}, nil
}

func (r *Redis) Notify(ctx context.Context, ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error(ctx, "encoding push event", "error", err)
		return
	}
	if err := r.client.Publish(ctx, r.channel, b).Err(); err != nil {
		r.logger.Warn(ctx, "push hand-off failed", "userID", ev.UserID, "error", err)
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
