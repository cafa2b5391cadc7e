package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pingTimeout  = 5 * time.Second
	keyNamespace = "grant-engine"
)

// NewRedis connects to url and verifies the server answers within
// pingTimeout of ctx.
func NewRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// namespacedKey joins parts under the service namespace, e.g.
// grant-engine:quota:account:clinic-1.
func namespacedKey(parts ...string) string {
	return keyNamespace + ":" + strings.Join(parts, ":")
}
