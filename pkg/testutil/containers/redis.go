//go:build integration

package containers

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"accessgate/internal/platform/config"
)

// RedisContainer is the Redis instance notification tests publish through.
type RedisContainer struct {
	Container testcontainers.Container
	URL       string
	Client    *redis.Client
}

// NewRedisContainer starts Redis and verifies the subscriber client.
func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}

	url, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get redis connection string: %v", err)
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to parse redis URL: %v", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to ping redis: %v", err)
	}

	// Shared by the Manager across suites; Ryuk removes the container.
	return &RedisContainer{
		Container: container,
		URL:       url,
		Client:    client,
	}
}

// Config returns the server's Redis settings pointed at this container, with
// a notify channel private to the calling test.
func (r *RedisContainer) Config(t *testing.T) config.RedisConfig {
	t.Helper()
	return config.RedisConfig{
		URL:          r.URL,
		Channel:      "accessgate:it:" + strings.ReplaceAll(t.Name(), "/", ":"),
		PoolSize:     2,
		MinIdleConns: 1,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Subscribe listens on channel and returns once Redis has confirmed the
// subscription, so nothing published afterwards is missed.
func (r *RedisContainer) Subscribe(ctx context.Context, t *testing.T, channel string) <-chan *redis.Message {
	t.Helper()
	sub := r.Client.Subscribe(ctx, channel)
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("failed to subscribe to %s: %v", channel, err)
	}
	return sub.Channel()
}
