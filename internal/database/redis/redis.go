package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/khoi1009/TAFE-Leak-Detection-Complete/internal/config"
)

const pingTimeout = 5 * time.Second

// Client wraps the go-redis client used for frozen snapshot carry-over.
type Client struct {
	client *redis.Client
}

// NewRedisClient connects using cfg and fails fast when the server is unreachable.
func NewRedisClient(cfg config.RedisConfig) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s:%s: %w", cfg.Host, cfg.Port, err)
	}
	return &Client{client: client}, nil
}

// Wrap adopts an already configured client.
func Wrap(client *redis.Client) *Client {
	return &Client{client: client}
}

func (c *Client) GetClient() *redis.Client {
	return c.client
}

// Healthy pings the server with a short timeout.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return c.client.Ping(ctx).Err() == nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
