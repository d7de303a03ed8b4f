// Package redis wraps github.com/redis/go-redis/v9 for the registry's
// optional history sink: device connect/disconnect/last-seen
// bookkeeping published outside the HTTP surface (which remains out of
// scope for this core).
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Client is a thin wrapper around a go-redis client exposing just the
// hash-write and publish operations the history sink needs.
type Client struct {
	client *redis.Client
	ctx    context.Context
}

// New creates a new Redis client and verifies connectivity with a Ping.
func New(addr string, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return &Client{client: client, ctx: ctx}, nil
}

// WriteString writes a string value to Redis.
func (c *Client) WriteString(key, field, value string) error {
	return c.client.HSet(c.ctx, key, field, value).Err()
}

// WriteAndPublishString writes a string value to Redis and publishes it
// on a channel named after key, so a separate watcher can react to
// device state changes without polling.
func (c *Client) WriteAndPublishString(key, field, value string) error {
	pipe := c.client.Pipeline()
	pipe.HSet(c.ctx, key, field, value)
	pipe.Publish(c.ctx, key, fmt.Sprintf("%s:%s", field, value))
	_, err := pipe.Exec(c.ctx)
	return err
}

// GetString gets a string value from Redis.
func (c *Client) GetString(key, field string) (string, error) {
	val, err := c.client.HGet(c.ctx, key, field).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("key %s field %s not found", key, field)
	}
	return val, err
}

// HDel deletes a field from a hash in Redis.
func (c *Client) HDel(key, field string) (int64, error) {
	return c.client.HDel(c.ctx, key, field).Result()
}

// Close closes the Redis client connection.
func (c *Client) Close() error {
	return c.client.Close()
}
