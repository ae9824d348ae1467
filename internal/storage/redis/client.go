// Package redis carries websocket frames between server instances over Redis pub/sub.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/journeyman/messaging/internal/logger"
)

// DefaultChannel is the pub/sub channel shared by every instance.
const DefaultChannel = "messaging:frames"

type Client struct {
	cli     *redis.Client
	channel string
}

func New(ctx context.Context, url, channel string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	if channel == "" {
		channel = DefaultChannel
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli, channel: channel}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) Channel() string { return c.channel }

// Publish sends payload to every subscribed instance, including this one.
func (c *Client) Publish(ctx context.Context, payload []byte) error {
	if err := c.cli.Publish(ctx, c.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe calls handle for every payload until ctx is cancelled.
// handle runs on the subscriber goroutine and must not block.
func (c *Client) Subscribe(ctx context.Context, handle func(payload []byte)) error {
	pubsub := c.cli.Subscribe(ctx, c.channel)
	defer pubsub.Close()

	// Wait for the subscription confirmation so publishes made after Subscribe
	// returns its first message are not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("redis subscribe: %w", err)
	}
	logger.Infof("redis: subscribed to %s", c.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handle([]byte(msg.Payload))
		}
	}
}
