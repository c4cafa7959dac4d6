package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/settlement_engine/internal/app/domain/market"
)

// RedisSink publishes settlement events to a Redis channel so external
// consumers (indexers, notification services) can follow the market without
// holding a websocket open.
type RedisSink struct {
	client  *redis.Client
	channel string
	timeout time.Duration
}

var _ Sink = (*RedisSink)(nil)

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(addr, channel string) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	return &RedisSink{
		client:  client,
		channel: channel,
		timeout: 2 * time.Second,
	}, nil
}

// Deliver publishes one event as JSON.
func (s *RedisSink) Deliver(event market.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Publish(ctx, s.channel, payload).Err()
}

// Close releases the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
