/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tizonia-go/tizonia/internal/events"
)

// RedisBus fans internal/events.Bus traffic out across processes over
// Redis pub/sub: every local Publish is also PUBLISHed to a Redis channel
// keyed on event type, and every subscription also opens a Redis
// SUBSCRIBE so events published by another node's Manager arrive locally
// too. It degrades to the in-memory fallback bus alone if Redis is
// unavailable at construction time.
type RedisBus struct {
	logger   zerolog.Logger
	fallback *events.Bus
	client   *redis.Client
	nodeID   string

	mu      sync.Mutex
	cancels []context.CancelFunc
}

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	URL      string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		URL:          "redis://localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisBus creates a Redis-backed event bus. Falls back to in-memory
// delivery only if Redis is unreachable at construction time.
func NewRedisBus(cfg RedisConfig, nodeID string, logger zerolog.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	opts.DB = cfg.DB
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis event bus unavailable, using in-memory fallback only")
		return &RedisBus{
			logger:   logger.With().Str("component", "eventbus.redis").Logger(),
			fallback: events.NewBus(),
			nodeID:   nodeID,
		}, nil
	}

	return &RedisBus{
		logger:   logger.With().Str("component", "eventbus.redis").Logger(),
		fallback: events.NewBus(),
		client:   client,
		nodeID:   nodeID,
	}, nil
}

// Subscribe registers a local subscriber and, if Redis is available,
// starts a background goroutine relaying that event type's Redis channel
// into it.
func (rb *RedisBus) Subscribe(eventType events.EventType) events.Subscriber {
	sub := rb.fallback.Subscribe(eventType)
	if rb.client == nil {
		return sub
	}

	ctx, cancel := context.WithCancel(context.Background())
	rb.mu.Lock()
	rb.cancels = append(rb.cancels, cancel)
	rb.mu.Unlock()

	ps := rb.client.Subscribe(ctx, string(eventType))
	go rb.relay(ctx, ps, eventType)
	return sub
}

func (rb *RedisBus) relay(ctx context.Context, ps *redis.PubSub, eventType events.EventType) {
	defer ps.Close()
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			parsed, err := unmarshalMessage([]byte(msg.Payload))
			if err != nil {
				rb.logger.Debug().Err(err).Msg("failed to unmarshal redis event message")
				continue
			}
			if parsed.NodeID == rb.nodeID {
				continue // don't loop our own publish back in
			}
			rb.fallback.Publish(eventType, parsed.Payload)
		}
	}
}

// Publish delivers payload to local subscribers and, if Redis is
// available, publishes it for every other node's subscribers too.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	rb.fallback.Publish(eventType, payload)

	if rb.client == nil {
		return
	}
	data, err := marshalMessage(eventType, payload, rb.nodeID)
	if err != nil {
		rb.logger.Debug().Err(err).Msg("failed to marshal redis event message")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rb.client.Publish(ctx, string(eventType), data).Err(); err != nil {
		rb.logger.Debug().Err(err).Str("event_type", string(eventType)).Msg("redis publish failed")
	}
}

// Unsubscribe removes a local subscriber.
func (rb *RedisBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	rb.fallback.Unsubscribe(eventType, sub)
}

// Close stops every relay goroutine and closes the Redis connection.
func (rb *RedisBus) Close() error {
	rb.mu.Lock()
	for _, cancel := range rb.cancels {
		cancel()
	}
	rb.mu.Unlock()

	if rb.client != nil {
		return rb.client.Close()
	}
	return nil
}

// redisMessage represents a message published to Redis.
type redisMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}

// marshalMessage converts payload to Redis message format.
func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	msg := redisMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    nodeID,
	}
	return json.Marshal(msg)
}

// unmarshalMessage parses a Redis message.
func unmarshalMessage(data []byte) (*redisMessage, error) {
	var msg redisMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal redis message: %w", err)
	}
	return &msg, nil
}
