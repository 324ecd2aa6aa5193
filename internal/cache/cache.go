/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache publishes a live "now playing" / Manager feedback snapshot
// to Redis, for anything outside the process that wants it — a dashboard,
// a status page, another service — without hammering the control-plane API.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tizonia-go/tizonia/internal/graphops"
	"github.com/tizonia-go/tizonia/internal/managerfsm"
)

// DefaultSnapshotTTL bounds how long a stale snapshot survives a crashed
// publisher before readers stop trusting it.
const DefaultSnapshotTTL = 30 * time.Second

// KeyNowPlaying is the Redis key holding the latest NowPlaying snapshot.
const KeyNowPlaying = "tizonia:cache:now_playing"

// ChannelNowPlaying is the Redis pub/sub channel the snapshot is also
// published to, for subscribers that want push delivery instead of poll.
const ChannelNowPlaying = "tizonia:now_playing"

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SnapshotTTL time.Duration

	// DisableOnError, if true, disables publishing on Redis errors
	// instead of propagating them up to the Manager's dispatch path.
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		SnapshotTTL:    DefaultSnapshotTTL,
		DisableOnError: true,
	}
}

// NowPlaying is the published snapshot of Manager/Graph state.
type NowPlaying struct {
	ManagerState string    `json:"manager_state"`
	CurrentLabel string    `json:"current_label"`
	URI          string    `json:"uri,omitempty"`
	VolumePct    int       `json:"volume_pct"`
	Muted        bool      `json:"muted"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Cache provides Redis-backed snapshot publishing with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without now-playing publishing")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling now-playing publishing due to Redis error")
	}
}

// PublishNowPlaying writes the current snapshot and fans it out on the
// pub/sub channel. Safe to call from any goroutine; a disabled or
// unavailable cache silently no-ops rather than blocking the caller.
func (c *Cache) PublishNowPlaying(ctx context.Context, snap NowPlaying) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal now-playing snapshot: %w", err)
	}

	if err := c.client.Set(ctx, KeyNowPlaying, data, c.config.SnapshotTTL).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	if err := c.client.Publish(ctx, ChannelNowPlaying, data).Err(); err != nil {
		c.handleError(err, "publish")
		return err
	}

	return nil
}

// GetNowPlaying retrieves the latest published snapshot, if any.
func (c *Cache) GetNowPlaying(ctx context.Context) (NowPlaying, bool) {
	var snap NowPlaying
	if !c.IsAvailable() {
		return snap, false
	}

	data, err := c.client.Get(ctx, KeyNowPlaying).Bytes()
	if err == redis.Nil {
		return snap, false
	}
	if err != nil {
		c.handleError(err, "get")
		return snap, false
	}

	if err := json.Unmarshal(data, &snap); err != nil {
		c.logger.Debug().Err(err).Msg("failed to unmarshal now-playing snapshot")
		return snap, false
	}

	return snap, true
}

// Subscribe returns a Redis pub/sub subscription to the now-playing
// channel, for callers that want push delivery (e.g. a control-plane
// websocket endpoint) instead of polling GetNowPlaying.
func (c *Cache) Subscribe(ctx context.Context) *redis.PubSub {
	if c.client == nil {
		return nil
	}
	return c.client.Subscribe(ctx, ChannelNowPlaying)
}

// NowPlayingFromFeedback builds a snapshot from the pieces a Manager
// exposes after handling a feedback event: the FSM state, the label of
// whichever Graph currently holds the pipeline, and, on an error
// notification, the code/message pair.
func NowPlayingFromFeedback(state managerfsm.State, label string, volumePct int, muted bool, code graphops.ErrorCode, msg string) NowPlaying {
	snap := NowPlaying{
		ManagerState: state.String(),
		CurrentLabel: label,
		VolumePct:    volumePct,
		Muted:        muted,
		UpdatedAt:    time.Now(),
	}
	if code != graphops.ErrNone {
		snap.ErrorCode = code.String()
		snap.ErrorMessage = msg
	}
	return snap
}
