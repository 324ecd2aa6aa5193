/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tizonia-go/tizonia/internal/graphops"
	"github.com/tizonia-go/tizonia/internal/managerfsm"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *Cache) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	if err := mr.Start(); err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := &Cache{
		client: client,
		logger: zerolog.Nop(),
		config: Config{SnapshotTTL: DefaultSnapshotTTL},
	}

	return mr, c
}

func TestPublishAndGetNowPlaying(t *testing.T) {
	mr, c := setupMiniRedis(t)
	defer mr.Close()

	snap := NowPlaying{
		ManagerState: managerfsm.StateRunning.String(),
		CurrentLabel: "mp3",
		URI:          "/tmp/a.mp3",
		VolumePct:    80,
	}

	ctx := context.Background()
	if err := c.PublishNowPlaying(ctx, snap); err != nil {
		t.Fatalf("PublishNowPlaying: %v", err)
	}

	got, ok := c.GetNowPlaying(ctx)
	if !ok {
		t.Fatal("expected a snapshot to be found")
	}
	if got.ManagerState != snap.ManagerState || got.CurrentLabel != snap.CurrentLabel {
		t.Errorf("got %+v, want %+v", got, snap)
	}
}

func TestGetNowPlayingMissing(t *testing.T) {
	mr, c := setupMiniRedis(t)
	defer mr.Close()

	_, ok := c.GetNowPlaying(context.Background())
	if ok {
		t.Error("expected no snapshot before any publish")
	}
}

func TestNowPlayingExpiresAfterTTL(t *testing.T) {
	mr, c := setupMiniRedis(t)
	defer mr.Close()
	c.config.SnapshotTTL = 100 * time.Millisecond

	ctx := context.Background()
	if err := c.PublishNowPlaying(ctx, NowPlaying{ManagerState: "running"}); err != nil {
		t.Fatalf("PublishNowPlaying: %v", err)
	}

	mr.FastForward(200 * time.Millisecond)

	_, ok := c.GetNowPlaying(ctx)
	if ok {
		t.Error("expected snapshot to have expired")
	}
}

func TestCacheDisabledAfterRedisUnavailable(t *testing.T) {
	mr, c := setupMiniRedis(t)
	mr.Close() // Redis is gone before the first call
	c.config.DisableOnError = true

	ctx := context.Background()
	_ = c.PublishNowPlaying(ctx, NowPlaying{ManagerState: "running"})

	if c.IsAvailable() {
		t.Error("expected cache to disable itself after a Redis error")
	}

	// Once disabled, further calls no-op instead of erroring.
	if err := c.PublishNowPlaying(ctx, NowPlaying{ManagerState: "stopped"}); err != nil {
		t.Errorf("expected no-op after disable, got %v", err)
	}
}

func TestNowPlayingFromFeedbackCarriesErrorOnlyWhenNonNone(t *testing.T) {
	clean := NowPlayingFromFeedback(managerfsm.StateRunning, "mp3", 100, false, graphops.ErrNone, "")
	if clean.ErrorCode != "" {
		t.Errorf("expected no error code on a clean snapshot, got %q", clean.ErrorCode)
	}

	withErr := NowPlayingFromFeedback(managerfsm.StateQuitted, "", 0, false, graphops.ErrContentURI, "bad uri")
	if withErr.ErrorCode == "" || withErr.ErrorMessage != "bad uri" {
		t.Errorf("expected error code/message to carry through, got %+v", withErr)
	}
}
