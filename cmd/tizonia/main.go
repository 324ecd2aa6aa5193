/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// tizonia is the process entry point: it loads configuration, discovers a
// playlist from the configured media root, wires the Manager/Graph
// orchestration core to a concrete OMX backend, and serves the
// control-plane HTTP API until a termination signal arrives.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tizonia-go/tizonia/internal/cache"
	"github.com/tizonia-go/tizonia/internal/config"
	"github.com/tizonia-go/tizonia/internal/events"
	"github.com/tizonia-go/tizonia/internal/eventbus"
	"github.com/tizonia-go/tizonia/internal/feedback"
	"github.com/tizonia-go/tizonia/internal/graphbuild"
	"github.com/tizonia-go/tizonia/internal/graphops"
	"github.com/tizonia-go/tizonia/internal/harbor"
	"github.com/tizonia-go/tizonia/internal/history"
	"github.com/tizonia-go/tizonia/internal/logging"
	"github.com/tizonia-go/tizonia/internal/manager"
	"github.com/tizonia-go/tizonia/internal/playlist"
	"github.com/tizonia-go/tizonia/internal/probe"
	"github.com/tizonia-go/tizonia/internal/server"
	"github.com/tizonia-go/tizonia/internal/source/s3fetch"
	"github.com/tizonia-go/tizonia/internal/telemetry"
	"github.com/tizonia-go/tizonia/internal/version"
)

// playableExtensions mirrors graphbuild's kindTemplates: there is no point
// discovering a file this process has no decoder role for.
var playableExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".ogg":  true,
	".opus": true,
}

var rootCmd = &cobra.Command{
	Use:   "tizonia",
	Short: "Play a directory of local audio as one continuous OMX pipeline graph",
	Long: `tizonia walks a media directory, builds a playlist grouped by file
format, and plays it through an OpenMAX IL component graph: an upper-tier
Manager drives playlist/pipeline lifecycle, a lower-tier Graph drives each
individual pipeline's component state machine. A control-plane HTTP API
exposes start/stop/skip/volume and a now-playing status endpoint.`,
	RunE: run,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// discoverPlaylist walks root for files carrying a decodable extension and
// returns their paths in sorted order, so a given media root always yields
// the same playlist across restarts.
func discoverPlaylist(root string) ([]string, error) {
	var uris []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if playableExtensions[strings.ToLower(filepath.Ext(path))] {
			uris = append(uris, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk media root %q: %w", root, err)
	}
	sort.Strings(uris)
	return uris, nil
}

// buildFeedbackBus picks the feedback transport the Manager's hooks and
// every passive subscriber (control-plane, history, harbor) publish onto
// and listen from. Redis/NATS wrap their own in-memory fallback, so either
// choice still works standalone if the broker is briefly unreachable.
func buildFeedbackBus(cfg *config.Config, logger zerolog.Logger) (events.Publisher, func() error, error) {
	nodeID := uuid.NewString()
	switch cfg.FeedbackBackend {
	case config.FeedbackRedis:
		bus, err := eventbus.NewRedisBus(eventbus.RedisConfig{
			URL:          fmt.Sprintf("redis://%s", cfg.RedisAddr),
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		}, nodeID, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("redis feedback bus: %w", err)
		}
		return bus, bus.Close, nil
	case config.FeedbackNATS:
		cfgNATS := eventbus.DefaultNATSConfig()
		cfgNATS.URL = cfg.NATSURL
		bus, err := eventbus.NewNATSBus(cfgNATS, nodeID, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("nats feedback bus: %w", err)
		}
		return bus, bus.Close, nil
	case config.FeedbackPostgres:
		cfgPG := eventbus.DefaultPostgresFeedbackConfig()
		cfgPG.DSN = cfg.FeedbackPostgresDSN
		bus, err := eventbus.NewPostgresBus(cfgPG, nodeID, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres feedback bus: %w", err)
		}
		return bus, bus.Close, nil
	default:
		return events.NewBus(), nil, nil
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := logging.Setup(cfg.Environment)
	logger.Info().Str("version", version.Version).Msg("tizonia starting")
	for _, w := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(w)
	}

	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "tizonia",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("tracer shutdown failed")
		}
	}()

	uris, err := discoverPlaylist(cfg.MediaRoot)
	if err != nil {
		return err
	}
	if len(uris) == 0 {
		logger.Warn().Str("media_root", cfg.MediaRoot).Msg("no playable media found, starting with an empty playlist")
	}
	pl := playlist.New(uris, true, cfg.PlaylistShuffle)
	logger.Info().Int("entries", pl.Size()).Str("media_root", cfg.MediaRoot).Msg("playlist discovered")

	var prober graphops.Prober = probe.NewGStreamerProber("", logger)
	if cfg.S3Bucket != "" || cfg.S3AccessKeyID != "" {
		resolver, err := s3fetch.NewResolver(context.Background(), s3fetch.Config{
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			UsePathStyle:    cfg.S3UsePathStyle,
		}, logger)
		if err != nil {
			return fmt.Errorf("s3 resolver: %w", err)
		}
		defer resolver.Close()
		prober = s3fetch.WrapProber(prober, resolver)
	}

	builder := graphbuild.New(graphbuild.Config{
		OMXBackend:             cfg.OMXBackend,
		GStreamerBin:           cfg.GStreamerBin,
		QueueCapacity:          cfg.GraphQueueCapacity,
		GraphTransitionTimeout: cfg.GraphTransitionTimeout,
	}, prober, logger)

	bus, busCloser, err := buildFeedbackBus(cfg, logger)
	if err != nil {
		return err
	}
	if busCloser != nil {
		defer func() {
			if err := busCloser(); err != nil {
				logger.Error().Err(err).Msg("feedback bus shutdown failed")
			}
		}()
	}

	fb := feedback.New(bus, logger)

	mgr := manager.New(pl, builder, cfg.ManagerQueueCapacity, cfg.GraphTransitionTimeout,
		fb.OnTerminate, fb.OnVolume, fb.OnMetadata, logger)
	defer mgr.Close()
	fb.WatchState(mgr)
	defer fb.Stop()

	var closers []func() error

	if cfg.HistoryBackend != config.HistoryNone {
		db, err := history.Connect(cfg)
		if err != nil {
			return fmt.Errorf("history connect: %w", err)
		}
		recorder := history.NewRecorder(db, bus, logger)
		recorder.Start()
		closers = append(closers, func() error { recorder.Stop(); return nil })
	}

	nowPlayingCache, err := cache.New(cache.Config{
		RedisAddr:      cfg.RedisAddr,
		RedisPassword:  cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
		SnapshotTTL:    cache.DefaultSnapshotTTL,
		DisableOnError: true,
	}, logger)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	closers = append(closers, nowPlayingCache.Close)

	var harborServer *harbor.Server
	if cfg.HarborEnabled {
		var sink harbor.Sink
		if cfg.HarborReencodeLaunch != "" {
			pipelineSink := harbor.NewPipelineSink(cfg, cfg.HarborMountName, cfg.HarborReencodeLaunch, logger)
			closers = append(closers, pipelineSink.Close)
			sink = pipelineSink
		} else {
			captureFile, err := os.OpenFile(cfg.HarborCapturePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("open harbor capture file: %w", err)
			}
			closers = append(closers, captureFile.Close)
			sink = captureFile
		}

		harborServer = harbor.NewServer(harbor.Config{
			Bind:         cfg.HarborBind,
			Port:         cfg.HarborPort,
			MaxSources:   cfg.HarborMaxSources,
			GStreamerBin: cfg.GStreamerBin,
			MountPrefix:  cfg.HarborMountPrefix,
			MountName:    cfg.HarborMountName,
			Token:        cfg.HarborToken,
		}, sink, bus, logger)

		go func() {
			logger.Info().Str("bind", cfg.HarborBind).Int("port", cfg.HarborPort).Msg("harbor server listening")
			if err := harborServer.ListenAndServe(); err != nil {
				logger.Error().Err(err).Msg("harbor server error")
			}
		}()
	}

	srv := server.New(cfg, mgr, bus, nowPlayingCache, logger)
	httpServer := srv.HTTPServer()

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("control-plane HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	if err := mgr.Start(); err != nil {
		logger.Error().Err(err).Msg("failed to start playback")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	logger.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown failed")
	}
	if harborServer != nil {
		if err := harborServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("harbor server shutdown failed")
		}
	}
	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("server cleanup failed")
	}
	for _, closer := range closers {
		if err := closer(); err != nil {
			logger.Error().Err(err).Msg("cleanup error")
		}
	}

	logger.Info().Msg("tizonia stopped")
	return nil
}
