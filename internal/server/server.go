/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server implements the control-plane HTTP API: status, skip,
// pause, volume, and health/metrics endpoints backed by a running
// internal/manager.Manager.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/tizonia-go/tizonia/internal/auth"
	"github.com/tizonia-go/tizonia/internal/cache"
	"github.com/tizonia-go/tizonia/internal/config"
	"github.com/tizonia-go/tizonia/internal/events"
	"github.com/tizonia-go/tizonia/internal/manager"
	"github.com/tizonia-go/tizonia/internal/managerfsm"
	sinkwebrtc "github.com/tizonia-go/tizonia/internal/sink/webrtc"
	"github.com/tizonia-go/tizonia/internal/telemetry"
)

// Server bundles the control-plane HTTP API and its supporting state.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	mgr   *manager.Manager
	bus   events.Publisher
	cache *cache.Cache

	webrtcBroadcaster *sinkwebrtc.Broadcaster

	mu       sync.RWMutex
	snapshot cache.NowPlaying

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires its routes. mgr is the already
// running Manager the API drives; bus is the in-process feedback bus its
// hooks publish to; nowPlayingCache is optional (nil disables the Redis
// now-playing mirror).
func New(cfg *config.Config, mgr *manager.Manager, bus events.Publisher, nowPlayingCache *cache.Cache, logger zerolog.Logger) *Server {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(telemetry.TracingMiddleware("tizonia-control-plane"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(securityHeadersMiddleware)
	router.Use(middleware.Timeout(15 * time.Second))

	s := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		mgr:    mgr,
		bus:    bus,
		cache:  nowPlayingCache,
		snapshot: cache.NowPlaying{
			ManagerState: managerfsm.StateInited.String(),
			UpdatedAt:    time.Unix(0, 0),
		},
	}

	if cfg.WebRTCEnabled {
		if err := s.startWebRTCBroadcaster(); err != nil {
			logger.Error().Err(err).Msg("webrtc broadcaster did not start, continuing without it")
		}
	}

	s.configureRoutes()
	s.startFeedbackSubscriptions()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// DeferClose registers a cleanup hook run in reverse order by Close.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Close stops the feedback subscription loop and runs registered closers.
func (s *Server) Close() error {
	if s.bgCancel != nil {
		s.bgCancel()
		s.bgWG.Wait()
		s.bgCancel = nil
	}
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// startWebRTCBroadcaster brings up the alternate "source -> http/webrtc"
// graph type's output sink: an RTP listener that rewrites sequence and
// timestamp continuity across renderer restarts and fans incoming Opus
// audio out to browser peers negotiated over the /webrtc/signal route.
func (s *Server) startWebRTCBroadcaster() error {
	b, err := sinkwebrtc.NewBroadcaster(sinkwebrtc.Config{
		RTPPort:    s.cfg.WebRTCRTPPort,
		STUNServer: s.cfg.WebRTCSTUNURL,
	}, s.logger)
	if err != nil {
		return err
	}
	if err := b.Start(context.Background()); err != nil {
		return err
	}
	s.webrtcBroadcaster = b
	s.DeferClose(b.Stop)
	return nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", telemetry.Handler())

	if s.webrtcBroadcaster != nil {
		s.router.Get("/webrtc/signal", s.webrtcBroadcaster.HandleSignaling)
	}

	secret := []byte(s.cfg.JWTSigningKey)
	authMW := auth.Middleware(secret, s.cfg.StaticOperatorToken)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(authMW)

		r.Get("/status", s.handleStatus)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireOperator)
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
			r.Post("/skip", s.handleSkip)
			r.Post("/prev", s.handlePrev)
			r.Post("/pause", s.handlePause)
			r.Post("/mute", s.handleMute)
			r.Post("/volume", s.handleSetVolume)
		})
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	snap := s.snapshot
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, s.mgr.Start)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, s.mgr.Stop)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, s.mgr.Next)
}

func (s *Server) handlePrev(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, s.mgr.Prev)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, s.mgr.Pause)
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, s.mgr.Mute)
}

// volumeRequest is the body for POST /api/v1/volume, either a 0-100
// percentage or a fine step via "up"/"down".
type volumeRequest struct {
	Percent *int   `json:"percent,omitempty"`
	Step    string `json:"step,omitempty"`
}

func (s *Server) handleSetVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Fall back to the legacy query-param form for simple CLI callers.
		if p := r.URL.Query().Get("percent"); p != "" {
			if n, err := strconv.Atoi(p); err == nil {
				req.Percent = &n
			}
		}
		req.Step = r.URL.Query().Get("step")
	}

	switch {
	case req.Percent != nil:
		s.runCommand(w, func() error { return s.mgr.Volume(float64(*req.Percent) / 100.0) })
	case req.Step == "up":
		s.runCommand(w, s.mgr.VolumeUp)
	case req.Step == "down":
		s.runCommand(w, s.mgr.VolumeDown)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "specify percent or step=up|down"})
	}
}

func (s *Server) runCommand(w http.ResponseWriter, cmd func() error) {
	if err := cmd(); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// startFeedbackSubscriptions keeps the in-memory status snapshot current by
// listening to the same feedback bus the Manager's onVolume/onMetadata
// hooks publish to, and mirrors it into the Redis now-playing cache when
// one is configured.
func (s *Server) startFeedbackSubscriptions() {
	if s.bus == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	subs := map[events.EventType]events.Subscriber{
		events.EventManagerStateChanged: s.bus.Subscribe(events.EventManagerStateChanged),
		events.EventGraphVolume:         s.bus.Subscribe(events.EventGraphVolume),
		events.EventGraphMetadata:       s.bus.Subscribe(events.EventGraphMetadata),
		events.EventManagerFatalError:   s.bus.Subscribe(events.EventManagerFatalError),
	}

	for eventType, sub := range subs {
		s.bgWG.Add(1)
		go s.consumeFeedback(ctx, eventType, sub)
	}
}

func (s *Server) consumeFeedback(ctx context.Context, eventType events.EventType, sub events.Subscriber) {
	defer s.bgWG.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-sub:
			s.applyFeedback(eventType, payload)
		}
	}
}

func (s *Server) applyFeedback(eventType events.EventType, payload events.Payload) {
	s.mu.Lock()
	switch eventType {
	case events.EventManagerStateChanged:
		if state, ok := payload["state"].(string); ok {
			s.snapshot.ManagerState = state
		}
	case events.EventGraphVolume:
		if pct, ok := payload["percent"].(int); ok {
			s.snapshot.VolumePct = pct
		}
		if muted, ok := payload["muted"].(bool); ok {
			s.snapshot.Muted = muted
		}
	case events.EventGraphMetadata:
		if label, ok := payload["label"].(string); ok {
			s.snapshot.CurrentLabel = label
		}
		if uri, ok := payload["uri"].(string); ok {
			s.snapshot.URI = uri
		}
	case events.EventManagerFatalError:
		if code, ok := payload["code"].(string); ok {
			s.snapshot.ErrorCode = code
		}
		if msg, ok := payload["message"].(string); ok {
			s.snapshot.ErrorMessage = msg
		}
	}
	s.snapshot.UpdatedAt = timeNow()
	snap := s.snapshot
	s.mu.Unlock()

	if s.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.cache.PublishNowPlaying(ctx, snap); err != nil {
			s.logger.Debug().Err(err).Msg("now-playing cache publish failed")
		}
	}
}

// timeNow is a seam so tests can observe UpdatedAt deterministically if
// ever needed; production callers just want wall-clock time.
var timeNow = time.Now
