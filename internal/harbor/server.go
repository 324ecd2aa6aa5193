/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package harbor

import (
	"bufio"
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tizonia-go/tizonia/internal/events"
)

// SourceConnection tracks an active inbound source connection.
type SourceConnection struct {
	SessionID   string
	MountName   string
	ConnectedAt time.Time
	Metadata    map[string]string
	cancel      context.CancelFunc
}

// Config holds harbor-specific configuration. There is one mount: this
// process runs a single graph, not a multi-tenant set of stations, so
// unlike an Icecast server there is nothing to route between.
type Config struct {
	Bind         string
	Port         int
	MaxSources   int
	GStreamerBin string
	MountPrefix  string // optional path prefix stripped before matching MountName, e.g. "/harbor"
	MountName    string // expected mount name, e.g. "live" (matches "/live" and "/live.mp3")
	Token        string // shared source password; empty disables auth (not recommended)
}

// Sink receives decoded PCM audio pulled from an inbound harbor connection,
// for example a capture file or a re-encoding PipelineSink.
type Sink interface {
	io.Writer
}

// Server is the built-in Icecast-compatible source receiver ("harbor"): it
// accepts PUT/SOURCE connections from Icecast-compatible encoders (BUTT,
// Mixxx, ffmpeg), decodes the compressed audio to raw PCM, and writes it to
// a Sink.
type Server struct {
	cfg    Config
	sink   Sink
	bus    events.Publisher
	logger zerolog.Logger

	httpServer *http.Server

	mu    sync.Mutex
	conns map[string]*SourceConnection
}

// NewServer creates a new harbor server. sink receives decoded PCM for the
// duration of each connected source; bus publishes connect/disconnect
// notifications so other components (e.g. the control-plane status
// snapshot) can observe harbor activity.
func NewServer(cfg Config, sink Sink, bus events.Publisher, logger zerolog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		sink:   sink,
		bus:    bus,
		logger: logger.With().Str("component", "harbor").Logger(),
		conns:  make(map[string]*SourceConnection),
	}
}

// ListenAndServe starts the harbor HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Bind, s.cfg.Port)

	mux := http.NewServeMux()
	mux.HandleFunc("/admin/metadata", s.handleMetadataUpdate)
	mux.HandleFunc("/", s.handleSource)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		// No read/write timeout — source connections stream indefinitely.
		ReadTimeout:  0,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("harbor server starting")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// ListenAndServeWithSOURCE starts the harbor server with support for the
// non-standard SOURCE HTTP method used by legacy Icecast clients.
func (s *Server) ListenAndServeWithSOURCE() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Bind, s.cfg.Port)

	mux := http.NewServeMux()
	mux.HandleFunc("/admin/metadata", s.handleMetadataUpdate)
	mux.HandleFunc("/", s.handleSource)

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("harbor listen: %w", err)
	}

	s.logger.Info().Str("addr", addr).Msg("harbor server starting (with SOURCE method support)")
	err = s.httpServer.Serve(&sourceMethodListener{Listener: ln})
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the harbor and disconnects all sources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("harbor server shutting down")

	s.mu.Lock()
	for _, conn := range s.conns {
		if conn.cancel != nil {
			conn.cancel()
		}
	}
	s.mu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// ActiveConnections returns the number of active source connections.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Addr returns the listen address of the harbor server.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Bind, s.cfg.Port)
}

// resolveMount checks the requested token against the configured source
// password and matches the request path against the single configured
// mount name, stripping the optional prefix and any file extension
// (e.g. "/harbor/live.mp3" -> "live" when MountPrefix is "/harbor" and
// MountName is "live").
func (s *Server) resolveMount(token, path string) (string, error) {
	if s.cfg.Token != "" {
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) != 1 {
			return "", fmt.Errorf("invalid source token")
		}
	}

	trimmed := strings.TrimPrefix(path, s.cfg.MountPrefix)
	trimmed = strings.TrimPrefix(trimmed, "/")
	if trimmed == "" {
		return "", fmt.Errorf("mount path required")
	}
	if idx := strings.LastIndex(trimmed, "."); idx > 0 {
		trimmed = trimmed[:idx]
	}

	want := s.cfg.MountName
	if want == "" {
		want = "live"
	}
	if trimmed != want {
		return "", fmt.Errorf("unknown mount %q", trimmed)
	}
	return trimmed, nil
}

// handleSource is the main HTTP handler for incoming source connections.
func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed. Use PUT.", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	if len(s.conns) >= s.cfg.MaxSources {
		s.mu.Unlock()
		s.logger.Warn().Int("max", s.cfg.MaxSources).Msg("max sources reached, rejecting connection")
		http.Error(w, "Too many sources", http.StatusServiceUnavailable)
		return
	}
	s.mu.Unlock()

	token, ok := s.parseBasicAuth(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="Tizonia Harbor"`)
		http.Error(w, "Authorization required", http.StatusUnauthorized)
		return
	}

	mountName, err := s.resolveMount(token, r.URL.Path)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("harbor mount/token resolution failed")
		w.Header().Set("WWW-Authenticate", `Basic realm="Tizonia Harbor"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	meta := parseIceHeaders(r)
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	sessionID := newSessionID()

	s.logger.Info().
		Str("session_id", sessionID).
		Str("mount", mountName).
		Str("content_type", contentType).
		Str("remote_addr", r.RemoteAddr).
		Int64("content_length", r.ContentLength).
		Msg("harbor source connected")

	// Use Background instead of r.Context() because we hijack the
	// connection below, which cancels r.Context().
	connCtx, connCancel := context.WithCancel(context.Background())

	conn := &SourceConnection{
		SessionID:   sessionID,
		MountName:   mountName,
		ConnectedAt: time.Now(),
		Metadata:    meta,
		cancel:      connCancel,
	}

	s.mu.Lock()
	s.conns[sessionID] = conn
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(events.EventHarborSourceConnected, events.Payload{"session_id": sessionID, "mount": mountName})
	}

	defer func() {
		connCancel()
		s.mu.Lock()
		delete(s.conns, sessionID)
		s.mu.Unlock()

		if s.bus != nil {
			s.bus.Publish(events.EventHarborSourceDisconnected, events.Payload{"session_id": sessionID, "mount": mountName})
		}

		s.logger.Info().Str("session_id", sessionID).Str("mount", mountName).Msg("harbor source disconnected")
	}()

	hj, ok := w.(http.Hijacker)
	if !ok {
		s.logger.Error().Msg("harbor: ResponseWriter does not support hijacking")
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	hjConn, buf, err := hj.Hijack()
	if err != nil {
		s.logger.Error().Err(err).Msg("harbor: hijack failed")
		return
	}
	defer hjConn.Close()

	_, _ = hjConn.Write([]byte("HTTP/1.1 200 OK\r\nConnection: close\r\n\r\n"))

	audioSource := io.Reader(buf.Reader)

	testBuf := make([]byte, 4096)
	_ = hjConn.SetReadDeadline(time.Now().Add(10 * time.Second))
	n, readErr := audioSource.Read(testBuf)
	_ = hjConn.SetReadDeadline(time.Time{})

	if n == 0 || readErr != nil {
		s.logger.Error().Err(readErr).Msg("harbor: no data from hijacked connection")
		return
	}
	audioSource = io.MultiReader(bytes.NewReader(testBuf[:n]), buf.Reader)

	s.streamAudio(connCtx, conn, contentType, audioSource)
}

// streamAudio decodes compressed audio and writes raw PCM to the sink.
func (s *Server) streamAudio(ctx context.Context, conn *SourceConnection, contentType string, audioSource io.Reader) {
	dec, err := startDecoder(ctx, s.cfg.GStreamerBin, contentType, 44100, 2, s.logger)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", conn.SessionID).Msg("failed to start harbor decoder")
		return
	}
	defer dec.Close()

	type copyResult struct {
		label string
		err   error
	}
	done := make(chan copyResult, 2)

	go func() {
		_, err := io.Copy(s.sink, dec.stdout)
		done <- copyResult{"decoder→sink", err}
	}()

	go func() {
		_, err := io.Copy(dec.stdin, audioSource)
		_ = dec.stdin.Close()
		done <- copyResult{"source→decoder", err}
	}()

	select {
	case <-ctx.Done():
		s.logger.Warn().Str("session_id", conn.SessionID).Msg("harbor connection context cancelled")
	case r := <-done:
		if r.err != nil {
			s.logger.Warn().Err(r.err).Str("session_id", conn.SessionID).Str("pipe", r.label).Msg("harbor stream pipe error")
		} else {
			s.logger.Info().Str("session_id", conn.SessionID).Str("pipe", r.label).Msg("harbor stream pipe closed (EOF)")
		}
	}

	if stderrOutput := dec.Stderr(); stderrOutput != "" {
		s.logger.Warn().Str("session_id", conn.SessionID).Str("stderr", stderrOutput).Msg("harbor decoder stderr output")
	}
}

// handleMetadataUpdate implements the Icecast "admin/metadata" updinfo
// convention some encoders use to push a now-playing title mid-stream
// instead of re-sending Ice-* headers.
func (s *Server) handleMetadataUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token, ok := s.parseBasicAuth(r)
	if !ok {
		http.Error(w, "Authorization required", http.StatusUnauthorized)
		return
	}
	if s.cfg.Token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) != 1 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	if q.Get("mode") != "updinfo" {
		http.Error(w, "Unsupported mode", http.StatusBadRequest)
		return
	}
	song, err := url.QueryUnescape(q.Get("song"))
	if err != nil || song == "" {
		http.Error(w, "song parameter required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	var found *SourceConnection
	for _, conn := range s.conns {
		found = conn
		break
	}
	s.mu.Unlock()

	if found == nil {
		http.Error(w, "No active source connection", http.StatusNotFound)
		return
	}

	if s.bus != nil {
		s.bus.Publish(events.EventHarborMetadataUpdated, events.Payload{"session_id": found.SessionID, "song": song})
	}
	w.WriteHeader(http.StatusOK)
}

// parseBasicAuth extracts the password from a Basic auth header.
// The username is conventionally "source" and ignored.
func (s *Server) parseBasicAuth(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" || !strings.HasPrefix(auth, "Basic ") {
		return "", false
	}

	decoded, err := base64.StdEncoding.DecodeString(auth[6:])
	if err != nil {
		return "", false
	}

	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return "", false
	}
	return parts[1], true
}

var sessionCounter uint64

// newSessionID generates a short, process-unique session identifier
// without pulling in a UUID dependency for something this disposable.
func newSessionID() string {
	sessionCounter++
	return "harbor-" + strconv.FormatUint(sessionCounter, 36) + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)
}

// sourceMethodListener wraps the standard net.Listener to also accept the
// non-standard SOURCE method used by legacy Icecast clients. Go's HTTP
// server rejects unknown methods with 501 by default, so it intercepts at
// the connection level instead.
type sourceMethodListener struct {
	net.Listener
}

func (l *sourceMethodListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &sourceMethodConn{Conn: conn}, nil
}

// sourceMethodConn peeks at the first bytes to detect the SOURCE method and
// rewrites it to PUT so the standard HTTP parser can handle it.
type sourceMethodConn struct {
	net.Conn
	reader *bufio.Reader
	once   sync.Once
}

func (c *sourceMethodConn) Read(b []byte) (int, error) {
	c.once.Do(func() {
		c.reader = bufio.NewReaderSize(c.Conn, 4096)

		peek, err := c.reader.Peek(7)
		if err != nil {
			return
		}
		if string(peek) == "SOURCE " {
			buf := make([]byte, 7)
			_, _ = c.reader.Read(buf)
			c.reader = bufio.NewReaderSize(io.MultiReader(strings.NewReader("PUT "), c.reader), 4096)
		}
	})
	return c.reader.Read(b)
}
