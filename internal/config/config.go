/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// OMX host backend selection.
type OMXBackend string

const (
	// OMXBackendGStreamer drives OMX components via a gst-launch subprocess per handle.
	OMXBackendGStreamer OMXBackend = "gstreamer"
	// OMXBackendFake is an in-memory Host used for tests and dry runs.
	OMXBackendFake OMXBackend = "fake"
)

// FeedbackBackend selects how Manager/Graph feedback events fan out beyond
// this process's own subscribers.
type FeedbackBackend string

const (
	FeedbackLocal    FeedbackBackend = "local"
	FeedbackRedis    FeedbackBackend = "redis"
	FeedbackNATS     FeedbackBackend = "nats"
	FeedbackPostgres FeedbackBackend = "postgres"
)

// HistoryBackend selects the driver behind the optional play-history log.
type HistoryBackend string

const (
	HistoryPostgres HistoryBackend = "postgres"
	HistoryMySQL    HistoryBackend = "mysql"
	HistorySQLite   HistoryBackend = "sqlite"
	HistoryNone     HistoryBackend = "none"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	MetricsBind string

	// Graph orchestration
	OMXBackend            OMXBackend
	GStreamerBin          string
	GraphQueueCapacity    int
	ManagerQueueCapacity  int
	GraphTransitionTimeout time.Duration

	// Playlist / media sourcing
	MediaRoot     string
	PlaylistShuffle bool

	// Cloud source fetch (s3:// playlist entries)
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string
	S3UsePathStyle    bool

	// Control-plane auth
	JWTSigningKey       string
	StaticOperatorToken string // optional: unattended automation clients

	// Tracing
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Feedback re-publication
	FeedbackBackend     FeedbackBackend
	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	NATSURL             string
	NATSSubjectPrefix   string
	FeedbackPostgresDSN string

	// Play-history persistence (passive subscriber, not core state)
	HistoryBackend HistoryBackend
	HistoryDSN     string

	// WebRTC sink (alternate "source -> http/webrtc" graph type)
	WebRTCEnabled bool
	WebRTCRTPPort int
	WebRTCSTUNURL string

	// Harbor (accepts an incoming encoded stream and writes the decoded PCM
	// to a capture file or a re-encode pipeline)
	HarborEnabled     bool
	HarborBind        string
	HarborPort        int
	HarborMaxSources  int
	HarborMountPrefix string
	HarborMountName   string
	HarborToken       string
	HarborCapturePath string
	// HarborReencodeLaunch is a gst-launch pipeline fragment reading from
	// stdin (e.g. "fdsrc fd=0 ! decodebin ! audioconvert ! vorbisenc ! ..."),
	// used in place of the plain capture file when non-empty.
	HarborReencodeLaunch string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"TIZONIA_ENV", "RLM_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"TIZONIA_HTTP_BIND", "RLM_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"TIZONIA_HTTP_PORT", "RLM_HTTP_PORT"}, 8080),
		MetricsBind: getEnvAny([]string{"TIZONIA_METRICS_BIND", "RLM_METRICS_BIND"}, "127.0.0.1:9000"),

		OMXBackend:             OMXBackend(getEnvAny([]string{"TIZONIA_OMX_BACKEND"}, string(OMXBackendGStreamer))),
		GStreamerBin:           getEnvAny([]string{"TIZONIA_GSTREAMER_BIN", "RLM_GSTREAMER_BIN"}, "gst-launch-1.0"),
		GraphQueueCapacity:     getEnvIntAny([]string{"TIZONIA_GRAPH_QUEUE_CAPACITY"}, 30),
		ManagerQueueCapacity:   getEnvIntAny([]string{"TIZONIA_MANAGER_QUEUE_CAPACITY"}, 30),
		GraphTransitionTimeout: time.Duration(getEnvIntAny([]string{"TIZONIA_GRAPH_TRANSITION_TIMEOUT_SECONDS"}, 8)) * time.Second,

		MediaRoot:       getEnvAny([]string{"TIZONIA_MEDIA_ROOT", "RLM_MEDIA_ROOT"}, "./media"),
		PlaylistShuffle: getEnvBoolAny([]string{"TIZONIA_PLAYLIST_SHUFFLE"}, false),

		S3AccessKeyID:     getEnvAny([]string{"TIZONIA_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"TIZONIA_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"TIZONIA_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"TIZONIA_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"TIZONIA_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"TIZONIA_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		JWTSigningKey:       getEnvAny([]string{"TIZONIA_JWT_SIGNING_KEY", "RLM_JWT_SIGNING_KEY"}, ""),
		StaticOperatorToken: getEnvAny([]string{"TIZONIA_STATIC_OPERATOR_TOKEN"}, ""),

		TracingEnabled:    getEnvBoolAny([]string{"TIZONIA_TRACING_ENABLED", "RLM_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"TIZONIA_OTLP_ENDPOINT", "RLM_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"TIZONIA_TRACING_SAMPLE_RATE", "RLM_TRACING_SAMPLE_RATE"}, 1.0),

		FeedbackBackend:     FeedbackBackend(getEnvAny([]string{"TIZONIA_FEEDBACK_BACKEND"}, string(FeedbackLocal))),
		RedisAddr:           getEnvAny([]string{"TIZONIA_REDIS_ADDR", "RLM_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:       getEnvAny([]string{"TIZONIA_REDIS_PASSWORD", "RLM_REDIS_PASSWORD"}, ""),
		RedisDB:             getEnvIntAny([]string{"TIZONIA_REDIS_DB", "RLM_REDIS_DB"}, 0),
		NATSURL:             getEnvAny([]string{"TIZONIA_NATS_URL"}, "nats://localhost:4222"),
		NATSSubjectPrefix:   getEnvAny([]string{"TIZONIA_NATS_SUBJECT_PREFIX"}, "tizonia.feedback"),
		FeedbackPostgresDSN: getEnvAny([]string{"TIZONIA_FEEDBACK_POSTGRES_DSN"}, ""),

		HistoryBackend: HistoryBackend(getEnvAny([]string{"TIZONIA_HISTORY_BACKEND"}, string(HistoryNone))),
		HistoryDSN:     getEnvAny([]string{"TIZONIA_HISTORY_DSN"}, ""),

		WebRTCEnabled: getEnvBoolAny([]string{"TIZONIA_WEBRTC_ENABLED", "WEBRTC_ENABLED"}, false),
		WebRTCRTPPort: getEnvIntAny([]string{"TIZONIA_WEBRTC_RTP_PORT", "WEBRTC_RTP_PORT"}, 5004),
		WebRTCSTUNURL: getEnvAny([]string{"TIZONIA_WEBRTC_STUN_URL", "WEBRTC_STUN_URL"}, "stun:stun.l.google.com:19302"),

		HarborEnabled:     getEnvBoolAny([]string{"TIZONIA_HARBOR_ENABLED", "HARBOR_ENABLED"}, false),
		HarborBind:        getEnvAny([]string{"TIZONIA_HARBOR_BIND", "HARBOR_BIND"}, "0.0.0.0"),
		HarborPort:        getEnvIntAny([]string{"TIZONIA_HARBOR_PORT", "HARBOR_PORT"}, 8088),
		HarborMaxSources:  getEnvIntAny([]string{"TIZONIA_HARBOR_MAX_SOURCES", "HARBOR_MAX_SOURCES"}, 1),
		HarborMountPrefix: getEnvAny([]string{"TIZONIA_HARBOR_MOUNT_PREFIX", "HARBOR_MOUNT_PREFIX"}, ""),
		HarborMountName:   getEnvAny([]string{"TIZONIA_HARBOR_MOUNT_NAME", "HARBOR_MOUNT_NAME"}, "live"),
		HarborToken:       getEnvAny([]string{"TIZONIA_HARBOR_TOKEN", "HARBOR_TOKEN"}, ""),
		HarborCapturePath:    getEnvAny([]string{"TIZONIA_HARBOR_CAPTURE_PATH", "HARBOR_CAPTURE_PATH"}, "./harbor-capture.pcm"),
		HarborReencodeLaunch: getEnvAny([]string{"TIZONIA_HARBOR_REENCODE_LAUNCH", "HARBOR_REENCODE_LAUNCH"}, ""),
	}

	if cfg.OMXBackend != OMXBackendGStreamer && cfg.OMXBackend != OMXBackendFake {
		return nil, fmt.Errorf("unsupported omx backend %q", cfg.OMXBackend)
	}

	switch cfg.FeedbackBackend {
	case FeedbackLocal, FeedbackRedis, FeedbackNATS, FeedbackPostgres:
	default:
		return nil, fmt.Errorf("unsupported feedback backend %q", cfg.FeedbackBackend)
	}

	if cfg.FeedbackBackend == FeedbackPostgres && cfg.FeedbackPostgresDSN == "" {
		return nil, fmt.Errorf("TIZONIA_FEEDBACK_POSTGRES_DSN must be set when TIZONIA_FEEDBACK_BACKEND is %q", cfg.FeedbackBackend)
	}

	switch cfg.HistoryBackend {
	case HistoryPostgres, HistoryMySQL, HistorySQLite, HistoryNone:
	default:
		return nil, fmt.Errorf("unsupported history backend %q", cfg.HistoryBackend)
	}

	if cfg.HistoryBackend != HistoryNone && cfg.HistoryDSN == "" {
		return nil, fmt.Errorf("TIZONIA_HISTORY_DSN must be set when TIZONIA_HISTORY_BACKEND is %q", cfg.HistoryBackend)
	}

	if cfg.GraphQueueCapacity <= 0 || cfg.ManagerQueueCapacity <= 0 {
		return nil, fmt.Errorf("queue capacities must be positive")
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("TIZONIA_JWT_SIGNING_KEY or RLM_JWT_SIGNING_KEY must be set in production")
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":         "use TIZONIA_ENV (or RLM_ENV)",
		"JWT_SIGNING_KEY":     "use TIZONIA_JWT_SIGNING_KEY (or RLM_JWT_SIGNING_KEY)",
		"TRACING_ENABLED":     "use TIZONIA_TRACING_ENABLED (or RLM_TRACING_ENABLED)",
		"OTLP_ENDPOINT":       "use TIZONIA_OTLP_ENDPOINT (or RLM_OTLP_ENDPOINT)",
		"TRACING_SAMPLE_RATE": "use TIZONIA_TRACING_SAMPLE_RATE (or RLM_TRACING_SAMPLE_RATE)",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
