package config

import "testing"

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.OMXBackend != OMXBackendGStreamer {
		t.Fatalf("unexpected default omx backend: %q", cfg.OMXBackend)
	}
	if cfg.GraphQueueCapacity != 30 || cfg.ManagerQueueCapacity != 30 {
		t.Fatalf("unexpected default queue capacities: %d/%d", cfg.GraphQueueCapacity, cfg.ManagerQueueCapacity)
	}
}

func TestLoadRejectsUnknownOMXBackend(t *testing.T) {
	t.Setenv("TIZONIA_OMX_BACKEND", "bogus")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported omx backend")
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "legacy")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}

func TestLoadRequiresHistoryDSNWhenBackendSet(t *testing.T) {
	t.Setenv("TIZONIA_HISTORY_BACKEND", "sqlite")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when history backend is set without a DSN")
	}

	t.Setenv("TIZONIA_HISTORY_DSN", "file:history.db")
	if _, err := Load(); err != nil {
		t.Fatalf("expected load to succeed once DSN is set: %v", err)
	}
}

func TestLoadProductionRequiresJWTSigningKey(t *testing.T) {
	t.Setenv("TIZONIA_ENV", "production")
	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail without a signing key")
	}

	t.Setenv("TIZONIA_JWT_SIGNING_KEY", "supersecret")
	if _, err := Load(); err != nil {
		t.Fatalf("expected production config load with signing key to succeed: %v", err)
	}
}
