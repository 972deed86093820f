package config

import (
	"testing"
	"time"
)

// clearEnv unsets every variable the loader reads so tests see pure defaults.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"READ_TIMEOUT", "READ_HEADER_TIMEOUT", "WRITE_TIMEOUT", "IDLE_TIMEOUT",
		"MAX_HEADER_BYTES", "GIN_MODE", "LOG_LEVEL", "LOG_PRETTY",
		"GATEWAY_PORT", "USERS_PORT", "POSTS_PORT", "NOTIFICATIONS_PORT",
		"USER_SERVICE_URL", "POST_SERVICE_URL", "NOTIFICATION_SERVICE_URL",
		"PROXY_TIMEOUT", "REQUEST_DEADLINE", "RATE_RPS", "RATE_BURST",
		"BREAKER_FAILURE_THRESHOLD", "BREAKER_WINDOW", "BREAKER_RESET_TIMEOUT", "BREAKER_MIN_REQUESTS",
		"REDIS_URL", "REDIS_OP_TIMEOUT", "RABBITMQ_URL", "RABBITMQ_RECONNECT_MIN", "RABBITMQ_RECONNECT_MAX",
		"JWT_SECRET", "DB_PATH", "IDEMPOTENCY_TTL", "NOTIFICATION_TTL", "CACHE_TTL", "JANITOR_INTERVAL",
		"CORS_ALLOWED_ORIGINS", "OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT",
		"OTEL_EXPORTER_OTLP_INSECURE", "OTEL_SERVICE_NAME", "OTEL_TRACES_SAMPLER_ARG",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() with defaults failed: %v", err)
	}
	if cfg.Ports.Gateway != "5000" || cfg.Ports.Notifications != "5003" {
		t.Fatalf("unexpected default ports: %+v", cfg.Ports)
	}
	if cfg.Gateway.ProxyTimeout != 3*time.Second {
		t.Fatalf("default proxy timeout = %v, want 3s", cfg.Gateway.ProxyTimeout)
	}
	if cfg.Gateway.RequestDeadline != 5*time.Second {
		t.Fatalf("default request deadline = %v, want 5s", cfg.Gateway.RequestDeadline)
	}
	if cfg.Breaker.FailureThreshold != 0.5 || cfg.Breaker.ResetTimeout != 10*time.Second {
		t.Fatalf("unexpected breaker defaults: %+v", cfg.Breaker)
	}
	if cfg.IdempotencyTTL != 24*time.Hour {
		t.Fatalf("default idempotency TTL = %v, want 24h", cfg.IdempotencyTTL)
	}
	if cfg.NotificationTTL != 30*24*time.Hour {
		t.Fatalf("default notification TTL = %v, want 720h", cfg.NotificationTTL)
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GATEWAY_PORT", "9000")
	t.Setenv("BREAKER_FAILURE_THRESHOLD", "0.75")
	t.Setenv("BREAKER_MIN_REQUESTS", "5")
	t.Setenv("LOG_LEVEL", "WARNING") // normalized to "warn"
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Ports.Gateway != "9000" {
		t.Fatalf("GATEWAY_PORT override ignored: %q", cfg.Ports.Gateway)
	}
	if cfg.Breaker.FailureThreshold != 0.75 || cfg.Breaker.MinRequests != 5 {
		t.Fatalf("breaker overrides ignored: %+v", cfg.Breaker)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("LOG_LEVEL not normalized: %q", cfg.LogLevel)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("CORS origins not parsed: %v", cfg.CORS.AllowedOrigins)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		k, v string
	}{
		{"bad log level", "LOG_LEVEL", "verbose"},
		{"bad threshold", "BREAKER_FAILURE_THRESHOLD", "1.5"},
		{"bad min requests", "BREAKER_MIN_REQUESTS", "0"},
		{"bad downstream URL", "USER_SERVICE_URL", "localhost:5001"},
		{"bad rate burst", "RATE_BURST", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.k, tc.v)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tc.k, tc.v)
			}
		})
	}
}

func TestLoad_MalformedValuesFallBackToDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROXY_TIMEOUT", "not-a-duration")
	t.Setenv("RATE_RPS", "not-a-float")
	t.Setenv("MAX_HEADER_BYTES", "not-an-int")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Gateway.ProxyTimeout != 3*time.Second || cfg.Gateway.RateRPS != 20.0 || cfg.MaxHeaderBytes != 1<<20 {
		t.Fatalf("malformed values should fall back to defaults: %+v", cfg.Gateway)
	}
}
