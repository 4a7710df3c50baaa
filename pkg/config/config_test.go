package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mindburn-labs/mew-gateway/pkg/config"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MEW_LISTEN_ADDR", "")
	t.Setenv("MEW_LOG_LEVEL", "")
	t.Setenv("MEW_LOGS_DIR", "")
	t.Setenv("MEW_JOIN_TIMEOUT", "")
	t.Setenv("MEW_REQUEST_TIMEOUT", "")
	t.Setenv("MEW_STREAM_IDLE_TIMEOUT", "")
	t.Setenv("MEW_DEDUP_WINDOW", "")
	t.Setenv("MEW_MAX_ENVELOPE_BYTES", "")
	t.Setenv("MEW_BACKPRESSURE_QUEUE_DEPTH", "")
	t.Setenv("MEW_RATE_LIMIT_RPM", "")
	t.Setenv("MEW_RATE_LIMIT_BURST", "")
	t.Setenv("MEW_REDIS_ADDR", "")

	cfg := config.Load()

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, 15*time.Second, cfg.JoinTimeout)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 60*time.Second, cfg.StreamIdleTimeout)
	assert.Equal(t, 30*time.Second, cfg.DedupWindow)
	assert.Equal(t, 1<<20, cfg.MaxEnvelopeBytes)
	assert.Equal(t, 256, cfg.BackpressureQueueDepth)
	assert.Equal(t, 600, cfg.RateLimitRPM)
	assert.Equal(t, 20, cfg.RateLimitBurst)
	assert.Equal(t, "", cfg.RedisAddr)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("MEW_LISTEN_ADDR", ":9090")
	t.Setenv("MEW_LOG_LEVEL", "DEBUG")
	t.Setenv("MEW_JOIN_TIMEOUT", "5s")
	t.Setenv("MEW_MAX_ENVELOPE_BYTES", "2048")
	t.Setenv("MEW_BACKPRESSURE_QUEUE_DEPTH", "64")
	t.Setenv("MEW_RATE_LIMIT_RPM", "120")
	t.Setenv("MEW_RATE_LIMIT_BURST", "10")
	t.Setenv("MEW_REDIS_ADDR", "localhost:6379")

	cfg := config.Load()

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.JoinTimeout)
	assert.Equal(t, 2048, cfg.MaxEnvelopeBytes)
	assert.Equal(t, 64, cfg.BackpressureQueueDepth)
	assert.Equal(t, 120, cfg.RateLimitRPM)
	assert.Equal(t, 10, cfg.RateLimitBurst)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

// TestLoad_InvalidDurationFallsBackToDefault ensures a malformed duration
// value doesn't panic or silently zero out — it falls back.
func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	t.Setenv("MEW_JOIN_TIMEOUT", "not-a-duration")

	cfg := config.Load()
	assert.Equal(t, 15*time.Second, cfg.JoinTimeout)
}
