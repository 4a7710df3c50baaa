// Package config loads the gateway's ambient operational knobs from the
// environment, in the same os.Getenv-plus-fallback style the teacher uses
// for its own server configuration.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the gateway's environment-derived operational knobs.
type Config struct {
	ListenAddr             string
	LogLevel               string
	LogsDir                string
	JoinTimeout            time.Duration
	RequestTimeout         time.Duration
	StreamIdleTimeout      time.Duration
	DedupWindow            time.Duration
	MaxEnvelopeBytes       int
	BackpressureQueueDepth int
	RateLimitRPM           int
	RateLimitBurst         int
	RedisAddr              string
}

// Load loads configuration from environment variables, falling back to
// the spec's defaults for anything unset.
func Load() *Config {
	return &Config{
		ListenAddr:             getEnv("MEW_LISTEN_ADDR", ":8080"),
		LogLevel:               getEnv("MEW_LOG_LEVEL", "INFO"),
		LogsDir:                getEnv("MEW_LOGS_DIR", "./logs"),
		JoinTimeout:            getEnvDuration("MEW_JOIN_TIMEOUT", 15*time.Second),
		RequestTimeout:         getEnvDuration("MEW_REQUEST_TIMEOUT", 30*time.Second),
		StreamIdleTimeout:      getEnvDuration("MEW_STREAM_IDLE_TIMEOUT", 60*time.Second),
		DedupWindow:            getEnvDuration("MEW_DEDUP_WINDOW", 30*time.Second),
		MaxEnvelopeBytes:       getEnvInt("MEW_MAX_ENVELOPE_BYTES", 1<<20),
		BackpressureQueueDepth: getEnvInt("MEW_BACKPRESSURE_QUEUE_DEPTH", 256),
		RateLimitRPM:           getEnvInt("MEW_RATE_LIMIT_RPM", 600),
		RateLimitBurst:         getEnvInt("MEW_RATE_LIMIT_BURST", 20),
		RedisAddr:              getEnv("MEW_REDIS_ADDR", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
