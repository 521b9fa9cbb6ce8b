// Package config reads runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Classifier transports.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// Config holds every tunable of the service and the CLI.
type Config struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
	LogLevel        string

	ClassifierURL       string
	ClassifierTransport string
	ClassifierGRPCAddr  string
	ClassifierTimeout   time.Duration
	RetryAttempts       int

	MaxUploadBytes      int64
	PreviewMaxDimension int
	SessionTTL          time.Duration
	SubmitRateLimit     int

	DatabaseDSN string
	RedisAddr   string

	JWTSecret   string
	JWTAudience string
}

// Load builds a Config from the environment, applying defaults for unset keys.
func Load() (*Config, error) {
	l := &loader{}
	cfg := &Config{
		ListenAddr:          getEnv("LISTEN_ADDR", ":8080"),
		ShutdownTimeout:     l.duration("SHUTDOWN_TIMEOUT", 15*time.Second),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		ClassifierURL:       getEnv("CLASSIFIER_URL", "http://localhost:8000"),
		ClassifierTransport: strings.ToLower(getEnv("CLASSIFIER_TRANSPORT", TransportHTTP)),
		ClassifierGRPCAddr:  getEnv("CLASSIFIER_GRPC_ADDR", "localhost:50051"),
		ClassifierTimeout:   l.duration("CLASSIFIER_TIMEOUT", 30*time.Second),
		RetryAttempts:       l.integer("CLASSIFIER_RETRY_ATTEMPTS", 1),
		MaxUploadBytes:      int64(l.integer("MAX_UPLOAD_BYTES", 10<<20)),
		PreviewMaxDimension: l.integer("PREVIEW_MAX_DIMENSION", 0),
		SessionTTL:          l.duration("SESSION_TTL", 30*time.Minute),
		SubmitRateLimit:     l.integer("SUBMIT_RATE_LIMIT", 30),
		DatabaseDSN:         os.Getenv("DATABASE_DSN"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		JWTAudience:         os.Getenv("JWT_AUDIENCE"),
	}
	if l.err != nil {
		return nil, l.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.ClassifierTransport {
	case TransportHTTP, TransportGRPC:
	default:
		return fmt.Errorf("config: unknown CLASSIFIER_TRANSPORT %q", c.ClassifierTransport)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("config: MAX_UPLOAD_BYTES must be positive")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("config: CLASSIFIER_RETRY_ATTEMPTS must be at least 1")
	}
	if c.PreviewMaxDimension < 0 || c.SubmitRateLimit < 0 {
		return fmt.Errorf("config: PREVIEW_MAX_DIMENSION and SUBMIT_RATE_LIMIT must not be negative")
	}
	return nil
}

// OperatorAPIEnabled reports whether the JWT protected routes should be mounted.
func (c *Config) OperatorAPIEnabled() bool {
	return strings.TrimSpace(c.JWTSecret) != ""
}

type loader struct {
	err error
}

func (l *loader) duration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		l.fail(key, raw, err)
		return fallback
	}
	return d
}

func (l *loader) integer(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		l.fail(key, raw, err)
		return fallback
	}
	return n
}

func (l *loader) fail(key, raw string, err error) {
	if l.err == nil {
		l.err = fmt.Errorf("config: invalid %s %q: %w", key, raw, err)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
