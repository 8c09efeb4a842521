package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	AppURL    string `env:"APP_URL"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	RedisURL        string `env:"REDIS_URL"`
	ChannelPrefix   string `env:"REDIS_CHANNEL_PREFIX" default:"deskpulse"`
	DatabaseURL     string `env:"DATABASE_URL"`
	DatabaseMigrate bool   `env:"DATABASE_MIGRATE" default:"false"`

	JWTSecret   string `env:"JWT_SECRET"`
	JWTIssuer   string `env:"JWT_ISSUER"`
	JWTAudience string `env:"JWT_AUDIENCE"`

	// ServerID identifies this process on the broker. Generated when empty.
	ServerID string `env:"SERVER_ID"`

	AllowedOrigins      string        `env:"WS_ALLOWED_ORIGINS"`
	HeartbeatInterval   time.Duration `env:"WS_HEARTBEAT_INTERVAL" default:"30s"`
	SendQueueSize       int           `env:"WS_SEND_QUEUE_SIZE" default:"64"`
	MaxMessageBytes     int64         `env:"WS_MAX_MESSAGE_BYTES" default:"65536"`
	MaxProtocolErrors   int           `env:"WS_MAX_PROTOCOL_ERRORS" default:"10"`
	RateLimit           int           `env:"WS_RATE_LIMIT" default:"60"`
	RateWindow          time.Duration `env:"WS_RATE_WINDOW" default:"60s"`
	RateMaxViolations   int           `env:"WS_RATE_MAX_VIOLATIONS" default:"5"`
	RateViolationWindow time.Duration `env:"WS_RATE_VIOLATION_WINDOW" default:"10s"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"50"`
	HandshakeRatePerSecond  float64 `env:"HANDSHAKE_RATE_PER_SECOND" default:"10"`
	HandshakeBurst          int     `env:"HANDSHAKE_BURST" default:"20"`

	OwnershipCacheTTL  time.Duration `env:"OWNERSHIP_CACHE_TTL" default:"30s"`
	DirectoryHeartbeat time.Duration `env:"DIRECTORY_HEARTBEAT" default:"15s"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

const minJWTSecretBytes = 32

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Origins returns the parsed WS_ALLOWED_ORIGINS list.
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func validate(cfg *Config) error {
	// Checked in a fixed order so error messages are deterministic.
	required := []struct{ name, value string }{
		{"REDIS_URL", cfg.RedisURL},
		{"DATABASE_URL", cfg.DatabaseURL},
		{"JWT_SECRET", cfg.JWTSecret},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	if len(cfg.JWTSecret) < minJWTSecretBytes {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretBytes)
	}

	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}

	positiveInts := []struct {
		name  string
		value int
	}{
		{"WS_SEND_QUEUE_SIZE", cfg.SendQueueSize},
		{"WS_MAX_PROTOCOL_ERRORS", cfg.MaxProtocolErrors},
		{"WS_RATE_LIMIT", cfg.RateLimit},
		{"WS_RATE_MAX_VIOLATIONS", cfg.RateMaxViolations},
		{"MAX_WEBSOCKET_CONNECTIONS", cfg.MaxWebSocketConnections},
		{"MAX_CONNECTIONS_PER_IP", cfg.MaxConnectionsPerIP},
		{"HANDSHAKE_BURST", cfg.HandshakeBurst},
	}
	for _, p := range positiveInts {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.value)
		}
	}

	positiveDurations := []struct {
		name  string
		value time.Duration
	}{
		{"WS_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval},
		{"WS_RATE_WINDOW", cfg.RateWindow},
		{"WS_RATE_VIOLATION_WINDOW", cfg.RateViolationWindow},
		{"DIRECTORY_HEARTBEAT", cfg.DirectoryHeartbeat},
		{"SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout},
	}
	for _, p := range positiveDurations {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", p.name, p.value)
		}
	}

	if cfg.MaxMessageBytes < 512 {
		return errors.New("WS_MAX_MESSAGE_BYTES must be at least 512")
	}
	if cfg.HandshakeRatePerSecond <= 0 {
		return errors.New("HANDSHAKE_RATE_PER_SECOND must be positive")
	}

	return nil
}
