package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	AISStreamAPIKey string        `env:"AISSTREAM_API_KEY"`
	AISStreamURL    string        `env:"AISSTREAM_URL" default:"wss://stream.aisstream.io/v0/stream"`
	ReconnectDelay  time.Duration `env:"RECONNECT_DELAY" default:"5s"`
	ConnectOnStart  bool          `env:"CONNECT_ON_START" default:"false"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"100"`
	ConnectionRate          float64 `env:"CONNECTION_RATE" default:"10"`
	ConnectionBurst         int     `env:"CONNECTION_BURST" default:"20"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

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

func validate(cfg *Config) error {
	if cfg.AISStreamAPIKey == "" {
		return errors.New("AISSTREAM_API_KEY is required")
	}
	if cfg.Port == "" {
		return errors.New("PORT is required")
	}

	u, err := url.Parse(cfg.AISStreamURL)
	if err != nil {
		return fmt.Errorf("AISSTREAM_URL is not a valid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("AISSTREAM_URL must use ws or wss scheme, got %q", u.Scheme)
	}

	if cfg.ReconnectDelay <= 0 {
		return errors.New("RECONNECT_DELAY must be positive")
	}
	if cfg.ShutdownTimeout <= 0 {
		return errors.New("SHUTDOWN_TIMEOUT must be positive")
	}

	if cfg.MaxWebSocketConnections < 1 {
		return errors.New("MAX_WEBSOCKET_CONNECTIONS must be at least 1")
	}
	if cfg.MaxConnectionsPerIP < 1 {
		return errors.New("MAX_CONNECTIONS_PER_IP must be at least 1")
	}
	if cfg.ConnectionRate <= 0 || cfg.ConnectionBurst < 1 {
		return errors.New("CONNECTION_RATE must be positive and CONNECTION_BURST at least 1")
	}

	return nil
}

// IsDevelopment reports whether the relay runs outside production.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv != "production"
}
