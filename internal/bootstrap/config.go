package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/mrpworks/mrp-auth/config"
)

// InitLogger initializes the structured logger and installs it as the slog default.
func InitLogger(obs config.ObservabilityConfig) *slog.Logger {
	return InitLoggerTo(os.Stdout, obs)
}

// InitLoggerTo is InitLogger writing to w. CLIs pass stderr to keep stdout for output.
func InitLoggerTo(w io.Writer, obs config.ObservabilityConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: obs.Level()}
	var handler slog.Handler
	if obs.LogFormat == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (config.AppConfig, error) {
	// Load .env file if it exists (development)
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return config.AppConfig{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg config.AppConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.Sanitize()
	return cfg, nil
}
