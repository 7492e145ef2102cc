package bootstrap

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mrpworks/mrp-auth/config"
	httpx "github.com/mrpworks/mrp-auth/internal/http"
	"github.com/mrpworks/mrp-auth/internal/observability/metrics"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config    *config.AppConfig
	Services  *AuthServices
	Metrics   *metrics.Metrics
	// Readiness maps dependency names to pings served on /readyz.
	Readiness map[string]httpx.Pinger
	Logger    *slog.Logger
}

// NewHTTPServer builds the API server. The caller starts it with ListenAndServe.
func NewHTTPServer(cfg HTTPServerConfig) *http.Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	services := httpx.RouterServices{Logger: logger, ReadinessChecks: cfg.Readiness}
	if cfg.Services != nil {
		services.Auth = cfg.Services.Auth
		if cfg.Services.Users != nil {
			services.Users = cfg.Services.Users
		}
	}
	if appCfg.Observability.MetricsEnabled {
		services.Metrics = cfg.Metrics
		services.MetricsPath = appCfg.Observability.MetricsPath
	}

	addr := appCfg.HTTP.Addr
	if addr == "" {
		addr = ":8080"
	}

	return &http.Server{
		Addr:              addr,
		Handler:           httpx.NewRouter(services),
		ReadHeaderTimeout: appCfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       appCfg.HTTP.ReadTimeout,
		WriteTimeout:      appCfg.HTTP.WriteTimeout,
		IdleTimeout:       appCfg.HTTP.IdleTimeout,
	}
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Server  *http.Server
	Timeout time.Duration
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(ctx context.Context, cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}

	if cfg.Logger != nil {
		cfg.Logger.InfoContext(ctx, "shutting down HTTP server")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if cfg.Logger != nil {
		cfg.Logger.InfoContext(ctx, "HTTP server stopped")
	}

	return nil
}
