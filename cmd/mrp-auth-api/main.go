package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/mrpworks/mrp-auth/config"
	"github.com/mrpworks/mrp-auth/internal/bootstrap"
	"github.com/mrpworks/mrp-auth/internal/devseed"
	httpx "github.com/mrpworks/mrp-auth/internal/http"
	"github.com/mrpworks/mrp-auth/internal/observability/metrics"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		slog.Default().ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	logger := bootstrap.InitLogger(cfg.Observability)

	logStartupInfo(ctx, logger, &cfg)

	if err = cfg.Auth.ValidateServer(cfg.IsDev); err != nil {
		return err
	}

	db, redisClient, err := initInfrastructure(ctx, &cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close database failed", "error", cerr)
		}
	}()
	defer func() {
		if cerr := redisClient.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close redis failed", "error", cerr)
		}
	}()

	if cfg.Postgres.RunMigrationsOnStart {
		if err = bootstrap.RunMigrations(ctx, db, logger); err != nil {
			return err
		}
	} else {
		logger.InfoContext(ctx, "skipping database migrations on startup", "reason", "disabled via config")
	}

	m := metrics.New()
	services, err := bootstrap.BuildAuthServices(bootstrap.AuthConfig{
		Auth:          cfg.Auth,
		IsDev:         cfg.IsDev,
		DB:            db,
		RedisClient:   redisClient,
		SessionPrefix: cfg.Redis.SessionPrefix,
		Metrics:       m,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("build auth services: %w", err)
	}

	if cfg.IsDev {
		if err = devseed.Run(ctx, devseed.Options{
			Users:         services.Users,
			AdminEmail:    cfg.Auth.Local.SeedAdminEmail,
			AdminPassword: cfg.Auth.Local.SeedAdminPassword,
			Logger:        logger,
		}); err != nil {
			logger.WarnContext(ctx, "dev seed incomplete", "error", err)
		}
	}

	srv := bootstrap.NewHTTPServer(bootstrap.HTTPServerConfig{
		Config:   &cfg,
		Services: services,
		Metrics:  m,
		Readiness: map[string]httpx.Pinger{
			"postgres": db.PingContext,
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		},
		Logger: logger,
	})

	return serve(ctx, srv, cfg.HTTP.ShutdownTimeout, logger)
}

func serve(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.InfoContext(gctx, "HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return bootstrap.ShutdownHTTPServer(gctx, bootstrap.ShutdownConfig{
			Server:  srv,
			Timeout: shutdownTimeout,
			Logger:  logger,
		})
	})
	return g.Wait()
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting mrp-auth api",
		"addr", cfg.HTTP.Addr,
		"auth_mode", cfg.Auth.Mode,
		"db_host", cfg.Postgres.Host,
		"db_port", cfg.Postgres.Port,
		"db_name", cfg.Postgres.Name,
		"dev", cfg.IsDev,
		"metrics_enabled", cfg.Observability.MetricsEnabled)
}

// initInfrastructure connects the users database and the session Redis.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func initInfrastructure(
	ctx context.Context,
	cfg *config.AppConfig,
	logger *slog.Logger,
) (*sql.DB, redis.UniversalClient, error) {
	dbCfg := bootstrap.DatabaseConfig{
		DBConfig:    cfg.Postgres,
		RedisConfig: cfg.Redis,
		Logger:      logger,
	}
	db, err := bootstrap.ConnectDB(ctx, dbCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect db: %w", err)
	}

	redisClient, err := bootstrap.ConnectRedis(ctx, dbCfg)
	if err != nil {
		if cerr := db.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close database after redis connect failure", "error", cerr)
			return nil, nil, fmt.Errorf("connect redis: %w", errors.Join(err, fmt.Errorf("close database: %w", cerr)))
		}
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	return db, redisClient, nil
}
