package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/mrpworks/mrp-auth/config"
	"github.com/mrpworks/mrp-auth/internal/adapters/argon2id"
	"github.com/mrpworks/mrp-auth/internal/adapters/authroles"
	"github.com/mrpworks/mrp-auth/internal/adapters/jwtissuer"
	"github.com/mrpworks/mrp-auth/internal/adapters/localapi"
	"github.com/mrpworks/mrp-auth/internal/adapters/oidc"
	redisadapter "github.com/mrpworks/mrp-auth/internal/adapters/redis"
	"github.com/mrpworks/mrp-auth/internal/data"
	domainauth "github.com/mrpworks/mrp-auth/internal/domain/auth"
	"github.com/mrpworks/mrp-auth/internal/observability/metrics"
	"github.com/mrpworks/mrp-auth/internal/ports"
	"github.com/mrpworks/mrp-auth/internal/service"
)

// AuthConfig contains configuration for the server-side auth services.
type AuthConfig struct {
	Auth        config.AuthConfig
	IsDev       bool
	DB          *sql.DB
	RedisClient redis.UniversalClient

	// SessionPrefix namespaces session keys; empty uses the store default.
	SessionPrefix string

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// AuthServices bundles what the local API server needs.
type AuthServices struct {
	Auth   *service.AuthService
	Users  *service.UserService
	Hasher *argon2id.Hasher
}

// NewHasher builds the Argon2id hasher from the local auth settings.
func NewHasher(cfg config.LocalAuthConfig) *argon2id.Hasher {
	return argon2id.New(argon2id.Params{
		MemoryKiB: cfg.Argon2MemoryKiB,
		Time:      cfg.Argon2Time,
		Threads:   cfg.Argon2Threads,
	})
}

// BuildAuthServices wires the users table, the token issuer and the Redis session store
// into AuthService and UserService.
func BuildAuthServices(cfg AuthConfig) (*AuthServices, error) {
	if cfg.DB == nil {
		return nil, errors.New("auth services require a database")
	}
	if cfg.RedisClient == nil {
		return nil, errors.New("auth services require a redis client")
	}
	if err := cfg.Auth.ValidateServer(cfg.IsDev); err != nil {
		return nil, err
	}

	issuer, err := jwtissuer.New(jwtissuer.Options{
		Secret: cfg.Auth.Local.JWTSecret,
		Issuer: cfg.Auth.Local.Issuer,
		TTL:    cfg.Auth.Local.TokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("token issuer: %w", err)
	}

	users := data.NewUserRepo(cfg.DB)
	hasher := NewHasher(cfg.Auth.Local)
	sessions := redisadapter.NewSessionStore(cfg.RedisClient)
	if cfg.SessionPrefix != "" {
		sessions = redisadapter.NewSessionStoreWithPrefix(cfg.RedisClient, cfg.SessionPrefix)
	}

	authSvc, err := service.NewAuthService(service.AuthServiceOptions{
		Users:    users,
		Hasher:   hasher,
		Tokens:   issuer,
		Sessions: sessions,
		Metrics:  cfg.Metrics,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	userSvc, err := service.NewUserService(service.UserServiceOptions{
		Users:   users,
		Hasher:  hasher,
		Revoker: sessions,
		Metrics: cfg.Metrics,
		Logger:  cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &AuthServices{Auth: authSvc, Users: userSvc, Hasher: hasher}, nil
}

// BackendConfig contains configuration for the client-side auth backend.
type BackendConfig struct {
	Auth   config.AuthConfig
	Client config.ClientConfig
	Store  ports.TokenStore
	Logger *slog.Logger
}

// BuildBackend selects the backend implementation by auth mode. Callers only ever see
// ports.Backend, so the session manager is identical in both modes.
//
//nolint:ireturn // the point is to hide which implementation was chosen.
func BuildBackend(ctx context.Context, cfg BackendConfig) (ports.Backend, error) {
	if cfg.Store == nil {
		return nil, errors.New("backend requires a token store")
	}
	switch cfg.Auth.Mode {
	case config.AuthModeHosted:
		b, err := buildHostedBackend(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.AuthModeLocal, "":
		c, err := localapi.NewClient(localapi.Config{
			BaseURL: cfg.Client.APIBaseURL,
			Store:   cfg.Store,
			Timeout: cfg.Client.Timeout,
			Logger:  cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Auth.Mode)
	}
}

func buildHostedBackend(ctx context.Context, cfg BackendConfig) (*oidc.Backend, error) {
	if err := cfg.Auth.ValidateHosted(); err != nil {
		return nil, err
	}
	hosted := cfg.Auth.Hosted
	var def domainauth.Role
	if hosted.DefaultRole != "" {
		r, err := domainauth.ParseRole(hosted.DefaultRole)
		if err != nil {
			return nil, fmt.Errorf("AUTH_HOSTED_DEFAULT_ROLE: %w", err)
		}
		def = r
	}
	roles, err := authroles.NewJMESPathMapper(hosted.RoleExpr, def)
	if err != nil {
		return nil, err
	}
	return oidc.NewBackend(ctx, oidc.Config{
		IssuerURL:     hosted.IssuerURL,
		TokenURL:      hosted.TokenURL,
		UserInfoURL:   hosted.UserInfoURL,
		RevocationURL: hosted.RevocationURL,
		ClientID:      hosted.ClientID,
		ClientSecret:  hosted.ClientSecret,
		Scopes:        hosted.Scopes,
		Roles:         roles,
		Store:         cfg.Store,
		Timeout:       cfg.Client.Timeout,
		Logger:        cfg.Logger,
	})
}
