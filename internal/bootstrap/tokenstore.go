package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/mrpworks/mrp-auth/config"
	"github.com/mrpworks/mrp-auth/internal/adapters/tokenstore"
)

// TokenStoreConfig contains configuration for the client token store.
type TokenStoreConfig struct {
	Client config.ClientConfig
	// RedisClient is required for the redis store only.
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// DefaultTokenFile is where the file store keeps the session when no path is configured.
func DefaultTokenFile() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "mrp-auth", "token.json"), nil
}

// BuildTokenStore picks the memory, file or redis store. The memory store only lives
// as long as the process; file and redis stores are shared across processes.
//
//nolint:ireturn // callers choose the store by configuration.
func BuildTokenStore(cfg TokenStoreConfig) (tokenstore.Store, error) {
	switch cfg.Client.TokenStore {
	case config.TokenStoreMemory:
		return tokenstore.NewOrigin(cfg.Client.TokenKey).Tab(), nil
	case config.TokenStoreFile, "":
		path := cfg.Client.TokenFile
		if path == "" {
			p, err := DefaultTokenFile()
			if err != nil {
				return nil, err
			}
			path = p
		}
		s, err := tokenstore.NewFileStore(tokenstore.FileStoreOptions{Path: path, Key: cfg.Client.TokenKey, Logger: cfg.Logger})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.TokenStoreRedis:
		if cfg.RedisClient == nil {
			return nil, errors.New("redis token store requires a redis client")
		}
		s, err := tokenstore.NewRedisStore(tokenstore.RedisStoreOptions{
			Client: cfg.RedisClient,
			Key:    cfg.Client.TokenKey,
			Logger: cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported token store %q", cfg.Client.TokenStore)
	}
}
