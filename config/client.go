package config

import (
	"fmt"
	"strings"
	"time"
)

// TokenStoreKind selects where clients keep their session.
type TokenStoreKind string

const (
	// TokenStoreMemory keeps the session in process memory.
	TokenStoreMemory TokenStoreKind = "memory"
	// TokenStoreFile keeps the session in a file shared by processes on one host.
	TokenStoreFile TokenStoreKind = "file"
	// TokenStoreRedis keeps the session in Redis shared by processes on many hosts.
	TokenStoreRedis TokenStoreKind = "redis"
)

// UnmarshalText implements encoding.TextUnmarshaler for TokenStoreKind.
func (k *TokenStoreKind) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch TokenStoreKind(v) {
	case TokenStoreMemory, TokenStoreFile, TokenStoreRedis:
		*k = TokenStoreKind(v)
		return nil
	default:
		return fmt.Errorf("invalid TokenStoreKind: %q (valid options: memory, file, redis)", v)
	}
}

// ClientConfig configures mrp-authctl's backend client and token store.
type ClientConfig struct {
	// APIBaseURL is the local API server clients talk to in local mode.
	APIBaseURL string        `env:"API_BASE_URL" envDefault:"http://localhost:8080"`
	Timeout    time.Duration `env:"TIMEOUT"      envDefault:"20s"`

	TokenStore TokenStoreKind `env:"TOKEN_STORE" envDefault:"file"`
	// TokenFile is used by the file store. Empty means $XDG_CONFIG_HOME/mrp-auth/token.json.
	TokenFile string `env:"TOKEN_FILE"`
	TokenKey  string `env:"TOKEN_KEY"  envDefault:"auth_token"`
}

// Sanitize restores defaults for empty or invalid values.
func (c *ClientConfig) Sanitize() {
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.TokenStore == "" {
		c.TokenStore = TokenStoreFile
	}
	if c.TokenKey = strings.TrimSpace(c.TokenKey); c.TokenKey == "" {
		c.TokenKey = "auth_token"
	}
	c.TokenFile = strings.TrimSpace(c.TokenFile)
}
