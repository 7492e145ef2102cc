package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AuthMode represents the authentication backend the application talks to.
type AuthMode string

const (
	// AuthModeLocal uses the local JWT API server backed by the users table.
	AuthModeLocal AuthMode = "local"
	// AuthModeHosted uses a hosted OIDC/OAuth2 provider.
	AuthModeHosted AuthMode = "hosted"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "local", "hosted":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: local, hosted)", v)
	}
}

// minJWTSecretLen is the shortest HS256 secret accepted outside development.
const minJWTSecretLen = 32

// LocalAuthConfig configures the local JWT API server.
type LocalAuthConfig struct {
	JWTSecret string        `env:"JWT_SECRET"`
	Issuer    string        `env:"JWT_ISSUER" envDefault:"mrp-auth"`
	TokenTTL  time.Duration `env:"TOKEN_TTL"  envDefault:"12h"`

	// Argon2id cost parameters for new hashes. Stored hashes with weaker
	// parameters are upgraded on the next successful login.
	Argon2MemoryKiB uint32 `env:"ARGON2_MEMORY_KIB" envDefault:"65536"`
	Argon2Time      uint32 `env:"ARGON2_TIME"       envDefault:"3"`
	Argon2Threads   uint8  `env:"ARGON2_THREADS"    envDefault:"1"`

	// Seed controls the development users created when DEV=true.
	SeedAdminEmail    string `env:"SEED_ADMIN_EMAIL"    envDefault:"admin@example.com"`
	SeedAdminPassword string `env:"SEED_ADMIN_PASSWORD" envDefault:"admin123"`
}

// HostedAuthConfig configures the hosted OIDC/OAuth2 backend.
type HostedAuthConfig struct {
	IssuerURL string `env:"ISSUER_URL"`
	// Explicit endpoints skip discovery when both token and userinfo URLs are set.
	TokenURL      string   `env:"TOKEN_URL"`
	UserInfoURL   string   `env:"USERINFO_URL"`
	RevocationURL string   `env:"REVOCATION_URL"`
	ClientID      string   `env:"CLIENT_ID"`
	ClientSecret  string   `env:"CLIENT_SECRET"`
	Scopes        []string `env:"SCOPES"         envDefault:"openid,profile,email,offline_access" envSeparator:","`
	// RoleExpr is a JMESPath expression evaluated against userinfo claims.
	RoleExpr    string `env:"ROLE_EXPR"    envDefault:"app_metadata.role || role"`
	DefaultRole string `env:"DEFAULT_ROLE" envDefault:""`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines which backend clients use.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"local"`

	Local  LocalAuthConfig  `envPrefix:"AUTH_LOCAL_"`
	Hosted HostedAuthConfig `envPrefix:"AUTH_HOSTED_"`
}

// Sanitize trims values and restores defaults for invalid durations and costs.
func (c *AuthConfig) Sanitize() {
	c.Local.JWTSecret = strings.TrimSpace(c.Local.JWTSecret)
	if c.Local.TokenTTL <= 0 {
		c.Local.TokenTTL = 12 * time.Hour
	}
	if c.Local.Argon2Time == 0 {
		c.Local.Argon2Time = 1
	}
	if c.Local.Argon2Threads == 0 {
		c.Local.Argon2Threads = 1
	}
	c.Hosted.IssuerURL = strings.TrimSpace(c.Hosted.IssuerURL)
	c.Hosted.ClientID = strings.TrimSpace(c.Hosted.ClientID)
	c.Hosted.DefaultRole = strings.TrimSpace(c.Hosted.DefaultRole)
	scopes := c.Hosted.Scopes[:0]
	for _, s := range c.Hosted.Scopes {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	c.Hosted.Scopes = scopes
}

// ValidateServer checks what the local API server needs to start.
// Development mode tolerates a short secret so the dev seed works out of the box.
func (c *AuthConfig) ValidateServer(isDev bool) error {
	if c.Local.JWTSecret == "" {
		return errors.New("AUTH_LOCAL_JWT_SECRET is required")
	}
	if !isDev && len(c.Local.JWTSecret) < minJWTSecretLen {
		return fmt.Errorf("AUTH_LOCAL_JWT_SECRET must be at least %d bytes", minJWTSecretLen)
	}
	return nil
}

// ValidateHosted checks the hosted backend settings.
func (c *AuthConfig) ValidateHosted() error {
	if c.Hosted.ClientID == "" {
		return errors.New("AUTH_HOSTED_CLIENT_ID is required when AUTH_MODE=hosted")
	}
	explicit := c.Hosted.TokenURL != "" && c.Hosted.UserInfoURL != ""
	if c.Hosted.IssuerURL == "" && !explicit {
		return errors.New("AUTH_HOSTED_ISSUER_URL or both AUTH_HOSTED_TOKEN_URL and AUTH_HOSTED_USERINFO_URL are required")
	}
	return nil
}
