package config

import (
	"os"
	"strings"
)

// AppConfig is shared by mrp-auth-api and mrp-authctl. It is filled from the
// environment by caarlos0/env; the sections live next to the code that reads them
// (auth.go, database.go, http.go, client.go, observability.go).
type AppConfig struct {
	// IsDev controls development mode behavior (dev seeding, text logs).
	// Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	Auth          AuthConfig
	Postgres      DBConfig    `envPrefix:"DB_"`
	Redis         RedisConfig `envPrefix:"REDIS_"`
	HTTP          HTTPConfig
	Client        ClientConfig `envPrefix:"CLIENT_"`
	Observability ObservabilityConfig
}

// Sanitize clamps and normalizes values after env parsing. It never fails;
// fatal misconfiguration is reported by AuthConfig.ValidateServer.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.Auth.Sanitize()
	c.Client.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// detectDevMode falls back to NODE_ENV when DEV is unset.
func (c *AppConfig) detectDevMode() {
	if c.IsDev {
		return
	}
	switch strings.ToLower(os.Getenv("NODE_ENV")) {
	case "development", "dev":
		c.IsDev = true
	}
}
