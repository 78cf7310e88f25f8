// Package config loads process configuration and defines the persisted
// user settings.
//
// Process configuration comes from the environment (decoded with envdecode)
// and may be overridden by command-line flags. User settings travel inside
// the persisted snapshot; see Settings.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// Store kinds accepted by STORE_KIND.
const (
	StoreFile   = "file"
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// Config is the process configuration. Zero Port and empty ListenAddress or
// AuthToken mean "use the persisted setting".
type Config struct {
	VaultDir  string `env:"VAULT_DIR,default=."`
	VaultName string `env:"VAULT_NAME"`

	Port          int    `env:"PORT"`
	ListenAddress string `env:"LISTEN_ADDRESS"`
	AuthToken     string `env:"AUTH_TOKEN"`

	// AuthIssuer switches authentication to OIDC-issued JWTs. AuthJWKSURL
	// skips discovery.
	AuthIssuer   string `env:"AUTH_ISSUER"`
	AuthAudience string `env:"AUTH_AUDIENCE"`
	AuthJWKSURL  string `env:"AUTH_JWKS_URL"`
	AuthScopes   string `env:"AUTH_SCOPES"`

	StoreKind  string `env:"STORE_KIND,default=file"`
	StorePath  string `env:"STORE_PATH,default=.vault-mcp/data.json"`
	RedisAddr  string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisKey   string `env:"REDIS_KEY,default=vault-mcp:snapshot"`
	SQLitePath string `env:"SQLITE_PATH,default=.vault-mcp/data.db"`

	DailyFolder      string `env:"DAILY_FOLDER"`
	AttachmentFolder string `env:"ATTACHMENT_FOLDER"`

	SessionTTL      time.Duration `env:"SESSION_TTL,default=30m"`
	SweepInterval   time.Duration `env:"SESSION_SWEEP_INTERVAL,default=5m"`
	MaxSessions     int           `env:"MAX_SESSIONS,default=10"`
	StatsDebounce   time.Duration `env:"STATS_DEBOUNCE,default=5s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`

	LogFormat string `env:"LOG_FORMAT,default=text"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
}

// Load decodes Config from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks values envdecode cannot.
func (c Config) Validate() error {
	switch c.StoreKind {
	case StoreFile, StoreMemory, StoreRedis, StoreSQLite:
	default:
		return fmt.Errorf("unknown store kind %q", c.StoreKind)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("max sessions must be positive, got %d", c.MaxSessions)
	}
	if c.AuthIssuer != "" && c.AuthAudience == "" {
		return errors.New("AUTH_AUDIENCE is required with AUTH_ISSUER")
	}
	return nil
}

// Apply overlays non-zero process overrides onto persisted settings and
// sanitizes the result.
func (c Config) Apply(s Settings) Settings {
	if c.Port != 0 {
		s.Port = c.Port
	}
	if c.ListenAddress != "" {
		s.ListenAddress = c.ListenAddress
	}
	if c.AuthToken != "" {
		s.AuthToken = c.AuthToken
	}
	return s.Sanitize()
}
