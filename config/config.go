// Package config loads coinsync settings from the environment (and an
// optional .env file).
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Context levels mirror the host's numeric levels.
const (
	ContextLevelSystem = 10
	ContextLevelUser   = 30
	ContextLevelCourse = 50
	ContextLevelModule = 70
)

// Config holds every coinsync setting.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`
	Port        int    `env:"PORT" envDefault:"5200"`

	APIURL    string `env:"COINSYNC_API_URL" envDefault:"https://api.incentli.com/v2"`
	APIKey    string `env:"COINSYNC_API_KEY"`
	AccountID string `env:"COINSYNC_ACCOUNT_ID"`

	Enabled              bool  `env:"COINSYNC_ENABLED" envDefault:"false"`
	Paused               bool  `env:"COINSYNC_PAUSED" envDefault:"false"`
	UseGroupings         bool  `env:"COINSYNC_USE_GROUPINGS" envDefault:"false"`
	ExcludeAdmins        bool  `env:"COINSYNC_EXCLUDE_ADMINS" envDefault:"true"`
	AllowedContextLevels []int `env:"COINSYNC_ALLOWED_CONTEXT_LEVELS" envDefault:"50,70" envSeparator:","`

	WebhookSecret string `env:"COINSYNC_WEBHOOK_SECRET"`
	ServiceToken  string `env:"COINSYNC_SERVICE_TOKEN"`

	RemoteTimeout time.Duration `env:"COINSYNC_REMOTE_TIMEOUT" envDefault:"10s"`
	BalanceTTL    time.Duration `env:"COINSYNC_BALANCE_TTL" envDefault:"5m"`
	MetadataTTL   time.Duration `env:"COINSYNC_METADATA_TTL" envDefault:"1h"`

	PushChunkSize    int           `env:"COINSYNC_PUSH_CHUNK_SIZE" envDefault:"100"`
	PushInterval     time.Duration `env:"COINSYNC_PUSH_INTERVAL" envDefault:"5m"`
	PushRate         float64       `env:"COINSYNC_PUSH_RATE" envDefault:"4"`
	TeamSyncInterval time.Duration `env:"COINSYNC_TEAM_SYNC_INTERVAL" envDefault:"1h"`

	CloudflareAccountID string        `env:"CLOUDFLARE_ACCOUNT_ID"`
	R2AccessKeyID       string        `env:"R2_ACCESS_KEY_ID"`
	R2AccessKeySecret   string        `env:"R2_ACCESS_KEY_SECRET"`
	R2Bucket            string        `env:"R2_BUCKET_NAME"`
	ExportInterval      time.Duration `env:"COINSYNC_EXPORT_INTERVAL" envDefault:"24h"`
}

// Load reads .env (when present) and parses the environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}
	return Parse()
}

// Parse parses the current environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	cfg.AccountID = strings.TrimSpace(cfg.AccountID)
	return &cfg, nil
}

// Validate checks the settings needed to talk to the database and the
// remote service.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.Enabled {
		if c.APIURL == "" {
			errs = append(errs, errors.New("COINSYNC_API_URL is required when enabled"))
		}
		if c.APIKey == "" {
			errs = append(errs, errors.New("COINSYNC_API_KEY is required when enabled"))
		}
		if c.AccountID == "" {
			errs = append(errs, errors.New("COINSYNC_ACCOUNT_ID is required when enabled"))
		}
	}
	if c.PushChunkSize <= 0 {
		errs = append(errs, errors.New("COINSYNC_PUSH_CHUNK_SIZE must be positive"))
	}
	if c.PushRate <= 0 {
		errs = append(errs, errors.New("COINSYNC_PUSH_RATE must be positive"))
	}
	return errors.Join(errs...)
}

// ContextLevelAllowed reports whether triggers from the given level earn coins.
func (c *Config) ContextLevelAllowed(level int) bool {
	for _, l := range c.AllowedContextLevels {
		if l == level {
			return true
		}
	}
	return false
}

// ExportConfigured reports whether R2 credentials for ledger export are set.
func (c *Config) ExportConfigured() bool {
	return c.CloudflareAccountID != "" && c.R2AccessKeyID != "" && c.R2AccessKeySecret != "" && c.R2Bucket != ""
}

// String redacts secrets so a Config can be logged.
func (c Config) String() string {
	return fmt.Sprintf("Config{api=%s account=%s enabled=%t paused=%t groupings=%t apiKey=%s webhookSecret=%s}",
		c.APIURL, c.AccountID, c.Enabled, c.Paused, c.UseGroupings, redact(c.APIKey), redact(c.WebhookSecret))
}

func redact(s string) string {
	if s == "" {
		return "<unset>"
	}
	return "<redacted>"
}
