package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type Config struct {
	Site    SiteConfig
	Monitor MonitorConfig
	Discord DiscordConfig
	Storage StorageConfig
	Probe   ProbeConfig
	Log     LogConfig
}

type SiteConfig struct {
	BaseURL        string `env:"BUYING_GROUP_BASE_URL" envDefault:"https://app.buyinggroup.ca" validate:"required,url"`
	Username       string `env:"BUYING_GROUP_USERNAME" validate:"required"`
	Password       string `env:"BUYING_GROUP_PASSWORD" validate:"required"`
	UserAgent      string `env:"USER_AGENT"`
	SelectorsPath  string `env:"SELECTORS_CONFIG_PATH"`
	RequestTimeout int    `env:"REQUEST_TIMEOUT" envDefault:"30" validate:"min=1"`
	MaxRetries     int    `env:"MAX_RETRIES" envDefault:"3" validate:"min=0"`
	RetryDelay     int    `env:"RETRY_DELAY" envDefault:"5" validate:"min=1"`
}

func (s SiteConfig) Timeout() time.Duration {
	return time.Duration(s.RequestTimeout) * time.Second
}

func (s SiteConfig) RetryBaseDelay() time.Duration {
	return time.Duration(s.RetryDelay) * time.Second
}

type MonitorConfig struct {
	CheckIntervalMinutes int  `env:"CHECK_INTERVAL_MINUTES" envDefault:"5" validate:"min=1"`
	AutoCommitNewDeals   bool `env:"AUTO_COMMIT_NEW_DEALS" envDefault:"true"`
	AutoCommitQuantity   int  `env:"AUTO_COMMIT_QUANTITY" envDefault:"1" validate:"min=1"`
}

func (m MonitorConfig) TickInterval() time.Duration {
	return time.Duration(m.CheckIntervalMinutes) * time.Minute
}

type DiscordConfig struct {
	WebhookURL string `env:"DISCORD_WEBHOOK_URL" validate:"omitempty,url"`
}

type StorageConfig struct {
	Backend      string `env:"STORAGE_BACKEND" envDefault:"sqlite" validate:"oneof=sqlite firestore"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"buying_group_deals.db"`
	ProjectID    string `env:"GOOGLE_CLOUD_PROJECT" validate:"required_if=Backend firestore"`
}

type ProbeConfig struct {
	Port int `env:"STATUS_PORT" envDefault:"8000" validate:"min=1,max=65535"`
}

func (p ProbeConfig) ListenAddress() string {
	return fmt.Sprintf(":%d", p.Port)
}

type LogConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
}

func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads configuration from the environment, pulling in a .env file first
// when one is present. Missing mandatory credentials or otherwise invalid
// values are the only startup-fatal conditions.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.Site.UserAgent == "" {
		cfg.Site.UserAgent = defaultUserAgent
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Discord.WebhookURL == "" {
		slog.Warn("DISCORD_WEBHOOK_URL not set, notifications will be skipped")
	}
	return cfg, nil
}
