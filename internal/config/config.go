package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port     string `env:"HOMEBANK_PORT" envDefault:"8080"`
	DBPath   string `env:"HOMEBANK_DB_PATH" envDefault:"homebank.db"`
	LogLevel string `env:"HOMEBANK_LOG_LEVEL" envDefault:"info"`
	BaseURL  string `env:"HOMEBANK_BASE_URL"`
	Timezone string `env:"HOMEBANK_TIMEZONE" envDefault:"Local"`

	// Recurring generation and the periodic drivers.
	HorizonDays      int    `env:"HOMEBANK_HORIZON_DAYS" envDefault:"30"`
	SweepSchedule    string `env:"HOMEBANK_SWEEP_SCHEDULE" envDefault:"@every 5m"`
	GenerateSchedule string `env:"HOMEBANK_GENERATE_SCHEDULE" envDefault:"@every 1h"`
	CleanupSchedule  string `env:"HOMEBANK_CLEANUP_SCHEDULE" envDefault:"@hourly"`

	// Email
	PostmarkToken string `env:"HOMEBANK_POSTMARK_TOKEN"`
	FromEmail     string `env:"HOMEBANK_FROM_EMAIL" envDefault:"noreply@homebank.app"`

	// Web push; both keys empty disables it.
	VAPIDPublicKey  string `env:"HOMEBANK_VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `env:"HOMEBANK_VAPID_PRIVATE_KEY"`

	// Bootstrap admin, created on startup when no admin exists.
	AdminEmail    string `env:"HOMEBANK_ADMIN_EMAIL"`
	AdminPassword string `env:"HOMEBANK_ADMIN_PASSWORD"`

	// Backup; empty schedule disables it.
	BackupSchedule      string   `env:"HOMEBANK_BACKUP_SCHEDULE"`
	BackupPassphrase    string   `env:"HOMEBANK_BACKUP_PASSPHRASE"`
	BackupRetentionDays int      `env:"HOMEBANK_BACKUP_RETENTION_DAYS" envDefault:"30"`
	S3                  S3Config `envPrefix:"HOMEBANK_S3_"`
}

type S3Config struct {
	Endpoint  string `env:"ENDPOINT"`
	Bucket    string `env:"BUCKET"`
	Region    string `env:"REGION" envDefault:"auto"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port
	}
	if cfg.HorizonDays <= 0 {
		return nil, fmt.Errorf("HOMEBANK_HORIZON_DAYS must be positive, got %d", cfg.HorizonDays)
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Location resolves the timezone used for every calendar-day comparison.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) BackupEnabled() bool {
	return c.BackupSchedule != "" && c.S3.Bucket != "" && c.S3.AccessKey != "" && c.S3.SecretKey != ""
}
