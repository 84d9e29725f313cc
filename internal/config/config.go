// Package config loads server settings from an optional YAML file
// overlaid by BROKERDESK_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/dukerupert/brokerdesk/internal/backup"
)

const envPrefix = "BROKERDESK_"

type Config struct {
	Port               string        `yaml:"port"`
	DBPath             string        `yaml:"db_path"`
	BaseURL            string        `yaml:"base_url"`
	LogLevel           string        `yaml:"log_level"`
	SessionSecret      string        `yaml:"session_secret"`
	PlatformURL        string        `yaml:"platform_url"`
	PlatformTimeout    time.Duration `yaml:"platform_timeout"`
	PostmarkToken      string        `yaml:"postmark_token"`
	PostmarkFrom       string        `yaml:"postmark_from"`
	DemoInitialBalance string        `yaml:"demo_initial_balance"`
	ReconcileAfter     time.Duration `yaml:"reconcile_after"`
	FeedInterval       time.Duration `yaml:"feed_interval"`
	Backup             BackupConfig  `yaml:"backup"`
}

// BackupConfig locates the S3 bucket for database snapshots. Scheduled
// backups run only when Interval is positive and storage is configured.
type BackupConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	Bucket     string        `yaml:"bucket"`
	Region     string        `yaml:"region"`
	AccessKey  string        `yaml:"access_key"`
	SecretKey  string        `yaml:"secret_key"`
	Prefix     string        `yaml:"prefix"`
	Passphrase string        `yaml:"passphrase"`
	Interval   time.Duration `yaml:"interval"`
	Retention  time.Duration `yaml:"retention"`
}

func (b BackupConfig) Storage() backup.Config {
	return backup.Config{
		Endpoint:   b.Endpoint,
		Bucket:     b.Bucket,
		Region:     b.Region,
		AccessKey:  b.AccessKey,
		SecretKey:  b.SecretKey,
		Prefix:     b.Prefix,
		Passphrase: b.Passphrase,
	}
}

func defaults() Config {
	return Config{
		Port:               "8080",
		DBPath:             "brokerdesk.db",
		BaseURL:            "http://localhost:8080",
		LogLevel:           "info",
		PlatformURL:        "http://127.0.0.1:3000",
		PlatformTimeout:    15 * time.Second,
		PostmarkFrom:       "no-reply@brokerdesk.local",
		DemoInitialBalance: "10000",
		ReconcileAfter:     15 * time.Minute,
		FeedInterval:       5 * time.Second,
		Backup: BackupConfig{
			Region:    "us-east-1",
			Prefix:    "brokerdesk",
			Retention: 30 * 24 * time.Hour,
		},
	}
}

// Load reads path when it is non-empty, applies environment overrides and
// checks required settings.
func Load(path string) (Config, error) {
	c := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
			return c, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.applyEnv(); err != nil {
		return c, err
	}
	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"PORT":                 &c.Port,
		"DB_PATH":              &c.DBPath,
		"BASE_URL":             &c.BaseURL,
		"LOG_LEVEL":            &c.LogLevel,
		"SESSION_SECRET":       &c.SessionSecret,
		"PLATFORM_URL":         &c.PlatformURL,
		"POSTMARK_TOKEN":       &c.PostmarkToken,
		"POSTMARK_FROM":        &c.PostmarkFrom,
		"DEMO_INITIAL_BALANCE": &c.DemoInitialBalance,
		"BACKUP_ENDPOINT":      &c.Backup.Endpoint,
		"BACKUP_BUCKET":        &c.Backup.Bucket,
		"BACKUP_REGION":        &c.Backup.Region,
		"BACKUP_ACCESS_KEY":    &c.Backup.AccessKey,
		"BACKUP_SECRET_KEY":    &c.Backup.SecretKey,
		"BACKUP_PREFIX":        &c.Backup.Prefix,
		"BACKUP_PASSPHRASE":    &c.Backup.Passphrase,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	durations := map[string]*time.Duration{
		"PLATFORM_TIMEOUT": &c.PlatformTimeout,
		"RECONCILE_AFTER":  &c.ReconcileAfter,
		"FEED_INTERVAL":    &c.FeedInterval,
		"BACKUP_INTERVAL":  &c.Backup.Interval,
		"BACKUP_RETENTION": &c.Backup.Retention,
	}
	for key, dst := range durations {
		v, ok := os.LookupEnv(envPrefix + key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
		*dst = d
	}
	return nil
}

func (c Config) validate() error {
	var missing []string
	if c.SessionSecret == "" {
		missing = append(missing, "session_secret")
	}
	if c.DBPath == "" {
		missing = append(missing, "db_path")
	}
	if c.PlatformURL == "" {
		missing = append(missing, "platform_url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	if len(c.SessionSecret) < 16 {
		return errors.New("session_secret must be at least 16 characters")
	}
	if _, err := c.DemoBalance(); err != nil {
		return err
	}
	if c.ReconcileAfter <= 0 || c.FeedInterval <= 0 || c.PlatformTimeout <= 0 {
		return errors.New("reconcile_after, feed_interval and platform_timeout must be positive")
	}
	if c.Backup.Interval > 0 && !c.Backup.Storage().Enabled() {
		return errors.New("backup.interval requires backup bucket, credentials and passphrase")
	}
	return nil
}

// DemoBalance parses the initial demo deposit.
func (c Config) DemoBalance() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.DemoInitialBalance)
	if err != nil || d.IsNegative() {
		return decimal.Zero, fmt.Errorf("invalid demo_initial_balance %q", c.DemoInitialBalance)
	}
	return d, nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + c.Port
}
