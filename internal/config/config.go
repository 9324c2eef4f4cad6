// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper. The core
// treats it as immutable once loaded.
type Config struct {
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Session SessionConfig `mapstructure:"session"`
	DB      DBConfig      `mapstructure:"db"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CrawlConfig governs the task set and pacing.
type CrawlConfig struct {
	Keywords       []string `mapstructure:"keywords"`
	CityCodes      []string `mapstructure:"city_codes"`
	MaxPages       int      `mapstructure:"max_pages"`
	PageSize       int      `mapstructure:"page_size"`
	Concurrency    int      `mapstructure:"concurrency"`
	DelayMinMs     int      `mapstructure:"delay_min_ms"`
	DelayMaxMs     int      `mapstructure:"delay_max_ms"`
	StorageRetries int      `mapstructure:"storage_retries"`
}

// HTTPConfig configures per-call timeouts and fetch retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// SessionConfig describes the upstream endpoints and identity headers.
type SessionConfig struct {
	PortalURL string `mapstructure:"portal_url"`
	SearchURL string `mapstructure:"search_url"`
	Referer   string `mapstructure:"referer"`
	UserAgent string `mapstructure:"user_agent"`
	AccountID string `mapstructure:"account_id"`
}

// DBConfig controls the Postgres pool.
type DBConfig struct {
	DSN              string `mapstructure:"dsn"`
	Table            string `mapstructure:"table"`
	MaxConns         int32  `mapstructure:"max_conns"`
	MinConns         int32  `mapstructure:"min_conns"`
	ConnLifetimeMins int    `mapstructure:"conn_lifetime_minutes"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("JOB51")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.max_pages", 10)
	v.SetDefault("crawl.page_size", 50)
	v.SetDefault("crawl.concurrency", 3)
	v.SetDefault("crawl.delay_min_ms", 1000)
	v.SetDefault("crawl.delay_max_ms", 3000)
	v.SetDefault("crawl.storage_retries", 3)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 10000)
	v.SetDefault("session.portal_url", "https://we.51job.com")
	v.SetDefault("session.search_url", "https://we.51job.com/api/job/search-pc")
	v.SetDefault("session.referer", "https://we.51job.com/pc/search")
	v.SetDefault("session.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	// Registered with an empty default so JOB51_DB_DSN is visible to
	// Unmarshal even when the config file omits the key.
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "job_listings")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Crawl.Keywords) == 0 {
		return fmt.Errorf("crawl.keywords must not be empty")
	}
	if len(c.Crawl.CityCodes) == 0 {
		return fmt.Errorf("crawl.city_codes must not be empty")
	}
	if c.Crawl.MaxPages <= 0 {
		return fmt.Errorf("crawl.max_pages must be > 0")
	}
	if c.Crawl.PageSize <= 0 {
		return fmt.Errorf("crawl.page_size must be > 0")
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.Crawl.DelayMaxMs < c.Crawl.DelayMinMs {
		return fmt.Errorf("crawl.delay_max_ms must be >= crawl.delay_min_ms")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Session.SearchURL == "" {
		return fmt.Errorf("session.search_url must be set")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	return nil
}

// DelayRange returns the politeness delay bounds.
func (c Config) DelayRange() (time.Duration, time.Duration) {
	return time.Duration(c.Crawl.DelayMinMs) * time.Millisecond,
		time.Duration(c.Crawl.DelayMaxMs) * time.Millisecond
}

// HTTPTimeout returns the per-call timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BackoffBounds returns the retry backoff base and cap.
func (c Config) BackoffBounds() (time.Duration, time.Duration) {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}
