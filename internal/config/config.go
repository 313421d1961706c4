// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// EnvPrefix namespaces environment overrides, e.g. HARVESTER_HARVEST_WORKERS.
const EnvPrefix = "HARVESTER"

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Harvest  HarvestConfig  `mapstructure:"harvest"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Robots   RobotsConfig   `mapstructure:"robots"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Sink     SinkConfig     `mapstructure:"sink"`
	DB       DBConfig       `mapstructure:"db"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// HarvestConfig governs the worker pool and the per-job page loop.
type HarvestConfig struct {
	Workers          int               `mapstructure:"workers"`
	MaxPages         int               `mapstructure:"max_pages"`
	DelayMs          int               `mapstructure:"delay_ms"`
	JitterMs         int               `mapstructure:"jitter_ms"`
	StartJitterMinMs int               `mapstructure:"start_jitter_min_ms"`
	StartJitterMaxMs int               `mapstructure:"start_jitter_max_ms"`
	BaseURL          string            `mapstructure:"base_url"`
	SearchPath       string            `mapstructure:"search_path"`
	SearchFilters    map[string]string `mapstructure:"search_filters"`
	UserAgent        string            `mapstructure:"user_agent"`
	TargetsFile      string            `mapstructure:"targets_file"`
	StopToken        string            `mapstructure:"stop_token"`
	RateLimitRPS     float64           `mapstructure:"rate_limit_rps"`
	RateLimitBurst   int               `mapstructure:"rate_limit_burst"`
	BlockedKeywords  []string          `mapstructure:"blocked_keywords"`
	BlockedSelectors []string          `mapstructure:"blocked_selectors"`
}

// HTTPConfig configures the page fetcher.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// RobotsConfig controls the robots.txt permission gate.
type RobotsConfig struct {
	Respect        bool   `mapstructure:"respect"`
	Path           string `mapstructure:"path"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// HeadlessConfig swaps the page fetcher for headless Chrome.
type HeadlessConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	WaitSelector  string `mapstructure:"wait_selector"`
	CardWaitMs    int    `mapstructure:"card_wait_ms"`
	SettleMs      int    `mapstructure:"settle_ms"`
}

// OracleConfig points at the valuation service.
type OracleConfig struct {
	URL            string `mapstructure:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// SinkConfig sets the file sink location. CSVOnly runs without the listing
// store, which is otherwise required.
type SinkConfig struct {
	CSVPath string `mapstructure:"csv_path"`
	CSVOnly bool   `mapstructure:"csv_only"`
}

// DBConfig controls the listing store.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	// CreateTable issues CREATE TABLE IF NOT EXISTS before the run.
	CreateTable bool `mapstructure:"create_table"`
}

// ArchiveConfig selects where the finished CSV is copied. At most one of
// GCSBucket and LocalDir may be set; neither disables archiving.
type ArchiveConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// ServerConfig controls the optional status server. Port 0 disables it.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment. With an empty path it looks for
// harvester.{yaml,json,toml} in the working directory, /etc/harvester, and
// $HOME/.harvester, and runs on defaults when none exists.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("harvester")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/harvester/")
		v.AddConfigPath("$HOME/.harvester")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("harvest.workers", 15)
	v.SetDefault("harvest.max_pages", 200)
	v.SetDefault("harvest.delay_ms", 3000)
	v.SetDefault("harvest.jitter_ms", 1000)
	v.SetDefault("harvest.start_jitter_min_ms", 2000)
	v.SetDefault("harvest.start_jitter_max_ms", 4000)
	v.SetDefault("harvest.base_url", "https://www.cars.com")
	v.SetDefault("harvest.search_path", "/shopping/results/")
	v.SetDefault("harvest.search_filters", map[string]string{
		"clean_title":       "true",
		"include_shippable": "true",
		"list_price_max":    "100000",
		"list_price_min":    "2000",
		"no_accidents":      "true",
		"one_owner":         "true",
		"personal_use":      "true",
		"stock_type":        "used",
		"sort":              "best_match_desc",
	})
	v.SetDefault("harvest.user_agent", "listing-harvester/0.1")
	v.SetDefault("harvest.targets_file", "targets.json")
	v.SetDefault("harvest.stop_token", "o")
	v.SetDefault("harvest.rate_limit_rps", 0)
	v.SetDefault("harvest.rate_limit_burst", 1)
	v.SetDefault("harvest.blocked_keywords", crawler.DefaultBlockedKeywords)
	v.SetDefault("harvest.blocked_selectors", []string{})
	v.SetDefault("http.timeout_seconds", 5)
	v.SetDefault("robots.respect", true)
	v.SetDefault("robots.path", "/shopping/results/")
	v.SetDefault("robots.timeout_seconds", 10)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.wait_selector", "div.vehicle-card")
	v.SetDefault("headless.card_wait_ms", 8000)
	v.SetDefault("headless.settle_ms", 500)
	v.SetDefault("oracle.url", "http://localhost:8000/predict")
	v.SetDefault("oracle.timeout_seconds", 5)
	v.SetDefault("sink.csv_path", "cars.csv")
	v.SetDefault("sink.csv_only", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "cars")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("db.create_table", true)
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.local_dir", "")
	v.SetDefault("archive.prefix", "")
	v.SetDefault("server.port", 0)
	v.SetDefault("server.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Harvest.Workers <= 0 {
		return fmt.Errorf("harvest.workers must be > 0")
	}
	if c.Harvest.MaxPages < 0 {
		return fmt.Errorf("harvest.max_pages must be >= 0")
	}
	if c.Harvest.DelayMs < 0 || c.Harvest.JitterMs < 0 {
		return fmt.Errorf("harvest.delay_ms and harvest.jitter_ms must be >= 0")
	}
	if c.Harvest.StartJitterMinMs < 0 || c.Harvest.StartJitterMaxMs < c.Harvest.StartJitterMinMs {
		return fmt.Errorf("harvest.start_jitter_min_ms must be >= 0 and <= harvest.start_jitter_max_ms")
	}
	u, err := url.Parse(c.Harvest.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("harvest.base_url must be an absolute URL")
	}
	if c.Harvest.RateLimitRPS < 0 {
		return fmt.Errorf("harvest.rate_limit_rps must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Oracle.URL == "" {
		return fmt.Errorf("oracle.url is required")
	}
	if c.Oracle.TimeoutSeconds <= 0 {
		return fmt.Errorf("oracle.timeout_seconds must be > 0")
	}
	if c.Sink.CSVPath == "" {
		return fmt.Errorf("sink.csv_path is required")
	}
	if c.DB.DSN == "" && !c.Sink.CSVOnly {
		return fmt.Errorf("db.dsn is required unless sink.csv_only is set")
	}
	if c.DB.DSN != "" && c.DB.Table == "" {
		return fmt.Errorf("db.table is required when db.dsn is set")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Archive.GCSBucket != "" && c.Archive.LocalDir != "" {
		return fmt.Errorf("archive.gcs_bucket and archive.local_dir are mutually exclusive")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535")
	}
	return nil
}

// Politeness converts the pause settings into crawler form.
func (c HarvestConfig) Politeness() crawler.Politeness {
	return crawler.Politeness{
		Delay:          time.Duration(c.DelayMs) * time.Millisecond,
		Jitter:         time.Duration(c.JitterMs) * time.Millisecond,
		StartJitterMin: time.Duration(c.StartJitterMinMs) * time.Millisecond,
		StartJitterMax: time.Duration(c.StartJitterMaxMs) * time.Millisecond,
	}
}

// FetchTimeout bounds a single page fetch.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// OracleTimeout bounds a single oracle call.
func (c Config) OracleTimeout() time.Duration {
	return time.Duration(c.Oracle.TimeoutSeconds) * time.Second
}
