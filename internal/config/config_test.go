package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HARVESTER_DB_DSN", "postgres://harvester@localhost/cars")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Harvest.Workers != 15 || cfg.Harvest.MaxPages != 200 {
		t.Fatalf("expected pool defaults, got %+v", cfg.Harvest)
	}
	if cfg.Harvest.SearchFilters["stock_type"] != "used" {
		t.Fatalf("expected default search filters, got %v", cfg.Harvest.SearchFilters)
	}
	if len(cfg.Harvest.BlockedKeywords) != 1 || cfg.Harvest.BlockedKeywords[0] != "captcha" {
		t.Fatalf("expected captcha keyword default, got %v", cfg.Harvest.BlockedKeywords)
	}
	if !cfg.Robots.Respect || cfg.Robots.Path != "/shopping/results/" {
		t.Fatalf("expected robots defaults, got %+v", cfg.Robots)
	}
	if cfg.Harvest.StopToken != "o" || cfg.Sink.CSVPath != "cars.csv" || cfg.DB.Table != "cars" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Server.Port != 0 {
		t.Fatalf("expected status server disabled by default, got port %d", cfg.Server.Port)
	}
	if cfg.Sink.CSVOnly || !cfg.DB.CreateTable {
		t.Fatalf("expected both sinks and table bootstrap by default, got sink=%+v db=%+v", cfg.Sink, cfg.DB)
	}
	p := cfg.Harvest.Politeness()
	if p.Delay != 3*time.Second || p.Jitter != time.Second ||
		p.StartJitterMin != 2*time.Second || p.StartJitterMax != 4*time.Second {
		t.Fatalf("unexpected politeness: %+v", p)
	}
	if cfg.FetchTimeout() != 5*time.Second || cfg.OracleTimeout() != 5*time.Second {
		t.Fatalf("unexpected timeouts: fetch=%v oracle=%v", cfg.FetchTimeout(), cfg.OracleTimeout())
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
harvest:
  workers: 6
  max_pages: 50
  delay_ms: 250
  jitter_ms: 0
  base_url: https://listings.example.com
  search_filters:
    stock_type: new
  user_agent: real-agent
  rate_limit_rps: 2.5
  blocked_keywords: ["captcha", "verify you are human"]
http:
  timeout_seconds: 45
robots:
  respect: false
headless:
  enabled: true
  max_parallel: 2
  wait_selector: div.vehicle-card
oracle:
  url: http://oracle:8000/predict
  timeout_seconds: 2
db:
  dsn: postgres://harvester@localhost/cars
  table: listings
archive:
  gcs_bucket: runs
  prefix: harvests
server:
  port: 9090
  api_key: secret
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Harvest.Workers != 6 || cfg.Harvest.MaxPages != 50 || cfg.Harvest.RateLimitRPS != 2.5 {
		t.Fatalf("expected harvest overrides to apply: %+v", cfg.Harvest)
	}
	if cfg.Harvest.SearchFilters["stock_type"] != "new" {
		t.Fatalf("expected filter override, got %v", cfg.Harvest.SearchFilters)
	}
	if len(cfg.Harvest.BlockedKeywords) != 2 {
		t.Fatalf("expected two blocked keywords, got %v", cfg.Harvest.BlockedKeywords)
	}
	if cfg.Robots.Respect {
		t.Fatalf("expected robots.respect=false")
	}
	if !cfg.Headless.Enabled || cfg.Headless.WaitSelector != "div.vehicle-card" {
		t.Fatalf("expected headless overrides: %+v", cfg.Headless)
	}
	if cfg.DB.Table != "listings" || cfg.Archive.GCSBucket != "runs" || cfg.Archive.Prefix != "harvests" {
		t.Fatalf("expected storage overrides: db=%+v archive=%+v", cfg.DB, cfg.Archive)
	}
	if cfg.Server.Port != 9090 || cfg.Server.APIKey != "secret" || cfg.Logging.Development {
		t.Fatalf("expected server/logging overrides")
	}
	if got := cfg.FetchTimeout(); got != 45*time.Second {
		t.Fatalf("expected fetch timeout 45s, got %v", got)
	}
	if got := cfg.Harvest.Politeness().Delay; got != 250*time.Millisecond {
		t.Fatalf("expected 250ms delay, got %v", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HARVESTER_HARVEST_WORKERS", "3")
	t.Setenv("HARVESTER_ORACLE_URL", "http://scorer:9000/predict")
	t.Setenv("HARVESTER_DB_DSN", "postgres://u@h/db")
	t.Setenv("HARVESTER_SERVER_API_KEY", "s3cret")
	t.Setenv("HARVESTER_ARCHIVE_LOCAL_DIR", "/var/lib/harvester/runs")
	t.Setenv("HARVESTER_ARCHIVE_PREFIX", "nightly")
	t.Setenv("HARVESTER_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Harvest.Workers != 3 {
		t.Fatalf("expected env worker override, got %d", cfg.Harvest.Workers)
	}
	if cfg.Oracle.URL != "http://scorer:9000/predict" {
		t.Fatalf("expected env oracle override, got %q", cfg.Oracle.URL)
	}
	if cfg.DB.DSN != "postgres://u@h/db" {
		t.Fatalf("expected env dsn override, got %q", cfg.DB.DSN)
	}
	if cfg.Server.APIKey != "s3cret" {
		t.Fatalf("expected env api key override, got %q", cfg.Server.APIKey)
	}
	if cfg.Archive.LocalDir != "/var/lib/harvester/runs" || cfg.Archive.Prefix != "nightly" {
		t.Fatalf("expected env archive overrides, got %+v", cfg.Archive)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("expected env log level override, got %q", cfg.Logging.Level)
	}
}

func TestLoadRequiresStoreUnlessCSVOnly(t *testing.T) {
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "db.dsn") {
		t.Fatalf("expected missing dsn error, got %v", err)
	}

	t.Setenv("HARVESTER_SINK_CSV_ONLY", "true")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Sink.CSVOnly || cfg.DB.DSN != "" {
		t.Fatalf("expected csv-only mode without a dsn, got sink=%+v dsn=%q", cfg.Sink, cfg.DB.DSN)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Harvest: HarvestConfig{Workers: 1, BaseURL: "https://www.cars.com"},
		HTTP:    HTTPConfig{TimeoutSeconds: 10},
		Oracle:  OracleConfig{URL: "http://localhost:8000/predict", TimeoutSeconds: 5},
		Sink:    SinkConfig{CSVPath: "cars.csv"},
		DB:      DBConfig{DSN: "postgres://harvester@localhost/cars", Table: "cars"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid workers", mutate: func(c *Config) { c.Harvest.Workers = 0 }, want: "harvest.workers"},
		{name: "negative max pages", mutate: func(c *Config) { c.Harvest.MaxPages = -1 }, want: "harvest.max_pages"},
		{name: "negative delay", mutate: func(c *Config) { c.Harvest.DelayMs = -5 }, want: "harvest.delay_ms"},
		{
			name:   "inverted start jitter",
			mutate: func(c *Config) { c.Harvest.StartJitterMinMs, c.Harvest.StartJitterMaxMs = 4000, 2000 },
			want:   "harvest.start_jitter_min_ms",
		},
		{name: "relative base url", mutate: func(c *Config) { c.Harvest.BaseURL = "/cars" }, want: "harvest.base_url"},
		{name: "negative rate", mutate: func(c *Config) { c.Harvest.RateLimitRPS = -1 }, want: "harvest.rate_limit_rps"},
		{name: "invalid timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{name: "missing oracle", mutate: func(c *Config) { c.Oracle.URL = "" }, want: "oracle.url"},
		{name: "oracle timeout", mutate: func(c *Config) { c.Oracle.TimeoutSeconds = 0 }, want: "oracle.timeout_seconds"},
		{name: "missing csv path", mutate: func(c *Config) { c.Sink.CSVPath = "" }, want: "sink.csv_path"},
		{name: "missing dsn", mutate: func(c *Config) { c.DB.DSN = "" }, want: "db.dsn"},
		{name: "dsn without table", mutate: func(c *Config) { c.DB.Table = "" }, want: "db.table"},
		{
			name:   "headless missing max parallel",
			mutate: func(c *Config) { c.Headless.Enabled = true },
			want:   "headless.max_parallel",
		},
		{
			name:   "two archives",
			mutate: func(c *Config) { c.Archive.GCSBucket, c.Archive.LocalDir = "runs", "/tmp/runs" },
			want:   "mutually exclusive",
		},
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 70000 }, want: "server.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
