// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/wiserep-spider/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. WISESPIDER_CRAWL_DAYS.
const EnvPrefix = "WISESPIDER"

// FileName is the config file searched for when no explicit path is given.
const FileName = "wiserep-spider"

// Storage backends.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	Site    SiteConfig     `mapstructure:"site"`
	HTTP    HTTPConfig     `mapstructure:"http"`
	Crawl   CrawlConfig    `mapstructure:"crawl"`
	Storage StorageConfig  `mapstructure:"storage"`
	DB      DBConfig       `mapstructure:"db"`
	PubSub  PubSubConfig   `mapstructure:"pubsub"`
	Metrics MetricsConfig  `mapstructure:"metrics"`
	Logging logging.Config `mapstructure:"logging"`
}

// SiteConfig describes the WISeREP pages the crawler drives.
type SiteConfig struct {
	ObjectsURL     string `mapstructure:"objects_url"`
	HostCatalogURL string `mapstructure:"host_catalog_url"`
	RowsLimit      int    `mapstructure:"rows_limit"`
	// RecentDaysField is the search form field restricting results to
	// objects modified within the last N days.
	RecentDaysField string `mapstructure:"recent_days_field"`
}

// HTTPConfig configures the web client.
type HTTPConfig struct {
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	UserAgent        string  `mapstructure:"user_agent"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	RateLimitQPS     float64 `mapstructure:"rate_limit_qps"`
	MaxBodyBytes     int     `mapstructure:"max_body_bytes"`
}

// CrawlConfig selects the run mode and filters.
type CrawlConfig struct {
	Update bool `mapstructure:"update"`
	Days   int  `mapstructure:"days"`
	// Event restricts the run to a single object name.
	Event string `mapstructure:"event"`
	// Types is an exclusive allow-list of object types. When empty,
	// ExcludeTypes applies.
	Types           []string `mapstructure:"types"`
	ExcludeTypes    []string `mapstructure:"exclude_types"`
	ExcludePrograms []string `mapstructure:"exclude_programs"`
	ResetOnFullRun  bool     `mapstructure:"reset_on_full_run"`
	RegistryPath    string   `mapstructure:"registry_path"`
}

// StorageConfig selects where the mirror lives.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	OutputDir string `mapstructure:"output_dir"`
	// InternalDir holds page snapshots, relative to the mirror root.
	InternalDir string `mapstructure:"internal_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
}

// DBConfig controls the optional outcome and run ledger.
type DBConfig struct {
	DSN       string `mapstructure:"dsn"`
	Table     string `mapstructure:"table"`
	RunsTable string `mapstructure:"runs_table"`
	// Migrate creates missing ledger tables at startup.
	Migrate bool `mapstructure:"migrate"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig controls the status server.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith builds a Config using v, which may already carry bound flags.
func LoadWith(v *viper.Viper, path string) (Config, error) {
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
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/." + FileName)
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
	v.SetDefault("site.objects_url", "https://wiserep.weizmann.ac.il/objects/list")
	v.SetDefault("site.rows_limit", 1000)
	v.SetDefault("site.recent_days_field", "last_modified_within_days")
	v.SetDefault("http.timeout_seconds", 60)
	v.SetDefault("http.user_agent", "wiserep-spider/0.1")
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.rate_limit_qps", 1.0)
	v.SetDefault("http.max_body_bytes", 64<<20)
	v.SetDefault("crawl.days", 7)
	v.SetDefault("crawl.reset_on_full_run", true)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.output_dir", "wiserep")
	v.SetDefault("storage.internal_dir", "internal")
	v.SetDefault("db.table", "event_outcomes")
	v.SetDefault("db.runs_table", "crawl_runs")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if _, err := parseAbsolute(c.Site.ObjectsURL); err != nil {
		return fmt.Errorf("site.objects_url: %w", err)
	}
	if c.Site.HostCatalogURL != "" {
		if _, err := parseAbsolute(c.Site.HostCatalogURL); err != nil {
			return fmt.Errorf("site.host_catalog_url: %w", err)
		}
	}
	if c.Site.RowsLimit <= 0 {
		return fmt.Errorf("site.rows_limit must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.RateLimitQPS < 0 {
		return fmt.Errorf("http.rate_limit_qps must be >= 0")
	}
	if c.Crawl.Update {
		if c.Crawl.Days <= 0 {
			return fmt.Errorf("crawl.days must be > 0 in update mode")
		}
		if strings.TrimSpace(c.Site.RecentDaysField) == "" {
			return fmt.Errorf("site.recent_days_field is required in update mode")
		}
	}
	if strings.TrimSpace(c.Storage.OutputDir) == "" {
		return fmt.Errorf("storage.output_dir is required")
	}
	if filepath.IsAbs(c.Storage.InternalDir) || strings.Contains(c.Storage.InternalDir, "..") {
		return fmt.Errorf("storage.internal_dir must be relative to the mirror root")
	}
	switch c.Storage.Backend {
	case BackendLocal, BackendMemory:
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of local, gcs, memory", c.Storage.Backend)
	}
	return nil
}

// RequestTimeout converts the HTTP timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RegistryPath is the lists.json file kept in the local internal directory.
// It stays on local disk whichever mirror backend is selected.
func (c Config) RegistryPath() string {
	if c.Crawl.RegistryPath != "" {
		return c.Crawl.RegistryPath
	}
	return filepath.Join(c.Storage.OutputDir, c.Storage.InternalDir, "lists.json")
}

func parseAbsolute(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%q must be an absolute URL", raw)
	}
	return u, nil
}
