// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/fixlab/internal/audit"
	"github.com/JakeFAU/fixlab/internal/crawler"
	"github.com/JakeFAU/fixlab/internal/extractor"
	"github.com/JakeFAU/fixlab/internal/fetcher/headless"
	"github.com/JakeFAU/fixlab/internal/frontier"
	"github.com/JakeFAU/fixlab/internal/logging"
	"github.com/JakeFAU/fixlab/internal/telemetry"
)

// Session store drivers accepted by db.driver.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Crawl     CrawlConfig      `mapstructure:"crawl"`
	Driver    DriverConfig     `mapstructure:"driver"`
	Storage   StorageConfig    `mapstructure:"storage"`
	DB        DBConfig         `mapstructure:"db"`
	PubSub    PubSubConfig     `mapstructure:"pubsub"`
	Logging   logging.Config   `mapstructure:"logging"`
	Telemetry telemetry.Config `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlConfig bounds audits and the report.
type CrawlConfig struct {
	DefaultMaxPages  int           `mapstructure:"default_max_pages"`
	DefaultMaxDepth  int           `mapstructure:"default_max_depth"`
	MaxPagesCap      int           `mapstructure:"max_pages_cap"`
	MaxDepthCap      int           `mapstructure:"max_depth_cap"`
	DefaultStore     string        `mapstructure:"default_store"`
	PagesPerSecond   float64       `mapstructure:"pages_per_second"`
	ChapterLimit     int           `mapstructure:"chapter_limit"`
	NavigateAttempts int           `mapstructure:"navigate_attempts"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
}

// DriverConfig configures headless Chrome.
type DriverConfig struct {
	NavTimeout     time.Duration `mapstructure:"nav_timeout"`
	Settle         time.Duration `mapstructure:"settle"`
	ViewportWidth  int           `mapstructure:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height"`
	AllowNoSandbox bool          `mapstructure:"allow_no_sandbox"`
	ExecPath       string        `mapstructure:"exec_path"`
	UserAgent      string        `mapstructure:"user_agent"`
	Disabled       bool          `mapstructure:"disabled"`
}

// StorageConfig sets where screenshots live and where they are mirrored.
type StorageConfig struct {
	ScreenshotDir string `mapstructure:"screenshot_dir"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
	GCSPrefix     string `mapstructure:"gcs_prefix"`
}

// DBConfig selects and configures the session store.
type DBConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for audit-completed notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FIXLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", "FIXLAB_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind server.port: %w", err)
	}

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
	screenshotDir := filepath.Join("data", "conversion-ui-fix-lab")
	if cwd, err := os.Getwd(); err == nil {
		screenshotDir = filepath.Join(cwd, screenshotDir)
	}

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 5*time.Minute)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("crawl.default_max_pages", frontier.DefaultMaxPages)
	v.SetDefault("crawl.default_max_depth", frontier.DefaultMaxDepth)
	v.SetDefault("crawl.max_pages_cap", frontier.MaxPagesLimit)
	v.SetDefault("crawl.max_depth_cap", frontier.MaxDepthLimit)
	v.SetDefault("crawl.default_store", "shawq")
	v.SetDefault("crawl.pages_per_second", 0)
	v.SetDefault("crawl.chapter_limit", 3)
	v.SetDefault("crawl.navigate_attempts", crawler.DefaultNavigateAttempts)
	v.SetDefault("crawl.retry_base_delay", crawler.DefaultRetryBaseDelay)
	v.SetDefault("driver.nav_timeout", headless.DefaultNavigationTimeout)
	v.SetDefault("driver.settle", headless.DefaultSettle)
	v.SetDefault("driver.viewport_width", headless.DefaultViewportWidth)
	v.SetDefault("driver.viewport_height", headless.DefaultViewportHeight)
	v.SetDefault("driver.allow_no_sandbox", false)
	v.SetDefault("driver.exec_path", "")
	v.SetDefault("driver.user_agent", "")
	v.SetDefault("driver.disabled", false)
	v.SetDefault("storage.screenshot_dir", screenshotDir)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.gcs_prefix", "fixlab")
	v.SetDefault("db.driver", DriverSQLite)
	v.SetDefault("db.dsn", filepath.Join("data", "fixlab.db"))
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "fixlab")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Crawl.MaxPagesCap < 1 || c.Crawl.MaxPagesCap > frontier.MaxPagesLimit {
		return fmt.Errorf("crawl.max_pages_cap must be within [1,%d]", frontier.MaxPagesLimit)
	}
	if c.Crawl.MaxDepthCap < 0 || c.Crawl.MaxDepthCap > frontier.MaxDepthLimit {
		return fmt.Errorf("crawl.max_depth_cap must be within [0,%d]", frontier.MaxDepthLimit)
	}
	if c.Crawl.PagesPerSecond < 0 {
		return fmt.Errorf("crawl.pages_per_second must be >= 0")
	}
	if c.Crawl.ChapterLimit < 0 {
		return fmt.Errorf("crawl.chapter_limit must be >= 0")
	}
	if c.Crawl.NavigateAttempts < 1 {
		return fmt.Errorf("crawl.navigate_attempts must be >= 1")
	}
	if c.Crawl.RetryBaseDelay < 0 {
		return fmt.Errorf("crawl.retry_base_delay must be >= 0")
	}
	if c.Driver.NavTimeout <= 0 {
		return fmt.Errorf("driver.nav_timeout must be > 0")
	}
	switch c.DB.Driver {
	case DriverSQLite, DriverPostgres:
		if strings.TrimSpace(c.DB.DSN) == "" {
			return fmt.Errorf("db.dsn is required for driver %q", c.DB.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("db.driver %q is not one of sqlite, postgres, memory", c.DB.Driver)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0,1]")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	return nil
}

// HeadlessConfig maps the driver section onto the chromedp driver.
func (c Config) HeadlessConfig() headless.Config {
	return headless.Config{
		UserAgent:         c.Driver.UserAgent,
		ExecPath:          c.Driver.ExecPath,
		NavigationTimeout: c.Driver.NavTimeout,
		Settle:            c.Driver.Settle,
		ViewportWidth:     c.Driver.ViewportWidth,
		ViewportHeight:    c.Driver.ViewportHeight,
		AllowNoSandbox:    c.Driver.AllowNoSandbox,
	}
}

// CrawlerConfig maps the crawl and driver sections onto the crawler.
func (c Config) CrawlerConfig() crawler.Config {
	script := extractor.DefaultScriptConfig()
	if c.Driver.ViewportWidth > 0 {
		script.ViewportWidth = c.Driver.ViewportWidth
	}
	if c.Driver.ViewportHeight > 0 {
		script.ViewportHeight = c.Driver.ViewportHeight
	}
	return crawler.Config{
		Script:           script,
		PagesPerSecond:   c.Crawl.PagesPerSecond,
		NavigateAttempts: c.Crawl.NavigateAttempts,
		RetryBaseDelay:   c.Crawl.RetryBaseDelay,
	}
}

// AuditConfig maps the crawl section onto the audit service.
func (c Config) AuditConfig() audit.Config {
	return audit.Config{
		DefaultStore:    c.Crawl.DefaultStore,
		DefaultMaxPages: c.Crawl.DefaultMaxPages,
		DefaultMaxDepth: c.Crawl.DefaultMaxDepth,
		MaxPagesCap:     c.Crawl.MaxPagesCap,
		MaxDepthCap:     c.Crawl.MaxDepthCap,
		ChapterLimit:    c.Crawl.ChapterLimit,
		CompletionEvent: audit.DefaultCompletionEvent,
	}
}
