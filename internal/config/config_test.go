package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Server.RequestTimeout)
	assert.Equal(t, 6, cfg.Crawl.DefaultMaxPages)
	assert.Equal(t, 2, cfg.Crawl.DefaultMaxDepth)
	assert.Equal(t, 12, cfg.Crawl.MaxPagesCap)
	assert.Equal(t, 3, cfg.Crawl.MaxDepthCap)
	assert.Equal(t, "shawq", cfg.Crawl.DefaultStore)
	assert.Equal(t, 3, cfg.Crawl.ChapterLimit)
	assert.Equal(t, 45*time.Second, cfg.Driver.NavTimeout)
	assert.Equal(t, 550*time.Millisecond, cfg.Driver.Settle)
	assert.False(t, cfg.Driver.AllowNoSandbox)
	assert.True(t, filepath.IsAbs(cfg.Storage.ScreenshotDir))
	assert.Equal(t, "conversion-ui-fix-lab", filepath.Base(cfg.Storage.ScreenshotDir))
	assert.Equal(t, DriverSQLite, cfg.DB.Driver)
	assert.True(t, cfg.Logging.Development)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "fixlab", cfg.Telemetry.ServiceName)
	assert.InDelta(t, 1.0, cfg.Telemetry.SampleRatio, 1e-9)

	hc := cfg.HeadlessConfig()
	assert.Equal(t, 1440, hc.ViewportWidth)
	assert.Equal(t, 45*time.Second, hc.NavigationTimeout)

	cc := cfg.CrawlerConfig()
	assert.Equal(t, 900, cc.Script.ViewportHeight)
	assert.Equal(t, 2, cc.NavigateAttempts)
	assert.Equal(t, 250*time.Millisecond, cc.RetryBaseDelay)

	ac := cfg.AuditConfig()
	assert.Equal(t, "shawq", ac.DefaultStore)
	assert.Equal(t, 12, ac.MaxPagesCap)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout: 90s
auth:
  enabled: true
  api_key: secret
crawl:
  default_max_pages: 4
  max_pages_cap: 8
  max_depth_cap: 1
  default_store: acme
  pages_per_second: 1.5
  chapter_limit: 5
  navigate_attempts: 3
  retry_base_delay: 100ms
driver:
  nav_timeout: 30s
  settle: 1s
  allow_no_sandbox: true
storage:
  screenshot_dir: /tmp/shots
  gcs_bucket: bucket
db:
  driver: memory
logging:
  development: false
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 90*time.Second, cfg.Server.RequestTimeout)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "secret", cfg.Auth.APIKey)
	assert.Equal(t, 4, cfg.Crawl.DefaultMaxPages)
	assert.Equal(t, 8, cfg.Crawl.MaxPagesCap)
	assert.Equal(t, 1, cfg.Crawl.MaxDepthCap)
	assert.Equal(t, "acme", cfg.Crawl.DefaultStore)
	assert.InDelta(t, 1.5, cfg.Crawl.PagesPerSecond, 1e-9)
	assert.Equal(t, 30*time.Second, cfg.Driver.NavTimeout)
	assert.Equal(t, time.Second, cfg.Driver.Settle)
	assert.True(t, cfg.Driver.AllowNoSandbox)
	assert.Equal(t, "/tmp/shots", cfg.Storage.ScreenshotDir)
	assert.Equal(t, "fixlab", cfg.Storage.GCSPrefix)
	assert.Equal(t, DriverMemory, cfg.DB.Driver)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 5, cfg.AuditConfig().ChapterLimit)
	assert.Equal(t, 3, cfg.CrawlerConfig().NavigateAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.CrawlerConfig().RetryBaseDelay)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FIXLAB_CRAWL_MAX_PAGES_CAP", "10")
	t.Setenv("FIXLAB_DRIVER_ALLOW_NO_SANDBOX", "true")
	t.Setenv("PORT", "7070")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Crawl.MaxPagesCap)
	assert.True(t, cfg.Driver.AllowNoSandbox)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080},
		Crawl:  CrawlConfig{MaxPagesCap: 12, MaxDepthCap: 3, ChapterLimit: 3, NavigateAttempts: 1},
		Driver: DriverConfig{NavTimeout: time.Second},
		DB:     DBConfig{Driver: DriverMemory},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"pages cap too high", func(c *Config) { c.Crawl.MaxPagesCap = 13 }, "crawl.max_pages_cap"},
		{"pages cap zero", func(c *Config) { c.Crawl.MaxPagesCap = 0 }, "crawl.max_pages_cap"},
		{"depth cap too high", func(c *Config) { c.Crawl.MaxDepthCap = 4 }, "crawl.max_depth_cap"},
		{"negative rate", func(c *Config) { c.Crawl.PagesPerSecond = -1 }, "crawl.pages_per_second"},
		{"negative chapters", func(c *Config) { c.Crawl.ChapterLimit = -1 }, "crawl.chapter_limit"},
		{"no navigate attempts", func(c *Config) { c.Crawl.NavigateAttempts = 0 }, "crawl.navigate_attempts"},
		{"nav timeout", func(c *Config) { c.Driver.NavTimeout = 0 }, "driver.nav_timeout"},
		{"unknown db driver", func(c *Config) { c.DB.Driver = "mysql" }, "db.driver"},
		{"sqlite without dsn", func(c *Config) { c.DB.Driver = DriverSQLite }, "db.dsn"},
		{"sample ratio", func(c *Config) { c.Telemetry.SampleRatio = 1.5 }, "telemetry.sample_ratio"},
		{"pubsub half configured", func(c *Config) { c.PubSub.ProjectID = "proj" }, "pubsub"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
