package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(configPathEnv, "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Scraper.HTTPTimeout)
	assert.Equal(t, 10, cfg.Scraper.MaxRedirects)
	assert.Equal(t, "playwright", cfg.Browser.Engine)
	assert.Equal(t, 40*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 60*time.Second, cfg.Proxy.Timeout)
	assert.Equal(t, 10*time.Minute, cfg.Proxy.SuccessTTL)
	assert.Equal(t, 2*time.Minute, cfg.Proxy.FailureTTL)
	assert.Equal(t, 1024, cfg.Proxy.CacheSize)
	assert.Equal(t, "stream:product_extracted", cfg.Events.Stream)
	assert.False(t, cfg.Features()["proxy"])
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv("BROWSER_ENGINE", "chromedp")
	t.Setenv("SCRAPERAPI_KEY", "secret")
	t.Setenv("SCRAPER_USER_AGENTS", "ua-one, ua-two")
	t.Setenv("PROXY_CACHE_FAILURE_TTL", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "chromedp", cfg.Browser.Engine)
	assert.Equal(t, "secret", cfg.Proxy.APIKey)
	assert.Equal(t, []string{"ua-one", "ua-two"}, cfg.Scraper.UserAgents)
	assert.Equal(t, 30*time.Second, cfg.Proxy.FailureTTL)
	assert.True(t, cfg.Features()["proxy"])
}

func TestLoad_YAMLOverlayThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "extractor.yaml")
	content := `
scraper:
  rateLimitMin: 2s
  rateLimitMax: 4s
  userAgents:
    - yaml-agent
search:
  serpEngine: google_shopping
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv(configPathEnv, path)
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Scraper.RateLimitMin)
	assert.Equal(t, 4*time.Second, cfg.Scraper.RateLimitMax)
	assert.Equal(t, []string{"yaml-agent"}, cfg.Scraper.UserAgents)
	assert.Equal(t, "google_shopping", cfg.Search.SerpEngine)
	assert.Equal(t, "warn", cfg.Logging.Level)
	// untouched sections keep their defaults
	assert.Equal(t, 10*time.Second, cfg.Scraper.HTTPTimeout)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv(configPathEnv, filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{
			name:    "rate limit inverted",
			mutate:  func(c *Config) { c.Scraper.RateLimitMin = 5 * time.Second },
			wantErr: true,
		},
		{
			name:    "unknown engine",
			mutate:  func(c *Config) { c.Browser.Engine = "firefox" },
			wantErr: true,
		},
		{
			name:    "events without database",
			mutate:  func(c *Config) { c.Events.Enabled = true },
			wantErr: true,
		},
		{
			name: "events with database",
			mutate: func(c *Config) {
				c.Events.Enabled = true
				c.Database.Enabled = true
			},
		},
		{
			name:    "no user agents",
			mutate:  func(c *Config) { c.Scraper.UserAgents = nil },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{User: "u", Password: "p", Host: "db", Port: 5433, DBName: "x", SSLMode: "disable", MaxConns: 4}
	assert.Equal(t, "postgres://u:p@db:5433/x?sslmode=disable&pool_max_conns=4", d.DSN())
}

func TestServerConfig_HandlerTimeout(t *testing.T) {
	testCases := []struct {
		write time.Duration
		want  time.Duration
	}{
		{write: 3 * time.Minute, want: 170 * time.Second},
		{write: 30 * time.Second, want: 27 * time.Second},
		{write: 0, want: 0},
	}

	for _, tc := range testCases {
		got := ServerConfig{WriteTimeout: tc.write}.HandlerTimeout()
		assert.Equal(t, tc.want, got, "write timeout %s", tc.write)
		if tc.write > 0 {
			assert.Less(t, got, tc.write)
		}
	}
}
