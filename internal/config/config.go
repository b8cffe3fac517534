package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const configPathEnv = "EXTRACTOR_CONFIG"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Scraper  ScraperConfig  `yaml:"scraper"`
	Browser  BrowserConfig  `yaml:"browser"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	OCR      OCRConfig      `yaml:"ocr"`
	Search   SearchConfig   `yaml:"search"`
	Preview  PreviewConfig  `yaml:"preview"`
	Sessions SessionsConfig `yaml:"sessions"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Events   EventsConfig   `yaml:"events"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	Host            string        `yaml:"host"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// handlerHeadroom is kept between the handler deadline and the server write
// deadline so the timeout response can still be written.
const handlerHeadroom = 10 * time.Second

// HandlerTimeout bounds request handling below WriteTimeout.
func (s ServerConfig) HandlerTimeout() time.Duration {
	if s.WriteTimeout <= 0 {
		return 0
	}
	headroom := handlerHeadroom
	if limit := s.WriteTimeout / 10; headroom > limit {
		headroom = limit
	}
	return s.WriteTimeout - headroom
}

type ScraperConfig struct {
	HTTPTimeout    time.Duration `yaml:"httpTimeout"`
	APITimeout     time.Duration `yaml:"apiTimeout"`
	MaxRedirects   int           `yaml:"maxRedirects"`
	RateLimitMin   time.Duration `yaml:"rateLimitMin"`
	RateLimitMax   time.Duration `yaml:"rateLimitMax"`
	AcceptLanguage string        `yaml:"acceptLanguage"`
	UserAgents     []string      `yaml:"userAgents"`
}

type BrowserConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Engine            string        `yaml:"engine"`
	Headless          bool          `yaml:"headless"`
	NavigationTimeout time.Duration `yaml:"navigationTimeout"`
	ChallengeWait     time.Duration `yaml:"challengeWait"`
	ChallengePoll     time.Duration `yaml:"challengePoll"`
	WarmUp            bool          `yaml:"warmUp"`
	ViewportWidth     int           `yaml:"viewportWidth"`
	ViewportHeight    int           `yaml:"viewportHeight"`
	Locale            string        `yaml:"locale"`
	TimezoneID        string        `yaml:"timezone"`
	UserAgent         string        `yaml:"userAgent"`
}

type ProxyConfig struct {
	APIKey     string        `yaml:"apiKey"`
	Endpoint   string        `yaml:"endpoint"`
	Country    string        `yaml:"country"`
	Render     bool          `yaml:"render"`
	Timeout    time.Duration `yaml:"timeout"`
	CacheSize  int           `yaml:"cacheSize"`
	SuccessTTL time.Duration `yaml:"successTtl"`
	FailureTTL time.Duration `yaml:"failureTtl"`
}

type OCRConfig struct {
	APIKey   string        `yaml:"apiKey"`
	Endpoint string        `yaml:"endpoint"`
	Language string        `yaml:"language"`
	Timeout  time.Duration `yaml:"timeout"`
}

type SearchConfig struct {
	GoogleAPIKey   string        `yaml:"googleApiKey"`
	GoogleCX       string        `yaml:"googleCx"`
	GoogleEndpoint string        `yaml:"googleEndpoint"`
	SerpAPIKey     string        `yaml:"serpApiKey"`
	SerpEngine     string        `yaml:"serpEngine"`
	SerpEndpoint   string        `yaml:"serpEndpoint"`
	Timeout        time.Duration `yaml:"timeout"`
}

type PreviewConfig struct {
	MicrolinkAPIKey     string        `yaml:"microlinkApiKey"`
	MicrolinkEndpoint   string        `yaml:"microlinkEndpoint"`
	LinkPreviewAPIKey   string        `yaml:"linkPreviewApiKey"`
	LinkPreviewEndpoint string        `yaml:"linkPreviewEndpoint"`
	Timeout             time.Duration `yaml:"timeout"`
}

type SessionsConfig struct {
	Dir string `yaml:"dir"`
}

type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"sslMode"`
	MaxConns int32  `yaml:"maxConns"`
}

// DSN renders the pgx connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode, d.MaxConns)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type EventsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Stream        string        `yaml:"stream"`
	RelayInterval time.Duration `yaml:"relayInterval"`
	BatchSize     int           `yaml:"batchSize"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load builds the configuration from defaults, an optional YAML file named by
// EXTRACTOR_CONFIG, and finally environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(configPathEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading the environment.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Host:            "0.0.0.0",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    3 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Scraper: ScraperConfig{
			HTTPTimeout:    10 * time.Second,
			APITimeout:     15 * time.Second,
			MaxRedirects:   10,
			RateLimitMin:   250 * time.Millisecond,
			RateLimitMax:   time.Second,
			AcceptLanguage: "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7",
			UserAgents:     defaultUserAgents(),
		},
		Browser: BrowserConfig{
			Enabled:           true,
			Engine:            "playwright",
			Headless:          true,
			NavigationTimeout: 40 * time.Second,
			ChallengeWait:     15 * time.Second,
			ChallengePoll:     time.Second,
			WarmUp:            true,
			ViewportWidth:     1920,
			ViewportHeight:    1080,
			Locale:            "pt-BR",
			TimezoneID:        "America/Sao_Paulo",
			UserAgent:         defaultUserAgents()[0],
		},
		Proxy: ProxyConfig{
			Endpoint:   "https://api.scraperapi.com/",
			Country:    "br",
			Timeout:    60 * time.Second,
			CacheSize:  1024,
			SuccessTTL: 10 * time.Minute,
			FailureTTL: 2 * time.Minute,
		},
		OCR: OCRConfig{
			Endpoint: "https://api.ocr.space/parse/imageurl",
			Language: "por",
			Timeout:  15 * time.Second,
		},
		Search: SearchConfig{
			GoogleEndpoint: "https://www.googleapis.com/customsearch/v1",
			SerpEngine:     "google",
			SerpEndpoint:   "https://serpapi.com/search.json",
			Timeout:        15 * time.Second,
		},
		Preview: PreviewConfig{
			MicrolinkEndpoint:   "https://api.microlink.io/",
			LinkPreviewEndpoint: "https://api.linkpreview.net/",
			Timeout:             15 * time.Second,
		},
		Sessions: SessionsConfig{
			Dir: "data/sessions",
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			DBName:   "marketplace_extractor",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Events: EventsConfig{
			Stream:        "stream:product_extracted",
			RelayInterval: 5 * time.Second,
			BatchSize:     100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// applyEnv overrides every field whose variable is set. Current values act
// as defaults so the YAML overlay survives when a variable is absent.
func (c *Config) applyEnv() {
	c.Server.Port = getEnvOrDefault("SERVER_PORT", c.Server.Port)
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.ReadTimeout = getDurationOrDefault("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getDurationOrDefault("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Scraper.HTTPTimeout = getDurationOrDefault("SCRAPER_HTTP_TIMEOUT", c.Scraper.HTTPTimeout)
	c.Scraper.APITimeout = getDurationOrDefault("SCRAPER_API_TIMEOUT", c.Scraper.APITimeout)
	c.Scraper.MaxRedirects = getIntOrDefault("SCRAPER_MAX_REDIRECTS", c.Scraper.MaxRedirects)
	c.Scraper.RateLimitMin = getDurationOrDefault("SCRAPER_RATE_LIMIT_MIN", c.Scraper.RateLimitMin)
	c.Scraper.RateLimitMax = getDurationOrDefault("SCRAPER_RATE_LIMIT_MAX", c.Scraper.RateLimitMax)
	c.Scraper.AcceptLanguage = getEnvOrDefault("SCRAPER_ACCEPT_LANGUAGE", c.Scraper.AcceptLanguage)
	c.Scraper.UserAgents = getStringSliceOrDefault("SCRAPER_USER_AGENTS", c.Scraper.UserAgents)

	c.Browser.Enabled = getBoolOrDefault("BROWSER_ENABLED", c.Browser.Enabled)
	c.Browser.Engine = getEnvOrDefault("BROWSER_ENGINE", c.Browser.Engine)
	c.Browser.Headless = getBoolOrDefault("BROWSER_HEADLESS", c.Browser.Headless)
	c.Browser.NavigationTimeout = getDurationOrDefault("BROWSER_TIMEOUT", c.Browser.NavigationTimeout)
	c.Browser.ChallengeWait = getDurationOrDefault("BROWSER_CHALLENGE_WAIT", c.Browser.ChallengeWait)
	c.Browser.ChallengePoll = getDurationOrDefault("BROWSER_CHALLENGE_POLL", c.Browser.ChallengePoll)
	c.Browser.WarmUp = getBoolOrDefault("BROWSER_WARM_UP", c.Browser.WarmUp)
	c.Browser.ViewportWidth = getIntOrDefault("BROWSER_VIEWPORT_WIDTH", c.Browser.ViewportWidth)
	c.Browser.ViewportHeight = getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", c.Browser.ViewportHeight)
	c.Browser.Locale = getEnvOrDefault("BROWSER_LOCALE", c.Browser.Locale)
	c.Browser.TimezoneID = getEnvOrDefault("BROWSER_TIMEZONE", c.Browser.TimezoneID)
	c.Browser.UserAgent = getEnvOrDefault("BROWSER_USER_AGENT", c.Browser.UserAgent)

	c.Proxy.APIKey = getEnvOrDefault("SCRAPERAPI_KEY", c.Proxy.APIKey)
	c.Proxy.Endpoint = getEnvOrDefault("SCRAPERAPI_ENDPOINT", c.Proxy.Endpoint)
	c.Proxy.Country = getEnvOrDefault("SCRAPERAPI_COUNTRY", c.Proxy.Country)
	c.Proxy.Render = getBoolOrDefault("SCRAPERAPI_RENDER", c.Proxy.Render)
	c.Proxy.Timeout = getDurationOrDefault("SCRAPERAPI_TIMEOUT", c.Proxy.Timeout)
	c.Proxy.CacheSize = getIntOrDefault("PROXY_CACHE_SIZE", c.Proxy.CacheSize)
	c.Proxy.SuccessTTL = getDurationOrDefault("PROXY_CACHE_SUCCESS_TTL", c.Proxy.SuccessTTL)
	c.Proxy.FailureTTL = getDurationOrDefault("PROXY_CACHE_FAILURE_TTL", c.Proxy.FailureTTL)

	c.OCR.APIKey = getEnvOrDefault("OCR_SPACE_API_KEY", c.OCR.APIKey)
	c.OCR.Endpoint = getEnvOrDefault("OCR_SPACE_ENDPOINT", c.OCR.Endpoint)
	c.OCR.Language = getEnvOrDefault("OCR_LANGUAGE", c.OCR.Language)
	c.OCR.Timeout = getDurationOrDefault("OCR_TIMEOUT", c.OCR.Timeout)

	c.Search.GoogleAPIKey = getEnvOrDefault("GOOGLE_CSE_API_KEY", c.Search.GoogleAPIKey)
	c.Search.GoogleCX = getEnvOrDefault("GOOGLE_CSE_CX", c.Search.GoogleCX)
	c.Search.GoogleEndpoint = getEnvOrDefault("GOOGLE_CSE_ENDPOINT", c.Search.GoogleEndpoint)
	c.Search.SerpAPIKey = getEnvOrDefault("SERPAPI_KEY", c.Search.SerpAPIKey)
	c.Search.SerpEngine = getEnvOrDefault("SERPAPI_ENGINE", c.Search.SerpEngine)
	c.Search.SerpEndpoint = getEnvOrDefault("SERPAPI_ENDPOINT", c.Search.SerpEndpoint)
	c.Search.Timeout = getDurationOrDefault("SEARCH_TIMEOUT", c.Search.Timeout)

	c.Preview.MicrolinkAPIKey = getEnvOrDefault("MICROLINK_API_KEY", c.Preview.MicrolinkAPIKey)
	c.Preview.MicrolinkEndpoint = getEnvOrDefault("MICROLINK_ENDPOINT", c.Preview.MicrolinkEndpoint)
	c.Preview.LinkPreviewAPIKey = getEnvOrDefault("LINKPREVIEW_API_KEY", c.Preview.LinkPreviewAPIKey)
	c.Preview.LinkPreviewEndpoint = getEnvOrDefault("LINKPREVIEW_ENDPOINT", c.Preview.LinkPreviewEndpoint)
	c.Preview.Timeout = getDurationOrDefault("PREVIEW_TIMEOUT", c.Preview.Timeout)

	c.Sessions.Dir = getEnvOrDefault("SESSIONS_DIR", c.Sessions.Dir)

	c.Database.Enabled = getBoolOrDefault("DB_ENABLED", c.Database.Enabled)
	c.Database.Host = getEnvOrDefault("DB_HOST", c.Database.Host)
	c.Database.Port = getIntOrDefault("DB_PORT", c.Database.Port)
	c.Database.User = getEnvOrDefault("DB_USER", c.Database.User)
	c.Database.Password = getEnvOrDefault("DB_PASSWORD", c.Database.Password)
	c.Database.DBName = getEnvOrDefault("DB_NAME", c.Database.DBName)
	c.Database.SSLMode = getEnvOrDefault("DB_SSL_MODE", c.Database.SSLMode)
	c.Database.MaxConns = int32(getIntOrDefault("DB_MAX_CONNS", int(c.Database.MaxConns)))

	c.Redis.Addr = getEnvOrDefault("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getIntOrDefault("REDIS_DB", c.Redis.DB)

	c.Events.Enabled = getBoolOrDefault("EVENTS_ENABLED", c.Events.Enabled)
	c.Events.Stream = getEnvOrDefault("EVENTS_STREAM", c.Events.Stream)
	c.Events.RelayInterval = getDurationOrDefault("EVENTS_RELAY_INTERVAL", c.Events.RelayInterval)
	c.Events.BatchSize = getIntOrDefault("EVENTS_BATCH_SIZE", c.Events.BatchSize)

	c.Logging.Level = getEnvOrDefault("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnvOrDefault("LOG_FORMAT", c.Logging.Format)
}

func (c *Config) Validate() error {
	if c.Scraper.RateLimitMin > c.Scraper.RateLimitMax {
		return fmt.Errorf("SCRAPER_RATE_LIMIT_MIN cannot be greater than SCRAPER_RATE_LIMIT_MAX")
	}

	if c.Scraper.MaxRedirects < 1 {
		return fmt.Errorf("SCRAPER_MAX_REDIRECTS must be at least 1")
	}

	if len(c.Scraper.UserAgents) == 0 {
		return fmt.Errorf("at least one user agent is required")
	}

	switch c.Browser.Engine {
	case "playwright", "chromedp":
	default:
		return fmt.Errorf("unsupported BROWSER_ENGINE: %s", c.Browser.Engine)
	}

	if c.Proxy.CacheSize < 1 {
		return fmt.Errorf("PROXY_CACHE_SIZE must be at least 1")
	}

	if c.Events.Enabled && !c.Database.Enabled {
		return fmt.Errorf("EVENTS_ENABLED requires DB_ENABLED")
	}

	if c.Events.BatchSize < 1 {
		return fmt.Errorf("EVENTS_BATCH_SIZE must be at least 1")
	}

	return nil
}

// Features lists optional external steps and whether their credentials are
// present. Missing credentials disable a step rather than fail startup.
func (c *Config) Features() map[string]bool {
	return map[string]bool{
		"proxy":       c.Proxy.APIKey != "",
		"ocr":         c.OCR.APIKey != "",
		"google_cse":  c.Search.GoogleAPIKey != "" && c.Search.GoogleCX != "",
		"serpapi":     c.Search.SerpAPIKey != "",
		"linkpreview": c.Preview.LinkPreviewAPIKey != "",
		"browser":     c.Browser.Enabled,
		"events":      c.Events.Enabled,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

func defaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	}
}
