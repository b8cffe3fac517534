package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/maltedev/marketplace-extractor/internal/api"
	"github.com/maltedev/marketplace-extractor/internal/browser"
	"github.com/maltedev/marketplace-extractor/internal/config"
	"github.com/maltedev/marketplace-extractor/internal/database"
	"github.com/maltedev/marketplace-extractor/internal/enrich"
	"github.com/maltedev/marketplace-extractor/internal/events"
	"github.com/maltedev/marketplace-extractor/internal/extract"
	"github.com/maltedev/marketplace-extractor/internal/extractor"
	"github.com/maltedev/marketplace-extractor/internal/fetch"
	"github.com/maltedev/marketplace-extractor/internal/marketapi"
	"github.com/maltedev/marketplace-extractor/internal/ocr"
	"github.com/maltedev/marketplace-extractor/internal/preview"
	"github.com/maltedev/marketplace-extractor/internal/proxy"
	"github.com/maltedev/marketplace-extractor/internal/quality"
	"github.com/maltedev/marketplace-extractor/internal/ratelimit"
	"github.com/maltedev/marketplace-extractor/internal/resolver"
	"github.com/maltedev/marketplace-extractor/internal/sessions"
	"github.com/maltedev/marketplace-extractor/internal/strategy"
)

// Application wires the configuration to the extraction pipeline and its
// optional outbox.
type Application struct {
	cfg     *config.Config
	logger  *slog.Logger
	service *extractor.Service
	metrics *extractor.Metrics

	db       *database.DB
	attempts *database.AttemptRepository
	outbox   *database.OutboxRepository
	redis    *redis.Client
	relay    *database.Relay
}

// New builds every component. The database, Redis and relay are only set up
// when events are enabled.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}

	a := &Application{cfg: cfg, logger: logger, metrics: extractor.NewMetrics()}

	store, err := newSessionStore(cfg.Sessions)
	if err != nil {
		return nil, err
	}

	var sink extractor.Sink
	if cfg.Database.Enabled {
		if err := a.openDatabase(ctx); err != nil {
			return nil, err
		}
		if cfg.Events.Enabled {
			sink = events.NewPublisher(a.db, cfg.Events.Stream, logger)
			if err := a.openRelay(ctx); err != nil {
				a.Close()
				return nil, err
			}
		}
	}

	limits := ratelimit.NewRegistry(cfg.Scraper.RateLimitMin, cfg.Scraper.RateLimitMax)
	a.metrics.RegisterPacing(limits.Delays)
	ext := extract.New(logger)
	gate := quality.NewGate(logger)

	userAgent := ""
	if len(cfg.Scraper.UserAgents) > 0 {
		userAgent = cfg.Scraper.UserAgents[0]
	}

	fetcher := fetch.New(fetch.Options{
		Timeout:        cfg.Scraper.HTTPTimeout,
		UserAgents:     cfg.Scraper.UserAgents,
		AcceptLanguage: cfg.Scraper.AcceptLanguage,
	}, store, limits, logger)

	apiClient := marketapi.New(marketapi.Options{
		Timeout:        cfg.Scraper.APITimeout,
		UserAgent:      userAgent,
		AcceptLanguage: cfg.Scraper.AcceptLanguage,
	}, ext, store, limits, logger)

	cache, err := proxy.NewCache(cfg.Proxy.CacheSize, cfg.Proxy.SuccessTTL, cfg.Proxy.FailureTTL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create proxy cache: %w", err)
	}
	proxyClient := proxy.New(proxy.Options{
		APIKey:   cfg.Proxy.APIKey,
		Endpoint: cfg.Proxy.Endpoint,
		Country:  cfg.Proxy.Country,
		Render:   cfg.Proxy.Render,
		Timeout:  cfg.Proxy.Timeout,
	}, cache, ext, logger)
	a.metrics.RegisterCacheStats(proxyClient.CacheStats)

	strategies := []strategy.Strategy{
		strategy.NewStatic(fetcher, ext),
		strategy.NewAPI(apiClient),
		strategy.NewProxy(proxyClient),
	}
	if cfg.Browser.Enabled {
		fallback, err := newBrowserFallback(cfg, ext, store, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		strategies = append(strategies, strategy.NewBrowser(fallback))
	}

	enricher := enrich.New(logger,
		enrich.NewGoogle(enrich.GoogleOptions{
			APIKey:   cfg.Search.GoogleAPIKey,
			CX:       cfg.Search.GoogleCX,
			Endpoint: cfg.Search.GoogleEndpoint,
			Timeout:  cfg.Search.Timeout,
		}),
		enrich.NewSerp(enrich.SerpOptions{
			APIKey:   cfg.Search.SerpAPIKey,
			Engine:   cfg.Search.SerpEngine,
			Endpoint: cfg.Search.SerpEndpoint,
			Timeout:  cfg.Search.Timeout,
		}),
	)

	executor := strategy.NewExecutor(strategy.NewRegistry(strategies...), gate, enricher, a.metrics, logger)

	ocrClient := ocr.New(ocr.Options{
		APIKey:   cfg.OCR.APIKey,
		Endpoint: cfg.OCR.Endpoint,
		Language: cfg.OCR.Language,
		Timeout:  cfg.OCR.Timeout,
	}, logger)

	previewer := preview.NewService(gate, extractor.MeterOCR(ocrClient, a.metrics), enricher, logger,
		preview.NewMicrolink(preview.ProviderOptions{
			APIKey:   cfg.Preview.MicrolinkAPIKey,
			Endpoint: cfg.Preview.MicrolinkEndpoint,
			Timeout:  cfg.Preview.Timeout,
		}),
		preview.NewLinkPreview(preview.ProviderOptions{
			APIKey:   cfg.Preview.LinkPreviewAPIKey,
			Endpoint: cfg.Preview.LinkPreviewEndpoint,
			Timeout:  cfg.Preview.Timeout,
		}),
	)

	res := resolver.New(resolver.Options{
		Timeout:        cfg.Scraper.HTTPTimeout,
		MaxRedirects:   cfg.Scraper.MaxRedirects,
		UserAgent:      userAgent,
		AcceptLanguage: cfg.Scraper.AcceptLanguage,
	}, store, logger)

	deps := extractor.Deps{
		Resolver:  res,
		Chain:     executor,
		Previewer: previewer,
		Sink:      sink,
		Metrics:   a.metrics,
		Logger:    logger,
	}
	a.service = extractor.New(deps)

	logger.Info("application ready", "features", cfg.Features())

	return a, nil
}

func newSessionStore(cfg config.SessionsConfig) (sessions.Store, error) {
	if cfg.Dir == "" {
		return sessions.NewMemoryStore(), nil
	}
	store, err := sessions.NewFileStore(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return store, nil
}

func newBrowserFallback(cfg *config.Config, ext *extract.Extractor, store sessions.Store, logger *slog.Logger) (*browser.Fallback, error) {
	opts := browser.DefaultOptions()
	opts.Headless = cfg.Browser.Headless
	opts.NavigationTimeout = cfg.Browser.NavigationTimeout
	opts.AcceptLanguage = cfg.Scraper.AcceptLanguage
	if cfg.Browser.UserAgent != "" {
		opts.UserAgent = cfg.Browser.UserAgent
	}
	if cfg.Browser.ViewportWidth > 0 && cfg.Browser.ViewportHeight > 0 {
		opts.ViewportWidth = cfg.Browser.ViewportWidth
		opts.ViewportHeight = cfg.Browser.ViewportHeight
	}
	if cfg.Browser.Locale != "" {
		opts.Locale = cfg.Browser.Locale
	}
	if cfg.Browser.TimezoneID != "" {
		opts.TimezoneID = cfg.Browser.TimezoneID
	}

	engine, err := browser.NewEngine(cfg.Browser.Engine, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser engine: %w", err)
	}

	return browser.NewFallback(engine, ext, store, browser.FallbackOptions{
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		ChallengeWait:     cfg.Browser.ChallengeWait,
		ChallengePoll:     cfg.Browser.ChallengePoll,
		WarmUp:            cfg.Browser.WarmUp,
	}, logger), nil
}

func (a *Application) openDatabase(ctx context.Context) error {
	db, err := database.New(ctx, a.cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return err
	}

	a.db = db
	a.attempts = database.NewAttemptRepository(db)
	a.outbox = database.NewOutboxRepository(db)
	return nil
}

func (a *Application) openRelay(ctx context.Context) error {
	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})

	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	a.relay = database.NewRelay(a.outbox, a.redis, a.logger, database.RelayConfig{
		PollInterval: a.cfg.Events.RelayInterval,
		BatchSize:    a.cfg.Events.BatchSize,
	})
	return nil
}

func (a *Application) Service() *extractor.Service {
	return a.service
}

// Handler returns the HTTP API with health and metrics routes.
func (a *Application) Handler() http.Handler {
	var attempts api.AttemptLister
	if a.attempts != nil {
		attempts = a.attempts
	}
	var outbox api.OutboxStats
	if a.relay != nil {
		outbox = a.outbox
	}

	handlers := api.NewHandlers(a.service, attempts, outbox, a.logger)
	if a.db != nil {
		handlers.WithDatabase(a.db)
	}
	return api.NewRouter(handlers, api.RouterOptions{
		RequestTimeout: a.cfg.Server.HandlerTimeout(),
		Metrics:        promhttp.HandlerFor(a.metrics.Registry, promhttp.HandlerOpts{}),
	})
}

// RunRelay publishes outbox events until ctx is done. It returns immediately
// when events are disabled.
func (a *Application) RunRelay(ctx context.Context) error {
	if a.relay == nil {
		return nil
	}
	if err := a.relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *Application) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("failed to close redis client", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}
