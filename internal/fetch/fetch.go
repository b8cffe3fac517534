package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/maltedev/marketplace-extractor/internal/antibot"
	"github.com/maltedev/marketplace-extractor/internal/models"
	"github.com/maltedev/marketplace-extractor/internal/ratelimit"
	"github.com/maltedev/marketplace-extractor/internal/sessions"
)

// Page is a fetched HTML document.
type Page struct {
	URL        string
	StatusCode int
	HTML       string
	Header     http.Header
}

type Options struct {
	Timeout        time.Duration
	UserAgents     []string
	AcceptLanguage string
}

// Fetcher issues plain HTTP GETs for product pages through a colly
// collector. Every call works on a clone so concurrent fetches never share
// callbacks; the clones share the underlying transport.
type Fetcher struct {
	base           *colly.Collector
	userAgents     []string
	acceptLanguage string
	sessions       sessions.Store
	limits         *ratelimit.Registry
	next           atomic.Uint32
	now            func() time.Time
	logger         *slog.Logger
}

func New(opts Options, store sessions.Store, limits *ratelimit.Registry, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	collector.SetRequestTimeout(opts.Timeout)

	return &Fetcher{
		base:           collector,
		userAgents:     opts.UserAgents,
		acceptLanguage: opts.AcceptLanguage,
		sessions:       store,
		limits:         limits,
		now:            time.Now,
		logger:         logger.With("component", "fetch"),
	}
}

// WithTransport swaps the HTTP transport, used by tests to mock responses.
func (f *Fetcher) WithTransport(rt http.RoundTripper) {
	f.base.WithTransport(rt)
}

// UserAgent returns the next agent in rotation.
func (f *Fetcher) UserAgent() string {
	if len(f.userAgents) == 0 {
		return ""
	}
	i := f.next.Add(1) - 1
	return f.userAgents[int(i)%len(f.userAgents)]
}

// Get fetches rawURL replaying the marketplace's stored session cookies.
// Block statuses and challenge pages come back as ErrAntiBotBlock.
func (f *Fetcher) Get(ctx context.Context, marketplace models.Marketplace, rawURL string) (*Page, error) {
	var pacer ratelimit.Pacer
	if f.limits != nil {
		pacer = f.limits.For(marketplace)
		if err := pacer.Wait(ctx); err != nil {
			return nil, fmt.Errorf("failed to wait for rate limiter: %w", Classify(err, 0, rawURL))
		}
	}

	c := f.base.Clone()
	c.Context = ctx

	cookieHeader := ""
	if f.sessions != nil {
		if state, err := f.sessions.Load(marketplace); err != nil {
			f.logger.Warn("failed to load session", "marketplace", marketplace, "error", err)
		} else {
			cookieHeader = state.CookieHeader(rawURL, f.now())
		}
	}
	userAgent := f.UserAgent()

	var (
		page      *Page
		failure   error
		failedURL string
		status    int
	)

	c.OnRequest(func(r *colly.Request) {
		if userAgent != "" {
			r.Headers.Set("User-Agent", userAgent)
		}
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
		if f.acceptLanguage != "" {
			r.Headers.Set("Accept-Language", f.acceptLanguage)
		}
		if cookieHeader != "" {
			r.Headers.Set("Cookie", cookieHeader)
		}
	})

	c.OnResponse(func(r *colly.Response) {
		header := http.Header{}
		if r.Headers != nil {
			header = *r.Headers
		}
		page = &Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			HTML:       string(r.Body),
			Header:     header,
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		failure = err
		if r != nil {
			status = r.StatusCode
			if r.Request != nil && r.Request.URL != nil {
				failedURL = r.Request.URL.String()
			}
		}
	})

	if err := c.Visit(rawURL); err != nil && failure == nil {
		failure = err
	}

	if failure != nil || page == nil {
		if failedURL == "" {
			failedURL = rawURL
		}
		classified := Classify(failure, status, failedURL)
		if classified == nil {
			classified = fmt.Errorf("%w: empty response", models.ErrNoData)
		}
		f.logger.Debug("fetch failed", "url", failedURL, "status", status, "error", classified)
		if pacer != nil && errors.Is(classified, models.ErrAntiBotBlock) {
			pacer.RecordError()
		}
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, classified)
	}

	if antibot.IsGatewayURL(page.URL) {
		if pacer != nil {
			pacer.RecordError()
		}
		return nil, fmt.Errorf("redirected to gateway %s: %w", page.URL, models.ErrAntiBotBlock)
	}

	if pacer != nil {
		pacer.RecordSuccess()
	}
	return page, nil
}
