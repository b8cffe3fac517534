package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/marketplace-extractor/internal/antibot"
	"github.com/maltedev/marketplace-extractor/internal/extract"
	"github.com/maltedev/marketplace-extractor/internal/fetch"
	"github.com/maltedev/marketplace-extractor/internal/models"
	"github.com/maltedev/marketplace-extractor/internal/quality"
)

type Options struct {
	APIKey   string
	Endpoint string
	Country  string
	Render   bool
	Timeout  time.Duration
}

// Client fetches pages through ScraperAPI and runs the structured-data
// extractors on the returned HTML.
type Client struct {
	opts      Options
	client    *http.Client
	cache     *Cache
	extractor *extract.Extractor
	logger    *slog.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

func New(opts Options, cache *Cache, extractor *extract.Extractor, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if extractor == nil {
		extractor = extract.New(logger)
	}
	return &Client{
		opts:      opts,
		client:    &http.Client{Timeout: opts.Timeout},
		cache:     cache,
		extractor: extractor,
		logger:    logger.With("component", "proxy"),
	}
}

// WithTransport swaps the HTTP transport, used by tests to mock responses.
func (c *Client) WithTransport(rt http.RoundTripper) {
	c.client.Transport = rt
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c.opts.APIKey != "" && c.opts.Endpoint != ""
}

// CacheStats returns cache hits and misses since start.
func (c *Client) CacheStats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// Fetch returns a candidate for targetURL, serving cached outcomes while they
// are fresh.
func (c *Client) Fetch(ctx context.Context, mp models.Marketplace, targetURL string) (*models.Candidate, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("%w: scraper proxy api key not set", models.ErrServiceUnavailable)
	}

	if c.cache != nil {
		if entry, ok := c.cache.Get(targetURL); ok {
			c.hits.Add(1)
			c.logger.Debug("proxy cache hit", "url", targetURL, "success", entry.Err == nil)
			return entry.Candidate, entry.Err
		}
		c.misses.Add(1)
	}

	candidate, err := c.fetch(ctx, mp, targetURL)

	// a cancelled caller says nothing about the target
	if c.cache != nil && ctx.Err() == nil {
		c.cache.Put(targetURL, candidate, err)
	}
	return candidate, err
}

func (c *Client) fetch(ctx context.Context, mp models.Marketplace, targetURL string) (*models.Candidate, error) {
	render := c.opts.Render
	doc, html, err := c.page(ctx, targetURL, render)
	if err == nil && !render && c.incomplete(mp, targetURL, doc, html) {
		c.logger.Info("proxy response incomplete, retrying with rendering", "url", targetURL)
		render = true
		doc, html, err = c.page(ctx, targetURL, render)
	}
	if err != nil {
		return nil, err
	}

	candidate, err := c.extractor.FromDocument(mp, targetURL, doc)
	var inspectErr error
	if err == nil {
		inspectErr = quality.Inspect(candidate)
	}
	if err != nil || inspectErr != nil {
		if antibot.LooksLikeChallenge(doc.Find("title").First().Text(), html) {
			return nil, fmt.Errorf("%w: proxy returned a challenge page", models.ErrAntiBotBlock)
		}
		if err != nil {
			return nil, fmt.Errorf("proxy page had no product data: %w", err)
		}
		return nil, fmt.Errorf("proxy candidate refused: %w", inspectErr)
	}

	candidate.Source = "proxy_" + candidate.Source
	c.logger.Debug("proxy extraction succeeded", "url", targetURL, "render", render)
	return candidate, nil
}

// incomplete reports an unrendered shell or an interstitial. A page whose
// payload already yields a usable candidate is complete whatever scripts it
// carries.
func (c *Client) incomplete(mp models.Marketplace, targetURL string, doc *goquery.Document, html string) bool {
	if !extract.HasPayloadMarker(mp, html) {
		return true
	}
	if !antibot.LooksLikeChallenge(doc.Find("title").First().Text(), html) {
		return false
	}
	candidate, err := c.extractor.FromDocument(mp, targetURL, doc)
	return err != nil || quality.Inspect(candidate) != nil
}

func (c *Client) page(ctx context.Context, targetURL string, render bool) (*goquery.Document, string, error) {
	q := url.Values{}
	q.Set("api_key", c.opts.APIKey)
	q.Set("url", targetURL)
	if render {
		q.Set("render", "true")
	}
	if c.opts.Country != "" {
		q.Set("country_code", c.opts.Country)
	}

	endpoint := c.opts.Endpoint
	if strings.Contains(endpoint, "?") {
		endpoint += "&" + q.Encode()
	} else {
		endpoint += "?" + q.Encode()
	}

	resp, err := fetch.Get(ctx, c.client, endpoint, http.Header{"Accept": []string{"text/html"}})
	if err != nil {
		return nil, "", fmt.Errorf("proxy request for %s failed: %w", targetURL, err)
	}

	html := string(resp.Body)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse proxy html: %w", err)
	}
	return doc, html, nil
}
