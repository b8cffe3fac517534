package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/marketplace-extractor/internal/marketplace"
	"github.com/maltedev/marketplace-extractor/internal/models"
	"github.com/maltedev/marketplace-extractor/internal/sessions"
)

// maxPageBytes bounds how much of a landing page is read when looking for a
// canonical link.
const maxPageBytes = 2 << 20

var errTooManyRedirects = errors.New("too many redirects")

// Resolved is the outcome of resolving one caller URL.
type Resolved struct {
	OriginalURL string
	URL         string
	Marketplace models.Marketplace
	Identity    models.Identity
	// Fallback is set when resolution failed and URL is the caller's input.
	Fallback bool
}

type Options struct {
	Timeout        time.Duration
	MaxRedirects   int
	UserAgent      string
	AcceptLanguage string
}

// Resolver follows shortlinks and redirects to the product page and reduces
// it to its canonical form.
type Resolver struct {
	client   *http.Client
	opts     Options
	sessions sessions.Store
	now      func() time.Time
	logger   *slog.Logger
}

func New(opts Options, store sessions.Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	r := &Resolver{
		opts:     opts,
		sessions: store,
		now:      time.Now,
		logger:   logger.With("component", "resolver"),
	}
	r.client = &http.Client{Timeout: opts.Timeout}
	return r
}

// WithTransport swaps the HTTP transport, used by tests to mock responses.
func (r *Resolver) WithTransport(rt http.RoundTripper) {
	r.client.Transport = rt
}

// Resolve never fails: when the request cannot complete the caller's URL is
// returned unmodified, tagged with whatever marketplace it belongs to.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) Resolved {
	rawURL = strings.TrimSpace(rawURL)
	tag := marketplace.Detect(marketplace.Unwrap(rawURL))

	finalURL, err := r.follow(ctx, tag, rawURL)
	if err != nil {
		r.logger.Info("resolution failed, using original url", "url", rawURL, "error", err)
		id, _ := marketplace.ParseIdentity(tag, rawURL)
		return Resolved{
			OriginalURL: rawURL,
			URL:         rawURL,
			Marketplace: tag,
			Identity:    id,
			Fallback:    true,
		}
	}

	canonical, finalTag, id := marketplace.Canonicalize(finalURL)
	if finalTag == models.MarketplaceUnknown && tag != models.MarketplaceUnknown {
		// redirected off-site, e.g. to a tracking host; keep the input
		canonical, finalTag, id = marketplace.Canonicalize(rawURL)
	}

	r.logger.Debug("url resolved", "url", rawURL, "resolved", canonical, "marketplace", finalTag)
	return Resolved{
		OriginalURL: rawURL,
		URL:         canonical,
		Marketplace: finalTag,
		Identity:    id,
	}
}

// follow issues the GET and returns the URL the product actually lives at.
// Pages that land without a recognizable identity are inspected for a
// canonical link or og:url, which is how several shortlink hosts redirect.
func (r *Resolver) follow(ctx context.Context, tag models.Marketplace, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if r.opts.UserAgent != "" {
		req.Header.Set("User-Agent", r.opts.UserAgent)
	}
	if r.opts.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", r.opts.AcceptLanguage)
	}
	if cookie := r.cookieHeader(tag, rawURL); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	// per-call copy so the last hop can be tracked without shared state
	client := *r.client
	finalURL := rawURL
	client.CheckRedirect = func(next *http.Request, via []*http.Request) error {
		if len(via) >= r.opts.MaxRedirects {
			return errTooManyRedirects
		}
		finalURL = next.URL.String()
		return nil
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to follow %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	finalTag := marketplace.Detect(marketplace.Unwrap(finalURL))
	if _, ok := marketplace.ParseIdentity(finalTag, finalURL); ok {
		return finalURL, nil
	}

	if link := canonicalLink(io.LimitReader(resp.Body, maxPageBytes)); link != "" {
		linkTag := marketplace.Detect(link)
		if _, ok := marketplace.ParseIdentity(linkTag, link); ok {
			return link, nil
		}
	}

	return finalURL, nil
}

func (r *Resolver) cookieHeader(tag models.Marketplace, targetURL string) string {
	if r.sessions == nil || tag == models.MarketplaceUnknown {
		return ""
	}
	state, err := r.sessions.Load(tag)
	if err != nil {
		r.logger.Warn("failed to load session", "marketplace", tag, "error", err)
		return ""
	}
	return state.CookieHeader(targetURL, r.now())
}

func canonicalLink(body io.Reader) string {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return ""
	}
	for _, sel := range []string{`link[rel="canonical"]`, `meta[property="og:url"]`} {
		node := doc.Find(sel).First()
		if v, ok := node.Attr("href"); ok && strings.HasPrefix(v, "http") {
			return v
		}
		if v, ok := node.Attr("content"); ok && strings.HasPrefix(v, "http") {
			return v
		}
	}
	return ""
}
