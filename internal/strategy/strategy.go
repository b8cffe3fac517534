package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/marketplace-extractor/internal/antibot"
	"github.com/maltedev/marketplace-extractor/internal/extract"
	"github.com/maltedev/marketplace-extractor/internal/fetch"
	"github.com/maltedev/marketplace-extractor/internal/marketapi"
	"github.com/maltedev/marketplace-extractor/internal/models"
	"github.com/maltedev/marketplace-extractor/internal/quality"
)

// Strategy names used in chains, logs and metrics.
const (
	NameStatic  = "static"
	NameAPI     = "api"
	NameBrowser = "browser"
	NameProxy   = "proxy"
)

// Target is the resolved product every strategy of a chain works on.
type Target struct {
	URL         string
	Marketplace models.Marketplace
	Identity    models.Identity
}

// Strategy is one extraction technique. Attempt returns an unvalidated
// candidate or an error from the models failure taxonomy.
type Strategy interface {
	Name() string
	// Enabled is false when a required collaborator or credential is missing.
	Enabled() bool
	Attempt(ctx context.Context, t Target) (*models.Candidate, error)
}

type PageFetcher interface {
	Get(ctx context.Context, mp models.Marketplace, rawURL string) (*fetch.Page, error)
}

type ItemFetcher interface {
	Fetch(ctx context.Context, mp models.Marketplace, id models.Identity) (*models.Candidate, error)
}

type URLFetcher interface {
	Fetch(ctx context.Context, mp models.Marketplace, targetURL string) (*models.Candidate, error)
}

// Static fetches the page over plain HTTP and runs the structured-data
// extractors on it.
type Static struct {
	fetcher   PageFetcher
	extractor *extract.Extractor
}

func NewStatic(fetcher PageFetcher, extractor *extract.Extractor) *Static {
	return &Static{fetcher: fetcher, extractor: extractor}
}

func (s *Static) Name() string { return NameStatic }

func (s *Static) Enabled() bool { return s.fetcher != nil && s.extractor != nil }

func (s *Static) Attempt(ctx context.Context, t Target) (*models.Candidate, error) {
	page, err := s.fetcher.Get(ctx, t.Marketplace, t.URL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse page: %v", models.ErrNoData, err)
	}

	candidate, err := s.extractor.FromDocument(t.Marketplace, page.URL, doc)
	if err == nil && quality.Inspect(candidate) == nil {
		return candidate, nil
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if antibot.IsGatewayURL(page.URL) || antibot.LooksLikeChallenge(title, page.HTML) {
		return nil, fmt.Errorf("%w: challenge page at %s", models.ErrAntiBotBlock, page.URL)
	}
	return candidate, err
}

// API calls the marketplace's own item endpoints by identity.
type API struct {
	client ItemFetcher
}

func NewAPI(client ItemFetcher) *API {
	return &API{client: client}
}

func (a *API) Name() string { return NameAPI }

func (a *API) Enabled() bool { return a.client != nil }

func (a *API) Attempt(ctx context.Context, t Target) (*models.Candidate, error) {
	if !marketapi.Supports(t.Marketplace) {
		return nil, fmt.Errorf("%w: no item api for %s", models.ErrNoData, t.Marketplace)
	}
	if t.Identity.IsZero() {
		return nil, fmt.Errorf("%w: url carries no item identity", models.ErrNoData)
	}
	return a.client.Fetch(ctx, t.Marketplace, t.Identity)
}

// Browser renders the page in an automation session.
type Browser struct {
	fallback URLFetcher
}

func NewBrowser(fallback URLFetcher) *Browser {
	return &Browser{fallback: fallback}
}

func (b *Browser) Name() string { return NameBrowser }

func (b *Browser) Enabled() bool { return b.fallback != nil }

func (b *Browser) Attempt(ctx context.Context, t Target) (*models.Candidate, error) {
	return b.fallback.Fetch(ctx, t.Marketplace, t.URL)
}

// ProxyFetcher is a URLFetcher that may be switched off by configuration.
type ProxyFetcher interface {
	URLFetcher
	Enabled() bool
}

// Proxy delegates fetching to the third-party scraping service.
type Proxy struct {
	client ProxyFetcher
}

func NewProxy(client ProxyFetcher) *Proxy {
	return &Proxy{client: client}
}

func (p *Proxy) Name() string { return NameProxy }

func (p *Proxy) Enabled() bool { return p.client != nil && p.client.Enabled() }

func (p *Proxy) Attempt(ctx context.Context, t Target) (*models.Candidate, error) {
	return p.client.Fetch(ctx, t.Marketplace, t.URL)
}
