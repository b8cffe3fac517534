package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/maltedev/marketplace-extractor/internal/extract"
	"github.com/maltedev/marketplace-extractor/internal/fetch"
	"github.com/maltedev/marketplace-extractor/internal/models"
)

// Hit is one search result. Price is set when the engine returned it as
// structured metadata.
type Hit struct {
	Title   string
	Link    string
	Snippet string
	Price   *float64
}

// Engine is a search API queried for product prices.
type Engine interface {
	Name() string
	Enabled() bool
	Search(ctx context.Context, query string) ([]Hit, error)
}

type GoogleOptions struct {
	APIKey   string
	CX       string
	Endpoint string
	Timeout  time.Duration
}

// Google queries the Custom Search JSON API.
type Google struct {
	opts   GoogleOptions
	client *http.Client
}

func NewGoogle(opts GoogleOptions) *Google {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Google{opts: opts, client: &http.Client{Timeout: opts.Timeout}}
}

func (g *Google) WithTransport(rt http.RoundTripper) { g.client.Transport = rt }

func (g *Google) Name() string { return "google_cse" }

func (g *Google) Enabled() bool {
	return g.opts.APIKey != "" && g.opts.CX != "" && g.opts.Endpoint != ""
}

type googleResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
		Pagemap struct {
			Offer    []map[string]any `json:"offer"`
			Product  []map[string]any `json:"product"`
			Metatags []map[string]any `json:"metatags"`
		} `json:"pagemap"`
	} `json:"items"`
}

func (g *Google) Search(ctx context.Context, query string) ([]Hit, error) {
	if !g.Enabled() {
		return nil, fmt.Errorf("%w: google custom search key or cx not set", models.ErrServiceUnavailable)
	}

	q := url.Values{}
	q.Set("key", g.opts.APIKey)
	q.Set("cx", g.opts.CX)
	q.Set("q", query)
	q.Set("num", "10")
	q.Set("gl", "br")
	q.Set("hl", "pt-BR")

	var out googleResponse
	if err := fetch.GetJSON(ctx, g.client, g.opts.Endpoint+"?"+q.Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("google custom search failed: %w", err)
	}

	hits := make([]Hit, 0, len(out.Items))
	for _, item := range out.Items {
		hit := Hit{Title: item.Title, Link: item.Link, Snippet: item.Snippet}
		if p, ok := pagemapPrice(item.Pagemap.Offer, "price", "lowprice"); ok {
			hit.Price = models.Float(p)
		} else if p, ok := pagemapPrice(item.Pagemap.Product, "price"); ok {
			hit.Price = models.Float(p)
		} else if p, ok := pagemapPrice(item.Pagemap.Metatags, "product:price:amount", "og:price:amount"); ok {
			hit.Price = models.Float(p)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func pagemapPrice(entries []map[string]any, keys ...string) (float64, bool) {
	for _, entry := range entries {
		for _, k := range keys {
			if v, ok := entry[k]; ok {
				if p, ok := extract.PriceFromJSON(v); ok && p > 0 {
					return p, true
				}
			}
		}
	}
	return 0, false
}

type SerpOptions struct {
	APIKey   string
	Engine   string
	Endpoint string
	Timeout  time.Duration
}

// Serp queries SerpApi.
type Serp struct {
	opts   SerpOptions
	client *http.Client
}

func NewSerp(opts SerpOptions) *Serp {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Engine == "" {
		opts.Engine = "google"
	}
	return &Serp{opts: opts, client: &http.Client{Timeout: opts.Timeout}}
}

func (s *Serp) WithTransport(rt http.RoundTripper) { s.client.Transport = rt }

func (s *Serp) Name() string { return "serpapi" }

func (s *Serp) Enabled() bool {
	return s.opts.APIKey != "" && s.opts.Endpoint != ""
}

type serpResponse struct {
	ShoppingResults []struct {
		Title          string  `json:"title"`
		Link           string  `json:"link"`
		Price          string  `json:"price"`
		ExtractedPrice float64 `json:"extracted_price"`
	} `json:"shopping_results"`
	OrganicResults []struct {
		Title       string `json:"title"`
		Link        string `json:"link"`
		Snippet     string `json:"snippet"`
		RichSnippet struct {
			Top struct {
				DetectedExtensions map[string]any `json:"detected_extensions"`
			} `json:"top"`
			Bottom struct {
				DetectedExtensions map[string]any `json:"detected_extensions"`
			} `json:"bottom"`
		} `json:"rich_snippet"`
	} `json:"organic_results"`
}

func (s *Serp) Search(ctx context.Context, query string) ([]Hit, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("%w: serpapi key not set", models.ErrServiceUnavailable)
	}

	q := url.Values{}
	q.Set("api_key", s.opts.APIKey)
	q.Set("engine", s.opts.Engine)
	q.Set("q", query)
	q.Set("gl", "br")
	q.Set("hl", "pt-br")
	q.Set("google_domain", "google.com.br")

	var out serpResponse
	if err := fetch.GetJSON(ctx, s.client, s.opts.Endpoint+"?"+q.Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("serpapi search failed: %w", err)
	}

	hits := make([]Hit, 0, len(out.ShoppingResults)+len(out.OrganicResults))
	for _, r := range out.ShoppingResults {
		hit := Hit{Title: r.Title, Link: r.Link, Snippet: r.Price}
		if r.ExtractedPrice > 0 {
			hit.Price = models.Float(r.ExtractedPrice)
		}
		hits = append(hits, hit)
	}
	for _, r := range out.OrganicResults {
		hit := Hit{Title: r.Title, Link: r.Link, Snippet: r.Snippet}
		for _, ext := range []map[string]any{r.RichSnippet.Top.DetectedExtensions, r.RichSnippet.Bottom.DetectedExtensions} {
			if p, ok := extract.PriceFromJSON(ext["price"]); ok && p > 0 {
				hit.Price = models.Float(p)
				break
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
