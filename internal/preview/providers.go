package preview

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/maltedev/marketplace-extractor/internal/fetch"
	"github.com/maltedev/marketplace-extractor/internal/models"
)

// Provider turns a URL into a candidate using an external link-preview API.
type Provider interface {
	Name() string
	Enabled() bool
	Preview(ctx context.Context, rawURL string) (*models.Candidate, error)
}

type ProviderOptions struct {
	APIKey   string
	Endpoint string
	Timeout  time.Duration
}

func newClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// Microlink works without a key on its free tier; a key lifts the limits.
type Microlink struct {
	opts   ProviderOptions
	client *http.Client
}

func NewMicrolink(opts ProviderOptions) *Microlink {
	return &Microlink{opts: opts, client: newClient(opts.Timeout)}
}

func (m *Microlink) WithTransport(rt http.RoundTripper) { m.client.Transport = rt }

func (m *Microlink) Name() string { return "microlink" }

func (m *Microlink) Enabled() bool { return m.opts.Endpoint != "" }

type microlinkResponse struct {
	Status string `json:"status"`
	Data   struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Publisher   string `json:"publisher"`
		Image       struct {
			URL string `json:"url"`
		} `json:"image"`
	} `json:"data"`
}

func (m *Microlink) Preview(ctx context.Context, rawURL string) (*models.Candidate, error) {
	header := http.Header{}
	if m.opts.APIKey != "" {
		header.Set("x-api-key", m.opts.APIKey)
	}

	var out microlinkResponse
	if err := fetch.GetJSON(ctx, m.client, m.opts.Endpoint+"?url="+url.QueryEscape(rawURL), header, &out); err != nil {
		return nil, fmt.Errorf("microlink request failed: %w", err)
	}
	if out.Status != "success" {
		return nil, fmt.Errorf("%w: microlink status %q", models.ErrNoData, out.Status)
	}

	return &models.Candidate{
		Title:       out.Data.Title,
		Description: out.Data.Description,
		ImageURL:    out.Data.Image.URL,
		Source:      m.Name(),
	}, nil
}

// LinkPreview requires a key sent as a header.
type LinkPreview struct {
	opts   ProviderOptions
	client *http.Client
}

func NewLinkPreview(opts ProviderOptions) *LinkPreview {
	return &LinkPreview{opts: opts, client: newClient(opts.Timeout)}
}

func (l *LinkPreview) WithTransport(rt http.RoundTripper) { l.client.Transport = rt }

func (l *LinkPreview) Name() string { return "linkpreview" }

func (l *LinkPreview) Enabled() bool { return l.opts.APIKey != "" && l.opts.Endpoint != "" }

type linkPreviewResponse struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Image       string `json:"image"`
	URL         string `json:"url"`
}

func (l *LinkPreview) Preview(ctx context.Context, rawURL string) (*models.Candidate, error) {
	if !l.Enabled() {
		return nil, fmt.Errorf("%w: linkpreview key not set", models.ErrServiceUnavailable)
	}

	header := http.Header{}
	header.Set("X-Linkpreview-Api-Key", l.opts.APIKey)

	var out linkPreviewResponse
	if err := fetch.GetJSON(ctx, l.client, l.opts.Endpoint+"?q="+url.QueryEscape(rawURL), header, &out); err != nil {
		return nil, fmt.Errorf("linkpreview request failed: %w", err)
	}

	return &models.Candidate{
		Title:       out.Title,
		Description: out.Description,
		ImageURL:    out.Image,
		Source:      l.Name(),
	}, nil
}
