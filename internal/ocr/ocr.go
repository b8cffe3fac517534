package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maltedev/marketplace-extractor/internal/fetch"
	"github.com/maltedev/marketplace-extractor/internal/models"
)

type Options struct {
	APIKey   string
	Endpoint string
	Language string
	Timeout  time.Duration
}

// Client reads text out of product images through the OCR.space API.
type Client struct {
	opts   Options
	client *http.Client
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Client{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger.With("component", "ocr"),
	}
}

// WithTransport swaps the HTTP transport, used by tests to mock responses.
func (c *Client) WithTransport(rt http.RoundTripper) {
	c.client.Transport = rt
}

func (c *Client) Enabled() bool {
	return c.opts.APIKey != "" && c.opts.Endpoint != ""
}

type parseResponse struct {
	ParsedResults []struct {
		ParsedText string `json:"ParsedText"`
	} `json:"ParsedResults"`
	IsErroredOnProcessing bool `json:"IsErroredOnProcessing"`
	ErrorMessage          any  `json:"ErrorMessage"`
}

// Text returns the text recognized in the image at imageURL.
func (c *Client) Text(ctx context.Context, imageURL string) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("%w: ocr api key not set", models.ErrServiceUnavailable)
	}

	q := url.Values{}
	q.Set("apikey", c.opts.APIKey)
	q.Set("url", imageURL)
	if c.opts.Language != "" {
		q.Set("language", c.opts.Language)
	}
	q.Set("scale", "true")

	var out parseResponse
	if err := fetch.GetJSON(ctx, c.client, c.opts.Endpoint+"?"+q.Encode(), nil, &out); err != nil {
		return "", fmt.Errorf("ocr request failed: %w", err)
	}
	if out.IsErroredOnProcessing {
		return "", fmt.Errorf("ocr processing failed: %v", out.ErrorMessage)
	}

	parts := make([]string, 0, len(out.ParsedResults))
	for _, r := range out.ParsedResults {
		if t := strings.TrimSpace(r.ParsedText); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// Price runs OCR on the image and picks the current price from the text.
func (c *Client) Price(ctx context.Context, imageURL string) (float64, bool, error) {
	text, err := c.Text(ctx, imageURL)
	if err != nil {
		return 0, false, err
	}
	price, ok := PickPrice(text)
	c.logger.Debug("ocr price picked", "image", imageURL, "found", ok, "price", price)
	return price, ok, nil
}
