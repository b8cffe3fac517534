package marketapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/maltedev/marketplace-extractor/internal/extract"
	"github.com/maltedev/marketplace-extractor/internal/fetch"
	"github.com/maltedev/marketplace-extractor/internal/models"
	"github.com/maltedev/marketplace-extractor/internal/ratelimit"
	"github.com/maltedev/marketplace-extractor/internal/sessions"
)

const (
	DefaultShopeeBase       = "https://shopee.com.br"
	DefaultMercadoLivreBase = "https://api.mercadolibre.com"
)

type Options struct {
	Timeout          time.Duration
	UserAgent        string
	AcceptLanguage   string
	ShopeeBase       string
	MercadoLivreBase string
}

// Client calls the marketplaces' own item APIs directly, skipping HTML.
type Client struct {
	transport http.RoundTripper
	opts      Options
	extractor *extract.Extractor
	sessions  sessions.Store
	limits    *ratelimit.Registry
	now       func() time.Time
	logger    *slog.Logger
}

func New(opts Options, extractor *extract.Extractor, store sessions.Store, limits *ratelimit.Registry, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.ShopeeBase == "" {
		opts.ShopeeBase = DefaultShopeeBase
	}
	if opts.MercadoLivreBase == "" {
		opts.MercadoLivreBase = DefaultMercadoLivreBase
	}
	if extractor == nil {
		extractor = extract.New(logger)
	}
	return &Client{
		opts:      opts,
		extractor: extractor,
		sessions:  store,
		limits:    limits,
		now:       time.Now,
		logger:    logger.With("component", "marketapi"),
	}
}

// WithTransport swaps the HTTP transport, used by tests to mock responses.
func (c *Client) WithTransport(rt http.RoundTripper) {
	c.transport = rt
}

// Supports reports whether a marketplace has a direct item API.
func Supports(mp models.Marketplace) bool {
	return mp == models.MarketplaceShopee || mp == models.MarketplaceMercadoLivre
}

// Fetch returns a candidate for the identity from the marketplace API.
func (c *Client) Fetch(ctx context.Context, mp models.Marketplace, id models.Identity) (*models.Candidate, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("%w: no marketplace identity", models.ErrNoData)
	}

	var pacer ratelimit.Pacer
	if c.limits != nil {
		pacer = c.limits.For(mp)
		if err := pacer.Wait(ctx); err != nil {
			return nil, fmt.Errorf("failed to wait for rate limiter: %w", fetch.Classify(err, 0, ""))
		}
	}

	var (
		candidate *models.Candidate
		err       error
	)
	switch mp {
	case models.MarketplaceShopee:
		candidate, err = c.fetchShopee(ctx, id)
	case models.MarketplaceMercadoLivre:
		candidate, err = c.fetchMercadoLivre(ctx, id)
	default:
		return nil, fmt.Errorf("%w: no item api for %s", models.ErrNoData, mp)
	}

	if pacer != nil {
		if errors.Is(err, models.ErrAntiBotBlock) {
			pacer.RecordError()
		} else if err == nil {
			pacer.RecordSuccess()
		}
	}
	return candidate, err
}

// newHTTPClient builds a per-call client whose jar is seeded with the stored
// session so the landing visit and API calls share cookies.
func (c *Client) newHTTPClient(mp models.Marketplace, base string) *http.Client {
	jar, _ := cookiejar.New(nil)
	if c.sessions != nil {
		if state, err := c.sessions.Load(mp); err != nil {
			c.logger.Warn("failed to load session", "marketplace", mp, "error", err)
		} else if u, err := url.Parse(base); err == nil {
			jar.SetCookies(u, state.HTTPCookies(c.now()))
		}
	}
	return &http.Client{Transport: c.transport, Jar: jar, Timeout: c.opts.Timeout}
}

func (c *Client) headers(referer string) http.Header {
	h := http.Header{}
	if c.opts.UserAgent != "" {
		h.Set("User-Agent", c.opts.UserAgent)
	}
	if c.opts.AcceptLanguage != "" {
		h.Set("Accept-Language", c.opts.AcceptLanguage)
	}
	if referer != "" {
		h.Set("Referer", referer)
	}
	return h
}

// ShopeeRetryCode is returned by the item endpoints when a request is refused
// in a way that the next endpoint variant may still serve.
const ShopeeRetryCode = 90309999

type shopeeVariant struct {
	name string
	path func(id models.Identity) string
}

var shopeeVariants = []shopeeVariant{
	{name: "item_get_v4", path: func(id models.Identity) string {
		return "/api/v4/item/get?itemid=" + id.ItemID + "&shopid=" + id.ShopID
	}},
	{name: "pdp_get_pc", path: func(id models.Identity) string {
		return "/api/v4/pdp/get_pc?item_id=" + id.ItemID + "&shop_id=" + id.ShopID
	}},
	{name: "item_get_v2", path: func(id models.Identity) string {
		return "/api/v2/item/get?itemid=" + id.ItemID + "&shopid=" + id.ShopID
	}},
}

type shopeeEnvelope struct {
	Error    json.RawMessage `json:"error"`
	ErrorMsg string          `json:"error_msg"`
	Data     json.RawMessage `json:"data"`
	Item     json.RawMessage `json:"item"`
}

func (e shopeeEnvelope) code() int64 {
	var code int64
	if len(e.Error) == 0 || string(e.Error) == "null" {
		return 0
	}
	if err := json.Unmarshal(e.Error, &code); err != nil {
		return -1
	}
	return code
}

func (e shopeeEnvelope) payload() json.RawMessage {
	if len(e.Data) > 0 && string(e.Data) != "null" {
		return e.Data
	}
	if len(e.Item) > 0 && string(e.Item) != "null" {
		return e.Item
	}
	return nil
}

func (c *Client) fetchShopee(ctx context.Context, id models.Identity) (*models.Candidate, error) {
	if id.ShopID == "" || id.ItemID == "" {
		return nil, fmt.Errorf("%w: shopee identity needs shop and item id", models.ErrNoData)
	}

	base := strings.TrimRight(c.opts.ShopeeBase, "/")
	client := c.newHTTPClient(models.MarketplaceShopee, base)
	landing := fmt.Sprintf("%s/product/%s/%s", base, id.ShopID, id.ItemID)

	// landing visit collects the anti-bot cookies the API expects
	if _, err := fetch.Get(ctx, client, landing, c.headers("")); err != nil {
		if ctx.Err() != nil {
			return nil, fetch.Classify(ctx.Err(), 0, landing)
		}
		c.logger.Debug("landing visit failed", "url", landing, "error", err)
	}

	var lastErr error
	for _, v := range shopeeVariants {
		candidate, err := c.shopeeVariant(ctx, client, base+v.path(id), landing)
		if err == nil {
			candidate.Source = "shopee_api_" + v.name
			return candidate, nil
		}
		lastErr = err
		if !errors.Is(err, models.ErrRetryNextVariant) {
			return nil, err
		}
		c.logger.Debug("shopee variant refused, trying next", "variant", v.name, "error", err)
	}

	return nil, fmt.Errorf("%w: all shopee api variants refused: %v", models.ErrAntiBotBlock, lastErr)
}

func (c *Client) shopeeVariant(ctx context.Context, client *http.Client, endpoint, referer string) (*models.Candidate, error) {
	h := c.headers(referer)
	h.Set("Accept", "application/json")
	h.Set("X-API-Source", "pc")
	h.Set("X-Shopee-Language", "pt-BR")
	h.Set("X-Requested-With", "XMLHttpRequest")

	resp, err := fetch.Get(ctx, client, endpoint, h)
	if err != nil && (resp == nil || len(resp.Body) == 0) {
		return nil, err
	}

	var env shopeeEnvelope
	if jsonErr := json.Unmarshal(resp.Body, &env); jsonErr != nil {
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("failed to decode shopee response: %w", jsonErr)
	}

	switch code := env.code(); {
	case code == ShopeeRetryCode:
		return nil, fmt.Errorf("%w: shopee error %d", models.ErrRetryNextVariant, code)
	case code != 0:
		return nil, fmt.Errorf("%w: shopee error %d %s", models.ErrNoData, code, env.ErrorMsg)
	}
	if err != nil {
		return nil, err
	}

	raw := env.payload()
	if raw == nil {
		return nil, fmt.Errorf("%w: empty shopee payload", models.ErrRetryNextVariant)
	}
	payload, ok := extract.DecodePayload(string(raw))
	if !ok {
		return nil, fmt.Errorf("%w: shopee payload is not an object", models.ErrNoData)
	}
	return c.extractor.FromPayload(models.MarketplaceShopee, payload)
}

type mlItem struct {
	ID                string  `json:"id"`
	Title             string  `json:"title"`
	Price             float64 `json:"price"`
	OriginalPrice     float64 `json:"original_price"`
	Thumbnail         string  `json:"thumbnail"`
	SecureThumbnail   string  `json:"secure_thumbnail"`
	AvailableQuantity int     `json:"available_quantity"`
	SoldQuantity      int     `json:"sold_quantity"`
	Status            string  `json:"status"`
	Pictures          []struct {
		SecureURL string `json:"secure_url"`
		URL       string `json:"url"`
	} `json:"pictures"`
	SellerID int64 `json:"seller_id"`
}

type mlDescription struct {
	PlainText string `json:"plain_text"`
}

func (c *Client) fetchMercadoLivre(ctx context.Context, id models.Identity) (*models.Candidate, error) {
	base := strings.TrimRight(c.opts.MercadoLivreBase, "/")
	client := c.newHTTPClient(models.MarketplaceMercadoLivre, base)
	itemID := url.PathEscape(id.ItemID)

	var item mlItem
	if err := fetch.GetJSON(ctx, client, base+"/items/"+itemID, c.headers(""), &item); err != nil {
		return nil, fmt.Errorf("failed to fetch mercado livre item: %w", err)
	}
	if item.Title == "" {
		return nil, fmt.Errorf("%w: mercado livre item without title", models.ErrNoData)
	}

	candidate := &models.Candidate{
		Title:  item.Title,
		Source: "mercadolivre_api",
	}
	if item.Price > 0 {
		candidate.Price = models.Float(item.Price)
	}
	if item.OriginalPrice > 0 {
		candidate.OriginalPrice = models.Float(item.OriginalPrice)
	}
	switch {
	case len(item.Pictures) > 0 && item.Pictures[0].SecureURL != "":
		candidate.ImageURL = item.Pictures[0].SecureURL
	case item.SecureThumbnail != "":
		candidate.ImageURL = item.SecureThumbnail
	default:
		candidate.ImageURL = item.Thumbnail
	}
	if item.SoldQuantity > 0 {
		candidate.SalesQuantity = models.Int(item.SoldQuantity)
	}
	candidate.InStock = models.Bool(item.Status != "closed" && item.AvailableQuantity > 0)

	var desc mlDescription
	if err := fetch.GetJSON(ctx, client, base+"/items/"+itemID+"/description", c.headers(""), &desc); err == nil {
		candidate.Description = strings.TrimSpace(desc.PlainText)
	}

	return candidate, nil
}
