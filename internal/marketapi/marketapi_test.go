package marketapi

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/marketplace-extractor/internal/logging"
	"github.com/maltedev/marketplace-extractor/internal/models"
	"github.com/maltedev/marketplace-extractor/internal/sessions"
)

const shopeeItemJSON = `{
	"error": null,
	"data": {
		"item": {
			"itemid": 7890123,
			"shopid": 123456,
			"name": "Fone Bluetooth TWS Pro",
			"price": 4990000,
			"price_before_discount": 7990000,
			"image": "br-11134207-abc123",
			"stock": 10,
			"historical_sold": 320,
			"item_rating": {"rating_star": 4.8, "rating_count": [150, 1, 2, 3, 20, 124]}
		}
	}
}`

func newTestClient(t *testing.T, store sessions.Store) (*Client, *httpmock.MockTransport) {
	t.Helper()
	c := New(Options{UserAgent: "test-agent"}, nil, store, nil, logging.Discard())
	transport := httpmock.NewMockTransport()
	c.WithTransport(transport)
	return c, transport
}

var shopeeID = models.Identity{ShopID: "123456", ItemID: "7890123"}

func TestShopee_RetryCodeAdvancesToNextVariant(t *testing.T) {
	c, transport := newTestClient(t, nil)

	transport.RegisterResponder("GET", "https://shopee.com.br/product/123456/7890123",
		httpmock.NewStringResponder(200, "<html></html>"))
	transport.RegisterResponder("GET", "https://shopee.com.br/api/v4/item/get",
		httpmock.NewStringResponder(403, `{"error":90309999,"error_msg":"anti crawler"}`))
	transport.RegisterResponder("GET", "https://shopee.com.br/api/v4/pdp/get_pc",
		httpmock.NewStringResponder(200, shopeeItemJSON))

	candidate, err := c.Fetch(context.Background(), models.MarketplaceShopee, shopeeID)
	require.NoError(t, err)

	assert.Equal(t, "Fone Bluetooth TWS Pro", candidate.Title)
	require.NotNil(t, candidate.Price)
	assert.InDelta(t, 49.90, *candidate.Price, 0.001)
	require.NotNil(t, candidate.OriginalPrice)
	assert.InDelta(t, 79.90, *candidate.OriginalPrice, 0.001)
	assert.Equal(t, "https://down-br.img.susercontent.com/file/br-11134207-abc123", candidate.ImageURL)
	assert.Equal(t, "shopee_api_pdp_get_pc", candidate.Source)
	require.NotNil(t, candidate.ReviewCount)
	assert.Equal(t, 150, *candidate.ReviewCount)

	info := transport.GetCallCountInfo()
	assert.Equal(t, 1, info["GET https://shopee.com.br/api/v4/item/get"])
	assert.Equal(t, 1, info["GET https://shopee.com.br/api/v4/pdp/get_pc"])
	assert.Equal(t, 0, info["GET https://shopee.com.br/api/v2/item/get"])
}

func TestShopee_AllVariantsRefused(t *testing.T) {
	c, transport := newTestClient(t, nil)

	refused := httpmock.NewStringResponder(200, `{"error":90309999}`)
	transport.RegisterResponder("GET", "https://shopee.com.br/product/123456/7890123",
		httpmock.NewStringResponder(200, ""))
	transport.RegisterResponder("GET", "https://shopee.com.br/api/v4/item/get", refused)
	transport.RegisterResponder("GET", "https://shopee.com.br/api/v4/pdp/get_pc", refused)
	transport.RegisterResponder("GET", "https://shopee.com.br/api/v2/item/get", refused)

	_, err := c.Fetch(context.Background(), models.MarketplaceShopee, shopeeID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrAntiBotBlock))
	assert.Equal(t, 4, transport.GetTotalCallCount())
}

func TestShopee_OtherErrorAborts(t *testing.T) {
	c, transport := newTestClient(t, nil)

	transport.RegisterResponder("GET", "https://shopee.com.br/product/123456/7890123",
		httpmock.NewStringResponder(200, ""))
	transport.RegisterResponder("GET", "https://shopee.com.br/api/v4/item/get",
		httpmock.NewStringResponder(200, `{"error":4,"error_msg":"item not found"}`))

	_, err := c.Fetch(context.Background(), models.MarketplaceShopee, shopeeID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNoData))
	assert.Equal(t, 0, transport.GetCallCountInfo()["GET https://shopee.com.br/api/v4/pdp/get_pc"])
}

func TestShopee_ReplaysStoredAndLandingCookies(t *testing.T) {
	store := sessions.NewMemoryStore()
	require.NoError(t, store.Save(models.MarketplaceShopee, &sessions.State{
		Cookies: []sessions.Cookie{{Name: "SPC_F", Value: "stored", Path: "/"}},
	}))
	c, transport := newTestClient(t, store)

	transport.RegisterResponder("GET", "https://shopee.com.br/product/123456/7890123",
		func(req *http.Request) (*http.Response, error) {
			resp := httpmock.NewStringResponse(200, "")
			resp.Header = http.Header{"Set-Cookie": []string{"SPC_EC=landing; Path=/"}}
			return resp, nil
		})

	var cookies []*http.Cookie
	transport.RegisterResponder("GET", "https://shopee.com.br/api/v4/item/get",
		func(req *http.Request) (*http.Response, error) {
			cookies = req.Cookies()
			return httpmock.NewStringResponse(200, shopeeItemJSON), nil
		})

	_, err := c.Fetch(context.Background(), models.MarketplaceShopee, shopeeID)
	require.NoError(t, err)

	names := map[string]string{}
	for _, ck := range cookies {
		names[ck.Name] = ck.Value
	}
	assert.Equal(t, "stored", names["SPC_F"])
	assert.Equal(t, "landing", names["SPC_EC"])
}

func TestMercadoLivre_Item(t *testing.T) {
	c, transport := newTestClient(t, nil)

	transport.RegisterResponder("GET", "https://api.mercadolibre.com/items/MLB3456789012",
		httpmock.NewStringResponder(200, `{
			"id": "MLB3456789012",
			"title": "Smartphone Galaxy A15 128gb",
			"price": 899.9,
			"original_price": 1199,
			"secure_thumbnail": "https://http2.mlstatic.com/D_thumb.jpg",
			"pictures": [{"secure_url": "https://http2.mlstatic.com/D_full.jpg"}],
			"available_quantity": 5,
			"sold_quantity": 1500,
			"status": "active"
		}`))
	transport.RegisterResponder("GET", "https://api.mercadolibre.com/items/MLB3456789012/description",
		httpmock.NewStringResponder(200, `{"plain_text":"  Tela de 6.5 polegadas  "}`))

	candidate, err := c.Fetch(context.Background(), models.MarketplaceMercadoLivre, models.Identity{ItemID: "MLB3456789012"})
	require.NoError(t, err)

	assert.Equal(t, "Smartphone Galaxy A15 128gb", candidate.Title)
	assert.InDelta(t, 899.9, *candidate.Price, 0.001)
	assert.InDelta(t, 1199.0, *candidate.OriginalPrice, 0.001)
	assert.Equal(t, "https://http2.mlstatic.com/D_full.jpg", candidate.ImageURL)
	assert.Equal(t, "Tela de 6.5 polegadas", candidate.Description)
	assert.Equal(t, 1500, *candidate.SalesQuantity)
	assert.True(t, *candidate.InStock)
}

func TestMercadoLivre_Forbidden(t *testing.T) {
	c, transport := newTestClient(t, nil)
	transport.RegisterResponder("GET", "https://api.mercadolibre.com/items/MLB1",
		httpmock.NewStringResponder(403, `{"message":"forbidden"}`))

	_, err := c.Fetch(context.Background(), models.MarketplaceMercadoLivre, models.Identity{ItemID: "MLB1"})
	assert.True(t, errors.Is(err, models.ErrAntiBotBlock))
}

func TestFetch_Unsupported(t *testing.T) {
	c, _ := newTestClient(t, nil)

	_, err := c.Fetch(context.Background(), models.MarketplaceAmazon, models.Identity{ItemID: "B0ABCDEFGH"})
	assert.True(t, errors.Is(err, models.ErrNoData))
	assert.False(t, Supports(models.MarketplaceAmazon))
	assert.True(t, Supports(models.MarketplaceShopee))
}
