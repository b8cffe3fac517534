package marketplace

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/marketplace-extractor/internal/models"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		url  string
		want models.Marketplace
	}{
		{"https://shopee.com.br/product/1/2", models.MarketplaceShopee},
		{"https://s.shopee.com.br/abc", models.MarketplaceShopee},
		{"https://produto.mercadolivre.com.br/MLB-123456789", models.MarketplaceMercadoLivre},
		{"https://www.amazon.com.br/dp/B0ABCDEFGH", models.MarketplaceAmazon},
		{"https://amzn.to/3xyz", models.MarketplaceAmazon},
		{"https://www.magazineluiza.com.br/p/abc123def/", models.MarketplaceMagalu},
		{"https://pt.aliexpress.com/item/100500.html", models.MarketplaceAliExpress},
		{"https://example.com/product", models.MarketplaceUnknown},
		{"::not a url", models.MarketplaceUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.url))
		})
	}
}

func TestParseIdentity_ShopeeShapesAgree(t *testing.T) {
	want := models.Identity{ShopID: "123456", ItemID: "9876543210"}

	wrappedTarget := "https://shopee.com.br/Fone-Bluetooth-i.123456.9876543210?sp_atk=abc"
	shapes := []string{
		"https://shopee.com.br/product/123456/9876543210",
		"https://shopee.com.br/product/123456/9876543210?utm_source=x#reviews",
		"https://shopee.com.br/Fone-Bluetooth-i.123456.9876543210",
		"https://shopee.com.br/universal-link?redir=" + url.QueryEscape(wrappedTarget),
		"https://s.shopee.com.br/universal-link?url=" + url.QueryEscape(
			"https://shopee.com.br/universal-link?redir="+url.QueryEscape(wrappedTarget)),
	}

	for _, shape := range shapes {
		t.Run(shape, func(t *testing.T) {
			id, ok := ParseIdentity(models.MarketplaceShopee, shape)
			require.True(t, ok)
			assert.Equal(t, want, id)
		})
	}
}

func TestParseIdentity_OtherMarketplaces(t *testing.T) {
	tests := []struct {
		tag  models.Marketplace
		url  string
		want models.Identity
	}{
		{models.MarketplaceMercadoLivre, "https://produto.mercadolivre.com.br/MLB-3456789012-fone-de-ouvido-_JM", models.Identity{ItemID: "MLB3456789012"}},
		{models.MarketplaceMercadoLivre, "https://www.mercadolivre.com.br/fone/p/MLB19876543?item_id=MLB3456789012", models.Identity{ItemID: "MLB3456789012"}},
		{models.MarketplaceAmazon, "https://www.amazon.com.br/Fone-Ouvido/dp/B0CHX1W1XY/ref=sr_1_1", models.Identity{ItemID: "B0CHX1W1XY"}},
		{models.MarketplaceAmazon, "https://www.amazon.com.br/gp/product/B0CHX1W1XY", models.Identity{ItemID: "B0CHX1W1XY"}},
		{models.MarketplaceMagalu, "https://www.magazineluiza.com.br/fone/p/237044500/ea/fnbt/", models.Identity{ItemID: "237044500"}},
		{models.MarketplaceAliExpress, "https://pt.aliexpress.com/item/1005006123456789.html?spm=a2g0o", models.Identity{ItemID: "1005006123456789"}},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			id, ok := ParseIdentity(tt.tag, tt.url)
			require.True(t, ok)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestParseIdentity_NoMatch(t *testing.T) {
	_, ok := ParseIdentity(models.MarketplaceShopee, "https://shopee.com.br/")
	assert.False(t, ok)

	_, ok = ParseIdentity(models.MarketplaceUnknown, "https://example.com/product/1/2")
	assert.False(t, ok)

	_, ok = ParseIdentity(models.MarketplaceMercadoLivre, "https://www.mercadolivre.com.br/apple-iphone-15-128-gb-preto/p/MLB1027172677")
	assert.False(t, ok, "catalog ids are not item ids")
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
		tag  models.Marketplace
	}{
		{
			in:   "https://shopee.com.br/Fone-i.11.22?sp_atk=xyz&xptdk=1",
			want: "https://shopee.com.br/product/11/22",
			tag:  models.MarketplaceShopee,
		},
		{
			in:   "https://www.amazon.com.br/Fone/dp/B0CHX1W1XY?tag=aff-20&th=1",
			want: "https://www.amazon.com.br/dp/B0CHX1W1XY",
			tag:  models.MarketplaceAmazon,
		},
		{
			in:   "https://produto.mercadolivre.com.br/MLB-123456789-fone-_JM#position=1",
			want: "https://produto.mercadolivre.com.br/MLB-123456789",
			tag:  models.MarketplaceMercadoLivre,
		},
		{
			in:   "https://www.mercadolivre.com.br/apple-iphone-15-128-gb-preto/p/MLB1027172677?pdp_filters=item_id",
			want: "https://www.mercadolivre.com.br/apple-iphone-15-128-gb-preto/p/MLB1027172677",
			tag:  models.MarketplaceMercadoLivre,
		},
		{
			in:   "https://www.mercadolivre.com.br/fone/p/MLB19876543?item_id=MLB3456789012",
			want: "https://produto.mercadolivre.com.br/MLB-3456789012",
			tag:  models.MarketplaceMercadoLivre,
		},
		{
			in:   "https://example.com/item?id=7&utm_source=bot#top",
			want: "https://example.com/item",
			tag:  models.MarketplaceUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, tag, _ := Canonicalize(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.tag, tag)
		})
	}
}

func TestUnwrap_DepthBounded(t *testing.T) {
	target := "https://shopee.com.br/product/1/2"
	wrapped := target
	for i := 0; i < maxUnwrapDepth+1; i++ {
		wrapped = "https://shopee.com.br/universal-link?redir=" + url.QueryEscape(wrapped)
	}

	// one layer is left over once the bound is reached
	got := Unwrap(wrapped)
	assert.NotEqual(t, target, got)
	assert.Contains(t, got, "universal-link")
}

func TestCanonicalURL_Errors(t *testing.T) {
	_, err := CanonicalURL(models.MarketplaceShopee, models.Identity{ItemID: "1"})
	assert.Error(t, err)

	_, err = CanonicalURL(models.MarketplaceAmazon, models.Identity{})
	assert.Error(t, err)

	_, err = CanonicalURL(models.MarketplaceUnknown, models.Identity{ItemID: "x"})
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	assert.Equal(t, "Mercado Livre", Lookup(models.MarketplaceMercadoLivre).DisplayName)
	assert.Equal(t, models.MarketplaceUnknown, Lookup("nope").Tag)
}
