package extract

import (
	"github.com/maltedev/marketplace-extractor/internal/models"
)

// Selector reads a field either from element text or from an attribute.
type Selector struct {
	CSS  string
	Attr string
}

// FieldSelectors lists fallbacks per field in priority order. Marketplaces
// redesign often, so each field carries several candidates.
type FieldSelectors struct {
	Title         []Selector
	Price         []Selector
	OriginalPrice []Selector
	Image         []Selector
	Description   []Selector
	Rating        []Selector
	ReviewCount   []Selector
	Seller        []Selector
	OutOfStock    []string
}

// AttributeBlob names an element attribute holding a compact JSON document.
// An empty Attr reads the element text instead.
type AttributeBlob struct {
	CSS  string
	Attr string
}

// Profile is everything the HTML extractors know about one marketplace.
type Profile struct {
	Blobs     []AttributeBlob
	Selectors FieldSelectors
	// PayloadMarker is a substring whose presence means the page shipped its
	// client-rendering payload.
	PayloadMarker string
}

var genericSelectors = FieldSelectors{
	Title: []Selector{
		{CSS: `meta[property="og:title"]`, Attr: "content"},
		{CSS: `meta[name="twitter:title"]`, Attr: "content"},
		{CSS: "h1"},
		{CSS: "title"},
	},
	Price: []Selector{
		{CSS: `meta[property="product:price:amount"]`, Attr: "content"},
		{CSS: `meta[property="og:price:amount"]`, Attr: "content"},
		{CSS: `[itemprop="price"]`, Attr: "content"},
		{CSS: `[itemprop="price"]`},
	},
	Image: []Selector{
		{CSS: `meta[property="og:image"]`, Attr: "content"},
		{CSS: `meta[property="og:image:secure_url"]`, Attr: "content"},
		{CSS: `meta[name="twitter:image"]`, Attr: "content"},
		{CSS: `[itemprop="image"]`, Attr: "src"},
		{CSS: `link[rel="image_src"]`, Attr: "href"},
	},
	Description: []Selector{
		{CSS: `meta[property="og:description"]`, Attr: "content"},
		{CSS: `meta[name="description"]`, Attr: "content"},
	},
	Rating: []Selector{
		{CSS: `[itemprop="ratingValue"]`, Attr: "content"},
		{CSS: `[itemprop="ratingValue"]`},
	},
	ReviewCount: []Selector{
		{CSS: `[itemprop="reviewCount"]`, Attr: "content"},
		{CSS: `[itemprop="reviewCount"]`},
	},
}

var profiles = map[models.Marketplace]Profile{
	models.MarketplaceShopee: {
		PayloadMarker: "__INITIAL_STATE__",
		Selectors: FieldSelectors{
			Title: []Selector{
				{CSS: "div.WBVL_7 span"},
				{CSS: "div._44qnta span"},
				{CSS: "div.attM6y span"},
				{CSS: `meta[property="og:title"]`, Attr: "content"},
			},
			Price: []Selector{
				{CSS: "div.IZPeQz"},
				{CSS: "div.pqTWkA"},
				{CSS: "div._3n5NQx"},
				{CSS: `meta[property="product:price:amount"]`, Attr: "content"},
			},
			OriginalPrice: []Selector{
				{CSS: "div.ZA5sW5"},
				{CSS: "div.Y3DvsN"},
				{CSS: "div._3_ISdg"},
			},
			Image: []Selector{
				{CSS: `meta[property="og:image"]`, Attr: "content"},
				{CSS: "div.UdI7e2 img", Attr: "src"},
				{CSS: "picture.UkIsx8 img", Attr: "src"},
			},
			Rating: []Selector{
				{CSS: "div.F9RHbS"},
				{CSS: "div._3y5XOB"},
			},
			Seller: []Selector{
				{CSS: "div.fV3TIn"},
				{CSS: "div._6HeM6T"},
			},
		},
	},
	models.MarketplaceMercadoLivre: {
		PayloadMarker: "__PRELOADED_STATE__",
		Selectors: FieldSelectors{
			Title: []Selector{
				{CSS: "h1.ui-pdp-title"},
				{CSS: "h1.item-title__primary"},
				{CSS: `meta[property="og:title"]`, Attr: "content"},
				{CSS: "h1"},
			},
			Price: []Selector{
				{CSS: `meta[itemprop="price"]`, Attr: "content"},
				{CSS: "div.ui-pdp-price__second-line span.andes-money-amount__fraction"},
				{CSS: "span.andes-money-amount__fraction"},
				{CSS: "span.price-tag-fraction"},
			},
			OriginalPrice: []Selector{
				{CSS: "s.andes-money-amount--previous span.andes-money-amount__fraction"},
				{CSS: "s.ui-pdp-price__original-value span.andes-money-amount__fraction"},
				{CSS: "del.price-tag span.price-tag-fraction"},
			},
			Image: []Selector{
				{CSS: "figure.ui-pdp-gallery__figure img", Attr: "data-zoom"},
				{CSS: "img.ui-pdp-image", Attr: "src"},
				{CSS: `meta[property="og:image"]`, Attr: "content"},
			},
			Description: []Selector{
				{CSS: "p.ui-pdp-description__content"},
				{CSS: "div.item-description__text"},
			},
			Rating: []Selector{
				{CSS: "span.ui-pdp-review__rating"},
				{CSS: "p.ui-review-capability__rating__average"},
			},
			ReviewCount: []Selector{
				{CSS: "span.ui-pdp-review__amount"},
				{CSS: "p.ui-review-capability__rating__label"},
			},
			Seller: []Selector{
				{CSS: "div.ui-pdp-seller__header__title span"},
				{CSS: "a.ui-pdp-media__action span"},
				{CSS: "span.ui-pdp-seller__label-sold"},
			},
			OutOfStock: []string{"div.ui-pdp-stock-information__title--out-of-stock"},
		},
	},
	models.MarketplaceAmazon: {
		Blobs: []AttributeBlob{
			{CSS: "div.twister-plus-buying-options-price-data"},
		},
		Selectors: FieldSelectors{
			Title: []Selector{
				{CSS: "#productTitle"},
				{CSS: "#title span"},
				{CSS: "h1#title"},
				{CSS: `meta[name="title"]`, Attr: "content"},
			},
			Price: []Selector{
				{CSS: "#corePrice_feature_div span.a-offscreen"},
				{CSS: "span.a-price.priceToPay span.a-offscreen"},
				{CSS: "#priceblock_dealprice"},
				{CSS: "#priceblock_ourprice"},
				{CSS: ".a-price .a-offscreen"},
			},
			OriginalPrice: []Selector{
				{CSS: "span.a-price.a-text-price span.a-offscreen"},
				{CSS: "#listPrice"},
				{CSS: "span.priceBlockStrikePriceString"},
			},
			Image: []Selector{
				{CSS: "#landingImage", Attr: "data-old-hires"},
				{CSS: "#landingImage", Attr: "src"},
				{CSS: "#imgBlkFront", Attr: "src"},
				{CSS: "#main-image", Attr: "src"},
			},
			Description: []Selector{
				{CSS: "#productDescription"},
				{CSS: "#feature-bullets"},
			},
			Rating: []Selector{
				{CSS: "#acrPopover", Attr: "title"},
				{CSS: "span[data-hook='rating-out-of-text']"},
				{CSS: "i.a-icon-star span.a-icon-alt"},
			},
			ReviewCount: []Selector{
				{CSS: "#acrCustomerReviewText"},
				{CSS: "span[data-hook='total-review-count']"},
			},
			Seller: []Selector{
				{CSS: "#sellerProfileTriggerId"},
				{CSS: "#merchant-info a"},
				{CSS: "div.offer-display-feature-text span"},
			},
			OutOfStock: []string{"#outOfStock", "#availability .a-color-price"},
		},
	},
	models.MarketplaceMagalu: {
		PayloadMarker: "__NEXT_DATA__",
		Blobs: []AttributeBlob{
			{CSS: "[data-product]", Attr: "data-product"},
		},
		Selectors: FieldSelectors{
			Title: []Selector{
				{CSS: `h1[data-testid="heading-product-title"]`},
				{CSS: "h1.header-product__title"},
				{CSS: "h1"},
			},
			Price: []Selector{
				{CSS: `p[data-testid="price-value"]`},
				{CSS: "span.price-template__text"},
				{CSS: `[data-testid="price-default"]`},
			},
			OriginalPrice: []Selector{
				{CSS: `p[data-testid="price-original"]`},
				{CSS: "span.price-template__from"},
			},
			Image: []Selector{
				{CSS: `img[data-testid="image-selected-thumbnail"]`, Attr: "src"},
				{CSS: "img.showcase-product__big-img", Attr: "src"},
				{CSS: `meta[property="og:image"]`, Attr: "content"},
			},
			Seller: []Selector{
				{CSS: `label[data-testid="link"]`},
				{CSS: "button.seller-info-button"},
			},
		},
	},
	models.MarketplaceAliExpress: {
		PayloadMarker: "runParams",
		Selectors: FieldSelectors{
			Title: []Selector{
				{CSS: `h1[data-pl="product-title"]`},
				{CSS: "h1.product-title-text"},
				{CSS: `meta[property="og:title"]`, Attr: "content"},
			},
			Price: []Selector{
				{CSS: "span.product-price-value"},
				{CSS: "div.product-price-current"},
				{CSS: "div.es--wrap--erdmPRe"},
			},
			OriginalPrice: []Selector{
				{CSS: "span.price--originalText--gxVO5_d"},
				{CSS: "span.product-price-original"},
			},
			Image: []Selector{
				{CSS: `meta[property="og:image"]`, Attr: "content"},
				{CSS: "div.magnifier--wrap--cF4cafd img", Attr: "src"},
				{CSS: "img.magnifier-image", Attr: "src"},
			},
			Rating: []Selector{
				{CSS: "div.reviewer--rating--xrWWFzx strong"},
				{CSS: "span.overview-rating-average"},
			},
			Seller: []Selector{
				{CSS: "a.store-header--storeName--vINzvPw"},
				{CSS: "a.store-name"},
			},
		},
	},
}

// ProfileFor returns the extraction profile of a marketplace. Unknown
// marketplaces fall back to generic metadata selectors only.
func ProfileFor(marketplace models.Marketplace) Profile {
	return profiles[marketplace]
}
