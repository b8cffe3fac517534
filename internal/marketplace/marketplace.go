package marketplace

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/maltedev/marketplace-extractor/internal/models"
)

// maxUnwrapDepth bounds how many nested gateway redirects are peeled off.
const maxUnwrapDepth = 3

// Info describes what the pipeline needs to know about one marketplace.
type Info struct {
	Tag         models.Marketplace
	DisplayName string
	HomeURL     string
	hosts       []string
	// BrandSuffixes are trailing title fragments the marketplace appends to
	// page titles, e.g. " | Shopee Brasil".
	BrandSuffixes []string
}

var registry = []Info{
	{
		Tag:           models.MarketplaceShopee,
		DisplayName:   "Shopee",
		HomeURL:       "https://shopee.com.br/",
		hosts:         []string{"shopee.com.br", "shopee.com", "shope.ee", "shp.ee", "s.shopee.com.br"},
		BrandSuffixes: []string{"shopee brasil", "shopee"},
	},
	{
		Tag:           models.MarketplaceMercadoLivre,
		DisplayName:   "Mercado Livre",
		HomeURL:       "https://www.mercadolivre.com.br/",
		hosts:         []string{"mercadolivre.com.br", "mercadolibre.com", "mercadolivre.com"},
		BrandSuffixes: []string{"mercado livre", "mercadolivre", "mercado libre"},
	},
	{
		Tag:           models.MarketplaceAmazon,
		DisplayName:   "Amazon",
		HomeURL:       "https://www.amazon.com.br/",
		hosts:         []string{"amazon.com.br", "amzn.to", "a.co"},
		BrandSuffixes: []string{"amazon.com.br", "amazon brasil", "amazon"},
	},
	{
		Tag:           models.MarketplaceMagalu,
		DisplayName:   "Magalu",
		HomeURL:       "https://www.magazineluiza.com.br/",
		hosts:         []string{"magazineluiza.com.br", "magalu.com", "magalu.com.br"},
		BrandSuffixes: []string{"magazine luiza", "magalu"},
	},
	{
		Tag:           models.MarketplaceAliExpress,
		DisplayName:   "AliExpress",
		HomeURL:       "https://pt.aliexpress.com/",
		hosts:         []string{"aliexpress.com", "aliexpress.us", "s.click.aliexpress.com", "a.aliexpress.com"},
		BrandSuffixes: []string{"aliexpress"},
	},
}

var unknown = Info{Tag: models.MarketplaceUnknown, DisplayName: ""}

// Lookup returns the registry entry for a tag.
func Lookup(tag models.Marketplace) Info {
	for _, info := range registry {
		if info.Tag == tag {
			return info
		}
	}
	return unknown
}

// Detect maps a URL to its marketplace by host suffix.
func Detect(rawURL string) models.Marketplace {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return models.MarketplaceUnknown
	}
	return DetectHost(u.Hostname())
}

func DetectHost(host string) models.Marketplace {
	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	for _, info := range registry {
		for _, h := range info.hosts {
			if host == h || strings.HasSuffix(host, "."+h) {
				return info.Tag
			}
		}
	}
	return models.MarketplaceUnknown
}

var (
	shopeeSlashPattern  = regexp.MustCompile(`/product/(\d+)/(\d+)`)
	shopeeDottedPattern = regexp.MustCompile(`i\.(\d+)\.(\d+)`)
	mercadoLivreItemPath = regexp.MustCompile(`(?i)(?:^|/)MLB-(\d{6,})`)
	mercadoLivreItemID   = regexp.MustCompile(`(?i)^MLB-?(\d{6,})$`)
	amazonPattern       = regexp.MustCompile(`/(?:dp|gp/product|gp/aw/d|exec/obidos/ASIN)/([A-Z0-9]{10})`)
	magaluPattern       = regexp.MustCompile(`/p/([a-z0-9]{6,})/?`)
	aliexpressPattern   = regexp.MustCompile(`/item/(\d+)\.html`)
)

// gatewayParams carry the real target inside a wrapped link.
var gatewayParams = []string{"redir", "url", "target", "redirect", "next", "u"}

// Unwrap peels gateway-wrapped links (universal links, click trackers) until
// the URL no longer carries an encoded target, up to a fixed depth.
func Unwrap(rawURL string) string {
	current := rawURL
	for i := 0; i < maxUnwrapDepth; i++ {
		u, err := url.Parse(current)
		if err != nil {
			return current
		}
		next := ""
		q := u.Query()
		for _, key := range gatewayParams {
			if v := q.Get(key); v != "" && strings.HasPrefix(strings.ToLower(v), "http") {
				next = v
				break
			}
		}
		if next == "" {
			return current
		}
		current = next
	}
	return current
}

// ParseIdentity extracts the marketplace-native identifier from a URL in any
// of its recognized shapes. The second return is false when no ID is found.
func ParseIdentity(tag models.Marketplace, rawURL string) (models.Identity, bool) {
	target := Unwrap(rawURL)
	u, err := url.Parse(target)
	if err != nil {
		return models.Identity{}, false
	}
	path := u.EscapedPath()

	switch tag {
	case models.MarketplaceShopee:
		if m := shopeeSlashPattern.FindStringSubmatch(path); m != nil {
			return models.Identity{ShopID: m[1], ItemID: m[2]}, true
		}
		if m := shopeeDottedPattern.FindStringSubmatch(path); m != nil {
			return models.Identity{ShopID: m[1], ItemID: m[2]}, true
		}
	case models.MarketplaceMercadoLivre:
		// catalog pages (/p/MLB...) name a catalog product, not an item;
		// only the item_id they may carry identifies one
		if m := mercadoLivreItemID.FindStringSubmatch(strings.TrimSpace(u.Query().Get("item_id"))); m != nil {
			return models.Identity{ItemID: "MLB" + m[1]}, true
		}
		if m := mercadoLivreItemPath.FindStringSubmatch(path); m != nil {
			return models.Identity{ItemID: "MLB" + m[1]}, true
		}
	case models.MarketplaceAmazon:
		if m := amazonPattern.FindStringSubmatch(path); m != nil {
			return models.Identity{ItemID: m[1]}, true
		}
	case models.MarketplaceMagalu:
		if m := magaluPattern.FindStringSubmatch(path); m != nil {
			return models.Identity{ItemID: m[1]}, true
		}
	case models.MarketplaceAliExpress:
		if m := aliexpressPattern.FindStringSubmatch(path); m != nil {
			return models.Identity{ItemID: m[1]}, true
		}
	}

	return models.Identity{}, false
}

// CanonicalURL builds the stable product URL for an identity.
func CanonicalURL(tag models.Marketplace, id models.Identity) (string, error) {
	if id.IsZero() {
		return "", fmt.Errorf("empty identity for %s", tag)
	}

	switch tag {
	case models.MarketplaceShopee:
		if id.ShopID == "" {
			return "", fmt.Errorf("shopee identity requires shop id")
		}
		return fmt.Sprintf("https://shopee.com.br/product/%s/%s", id.ShopID, id.ItemID), nil
	case models.MarketplaceMercadoLivre:
		return fmt.Sprintf("https://produto.mercadolivre.com.br/MLB-%s", strings.TrimPrefix(id.ItemID, "MLB")), nil
	case models.MarketplaceAmazon:
		return fmt.Sprintf("https://www.amazon.com.br/dp/%s", id.ItemID), nil
	case models.MarketplaceMagalu:
		return fmt.Sprintf("https://www.magazineluiza.com.br/p/%s/", id.ItemID), nil
	case models.MarketplaceAliExpress:
		return fmt.Sprintf("https://pt.aliexpress.com/item/%s.html", id.ItemID), nil
	}

	return "", fmt.Errorf("no canonical form for %s", tag)
}

// StripQuery drops every query parameter and the fragment.
func StripQuery(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// Canonicalize turns any URL into the best stable form available: unwrapped,
// query-free, and rebuilt from its identity when one is recognized.
func Canonicalize(rawURL string) (string, models.Marketplace, models.Identity) {
	target := Unwrap(rawURL)
	tag := Detect(target)

	if id, ok := ParseIdentity(tag, target); ok {
		if canonical, err := CanonicalURL(tag, id); err == nil {
			return canonical, tag, id
		}
		return StripQuery(target), tag, id
	}

	return StripQuery(target), tag, models.Identity{}
}
