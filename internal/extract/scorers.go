package extract

import (
	"strconv"
	"strings"

	"github.com/maltedev/marketplace-extractor/internal/models"
)

// ShopeePriceScale is the fixed-point factor of Shopee price integers.
const ShopeePriceScale = 100000

const shopeeImageBase = "https://down-br.img.susercontent.com/file/"

// ScorerFor returns the payload scorer registered for a marketplace.
func ScorerFor(marketplace models.Marketplace) Scorer {
	switch marketplace {
	case models.MarketplaceShopee:
		return ShopeeScorer
	default:
		return DefaultScorer
	}
}

// ShopeeScorer understands Shopee item objects, where prices are scaled
// integers and images are bare file hashes.
var ShopeeScorer Scorer = ScorerFunc(func(obj map[string]any) (*models.Candidate, int) {
	_, hasItemID := obj["itemid"]
	if !hasItemID {
		_, hasItemID = obj["item_id"]
	}
	if !hasItemID {
		return defaultScore(obj)
	}

	title := pickString(obj, "name", "title")
	if title == "" {
		return nil, 0
	}

	c := &models.Candidate{Title: normalizeSpace(title), Source: "shopee_item"}
	score := 1

	if p, ok := shopeePrice(obj, "price", "price_min"); ok {
		c.Price = models.Float(p)
		score++
	}
	if p, ok := shopeePrice(obj, "price_before_discount", "price_max_before_discount"); ok {
		c.OriginalPrice = models.Float(p)
	}

	if img := ShopeeImageURL(obj["image"]); img != "" {
		c.ImageURL = img
		score++
	} else if imgs, ok := obj["images"].([]any); ok && len(imgs) > 0 {
		if img := ShopeeImageURL(imgs[0]); img != "" {
			c.ImageURL = img
			score++
		}
	}

	c.Description = pickString(obj, "description")
	if rating, ok := obj["item_rating"].(map[string]any); ok {
		if star, ok := rating["rating_star"].(float64); ok && star > 0 {
			c.Rating = models.Float(star)
		}
		if counts, ok := rating["rating_count"].([]any); ok && len(counts) > 0 {
			if total, ok := counts[0].(float64); ok {
				c.ReviewCount = models.Int(int(total))
			}
		}
	}
	if n, ok := pickNumber(obj, "historical_sold", "sold"); ok {
		c.SalesQuantity = models.Int(int(n))
	}
	if stock, ok := obj["stock"].(float64); ok {
		c.InStock = models.Bool(stock > 0)
	}
	c.Seller = pickString(obj, "shop_name")

	return c, score
})

// shopeePrice reads a scaled integer price. Numbers are always scaled; only a
// string carrying a decimal separator is taken as an already formatted price.
func shopeePrice(obj map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch t := obj[k].(type) {
		case float64:
			if t > 0 {
				return t / ShopeePriceScale, true
			}
		case string:
			t = strings.TrimSpace(t)
			if strings.ContainsAny(t, ".,") {
				if p, ok := ParsePrice(t); ok && p > 0 {
					return p, true
				}
				continue
			}
			if raw, err := strconv.ParseFloat(t, 64); err == nil && raw > 0 {
				return raw / ShopeePriceScale, true
			}
		}
	}
	return 0, false
}

// ShopeeImageURL expands a Shopee image hash into a CDN URL.
func ShopeeImageURL(v any) string {
	s, ok := v.(string)
	if !ok || s == "" {
		return ""
	}
	if IsPlausibleImageURL(s) {
		return normalizeImageURL(s)
	}
	return shopeeImageBase + s
}
