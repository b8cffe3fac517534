package extract

import (
	"net/url"
	"sort"
	"strings"

	"github.com/maltedev/marketplace-extractor/internal/models"
)

// Walk visits every JSON object in v depth-first, parents before children.
// Object keys are visited in sorted order so results are stable.
func Walk(v any, fn func(obj map[string]any)) {
	walkScoped(v, false, func(obj map[string]any, _ bool) { fn(obj) })
}

// asideKeyFragments name containers of other products shown next to the
// page's own item: carousels, recommendations, sponsored shelves.
var asideKeyFragments = []string{
	"recommend", "related", "similar", "bestseller", "best_seller", "carousel",
	"suggest", "sponsored", "upsell", "crosssell", "cross_sell", "trending",
	"viewed", "alsobought", "also_bought", "complementary",
}

func isAsideKey(k string) bool {
	k = strings.ToLower(k)
	for _, frag := range asideKeyFragments {
		if strings.Contains(k, frag) {
			return true
		}
	}
	return false
}

// walkScoped is Walk that also reports whether an object sits below an
// aside container.
func walkScoped(v any, aside bool, fn func(obj map[string]any, aside bool)) {
	switch t := v.(type) {
	case map[string]any:
		fn(t, aside)
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkScoped(t[k], aside || isAsideKey(k), fn)
		}
	case []any:
		for _, child := range t {
			walkScoped(child, aside, fn)
		}
	}
}

// Scorer turns one JSON object into a candidate and says how product-like it
// is. A nil candidate or a zero score means "not a product".
type Scorer interface {
	Score(obj map[string]any) (*models.Candidate, int)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(obj map[string]any) (*models.Candidate, int)

func (f ScorerFunc) Score(obj map[string]any) (*models.Candidate, int) { return f(obj) }

// minScore is the least an object needs to be reported: a title plus one of
// price or image.
const minScore = 2

// identityBonus is added to objects whose title names the page itself.
const identityBonus = 3

// FindProduct walks payload and returns the most product-like object. Page
// titles passed as hints (document title, og:title, JSON-LD name) rank an
// object naming the page's own item above anything else. Objects under aside
// containers are only returned when they match a hint. Walk order breaks
// ties, so objects closer to the root win.
func FindProduct(payload any, scorer Scorer, hints ...string) *models.Candidate {
	var (
		best     *models.Candidate
		bestRank int
	)

	walkScoped(payload, false, func(obj map[string]any, aside bool) {
		c, score := scorer.Score(obj)
		if c == nil || score < minScore {
			return
		}
		rank := score
		if MatchesTitle(c.Title, hints...) {
			rank += identityBonus
		} else if aside {
			return
		}
		if rank > bestRank {
			best, bestRank = c, rank
		}
	})

	return best
}

// minTitleMatch is the shortest normalized title containment is trusted on.
const minTitleMatch = 8

// MatchesTitle reports whether title and any hint name the same item: equal
// after folding case and spacing, or one containing the other, as with a
// page title carrying a marketplace suffix.
func MatchesTitle(title string, hints ...string) bool {
	t := foldTitle(title)
	if t == "" {
		return false
	}
	for _, hint := range hints {
		h := foldTitle(hint)
		if h == "" {
			continue
		}
		if t == h {
			return true
		}
		if len([]rune(t)) >= minTitleMatch && strings.Contains(h, t) {
			return true
		}
		if len([]rune(h)) >= minTitleMatch && strings.Contains(t, h) {
			return true
		}
	}
	return false
}

func foldTitle(s string) string {
	return strings.ToLower(normalizeSpace(s))
}

var (
	titleKeys = []string{"name", "title", "productName", "product_name", "item_name", "displayName"}
	imageKeys = []string{"image", "imageUrl", "image_url", "images", "thumbnail", "picture", "pictures", "mainImage", "imagePath"}
	priceKeys = []string{"price", "currentPrice", "salePrice", "sale_price", "finalPrice", "priceValue", "priceAmount", "amount", "price_min"}
	origKeys  = []string{"originalPrice", "original_price", "listPrice", "oldPrice", "regularPrice", "price_before_discount", "price_max_before_discount"}
)

// DefaultScorer recognizes generic product objects found in client-side
// rendering payloads.
var DefaultScorer Scorer = ScorerFunc(defaultScore)

func defaultScore(obj map[string]any) (*models.Candidate, int) {
	title := pickString(obj, titleKeys...)
	if title == "" || len([]rune(title)) > 500 {
		return nil, 0
	}

	c := &models.Candidate{Title: normalizeSpace(title)}
	score := 1

	if price, ok := pickPrice(obj, priceKeys...); ok {
		c.Price = models.Float(price)
		score++
	}
	if orig, ok := pickPrice(obj, origKeys...); ok {
		c.OriginalPrice = models.Float(orig)
	}
	if img := pickImage(obj, imageKeys...); img != "" {
		c.ImageURL = img
		score++
	}

	c.Description = pickString(obj, "description", "shortDescription")
	if rating, ok := pickNumber(obj, "rating", "ratingValue", "rating_star", "averageRating"); ok {
		c.Rating = models.Float(rating)
	}
	if n, ok := pickNumber(obj, "reviewCount", "review_count", "ratingCount", "totalReviews"); ok {
		c.ReviewCount = models.Int(int(n))
	}
	if n, ok := pickNumber(obj, "sold", "historical_sold", "soldQuantity", "sold_quantity", "salesCount"); ok {
		c.SalesQuantity = models.Int(int(n))
	}
	c.Seller = pickString(obj, "seller", "sellerName", "shop_name", "storeName")

	return c, score
}

func pickString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if val, ok := obj[k]; ok {
			if s, ok := val.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func pickPrice(obj map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if val, ok := obj[k]; ok {
			if p, ok := PriceFromJSON(val); ok {
				return p, true
			}
		}
	}
	return 0, false
}

func pickNumber(obj map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch t := obj[k].(type) {
		case float64:
			if t >= 0 {
				return t, true
			}
		case string:
			if f, ok := ParsePrice(t); ok {
				return f, true
			}
		case map[string]any:
			if f, ok := pickNumber(t, "value", "rating_star", "average"); ok {
				return f, true
			}
		}
	}
	return 0, false
}

// pickImage accepts a URL string, a list whose first element is a URL or
// an object with a url field.
func pickImage(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if img := imageFrom(obj[k]); img != "" {
			return img
		}
	}
	return ""
}

func imageFrom(v any) string {
	switch t := v.(type) {
	case string:
		if IsPlausibleImageURL(t) {
			return normalizeImageURL(t)
		}
	case []any:
		for _, item := range t {
			if img := imageFrom(item); img != "" {
				return img
			}
		}
	case map[string]any:
		for _, k := range []string{"url", "src", "secure_url", "contentUrl"} {
			if img := imageFrom(t[k]); img != "" {
				return img
			}
		}
	}
	return ""
}

// IsPlausibleImageURL reports whether s is an absolute (or protocol
// relative) http(s) URL.
func IsPlausibleImageURL(s string) bool {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "//") {
		s = "https:" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func normalizeImageURL(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "//") {
		return "https:" + s
	}
	return s
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
