package extract

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/marketplace-extractor/internal/models"
)

// JSONLDProduct is the subset of schema.org/Product read from structured
// markup. Fields that appear either as scalars or lists stay raw.
type JSONLDProduct struct {
	Type            json.RawMessage `json:"@type"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Image           json.RawMessage `json:"image"`
	Brand           json.RawMessage `json:"brand"`
	Offers          json.RawMessage `json:"offers"`
	AggregateRating *struct {
		RatingValue json.RawMessage `json:"ratingValue"`
		ReviewCount json.RawMessage `json:"reviewCount"`
		RatingCount json.RawMessage `json:"ratingCount"`
	} `json:"aggregateRating"`
}

type jsonLDOffer struct {
	Price         json.RawMessage `json:"price"` // Can be string or number
	LowPrice      json.RawMessage `json:"lowPrice"`
	HighPrice     json.RawMessage `json:"highPrice"`
	PriceCurrency string          `json:"priceCurrency"`
	Availability  string          `json:"availability"`
	Seller        *struct {
		Name string `json:"name"`
	} `json:"seller"`
	PriceSpecification json.RawMessage `json:"priceSpecification"`
}

// FromJSONLD returns the first Product found in ld+json blocks, including
// products nested in arrays and @graph containers.
func FromJSONLD(doc *goquery.Document) *models.Candidate {
	var found *models.Candidate

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v, ok := decodeJSON(s.Text())
		if !ok {
			return true
		}
		Walk(v, func(obj map[string]any) {
			if found != nil || !isProductType(obj["@type"]) {
				return
			}
			raw, err := json.Marshal(obj)
			if err != nil {
				return
			}
			var p JSONLDProduct
			if err := json.Unmarshal(raw, &p); err != nil {
				return
			}
			found = p.candidate()
		})
		return found == nil
	})

	return found
}

func isProductType(v any) bool {
	switch t := v.(type) {
	case string:
		return strings.EqualFold(t, "Product") || strings.HasSuffix(t, "/Product")
	case []any:
		for _, item := range t {
			if isProductType(item) {
				return true
			}
		}
	}
	return false
}

func (p *JSONLDProduct) candidate() *models.Candidate {
	title := normalizeSpace(p.Name)
	if title == "" {
		return nil
	}

	c := &models.Candidate{
		Title:       title,
		Description: strings.TrimSpace(p.Description),
		Source:      "json_ld",
	}

	var image any
	if len(p.Image) > 0 && json.Unmarshal(p.Image, &image) == nil {
		c.ImageURL = imageFrom(image)
	}

	for _, offer := range p.offers() {
		if c.Price == nil {
			if price, ok := rawPrice(offer.Price); ok {
				c.Price = models.Float(price)
			} else if price, ok := rawPrice(offer.LowPrice); ok {
				c.Price = models.Float(price)
			} else if price, ok := specPrice(offer.PriceSpecification); ok {
				c.Price = models.Float(price)
			}
		}
		if c.InStock == nil && offer.Availability != "" {
			avail := strings.ToLower(offer.Availability)
			c.InStock = models.Bool(strings.Contains(avail, "instock") || strings.Contains(avail, "limitedavailability"))
		}
		if c.Seller == "" && offer.Seller != nil {
			c.Seller = strings.TrimSpace(offer.Seller.Name)
		}
	}

	if r := p.AggregateRating; r != nil {
		if v, ok := rawNumber(r.RatingValue); ok {
			c.Rating = models.Float(v)
		}
		if v, ok := rawNumber(r.ReviewCount); ok {
			c.ReviewCount = models.Int(int(v))
		} else if v, ok := rawNumber(r.RatingCount); ok {
			c.ReviewCount = models.Int(int(v))
		}
	}

	return c
}

// offers handles "offers" as a single Offer, an AggregateOffer or a list.
func (p *JSONLDProduct) offers() []jsonLDOffer {
	if len(p.Offers) == 0 {
		return nil
	}
	var list []jsonLDOffer
	if err := json.Unmarshal(p.Offers, &list); err == nil {
		return list
	}
	var single jsonLDOffer
	if err := json.Unmarshal(p.Offers, &single); err == nil {
		return []jsonLDOffer{single}
	}
	return nil
}

func rawPrice(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	// structured markup uses a dot decimal separator even in pt-BR pages
	if s, ok := v.(string); ok {
		if f, ok := parsePlainDecimal(s); ok {
			return f, true
		}
	}
	return PriceFromJSON(v)
}

func specPrice(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	var price float64
	var ok bool
	Walk(v, func(obj map[string]any) {
		if ok {
			return
		}
		price, ok = PriceFromJSON(obj["price"])
	})
	return price, ok
}

func rawNumber(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		return parsePlainDecimal(t)
	}
	return 0, false
}
