package extract

import (
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/marketplace-extractor/internal/models"
)

// Source labels recorded on candidates.
const (
	SourcePayload   = "payload"
	SourceBlob      = "attribute_blob"
	SourceJSONLD    = "json_ld"
	SourceSelectors = "selectors"
)

// Extractor turns fetched HTML or decoded API payloads into candidates.
// It is stateless and safe for concurrent use.
type Extractor struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger.With("component", "extract")}
}

// FromHTML parses html and runs the extractors in trust order: embedded
// payload, attribute blob, JSON-LD, CSS selectors. The first tier that yields
// a title provides the candidate; later tiers only fill fields it lacks.
func (e *Extractor) FromHTML(marketplace models.Marketplace, pageURL, html string) (*models.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return e.FromDocument(marketplace, pageURL, doc)
}

func (e *Extractor) FromDocument(marketplace models.Marketplace, pageURL string, doc *goquery.Document) (*models.Candidate, error) {
	profile := ProfileFor(marketplace)
	scorer := ScorerFor(marketplace)

	jsonLD := FromJSONLD(doc)
	hints := PageTitles(doc)
	if jsonLD != nil {
		hints = append(hints, jsonLD.Title)
	}

	var tiers []*models.Candidate

	for _, payload := range EmbeddedPayloads(doc) {
		if c := FindProduct(payload, scorer, hints...); c != nil {
			c.Source = SourcePayload
			tiers = append(tiers, c)
			break
		}
	}

	if c := fromBlobs(doc, profile.Blobs, scorer, hints); c != nil {
		c.Source = SourceBlob
		tiers = append(tiers, c)
	}

	if jsonLD != nil {
		tiers = append(tiers, jsonLD)
	}

	if c := fromSelectors(doc, profile.Selectors); c != nil {
		c.Source = SourceSelectors
		tiers = append(tiers, c)
	}

	c := combine(tiers, jsonLD)
	if c == nil {
		e.logger.Debug("no candidate in document", "marketplace", marketplace, "url", pageURL)
		return nil, models.ErrNoData
	}

	c.ImageURL = resolveReference(pageURL, c.ImageURL)
	e.logger.Debug("candidate extracted", "marketplace", marketplace, "source", c.Source, "has_price", c.HasPrice())
	return c, nil
}

// PageTitles returns the document title and og:title, the names a page gives
// its own item.
func PageTitles(doc *goquery.Document) []string {
	var titles []string
	if t := normalizeSpace(doc.Find("title").First().Text()); t != "" {
		titles = append(titles, t)
	}
	if t := normalizeSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", "")); t != "" {
		titles = append(titles, t)
	}
	return titles
}

// FromPayload searches an already decoded payload, such as a marketplace API
// response or a hydration global captured from a live page.
// Hints are titles the page gives its own item.
func (e *Extractor) FromPayload(marketplace models.Marketplace, payload any, hints ...string) (*models.Candidate, error) {
	c := FindProduct(payload, ScorerFor(marketplace), hints...)
	if c == nil {
		return nil, models.ErrNoData
	}
	if c.Source == "" {
		c.Source = SourcePayload
	}
	return c, nil
}

// HasPayloadMarker reports whether html looks like a complete product page
// rather than a shell that still needs client-side rendering.
func HasPayloadMarker(marketplace models.Marketplace, html string) bool {
	if marker := ProfileFor(marketplace).PayloadMarker; marker != "" && strings.Contains(html, marker) {
		return true
	}
	return strings.Contains(html, "application/ld+json") || strings.Contains(html, `property="og:title"`)
}

// combine picks the first titled tier as primary and fills its gaps from the
// others. When the page carries a JSON-LD Product, payload and blob tiers
// naming a different item are dropped.
func combine(tiers []*models.Candidate, anchor *models.Candidate) *models.Candidate {
	kept := tiers[:0]
	for _, c := range tiers {
		if anchor != nil && isEmbedded(c) && c.Title != "" && !MatchesTitle(c.Title, anchor.Title) {
			continue
		}
		kept = append(kept, c)
	}

	var primary *models.Candidate
	for _, c := range kept {
		if c.Title != "" {
			primary = c
			break
		}
	}
	if primary == nil {
		return nil
	}
	for _, c := range kept {
		if c != primary {
			primary.Merge(c)
		}
	}
	return primary
}

func isEmbedded(c *models.Candidate) bool {
	return c.Source == SourcePayload || c.Source == SourceBlob
}

func fromBlobs(doc *goquery.Document, blobs []AttributeBlob, scorer Scorer, hints []string) *models.Candidate {
	for _, blob := range blobs {
		var found *models.Candidate
		doc.Find(blob.CSS).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			raw := s.Text()
			if blob.Attr != "" {
				raw = s.AttrOr(blob.Attr, "")
			}
			v, ok := decodeJSON(raw)
			if !ok {
				return true
			}
			if c := FindProduct(v, scorer, hints...); c != nil {
				found = c
				return false
			}
			// price-only blobs still fill gaps left by other tiers
			Walk(v, func(obj map[string]any) {
				if found != nil {
					return
				}
				if p, ok := pickPrice(obj, priceKeys...); ok {
					found = &models.Candidate{Price: models.Float(p)}
				}
			})
			return found == nil
		})
		if found != nil {
			return found
		}
	}
	return nil
}

func fromSelectors(doc *goquery.Document, fs FieldSelectors) *models.Candidate {
	c := &models.Candidate{}

	c.Title = normalizeSpace(firstText(doc, fs.Title, genericSelectors.Title))
	c.Description = normalizeSpace(firstText(doc, fs.Description, genericSelectors.Description))
	c.Seller = normalizeSpace(firstText(doc, fs.Seller, genericSelectors.Seller))

	if p, ok := firstPrice(doc, fs.Price, genericSelectors.Price); ok {
		c.Price = models.Float(p)
	}
	if p, ok := firstPrice(doc, fs.OriginalPrice, genericSelectors.OriginalPrice); ok {
		c.OriginalPrice = models.Float(p)
	}
	if r, ok := firstPrice(doc, fs.Rating, genericSelectors.Rating); ok && r <= 5 {
		c.Rating = models.Float(r)
	}
	if n, ok := parseCount(firstText(doc, fs.ReviewCount, genericSelectors.ReviewCount)); ok {
		c.ReviewCount = models.Int(n)
	}

	for _, group := range [][]Selector{fs.Image, genericSelectors.Image} {
		for _, sel := range group {
			if img := selectorValue(doc, sel); IsPlausibleImageURL(img) || strings.HasPrefix(img, "/") {
				c.ImageURL = normalizeImageURL(img)
				break
			}
		}
		if c.ImageURL != "" {
			break
		}
	}

	for _, css := range fs.OutOfStock {
		if doc.Find(css).Length() > 0 {
			c.InStock = models.Bool(false)
			break
		}
	}

	if c.Title == "" && c.Price == nil && c.ImageURL == "" {
		return nil
	}
	return c
}

func selectorValue(doc *goquery.Document, sel Selector) string {
	s := doc.Find(sel.CSS).First()
	if s.Length() == 0 {
		return ""
	}
	if sel.Attr != "" {
		return strings.TrimSpace(s.AttrOr(sel.Attr, ""))
	}
	return strings.TrimSpace(s.Text())
}

func firstText(doc *goquery.Document, groups ...[]Selector) string {
	for _, group := range groups {
		for _, sel := range group {
			if v := selectorValue(doc, sel); v != "" {
				return v
			}
		}
	}
	return ""
}

func firstPrice(doc *goquery.Document, groups ...[]Selector) (float64, bool) {
	for _, group := range groups {
		for _, sel := range group {
			if p, ok := ParsePrice(selectorValue(doc, sel)); ok && p > 0 {
				return p, true
			}
		}
	}
	return 0, false
}

var countPattern = regexp.MustCompile(`\d[\d.,]*`)

// parseCount reads integer counts such as "(1.234 avaliações)" or
// "1,234 ratings" where any separator is a thousands separator.
func parseCount(s string) (int, bool) {
	token := countPattern.FindString(s)
	if token == "" {
		return 0, false
	}
	digits := strings.NewReplacer(".", "", ",", "").Replace(token)
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

func resolveReference(base, ref string) string {
	if ref == "" || IsPlausibleImageURL(ref) {
		return normalizeImageURL(ref)
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
