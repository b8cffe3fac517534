package quality

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/maltedev/marketplace-extractor/internal/antibot"
	"github.com/maltedev/marketplace-extractor/internal/models"
)

const (
	MinTitleRunes = 5
	MaxPrice      = 100000.0
)

// Reason names why the gate refused a candidate.
type Reason string

const (
	ReasonMissing          Reason = "missing_candidate"
	ReasonTitleTooShort    Reason = "title_too_short"
	ReasonInvalidImage     Reason = "invalid_image"
	ReasonPriceOutOfRange  Reason = "price_out_of_range"
	ReasonChallengeTitle   Reason = "challenge_title"
	ReasonChallengeImage   Reason = "challenge_image"
	ReasonPlaceholderTitle Reason = "placeholder_title"
	ReasonRecommendation   Reason = "recommendation_widget"
)

// RejectionError is returned for every refused candidate. It matches
// models.ErrValidation, and antibot.ErrChallenge for challenge reasons.
type RejectionError struct {
	Reason Reason
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("candidate rejected: %s", e.Reason)
	}
	return fmt.Sprintf("candidate rejected: %s (%s)", e.Reason, e.Detail)
}

func (e *RejectionError) Is(target error) bool {
	switch target {
	case models.ErrValidation:
		return true
	case antibot.ErrChallenge:
		return e.Reason == ReasonChallengeTitle || e.Reason == ReasonChallengeImage
	}
	return false
}

// IsInvalidImage reports whether err is a rejection caused by the image.
func IsInvalidImage(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej) && rej.Reason == ReasonInvalidImage
}

// placeholderTitles are exact (lowercased) titles of home, login and error
// pages that answer 200 instead of the product.
var placeholderTitles = []string{
	"shopee",
	"shopee brasil",
	"mercado livre",
	"mercado libre",
	"amazon.com.br",
	"amazon",
	"magazine luiza",
	"magalu",
	"aliexpress",
	"login",
	"entrar",
	"faça login",
	"sign in",
	"iniciar sessão",
	"página não encontrada",
	"page not found",
	"error",
	"erro",
	"home",
	"loja oficial",
}

// placeholderPhrases flag marketing slogans and wall pages wherever they
// appear in a title.
var placeholderPhrases = []string{
	"ofertas incríveis",
	"melhores preços do mercado",
	"frete grátis no mesmo dia",
	"compre online com segurança",
	"faça login",
	"entre na sua conta",
	"sign in to",
	"página não encontrada",
	"page not found",
	"produto não encontrado",
	"este anúncio não está disponível",
	"item não disponível",
	"site oficial",
}

// recommendationPhrases describe lists of other products rather than the
// page's own item.
var recommendationPhrases = []string{
	"produtos relacionados",
	"produtos similares",
	"produtos semelhantes",
	"itens semelhantes",
	"quem viu este produto também",
	"quem comprou este produto também",
	"você também pode gostar",
	"voce tambem pode gostar",
	"recomendados para você",
	"compre junto",
	"frequentemente comprados juntos",
	"mais vendidos",
	"ofertas do dia",
	"resultados para",
	"you may also like",
	"customers who viewed",
	"customers also bought",
	"related products",
	"similar items",
	"top picks",
}

// Gate is the only constructor of models.ProductRecord.
type Gate struct {
	now    func() time.Time
	logger *slog.Logger
}

func NewGate(logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{now: time.Now, logger: logger.With("component", "quality")}
}

// Check validates a candidate and turns it into a record. productURL is the
// caller-supplied URL, which the record keeps.
func (g *Gate) Check(c *models.Candidate, mp models.Marketplace, productURL string) (*models.ProductRecord, error) {
	if err := Inspect(c); err != nil {
		g.logger.Debug("candidate rejected", "marketplace", mp, "error", err)
		return nil, err
	}

	rec := &models.ProductRecord{
		Title:         normalizeTitle(c.Title),
		Description:   strings.TrimSpace(c.Description),
		Price:         c.Price,
		OriginalPrice: c.OriginalPrice,
		ImageURL:      c.ImageURL,
		ProductURL:    productURL,
		Marketplace:   mp,
		Rating:        c.Rating,
		ReviewCount:   c.ReviewCount,
		SalesQuantity: c.SalesQuantity,
		Seller:        strings.TrimSpace(c.Seller),
		InStock:       true,
		ScrapedAt:     g.now().UTC(),
	}
	if c.InStock != nil {
		rec.InStock = *c.InStock
	}
	derivePricing(rec)

	return rec, nil
}

// Inspect runs every rejection rule against c without building a record.
func Inspect(c *models.Candidate) error {
	if c == nil {
		return &RejectionError{Reason: ReasonMissing}
	}

	// challenge pages often lack images; report them as challenges
	title := normalizeTitle(c.Title)
	if antibot.ContainsVocabulary(title) {
		return &RejectionError{Reason: ReasonChallengeTitle, Detail: title}
	}
	if utf8.RuneCountInString(title) < MinTitleRunes {
		return &RejectionError{Reason: ReasonTitleTooShort, Detail: title}
	}
	if !ValidImageURL(c.ImageURL) {
		return &RejectionError{Reason: ReasonInvalidImage, Detail: c.ImageURL}
	}
	if c.Price != nil && !PriceInRange(*c.Price) {
		return &RejectionError{Reason: ReasonPriceOutOfRange, Detail: fmt.Sprintf("%.2f", *c.Price)}
	}
	if antibot.IsCaptchaImage(c.ImageURL) {
		return &RejectionError{Reason: ReasonChallengeImage, Detail: c.ImageURL}
	}

	lower := strings.ToLower(title)
	if slices.Contains(placeholderTitles, lower) {
		return &RejectionError{Reason: ReasonPlaceholderTitle, Detail: title}
	}
	if phrase := firstContained(lower, placeholderPhrases); phrase != "" {
		return &RejectionError{Reason: ReasonPlaceholderTitle, Detail: phrase}
	}
	if phrase := firstContained(lower, recommendationPhrases); phrase != "" {
		return &RejectionError{Reason: ReasonRecommendation, Detail: phrase}
	}

	return nil
}

// ValidImageURL reports whether s is an absolute http(s) URL with a host.
func ValidImageURL(s string) bool {
	if s == "" || strings.ContainsAny(s, " \t\n") {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func PriceInRange(p float64) bool {
	return !math.IsNaN(p) && p > 0 && p <= MaxPrice
}

// WithPrice sets a recovered price on an accepted record, re-deriving the
// discount. It refuses prices outside the sane range.
func WithPrice(rec *models.ProductRecord, price float64) bool {
	if rec == nil || !PriceInRange(price) {
		return false
	}
	rec.Price = models.Float(price)
	rec.DiscountPercentage = nil
	derivePricing(rec)
	return true
}

// derivePricing drops an original price that does not exceed the current one
// and computes the discount.
func derivePricing(rec *models.ProductRecord) {
	if rec.OriginalPrice != nil && rec.Price != nil &&
		(*rec.OriginalPrice <= *rec.Price || !PriceInRange(*rec.OriginalPrice)) {
		rec.OriginalPrice = nil
	}
	if rec.Price == nil || rec.OriginalPrice == nil {
		rec.DiscountPercentage = nil
		return
	}
	discount := int(math.Round((*rec.OriginalPrice - *rec.Price) / *rec.OriginalPrice * 100))
	if discount > 0 {
		rec.DiscountPercentage = models.Int(discount)
	}
}

func normalizeTitle(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstContained(s string, phrases []string) string {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return p
		}
	}
	return ""
}
