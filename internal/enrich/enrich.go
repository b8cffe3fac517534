package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/maltedev/marketplace-extractor/internal/extract"
	"github.com/maltedev/marketplace-extractor/internal/marketplace"
	"github.com/maltedev/marketplace-extractor/internal/models"
	"github.com/maltedev/marketplace-extractor/internal/quality"
)

// snippetPricePattern finds R$ amounts in free text.
var snippetPricePattern = regexp.MustCompile(`(?i)R\$\s*(\d[\d.,]*)`)

// Match is a recovered price and where it came from.
type Match struct {
	Price  float64
	Engine string
	Link   string
}

// Enricher recovers a missing price by searching for the exact product title.
type Enricher struct {
	engines []Engine
	logger  *slog.Logger
}

// New takes engines in preference order.
func New(logger *slog.Logger, engines ...Engine) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{engines: engines, logger: logger.With("component", "enrich")}
}

func (e *Enricher) Enabled() bool {
	for _, eng := range e.engines {
		if eng.Enabled() {
			return true
		}
	}
	return false
}

// FindPrice queries every enabled engine concurrently and returns the price
// of the first engine, in preference order, with an exact title match.
func (e *Enricher) FindPrice(ctx context.Context, title string, mp models.Marketplace) (Match, bool, error) {
	if !e.Enabled() {
		return Match{}, false, fmt.Errorf("%w: no search engine configured", models.ErrServiceUnavailable)
	}

	info := marketplace.Lookup(mp)
	want := NormalizeTitle(title, info.BrandSuffixes)
	if want == "" {
		return Match{}, false, nil
	}
	query := strings.TrimSpace(title + " " + info.DisplayName)

	matches := make([]*Match, len(e.engines))
	errs := make([]error, len(e.engines))

	var g errgroup.Group
	for i, eng := range e.engines {
		if !eng.Enabled() {
			continue
		}
		g.Go(func() error {
			hits, err := eng.Search(ctx, query)
			if err != nil {
				// one engine failing must not cancel the other
				errs[i] = err
				return nil
			}
			if m, ok := matchHits(hits, want, info.BrandSuffixes); ok {
				m.Engine = eng.Name()
				matches[i] = &m
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, m := range matches {
		if m != nil {
			e.logger.Info("price recovered from search", "engine", m.Engine, "price", m.Price)
			return *m, true, nil
		}
		if errs[i] != nil {
			e.logger.Warn("search engine failed", "engine", e.engines[i].Name(), "error", errs[i])
		}
	}

	for _, err := range errs {
		if err != nil {
			return Match{}, false, err
		}
	}
	return Match{}, false, nil
}

func matchHits(hits []Hit, want string, suffixes []string) (Match, bool) {
	for _, hit := range hits {
		if NormalizeTitle(hit.Title, suffixes) != want {
			continue
		}
		if hit.Price != nil && quality.PriceInRange(*hit.Price) {
			return Match{Price: *hit.Price, Link: hit.Link}, true
		}
		if p, ok := SnippetPrice(hit.Snippet); ok {
			return Match{Price: p, Link: hit.Link}, true
		}
	}
	return Match{}, false
}

// SnippetPrice reads the first sane R$ amount from free text.
func SnippetPrice(s string) (float64, bool) {
	for _, m := range snippetPricePattern.FindAllStringSubmatch(s, -1) {
		if p, ok := extract.ParsePrice(m[1]); ok && quality.PriceInRange(p) {
			return p, true
		}
	}
	return 0, false
}

// NormalizeTitle lowercases, drops punctuation and separators, and removes
// marketplace branding at either end, so " | Shopee Brasil" variants compare
// equal to the bare title.
func NormalizeTitle(title string, brandSuffixes []string) string {
	normalized := words(title)
	brands := make([]string, 0, len(brandSuffixes))
	for _, brand := range brandSuffixes {
		if b := words(brand); b != "" {
			brands = append(brands, b)
		}
	}

	for changed := true; changed; {
		changed = false
		for _, b := range brands {
			if slices.Contains(brands, normalized) {
				return normalized
			}
			if strings.HasSuffix(normalized, " "+b) {
				normalized = strings.TrimSuffix(normalized, " "+b)
				changed = true
			}
			if strings.HasPrefix(normalized, b+" ") {
				normalized = strings.TrimPrefix(normalized, b+" ")
				changed = true
			}
		}
	}
	return normalized
}

func words(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}
