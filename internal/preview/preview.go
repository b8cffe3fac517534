package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maltedev/marketplace-extractor/internal/antibot"
	"github.com/maltedev/marketplace-extractor/internal/enrich"
	"github.com/maltedev/marketplace-extractor/internal/marketplace"
	"github.com/maltedev/marketplace-extractor/internal/models"
	"github.com/maltedev/marketplace-extractor/internal/quality"
)

// Native is a link preview the caller already has, e.g. from a chat
// platform's unfurl.
type Native struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url"`
}

// PriceReader recovers a price from a product image.
type PriceReader interface {
	Enabled() bool
	Price(ctx context.Context, imageURL string) (float64, bool, error)
}

// PriceFinder recovers a price by searching for the product title.
type PriceFinder interface {
	Enabled() bool
	FindPrice(ctx context.Context, title string, mp models.Marketplace) (enrich.Match, bool, error)
}

// Service builds records without touching the marketplace itself.
type Service struct {
	providers []Provider
	gate      *quality.Gate
	ocr       PriceReader
	enricher  PriceFinder
	logger    *slog.Logger
}

func NewService(gate *quality.Gate, ocr PriceReader, enricher PriceFinder, logger *slog.Logger, providers ...Provider) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if gate == nil {
		gate = quality.NewGate(logger)
	}
	return &Service{
		providers: providers,
		gate:      gate,
		ocr:       ocr,
		enricher:  enricher,
		logger:    logger.With("component", "preview"),
	}
}

// Preview returns a gated record for rawURL: the native preview first, then
// each provider in order. A missing price is recovered by OCR on the image,
// then by search.
func (s *Service) Preview(ctx context.Context, rawURL string, native *Native, opts models.Options) (*models.ProductRecord, error) {
	mp := marketplace.Detect(marketplace.Unwrap(rawURL))
	productURL := opts.OriginalURL
	if productURL == "" {
		productURL = rawURL
	}

	rec, err := s.firstAccepted(ctx, rawURL, native, mp, productURL, opts)
	if err != nil {
		return nil, err
	}

	if !rec.HasPrice() {
		s.recoverPrice(ctx, rec)
	}
	return rec, nil
}

func (s *Service) firstAccepted(ctx context.Context, rawURL string, native *Native, mp models.Marketplace, productURL string, opts models.Options) (*models.ProductRecord, error) {
	var lastErr error

	if native != nil {
		c := &models.Candidate{Title: native.Title, Description: native.Description, ImageURL: native.ImageURL, Source: "native"}
		opts.ApplyFields(c)
		rec, err := s.gate.Check(c, mp, productURL)
		if err == nil {
			return rec, nil
		}
		s.logger.Debug("native preview rejected", "url", rawURL, "error", err)
		lastErr = err
	}

	for _, p := range s.providers {
		if !p.Enabled() {
			s.logger.Info("preview provider not configured, skipping", "provider", p.Name())
			continue
		}
		c, err := p.Preview(ctx, rawURL)
		if err != nil {
			s.logger.Warn("preview provider failed", "provider", p.Name(), "error", err)
			lastErr = err
			continue
		}
		opts.ApplyFields(c)
		rec, err := s.gate.Check(c, mp, productURL)
		if err != nil {
			s.logger.Debug("preview rejected", "provider", p.Name(), "error", err)
			lastErr = err
			continue
		}
		return rec, nil
	}

	switch {
	case lastErr == nil:
		return nil, fmt.Errorf("%w: no preview source available", models.ErrNotFound)
	case errors.Is(lastErr, models.ErrAntiBotBlock) || errors.Is(lastErr, antibot.ErrChallenge):
		return nil, fmt.Errorf("%w: %v", models.ErrAntiBotBlock, lastErr)
	default:
		return nil, fmt.Errorf("%w: %v", models.ErrNotFound, lastErr)
	}
}

func (s *Service) recoverPrice(ctx context.Context, rec *models.ProductRecord) {
	if s.ocr != nil && s.ocr.Enabled() {
		price, ok, err := s.ocr.Price(ctx, rec.ImageURL)
		switch {
		case err != nil:
			s.logger.Warn("ocr failed", "image", rec.ImageURL, "error", err)
		case ok && quality.WithPrice(rec, price):
			return
		}
	} else {
		s.logger.Info("ocr not configured, skipping")
	}

	if s.enricher != nil && s.enricher.Enabled() {
		m, ok, err := s.enricher.FindPrice(ctx, rec.Title, rec.Marketplace)
		if err != nil {
			s.logger.Warn("price enrichment failed", "error", err)
			return
		}
		if ok {
			quality.WithPrice(rec, m.Price)
		}
	}
}
