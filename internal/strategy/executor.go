package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/marketplace-extractor/internal/antibot"
	"github.com/maltedev/marketplace-extractor/internal/enrich"
	"github.com/maltedev/marketplace-extractor/internal/models"
	"github.com/maltedev/marketplace-extractor/internal/quality"
)

// Attempt is the ephemeral outcome of one strategy run.
type Attempt struct {
	Strategy string
	Err      error
	Elapsed  time.Duration
}

// Outcome describes a finished chain.
type Outcome struct {
	Record   *models.ProductRecord
	Strategy string
	Attempts []Attempt
}

// PriceFinder recovers a missing price after acceptance.
type PriceFinder interface {
	Enabled() bool
	FindPrice(ctx context.Context, title string, mp models.Marketplace) (enrich.Match, bool, error)
}

// Observer is notified of every attempt and enrichment. Implementations must
// be safe for concurrent use.
type Observer interface {
	AttemptFinished(mp models.Marketplace, strategy string, err error, elapsed time.Duration)
	EnrichmentFinished(outcome string)
}

// Enrichment outcomes reported to the Observer.
const (
	EnrichmentFound    = "found"
	EnrichmentMissed   = "missed"
	EnrichmentFailed   = "failed"
	EnrichmentDisabled = "disabled"
)

// Executor runs a marketplace chain sequentially until a candidate passes the
// quality gate.
type Executor struct {
	registry *Registry
	gate     *quality.Gate
	finder   PriceFinder
	observer Observer
	logger   *slog.Logger
}

func NewExecutor(registry *Registry, gate *quality.Gate, finder PriceFinder, observer Observer, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if gate == nil {
		gate = quality.NewGate(logger)
	}
	return &Executor{
		registry: registry,
		gate:     gate,
		finder:   finder,
		observer: observer,
		logger:   logger.With("component", "executor"),
	}
}

// Run tries each strategy of the chain for t in order. productURL is what the
// accepted record reports as its URL. When the chain is exhausted the error
// wraps ErrAntiBotBlock if any attempt was blocked, ErrNotFound otherwise.
func (e *Executor) Run(ctx context.Context, t Target, productURL string, opts models.Options) (Outcome, error) {
	var out Outcome
	blocked := false

	for _, s := range e.registry.Chain(t.Marketplace, opts) {
		if !s.Enabled() {
			e.logger.Info("strategy unavailable, skipping", "strategy", s.Name(), "marketplace", t.Marketplace)
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("%w: %w", models.ErrTransientNetwork, err)
		}

		start := time.Now()
		record, err := e.attempt(ctx, s, t, productURL, opts)
		attempt := Attempt{Strategy: s.Name(), Err: err, Elapsed: time.Since(start)}
		out.Attempts = append(out.Attempts, attempt)
		if e.observer != nil {
			e.observer.AttemptFinished(t.Marketplace, s.Name(), err, attempt.Elapsed)
		}

		if err == nil {
			out.Record = record
			out.Strategy = s.Name()
			e.logger.Info("candidate accepted", "strategy", s.Name(), "marketplace", t.Marketplace, "elapsed", attempt.Elapsed)
			e.enrich(ctx, record)
			return out, nil
		}

		if IsAntiBot(err) {
			blocked = true
		}
		switch {
		case quality.IsInvalidImage(err):
			e.logger.Info("invalid image, escalating", "strategy", s.Name(), "error", err)
		default:
			e.logger.Debug("strategy failed", "strategy", s.Name(), "marketplace", t.Marketplace, "error", err)
		}
	}

	if blocked {
		return out, fmt.Errorf("%w: %d attempts for %s", models.ErrAntiBotBlock, len(out.Attempts), t.URL)
	}
	return out, fmt.Errorf("%w: %d attempts for %s", models.ErrNotFound, len(out.Attempts), t.URL)
}

func (e *Executor) attempt(ctx context.Context, s Strategy, t Target, productURL string, opts models.Options) (*models.ProductRecord, error) {
	c, err := s.Attempt(ctx, t)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, models.ErrNoData
	}
	opts.ApplyFields(c)
	return e.gate.Check(c, t.Marketplace, productURL)
}

func (e *Executor) enrich(ctx context.Context, record *models.ProductRecord) {
	if record.HasPrice() {
		return
	}

	outcome := EnrichmentMissed
	defer func() {
		if e.observer != nil {
			e.observer.EnrichmentFinished(outcome)
		}
	}()

	if e.finder == nil || !e.finder.Enabled() {
		outcome = EnrichmentDisabled
		e.logger.Info("price enrichment unavailable, keeping record without price")
		return
	}

	match, ok, err := e.finder.FindPrice(ctx, record.Title, record.Marketplace)
	switch {
	case err != nil:
		outcome = EnrichmentFailed
		e.logger.Warn("price enrichment failed", "error", err)
	case ok && quality.WithPrice(record, match.Price):
		outcome = EnrichmentFound
		e.logger.Info("price recovered by search", "engine", match.Engine, "price", match.Price)
	}
}

// IsAntiBot reports whether err came from an anti-bot wall or a challenge
// page caught by the quality gate.
func IsAntiBot(err error) bool {
	return errors.Is(err, models.ErrAntiBotBlock) || errors.Is(err, antibot.ErrChallenge)
}
