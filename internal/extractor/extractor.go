package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/marketplace-extractor/internal/marketplace"
	"github.com/maltedev/marketplace-extractor/internal/models"
	"github.com/maltedev/marketplace-extractor/internal/preview"
	"github.com/maltedev/marketplace-extractor/internal/resolver"
	"github.com/maltedev/marketplace-extractor/internal/strategy"
)

// Extraction paths reported to metrics and sinks.
const (
	PathExtract = "extract"
	PathPreview = "preview"
)

type URLResolver interface {
	Resolve(ctx context.Context, rawURL string) resolver.Resolved
}

type ChainRunner interface {
	Run(ctx context.Context, t strategy.Target, productURL string, opts models.Options) (strategy.Outcome, error)
}

type Previewer interface {
	Preview(ctx context.Context, rawURL string, native *preview.Native, opts models.Options) (*models.ProductRecord, error)
}

// Sink receives every finished extraction. Sink errors are logged and never
// change the result.
type Sink interface {
	Accepted(ctx context.Context, report models.ExtractionReport, record *models.ProductRecord) error
	Failed(ctx context.Context, report models.ExtractionReport) error
}

type Deps struct {
	Resolver  URLResolver
	Chain     ChainRunner
	Previewer Previewer
	Sink      Sink
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Service is the entry point of the pipeline. Every call returns a Result;
// no error escapes it.
type Service struct {
	resolver  URLResolver
	chain     ChainRunner
	previewer Previewer
	sink      Sink
	metrics   *Metrics
	logger    *slog.Logger
}

func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		resolver:  deps.Resolver,
		chain:     deps.Chain,
		previewer: deps.Previewer,
		sink:      deps.Sink,
		metrics:   deps.Metrics,
		logger:    logger.With("component", "extractor"),
	}
}

// Extract resolves rawURL and runs the marketplace's strategy chain on it.
func (s *Service) Extract(ctx context.Context, rawURL string, opts models.Options) models.Result {
	start := time.Now()
	rawURL = strings.TrimSpace(rawURL)
	report := models.ExtractionReport{
		RequestID: uuid.NewString(),
		Path:      PathExtract,
		URL:       rawURL,
		Options:   opts,
	}
	logger := s.logger.With("request_id", report.RequestID)

	if err := validateURL(rawURL); err != nil {
		logger.Warn("rejected input", "url", rawURL, "error", err)
		report.Kind = models.FailureValidation
		s.finish(ctx, report, nil, start)
		return models.Result{Error: MessageInvalidURL}
	}

	logger.Info("extraction started",
		"url", rawURL,
		"origin", opts.Origin,
		"user_id", opts.UserID,
		"telegram_user_id", opts.TelegramUserID,
		"skip_browser", opts.SkipBrowserAutomation,
	)

	resolved := s.resolver.Resolve(ctx, rawURL)
	report.ResolvedURL = resolved.URL
	report.Marketplace = resolved.Marketplace

	productURL := opts.OriginalURL
	if productURL == "" {
		productURL = rawURL
	}

	out, err := s.chain.Run(ctx, strategy.Target{
		URL:         resolved.URL,
		Marketplace: resolved.Marketplace,
		Identity:    resolved.Identity,
	}, productURL, opts)
	report.Strategy = out.Strategy
	report.Attempts = len(out.Attempts)

	if err != nil {
		report.Kind = Classify(err)
		logger.Info("extraction failed",
			"marketplace", resolved.Marketplace,
			"resolved_url", resolved.URL,
			"attempts", report.Attempts,
			"kind", report.Kind,
			"error", err,
		)
		s.finish(ctx, report, nil, start)
		return models.Result{Error: Message(report.Kind)}
	}

	logger.Info("extraction succeeded",
		"marketplace", resolved.Marketplace,
		"strategy", out.Strategy,
		"attempts", report.Attempts,
		"has_price", out.Record.HasPrice(),
	)
	s.finish(ctx, report, out.Record, start)
	return models.Result{Success: true, Data: out.Record}
}

// Preview builds a record from a native preview or external preview APIs
// without contacting the marketplace.
func (s *Service) Preview(ctx context.Context, rawURL string, native *preview.Native, opts models.Options) models.Result {
	start := time.Now()
	rawURL = strings.TrimSpace(rawURL)
	report := models.ExtractionReport{
		RequestID:   uuid.NewString(),
		Path:        PathPreview,
		URL:         rawURL,
		ResolvedURL: rawURL,
		Marketplace: marketplace.Detect(marketplace.Unwrap(rawURL)),
		Options:     opts,
	}
	logger := s.logger.With("request_id", report.RequestID)

	if err := validateURL(rawURL); err != nil {
		logger.Warn("rejected input", "url", rawURL, "error", err)
		report.Kind = models.FailureValidation
		s.finish(ctx, report, nil, start)
		return models.Result{Error: MessageInvalidURL}
	}
	if s.previewer == nil {
		report.Kind = models.FailureServiceUnavailable
		s.finish(ctx, report, nil, start)
		return models.Result{Error: MessageNotFound}
	}

	record, err := s.previewer.Preview(ctx, rawURL, native, opts)
	if err != nil {
		report.Kind = Classify(err)
		logger.Info("preview failed", "url", rawURL, "kind", report.Kind, "error", err)
		s.finish(ctx, report, nil, start)
		return models.Result{Error: Message(report.Kind)}
	}

	report.Strategy = "preview"
	logger.Info("preview succeeded", "marketplace", record.Marketplace, "has_price", record.HasPrice())
	s.finish(ctx, report, record, start)
	return models.Result{Success: true, Data: record}
}

func (s *Service) finish(ctx context.Context, report models.ExtractionReport, record *models.ProductRecord, start time.Time) {
	report.Elapsed = time.Since(start)
	s.metrics.ObserveResult(report.Path, report.Kind)

	if s.sink == nil {
		return
	}

	var err error
	if record != nil {
		err = s.sink.Accepted(ctx, report, record)
	} else {
		err = s.sink.Failed(ctx, report)
	}
	if err != nil {
		s.logger.Error("failed to record extraction", "request_id", report.RequestID, "error", err)
	}
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty url")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host")
	}
	return nil
}
