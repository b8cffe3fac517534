package extractor

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/maltedev/marketplace-extractor/internal/models"
	"github.com/maltedev/marketplace-extractor/internal/preview"
)

const outcomeAccepted = "accepted"

// Metrics bundles Prometheus collectors for the pipeline on a dedicated
// registry. A nil *Metrics records nothing.
type Metrics struct {
	Registry        *prometheus.Registry
	AttemptsTotal   *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
	ResultsTotal    *prometheus.CounterVec
	EnrichmentTotal *prometheus.CounterVec
	OCRTotal        *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	attempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractor_attempts_total",
			Help: "Strategy attempts by marketplace, strategy and outcome.",
		},
		[]string{"marketplace", "strategy", "outcome"},
	)
	attemptDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "extractor_attempt_duration_seconds",
			Help:    "Strategy attempt latency.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
		},
		[]string{"strategy"},
	)
	results := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractor_results_total",
			Help: "Finished extractions by path and outcome.",
		},
		[]string{"path", "outcome"},
	)
	enrichment := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractor_enrichment_total",
			Help: "Search-based price recovery outcomes.",
		},
		[]string{"outcome"},
	)
	ocr := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractor_ocr_total",
			Help: "OCR price recovery outcomes.",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(attempts, attemptDuration, results, enrichment, ocr)

	return &Metrics{
		Registry:        registry,
		AttemptsTotal:   attempts,
		AttemptDuration: attemptDuration,
		ResultsTotal:    results,
		EnrichmentTotal: enrichment,
		OCRTotal:        ocr,
	}
}

// RegisterCacheStats exposes proxy cache hit and miss counts read from stats.
func (m *Metrics) RegisterCacheStats(stats func() (hits, misses uint64)) {
	if m == nil || stats == nil {
		return
	}
	m.Registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "extractor_proxy_cache_hits_total",
			Help: "Proxy fallback cache hits.",
		}, func() float64 {
			hits, _ := stats()
			return float64(hits)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "extractor_proxy_cache_misses_total",
			Help: "Proxy fallback cache misses.",
		}, func() float64 {
			_, misses := stats()
			return float64(misses)
		}),
	)
}

// RegisterPacing exposes the current per-marketplace request delay bounds
// read from delays.
func (m *Metrics) RegisterPacing(delays func(models.Marketplace) (min, max time.Duration)) {
	if m == nil || delays == nil {
		return
	}
	for _, mp := range models.Marketplaces() {
		if mp == models.MarketplaceUnknown {
			continue
		}
		mp := mp
		labels := prometheus.Labels{"marketplace": string(mp)}
		m.Registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name:        "extractor_pacing_min_delay_seconds",
				Help:        "Current lower bound of the request delay.",
				ConstLabels: labels,
			}, func() float64 {
				min, _ := delays(mp)
				return min.Seconds()
			}),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name:        "extractor_pacing_max_delay_seconds",
				Help:        "Current upper bound of the request delay.",
				ConstLabels: labels,
			}, func() float64 {
				_, max := delays(mp)
				return max.Seconds()
			}),
		)
	}
}

// AttemptFinished records one strategy attempt.
func (m *Metrics) AttemptFinished(mp models.Marketplace, strategy string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(string(mp), strategy, outcomeLabel(err)).Inc()
	m.AttemptDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

// EnrichmentFinished records a price enrichment outcome.
func (m *Metrics) EnrichmentFinished(outcome string) {
	if m == nil {
		return
	}
	m.EnrichmentTotal.WithLabelValues(outcome).Inc()
}

// ObserveResult records a finished extraction.
func (m *Metrics) ObserveResult(path string, kind models.FailureKind) {
	if m == nil {
		return
	}
	outcome := string(kind)
	if kind == models.FailureNone {
		outcome = outcomeAccepted
	}
	m.ResultsTotal.WithLabelValues(path, outcome).Inc()
}

func (m *Metrics) incOCR(outcome string) {
	if m == nil {
		return
	}
	m.OCRTotal.WithLabelValues(outcome).Inc()
}

func outcomeLabel(err error) string {
	if err == nil {
		return outcomeAccepted
	}
	return string(Classify(err))
}

// MeterOCR counts the outcomes of an OCR price reader.
func MeterOCR(reader preview.PriceReader, m *Metrics) preview.PriceReader {
	if reader == nil {
		return nil
	}
	return &meteredOCR{reader: reader, metrics: m}
}

type meteredOCR struct {
	reader  preview.PriceReader
	metrics *Metrics
}

func (o *meteredOCR) Enabled() bool { return o.reader.Enabled() }

func (o *meteredOCR) Price(ctx context.Context, imageURL string) (float64, bool, error) {
	price, ok, err := o.reader.Price(ctx, imageURL)
	switch {
	case err != nil:
		o.metrics.incOCR("failed")
	case ok:
		o.metrics.incOCR("found")
	default:
		o.metrics.incOCR("missed")
	}
	return price, ok, err
}
