package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/marketplace-extractor/internal/database"
	"github.com/maltedev/marketplace-extractor/internal/models"
)

type EventType string

const (
	// EventTypeProductExtracted is published for every accepted product record.
	EventTypeProductExtracted EventType = "PRODUCT_EXTRACTED"

	aggregateProduct = "product"
	eventSource      = "extractor"
)

// ProductExtractedPayload is the body of a PRODUCT_EXTRACTED event.
type ProductExtractedPayload struct {
	EventID     string                `json:"event_id"`
	EventType   string                `json:"event_type"`
	Timestamp   time.Time             `json:"timestamp"`
	RequestID   string                `json:"request_id"`
	Path        string                `json:"path"`
	Marketplace models.Marketplace    `json:"marketplace"`
	URL         string                `json:"url"`
	ResolvedURL string                `json:"resolved_url,omitempty"`
	Strategy    string                `json:"strategy,omitempty"`
	Origin      string                `json:"origin,omitempty"`
	UserID      string                `json:"user_id,omitempty"`
	Product     *models.ProductRecord `json:"product"`
	Source      string                `json:"source"`
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

type AttemptWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, a *database.ExtractionAttempt) error
	Insert(ctx context.Context, a *database.ExtractionAttempt) error
}

// Publisher records finished extractions. Accepted records are written to the
// attempt log and the outbox in one transaction so the relay only ever sees
// committed products.
type Publisher struct {
	db       TxRunner
	outbox   OutboxWriter
	attempts AttemptWriter
	stream   string
	logger   *slog.Logger
	now      func() time.Time
}

func NewPublisher(db *database.DB, stream string, logger *slog.Logger) *Publisher {
	return newPublisher(db, database.NewOutboxRepository(db), database.NewAttemptRepository(db), stream, logger)
}

func newPublisher(db TxRunner, outbox OutboxWriter, attempts AttemptWriter, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = database.DefaultStream
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		db:       db,
		outbox:   outbox,
		attempts: attempts,
		stream:   stream,
		logger:   logger.With("component", "event_publisher"),
		now:      time.Now,
	}
}

// Accepted writes the attempt row and a PRODUCT_EXTRACTED outbox event.
func (p *Publisher) Accepted(ctx context.Context, report models.ExtractionReport, record *models.ProductRecord) error {
	if record == nil {
		return p.Failed(ctx, report)
	}

	now := p.now()
	payload := &ProductExtractedPayload{
		EventID:     uuid.New().String(),
		EventType:   string(EventTypeProductExtracted),
		Timestamp:   now,
		RequestID:   report.RequestID,
		Path:        report.Path,
		Marketplace: record.Marketplace,
		URL:         report.URL,
		ResolvedURL: report.ResolvedURL,
		Strategy:    report.Strategy,
		Origin:      report.Options.Origin,
		UserID:      report.Options.UserID,
		Product:     record,
		Source:      eventSource,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	outboxEvent := &database.OutboxEvent{
		AggregateType: aggregateProduct,
		AggregateID:   aggregateID(report, record),
		EventType:     string(EventTypeProductExtracted),
		Payload:       data,
		TargetStream:  p.stream,
	}
	attempt := database.AttemptFromReport(report, now)

	err = p.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := p.attempts.InsertWithTx(ctx, tx, attempt); err != nil {
			return err
		}
		if err := p.outbox.InsertWithTx(ctx, tx, outboxEvent); err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("event published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"request_id", report.RequestID,
		"marketplace", record.Marketplace,
		"outbox_id", outboxEvent.ID,
	)

	return nil
}

// Failed only logs the attempt; failures are not announced downstream.
func (p *Publisher) Failed(ctx context.Context, report models.ExtractionReport) error {
	if err := p.attempts.Insert(ctx, database.AttemptFromReport(report, p.now())); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

func aggregateID(report models.ExtractionReport, record *models.ProductRecord) string {
	switch {
	case record.ProductURL != "":
		return record.ProductURL
	case report.ResolvedURL != "":
		return report.ResolvedURL
	default:
		return report.URL
	}
}
