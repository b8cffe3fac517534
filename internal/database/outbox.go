package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	OutboxStatusPending    = "pending"
	OutboxStatusProcessed  = "processed"
	OutboxStatusFailed     = "failed"
	OutboxStatusDeadLetter = "dead_letter"

	// MaxRetryCount is the number of failed publishes after which an event
	// moves to the dead letter state.
	MaxRetryCount = 5

	// DefaultStream receives every accepted product record.
	DefaultStream = "stream:product_extracted"

	maxBackoff = 5 * time.Minute

	outboxTable = "outbox_event"
)

var outboxColumns = []string{
	"id", "aggregate_type", "aggregate_id", "event_type",
	"payload", "target_stream", "status", "retry_count",
	"error_message", "created_at", "processed_at", "next_retry_at",
}

type OutboxEvent struct {
	ID            uuid.UUID       `db:"id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	Payload       json.RawMessage `db:"payload"`
	TargetStream  string          `db:"target_stream"`
	Status        string          `db:"status"`
	RetryCount    int             `db:"retry_count"`
	ErrorMessage  *string         `db:"error_message"`
	CreatedAt     time.Time       `db:"created_at"`
	ProcessedAt   *time.Time      `db:"processed_at"`
	NextRetryAt   *time.Time      `db:"next_retry_at"`
}

// Validate checks the fields the relay needs to publish the event.
func (e *OutboxEvent) Validate() error {
	switch {
	case e.AggregateType == "":
		return errors.New("outbox event requires an aggregate type")
	case e.AggregateID == "":
		return errors.New("outbox event requires an aggregate id")
	case e.EventType == "":
		return errors.New("outbox event requires an event type")
	case len(e.Payload) == 0 || !json.Valid(e.Payload):
		return errors.New("outbox event requires a JSON payload")
	}
	return nil
}

type OutboxRepository struct {
	db      *DB
	builder sq.StatementBuilderType
	now     func() time.Time
}

func NewOutboxRepository(db *DB) *OutboxRepository {
	return &OutboxRepository{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now:     time.Now,
	}
}

// InsertWithTx writes event as part of tx so it is only visible to the relay
// when the surrounding writes commit.
func (r *OutboxRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, event *OutboxEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = OutboxStatusPending
	}
	if event.TargetStream == "" {
		event.TargetStream = DefaultStream
	}

	now := r.now()
	event.CreatedAt = now
	if event.NextRetryAt == nil {
		event.NextRetryAt = &now
	}

	query, args, err := r.builder.
		Insert(outboxTable).
		Columns(outboxColumns...).
		Values(
			event.ID, event.AggregateType, event.AggregateID, event.EventType,
			event.Payload, event.TargetStream, event.Status, event.RetryCount,
			event.ErrorMessage, event.CreatedAt, event.ProcessedAt, event.NextRetryAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build outbox insert: %w", err)
	}

	_, err = tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	return nil
}

// GetPending returns pending and retryable events whose backoff has elapsed,
// oldest first.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	query, args, err := r.pendingQuery(limit)
	if err != nil {
		return nil, fmt.Errorf("failed to build pending query: %w", err)
	}

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		event := &OutboxEvent{}
		err := rows.Scan(
			&event.ID, &event.AggregateType, &event.AggregateID, &event.EventType,
			&event.Payload, &event.TargetStream, &event.Status, &event.RetryCount,
			&event.ErrorMessage, &event.CreatedAt, &event.ProcessedAt, &event.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return events, nil
}

func (r *OutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	query, args, err := r.builder.
		Update(outboxTable).
		Set("status", OutboxStatusProcessed).
		Set("processed_at", r.now()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	result, err := r.db.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("event not found: %s", id)
	}

	return nil
}

// MarkFailed records a publish failure and schedules the next retry, or
// moves the event to the dead letter state after MaxRetryCount failures.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, processErr error) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var retryCount int
		err := tx.QueryRow(ctx,
			"SELECT retry_count FROM outbox_event WHERE id = $1 FOR UPDATE", id).Scan(&retryCount)
		if err != nil {
			return fmt.Errorf("failed to get retry count: %w", err)
		}

		retryCount++
		status := nextStatus(retryCount)
		nextRetryAt := nextRetryTime(r.now(), retryCount)

		query, args, err := r.builder.
			Update(outboxTable).
			Set("status", status).
			Set("retry_count", retryCount).
			Set("error_message", processErr.Error()).
			Set("next_retry_at", nextRetryAt).
			Where(sq.Eq{"id": id}).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build update: %w", err)
		}

		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to mark event as failed: %w", err)
		}
		return nil
	})
}

// Stats counts events still waiting for the relay and events given up on.
func (r *OutboxRepository) Stats(ctx context.Context) (pending, deadLetter int64, err error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status IN ($1, $2)),
			COUNT(*) FILTER (WHERE status = $3)
		FROM outbox_event`

	err = r.db.pool.QueryRow(ctx, query, OutboxStatusPending, OutboxStatusFailed, OutboxStatusDeadLetter).
		Scan(&pending, &deadLetter)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count outbox events: %w", err)
	}
	return pending, deadLetter, nil
}

// pendingQuery selects pending and retryable events whose backoff has
// elapsed, oldest first.
func (r *OutboxRepository) pendingQuery(limit int) (string, []interface{}, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.builder.
		Select(outboxColumns...).
		From(outboxTable).
		Where(sq.Eq{"status": []string{OutboxStatusPending, OutboxStatusFailed}}).
		Where(sq.LtOrEq{"next_retry_at": r.now()}).
		OrderBy("created_at ASC").
		Limit(uint64(limit)).
		ToSql()
}

func nextStatus(retryCount int) string {
	if retryCount >= MaxRetryCount {
		return OutboxStatusDeadLetter
	}
	return OutboxStatusFailed
}

// nextRetryTime backs off exponentially: 2s, 4s, 8s ... capped at five
// minutes.
func nextRetryTime(now time.Time, retryCount int) time.Time {
	backoff := time.Duration(1<<min(retryCount, 16)) * time.Second
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return now.Add(backoff)
}
