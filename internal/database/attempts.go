package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/marketplace-extractor/internal/models"
)

const (
	attemptTable     = "extraction_attempt"
	defaultListLimit = 50
	maxListLimit     = 500
)

var attemptColumns = []string{
	"id", "request_id", "path", "url", "resolved_url", "marketplace", "strategy",
	"attempts", "success", "failure_kind", "origin", "user_id", "telegram_user_id",
	"duration_ms", "created_at",
}

// ExtractionAttempt is one row of the extraction log.
type ExtractionAttempt struct {
	ID             uuid.UUID `json:"id"`
	RequestID      string    `json:"request_id"`
	Path           string    `json:"path"`
	URL            string    `json:"url"`
	ResolvedURL    string    `json:"resolved_url,omitempty"`
	Marketplace    string    `json:"marketplace"`
	Strategy       string    `json:"strategy,omitempty"`
	Attempts       int       `json:"attempts"`
	Success        bool      `json:"success"`
	FailureKind    string    `json:"failure_kind,omitempty"`
	Origin         string    `json:"origin,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	TelegramUserID int64     `json:"telegram_user_id,omitempty"`
	DurationMS     int64     `json:"duration_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// AttemptFromReport flattens an extraction report into a log row.
func AttemptFromReport(report models.ExtractionReport, at time.Time) *ExtractionAttempt {
	marketplace := report.Marketplace
	if marketplace == "" {
		marketplace = models.MarketplaceUnknown
	}
	return &ExtractionAttempt{
		ID:             uuid.New(),
		RequestID:      report.RequestID,
		Path:           report.Path,
		URL:            report.URL,
		ResolvedURL:    report.ResolvedURL,
		Marketplace:    string(marketplace),
		Strategy:       report.Strategy,
		Attempts:       report.Attempts,
		Success:        report.Success(),
		FailureKind:    string(report.Kind),
		Origin:         report.Options.Origin,
		UserID:         report.Options.UserID,
		TelegramUserID: report.Options.TelegramUserID,
		DurationMS:     report.Elapsed.Milliseconds(),
		CreatedAt:      at,
	}
}

type AttemptFilter struct {
	Marketplace string
	Success     *bool
	Limit       uint64
}

type AttemptRepository struct {
	db      *DB
	builder sq.StatementBuilderType
}

func NewAttemptRepository(db *DB) *AttemptRepository {
	return &AttemptRepository{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (r *AttemptRepository) insertQuery(a *ExtractionAttempt) (string, []interface{}, error) {
	if a.RequestID == "" || a.URL == "" {
		return "", nil, errors.New("extraction attempt requires a request id and url")
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	return r.builder.
		Insert(attemptTable).
		Columns(attemptColumns...).
		Values(
			a.ID, a.RequestID, a.Path, a.URL, a.ResolvedURL, a.Marketplace, a.Strategy,
			a.Attempts, a.Success, a.FailureKind, a.Origin, a.UserID, a.TelegramUserID,
			a.DurationMS, a.CreatedAt,
		).
		ToSql()
}

// InsertWithTx logs a within tx, next to the outbox event it belongs to.
func (r *AttemptRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, a *ExtractionAttempt) error {
	query, args, err := r.insertQuery(a)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert extraction attempt: %w", err)
	}
	return nil
}

func (r *AttemptRepository) Insert(ctx context.Context, a *ExtractionAttempt) error {
	query, args, err := r.insertQuery(a)
	if err != nil {
		return err
	}
	if _, err := r.db.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert extraction attempt: %w", err)
	}
	return nil
}

func (r *AttemptRepository) listQuery(f AttemptFilter) (string, []interface{}, error) {
	limit := f.Limit
	switch {
	case limit == 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}

	q := r.builder.
		Select(attemptColumns...).
		From(attemptTable).
		OrderBy("created_at DESC").
		Limit(limit)

	if f.Marketplace != "" {
		q = q.Where(sq.Eq{"marketplace": f.Marketplace})
	}
	if f.Success != nil {
		q = q.Where(sq.Eq{"success": *f.Success})
	}

	return q.ToSql()
}

// List returns the most recent attempts matching f, newest first.
func (r *AttemptRepository) List(ctx context.Context, f AttemptFilter) ([]ExtractionAttempt, error) {
	query, args, err := r.listQuery(f)
	if err != nil {
		return nil, fmt.Errorf("failed to build attempt query: %w", err)
	}

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list extraction attempts: %w", err)
	}
	defer rows.Close()

	var attempts []ExtractionAttempt
	for rows.Next() {
		var a ExtractionAttempt
		err := rows.Scan(
			&a.ID, &a.RequestID, &a.Path, &a.URL, &a.ResolvedURL, &a.Marketplace, &a.Strategy,
			&a.Attempts, &a.Success, &a.FailureKind, &a.Origin, &a.UserID, &a.TelegramUserID,
			&a.DurationMS, &a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan extraction attempt: %w", err)
		}
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return attempts, nil
}
