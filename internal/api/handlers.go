package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/marketplace-extractor/internal/database"
	"github.com/maltedev/marketplace-extractor/internal/models"
	"github.com/maltedev/marketplace-extractor/internal/preview"
)

const (
	pendingWarnThreshold   = 1000
	deadLetterErrThreshold = 100
	maxRequestBodyBytes    = 1 << 20
	pingTimeout            = 2 * time.Second
)

type Extractor interface {
	Extract(ctx context.Context, rawURL string, opts models.Options) models.Result
	Preview(ctx context.Context, rawURL string, native *preview.Native, opts models.Options) models.Result
}

type AttemptLister interface {
	List(ctx context.Context, f database.AttemptFilter) ([]database.ExtractionAttempt, error)
}

type OutboxStats interface {
	Stats(ctx context.Context) (pending, deadLetter int64, err error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	extractor Extractor
	attempts  AttemptLister
	outbox    OutboxStats
	db        Pinger
	logger    *slog.Logger
}

// NewHandlers builds the HTTP handlers. attempts and outbox may be nil when
// the database is disabled.
func NewHandlers(extractor Extractor, attempts AttemptLister, outbox OutboxStats, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		extractor: extractor,
		attempts:  attempts,
		outbox:    outbox,
		logger:    logger.With("component", "api"),
	}
}

// WithDatabase makes /health report an unreachable database.
func (h *Handlers) WithDatabase(db Pinger) *Handlers {
	h.db = db
	return h
}

// ExtractRequest is the body of POST /api/v1/extract.
type ExtractRequest struct {
	URL                   string   `json:"url"`
	OriginalURL           string   `json:"original_url"`
	UserID                string   `json:"user_id"`
	TelegramUserID        int64    `json:"telegram_user_id"`
	Origin                string   `json:"origin"`
	SkipBrowserAutomation bool     `json:"skip_browser_automation"`
	Fields                []string `json:"fields"`
}

func (req ExtractRequest) options() models.Options {
	return models.Options{
		OriginalURL:           req.OriginalURL,
		UserID:                req.UserID,
		TelegramUserID:        req.TelegramUserID,
		Origin:                req.Origin,
		SkipBrowserAutomation: req.SkipBrowserAutomation,
		Fields:                models.ParseFields(strings.Join(req.Fields, ",")),
	}
}

// PreviewRequest is the body of POST /api/v1/preview.
type PreviewRequest struct {
	URL         string          `json:"url"`
	OriginalURL string          `json:"original_url"`
	UserID      string          `json:"user_id"`
	Origin      string          `json:"origin"`
	Preview     *preview.Native `json:"preview"`
}

// Extract runs the full strategy chain. Extraction failures are reported in
// the body with HTTP 200.
func (h *Handlers) Extract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if !h.decode(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.URL) == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	result := h.extractor.Extract(r.Context(), req.URL, req.options())
	h.respondJSON(w, http.StatusOK, result)
}

func (h *Handlers) Preview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !h.decode(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.URL) == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	opts := models.Options{OriginalURL: req.OriginalURL, UserID: req.UserID, Origin: req.Origin}
	result := h.extractor.Preview(r.Context(), req.URL, req.Preview, opts)
	h.respondJSON(w, http.StatusOK, result)
}

// ListAttempts returns the latest extraction attempts, newest first.
func (h *Handlers) ListAttempts(w http.ResponseWriter, r *http.Request) {
	if h.attempts == nil {
		h.respondError(w, http.StatusServiceUnavailable, "attempt log is disabled")
		return
	}

	q := r.URL.Query()
	filter := database.AttemptFilter{Marketplace: q.Get("marketplace")}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	if raw := q.Get("success"); raw != "" {
		success, err := strconv.ParseBool(raw)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "success must be true or false")
			return
		}
		filter.Success = &success
	}

	attempts, err := h.attempts.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list attempts", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list attempts")
		return
	}
	if attempts == nil {
		attempts = []database.ExtractionAttempt{}
	}

	h.respondJSON(w, http.StatusOK, attempts)
}

// Health reports ok, or degrades on database loss and on outbox backlog
// when events are enabled.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		err := h.db.Ping(ctx)
		cancel()
		if err != nil {
			h.logger.Error("failed to ping database", "error", err)
			health["status"] = "error"
			health["message"] = "database unavailable"
			h.respondJSON(w, http.StatusServiceUnavailable, health)
			return
		}
	}

	if h.outbox != nil {
		pending, deadLetter, err := h.outbox.Stats(r.Context())
		if err != nil {
			h.logger.Error("failed to read outbox stats", "error", err)
			health["status"] = "error"
			health["message"] = "outbox unavailable"
			h.respondJSON(w, http.StatusServiceUnavailable, health)
			return
		}

		health["outbox"] = map[string]interface{}{
			"pending":     pending,
			"dead_letter": deadLetter,
		}
		if pending > pendingWarnThreshold {
			health["status"] = "warning"
			health["message"] = "high number of pending outbox events"
		}
		if deadLetter > deadLetterErrThreshold {
			health["status"] = "error"
			health["message"] = "high number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
