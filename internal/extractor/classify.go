package extractor

import (
	"context"
	"errors"
	"net"

	"github.com/maltedev/marketplace-extractor/internal/antibot"
	"github.com/maltedev/marketplace-extractor/internal/models"
)

// User-facing error messages. Nothing more specific is surfaced.
const (
	MessageBlocked    = "the marketplace is blocking automated access right now, please try again in a few minutes"
	MessageNotFound   = "could not extract product data from this link"
	MessageInvalidURL = "invalid product URL"
)

// Classify maps any pipeline error onto the failure taxonomy. Anti-bot
// signals win over every other kind they may be wrapped with.
func Classify(err error) models.FailureKind {
	if err == nil {
		return models.FailureNone
	}

	var netErr net.Error
	var opErr *net.OpError

	switch {
	case errors.Is(err, models.ErrAntiBotBlock), errors.Is(err, antibot.ErrChallenge):
		return models.FailureAntiBotBlock
	case errors.Is(err, models.ErrNotFound):
		return models.FailureNotFound
	case errors.Is(err, models.ErrValidation):
		return models.FailureValidation
	case errors.Is(err, models.ErrServiceUnavailable):
		return models.FailureServiceUnavailable
	case errors.Is(err, models.ErrTransientNetwork),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.As(err, &opErr),
		errors.As(err, &netErr) && netErr.Timeout():
		return models.FailureTransientNetwork
	case errors.Is(err, models.ErrNoData), errors.Is(err, models.ErrRetryNextVariant):
		return models.FailureNoData
	}
	return models.FailureOther
}

// Message returns what the caller is told for a failure kind.
func Message(kind models.FailureKind) string {
	if kind == models.FailureAntiBotBlock {
		return MessageBlocked
	}
	return MessageNotFound
}
