package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/maltedev/marketplace-extractor/internal/antibot"
	"github.com/maltedev/marketplace-extractor/internal/models"
)

// StatusError carries the HTTP status of a failed request.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d for %s", e.StatusCode, e.URL)
}

// Classify wraps a transport error or HTTP status with the pipeline's
// failure taxonomy so callers can use errors.Is on the result.
func Classify(err error, statusCode int, url string) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", models.ErrTransientNetwork, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", models.ErrTransientNetwork, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", models.ErrTransientNetwork, err)
	}

	if statusCode != 0 {
		status := &StatusError{StatusCode: statusCode, URL: url}
		switch {
		case antibot.IsBlockStatus(statusCode):
			return fmt.Errorf("%w: %w", models.ErrAntiBotBlock, status)
		case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
			return fmt.Errorf("%w: %w", models.ErrNotFound, status)
		case statusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %w", models.ErrTransientNetwork, status)
		case statusCode >= http.StatusBadRequest:
			return status
		}
	}

	return err
}
