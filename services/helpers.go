package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/Dosada05/quickplay-matchmaking/repositories"
)

// --- Общие хелперы ---

// retryWithBackoff retries fn with exponential backoff and jitter. It stops
// on success, on a non-retryable error, on ctx cancellation, or after
// maxAttempts. The last error is returned on exhaustion.
func retryWithBackoff(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := baseDelay << (attempt - 1)
			// full jitter, чтобы конкурирующие клиенты не ходили в ногу
			delay = time.Duration(rand.Int63n(int64(delay)) + int64(baseDelay)/2)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// isRetryable separates transient store errors (serialization conflicts,
// lost lobby races) from state errors the caller must re-decide on.
func isRetryable(err error) bool {
	switch {
	case errors.Is(err, repositories.ErrLobbyStatusConflict):
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrPreconditionFailed),
		errors.Is(err, ErrInvalidLobbyState),
		errors.Is(err, ErrInsufficientPlayers),
		errors.Is(err, ErrNotFound):
		return false
	}
	// Postgres serialization failures / deadlocks surface as wrapped driver
	// errors; match the sqlstate text the way lib/pq renders it.
	msg := err.Error()
	return strings.Contains(msg, "40001") || // serialization_failure
		strings.Contains(msg, "40P01") || // deadlock_detected
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "timeout")
}

// EventPublisher доставляет best-effort уведомления клиентам лобби.
// Correctness never depends on delivery; the reconciliation loop is the
// backstop. A nil publisher is valid and drops everything.
type EventPublisher interface {
	PublishLobbyEvent(lobbyID int, eventType string, payload interface{})
}

// Типы событий лобби.
const (
	EventLobbyUpdated        = "LOBBY_UPDATED"
	EventReadyCheckStarted   = "READY_CHECK_STARTED"
	EventReadyCheckCancelled = "READY_CHECK_CANCELLED"
	EventTournamentCreated   = "TOURNAMENT_CREATED"
)

func publishEvent(p EventPublisher, lobbyID int, eventType string, payload interface{}) {
	if p != nil {
		p.PublishLobbyEvent(lobbyID, eventType, payload)
	}
}

// GetExtensionFromContentType maps an image content type to a file extension
// for blob-store keys.
func GetExtensionFromContentType(contentType string) (string, error) {
	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg", nil
	case "image/png":
		return ".png", nil
	case "image/webp":
		return ".webp", nil
	default:
		return "", fmt.Errorf("could not determine file extension from content type: '%s'", contentType)
	}
}
