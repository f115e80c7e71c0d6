package source

import (
	"context"

	"github.com/Virrpe/saaspype-trends/internal/models"
)

// ContentEventSource delivers batches of raw content events from one feed.
type ContentEventSource interface {
	// Name identifies the source in logs and health output.
	Name() string
	// Fetch returns events published since the previous call. Implementations
	// keep their own cursor; callers only see new events.
	Fetch(ctx context.Context) ([]models.ContentEvent, error)
	// Healthy reports whether the last fetch succeeded.
	Healthy() bool
}
