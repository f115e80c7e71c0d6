package scoring

import (
	"context"

	"github.com/Virrpe/saaspype-trends/internal/models"
)

// Oracle scores a content event: extracted keywords, a category, and an
// opportunity score with confidence. Whether the implementation is
// rule-based or model-backed is its own business; the pipeline only sees
// this interface.
type Oracle interface {
	Score(ctx context.Context, event models.ContentEvent) (models.ScoreResult, error)
}
