package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Virrpe/saaspype-trends/internal/models"
	"github.com/Virrpe/saaspype-trends/internal/utils"
)

// HTTPOracle delegates scoring to an external service speaking a small JSON
// contract: POST the event, receive keywords, category, and scores.
type HTTPOracle struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

type scoreRequest struct {
	EventID  string `json:"eventId"`
	Platform string `json:"platform"`
	Text     string `json:"text"`
	Author   string `json:"author,omitempty"`
}

type scoreResponse struct {
	Keywords         []string `json:"keywords"`
	Category         string   `json:"category"`
	OpportunityScore float64  `json:"opportunityScore"`
	Confidence       float64  `json:"confidence"`
}

// NewHTTPOracle builds an oracle client for the given endpoint.
func NewHTTPOracle(endpoint string, timeout time.Duration, logger *slog.Logger) *HTTPOracle {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPOracle{
		baseURL: strings.TrimRight(endpoint, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Score implements Oracle against the remote service.
func (o *HTTPOracle) Score(ctx context.Context, event models.ContentEvent) (models.ScoreResult, error) {
	req := scoreRequest{
		EventID:  event.ID,
		Platform: event.Platform,
		Text:     event.Text,
		Author:   event.AuthorHash,
	}
	var resp scoreResponse
	if err := o.postJSON(ctx, "/v1/score", req, &resp); err != nil {
		return models.ScoreResult{}, err
	}
	result := models.ScoreResult{
		Keywords:         resp.Keywords,
		Category:         resp.Category,
		OpportunityScore: clamp01(resp.OpportunityScore),
		Confidence:       clamp01(resp.Confidence),
	}
	if result.Category == "" {
		result.Category = "general"
	}
	return result, nil
}

func (o *HTTPOracle) postJSON(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return utils.NewAppError("scoring.post", "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return utils.NewAppError("scoring.post", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return utils.NewAppError("scoring.post", "call oracle", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return utils.NewAppError("scoring.post",
			fmt.Sprintf("oracle returned status %d for %s", resp.StatusCode, endpoint), nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return utils.NewAppError("scoring.post", "decode response", err)
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
