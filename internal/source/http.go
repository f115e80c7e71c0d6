package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Virrpe/saaspype-trends/internal/models"
	"github.com/Virrpe/saaspype-trends/internal/utils"
)

// HTTPSource polls a JSON feed endpoint for content events. Each fetch asks
// for events newer than the latest timestamp seen, so restarting a poll loop
// never re-ingests the same page. Dedup downstream still catches feeds that
// ignore the cursor.
type HTTPSource struct {
	name     string
	feedURL  string
	platform string
	client   *http.Client
	logger   *slog.Logger

	mu      sync.Mutex
	since   time.Time
	healthy bool
}

type feedEvent struct {
	ID        string    `json:"id"`
	Platform  string    `json:"platform"`
	Text      string    `json:"text"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
	Upvotes   int       `json:"upvotes"`
	Comments  int       `json:"comments"`
}

type feedResponse struct {
	Events []feedEvent `json:"events"`
}

// NewHTTPSource builds a polling source for one feed.
func NewHTTPSource(name, feedURL, platform string, timeout time.Duration, logger *slog.Logger) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSource{
		name:     name,
		feedURL:  strings.TrimRight(feedURL, "/"),
		platform: platform,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
		healthy:  true,
	}
}

func (s *HTTPSource) Name() string { return s.name }

// Healthy reports whether the last fetch succeeded.
func (s *HTTPSource) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}

// Fetch pulls events newer than the source's cursor and advances it.
func (s *HTTPSource) Fetch(ctx context.Context) ([]models.ContentEvent, error) {
	s.mu.Lock()
	since := s.since
	s.mu.Unlock()

	target := s.feedURL
	if !since.IsZero() {
		target += "?since=" + url.QueryEscape(since.Format(time.RFC3339Nano))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, s.fail(utils.NewAppError("source.fetch", "build request", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, s.fail(utils.NewAppError("source.fetch", "call feed "+s.name, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.fail(utils.NewAppError("source.fetch",
			fmt.Sprintf("feed %s returned status %d", s.name, resp.StatusCode), nil))
	}
	var feed feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, s.fail(utils.NewAppError("source.fetch", "decode feed "+s.name, err))
	}

	events := make([]models.ContentEvent, 0, len(feed.Events))
	latest := since
	for _, fe := range feed.Events {
		platform := fe.Platform
		if platform == "" {
			platform = s.platform
		}
		events = append(events, models.ContentEvent{
			ID:         fe.ID,
			Platform:   platform,
			Text:       fe.Text,
			AuthorHash: fe.Author,
			CreatedAt:  fe.Timestamp,
			Engagement: models.Engagement{
				Upvotes:  fe.Upvotes,
				Comments: fe.Comments,
			},
		})
		if fe.Timestamp.After(latest) {
			latest = fe.Timestamp
		}
	}

	s.mu.Lock()
	s.since = latest
	s.healthy = true
	s.mu.Unlock()
	return events, nil
}

// fail marks the source unhealthy and passes the error through.
func (s *HTTPSource) fail(err error) error {
	s.mu.Lock()
	s.healthy = false
	s.mu.Unlock()
	s.logger.Warn("feed fetch failed", slog.String("source", s.name), slog.Any("error", err))
	return err
}
