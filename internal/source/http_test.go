package source

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHTTPSourceFetch(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	var gotSince string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSince = r.URL.Query().Get("since")
		json.NewEncoder(w).Encode(map[string]any{
			"events": []feedEvent{
				{ID: "e1", Text: "first", Author: "u1", Timestamp: now.Add(-time.Minute), Upvotes: 3},
				{ID: "e2", Platform: "hackernews", Text: "second", Timestamp: now, Comments: 2},
			},
		})
	}))
	defer srv.Close()

	src := NewHTTPSource("feed", srv.URL, "reddit", 2*time.Second, testLogger())
	events, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if gotSince != "" {
		t.Fatalf("expected no cursor on first fetch, got %q", gotSince)
	}
	// Feed platform wins over the configured default when present.
	if events[0].Platform != "reddit" || events[1].Platform != "hackernews" {
		t.Fatalf("unexpected platforms: %s, %s", events[0].Platform, events[1].Platform)
	}
	if events[0].Engagement.Upvotes != 3 || events[1].Engagement.Comments != 2 {
		t.Fatalf("unexpected engagement mapping")
	}
	if !src.Healthy() {
		t.Fatalf("expected healthy source after fetch")
	}

	// Second fetch passes the newest timestamp as cursor.
	if _, err := src.Fetch(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotSince == "" {
		t.Fatalf("expected cursor on second fetch")
	}
	parsed, err := time.Parse(time.RFC3339Nano, gotSince)
	if err != nil {
		t.Fatalf("cursor not RFC3339: %v", err)
	}
	if !parsed.Equal(now) {
		t.Fatalf("expected cursor at newest event time, got %v", parsed)
	}
}

func TestHTTPSourceUnhealthyOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := NewHTTPSource("feed", srv.URL, "reddit", 2*time.Second, testLogger())
	if _, err := src.Fetch(context.Background()); err == nil {
		t.Fatalf("expected error for 500 response")
	}
	if src.Healthy() {
		t.Fatalf("expected unhealthy source after failed fetch")
	}
}

func TestHTTPSourceRecovers(t *testing.T) {
	failing := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if failing {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"events": []feedEvent{}})
	}))
	defer srv.Close()

	src := NewHTTPSource("feed", srv.URL, "reddit", 2*time.Second, testLogger())
	src.Fetch(context.Background())
	if src.Healthy() {
		t.Fatalf("expected unhealthy after failure")
	}

	failing = false
	if _, err := src.Fetch(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !src.Healthy() {
		t.Fatalf("expected healthy after recovery")
	}
}
