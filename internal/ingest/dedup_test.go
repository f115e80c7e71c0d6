package ingest

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Virrpe/saaspype-trends/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func event(id, text string) models.ContentEvent {
	return models.ContentEvent{
		ID:        id,
		Platform:  "reddit",
		Text:      text,
		CreatedAt: time.Now(),
	}
}

func TestDeduplicatorAdmitsOnce(t *testing.T) {
	dedup := NewDeduplicator(nil, time.Hour, 0.8, 64, testLogger())
	ctx := context.Background()

	if !dedup.Admit(ctx, event("e1", "Need a tool for tracking invoices")) {
		t.Fatalf("expected first event to be admitted")
	}
	if dedup.Admit(ctx, event("e2", "Need a tool for tracking invoices")) {
		t.Fatalf("expected identical text to be rejected")
	}
}

func TestDeduplicatorNormalizesVariants(t *testing.T) {
	dedup := NewDeduplicator(nil, time.Hour, 0.8, 64, testLogger())
	ctx := context.Background()

	if !dedup.Admit(ctx, event("e1", "Need a tool for tracking invoices!")) {
		t.Fatalf("expected first event to be admitted")
	}

	variants := []string{
		"need a tool for tracking invoices",
		"NEED A TOOL FOR TRACKING INVOICES",
		"Need, a tool... for tracking invoices?!",
		"Need  a   tool for\ttracking invoices",
	}
	for _, text := range variants {
		if dedup.Admit(ctx, event("ex", text)) {
			t.Fatalf("expected variant %q to be rejected", text)
		}
	}
}

func TestDeduplicatorNearDuplicate(t *testing.T) {
	dedup := NewDeduplicator(nil, time.Hour, 0.5, 64, testLogger())
	ctx := context.Background()

	if !dedup.Admit(ctx, event("e1", "so frustrated with manual invoice reconciliation every single month")) {
		t.Fatalf("expected first event to be admitted")
	}
	// One word changed; shingle overlap stays above the 0.5 threshold.
	if dedup.Admit(ctx, event("e2", "so frustrated with manual invoice reconciliation every single week")) {
		t.Fatalf("expected near-duplicate to be rejected")
	}
	// Entirely different text is admitted.
	if !dedup.Admit(ctx, event("e3", "looking for a calendar scheduling assistant that syncs both ways")) {
		t.Fatalf("expected unrelated text to be admitted")
	}
}

func TestDeduplicatorRejectsEmptyText(t *testing.T) {
	dedup := NewDeduplicator(nil, time.Hour, 0.8, 64, testLogger())
	if dedup.Admit(context.Background(), event("e1", "!!! ...")) {
		t.Fatalf("expected punctuation-only text to be rejected")
	}
}

func TestNormalizeText(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Hello, World!", "hello world"},
		{"  spaced   out  ", "spaced out"},
		{"MiXeD CaSe 123", "mixed case 123"},
		{"...", ""},
	}
	for _, tc := range cases {
		if got := NormalizeText(tc.in); got != tc.want {
			t.Fatalf("NormalizeText(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestJaccardBounds(t *testing.T) {
	a := shingles("one two three four", 3)
	if sim := jaccard(a, a); sim != 1 {
		t.Fatalf("expected identical sets to score 1, got %f", sim)
	}
	b := shingles("five six seven eight", 3)
	if sim := jaccard(a, b); sim != 0 {
		t.Fatalf("expected disjoint sets to score 0, got %f", sim)
	}
}
