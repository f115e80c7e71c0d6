package aggregate

import (
	"testing"
	"time"

	"github.com/Virrpe/saaspype-trends/internal/config"
	"github.com/Virrpe/saaspype-trends/internal/models"
)

func testWindows() config.WindowsConfig {
	return config.WindowsConfig{
		Micro:  time.Minute,
		Short:  15 * time.Minute,
		Medium: time.Hour,
		Long:   24 * time.Hour,
	}
}

func ingestN(a *Aggregator, key, platform string, n int, at time.Time) {
	for i := 0; i < n; i++ {
		a.Ingest(
			models.ContentEvent{ID: "e", Platform: platform, Text: "t", CreatedAt: at},
			models.ScoreResult{Keywords: []string{key}, OpportunityScore: 1},
		)
	}
}

func TestAggregatorCountsPerResolution(t *testing.T) {
	a := New(testWindows())
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a.SetClock(func() time.Time { return base })

	ingestN(a, "invoices", "reddit", 3, base.Add(-10*time.Second))
	ingestN(a, "invoices", "hackernews", 2, base.Add(-10*time.Second))

	short := a.Snapshot(models.ResolutionShort)
	if len(short) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(short))
	}
	// Deterministic order: key asc, then platform asc.
	if short[0].Platform != "hackernews" || short[0].Count != 2 {
		t.Fatalf("unexpected first bucket: %+v", short[0])
	}
	if short[1].Platform != "reddit" || short[1].Count != 3 {
		t.Fatalf("unexpected second bucket: %+v", short[1])
	}
}

func TestAggregatorWindowSlides(t *testing.T) {
	a := New(testWindows())
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	a.SetClock(func() time.Time { return now })

	ingestN(a, "invoices", "reddit", 4, base)

	micro := a.Snapshot(models.ResolutionMicro)
	if len(micro) != 1 || micro[0].Count != 4 {
		t.Fatalf("expected count 4 inside the micro window, got %+v", micro)
	}

	// Two minutes later the events are out of the one-minute micro window.
	now = base.Add(2 * time.Minute)
	micro = a.Snapshot(models.ResolutionMicro)
	for _, b := range micro {
		if b.Count != 0 {
			t.Fatalf("expected micro window to have slid past the events, got %+v", b)
		}
	}

	// The 15-minute short window still holds them.
	short := a.Snapshot(models.ResolutionShort)
	if len(short) != 1 || short[0].Count != 4 {
		t.Fatalf("expected short window to retain count 4, got %+v", short)
	}
}

func TestAggregatorVelocity(t *testing.T) {
	a := New(testWindows())
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	a.SetClock(func() time.Time { return now })

	// 5 events in the prior micro window, 20 in the current one.
	ingestN(a, "invoices", "reddit", 5, base.Add(-90*time.Second))
	ingestN(a, "invoices", "reddit", 20, base.Add(-10*time.Second))

	micro := a.Snapshot(models.ResolutionMicro)
	if len(micro) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(micro))
	}
	if micro[0].Count != 20 {
		t.Fatalf("expected current count 20, got %d", micro[0].Count)
	}
	// Velocity is per minute over a one-minute window: 20 - 5 = 15.
	if micro[0].Velocity != 15 {
		t.Fatalf("expected velocity 15, got %f", micro[0].Velocity)
	}
}

func TestAggregatorEngagementWeight(t *testing.T) {
	a := New(testWindows())
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a.SetClock(func() time.Time { return base })

	a.Ingest(
		models.ContentEvent{
			ID: "e1", Platform: "reddit", Text: "t", CreatedAt: base,
			Engagement: models.Engagement{Upvotes: 2, Comments: 2},
		},
		models.ScoreResult{Keywords: []string{"invoices"}, OpportunityScore: 1},
	)

	short := a.Snapshot(models.ResolutionShort)
	if len(short) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(short))
	}
	// Weight = 1 + 0.5*2 + 1.5*2 = 5, scaled by full opportunity score.
	if short[0].EngagementSum != 5 {
		t.Fatalf("expected engagement sum 5, got %f", short[0].EngagementSum)
	}
}

func TestAggregatorSweep(t *testing.T) {
	a := New(testWindows())
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	a.SetClock(func() time.Time { return now })

	ingestN(a, "stale", "reddit", 1, base)
	if a.SeriesCount() != 1 {
		t.Fatalf("expected 1 series, got %d", a.SeriesCount())
	}

	now = base.Add(49 * time.Hour)
	if removed := a.Sweep(); removed != 1 {
		t.Fatalf("expected 1 series swept, got %d", removed)
	}
	if a.SeriesCount() != 0 {
		t.Fatalf("expected no series after sweep, got %d", a.SeriesCount())
	}
}

func TestSnapshotHelpers(t *testing.T) {
	a := New(testWindows())
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a.SetClock(func() time.Time { return base })

	ingestN(a, "invoices", "reddit", 3, base.Add(-time.Minute))
	ingestN(a, "invoices", "hackernews", 2, base.Add(-time.Minute))

	snap := a.SnapshotAll()
	totals := snap.KeyTotals(models.ResolutionShort)
	if totals["invoices"].Count != 5 {
		t.Fatalf("expected total 5 across platforms, got %d", totals["invoices"].Count)
	}
	counts := snap.PlatformCounts("invoices", models.ResolutionShort)
	if counts["reddit"] != 3 || counts["hackernews"] != 2 {
		t.Fatalf("unexpected platform counts: %v", counts)
	}
	if len(snap.Evidence["invoices"]) == 0 {
		t.Fatalf("expected evidence ids to be captured")
	}
}
