package rank

import (
	"reflect"
	"testing"
	"time"

	"github.com/Virrpe/saaspype-trends/internal/models"
)

func candidate(id, key string, confidence, velocity float64, updated time.Time) models.TrendCandidate {
	return models.TrendCandidate{
		ID:          id,
		Key:         key,
		Resolution:  models.ResolutionShort,
		State:       models.TrendActive,
		Confidence:  confidence,
		Velocity:    velocity,
		Direction:   models.DirectionRising,
		LastUpdated: updated,
	}
}

func TestRankOrdering(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r := New(DefaultWeights())
	r.SetClock(func() time.Time { return now })

	candidates := []models.TrendCandidate{
		candidate("t1", "weak", 0.2, 0.5, now),
		candidate("t2", "strong", 0.9, 5, now),
	}
	lookup := func(key string) Evidence {
		if key == "strong" {
			return Evidence{
				PlatformCounts: map[string]int{"reddit": 20, "hackernews": 10},
				EngagementSum:  120,
				Category:       "finance",
				OracleScore:    0.9,
			}
		}
		return Evidence{PlatformCounts: map[string]int{"reddit": 3}, OracleScore: 0.2}
	}

	opportunities := r.Rank(candidates, lookup)
	if len(opportunities) != 2 {
		t.Fatalf("expected 2 opportunities, got %d", len(opportunities))
	}
	if opportunities[0].Key != "strong" {
		t.Fatalf("expected strong candidate first, got %s", opportunities[0].Key)
	}
	if opportunities[0].CompositeScore <= opportunities[1].CompositeScore {
		t.Fatalf("expected strictly higher score first: %f vs %f",
			opportunities[0].CompositeScore, opportunities[1].CompositeScore)
	}
	if opportunities[0].Category != "finance" {
		t.Fatalf("expected oracle category carried, got %q", opportunities[0].Category)
	}
	if opportunities[0].Rationale == "" {
		t.Fatalf("expected a rationale")
	}
}

func TestRankDeterministic(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r := New(DefaultWeights())
	r.SetClock(func() time.Time { return now })

	// Identical scores force the tie-break chain down to the key.
	candidates := []models.TrendCandidate{
		candidate("t1", "bravo", 0.7, 2, now),
		candidate("t2", "alpha", 0.7, 2, now),
		candidate("t3", "charlie", 0.7, 2, now),
	}
	lookup := func(string) Evidence {
		return Evidence{PlatformCounts: map[string]int{"reddit": 5}, OracleScore: 0.5}
	}

	first := r.Rank(candidates, lookup)
	for i := 0; i < 5; i++ {
		again := r.Rank(candidates, lookup)
		if !reflect.DeepEqual(keysOf(first), keysOf(again)) {
			t.Fatalf("expected deterministic ordering, got %v then %v", keysOf(first), keysOf(again))
		}
	}
	if want := []string{"alpha", "bravo", "charlie"}; !reflect.DeepEqual(keysOf(first), want) {
		t.Fatalf("expected key-ascending tie-break %v, got %v", want, keysOf(first))
	}
}

func TestRankRecencyDecay(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r := New(DefaultWeights())
	r.SetClock(func() time.Time { return now })

	lookup := func(string) Evidence {
		return Evidence{PlatformCounts: map[string]int{"reddit": 5}, OracleScore: 0.5}
	}
	fresh := r.Rank([]models.TrendCandidate{candidate("t1", "k", 0.8, 2, now)}, lookup)
	stale := r.Rank([]models.TrendCandidate{candidate("t1", "k", 0.8, 2, now.Add(-2*time.Hour))}, lookup)

	if fresh[0].CompositeScore <= stale[0].CompositeScore {
		t.Fatalf("expected recency decay: fresh %f vs stale %f",
			fresh[0].CompositeScore, stale[0].CompositeScore)
	}
}

func TestRankDoesNotMutateCandidates(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r := New(DefaultWeights())
	r.SetClock(func() time.Time { return now })

	candidates := []models.TrendCandidate{candidate("t1", "k", 0.8, 2, now)}
	before := candidates[0]
	r.Rank(candidates, nil)
	if !reflect.DeepEqual(before, candidates[0]) {
		t.Fatalf("rank must not mutate its input")
	}
}

func keysOf(ops []models.Opportunity) []string {
	keys := make([]string, len(ops))
	for i, o := range ops {
		keys[i] = o.Key
	}
	return keys
}
