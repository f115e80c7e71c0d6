package rank

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Virrpe/saaspype-trends/internal/models"
)

// Evidence supplies the ranking inputs that live outside the candidate
// itself: platform distribution, engagement, and the oracle's category and
// score for a key.
type Evidence struct {
	PlatformCounts map[string]int
	EngagementSum  float64
	Category       string
	OracleScore    float64
}

// EvidenceLookup resolves ranking evidence for a key.
type EvidenceLookup func(key string) Evidence

// Weights tunes the composite score. The zero value is replaced by
// DefaultWeights.
type Weights struct {
	Confidence float64
	Velocity   float64
	Engagement float64
	Diversity  float64
	RecencyTau time.Duration
}

// DefaultWeights returns the standard scoring mix.
func DefaultWeights() Weights {
	return Weights{
		Confidence: 0.35,
		Velocity:   0.25,
		Engagement: 0.25,
		Diversity:  0.15,
		RecencyTau: 30 * time.Minute,
	}
}

// Ranker fuses lifecycle candidates and oracle evidence into an ordered
// opportunity list. Ranking never mutates candidates; its output is a fresh
// immutable snapshot each cycle.
type Ranker struct {
	weights Weights
	now     func() time.Time
}

// New constructs a Ranker.
func New(weights Weights) *Ranker {
	if weights.Confidence == 0 && weights.Velocity == 0 && weights.Engagement == 0 && weights.Diversity == 0 {
		weights = DefaultWeights()
	}
	if weights.RecencyTau <= 0 {
		weights.RecencyTau = 30 * time.Minute
	}
	return &Ranker{weights: weights, now: time.Now}
}

// SetClock overrides the time source; used by tests.
func (r *Ranker) SetClock(now func() time.Time) {
	r.now = now
}

// Rank produces the ordered opportunity snapshot for this cycle. Identical
// inputs always produce identical ordering: the composite sort falls back
// to platform diversity, then raw count, then key.
func (r *Ranker) Rank(candidates []models.TrendCandidate, lookup EvidenceLookup) []models.Opportunity {
	if lookup == nil {
		lookup = func(string) Evidence { return Evidence{} }
	}
	now := r.now()

	type scored struct {
		opp       models.Opportunity
		diversity int
		count     int
	}
	out := make([]scored, 0, len(candidates))

	for _, cand := range candidates {
		ev := lookup(cand.Key)

		diversity := len(ev.PlatformCounts)
		count := 0
		for _, c := range ev.PlatformCounts {
			count += c
		}

		recency := math.Exp(-now.Sub(cand.LastUpdated).Seconds() / r.weights.RecencyTau.Seconds())
		velocityScore := squash(cand.Velocity)
		engagementScore := squash(ev.EngagementSum/50) * clamp01(ev.OracleScore)
		diversityBonus := math.Min(1, float64(diversity)/4)

		composite := recency * (r.weights.Confidence*clamp01(cand.Confidence) +
			r.weights.Velocity*velocityScore +
			r.weights.Engagement*engagementScore +
			r.weights.Diversity*diversityBonus)

		out = append(out, scored{
			opp: models.Opportunity{
				TrendID:        cand.ID,
				Key:            cand.Key,
				Category:       ev.Category,
				CompositeScore: round4(composite),
				Confidence:     cand.Confidence,
				PlatformCounts: ev.PlatformCounts,
				Rationale:      rationale(cand, diversity),
				GeneratedAt:    now,
			},
			diversity: diversity,
			count:     count,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].opp.CompositeScore != out[j].opp.CompositeScore {
			return out[i].opp.CompositeScore > out[j].opp.CompositeScore
		}
		if out[i].diversity != out[j].diversity {
			return out[i].diversity > out[j].diversity
		}
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].opp.Key < out[j].opp.Key
	})

	opportunities := make([]models.Opportunity, len(out))
	for i, s := range out {
		opportunities[i] = s.opp
	}
	return opportunities
}

func rationale(cand models.TrendCandidate, diversity int) string {
	var parts []string
	switch cand.Direction {
	case models.DirectionRising:
		parts = append(parts, fmt.Sprintf("volume rising at %.1f/min", cand.Velocity))
	case models.DirectionFalling:
		parts = append(parts, "volume tapering")
	default:
		parts = append(parts, fmt.Sprintf("steady at %.1f/min", cand.Velocity))
	}
	if diversity > 1 {
		parts = append(parts, fmt.Sprintf("seen on %d platforms", diversity))
	}
	if cand.State == models.TrendDecaying {
		parts = append(parts, "signal decaying")
	}
	return strings.Join(parts, "; ")
}

// squash maps a non-negative magnitude into [0,1) with diminishing returns.
func squash(v float64) float64 {
	if v < 0 {
		v = 0
	}
	return v / (v + 1)
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

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
