package aggregate

import (
	"sort"
	"time"

	"github.com/Virrpe/saaspype-trends/internal/config"
	"github.com/Virrpe/saaspype-trends/internal/models"
)

// Aggregator maintains sliding-window counters for every (key, platform)
// pair at four resolutions. It follows a single-writer discipline: Ingest,
// Snapshot, and Sweep are only called from the coordinator tick, while the
// snapshots they produce are immutable copies safe for concurrent reads.
type Aggregator struct {
	specs    []resolutionSpec
	series   map[seriesKey]*series
	evidence map[string]*evidenceRing
	now      func() time.Time
}

type seriesKey struct {
	key      string
	platform string
}

type series struct {
	windows   []*slidingWindow
	firstSeen time.Time
	lastSeen  time.Time
}

// evidenceRing keeps a capped list of recent supporting event ids per key.
type evidenceRing struct {
	ids  []string
	next int
}

const evidenceCap = 10

// New creates an Aggregator with the configured window durations. Slot
// counts follow the documented split: micro 12x5s, short 15x1m, medium
// 12x5min, long 24x1h (scaled proportionally for non-default durations).
func New(w config.WindowsConfig) *Aggregator {
	return &Aggregator{
		specs: []resolutionSpec{
			newResolutionSpec(models.ResolutionMicro, w.Micro, 12),
			newResolutionSpec(models.ResolutionShort, w.Short, 15),
			newResolutionSpec(models.ResolutionMedium, w.Medium, 12),
			newResolutionSpec(models.ResolutionLong, w.Long, 24),
		},
		series:   make(map[seriesKey]*series),
		evidence: make(map[string]*evidenceRing),
		now:      time.Now,
	}
}

// SetClock overrides the time source; used by tests.
func (a *Aggregator) SetClock(now func() time.Time) {
	a.now = now
}

// Ingest folds one admitted, scored event into every extracted key across
// all four resolutions in a single pass.
func (a *Aggregator) Ingest(event models.ContentEvent, score models.ScoreResult) {
	at := event.CreatedAt
	if at.IsZero() {
		at = a.now()
	}
	weight := event.Engagement.Weight() * (0.5 + 0.5*score.OpportunityScore)

	for _, key := range score.Keywords {
		if key == "" {
			continue
		}
		sk := seriesKey{key: key, platform: event.Platform}
		s, ok := a.series[sk]
		if !ok {
			s = &series{windows: make([]*slidingWindow, len(a.specs)), firstSeen: at}
			for i, spec := range a.specs {
				s.windows[i] = newSlidingWindow(spec)
			}
			a.series[sk] = s
		}
		if at.After(s.lastSeen) {
			s.lastSeen = at
		}
		for _, w := range s.windows {
			w.add(at, weight)
		}

		ring, ok := a.evidence[key]
		if !ok {
			ring = &evidenceRing{}
			a.evidence[key] = ring
		}
		if len(ring.ids) < evidenceCap {
			ring.ids = append(ring.ids, event.ID)
		} else {
			ring.ids[ring.next] = event.ID
			ring.next = (ring.next + 1) % evidenceCap
		}
	}
}

// Snapshot captures the current state of one resolution as an immutable
// bucket list, ordered by key then platform for deterministic iteration.
func (a *Aggregator) Snapshot(resolution models.Resolution) []models.WindowBucket {
	idx := a.specIndex(resolution)
	if idx < 0 {
		return nil
	}
	now := a.now()

	buckets := make([]models.WindowBucket, 0, len(a.series))
	for sk, s := range a.series {
		count, engagement, velocity, acceleration := s.windows[idx].measure(now)
		if count == 0 && velocity == 0 {
			continue
		}
		buckets = append(buckets, models.WindowBucket{
			Key:           sk.key,
			Platform:      sk.platform,
			Resolution:    resolution,
			Count:         count,
			EngagementSum: engagement,
			FirstSeen:     s.firstSeen,
			LastSeen:      s.lastSeen,
			Velocity:      velocity,
			Acceleration:  acceleration,
		})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Key != buckets[j].Key {
			return buckets[i].Key < buckets[j].Key
		}
		return buckets[i].Platform < buckets[j].Platform
	})
	return buckets
}

// SnapshotAll captures every resolution at once for a single tick.
func (a *Aggregator) SnapshotAll() *Snapshot {
	snap := &Snapshot{
		TakenAt:  a.now(),
		Buckets:  make(map[models.Resolution][]models.WindowBucket, len(a.specs)),
		Evidence: make(map[string][]string, len(a.evidence)),
	}
	for _, spec := range a.specs {
		snap.Buckets[spec.name] = a.Snapshot(spec.name)
	}
	for key, ring := range a.evidence {
		snap.Evidence[key] = append([]string(nil), ring.ids...)
	}
	return snap
}

// Sweep drops series idle for longer than the long window, bounding memory.
func (a *Aggregator) Sweep() int {
	long := a.specs[len(a.specs)-1]
	cutoff := a.now().Add(-2 * long.window)
	removed := 0
	live := make(map[string]bool)
	for sk, s := range a.series {
		if s.lastSeen.Before(cutoff) {
			delete(a.series, sk)
			removed++
			continue
		}
		live[sk.key] = true
	}
	for key := range a.evidence {
		if !live[key] {
			delete(a.evidence, key)
		}
	}
	return removed
}

// SeriesCount reports how many (key, platform) pairs are tracked.
func (a *Aggregator) SeriesCount() int {
	return len(a.series)
}

// LiveKeys reports the distinct keys still tracked by any series.
func (a *Aggregator) LiveKeys() map[string]bool {
	keys := make(map[string]bool, len(a.series))
	for sk := range a.series {
		keys[sk.key] = true
	}
	return keys
}

func (a *Aggregator) specIndex(resolution models.Resolution) int {
	for i, spec := range a.specs {
		if spec.name == resolution {
			return i
		}
	}
	return -1
}

// Snapshot is the read-only view handed to the detectors each tick. The
// coordinator builds it once and never mutates it afterwards, so concurrent
// detector reads need no locking.
type Snapshot struct {
	TakenAt  time.Time
	Buckets  map[models.Resolution][]models.WindowBucket
	Evidence map[string][]string
}

// KeyTotals sums counts per key across platforms for one resolution.
func (s *Snapshot) KeyTotals(resolution models.Resolution) map[string]models.WindowBucket {
	totals := make(map[string]models.WindowBucket)
	for _, b := range s.Buckets[resolution] {
		agg, ok := totals[b.Key]
		if !ok {
			agg = models.WindowBucket{Key: b.Key, Resolution: resolution, FirstSeen: b.FirstSeen, LastSeen: b.LastSeen}
		}
		agg.Count += b.Count
		agg.EngagementSum += b.EngagementSum
		agg.Velocity += b.Velocity
		agg.Acceleration += b.Acceleration
		if b.FirstSeen.Before(agg.FirstSeen) {
			agg.FirstSeen = b.FirstSeen
		}
		if b.LastSeen.After(agg.LastSeen) {
			agg.LastSeen = b.LastSeen
		}
		totals[b.Key] = agg
	}
	return totals
}

// PlatformCounts reports the per-platform distribution for one key at the
// given resolution.
func (s *Snapshot) PlatformCounts(key string, resolution models.Resolution) map[string]int {
	counts := make(map[string]int)
	for _, b := range s.Buckets[resolution] {
		if b.Key == key && b.Count > 0 {
			counts[b.Platform] += b.Count
		}
	}
	return counts
}
