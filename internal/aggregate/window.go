package aggregate

import (
	"time"

	"github.com/Virrpe/saaspype-trends/internal/models"
	"github.com/Virrpe/saaspype-trends/internal/utils"
)

// resolutionSpec fixes the geometry of one sliding window: total span and
// the number of sub-slots it is divided into.
type resolutionSpec struct {
	name    models.Resolution
	window  time.Duration
	slots   int
	slotDur time.Duration
}

func newResolutionSpec(name models.Resolution, window time.Duration, slots int) resolutionSpec {
	if slots <= 0 {
		slots = 12
	}
	return resolutionSpec{
		name:    name,
		window:  window,
		slots:   slots,
		slotDur: window / time.Duration(slots),
	}
}

// slot is one fixed sub-interval of a sliding window. seq identifies the
// absolute interval the slot currently holds, so stale slots are recognised
// and reused in place instead of rebuilding the window.
type slot struct {
	seq        int64
	count      int
	engagement float64
}

// slidingWindow keeps two window-spans of sub-slots in a ring: the most
// recent span is the current window, the span before it the prior window
// used for velocity. Advancing past a slot boundary reuses the oldest slot,
// so sliding is O(1) amortized.
type slidingWindow struct {
	spec         resolutionSpec
	ring         []slot
	lastVelocity float64
	velocitySet  bool
}

func newSlidingWindow(spec resolutionSpec) *slidingWindow {
	return &slidingWindow{
		spec: spec,
		ring: make([]slot, 2*spec.slots),
	}
}

func (w *slidingWindow) seqOf(t time.Time) int64 {
	return t.UnixNano() / int64(w.spec.slotDur)
}

// add records one event contribution at the given instant.
func (w *slidingWindow) add(at time.Time, engagement float64) {
	seq := w.seqOf(at)
	s := &w.ring[int(seq%int64(len(w.ring)))]
	if s.seq != seq {
		s.seq = seq
		s.count = 0
		s.engagement = 0
	}
	s.count++
	s.engagement += engagement
}

// totals sums the current and prior window spans as of now.
func (w *slidingWindow) totals(now time.Time) (curCount int, curEngagement float64, priorCount int) {
	seqNow := w.seqOf(now)
	n := int64(w.spec.slots)
	for i := range w.ring {
		s := w.ring[i]
		if s.seq == 0 {
			continue
		}
		age := seqNow - s.seq
		switch {
		case age >= 0 && age < n:
			curCount += s.count
			curEngagement += s.engagement
		case age >= n && age < 2*n:
			priorCount += s.count
		}
	}
	return curCount, curEngagement, priorCount
}

// measure computes the per-minute velocity against the prior window and the
// change in velocity since the previous measurement. It mutates tracker
// state and must only be called from the aggregator's owning goroutine.
func (w *slidingWindow) measure(now time.Time) (count int, engagement, velocity, acceleration float64) {
	cur, eng, prior := w.totals(now)
	velocity = utils.PerMinute(cur-prior, w.spec.window)

	if w.velocitySet {
		acceleration = velocity - w.lastVelocity
	}
	w.lastVelocity = velocity
	w.velocitySet = true

	return cur, eng, velocity, acceleration
}
