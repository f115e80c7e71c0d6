package detectors

import (
	"math"

	"github.com/Virrpe/saaspype-trends/internal/aggregate"
	"github.com/Virrpe/saaspype-trends/internal/config"
	"github.com/Virrpe/saaspype-trends/internal/models"
)

// CyclicalDetector retains per-hour-of-day and per-day-of-week historical
// totals for each key and flags recurring peaks by repeated-peak matching.
// This is a deliberate heuristic approximation, not spectral analysis: a
// key is cyclical when its current slot has been sampled on enough distinct
// periods and its historical average there clearly exceeds the key's
// overall average.
type CyclicalDetector struct {
	minPeriods int
	hourly     map[string]*slotHistory
	weekday    map[string]*slotHistory
}

// slotHistory accumulates counts in fixed time-of-cycle slots, tracking how
// many distinct periods contributed to each slot.
type slotHistory struct {
	totals  []float64
	samples []int
	lastDay []int // year-day that last contributed, one entry per slot
}

func newSlotHistory(slots int) *slotHistory {
	return &slotHistory{
		totals:  make([]float64, slots),
		samples: make([]int, slots),
		lastDay: make([]int, slots),
	}
}

func (h *slotHistory) record(slot, yearDay int, count float64) {
	h.totals[slot] += count
	if h.lastDay[slot] != yearDay {
		h.lastDay[slot] = yearDay
		h.samples[slot]++
	}
}

func (h *slotHistory) averages() (slotAvg []float64, overall float64) {
	slotAvg = make([]float64, len(h.totals))
	sum, n := 0.0, 0
	for i := range h.totals {
		if h.samples[i] > 0 {
			slotAvg[i] = h.totals[i] / float64(h.samples[i])
			sum += slotAvg[i]
			n++
		}
	}
	if n > 0 {
		overall = sum / float64(n)
	}
	return slotAvg, overall
}

// NewCyclicalDetector constructs the detector from configuration.
func NewCyclicalDetector(det config.DetectorsConfig) *CyclicalDetector {
	minPeriods := det.CyclicalMinPeriods
	if minPeriods <= 0 {
		minPeriods = 3
	}
	return &CyclicalDetector{
		minPeriods: minPeriods,
		hourly:     make(map[string]*slotHistory),
		weekday:    make(map[string]*slotHistory),
	}
}

// Name implements Detector.
func (d *CyclicalDetector) Name() string { return "cyclical" }

const peakRatio = 1.5

// Detect implements Detector.
func (d *CyclicalDetector) Detect(snap *aggregate.Snapshot) []models.Signal {
	totals := snap.KeyTotals(models.ResolutionShort)
	hour := snap.TakenAt.Hour()
	day := int(snap.TakenAt.Weekday())
	yearDay := snap.TakenAt.YearDay()

	var signals []models.Signal
	for key, bucket := range totals {
		if bucket.Count == 0 {
			continue
		}
		count := float64(bucket.Count)

		hh, ok := d.hourly[key]
		if !ok {
			hh = newSlotHistory(24)
			d.hourly[key] = hh
		}
		hh.record(hour, yearDay, count)

		wh, ok := d.weekday[key]
		if !ok {
			wh = newSlotHistory(7)
			d.weekday[key] = wh
		}
		// Week slots key on the year-day too; one contribution per day.
		wh.record(day, yearDay, count)

		if sig, ok := d.match(key, hh, hour, 24, bucket); ok {
			signals = append(signals, sig)
			continue
		}
		if sig, ok := d.match(key, wh, day, 24*7, bucket); ok {
			signals = append(signals, sig)
		}
	}
	return signals
}

// match tests one cycle slot for a recurring peak and builds the signal.
func (d *CyclicalDetector) match(key string, h *slotHistory, slot, periodHours int, bucket models.WindowBucket) (models.Signal, bool) {
	if h.samples[slot] < d.minPeriods {
		return models.Signal{}, false
	}
	slotAvg, overall := h.averages()
	if overall <= 0 || slotAvg[slot] < peakRatio*overall {
		return models.Signal{}, false
	}

	confidence := math.Min(1, (slotAvg[slot]/overall-1)/2)
	return models.Signal{
		Detector:   d.Name(),
		Key:        key,
		Resolution: models.ResolutionShort,
		Confidence: confidence,
		Velocity:   bucket.Velocity,
		Period:     float64(periodHours),
	}, true
}
