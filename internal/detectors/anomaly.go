package detectors

import (
	"math"

	"github.com/Virrpe/saaspype-trends/internal/aggregate"
	"github.com/Virrpe/saaspype-trends/internal/config"
	"github.com/Virrpe/saaspype-trends/internal/models"
)

// AnomalyDetector computes a z-score of the current short-window count per
// key against the rolling mean and stddev of the last K observations, and
// flags keys whose |z| clears the configured threshold. Severity grows with
// the magnitude of the deviation.
type AnomalyDetector struct {
	threshold float64
	history   int
	counts    map[string]*countRing
}

type countRing struct {
	values []float64
	next   int
	filled bool
}

func (r *countRing) push(v float64) {
	if len(r.values) < cap(r.values) {
		r.values = append(r.values, v)
		return
	}
	r.values[r.next] = v
	r.next = (r.next + 1) % cap(r.values)
	r.filled = true
}

func (r *countRing) stats() (mean, std float64, n int) {
	n = len(r.values)
	if n == 0 {
		return 0, 0, 0
	}
	for _, v := range r.values {
		mean += v
	}
	mean /= float64(n)
	variance := 0.0
	for _, v := range r.values {
		variance += math.Pow(v-mean, 2)
	}
	variance /= float64(n)
	return mean, math.Sqrt(variance), n
}

// NewAnomalyDetector constructs the detector from configuration.
func NewAnomalyDetector(det config.DetectorsConfig) *AnomalyDetector {
	threshold := det.AnomalyZThreshold
	if threshold <= 0 {
		threshold = 2.0
	}
	history := det.AnomalyHistory
	if history <= 0 {
		history = 12
	}
	return &AnomalyDetector{
		threshold: threshold,
		history:   history,
		counts:    make(map[string]*countRing),
	}
}

// Name implements Detector.
func (d *AnomalyDetector) Name() string { return "anomaly" }

// Detect implements Detector. The per-key history is private to this
// detector and appended after the comparison, so the current observation
// never dilutes its own baseline.
func (d *AnomalyDetector) Detect(snap *aggregate.Snapshot) []models.Signal {
	totals := snap.KeyTotals(models.ResolutionShort)

	var signals []models.Signal
	for key, bucket := range totals {
		ring, ok := d.counts[key]
		if !ok {
			ring = &countRing{values: make([]float64, 0, d.history)}
			d.counts[key] = ring
		}

		current := float64(bucket.Count)
		mean, std, n := ring.stats()
		ring.push(current)

		// Too little history to call anything anomalous.
		if n < 3 {
			continue
		}
		if std == 0 {
			std = 0.01
		}

		z := (current - mean) / std
		if math.Abs(z) < d.threshold {
			continue
		}

		confidence := math.Min(1, math.Abs(z)/(2*d.threshold))
		signals = append(signals, models.Signal{
			Detector:   d.Name(),
			Key:        key,
			Resolution: models.ResolutionShort,
			Confidence: confidence,
			Velocity:   bucket.Velocity,
			Deviation:  z,
		})
	}

	// Keys absent from the snapshot fell to zero; record that too so a
	// silent key does not freeze its baseline. Rings that flatline are
	// dropped to bound memory.
	for key, ring := range d.counts {
		if _, ok := totals[key]; !ok {
			ring.push(0)
			if flatlined(ring) {
				delete(d.counts, key)
			}
		}
	}
	return signals
}

func flatlined(r *countRing) bool {
	if len(r.values) < cap(r.values) {
		return false
	}
	for _, v := range r.values {
		if v != 0 {
			return false
		}
	}
	return true
}
