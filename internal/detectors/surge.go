package detectors

import (
	"math"

	"github.com/Virrpe/saaspype-trends/internal/aggregate"
	"github.com/Virrpe/saaspype-trends/internal/config"
	"github.com/Virrpe/saaspype-trends/internal/models"
)

// VolumeSurgeDetector flags keys whose short-window event rate exceeds the
// medium-window baseline rate by a configurable multiplier. A minimum
// support floor suppresses noise on low-volume keys.
type VolumeSurgeDetector struct {
	multiplier float64
	minSupport int
	shortSpan  float64 // minutes
	mediumSpan float64 // minutes
}

// NewVolumeSurgeDetector constructs the detector from configuration.
func NewVolumeSurgeDetector(det config.DetectorsConfig, windows config.WindowsConfig) *VolumeSurgeDetector {
	multiplier := det.SurgeMultiplier
	if multiplier <= 1 {
		multiplier = 2.5
	}
	minSupport := det.SurgeMinSupport
	if minSupport <= 0 {
		minSupport = 5
	}
	return &VolumeSurgeDetector{
		multiplier: multiplier,
		minSupport: minSupport,
		shortSpan:  windows.Short.Minutes(),
		mediumSpan: windows.Medium.Minutes(),
	}
}

// Name implements Detector.
func (d *VolumeSurgeDetector) Name() string { return "volume_surge" }

// Detect implements Detector.
func (d *VolumeSurgeDetector) Detect(snap *aggregate.Snapshot) []models.Signal {
	short := snap.KeyTotals(models.ResolutionShort)
	medium := snap.KeyTotals(models.ResolutionMedium)

	var signals []models.Signal
	for key, bucket := range short {
		if bucket.Count < d.minSupport {
			continue
		}
		shortRate := float64(bucket.Count) / d.shortSpan

		// Baseline from the medium window with the short window excluded,
		// so the surge itself does not inflate its own baseline. A key with
		// no history surging past the support floor counts as an
		// infinite-ratio surge.
		baseline := 0.0
		if mb, ok := medium[key]; ok && d.mediumSpan > d.shortSpan {
			prior := mb.Count - bucket.Count
			if prior < 0 {
				prior = 0
			}
			baseline = float64(prior) / (d.mediumSpan - d.shortSpan)
		}

		ratio := math.Inf(1)
		if baseline > 0 {
			ratio = shortRate / baseline
		}
		if ratio <= d.multiplier {
			continue
		}

		confidence := 1.0
		if !math.IsInf(ratio, 1) {
			confidence = math.Min(1, (ratio-d.multiplier)/(2*d.multiplier)+0.5)
		}

		signals = append(signals, models.Signal{
			Detector:    d.Name(),
			Key:         key,
			Resolution:  models.ResolutionShort,
			Confidence:  confidence,
			Velocity:    bucket.Velocity,
			EvidenceIDs: snap.Evidence[key],
		})
	}
	return signals
}
