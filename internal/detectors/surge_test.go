package detectors

import (
	"testing"
	"time"

	"github.com/Virrpe/saaspype-trends/internal/aggregate"
	"github.com/Virrpe/saaspype-trends/internal/config"
	"github.com/Virrpe/saaspype-trends/internal/models"
)

func testDetectorsConfig() config.DetectorsConfig {
	return config.DetectorsConfig{
		SurgeMultiplier:    2.5,
		SurgeMinSupport:    5,
		AnomalyZThreshold:  2.0,
		AnomalyHistory:     12,
		CyclicalMinPeriods: 3,
	}
}

func testWindowsConfig() config.WindowsConfig {
	return config.WindowsConfig{
		Micro:  time.Minute,
		Short:  15 * time.Minute,
		Medium: time.Hour,
		Long:   24 * time.Hour,
	}
}

// surgeSnapshot builds a snapshot where the key saw shortCount events in the
// short window and mediumCount in the medium window (short included).
func surgeSnapshot(key string, shortCount, mediumCount int) *aggregate.Snapshot {
	return &aggregate.Snapshot{
		TakenAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Buckets: map[models.Resolution][]models.WindowBucket{
			models.ResolutionShort: {
				{Key: key, Platform: "reddit", Resolution: models.ResolutionShort, Count: shortCount},
			},
			models.ResolutionMedium: {
				{Key: key, Platform: "reddit", Resolution: models.ResolutionMedium, Count: mediumCount},
			},
		},
		Evidence: map[string][]string{key: {"e1", "e2"}},
	}
}

func TestSurgeDetectorFlagsTripleRate(t *testing.T) {
	d := NewVolumeSurgeDetector(testDetectorsConfig(), testWindowsConfig())

	// Baseline of 10 per 15 minutes, current short window at 30: a 3x rate.
	snap := surgeSnapshot("invoices", 30, 60)
	signals := d.Detect(snap)
	if len(signals) != 1 {
		t.Fatalf("expected 1 surge signal, got %d", len(signals))
	}
	sig := signals[0]
	if sig.Key != "invoices" || sig.Detector != "volume_surge" {
		t.Fatalf("unexpected signal: %+v", sig)
	}
	if sig.Confidence <= 0 || sig.Confidence > 1 {
		t.Fatalf("confidence out of range: %f", sig.Confidence)
	}
	if len(sig.EvidenceIDs) != 2 {
		t.Fatalf("expected evidence ids to be carried, got %v", sig.EvidenceIDs)
	}
}

func TestSurgeDetectorIgnoresMildIncrease(t *testing.T) {
	d := NewVolumeSurgeDetector(testDetectorsConfig(), testWindowsConfig())

	// Baseline of 10 per 15 minutes, current at 12: only a 1.2x rate.
	snap := surgeSnapshot("invoices", 12, 42)
	if signals := d.Detect(snap); len(signals) != 0 {
		t.Fatalf("expected no surge for a 1.2x increase, got %+v", signals)
	}
}

func TestSurgeDetectorMinSupport(t *testing.T) {
	d := NewVolumeSurgeDetector(testDetectorsConfig(), testWindowsConfig())

	// Huge relative jump but below the support floor.
	snap := surgeSnapshot("invoices", 4, 4)
	if signals := d.Detect(snap); len(signals) != 0 {
		t.Fatalf("expected no surge below min support, got %+v", signals)
	}
}

func TestSurgeDetectorNoHistory(t *testing.T) {
	d := NewVolumeSurgeDetector(testDetectorsConfig(), testWindowsConfig())

	// A brand new key past the support floor has no baseline at all.
	snap := surgeSnapshot("invoices", 6, 6)
	signals := d.Detect(snap)
	if len(signals) != 1 {
		t.Fatalf("expected surge for new key, got %d signals", len(signals))
	}
	if signals[0].Confidence != 1 {
		t.Fatalf("expected full confidence for no-baseline surge, got %f", signals[0].Confidence)
	}
}
