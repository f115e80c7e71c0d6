package lifecycle

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Virrpe/saaspype-trends/internal/config"
	"github.com/Virrpe/saaspype-trends/internal/models"
)

func testConfig() config.LifecycleConfig {
	return config.LifecycleConfig{
		ActivationTicks:      2,
		ActivationConfidence: 0.5,
		DecayWindow:          48 * time.Hour,
		ExpiredGrace:         time.Hour,
		MaxEvidence:          5,
	}
}

func testManager(now *time.Time) *Manager {
	m := NewManager(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.SetClock(func() time.Time { return *now })
	return m
}

func signal(key string, confidence float64) models.Signal {
	return models.Signal{
		Detector:   "volume_surge",
		Key:        key,
		Resolution: models.ResolutionShort,
		Confidence: confidence,
		Velocity:   2,
	}
}

func TestActivationWithinTwoSupportedTicks(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m := testManager(&now)

	m.Apply([]models.Signal{signal("invoices", 0.8)})
	if counts := m.StateCounts(); counts[models.TrendDetected] != 1 {
		t.Fatalf("expected 1 detected candidate after first tick, got %v", counts)
	}
	if ranked := m.Ranked(); len(ranked) != 0 {
		t.Fatalf("detected candidates must not rank, got %d", len(ranked))
	}

	now = now.Add(30 * time.Second)
	m.Apply([]models.Signal{signal("invoices", 0.8)})
	ranked := m.Ranked()
	if len(ranked) != 1 || ranked[0].State != models.TrendActive {
		t.Fatalf("expected active candidate after second supported tick, got %+v", ranked)
	}
	if ranked[0].SupportedTicks != 2 {
		t.Fatalf("expected 2 supported ticks, got %d", ranked[0].SupportedTicks)
	}
}

func TestLowConfidenceDoesNotActivate(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m := testManager(&now)

	for i := 0; i < 4; i++ {
		m.Apply([]models.Signal{signal("invoices", 0.2)})
		now = now.Add(30 * time.Second)
	}
	if counts := m.StateCounts(); counts[models.TrendActive] != 0 {
		t.Fatalf("expected no activation below confidence floor, got %v", counts)
	}
}

func TestActiveDecayAndResume(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m := testManager(&now)

	m.Apply([]models.Signal{signal("invoices", 0.8)})
	now = now.Add(30 * time.Second)
	m.Apply([]models.Signal{signal("invoices", 0.8)})

	// Support drops out: Active -> Decaying, still ranked.
	now = now.Add(30 * time.Second)
	m.Apply(nil)
	ranked := m.Ranked()
	if len(ranked) != 1 || ranked[0].State != models.TrendDecaying {
		t.Fatalf("expected decaying candidate, got %+v", ranked)
	}

	// Support resumes: Decaying -> Active again.
	now = now.Add(30 * time.Second)
	m.Apply([]models.Signal{signal("invoices", 0.8)})
	ranked = m.Ranked()
	if len(ranked) != 1 || ranked[0].State != models.TrendActive {
		t.Fatalf("expected reactivated candidate, got %+v", ranked)
	}
}

func TestExpiryRemovesFromRanking(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m := testManager(&now)

	m.Apply([]models.Signal{signal("invoices", 0.8)})
	now = now.Add(30 * time.Second)
	m.Apply([]models.Signal{signal("invoices", 0.8)})

	now = now.Add(30 * time.Second)
	m.Apply(nil) // Active -> Decaying

	now = now.Add(49 * time.Hour) // past the decay window
	m.Apply(nil) // Decaying -> Expired
	if ranked := m.Ranked(); len(ranked) != 0 {
		t.Fatalf("expected expired trend to leave ranking, got %+v", ranked)
	}
	if counts := m.StateCounts(); counts[models.TrendExpired] != 1 {
		t.Fatalf("expected 1 expired candidate, got %v", counts)
	}

	// A fresh burst starts a new candidate instead of reviving the old one.
	now = now.Add(time.Minute)
	m.Apply([]models.Signal{signal("invoices", 0.8)})
	counts := m.StateCounts()
	if counts[models.TrendDetected] != 1 || counts[models.TrendExpired] != 0 {
		t.Fatalf("expected a new detected candidate replacing the expired one, got %v", counts)
	}
}

func TestMultiDetectorSignalsMerge(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m := testManager(&now)

	sigs := []models.Signal{
		{Detector: "volume_surge", Key: "invoices", Resolution: models.ResolutionShort, Confidence: 0.6, Velocity: 2, EvidenceIDs: []string{"e1"}},
		{Detector: "anomaly", Key: "invoices", Resolution: models.ResolutionShort, Confidence: 0.5, Velocity: 4, Deviation: 5.2, EvidenceIDs: []string{"e2"}},
	}
	m.Apply(sigs)

	if counts := m.StateCounts(); counts[models.TrendDetected] != 1 {
		t.Fatalf("expected signals to merge into one candidate, got %v", counts)
	}

	anomalies := m.Anomalies()
	if len(anomalies) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(anomalies))
	}
	if anomalies[0].Severity != models.SeverityCritical {
		t.Fatalf("expected critical severity for z=5.2, got %s", anomalies[0].Severity)
	}

	// Noisy-or: 1 - 0.4*0.5 = 0.8.
	now = now.Add(30 * time.Second)
	m.Apply(sigs)
	ranked := m.Ranked()
	if len(ranked) != 1 {
		t.Fatalf("expected 1 ranked candidate, got %d", len(ranked))
	}
	if got := ranked[0].Confidence; got < 0.79 || got > 0.81 {
		t.Fatalf("expected noisy-or confidence ~0.8, got %f", got)
	}
	if len(ranked[0].EvidenceIDs) != 2 {
		t.Fatalf("expected merged evidence, got %v", ranked[0].EvidenceIDs)
	}
}

func TestEvidenceCapped(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m := testManager(&now)

	for i := 0; i < 10; i++ {
		sig := signal("invoices", 0.8)
		sig.EvidenceIDs = []string{string(rune('a' + i))}
		m.Apply([]models.Signal{sig})
		now = now.Add(30 * time.Second)
	}
	ranked := m.Ranked()
	if len(ranked) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(ranked))
	}
	if len(ranked[0].EvidenceIDs) != 5 {
		t.Fatalf("expected evidence capped at 5, got %d", len(ranked[0].EvidenceIDs))
	}
}
