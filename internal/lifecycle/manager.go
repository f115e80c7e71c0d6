package lifecycle

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Virrpe/saaspype-trends/internal/config"
	"github.com/Virrpe/saaspype-trends/internal/models"
)

// Manager owns the state machine for every trend candidate, keyed by
// (key, resolution). All mutation happens inside the coordinator tick;
// there is no other writer, so no locking is needed here.
//
// Transitions are forward-only except the Active/Decaying oscillation:
//
//	Detected -> Active      after enough consecutive supported ticks
//	Active   -> Decaying    when support drops out
//	Decaying -> Active      when support resumes
//	Decaying -> Expired     after decayWindow without support (terminal)
type Manager struct {
	cfg        config.LifecycleConfig
	logger     *slog.Logger
	candidates map[candidateKey]*models.TrendCandidate
	anomalies  []models.Anomaly
	now        func() time.Time
}

type candidateKey struct {
	key        string
	resolution models.Resolution
}

// NewManager constructs a Manager with the supplied tuning.
func NewManager(cfg config.LifecycleConfig, logger *slog.Logger) *Manager {
	if cfg.ActivationTicks <= 0 {
		cfg.ActivationTicks = 2
	}
	if cfg.ActivationConfidence <= 0 {
		cfg.ActivationConfidence = 0.5
	}
	if cfg.MaxEvidence <= 0 {
		cfg.MaxEvidence = 20
	}
	if cfg.ExpiredGrace <= 0 {
		cfg.ExpiredGrace = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:        cfg,
		logger:     logger,
		candidates: make(map[candidateKey]*models.TrendCandidate),
		now:        time.Now,
	}
}

// SetClock overrides the time source; used by tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Apply merges one tick's detector signals into the candidate set and
// advances every candidate's lifecycle. Signals for the same (key,
// resolution) from different detectors merge into a single candidate using
// confidence-weighted combination rather than overwrite.
func (m *Manager) Apply(signals []models.Signal) {
	now := m.now()

	merged := make(map[candidateKey][]models.Signal)
	for _, sig := range signals {
		ck := candidateKey{key: sig.Key, resolution: sig.Resolution}
		merged[ck] = append(merged[ck], sig)
	}

	m.anomalies = m.anomalies[:0]

	for ck, sigs := range merged {
		confidence, velocity, deviation, evidence := combine(sigs)

		cand, ok := m.candidates[ck]
		if !ok {
			cand = &models.TrendCandidate{
				ID:         uuid.NewString(),
				Key:        ck.key,
				Resolution: ck.resolution,
				State:      models.TrendDetected,
				CreatedAt:  now,
			}
			m.candidates[ck] = cand
			m.logger.Debug("trend candidate created",
				slog.String("key", ck.key), slog.String("resolution", string(ck.resolution)))
		}
		if cand.State == models.TrendExpired {
			// Expired is terminal; a fresh burst starts a new candidate.
			cand = &models.TrendCandidate{
				ID:         uuid.NewString(),
				Key:        ck.key,
				Resolution: ck.resolution,
				State:      models.TrendDetected,
				CreatedAt:  now,
			}
			m.candidates[ck] = cand
		}

		prevVelocity := cand.Velocity
		cand.Velocity = velocity
		cand.Acceleration = velocity - prevVelocity
		cand.Direction = direction(cand.Acceleration, velocity)
		cand.Confidence = confidence
		cand.SupportedTicks++
		cand.LastUpdated = now
		cand.EvidenceIDs = appendCapped(cand.EvidenceIDs, evidence, m.cfg.MaxEvidence)

		switch cand.State {
		case models.TrendDetected:
			if cand.SupportedTicks >= m.cfg.ActivationTicks && confidence >= m.cfg.ActivationConfidence {
				cand.State = models.TrendActive
				m.logger.Info("trend activated",
					slog.String("key", cand.Key),
					slog.String("resolution", string(cand.Resolution)),
					slog.Float64("confidence", confidence))
			}
		case models.TrendDecaying:
			cand.State = models.TrendActive
		}

		if deviation != 0 {
			m.anomalies = append(m.anomalies, models.Anomaly{
				TrendID:    cand.ID,
				Key:        cand.Key,
				Deviation:  deviation,
				Severity:   models.SeverityFromDeviation(deviation),
				DetectedAt: now,
			})
		}
	}

	// Candidates without support this tick decay and eventually expire.
	for ck, cand := range m.candidates {
		if _, supported := merged[ck]; supported {
			continue
		}
		cand.SupportedTicks = 0
		switch cand.State {
		case models.TrendDetected:
			// Never activated; silence past the decay window removes it
			// outright.
			if now.Sub(cand.LastUpdated) > m.cfg.DecayWindow {
				delete(m.candidates, ck)
			}
		case models.TrendActive:
			cand.State = models.TrendDecaying
		case models.TrendDecaying:
			if now.Sub(cand.LastUpdated) > m.cfg.DecayWindow {
				cand.State = models.TrendExpired
				m.logger.Info("trend expired", slog.String("key", cand.Key))
			}
		case models.TrendExpired:
			if now.Sub(cand.LastUpdated) > m.cfg.DecayWindow+m.cfg.ExpiredGrace {
				delete(m.candidates, ck)
			}
		}
	}
}

// Ranked returns the candidates eligible for ranking: Active and Decaying.
func (m *Manager) Ranked() []models.TrendCandidate {
	out := make([]models.TrendCandidate, 0, len(m.candidates))
	for _, cand := range m.candidates {
		if cand.State == models.TrendActive || cand.State == models.TrendDecaying {
			out = append(out, *cand)
		}
	}
	return out
}

// Anomalies returns the anomalies flagged during the most recent Apply.
func (m *Manager) Anomalies() []models.Anomaly {
	return append([]models.Anomaly(nil), m.anomalies...)
}

// StateCounts reports the candidate population per lifecycle state.
func (m *Manager) StateCounts() map[models.TrendState]int {
	counts := make(map[models.TrendState]int, 4)
	for _, cand := range m.candidates {
		counts[cand.State]++
	}
	return counts
}

// combine fuses same-key signals: confidence is combined by noisy-or so
// multiple agreeing detectors raise it without exceeding one, velocity takes
// the confidence-weighted mean, and the strongest deviation wins.
func combine(sigs []models.Signal) (confidence, velocity, deviation float64, evidence []string) {
	remainder := 1.0
	weightSum := 0.0
	for _, s := range sigs {
		c := clamp01(s.Confidence)
		remainder *= 1 - c
		velocity += s.Velocity * c
		weightSum += c
		if abs(s.Deviation) > abs(deviation) {
			deviation = s.Deviation
		}
		evidence = append(evidence, s.EvidenceIDs...)
	}
	if weightSum > 0 {
		velocity /= weightSum
	}
	return 1 - remainder, velocity, deviation, evidence
}

func appendCapped(existing, incoming []string, limit int) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		seen[id] = struct{}{}
	}
	for _, id := range incoming {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		existing = append(existing, id)
		seen[id] = struct{}{}
	}
	if len(existing) > limit {
		existing = existing[len(existing)-limit:]
	}
	return existing
}

func direction(acceleration, velocity float64) models.Direction {
	switch {
	case acceleration > 0.01 || (velocity > 0 && acceleration >= 0):
		return models.DirectionRising
	case acceleration < -0.01 || velocity < 0:
		return models.DirectionFalling
	default:
		return models.DirectionFlat
	}
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

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
