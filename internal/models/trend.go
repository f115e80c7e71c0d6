package models

import "time"

// Resolution identifies one of the fixed temporal aggregation granularities.
type Resolution string

const (
	ResolutionMicro  Resolution = "micro"  // 1 minute
	ResolutionShort  Resolution = "short"  // 15 minutes
	ResolutionMedium Resolution = "medium" // 1 hour
	ResolutionLong   Resolution = "long"   // 24 hours
)

// Resolutions lists the granularities in ascending window order.
func Resolutions() []Resolution {
	return []Resolution{ResolutionMicro, ResolutionShort, ResolutionMedium, ResolutionLong}
}

// WindowBucket is one (key, platform) aggregate at a single resolution,
// captured as part of an immutable snapshot.
type WindowBucket struct {
	Key           string     `json:"key"`
	Platform      string     `json:"platform"`
	Resolution    Resolution `json:"resolution"`
	Count         int        `json:"count"`
	EngagementSum float64    `json:"engagement_sum"`
	FirstSeen     time.Time  `json:"first_seen"`
	LastSeen      time.Time  `json:"last_seen"`
	// Velocity is events per minute relative to the previous window;
	// Acceleration is the change in velocity between the two.
	Velocity     float64 `json:"velocity"`
	Acceleration float64 `json:"acceleration"`
}

// TrendState tracks a candidate through its lifecycle. Transitions are
// forward-only except the Active/Decaying oscillation; Expired is terminal.
type TrendState string

const (
	TrendDetected TrendState = "detected"
	TrendActive   TrendState = "active"
	TrendDecaying TrendState = "decaying"
	TrendExpired  TrendState = "expired"
)

// Direction indicates which way a candidate's volume is moving.
type Direction string

const (
	DirectionRising  Direction = "rising"
	DirectionFlat    Direction = "flat"
	DirectionFalling Direction = "falling"
)

// Signal is one detector's evidence contribution toward a trend candidate.
type Signal struct {
	Detector    string     `json:"detector"`
	Key         string     `json:"key"`
	Resolution  Resolution `json:"resolution"`
	Confidence  float64    `json:"confidence"`
	Velocity    float64    `json:"velocity"`
	Deviation   float64    `json:"deviation,omitempty"`
	Period      float64    `json:"period_hours,omitempty"`
	EvidenceIDs []string   `json:"evidence_ids,omitempty"`
}

// TrendCandidate is a tracked (key, resolution) pair suspected of
// representing an emerging pattern.
type TrendCandidate struct {
	ID             string     `json:"id"`
	Key            string     `json:"key"`
	Resolution     Resolution `json:"resolution"`
	State          TrendState `json:"state"`
	Velocity       float64    `json:"velocity"`
	Acceleration   float64    `json:"acceleration"`
	Direction      Direction  `json:"direction"`
	Confidence     float64    `json:"confidence"`
	SupportedTicks int        `json:"supported_ticks"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUpdated    time.Time  `json:"last_updated"`
	EvidenceIDs    []string   `json:"evidence_ids,omitempty"`
}

// Anomaly records a statistical deviation attached to a trend.
type Anomaly struct {
	TrendID    string    `json:"trend_id"`
	Key        string    `json:"key"`
	Deviation  float64   `json:"deviation"`
	Severity   Severity  `json:"severity"`
	DetectedAt time.Time `json:"detected_at"`
}

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityFromDeviation maps a z-score magnitude onto a severity band.
func SeverityFromDeviation(z float64) Severity {
	if z < 0 {
		z = -z
	}
	switch {
	case z >= 5:
		return SeverityCritical
	case z >= 4:
		return SeverityHigh
	case z >= 3:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Opportunity is a ranked, externally visible synthesis of a trend candidate.
// It is an immutable ranking-cycle snapshot and is never patched in place.
type Opportunity struct {
	TrendID        string         `json:"trend_id"`
	Key            string         `json:"key"`
	Category       string         `json:"category,omitempty"`
	CompositeScore float64        `json:"composite_score"`
	Confidence     float64        `json:"confidence"`
	PlatformCounts map[string]int `json:"platform_counts,omitempty"`
	Rationale      string         `json:"rationale,omitempty"`
	GeneratedAt    time.Time      `json:"generated_at"`
}
