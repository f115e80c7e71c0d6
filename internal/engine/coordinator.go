package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Virrpe/saaspype-trends/internal/aggregate"
	"github.com/Virrpe/saaspype-trends/internal/broadcast"
	"github.com/Virrpe/saaspype-trends/internal/config"
	"github.com/Virrpe/saaspype-trends/internal/detectors"
	"github.com/Virrpe/saaspype-trends/internal/ingest"
	"github.com/Virrpe/saaspype-trends/internal/lifecycle"
	"github.com/Virrpe/saaspype-trends/internal/metrics"
	"github.com/Virrpe/saaspype-trends/internal/models"
	"github.com/Virrpe/saaspype-trends/internal/rank"
	"github.com/Virrpe/saaspype-trends/internal/scoring"
	"github.com/Virrpe/saaspype-trends/internal/source"
	"github.com/Virrpe/saaspype-trends/internal/utils"
)

// State names the coordinator's lifecycle position.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// Coordinator owns the full tick pipeline: drain intake, dedup, score,
// aggregate, run detectors, advance candidate lifecycle, rank, broadcast.
// All pipeline stages run on the tick goroutine; only the intake queue,
// the published results, and the state flag are shared with other
// goroutines.
type Coordinator struct {
	cfg    *config.Config
	logger *slog.Logger

	intake     *ingest.Intake
	dedup      *ingest.Deduplicator
	oracle     scoring.Oracle
	fallback   scoring.Oracle
	aggregator *aggregate.Aggregator
	detectors  []detectors.Detector
	lifecycle  *lifecycle.Manager
	ranker     *rank.Ranker
	hub        *broadcast.Hub
	sources    []source.ContentEventSource

	rate    *utils.RateTracker
	latency *utils.LatencyTracker
	now     func() time.Time

	mu             sync.RWMutex
	state          State
	startedAt      time.Time
	tick           uint64
	interval       time.Duration
	opportunities  []models.Opportunity
	anomalies      []models.Anomaly
	lastSnapshot   *aggregate.Snapshot
	seriesTracked  int
	oracleStreak   int
	oracleDegraded bool
	keyEvidence    map[string]keyScore
	droppedDup     uint64
	oracleErrors   uint64
	detectorErrors uint64

	pauseCh  chan struct{}
	resumeCh chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

type keyScore struct {
	category string
	score    float64
}

// Deps bundles the pipeline components a Coordinator orchestrates. Nil
// optional fields fall back to defaults built from cfg.
type Deps struct {
	Intake     *ingest.Intake
	Dedup      *ingest.Deduplicator
	Oracle     scoring.Oracle
	Aggregator *aggregate.Aggregator
	Detectors  []detectors.Detector
	Lifecycle  *lifecycle.Manager
	Ranker     *rank.Ranker
	Hub        *broadcast.Hub
	Sources    []source.ContentEventSource
}

// NewCoordinator wires the pipeline together.
func NewCoordinator(cfg *config.Config, deps Deps, logger *slog.Logger) (*Coordinator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("coordinator: config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Intake == nil {
		deps.Intake = ingest.NewIntake(cfg.Ingest.QueueCapacity)
	}
	if deps.Dedup == nil {
		deps.Dedup = ingest.NewDeduplicator(nil, cfg.Ingest.DedupTTL, cfg.Ingest.SimilarityThreshold, cfg.Ingest.RecentTexts, logger)
	}
	fallback, err := scoring.NewRuleOracle("", logger)
	if err != nil {
		return nil, fmt.Errorf("coordinator: build fallback oracle: %w", err)
	}
	if deps.Oracle == nil {
		deps.Oracle = fallback
	}
	if deps.Aggregator == nil {
		deps.Aggregator = aggregate.New(cfg.Windows)
	}
	if len(deps.Detectors) == 0 {
		deps.Detectors = []detectors.Detector{
			detectors.NewVolumeSurgeDetector(cfg.Detectors, cfg.Windows),
			detectors.NewAnomalyDetector(cfg.Detectors),
			detectors.NewCyclicalDetector(cfg.Detectors),
		}
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = lifecycle.NewManager(cfg.Lifecycle, logger)
	}
	if deps.Ranker == nil {
		deps.Ranker = rank.New(rank.DefaultWeights())
	}
	if deps.Hub == nil {
		deps.Hub = broadcast.NewHub(cfg.Broadcast, logger)
	}

	return &Coordinator{
		cfg:         cfg,
		logger:      logger,
		intake:      deps.Intake,
		dedup:       deps.Dedup,
		oracle:      deps.Oracle,
		fallback:    fallback,
		aggregator:  deps.Aggregator,
		detectors:   deps.Detectors,
		lifecycle:   deps.Lifecycle,
		ranker:      deps.Ranker,
		hub:         deps.Hub,
		sources:     deps.Sources,
		rate:        utils.NewRateTracker(5 * time.Minute),
		latency:     utils.NewLatencyTracker(256),
		now:         time.Now,
		state:       StateIdle,
		interval:    cfg.Scheduler.MinInterval,
		keyEvidence: make(map[string]keyScore),
		pauseCh:     make(chan struct{}, 1),
		resumeCh:    make(chan struct{}, 1),
		stopped:     make(chan struct{}),
	}, nil
}

// SetClock overrides the time source; used by tests. It propagates to the
// aggregator, lifecycle manager, and ranker so the whole pipeline shares
// one notion of now.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
	c.aggregator.SetClock(now)
	c.lifecycle.SetClock(now)
	c.ranker.SetClock(now)
}

// Offer enqueues an event for the next tick. It never blocks; the intake
// queue displaces its oldest entry on overflow.
func (c *Coordinator) Offer(event models.ContentEvent) bool {
	return c.intake.Offer(event)
}

// Hub exposes the broadcaster for the WebSocket handler.
func (c *Coordinator) Hub() *broadcast.Hub { return c.hub }

// State reports the coordinator's current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Pause suspends tick processing. Events keep queueing in the intake.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	c.state = StatePaused
	c.mu.Unlock()
	select {
	case c.pauseCh <- struct{}{}:
	default:
	}
	c.logger.Info("pipeline paused")
}

// Resume restarts tick processing after a pause.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	if c.state != StatePaused {
		c.mu.Unlock()
		return
	}
	c.state = StateRunning
	c.mu.Unlock()
	select {
	case c.resumeCh <- struct{}{}:
	default:
	}
	c.logger.Info("pipeline resumed")
}

// Run drives the tick loop until ctx is cancelled. It owns the adaptive
// interval: each tick nudges it up to 20% toward the configured bounds
// depending on recent ingestion rate versus target.
func (c *Coordinator) Run(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return
	}
	c.state = StateRunning
	c.startedAt = c.now()
	c.mu.Unlock()

	for _, src := range c.sources {
		go c.poll(ctx, src)
	}

	c.logger.Info("pipeline started",
		slog.Duration("min_interval", c.cfg.Scheduler.MinInterval),
		slog.Duration("max_interval", c.cfg.Scheduler.MaxInterval),
		slog.Int("detectors", len(c.detectors)),
		slog.Int("sources", len(c.sources)))

	timer := time.NewTimer(c.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case <-c.pauseCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			select {
			case <-c.resumeCh:
				timer.Reset(c.currentInterval())
			case <-ctx.Done():
				c.shutdown()
				return
			}
		case <-timer.C:
			c.RunTick(ctx)
			timer.Reset(c.currentInterval())
		}
	}
}

// RunTick executes one full pipeline pass. Exported so tests and the pause
// path can drive ticks directly.
func (c *Coordinator) RunTick(ctx context.Context) {
	started := c.now()
	tickCtx, cancel := context.WithTimeout(ctx, c.cfg.Scheduler.MaxInterval)
	defer cancel()

	batch := c.intake.Drain(c.cfg.Ingest.DrainBatch)
	admitted := 0
	probed := false
	for _, event := range batch {
		if !c.dedup.Admit(tickCtx, event) {
			metrics.EventDropped(metrics.DropDuplicate)
			c.mu.Lock()
			c.droppedDup++
			c.mu.Unlock()
			continue
		}
		score := c.scoreEvent(tickCtx, event, !probed)
		probed = true
		c.aggregator.Ingest(event, score)
		c.recordEvidence(score)
		metrics.EventIngested(event.Platform)
		admitted++
	}
	c.rate.Record(started, admitted)

	snap := c.aggregator.SnapshotAll()
	results := detectors.RunAll(tickCtx, c.logger, snap, c.detectors)
	signals := make([]models.Signal, 0, len(results))
	for _, res := range results {
		if res.Err != nil {
			metrics.DetectorError(res.Detector)
			c.mu.Lock()
			c.detectorErrors++
			c.mu.Unlock()
			continue
		}
		signals = append(signals, res.Signals...)
	}

	c.lifecycle.Apply(signals)
	for state, n := range c.lifecycle.StateCounts() {
		metrics.SetTrendCandidates(string(state), n)
	}

	ranked := c.ranker.Rank(c.lifecycle.Ranked(), c.evidenceLookup(snap))

	c.mu.Lock()
	c.tick++
	tick := c.tick
	c.mu.Unlock()

	if tick%60 == 0 {
		c.sweep()
	}

	// The pipeline components themselves are only touched from the tick
	// goroutine; everything the HTTP handlers read is copied out here.
	c.mu.Lock()
	c.opportunities = ranked
	c.lastSnapshot = snap
	c.anomalies = c.lifecycle.Anomalies()
	c.seriesTracked = c.aggregator.SeriesCount()
	c.mu.Unlock()

	c.hub.Publish(tick, ranked)

	next := c.adaptInterval(started)
	elapsed := c.now().Sub(started)
	c.latency.Observe(elapsed)
	metrics.ObserveTick(elapsed, next)

	c.logger.Debug("tick complete",
		slog.Uint64("tick", tick),
		slog.Int("drained", len(batch)),
		slog.Int("admitted", admitted),
		slog.Int("signals", len(signals)),
		slog.Int("ranked", len(ranked)),
		slog.Duration("elapsed", elapsed),
		slog.Duration("next_interval", next))
}

// scoreEvent asks the oracle for a score, falling back to the local rule
// oracle on failure. Consecutive failures past the configured limit mark the
// oracle degraded; while degraded only the first event of each tick probes
// it and the rest of the batch is scored locally until a probe succeeds.
// A failed event is never excluded or re-queued for a later tick: it still
// aggregates in the tick that drained it, carrying the fallback score.
func (c *Coordinator) scoreEvent(ctx context.Context, event models.ContentEvent, allowProbe bool) models.ScoreResult {
	c.mu.Lock()
	degraded := c.oracleDegraded
	c.mu.Unlock()

	if c.oracle == c.fallback || (degraded && !allowProbe) {
		if degraded {
			metrics.EventDropped(metrics.DropOracle)
		}
		score, _ := c.fallback.Score(ctx, event)
		return score
	}

	score, err := c.oracle.Score(ctx, event)
	if err == nil {
		c.mu.Lock()
		c.oracleStreak = 0
		if c.oracleDegraded {
			c.oracleDegraded = false
			c.logger.Info("scoring oracle recovered")
		}
		c.mu.Unlock()
		return score
	}

	metrics.OracleFailure(event.Platform)
	metrics.EventDropped(metrics.DropOracle)
	c.mu.Lock()
	c.oracleErrors++
	if !degraded {
		c.oracleStreak++
		if c.oracleStreak >= c.cfg.Scheduler.OracleFailureLimit {
			c.oracleDegraded = true
			c.logger.Warn("scoring oracle degraded, using rule fallback",
				slog.Int("consecutive_failures", c.oracleStreak),
				slog.Any("error", err))
		}
	}
	c.mu.Unlock()

	fallbackScore, _ := c.fallback.Score(ctx, event)
	return fallbackScore
}

func (c *Coordinator) recordEvidence(score models.ScoreResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, kw := range score.Keywords {
		prev, ok := c.keyEvidence[kw]
		if !ok || score.OpportunityScore >= prev.score {
			c.keyEvidence[kw] = keyScore{category: score.Category, score: score.OpportunityScore}
		}
	}
}

// evidenceLookup binds this tick's snapshot and the accumulated oracle
// scores into the ranker's evidence source.
func (c *Coordinator) evidenceLookup(snap *aggregate.Snapshot) rank.EvidenceLookup {
	totals := snap.KeyTotals(models.ResolutionMedium)
	c.mu.RLock()
	scores := make(map[string]keyScore, len(c.keyEvidence))
	for k, v := range c.keyEvidence {
		scores[k] = v
	}
	c.mu.RUnlock()

	return func(key string) rank.Evidence {
		ev := rank.Evidence{
			PlatformCounts: snap.PlatformCounts(key, models.ResolutionMedium),
			EngagementSum:  totals[key].EngagementSum,
		}
		if ks, ok := scores[key]; ok {
			ev.Category = ks.category
			ev.OracleScore = ks.score
		}
		return ev
	}
}

// adaptInterval moves the tick interval toward the load: busy streams tick
// faster, quiet ones back off. Movement is capped at 20% per tick and
// clamped to the configured bounds.
func (c *Coordinator) adaptInterval(now time.Time) time.Duration {
	perSec := c.rate.PerSecond(now)
	target := c.cfg.Scheduler.TargetEventsPerSec

	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.interval
	switch {
	case target > 0 && perSec > target:
		next = time.Duration(float64(next) * 0.8)
	case perSec < target/2:
		next = time.Duration(float64(next) * 1.2)
	}
	if next < c.cfg.Scheduler.MinInterval {
		next = c.cfg.Scheduler.MinInterval
	}
	if next > c.cfg.Scheduler.MaxInterval {
		next = c.cfg.Scheduler.MaxInterval
	}
	c.interval = next
	return next
}

func (c *Coordinator) currentInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.interval
}

// poll drives one source's fetch loop, feeding the intake queue. A failed
// fetch leaves the source degraded until the next attempt succeeds; the
// loop keeps probing at the configured interval.
func (c *Coordinator) poll(ctx context.Context, src source.ContentEventSource) {
	interval := c.cfg.Scheduler.MinInterval
	for _, sc := range c.cfg.Sources {
		if sc.Name == src.Name() && sc.Interval > 0 {
			interval = sc.Interval
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			events, err := src.Fetch(ctx)
			if err != nil {
				continue
			}
			for _, ev := range events {
				c.Offer(ev)
			}
		}
	}
}

// shutdown runs the bounded stop sequence: one final tick so queued events
// are not silently discarded, a closing broadcast, then the stopped state.
func (c *Coordinator) shutdown() {
	c.stopOnce.Do(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), c.cfg.Scheduler.StopTimeout)
		defer cancel()

		if c.intake.Len() > 0 {
			c.RunTick(stopCtx)
		}
		c.hub.Close()

		c.mu.Lock()
		c.state = StateStopped
		c.mu.Unlock()
		close(c.stopped)
		c.logger.Info("pipeline stopped", slog.Uint64("ticks", c.tickCount()))
	})
}

// Stopped is closed once the shutdown sequence completes.
func (c *Coordinator) Stopped() <-chan struct{} { return c.stopped }

func (c *Coordinator) tickCount() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tick
}

// Opportunities returns the latest ranked snapshot, optionally filtered to
// one platform and truncated to limit.
func (c *Coordinator) Opportunities(platform string, limit int) []models.Opportunity {
	c.mu.RLock()
	ranked := c.opportunities
	c.mu.RUnlock()

	out := make([]models.Opportunity, 0, len(ranked))
	for _, o := range ranked {
		if platform != "" {
			if _, ok := o.PlatformCounts[platform]; !ok {
				continue
			}
		}
		out = append(out, o)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Temporal returns the latest window buckets for one key at the given
// resolution.
func (c *Coordinator) Temporal(key string, resolution models.Resolution) []models.WindowBucket {
	c.mu.RLock()
	snap := c.lastSnapshot
	c.mu.RUnlock()
	if snap == nil {
		return nil
	}
	var out []models.WindowBucket
	for _, b := range snap.Buckets[resolution] {
		if b.Key == key {
			out = append(out, b)
		}
	}
	return out
}

// Anomalies returns the anomaly snapshot captured at the end of the most
// recent tick. The lifecycle manager itself is never read off the tick
// goroutine.
func (c *Coordinator) Anomalies() []models.Anomaly {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Anomaly(nil), c.anomalies...)
}

// sweep drops idle aggregation series and the retained oracle evidence for
// keys no longer tracked, bounding memory on long runs.
func (c *Coordinator) sweep() {
	removed := c.aggregator.Sweep()
	live := c.aggregator.LiveKeys()

	c.mu.Lock()
	for kw := range c.keyEvidence {
		if !live[kw] {
			delete(c.keyEvidence, kw)
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.logger.Debug("swept idle series", slog.Int("removed", removed))
	}
}

// Stats is the operational summary served by the stats endpoint.
type Stats struct {
	State           State         `json:"state"`
	Uptime          time.Duration `json:"uptime"`
	Ticks           uint64        `json:"ticks"`
	Interval        time.Duration `json:"interval"`
	TickP95         time.Duration `json:"tick_p95"`
	EventsPerSecond float64       `json:"events_per_second"`
	QueueLength     int           `json:"queue_length"`
	QueueDropped    uint64        `json:"queue_dropped"`
	InvalidEvents   uint64        `json:"invalid_events"`
	DuplicateDrops  uint64        `json:"duplicate_drops"`
	OracleErrors    uint64        `json:"oracle_errors"`
	OracleDegraded  bool          `json:"oracle_degraded"`
	DetectorErrors  uint64        `json:"detector_errors"`
	Subscribers     int           `json:"subscribers"`
	SeriesTracked   int           `json:"series_tracked"`
	Sources         []SourceState `json:"sources,omitempty"`
}

// SourceState reports one feed's health.
type SourceState struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
}

// Snapshot assembles the current Stats.
func (c *Coordinator) Snapshot() Stats {
	now := c.now()
	c.mu.RLock()
	st := Stats{
		State:          c.state,
		Ticks:          c.tick,
		Interval:       c.interval,
		DuplicateDrops: c.droppedDup,
		OracleErrors:   c.oracleErrors,
		OracleDegraded: c.oracleDegraded,
		DetectorErrors: c.detectorErrors,
		SeriesTracked:  c.seriesTracked,
	}
	if !c.startedAt.IsZero() {
		st.Uptime = now.Sub(c.startedAt)
	}
	c.mu.RUnlock()

	st.TickP95 = c.latency.Percentile(95)
	st.EventsPerSecond = c.rate.PerSecond(now)
	st.QueueLength = c.intake.Len()
	st.QueueDropped = c.intake.Dropped()
	st.InvalidEvents = c.intake.Invalid()
	st.Subscribers = c.hub.ClientCount()
	for _, src := range c.sources {
		st.Sources = append(st.Sources, SourceState{Name: src.Name(), Healthy: src.Healthy()})
	}
	return st
}
