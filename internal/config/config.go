package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the trend engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Windows   WindowsConfig   `yaml:"windows"`
	Detectors DetectorsConfig `yaml:"detectors"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Sources   []SourceConfig  `yaml:"sources"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP/WebSocket listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// IngestConfig controls the intake queue and deduplication.
type IngestConfig struct {
	QueueCapacity       int           `yaml:"queueCapacity"`
	DrainBatch          int           `yaml:"drainBatch"`
	DedupTTL            time.Duration `yaml:"dedupTTL"`
	SimilarityThreshold float64       `yaml:"similarityThreshold"`
	RecentTexts         int           `yaml:"recentTexts"`
}

// WindowsConfig fixes the four aggregation resolutions. Durations must be
// strictly increasing from micro to long.
type WindowsConfig struct {
	Micro  time.Duration `yaml:"micro"`
	Short  time.Duration `yaml:"short"`
	Medium time.Duration `yaml:"medium"`
	Long   time.Duration `yaml:"long"`
}

// DetectorsConfig tunes the pattern detectors.
type DetectorsConfig struct {
	SurgeMultiplier    float64 `yaml:"surgeMultiplier"`
	SurgeMinSupport    int     `yaml:"surgeMinSupport"`
	AnomalyZThreshold  float64 `yaml:"anomalyZThreshold"`
	AnomalyHistory     int     `yaml:"anomalyHistory"`
	CyclicalMinPeriods int     `yaml:"cyclicalMinPeriods"`
}

// LifecycleConfig tunes trend candidate state transitions.
type LifecycleConfig struct {
	ActivationTicks      int           `yaml:"activationTicks"`
	ActivationConfidence float64       `yaml:"activationConfidence"`
	DecayWindow          time.Duration `yaml:"decayWindow"`
	ExpiredGrace         time.Duration `yaml:"expiredGrace"`
	MaxEvidence          int           `yaml:"maxEvidence"`
}

// SchedulerConfig bounds the adaptive tick interval.
type SchedulerConfig struct {
	MinInterval        time.Duration `yaml:"minInterval"`
	MaxInterval        time.Duration `yaml:"maxInterval"`
	TargetEventsPerSec float64       `yaml:"targetEventsPerSec"`
	OracleFailureLimit int           `yaml:"oracleFailureLimit"`
	StopTimeout        time.Duration `yaml:"stopTimeout"`
}

// BroadcastConfig controls subscriber queues and overflow behaviour.
type BroadcastConfig struct {
	QueueCapacity  int    `yaml:"queueCapacity"`
	OverflowPolicy string `yaml:"overflowPolicy"` // drop-oldest or disconnect
}

// ScoringConfig selects the scoring oracle implementation. When Endpoint is
// set the HTTP oracle is used, otherwise the rule-pack oracle at RulesPath.
type ScoringConfig struct {
	RulesPath string        `yaml:"rulesPath"`
	Endpoint  string        `yaml:"endpoint"`
	Timeout   time.Duration `yaml:"timeout"`
}

// SourceConfig describes one HTTP-polled content feed.
type SourceConfig struct {
	Name     string        `yaml:"name"`
	URL      string        `yaml:"url"`
	Platform string        `yaml:"platform"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// CacheConfig controls the optional Valkey-backed fingerprint store.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("TREND_ENGINE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8085",
			GracefulTimeout: 10 * time.Second,
		},
		Ingest: IngestConfig{
			QueueCapacity:       4096,
			DrainBatch:          1024,
			DedupTTL:            24 * time.Hour,
			SimilarityThreshold: 0.8,
			RecentTexts:         512,
		},
		Windows: WindowsConfig{
			Micro:  time.Minute,
			Short:  15 * time.Minute,
			Medium: time.Hour,
			Long:   24 * time.Hour,
		},
		Detectors: DetectorsConfig{
			SurgeMultiplier:    2.5,
			SurgeMinSupport:    5,
			AnomalyZThreshold:  2.0,
			AnomalyHistory:     12,
			CyclicalMinPeriods: 3,
		},
		Lifecycle: LifecycleConfig{
			ActivationTicks:      2,
			ActivationConfidence: 0.5,
			DecayWindow:          48 * time.Hour,
			ExpiredGrace:         time.Hour,
			MaxEvidence:          20,
		},
		Scheduler: SchedulerConfig{
			MinInterval:        15 * time.Second,
			MaxInterval:        60 * time.Second,
			TargetEventsPerSec: 10,
			OracleFailureLimit: 5,
			StopTimeout:        5 * time.Second,
		},
		Broadcast: BroadcastConfig{
			QueueCapacity:  64,
			OverflowPolicy: "drop-oldest",
		},
		Scoring: ScoringConfig{
			RulesPath: "configs/scoring/default.yaml",
			Timeout:   5 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

// Validate rejects configurations that would leave the pipeline in a
// nonsensical state. These errors are fatal before the coordinator starts.
func (c *Config) Validate() error {
	w := c.Windows
	if w.Micro <= 0 || w.Short <= 0 || w.Medium <= 0 || w.Long <= 0 {
		return fmt.Errorf("config: window resolutions must be positive")
	}
	if !(w.Micro < w.Short && w.Short < w.Medium && w.Medium < w.Long) {
		return fmt.Errorf("config: window resolutions must be strictly increasing (micro < short < medium < long)")
	}
	if c.Detectors.SurgeMultiplier <= 1 {
		return fmt.Errorf("config: surgeMultiplier must be greater than 1")
	}
	if c.Detectors.AnomalyZThreshold <= 0 {
		return fmt.Errorf("config: anomalyZThreshold must be positive")
	}
	if c.Ingest.SimilarityThreshold <= 0 || c.Ingest.SimilarityThreshold > 1 {
		return fmt.Errorf("config: similarityThreshold must be in (0, 1]")
	}
	if c.Ingest.QueueCapacity <= 0 {
		return fmt.Errorf("config: ingest queueCapacity must be positive")
	}
	if c.Scheduler.MinInterval <= 0 || c.Scheduler.MaxInterval <= 0 {
		return fmt.Errorf("config: scheduler intervals must be positive")
	}
	if c.Scheduler.MinInterval > c.Scheduler.MaxInterval {
		return fmt.Errorf("config: minInterval must not exceed maxInterval")
	}
	if c.Lifecycle.DecayWindow <= 0 {
		return fmt.Errorf("config: decayWindow must be positive")
	}
	if c.Broadcast.QueueCapacity <= 0 {
		return fmt.Errorf("config: broadcast queueCapacity must be positive")
	}
	switch c.Broadcast.OverflowPolicy {
	case "drop-oldest", "disconnect":
	default:
		return fmt.Errorf("config: overflowPolicy must be drop-oldest or disconnect, got %q", c.Broadcast.OverflowPolicy)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TREND_ENGINE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("TREND_ENGINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TREND_ENGINE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("TREND_ENGINE_SCORING_RULES"); v != "" {
		cfg.Scoring.RulesPath = v
	}
	if v := os.Getenv("TREND_ENGINE_SCORING_ENDPOINT"); v != "" {
		cfg.Scoring.Endpoint = v
	}
	if v := os.Getenv("TREND_ENGINE_MIN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.MinInterval = d
		}
	}
	if v := os.Getenv("TREND_ENGINE_MAX_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scheduler.MaxInterval = d
		}
	}
	if v := os.Getenv("TREND_ENGINE_SURGE_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detectors.SurgeMultiplier = f
		}
	}
	if v := os.Getenv("TREND_ENGINE_ANOMALY_Z"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detectors.AnomalyZThreshold = f
		}
	}
	if v := os.Getenv("TREND_ENGINE_DEDUP_SIMILARITY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Ingest.SimilarityThreshold = f
		}
	}
	if v := os.Getenv("TREND_ENGINE_DECAY_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Lifecycle.DecayWindow = d
		}
	}
	if v := os.Getenv("TREND_ENGINE_BROADCAST_QUEUE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Broadcast.QueueCapacity = n
		}
	}
	if v := os.Getenv("TREND_ENGINE_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("TREND_ENGINE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("TREND_ENGINE_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("TREND_ENGINE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("TREND_ENGINE_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("TREND_ENGINE_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
}

// ResolutionDuration maps a resolution name onto its configured duration.
func (w WindowsConfig) ResolutionDuration(name string) (time.Duration, bool) {
	switch name {
	case "micro":
		return w.Micro, true
	case "short":
		return w.Short, true
	case "medium":
		return w.Medium, true
	case "long":
		return w.Long, true
	}
	return 0, false
}
