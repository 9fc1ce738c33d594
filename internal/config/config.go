package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	alarms "machine-monitor/internal/alarms/domain"
	anomaly "machine-monitor/internal/anomaly/domain"
	"machine-monitor/internal/insight/narrative"
	machines "machine-monitor/internal/machines/domain"
	monitorapp "machine-monitor/internal/monitor/application"
	"machine-monitor/internal/observability/logging"
	"machine-monitor/internal/telemetry/infrastructure/simulator"
)

// EnvPrefix is prepended to every environment override, e.g. MONITOR_HTTP_ADDR.
const EnvPrefix = "MONITOR"

// ScoringConfig mirrors anomaly.Config.
type ScoringConfig struct {
	Margin          float64            `mapstructure:"margin"`
	Comfort         float64            `mapstructure:"comfort"`
	EdgeCeiling     float64            `mapstructure:"edge_ceiling"`
	SecondaryWeight float64            `mapstructure:"secondary_weight"`
	TrendWindow     int                `mapstructure:"trend_window"`
	TrendGain       float64            `mapstructure:"trend_gain"`
	TrendCap        float64            `mapstructure:"trend_cap"`
	Info            float64            `mapstructure:"info"`
	Warning         float64            `mapstructure:"warning"`
	Critical        float64            `mapstructure:"critical"`
	Weights         map[string]float64 `mapstructure:"weights"`
}

// AlertingConfig mirrors alarms.Policy plus the journal size.
type AlertingConfig struct {
	DowngradeTicks   int           `mapstructure:"downgrade_ticks"`
	RenotifyInterval time.Duration `mapstructure:"renotify_interval"`
	NotifyMinTier    string        `mapstructure:"notify_min_tier"`
	JournalSize      int           `mapstructure:"journal_size"`
}

// InsightConfig selects the narrative collaborator.
type InsightConfig struct {
	Provider     string        `mapstructure:"provider"`
	Timeout      time.Duration `mapstructure:"timeout"`
	HTTPURL      string        `mapstructure:"http_url"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	GeminiAPIKey string        `mapstructure:"gemini_api_key"`
	GeminiModel  string        `mapstructure:"gemini_model"`
	Window       int           `mapstructure:"window"`
}

// BroadcastConfig sizes subscriber queues.
type BroadcastConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

// SimulatorConfig mirrors simulator.Options.
type SimulatorConfig struct {
	Seed        uint64  `mapstructure:"seed"`
	Noise       float64 `mapstructure:"noise"`
	AnomalyRate float64 `mapstructure:"anomaly_rate"`
}

// IngestConfig sizes external reading queues.
type IngestConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

// NotifyConfig configures the optional alert webhook.
type NotifyConfig struct {
	WebhookURL    string        `mapstructure:"webhook_url"`
	Template      string        `mapstructure:"template"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
	DedupeWindow  time.Duration `mapstructure:"dedupe_window"`
	Escalation    time.Duration `mapstructure:"escalation"`
	ReportBaseURL string        `mapstructure:"report_base_url"`
}

// Config is the full service configuration.
type Config struct {
	HTTPAddr     string          `mapstructure:"http_addr"`
	RosterPath   string          `mapstructure:"roster_path"`
	TickInterval time.Duration   `mapstructure:"tick_interval"`
	HistorySize  int             `mapstructure:"history_size"`
	Scoring      ScoringConfig   `mapstructure:"scoring"`
	Alerting     AlertingConfig  `mapstructure:"alerting"`
	Insight      InsightConfig   `mapstructure:"insight"`
	Broadcast    BroadcastConfig `mapstructure:"broadcast"`
	Simulator    SimulatorConfig `mapstructure:"simulator"`
	Ingest       IngestConfig    `mapstructure:"ingest"`
	Notify       NotifyConfig    `mapstructure:"notify"`
	Log          logging.Config  `mapstructure:"log"`
}

// SetDefaults registers the documented defaults.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("roster_path", "config/machines.yaml")
	v.SetDefault("tick_interval", "5s")
	v.SetDefault("history_size", 20)

	scoring := anomaly.DefaultConfig()
	v.SetDefault("scoring.margin", scoring.Margin)
	v.SetDefault("scoring.comfort", scoring.Comfort)
	v.SetDefault("scoring.edge_ceiling", scoring.EdgeCeiling)
	v.SetDefault("scoring.secondary_weight", scoring.SecondaryWeight)
	v.SetDefault("scoring.trend_window", scoring.TrendWindow)
	v.SetDefault("scoring.trend_gain", scoring.TrendGain)
	v.SetDefault("scoring.trend_cap", scoring.TrendCap)
	v.SetDefault("scoring.info", scoring.Thresholds.Info)
	v.SetDefault("scoring.warning", scoring.Thresholds.Warning)
	v.SetDefault("scoring.critical", scoring.Thresholds.Critical)
	for i, p := range machines.Parameters {
		v.SetDefault("scoring.weights."+p.String(), scoring.Weights[i])
	}

	v.SetDefault("alerting.downgrade_ticks", 2)
	v.SetDefault("alerting.renotify_interval", "10m")
	v.SetDefault("alerting.notify_min_tier", "warning")
	v.SetDefault("alerting.journal_size", 50)

	v.SetDefault("insight.provider", narrative.ProviderTemplate)
	v.SetDefault("insight.timeout", "10s")
	v.SetDefault("insight.http_url", "")
	v.SetDefault("insight.rate_limit", 2.0)
	v.SetDefault("insight.gemini_api_key", "")
	v.SetDefault("insight.gemini_model", "gemini-2.0-flash")
	v.SetDefault("insight.window", 10)

	v.SetDefault("broadcast.queue_size", 64)
	v.SetDefault("simulator.seed", 1)
	v.SetDefault("simulator.noise", 0.05)
	v.SetDefault("simulator.anomaly_rate", 0.0)
	v.SetDefault("ingest.queue_size", 32)

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.template", "")
	v.SetDefault("notify.cooldown", "0s")
	v.SetDefault("notify.dedupe_window", "30m")
	v.SetDefault("notify.escalation", "0s")
	v.SetDefault("notify.report_base_url", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", false)
}

// NewViper returns a viper instance with defaults and environment overrides
// wired. When file is not empty it is read as well.
func NewViper(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if file == "" {
		return v, nil
	}
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", file, err)
	}
	return v, nil
}

// Load reads defaults, the optional file and the environment.
func Load(file string) (*Config, error) {
	v, err := NewViper(file)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper decodes and validates a populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks cross-field constraints by building every derived config.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("http_addr is required")
	}
	if c.Insight.Timeout <= 0 {
		return errors.New("insight.timeout must be positive")
	}
	if c.Notify.Cooldown < 0 || c.Notify.DedupeWindow < 0 || c.Notify.Escalation < 0 {
		return errors.New("notify durations must not be negative")
	}
	if c.Broadcast.QueueSize < 1 {
		return errors.New("broadcast.queue_size must be positive")
	}
	if _, err := c.ScoringConfig(); err != nil {
		return err
	}
	engine, err := c.EngineConfig()
	if err != nil {
		return err
	}
	return engine.Validate()
}

// ScoringConfig converts the scoring section.
func (c *Config) ScoringConfig() (anomaly.Config, error) {
	s := c.Scoring
	cfg := anomaly.Config{
		Comfort:         s.Comfort,
		EdgeCeiling:     s.EdgeCeiling,
		Margin:          s.Margin,
		SecondaryWeight: s.SecondaryWeight,
		Thresholds:      anomaly.Thresholds{Info: s.Info, Warning: s.Warning, Critical: s.Critical},
		TrendWindow:     s.TrendWindow,
		TrendGain:       s.TrendGain,
		TrendCap:        s.TrendCap,
		Weights:         anomaly.DefaultConfig().Weights,
	}
	for name, w := range s.Weights {
		p, err := machines.ParseParameter(name)
		if err != nil {
			return anomaly.Config{}, fmt.Errorf("scoring.weights: %w", err)
		}
		cfg.Weights[p] = w
	}
	if err := cfg.Validate(); err != nil {
		return anomaly.Config{}, err
	}
	return cfg, nil
}

// Policy converts the alerting section.
func (c *Config) Policy() (alarms.Policy, error) {
	tier, err := anomaly.ParseTier(c.Alerting.NotifyMinTier)
	if err != nil {
		return alarms.Policy{}, fmt.Errorf("alerting.notify_min_tier: %w", err)
	}
	p := alarms.Policy{
		DowngradeTicks:   c.Alerting.DowngradeTicks,
		RenotifyInterval: c.Alerting.RenotifyInterval,
		NotifyMinTier:    tier,
	}
	return p, p.Validate()
}

// EngineConfig converts the pipeline settings.
func (c *Config) EngineConfig() (monitorapp.Config, error) {
	policy, err := c.Policy()
	if err != nil {
		return monitorapp.Config{}, err
	}
	return monitorapp.Config{
		TickInterval:    c.TickInterval,
		HistorySize:     c.HistorySize,
		JournalSize:     c.Alerting.JournalSize,
		InsightWindow:   c.Insight.Window,
		IngestQueueSize: c.Ingest.QueueSize,
		Policy:          policy,
		Simulator: simulator.Options{
			Seed:        c.Simulator.Seed,
			Noise:       c.Simulator.Noise,
			AnomalyRate: c.Simulator.AnomalyRate,
		},
	}, nil
}

// NarrativeSettings converts the insight section.
func (c *Config) NarrativeSettings() narrative.Settings {
	return narrative.Settings{
		Provider:     c.Insight.Provider,
		HTTPURL:      c.Insight.HTTPURL,
		RateLimit:    c.Insight.RateLimit,
		GeminiAPIKey: c.Insight.GeminiAPIKey,
		GeminiModel:  c.Insight.GeminiModel,
	}
}
