package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	anomaly "machine-monitor/internal/anomaly/domain"
	machines "machine-monitor/internal/machines/domain"
	monitorapp "machine-monitor/internal/monitor/application"
)

func TestDefaultsMatchDomainDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "config/machines.yaml", cfg.RosterPath)
	assert.Equal(t, 64, cfg.Broadcast.QueueSize)
	assert.Equal(t, 10*time.Second, cfg.Insight.Timeout)

	scoring, err := cfg.ScoringConfig()
	require.NoError(t, err)
	assert.Equal(t, anomaly.DefaultConfig(), scoring)

	engine, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, monitorapp.DefaultConfig(), engine)

	assert.Equal(t, "template", cfg.NarrativeSettings().Provider)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Notify.WebhookURL)
	assert.Equal(t, 30*time.Minute, cfg.Notify.DedupeWindow)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("MONITOR_TICK_INTERVAL", "2s")
	t.Setenv("MONITOR_ALERTING_NOTIFY_MIN_TIER", "critical")
	t.Setenv("MONITOR_SCORING_WEIGHTS_RPM", "0.5")
	t.Setenv("MONITOR_INSIGHT_PROVIDER", "http")
	t.Setenv("MONITOR_NOTIFY_ESCALATION", "15m")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.TickInterval)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, anomaly.TierCritical, policy.NotifyMinTier)

	scoring, err := cfg.ScoringConfig()
	require.NoError(t, err)
	assert.Equal(t, 0.5, scoring.Weights[machines.RPM])
	assert.Equal(t, "http", cfg.NarrativeSettings().Provider)
	assert.Equal(t, 15*time.Minute, cfg.Notify.Escalation)
}

func TestFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_addr: ":9090"
history_size: 40
scoring:
  critical: 0.9
alerting:
  downgrade_ticks: 3
simulator:
  seed: 99
log:
  format: json
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 40, cfg.HistorySize)
	assert.Equal(t, 0.9, cfg.Scoring.Critical)
	assert.Equal(t, 0.5, cfg.Scoring.Warning)
	assert.Equal(t, uint64(99), cfg.Simulator.Seed)
	assert.Equal(t, "json", cfg.Log.Format)

	engine, err := cfg.EngineConfig()
	require.NoError(t, err)
	assert.Equal(t, 3, engine.Policy.DowngradeTicks)
}

func TestInvalidConfiguration(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("MONITOR_ALERTING_NOTIFY_MIN_TIER", "loud")
	_, err = Load("")
	assert.ErrorIs(t, err, anomaly.ErrUnknownTier)
}

func TestScoringWeightBelowWarningIsRejected(t *testing.T) {
	t.Setenv("MONITOR_SCORING_WEIGHTS_TEMPERATURE", "0.3")
	_, err := Load("")
	assert.ErrorIs(t, err, anomaly.ErrInvalidConfig)
}

func TestThresholdOrderIsValidated(t *testing.T) {
	t.Setenv("MONITOR_SCORING_WARNING", "0.95")
	_, err := Load("")
	assert.ErrorIs(t, err, anomaly.ErrInvalidConfig)
}
