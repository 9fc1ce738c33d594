package cmd

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"machine-monitor/internal/alarms/notify"
	anomaly "machine-monitor/internal/anomaly/domain"
	"machine-monitor/internal/config"
	"machine-monitor/internal/eventing"
	insightapp "machine-monitor/internal/insight/application"
	insight "machine-monitor/internal/insight/domain"
	"machine-monitor/internal/insight/narrative"
	machines "machine-monitor/internal/machines/domain"
	"machine-monitor/internal/machines/infrastructure/roster"
	monitorapp "machine-monitor/internal/monitor/application"
	"machine-monitor/internal/stream"
)

type pipeline struct {
	engine      *monitorapp.Engine
	broadcaster *stream.Broadcaster
	coordinator *insightapp.Coordinator
	alerts      *notify.AsyncNotifier
	webhook     *notify.Notifier
	profiles    []*machines.MachineProfile
}

func (p *pipeline) Close() {
	p.coordinator.Close()
	p.alerts.Close()
	if p.webhook != nil {
		p.webhook.Close()
	}
	p.broadcaster.Close()
}

const alertQueueSize = 64

// buildNotifier always logs alerts; the webhook joins when configured.
func buildNotifier(cfg config.NotifyConfig, engine *monitorapp.Engine, logger *zap.Logger) (*notify.AsyncNotifier, *notify.Notifier, error) {
	notifiers := []notify.AlertNotifier{notify.NewLogNotifier(logger)}
	var webhook *notify.Notifier
	if cfg.WebhookURL != "" {
		channel, err := notify.NewWebhookChannel(cfg.WebhookURL)
		if err != nil {
			return nil, nil, err
		}
		tpl, err := notify.NewTemplate(cfg.Template)
		if err != nil {
			return nil, nil, fmt.Errorf("notify template: %w", err)
		}
		opts := []notify.Option{
			notify.WithCooldown(cfg.Cooldown),
			notify.WithDedupeWindow(cfg.DedupeWindow),
			notify.WithLogger(logger),
			notify.WithEscalation(cfg.Escalation, notify.TierReaderFunc(func(machineID string) (anomaly.Tier, bool) {
				view, err := engine.Machine(machineID)
				if err != nil {
					return anomaly.TierNormal, false
				}
				return view.State.Tier, true
			})),
		}
		if base := strings.TrimRight(cfg.ReportBaseURL, "/"); base != "" {
			opts = append(opts, notify.WithReportURLResolver(func(alert notify.Alert) string {
				return base + "/api/v1/machines/" + alert.MachineID + "/report.pdf"
			}))
		}
		webhook, err = notify.NewNotifier(channel, tpl, opts...)
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, webhook)
	}
	alerts := notify.NewAsyncNotifier(notify.NewMultiNotifier(notifiers...), alertQueueSize, logger)

	eventing.On(engine.Bus(), func(ctx context.Context, evt monitorapp.TierChanged) error {
		name := evt.MachineID
		if view, err := engine.Machine(evt.MachineID); err == nil && view.Profile != nil {
			name = view.Profile.Name
		}
		if alert, ok := notify.FromTransition(evt.MachineID, name, evt.Transition, evt.Score); ok {
			alerts.Notify(ctx, alert)
		}
		return nil
	})
	return alerts, webhook, nil
}

// loadRoster fails on an unreadable roster or a roster without a single valid
// machine; rejected entries are logged.
func loadRoster(path string, logger *zap.Logger) ([]*machines.MachineProfile, error) {
	r, err := roster.LoadFile(path)
	if err != nil {
		return nil, err
	}
	for _, rejected := range r.Rejected {
		logger.Warn("roster entry rejected", zap.Error(rejected))
	}
	if len(r.Profiles) == 0 {
		return nil, fmt.Errorf("%w: %s has no valid machines", roster.ErrEmptyRoster, path)
	}
	return r.Profiles, nil
}

func buildPipeline(ctx context.Context, cfg *config.Config, profiles []*machines.MachineProfile, generator insight.Generator, queueSize int, logger *zap.Logger) (*pipeline, error) {
	scoring, err := cfg.ScoringConfig()
	if err != nil {
		return nil, err
	}
	scorer, err := anomaly.NewScorer(scoring)
	if err != nil {
		return nil, err
	}
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}
	if generator == nil {
		generator, err = narrative.New(ctx, cfg.NarrativeSettings())
		if err != nil {
			return nil, err
		}
	}

	broadcaster := stream.NewBroadcaster(queueSize)
	engine, err := monitorapp.NewEngine(engineCfg, scorer, broadcaster, monitorapp.WithLogger(logger))
	if err != nil {
		broadcaster.Close()
		return nil, err
	}
	coordinator, err := insightapp.NewCoordinator(generator, engine,
		insightapp.WithTimeout(cfg.Insight.Timeout),
		insightapp.WithLogger(logger),
	)
	if err != nil {
		broadcaster.Close()
		return nil, err
	}
	engine.AttachInsight(coordinator)
	alerts, webhook, err := buildNotifier(cfg.Notify, engine, logger)
	if err != nil {
		coordinator.Close()
		broadcaster.Close()
		return nil, err
	}

	p := &pipeline{
		engine:      engine,
		broadcaster: broadcaster,
		coordinator: coordinator,
		alerts:      alerts,
		webhook:     webhook,
		profiles:    profiles,
	}
	for _, profile := range profiles {
		if err := engine.Register(ctx, profile); err != nil {
			p.Close()
			return nil, err
		}
	}
	logger.Info("pipeline ready",
		zap.Int("machines", len(profiles)),
		zap.String("insight_provider", insight.ProviderName(generator)),
	)
	return p, nil
}
