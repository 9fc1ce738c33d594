package application

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	alarms "machine-monitor/internal/alarms/domain"
	anomaly "machine-monitor/internal/anomaly/domain"
	"machine-monitor/internal/eventing"
	insightapp "machine-monitor/internal/insight/application"
	insight "machine-monitor/internal/insight/domain"
	machines "machine-monitor/internal/machines/domain"
	"machine-monitor/internal/observability/logging"
	"machine-monitor/internal/observability/metrics"
	"machine-monitor/internal/stream"
	"machine-monitor/internal/telemetry/infrastructure/feed"
	"machine-monitor/internal/telemetry/infrastructure/simulator"
)

// Config holds the pipeline settings.
type Config struct {
	TickInterval    time.Duration
	HistorySize     int
	JournalSize     int
	InsightWindow   int
	IngestQueueSize int
	Policy          alarms.Policy
	Simulator       simulator.Options
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		TickInterval:    5 * time.Second,
		HistorySize:     20,
		JournalSize:     50,
		InsightWindow:   10,
		IngestQueueSize: 32,
		Policy:          alarms.DefaultPolicy(),
		Simulator:       simulator.Options{Seed: 1, Noise: 0.05},
	}
}

// Validate checks pipeline settings.
func (c Config) Validate() error {
	if c.TickInterval <= 0 {
		return errors.New("monitor: tick interval must be positive")
	}
	if c.HistorySize < 1 || c.JournalSize < 1 || c.InsightWindow < 1 || c.IngestQueueSize < 1 {
		return errors.New("monitor: history, journal, insight window and ingest queue sizes must be positive")
	}
	return c.Policy.Validate()
}

// InsightService is the part of the insight coordinator the engine drives.
type InsightService interface {
	Register(machineID string)
	Forget(machineID string)
	Request(machineID string, trigger insight.Trigger) (*insightapp.Pending, error)
	Latest(machineID string) (insightapp.Status, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Engine drives Source -> Scorer -> StateMachine -> Broadcaster for every
// registered machine once per tick.
type Engine struct {
	cfg         Config
	registry    *Registry
	scorer      *anomaly.Scorer
	broadcaster *stream.Broadcaster
	bus         eventing.Bus
	clock       Clock
	logger      *zap.Logger
	workers     int

	tickMu sync.Mutex
	tick   uint64

	// lifecycleMu pairs registry membership with the insight slot of a machine.
	lifecycleMu sync.Mutex

	insightMu sync.RWMutex
	insights  InsightService
}

// Option customizes the engine.
type Option func(*Engine)

// WithBus overrides the event bus.
func WithBus(bus eventing.Bus) Option {
	return func(e *Engine) {
		if bus != nil {
			e.bus = bus
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithWorkers bounds how many machines are processed in parallel per tick.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// NewEngine constructs an engine.
func NewEngine(cfg Config, scorer *anomaly.Scorer, broadcaster *stream.Broadcaster, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if scorer == nil {
		return nil, errors.New("monitor: nil scorer")
	}
	if broadcaster == nil {
		return nil, errors.New("monitor: nil broadcaster")
	}
	e := &Engine{
		cfg:         cfg,
		registry:    NewRegistry(),
		scorer:      scorer,
		broadcaster: broadcaster,
		bus:         eventing.NewInMemoryBus(),
		clock:       systemClock{},
		logger:      zap.NewNop(),
		workers:     runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrNop(e.logger).Named("engine")
	eventing.On(e.bus, e.onTierChanged)
	return e, nil
}

// Bus returns the event bus transitions are published on.
func (e *Engine) Bus() eventing.Bus {
	return e.bus
}

// AttachInsight wires the insight coordinator. Machines registered earlier
// are registered with it too.
func (e *Engine) AttachInsight(svc InsightService) {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()
	e.insightMu.Lock()
	e.insights = svc
	e.insightMu.Unlock()
	if svc == nil {
		return
	}
	for _, ent := range e.registry.list() {
		svc.Register(ent.profile.ID)
	}
}

func (e *Engine) insightService() InsightService {
	e.insightMu.RLock()
	defer e.insightMu.RUnlock()
	return e.insights
}

func (e *Engine) onTierChanged(ctx context.Context, evt TierChanged) error {
	if !evt.Transition.Actionable {
		return nil
	}
	svc := e.insightService()
	if svc == nil {
		return nil
	}
	if env, ok := eventing.EnvelopeFromContext(ctx); ok {
		e.logger.Debug("actionable transition",
			zap.String("machine", evt.MachineID),
			zap.String("event_id", env.EventID),
			zap.String("correlation_id", env.CorrelationID),
		)
	}
	if _, err := svc.Request(evt.MachineID, insight.TriggerTransition); err != nil {
		return fmt.Errorf("request insight for %s: %w", evt.MachineID, err)
	}
	return nil
}

// Run ticks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	e.logger.Info("pipeline started",
		zap.Duration("interval", e.cfg.TickInterval),
		zap.Int("machines", e.registry.Len()),
	)
	if err := e.Tick(ctx, e.clock.Now().UTC()); err != nil && ctx.Err() == nil {
		e.logger.Error("tick failed", zap.Error(err))
	}
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("pipeline stopped")
			return nil
		case <-ticker.C:
			if err := e.Tick(ctx, e.clock.Now().UTC()); err != nil && ctx.Err() == nil {
				e.logger.Error("tick failed", zap.Error(err))
			}
		}
	}
}

type tickResult struct {
	snapshot *stream.Snapshot
	events   []TierChanged
}

// Tick runs one pipeline pass at time now. Concurrent calls are serialised.
func (e *Engine) Tick(ctx context.Context, now time.Time) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	start := time.Now()
	e.tick++
	tick := e.tick

	entities := e.registry.list()
	results := make([]tickResult, len(entities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, ent := range entities {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.process(ent, now, tick)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.ObserveTick(metrics.ResultError, time.Since(start))
		return err
	}

	snaps := make([]stream.Snapshot, 0, len(results))
	for _, res := range results {
		if res.snapshot != nil {
			snaps = append(snaps, *res.snapshot)
		}
	}
	e.broadcaster.Publish(snaps...)

	evtCtx := eventing.WithCorrelationID(ctx, fmt.Sprintf("tick-%d", tick))
	for _, res := range results {
		for _, evt := range res.events {
			if err := e.bus.Publish(evtCtx, evt); err != nil {
				e.logger.Warn("transition handler failed", zap.String("machine", evt.MachineID), zap.Error(err))
			}
		}
	}
	metrics.ObserveTick(metrics.ResultSuccess, time.Since(start))
	return nil
}

func (e *Engine) process(ent *entity, now time.Time, tick uint64) tickResult {
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.removed {
		return tickResult{}
	}
	id := ent.profile.ID
	readings := ent.source.Next(ent.profile, now)

	var res tickResult
	for _, reading := range readings {
		score, err := e.scorer.Score(reading, ent.profile, ent.history.all())
		if err != nil {
			e.logger.Warn("reading rejected", zap.String("machine", id), zap.Uint64("seq", reading.Seq), zap.Error(err))
			continue
		}
		for _, param := range score.Invalid {
			metrics.IncInvalidValue(param.String())
			e.logger.Warn("non-numeric value ignored",
				zap.String("machine", id),
				zap.String("parameter", param.String()),
				zap.Uint64("seq", reading.Seq),
			)
		}

		ent.seq++
		tr, applied := ent.state.Apply(score.Tier, reading.Timestamp, ent.seq)
		ent.history.push(reading)
		latest := reading
		ent.lastReading = &latest
		ent.lastScore = score
		if !applied || (!tr.Changed() && !tr.Actionable) {
			continue
		}
		ent.journal.push(tr)
		res.events = append(res.events, TierChanged{MachineID: id, Transition: tr, Score: score})
		if tr.Changed() {
			metrics.IncTransition(tr.From.String(), tr.To.String())
			e.logger.Info("alert tier changed",
				zap.String("machine", id),
				zap.Stringer("from", tr.From),
				zap.Stringer("to", tr.To),
				zap.String("reason", string(tr.Reason)),
				zap.Float64("score", score.Value),
				zap.Bool("actionable", tr.Actionable),
			)
		}
	}
	if len(readings) == 0 || ent.lastReading == nil {
		return res
	}
	metrics.AddReadings(string(ent.profile.SourceOrDefault()), len(readings))

	snap := e.buildSnapshot(ent, tick)
	ent.snapshot = &snap
	res.snapshot = &snap
	metrics.SetMachineState(id, int(snap.Tier), snap.Score)
	return res
}

// buildSnapshot must be called with ent.mu held.
func (e *Engine) buildSnapshot(ent *entity, tick uint64) stream.Snapshot {
	score := ent.lastScore
	snap := stream.Snapshot{
		MachineID:   ent.profile.ID,
		Name:        ent.profile.Name,
		Type:        ent.profile.Type,
		Reading:     *ent.lastReading,
		Score:       score.Value,
		Tier:        ent.state.State().Tier,
		Tick:        tick,
		Timestamp:   ent.lastReading.Timestamp,
		PublishedAt: e.clock.Now().UTC(),
	}
	if len(score.Anomalies) > 0 {
		snap.Dominant = score.Dominant.String()
		for _, d := range score.Anomalies {
			snap.Anomalies = append(snap.Anomalies, d.Message)
		}
	}
	return snap
}

func (e *Engine) newEntity(profile *machines.MachineProfile, now time.Time) (*entity, error) {
	state, err := alarms.NewStateMachine(e.cfg.Policy, now)
	if err != nil {
		return nil, err
	}
	ent := &entity{
		profile:      profile,
		history:      newRing[machines.Reading](e.cfg.HistorySize),
		journal:      newRing[alarms.Transition](e.cfg.JournalSize),
		state:        state,
		registeredAt: now,
	}
	switch profile.SourceOrDefault() {
	case machines.SourceExternal:
		ent.feed = feed.New(profile.ID, e.cfg.IngestQueueSize)
		ent.source = ent.feed
	default:
		opts := e.cfg.Simulator
		opts.Seed += seedOffset(profile.ID)
		ent.sim = simulator.New(opts)
		ent.source = ent.sim
	}
	return ent, nil
}

func seedOffset(id string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(id))
	return h.Sum64()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
