package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	alarms "machine-monitor/internal/alarms/domain"
	anomaly "machine-monitor/internal/anomaly/domain"
	insightapp "machine-monitor/internal/insight/application"
	insight "machine-monitor/internal/insight/domain"
	machines "machine-monitor/internal/machines/domain"
	"machine-monitor/internal/observability/metrics"
	"machine-monitor/internal/stream"
	"machine-monitor/internal/telemetry/infrastructure/simulator"
)

// ErrInsightDisabled is returned when no insight coordinator is attached.
var ErrInsightDisabled = errors.New("monitor: insight disabled")

// StatusOffline is reported for machines without a recent reading.
const StatusOffline = "offline"

// MachineView is the read model of one registered machine.
type MachineView struct {
	Profile      *machines.MachineProfile `json:"profile"`
	Status       string                   `json:"status"`
	State        alarms.State             `json:"state"`
	Score        float64                  `json:"anomaly_score"`
	Snapshot     *stream.Snapshot         `json:"snapshot,omitempty"`
	RegisteredAt time.Time                `json:"registered_at"`
}

// Register adds a machine to the pipeline. The profile is copied; later
// edits by the caller have no effect.
func (e *Engine) Register(ctx context.Context, profile *machines.MachineProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	owned := *profile
	if owned.Source == "" {
		owned.Source = machines.SourceSimulated
	}
	now := e.clock.Now().UTC()
	ent, err := e.newEntity(&owned, now)
	if err != nil {
		return err
	}
	e.lifecycleMu.Lock()
	if !e.registry.add(ent) {
		e.lifecycleMu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateMachine, owned.ID)
	}
	if svc := e.insightService(); svc != nil {
		svc.Register(owned.ID)
	}
	e.lifecycleMu.Unlock()
	metrics.SetMachinesRegistered(e.registry.Len())
	e.logger.Info("machine registered",
		zap.String("machine", owned.ID),
		zap.String("type", string(owned.Type)),
		zap.String("source", string(owned.Source)),
	)
	if err := e.bus.Publish(ctx, MachineRegistered{MachineID: owned.ID, RegisteredAt: now}); err != nil {
		e.logger.Warn("registration handler failed", zap.String("machine", owned.ID), zap.Error(err))
	}
	return nil
}

// Deregister removes a machine. Its in-flight insight call is cancelled and
// no later snapshot or insight for it is published.
func (e *Engine) Deregister(ctx context.Context, machineID string) error {
	e.lifecycleMu.Lock()
	ent, ok := e.registry.remove(machineID)
	if !ok {
		e.lifecycleMu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownMachine, machineID)
	}
	ent.mu.Lock()
	ent.removed = true
	ent.mu.Unlock()
	if svc := e.insightService(); svc != nil {
		svc.Forget(machineID)
	}
	e.lifecycleMu.Unlock()

	metrics.ForgetMachine(machineID)
	metrics.SetMachinesRegistered(e.registry.Len())
	e.logger.Info("machine deregistered", zap.String("machine", machineID))
	if err := e.bus.Publish(ctx, MachineDeregistered{MachineID: machineID, At: e.clock.Now().UTC()}); err != nil {
		e.logger.Warn("deregistration handler failed", zap.String("machine", machineID), zap.Error(err))
	}
	return nil
}

func (e *Engine) lookup(machineID string) (*entity, error) {
	ent, ok := e.registry.get(machineID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMachine, machineID)
	}
	return ent, nil
}

// Machines lists every registered machine ordered by id.
func (e *Engine) Machines() []MachineView {
	entities := e.registry.list()
	out := make([]MachineView, 0, len(entities))
	now := e.clock.Now().UTC()
	for _, ent := range entities {
		out = append(out, e.view(ent, now))
	}
	return out
}

// Machine returns one machine view.
func (e *Engine) Machine(machineID string) (MachineView, error) {
	ent, err := e.lookup(machineID)
	if err != nil {
		return MachineView{}, err
	}
	return e.view(ent, e.clock.Now().UTC()), nil
}

func (e *Engine) view(ent *entity, now time.Time) MachineView {
	ent.mu.Lock()
	defer ent.mu.Unlock()
	v := MachineView{
		Profile:      ent.profile,
		State:        ent.state.State(),
		RegisteredAt: ent.registeredAt,
		Status:       StatusOffline,
	}
	if ent.snapshot != nil {
		snap := *ent.snapshot
		v.Snapshot = &snap
		v.Score = snap.Score
		if now.Sub(snap.Timestamp) <= e.offlineAfter() {
			v.Status = v.State.Tier.String()
		}
	}
	return v
}

func (e *Engine) offlineAfter() time.Duration {
	return 3 * e.cfg.TickInterval
}

// Snapshots returns the latest snapshot of every machine that has one.
func (e *Engine) Snapshots() []stream.Snapshot {
	entities := e.registry.list()
	out := make([]stream.Snapshot, 0, len(entities))
	for _, ent := range entities {
		ent.mu.Lock()
		if ent.snapshot != nil {
			out = append(out, *ent.snapshot)
		}
		ent.mu.Unlock()
	}
	return out
}

// Snapshot returns the latest snapshot of one machine.
func (e *Engine) Snapshot(machineID string) (stream.Snapshot, error) {
	ent, err := e.lookup(machineID)
	if err != nil {
		return stream.Snapshot{}, err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.snapshot == nil {
		return stream.Snapshot{}, fmt.Errorf("%w: %s", ErrNoReading, machineID)
	}
	return *ent.snapshot, nil
}

// History returns up to limit of the newest readings, oldest first.
// A non-positive limit returns the whole window.
func (e *Engine) History(machineID string, limit int) ([]machines.Reading, error) {
	ent, err := e.lookup(machineID)
	if err != nil {
		return nil, err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.history.last(limit), nil
}

// Journal returns recent transitions, oldest first.
func (e *Engine) Journal(machineID string, limit int) ([]alarms.Transition, error) {
	ent, err := e.lookup(machineID)
	if err != nil {
		return nil, err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.journal.last(limit), nil
}

// Score returns the latest score of a machine.
func (e *Engine) Score(machineID string) (anomaly.Score, error) {
	ent, err := e.lookup(machineID)
	if err != nil {
		return anomaly.Score{}, err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.lastReading == nil {
		return anomaly.Score{}, fmt.Errorf("%w: %s", ErrNoReading, machineID)
	}
	return ent.lastScore, nil
}

// Ingest queues an externally measured reading for the next tick.
func (e *Engine) Ingest(machineID string, reading machines.Reading) (machines.Reading, error) {
	start := time.Now()
	accepted, err := e.ingest(machineID, reading)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveIngest(result, time.Since(start))
	return accepted, err
}

func (e *Engine) ingest(machineID string, reading machines.Reading) (machines.Reading, error) {
	ent, err := e.lookup(machineID)
	if err != nil {
		return machines.Reading{}, err
	}
	if ent.feed == nil {
		return machines.Reading{}, fmt.Errorf("%w: %s", ErrNotExternal, machineID)
	}
	return ent.feed.Push(reading, e.clock.Now().UTC())
}

func (e *Engine) simulatorFor(machineID string) (*simulator.Simulator, error) {
	ent, err := e.lookup(machineID)
	if err != nil {
		return nil, err
	}
	if ent.sim == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotSimulated, machineID)
	}
	return ent.sim, nil
}

// InjectDrift starts a gradual degradation on a simulated machine.
func (e *Engine) InjectDrift(machineID string, d simulator.Drift) error {
	sim, err := e.simulatorFor(machineID)
	if err != nil {
		return err
	}
	if err := sim.InjectDrift(d); err != nil {
		return err
	}
	e.logger.Info("drift injected",
		zap.String("machine", machineID),
		zap.Stringer("parameter", d.Parameter),
		zap.Float64("rate", d.Rate),
		zap.Int("ticks", d.Ticks),
	)
	return nil
}

// InjectSpike pins a parameter of a simulated machine.
func (e *Engine) InjectSpike(machineID string, s simulator.Spike) error {
	sim, err := e.simulatorFor(machineID)
	if err != nil {
		return err
	}
	if err := sim.InjectSpike(s); err != nil {
		return err
	}
	e.logger.Info("spike injected",
		zap.String("machine", machineID),
		zap.Stringer("parameter", s.Parameter),
		zap.Float64("factor", s.Factor),
		zap.Int("ticks", s.Ticks),
	)
	return nil
}

// ClearInjections removes every drift and spike from a simulated machine.
func (e *Engine) ClearInjections(machineID string) error {
	sim, err := e.simulatorFor(machineID)
	if err != nil {
		return err
	}
	sim.Clear()
	return nil
}

// RequestInsight asks for a narrative on demand.
func (e *Engine) RequestInsight(machineID string) (*insightapp.Pending, error) {
	if _, err := e.lookup(machineID); err != nil {
		return nil, err
	}
	svc := e.insightService()
	if svc == nil {
		return nil, ErrInsightDisabled
	}
	return svc.Request(machineID, insight.TriggerManual)
}

// Insight returns the cached insight status of a machine.
func (e *Engine) Insight(machineID string) (insightapp.Status, error) {
	if _, err := e.lookup(machineID); err != nil {
		return insightapp.Status{}, err
	}
	svc := e.insightService()
	if svc == nil {
		return insightapp.Status{}, ErrInsightDisabled
	}
	return svc.Latest(machineID)
}

// InsightBundle assembles the narrative context from the latest state.
func (e *Engine) InsightBundle(machineID string) (insight.Bundle, error) {
	ent, ok := e.registry.get(machineID)
	if !ok {
		return insight.Bundle{}, fmt.Errorf("%w: %s", insight.ErrUnknownMachine, machineID)
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	if ent.removed {
		return insight.Bundle{}, fmt.Errorf("%w: %s", insight.ErrDeregistered, machineID)
	}
	if ent.lastReading == nil {
		return insight.Bundle{}, fmt.Errorf("%w: %s", ErrNoReading, machineID)
	}
	return insight.Bundle{
		MachineID: machineID,
		Profile:   ent.profile,
		Reading:   *ent.lastReading,
		Score:     ent.lastScore,
		State:     ent.state.State(),
		Window:    ent.history.last(e.cfg.InsightWindow),
	}, nil
}
