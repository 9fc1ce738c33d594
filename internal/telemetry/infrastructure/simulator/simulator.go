package simulator

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	machines "machine-monitor/internal/machines/domain"
)

const (
	oscillationAmplitude = 0.3
	oscillationStep      = 0.1
)

// amplitude scales the slow oscillation per parameter so signals do not move in lockstep.
var amplitude = [machines.ParameterCount]float64{1.0, 0.5, 0.3, 0.2, 0.4}

// anomalyFactor is the multiplier used for randomly injected one-tick anomalies.
var anomalyFactor = [machines.ParameterCount]float64{1.6, 2.0, 3.0, 2.0, 2.5}

// Options configures a Simulator.
type Options struct {
	// Seed makes the generated sequence reproducible.
	Seed uint64
	// Noise is the uniform noise amplitude as a fraction of the half range.
	Noise float64
	// AnomalyRate is the per-tick probability of a random one-tick spike.
	AnomalyRate float64
}

// Drift makes a parameter rise by Rate (fraction of its value) per tick for Ticks ticks.
type Drift struct {
	Parameter machines.Parameter `json:"parameter"`
	Rate      float64            `json:"rate"`
	Ticks     int                `json:"ticks"`
}

// Spike pins a parameter to Max*Factor (or Min*Factor when Factor < 1) for Ticks ticks.
type Spike struct {
	Parameter machines.Parameter `json:"parameter"`
	Factor    float64            `json:"factor"`
	Ticks     int                `json:"ticks"`
}

type driftState struct {
	rate    float64
	elapsed int
	total   int
}

type spikeState struct {
	factor    float64
	remaining int
}

// Simulator generates synthetic readings for a single machine.
type Simulator struct {
	mu          sync.Mutex
	rng         *rand.Rand
	noise       float64
	anomalyRate float64
	tick        uint64
	seq         uint64
	drifts      map[machines.Parameter]*driftState
	spikes      map[machines.Parameter]*spikeState
}

// New constructs a Simulator.
func New(opts Options) *Simulator {
	noise := opts.Noise
	if noise < 0 || math.IsNaN(noise) {
		noise = 0
	}
	rate := opts.AnomalyRate
	if rate < 0 || math.IsNaN(rate) {
		rate = 0
	}
	return &Simulator{
		rng:         rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		noise:       noise,
		anomalyRate: rate,
		drifts:      make(map[machines.Parameter]*driftState),
		spikes:      make(map[machines.Parameter]*spikeState),
	}
}

// InjectDrift starts a gradual-degradation run, replacing any drift on the same parameter.
func (s *Simulator) InjectDrift(d Drift) error {
	if s == nil {
		return errors.New("simulator: nil")
	}
	if d.Ticks <= 0 {
		return fmt.Errorf("simulator: drift ticks must be positive, got %d", d.Ticks)
	}
	if math.IsNaN(d.Rate) || math.IsInf(d.Rate, 0) {
		return errors.New("simulator: drift rate must be finite")
	}
	s.mu.Lock()
	s.drifts[d.Parameter] = &driftState{rate: d.Rate, total: d.Ticks}
	s.mu.Unlock()
	return nil
}

// InjectSpike pins a parameter for the given number of ticks.
func (s *Simulator) InjectSpike(sp Spike) error {
	if s == nil {
		return errors.New("simulator: nil")
	}
	if sp.Factor <= 0 || math.IsNaN(sp.Factor) || math.IsInf(sp.Factor, 0) {
		return fmt.Errorf("simulator: spike factor must be positive, got %v", sp.Factor)
	}
	ticks := sp.Ticks
	if ticks <= 0 {
		ticks = 1
	}
	s.mu.Lock()
	s.spikes[sp.Parameter] = &spikeState{factor: sp.Factor, remaining: ticks}
	s.mu.Unlock()
	return nil
}

// Clear removes every injected drift and spike.
func (s *Simulator) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	clear(s.drifts)
	clear(s.spikes)
	s.mu.Unlock()
}

// Next implements telemetry.Source.
func (s *Simulator) Next(profile *machines.MachineProfile, at time.Time) []machines.Reading {
	return []machines.Reading{s.Tick(profile, at)}
}

// Tick produces the next reading for profile stamped with at. Seq orders the
// readings; a repeated or earlier at is kept as given.
func (s *Simulator) Tick(profile *machines.MachineProfile, at time.Time) machines.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tick++
	s.seq++
	reading := machines.Reading{MachineID: profile.ID, Seq: s.seq, Timestamp: at.UTC()}
	phase := math.Sin(float64(s.tick) * oscillationStep)
	for i, param := range machines.Parameters {
		r := profile.Ranges.For(param)
		half := r.Width() / 2
		value := r.Center() + half*(oscillationAmplitude*amplitude[i]*phase+s.noise*(2*s.rng.Float64()-1))
		value = math.Min(r.Max, math.Max(r.Min, value))
		reading = reading.With(param, value)
	}

	if s.anomalyRate > 0 && s.rng.Float64() < s.anomalyRate {
		param := machines.Parameters[s.rng.IntN(machines.ParameterCount)]
		if _, exists := s.spikes[param]; !exists {
			s.spikes[param] = &spikeState{factor: anomalyFactor[param], remaining: 1}
		}
	}

	for param, d := range s.drifts {
		d.elapsed++
		reading = reading.With(param, reading.Value(param)*(1+d.rate*float64(d.elapsed)))
		if d.elapsed >= d.total {
			delete(s.drifts, param)
		}
	}
	for param, sp := range s.spikes {
		r := profile.Ranges.For(param)
		value := r.Max * sp.factor
		if sp.factor < 1 {
			value = r.Min * sp.factor
		}
		reading = reading.With(param, value)
		sp.remaining--
		if sp.remaining <= 0 {
			delete(s.spikes, param)
		}
	}
	return reading
}
