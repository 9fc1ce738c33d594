package simulator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	machines "machine-monitor/internal/machines/domain"
)

func cncProfile() *machines.MachineProfile {
	return &machines.MachineProfile{
		ID:   "cnc-1",
		Name: "CNC Mill 1",
		Type: machines.TypeCNCMill,
		Ranges: machines.NominalRanges{
			Temperature: machines.Range{Min: 25, Max: 45},
			Pressure:    machines.Range{Min: 800, Max: 1200},
			Vibration:   machines.Range{Min: 0.1, Max: 2.0},
			RPM:         machines.Range{Min: 1000, Max: 5000},
			Power:       machines.Range{Min: 1, Max: 5},
		},
	}
}

func TestBaselineStaysInsideRanges(t *testing.T) {
	profile := cncProfile()
	sim := New(Options{Seed: 7, Noise: 0.1})
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var prev machines.Reading
	for i := 0; i < 500; i++ {
		r := sim.Tick(profile, start.Add(time.Duration(i)*time.Second))
		for _, p := range machines.Parameters {
			assert.True(t, profile.Ranges.For(p).Contains(r.Value(p)), "tick %d %s=%v", i, p, r.Value(p))
		}
		if i > 0 {
			assert.Greater(t, r.Seq, prev.Seq)
			assert.True(t, r.Timestamp.After(prev.Timestamp))
		}
		assert.Equal(t, "cnc-1", r.MachineID)
		prev = r
	}
}

func TestSameSeedIsReproducible(t *testing.T) {
	profile := cncProfile()
	a := New(Options{Seed: 42, Noise: 0.05})
	b := New(Options{Seed: 42, Noise: 0.05})
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		ts := at.Add(time.Duration(i) * time.Second)
		require.Equal(t, a.Tick(profile, ts), b.Tick(profile, ts))
	}
}

func TestReplayedTickKeepsCallerTimestamp(t *testing.T) {
	sim := New(Options{Seed: 1})
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	first := sim.Tick(cncProfile(), at)
	second := sim.Tick(cncProfile(), at)
	assert.True(t, at.Equal(second.Timestamp), "reading must not postdate the tick")
	assert.Greater(t, second.Seq, first.Seq)
}

func TestDriftRisesThenEnds(t *testing.T) {
	profile := cncProfile()
	sim := New(Options{Seed: 3})
	require.NoError(t, sim.InjectDrift(Drift{Parameter: machines.Temperature, Rate: 0.02, Ticks: 30}))

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var last machines.Reading
	for i := 0; i < 30; i++ {
		last = sim.Tick(profile, at.Add(time.Duration(i)*time.Second))
	}
	// 35 * (1 + 0.02*30) = 56 before oscillation, well above the 45 ceiling.
	assert.Greater(t, last.Temperature, 50.0)

	after := sim.Tick(profile, at.Add(time.Minute))
	assert.True(t, profile.Ranges.Temperature.Contains(after.Temperature))
}

func TestSpikePinsValueForTicks(t *testing.T) {
	profile := cncProfile()
	sim := New(Options{Seed: 3})
	require.NoError(t, sim.InjectSpike(Spike{Parameter: machines.Vibration, Factor: 2, Ticks: 2}))

	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 4.0, sim.Tick(profile, at).Vibration)
	assert.Equal(t, 4.0, sim.Tick(profile, at.Add(time.Second)).Vibration)
	assert.LessOrEqual(t, sim.Tick(profile, at.Add(2*time.Second)).Vibration, 2.0)

	require.NoError(t, sim.InjectSpike(Spike{Parameter: machines.RPM, Factor: 0.5, Ticks: 1}))
	assert.Equal(t, 500.0, sim.Tick(profile, at.Add(3*time.Second)).RPM)
}

func TestInjectValidation(t *testing.T) {
	sim := New(Options{})
	assert.Error(t, sim.InjectDrift(Drift{Parameter: machines.RPM, Rate: 0.1}))
	assert.Error(t, sim.InjectSpike(Spike{Parameter: machines.RPM, Factor: 0}))

	var nilSim *Simulator
	assert.Error(t, nilSim.InjectDrift(Drift{Ticks: 1}))
}

func TestClearRemovesInjections(t *testing.T) {
	profile := cncProfile()
	sim := New(Options{Seed: 3})
	require.NoError(t, sim.InjectSpike(Spike{Parameter: machines.Power, Factor: 3, Ticks: 10}))
	sim.Clear()
	r := sim.Tick(profile, time.Now())
	assert.True(t, profile.Ranges.Power.Contains(r.Power))
}

func TestAnomalyRateOneAlwaysDeviates(t *testing.T) {
	profile := cncProfile()
	sim := New(Options{Seed: 9, AnomalyRate: 1})
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		r := sim.Tick(profile, at.Add(time.Duration(i)*time.Second))
		outside := 0
		for _, p := range machines.Parameters {
			if !profile.Ranges.For(p).Contains(r.Value(p)) {
				outside++
			}
		}
		assert.GreaterOrEqual(t, outside, 1, "tick %d", i)
	}
}

func TestDriftRequestDecodesParameterName(t *testing.T) {
	var d Drift
	require.NoError(t, json.Unmarshal([]byte(`{"parameter":"power","rate":0.05,"ticks":4}`), &d))
	assert.Equal(t, machines.Power, d.Parameter)
}
