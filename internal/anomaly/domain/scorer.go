package anomaly

import (
	"fmt"
	"math"

	machines "machine-monitor/internal/machines/domain"
)

// Scorer turns a reading into a Score. It is pure and safe for concurrent use.
type Scorer struct {
	cfg Config
}

// NewScorer validates cfg and returns a Scorer. A zero weight vector means
// equal weights.
func NewScorer(cfg Config) (*Scorer, error) {
	allZero := true
	for _, w := range cfg.Weights {
		if w != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		cfg.Weights = DefaultConfig().Weights
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg}, nil
}

// Config returns the scorer settings.
func (s *Scorer) Config() Config {
	return s.cfg
}

// Score evaluates reading against the profile of the same machine. history
// holds earlier readings, oldest first, and only feeds the trend term.
func (s *Scorer) Score(reading machines.Reading, profile *machines.MachineProfile, history []machines.Reading) (Score, error) {
	if s == nil {
		return Score{}, fmt.Errorf("%w: nil scorer", ErrInvalidConfig)
	}
	if profile == nil {
		return Score{}, fmt.Errorf("%w: nil profile", ErrProfileMismatch)
	}
	if reading.MachineID != "" && reading.MachineID != profile.ID {
		return Score{}, fmt.Errorf("%w: reading %s, profile %s", ErrProfileMismatch, reading.MachineID, profile.ID)
	}

	var out Score
	dominant := -1
	for i, param := range machines.Parameters {
		value := reading.Value(param)
		if math.IsNaN(value) {
			out.Invalid = append(out.Invalid, param)
			continue
		}
		r := profile.Ranges.For(param)
		d := s.deviation(value, r)
		out.Deviations[i] = d
		if d > 0 {
			out.Anomalies = append(out.Anomalies, newDescriptor(param, value, r, d))
		}
		if dominant < 0 || d*s.cfg.Weights[i] > out.Deviations[dominant]*s.cfg.Weights[dominant] {
			dominant = i
		}
	}
	if dominant < 0 {
		// every value was NaN
		out.Dominant = machines.Temperature
		out.Tier = TierNormal
		return out, nil
	}
	out.Dominant = machines.Parameters[dominant]

	var secondary float64
	others := 0
	for i := range machines.Parameters {
		if i == dominant {
			continue
		}
		secondary += s.cfg.Weights[i] * out.Deviations[i]
		others++
	}
	if others > 0 {
		secondary /= float64(others)
	}

	out.Trend = s.trend(out.Dominant, reading, profile, history)
	value := out.Deviations[dominant]*s.cfg.Weights[dominant] + s.cfg.SecondaryWeight*secondary + out.Trend
	out.Value = clamp01(value)
	out.Tier = s.cfg.Thresholds.TierFor(out.Value)
	return out, nil
}

func (s *Scorer) deviation(value float64, r machines.Range) float64 {
	if math.IsInf(value, 0) {
		return 1
	}
	if r.Contains(value) {
		e := excursion(value, r)
		if e <= s.cfg.Comfort {
			return 0
		}
		return s.cfg.EdgeCeiling * (e - s.cfg.Comfort) / (1 - s.cfg.Comfort)
	}
	beyond := value - r.Max
	if value < r.Min {
		beyond = r.Min - value
	}
	return s.cfg.EdgeCeiling + (1-s.cfg.EdgeCeiling)*math.Min(1, beyond/(s.cfg.Margin*r.Width()))
}

// trend is the capped positive least-squares slope of the dominant parameter's
// excursion over the last TrendWindow readings, current one included.
func (s *Scorer) trend(param machines.Parameter, current machines.Reading, profile *machines.MachineProfile, history []machines.Reading) float64 {
	if len(history) == 0 || s.cfg.TrendGain == 0 {
		return 0
	}
	r := profile.Ranges.For(param)
	start := len(history) - (s.cfg.TrendWindow - 1)
	if start < 0 {
		start = 0
	}
	series := make([]float64, 0, s.cfg.TrendWindow)
	for _, h := range history[start:] {
		if h.MachineID != "" && h.MachineID != profile.ID {
			continue
		}
		series = append(series, h.Value(param))
	}
	series = append(series, current.Value(param))

	var n, sumX, sumY, sumXY, sumXX float64
	for i, v := range series {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		x := float64(i)
		y := excursion(v, r)
		n++
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if n < 2 || denom == 0 {
		return 0
	}
	slope := (n*sumXY - sumX*sumY) / denom
	if slope <= 0 {
		return 0
	}
	return math.Min(s.cfg.TrendCap, s.cfg.TrendGain*slope)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
