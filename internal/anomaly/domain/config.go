package anomaly

import (
	"fmt"
	"math"

	machines "machine-monitor/internal/machines/domain"
)

// Thresholds are the lower bounds of the info, warning and critical tiers.
type Thresholds struct {
	Info     float64 `json:"info" yaml:"info"`
	Warning  float64 `json:"warning" yaml:"warning"`
	Critical float64 `json:"critical" yaml:"critical"`
}

// TierFor maps a score onto a tier.
func (t Thresholds) TierFor(score float64) Tier {
	switch {
	case score >= t.Critical:
		return TierCritical
	case score >= t.Warning:
		return TierWarning
	case score >= t.Info:
		return TierInfo
	default:
		return TierNormal
	}
}

// Config holds the scorer tuning knobs.
type Config struct {
	// Comfort is the fraction of the half-range around the center that scores zero.
	Comfort float64
	// EdgeCeiling is the deviation of a value sitting exactly on a range boundary.
	EdgeCeiling float64
	// Margin is the distance beyond a boundary, as a fraction of range width,
	// at which the deviation saturates at 1.
	Margin float64
	// SecondaryWeight scales the mean of the non-dominant deviations.
	SecondaryWeight float64
	// Weights scale each parameter's deviation, within [Thresholds.Warning, 1].
	Weights         [machines.ParameterCount]float64
	Thresholds      Thresholds
	TrendWindow     int
	TrendGain       float64
	TrendCap        float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Comfort:         0.7,
		EdgeCeiling:     0.45,
		Margin:          0.25,
		SecondaryWeight: 0.2,
		Weights:         [machines.ParameterCount]float64{1, 1, 1, 1, 1},
		Thresholds:      Thresholds{Info: 0.3, Warning: 0.5, Critical: 0.8},
		TrendWindow:     5,
		TrendGain:       2.0,
		TrendCap:        0.2,
	}
}

// Validate checks the bounds of every knob.
func (c Config) Validate() error {
	if !between(c.Comfort, 0, 1) || c.Comfort >= 1 {
		return fmt.Errorf("%w: comfort %v not in [0,1)", ErrInvalidConfig, c.Comfort)
	}
	if !between(c.EdgeCeiling, 0, 1) || c.EdgeCeiling == 0 || c.EdgeCeiling == 1 {
		return fmt.Errorf("%w: edge ceiling %v not in (0,1)", ErrInvalidConfig, c.EdgeCeiling)
	}
	if !finite(c.Margin) || c.Margin <= 0 {
		return fmt.Errorf("%w: margin %v must be positive", ErrInvalidConfig, c.Margin)
	}
	if !finite(c.SecondaryWeight) || c.SecondaryWeight < 0 {
		return fmt.Errorf("%w: secondary weight %v must be >= 0", ErrInvalidConfig, c.SecondaryWeight)
	}
	th := c.Thresholds
	if !(0 < th.Info && th.Info < th.Warning && th.Warning < th.Critical && th.Critical <= 1) {
		return fmt.Errorf("%w: thresholds must satisfy 0 < info < warning < critical <= 1, got %v/%v/%v",
			ErrInvalidConfig, th.Info, th.Warning, th.Critical)
	}
	// A saturated parameter scores at least its weight, so any weight below the
	// warning threshold would let a breach beyond the margin stay under warning.
	for i, w := range c.Weights {
		if !finite(w) || w < th.Warning || w > 1 {
			return fmt.Errorf("%w: weight of %s is %v, want [%v,1]", ErrInvalidConfig, machines.Parameters[i], w, th.Warning)
		}
	}
	if c.TrendWindow < 2 {
		return fmt.Errorf("%w: trend window %d must be >= 2", ErrInvalidConfig, c.TrendWindow)
	}
	if !finite(c.TrendGain) || c.TrendGain < 0 {
		return fmt.Errorf("%w: trend gain %v must be >= 0", ErrInvalidConfig, c.TrendGain)
	}
	if !between(c.TrendCap, 0, 1) {
		return fmt.Errorf("%w: trend cap %v not in [0,1]", ErrInvalidConfig, c.TrendCap)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func between(v, lo, hi float64) bool {
	return finite(v) && v >= lo && v <= hi
}
