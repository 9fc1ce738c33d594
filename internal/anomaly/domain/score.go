package anomaly

import (
	"fmt"
	"math"

	machines "machine-monitor/internal/machines/domain"
)

// Direction tells which side of the nominal range a value leans towards.
type Direction string

const (
	DirectionHigh Direction = "high"
	DirectionLow  Direction = "low"
)

// Descriptor explains one parameter that contributed to a score.
type Descriptor struct {
	Parameter machines.Parameter `json:"parameter"`
	Value     float64            `json:"value"`
	Range     machines.Range     `json:"normal_range"`
	Deviation float64            `json:"deviation"`
	Direction Direction          `json:"direction"`
	Outside   bool               `json:"outside"`
	Message   string             `json:"message"`
}

func newDescriptor(param machines.Parameter, value float64, r machines.Range, deviation float64) Descriptor {
	dir := DirectionHigh
	if value < r.Center() {
		dir = DirectionLow
	}
	outside := !r.Contains(value)
	msg := fmt.Sprintf("%s approaching limit: %.2f (normal: %g-%g)", param.Label(), value, r.Min, r.Max)
	if outside {
		msg = fmt.Sprintf("%s anomaly detected: %.2f (normal: %g-%g)", param.Label(), value, r.Min, r.Max)
	}
	return Descriptor{
		Parameter: param,
		Value:     value,
		Range:     r,
		Deviation: deviation,
		Direction: dir,
		Outside:   outside,
		Message:   msg,
	}
}

// Score is the anomaly assessment of one reading.
type Score struct {
	Value      float64                          `json:"value"`
	Tier       Tier                             `json:"tier"`
	Dominant   machines.Parameter               `json:"dominant"`
	Trend      float64                          `json:"trend"`
	Deviations [machines.ParameterCount]float64 `json:"deviations"`
	Anomalies  []Descriptor                     `json:"anomalies,omitempty"`
	// Invalid lists parameters whose value was NaN and therefore ignored.
	Invalid []machines.Parameter `json:"invalid,omitempty"`
}

// Deviation returns the per-parameter deviation in [0,1].
func (s Score) Deviation(p machines.Parameter) float64 {
	if p < 0 || int(p) >= machines.ParameterCount {
		return 0
	}
	return s.Deviations[p]
}

// Summary returns the message of the dominant anomaly, or "" when nothing deviates.
func (s Score) Summary() string {
	for _, d := range s.Anomalies {
		if d.Parameter == s.Dominant {
			return d.Message
		}
	}
	return ""
}

// excursion is |v-c|/h: 0 at the center, 1 on either boundary.
func excursion(value float64, r machines.Range) float64 {
	half := r.Width() / 2
	if half <= 0 {
		return 0
	}
	return math.Abs(value-r.Center()) / half
}
