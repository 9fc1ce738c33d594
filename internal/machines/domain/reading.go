package machines

import (
	"encoding/json"
	"math"
	"time"
)

// Reading is a single telemetry sample for one machine. Readings are values:
// once produced they are never modified.
type Reading struct {
	MachineID   string    `json:"machine_id"`
	Seq         uint64    `json:"seq"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
	Pressure    float64   `json:"pressure"`
	Vibration   float64   `json:"vibration"`
	RPM         float64   `json:"rpm"`
	Power       float64   `json:"power_consumption"`
}

// Value returns the reading of a parameter.
func (r Reading) Value(p Parameter) float64 {
	switch p {
	case Temperature:
		return r.Temperature
	case Pressure:
		return r.Pressure
	case Vibration:
		return r.Vibration
	case RPM:
		return r.RPM
	case Power:
		return r.Power
	default:
		return 0
	}
}

// With returns a copy of the reading with one parameter replaced.
func (r Reading) With(p Parameter, value float64) Reading {
	switch p {
	case Temperature:
		r.Temperature = value
	case Pressure:
		r.Pressure = value
	case Vibration:
		r.Vibration = value
	case RPM:
		r.RPM = value
	case Power:
		r.Power = value
	}
	return r
}

// Values returns the five parameter values in Parameters order.
func (r Reading) Values() [ParameterCount]float64 {
	var out [ParameterCount]float64
	for i, p := range Parameters {
		out[i] = r.Value(p)
	}
	return out
}

type readingJSON struct {
	MachineID   string    `json:"machine_id"`
	Seq         uint64    `json:"seq"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature *float64  `json:"temperature"`
	Pressure    *float64  `json:"pressure"`
	Vibration   *float64  `json:"vibration"`
	RPM         *float64  `json:"rpm"`
	Power       *float64  `json:"power_consumption"`
}

// MarshalJSON writes non-finite values as null.
func (r Reading) MarshalJSON() ([]byte, error) {
	finite := func(v float64) *float64 {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		return &v
	}
	return json.Marshal(readingJSON{
		MachineID:   r.MachineID,
		Seq:         r.Seq,
		Timestamp:   r.Timestamp,
		Temperature: finite(r.Temperature),
		Pressure:    finite(r.Pressure),
		Vibration:   finite(r.Vibration),
		RPM:         finite(r.RPM),
		Power:       finite(r.Power),
	})
}

// UnmarshalJSON reads null or missing values as NaN.
func (r *Reading) UnmarshalJSON(data []byte) error {
	var raw readingJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	value := func(v *float64) float64 {
		if v == nil {
			return math.NaN()
		}
		return *v
	}
	*r = Reading{
		MachineID:   raw.MachineID,
		Seq:         raw.Seq,
		Timestamp:   raw.Timestamp,
		Temperature: value(raw.Temperature),
		Pressure:    value(raw.Pressure),
		Vibration:   value(raw.Vibration),
		RPM:         value(raw.RPM),
		Power:       value(raw.Power),
	}
	return nil
}
