package machines

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// MachineType tags the kind of equipment a profile describes.
type MachineType string

const (
	TypeInjectionMolding MachineType = "injection_molding"
	TypeCNCMill          MachineType = "cnc_mill"
	TypeConveyor         MachineType = "conveyor"
	TypePress            MachineType = "press"
	TypePump             MachineType = "pump"
)

// Valid returns true when the machine type is supported.
func (t MachineType) Valid() bool {
	switch t {
	case TypeInjectionMolding, TypeCNCMill, TypeConveyor, TypePress, TypePump:
		return true
	default:
		return false
	}
}

// ParseMachineType normalises user input such as "CNC-mill" or "injection-molder".
func ParseMachineType(value string) (MachineType, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	normalized = strings.ReplaceAll(normalized, " ", "_")
	switch normalized {
	case "injection_molder", "injection_moulding", "injection_molding":
		return TypeInjectionMolding, nil
	}
	t := MachineType(normalized)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidMachineType, value)
	}
	return t, nil
}

// Parameter identifies one of the five monitored signals.
type Parameter int

const (
	Temperature Parameter = iota
	Pressure
	Vibration
	RPM
	Power
)

// Parameters lists every monitored parameter in a stable order.
var Parameters = [...]Parameter{Temperature, Pressure, Vibration, RPM, Power}

// ParameterCount is the number of monitored parameters.
const ParameterCount = len(Parameters)

// String returns the wire name of the parameter.
func (p Parameter) String() string {
	switch p {
	case Temperature:
		return "temperature"
	case Pressure:
		return "pressure"
	case Vibration:
		return "vibration"
	case RPM:
		return "rpm"
	case Power:
		return "power_consumption"
	default:
		return "unknown"
	}
}

// MarshalText encodes the parameter by wire name.
func (p Parameter) MarshalText() ([]byte, error) {
	if p < Temperature || p > Power {
		return nil, fmt.Errorf("%w: %d", ErrUnknownParameter, int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText accepts any name ParseParameter understands.
func (p *Parameter) UnmarshalText(text []byte) error {
	parsed, err := ParseParameter(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Label returns a human readable name.
func (p Parameter) Label() string {
	switch p {
	case Temperature:
		return "Temperature"
	case Pressure:
		return "Pressure"
	case Vibration:
		return "Vibration"
	case RPM:
		return "RPM"
	case Power:
		return "Power Consumption"
	default:
		return "Unknown"
	}
}

// Unit returns the display unit used in narratives.
func (p Parameter) Unit() string {
	switch p {
	case Temperature:
		return "°C"
	case Pressure:
		return "PSI"
	case Vibration:
		return "mm/s"
	case RPM:
		return "rpm"
	case Power:
		return "kW"
	default:
		return ""
	}
}

// ParseParameter accepts wire names plus a few aliases ("power").
func ParseParameter(value string) (Parameter, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "temperature", "temp":
		return Temperature, nil
	case "pressure":
		return Pressure, nil
	case "vibration":
		return Vibration, nil
	case "rpm":
		return RPM, nil
	case "power", "power_consumption":
		return Power, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownParameter, value)
	}
}

// Range is a nominal operating band.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Width returns max - min.
func (r Range) Width() float64 { return r.Max - r.Min }

// Center returns the midpoint of the range.
func (r Range) Center() float64 { return (r.Min + r.Max) / 2 }

// Contains reports whether value lies inside [min, max].
func (r Range) Contains(value float64) bool { return value >= r.Min && value <= r.Max }

// Validate checks range invariants.
func (r Range) Validate() error {
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsInf(r.Min, 0) || math.IsInf(r.Max, 0) {
		return errors.New("range: non-finite bound")
	}
	if r.Max <= r.Min {
		return errors.New("range: max must be greater than min")
	}
	return nil
}

// NominalRanges holds one range per parameter.
type NominalRanges struct {
	Temperature Range `json:"temperature" yaml:"temperature"`
	Pressure    Range `json:"pressure" yaml:"pressure"`
	Vibration   Range `json:"vibration" yaml:"vibration"`
	RPM         Range `json:"rpm" yaml:"rpm"`
	Power       Range `json:"power_consumption" yaml:"power_consumption"`
}

// For returns the range of a parameter.
func (n NominalRanges) For(p Parameter) Range {
	switch p {
	case Temperature:
		return n.Temperature
	case Pressure:
		return n.Pressure
	case Vibration:
		return n.Vibration
	case RPM:
		return n.RPM
	case Power:
		return n.Power
	default:
		return Range{}
	}
}

// MachineProfile describes a monitored machine. Profiles are immutable once
// registered; downstream components hold a pointer and never copy or edit it.
type MachineProfile struct {
	ID     string        `json:"id" yaml:"id"`
	Name   string        `json:"name" yaml:"name"`
	Type   MachineType   `json:"type" yaml:"type"`
	Ranges NominalRanges `json:"normal_ranges" yaml:"normal_ranges"`
	Source SourceKind    `json:"source,omitempty" yaml:"source,omitempty"`
}

// SourceKind selects where readings for a machine come from.
type SourceKind string

const (
	SourceSimulated SourceKind = "simulated"
	SourceExternal  SourceKind = "external"
)

// Validate checks profile invariants.
func (p *MachineProfile) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil profile", ErrInvalidProfile)
	}
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidProfile)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: machine %s: empty name", ErrInvalidProfile, p.ID)
	}
	if !p.Type.Valid() {
		return fmt.Errorf("%w: machine %s: %v %q", ErrInvalidProfile, p.ID, ErrInvalidMachineType, p.Type)
	}
	switch p.Source {
	case "", SourceSimulated, SourceExternal:
	default:
		return fmt.Errorf("%w: machine %s: unknown source %q", ErrInvalidProfile, p.ID, p.Source)
	}
	for _, param := range Parameters {
		if err := p.Ranges.For(param).Validate(); err != nil {
			return fmt.Errorf("%w: machine %s: %s %v", ErrInvalidProfile, p.ID, param, err)
		}
	}
	return nil
}

// SourceOrDefault returns the configured source, defaulting to simulated.
func (p *MachineProfile) SourceOrDefault() SourceKind {
	if p == nil || p.Source == "" {
		return SourceSimulated
	}
	return p.Source
}
