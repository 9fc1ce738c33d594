package machines

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validProfile() *MachineProfile {
	return &MachineProfile{
		ID:   "cnc-1",
		Name: "CNC Mill 1",
		Type: TypeCNCMill,
		Ranges: NominalRanges{
			Temperature: Range{Min: 25, Max: 45},
			Pressure:    Range{Min: 800, Max: 1200},
			Vibration:   Range{Min: 0.1, Max: 2.0},
			RPM:         Range{Min: 1000, Max: 5000},
			Power:       Range{Min: 1, Max: 5},
		},
	}
}

func TestProfileValidate(t *testing.T) {
	require.NoError(t, validProfile().Validate())

	tests := []struct {
		name   string
		mutate func(p *MachineProfile)
	}{
		{"empty id", func(p *MachineProfile) { p.ID = " " }},
		{"empty name", func(p *MachineProfile) { p.Name = "" }},
		{"bad type", func(p *MachineProfile) { p.Type = "lathe" }},
		{"bad source", func(p *MachineProfile) { p.Source = "mqtt" }},
		{"inverted range", func(p *MachineProfile) { p.Ranges.RPM = Range{Min: 10, Max: 1} }},
		{"zero width range", func(p *MachineProfile) { p.Ranges.Power = Range{Min: 2, Max: 2} }},
		{"nan bound", func(p *MachineProfile) { p.Ranges.Pressure.Max = math.NaN() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validProfile()
			tt.mutate(p)
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidProfile))
		})
	}

	var nilProfile *MachineProfile
	assert.ErrorIs(t, nilProfile.Validate(), ErrInvalidProfile)
}

func TestParseMachineType(t *testing.T) {
	cases := map[string]MachineType{
		"cnc_mill":         TypeCNCMill,
		"CNC-mill":         TypeCNCMill,
		"injection-molder": TypeInjectionMolding,
		"Conveyor":         TypeConveyor,
	}
	for input, want := range cases {
		got, err := ParseMachineType(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}
	_, err := ParseMachineType("lathe")
	assert.ErrorIs(t, err, ErrInvalidMachineType)
}

func TestParseParameterAndReadingAccessors(t *testing.T) {
	p, err := ParseParameter("power")
	require.NoError(t, err)
	assert.Equal(t, Power, p)
	_, err = ParseParameter("humidity")
	assert.ErrorIs(t, err, ErrUnknownParameter)

	r := Reading{Temperature: 1, Pressure: 2, Vibration: 3, RPM: 4, Power: 5}
	assert.Equal(t, [ParameterCount]float64{1, 2, 3, 4, 5}, r.Values())
	r2 := r.With(Vibration, 9)
	assert.Equal(t, 3.0, r.Vibration, "With must not mutate the receiver")
	assert.Equal(t, 9.0, r2.Value(Vibration))
}
