package roster

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	machines "machine-monitor/internal/machines/domain"
)

// ErrEmptyRoster is returned when a roster file lists no machines at all.
var ErrEmptyRoster = errors.New("roster: no machines defined")

type rosterFile struct {
	Machines []machineEntry `yaml:"machines"`
}

type machineEntry struct {
	ID           string                 `yaml:"id"`
	Name         string                 `yaml:"name"`
	Type         string                 `yaml:"type"`
	Source       string                 `yaml:"source"`
	NormalRanges machines.NominalRanges `yaml:"normal_ranges"`
}

// Roster is the result of loading a machine roster. Entries that fail
// validation are reported in Rejected and left out of Profiles.
type Roster struct {
	Profiles []*machines.MachineProfile
	Rejected []error
}

// LoadFile reads a YAML (or JSON) roster from disk.
func LoadFile(path string) (Roster, error) {
	if strings.TrimSpace(path) == "" {
		return Roster{}, errors.New("roster: empty path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Roster{}, fmt.Errorf("roster: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a roster document. JSON input is accepted since it is valid YAML.
func Parse(data []byte) (Roster, error) {
	var file rosterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Roster{}, fmt.Errorf("roster: decode: %w", err)
	}
	if len(file.Machines) == 0 {
		return Roster{}, ErrEmptyRoster
	}

	var out Roster
	seen := make(map[string]struct{}, len(file.Machines))
	for i, entry := range file.Machines {
		profile, err := entry.toProfile()
		if err != nil {
			out.Rejected = append(out.Rejected, fmt.Errorf("roster entry %d: %w", i, err))
			continue
		}
		if _, dup := seen[profile.ID]; dup {
			out.Rejected = append(out.Rejected, fmt.Errorf("roster entry %d: %w: duplicate id %s", i, machines.ErrInvalidProfile, profile.ID))
			continue
		}
		seen[profile.ID] = struct{}{}
		out.Profiles = append(out.Profiles, profile)
	}
	return out, nil
}

func (e machineEntry) toProfile() (*machines.MachineProfile, error) {
	machineType, err := machines.ParseMachineType(e.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: machine %s: %v", machines.ErrInvalidProfile, e.ID, err)
	}
	profile := &machines.MachineProfile{
		ID:     strings.TrimSpace(e.ID),
		Name:   strings.TrimSpace(e.Name),
		Type:   machineType,
		Ranges: e.NormalRanges,
		Source: machines.SourceKind(strings.ToLower(strings.TrimSpace(e.Source))),
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}
