package anomaly

import (
	"fmt"
	"strings"
)

// Tier is the severity bucket of an anomaly score.
type Tier int

const (
	TierNormal Tier = iota
	TierInfo
	TierWarning
	TierCritical
)

// String returns the wire name of the tier.
func (t Tier) String() string {
	switch t {
	case TierNormal:
		return "normal"
	case TierInfo:
		return "info"
	case TierWarning:
		return "warning"
	case TierCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Valid reports whether t is one of the four tiers.
func (t Tier) Valid() bool {
	return t >= TierNormal && t <= TierCritical
}

// ParseTier parses a tier name, case-insensitively.
func ParseTier(value string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "normal":
		return TierNormal, nil
	case "info":
		return TierInfo, nil
	case "warning":
		return TierWarning, nil
	case "critical":
		return TierCritical, nil
	default:
		return TierNormal, fmt.Errorf("%w: %q", ErrUnknownTier, value)
	}
}

// MarshalText encodes the tier by name.
func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTier, int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a tier name.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
