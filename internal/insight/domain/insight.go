package insight

import (
	"context"
	"errors"
	"strings"
	"time"

	alarms "machine-monitor/internal/alarms/domain"
	anomaly "machine-monitor/internal/anomaly/domain"
	machines "machine-monitor/internal/machines/domain"
)

var (
	// ErrUnknownMachine is returned for requests about machines that are not registered.
	ErrUnknownMachine = errors.New("insight: unknown machine")
	// ErrDeregistered is returned when the machine went away while a call was in flight.
	ErrDeregistered = errors.New("insight: machine deregistered")
	// ErrMalformed is returned when the collaborator answered with neither text nor sections.
	ErrMalformed = errors.New("insight: malformed narrative")
	// ErrProviderStatus is returned when the collaborator answered with a non-2xx status.
	ErrProviderStatus = errors.New("insight: provider returned non-2xx")
)

// Trigger records why an insight was requested.
type Trigger string

const (
	TriggerTransition Trigger = "transition"
	TriggerManual     Trigger = "manual"
)

// Bundle is the structured context handed to a narrative collaborator.
type Bundle struct {
	MachineID   string                   `json:"machine_id"`
	Profile     *machines.MachineProfile `json:"profile"`
	Reading     machines.Reading         `json:"reading"`
	Score       anomaly.Score            `json:"score"`
	State       alarms.State             `json:"state"`
	Window      []machines.Reading       `json:"window"`
	Trigger     Trigger                  `json:"trigger"`
	Seq         uint64                   `json:"seq"`
	RequestedAt time.Time                `json:"requested_at"`
}

// Sections is the structured form of a narrative.
type Sections struct {
	Issue  string            `json:"issue,omitempty"`
	Cause  string            `json:"cause,omitempty"`
	Risk   string            `json:"risk,omitempty"`
	Action string            `json:"action,omitempty"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// Empty reports whether no section has content.
func (s Sections) Empty() bool {
	if strings.TrimSpace(s.Issue+s.Cause+s.Risk+s.Action) != "" {
		return false
	}
	for _, v := range s.Extra {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Narrative is what a collaborator returns: plain text, sections, or both.
type Narrative struct {
	Text     string   `json:"text,omitempty"`
	Sections Sections `json:"sections"`
}

// Valid reports whether the narrative carries any content.
func (n Narrative) Valid() bool {
	return strings.TrimSpace(n.Text) != "" || !n.Sections.Empty()
}

// Result is a successful insight.
type Result struct {
	ID          string        `json:"id"`
	MachineID   string        `json:"machine_id"`
	Seq         uint64        `json:"seq"`
	Trigger     Trigger       `json:"trigger"`
	Tier        anomaly.Tier  `json:"tier"`
	Score       float64       `json:"score"`
	Narrative   Narrative     `json:"narrative"`
	Provider    string        `json:"provider"`
	RequestedAt time.Time     `json:"requested_at"`
	GeneratedAt time.Time     `json:"generated_at"`
	Latency     time.Duration `json:"latency"`
}

// Failure records the last failed insight attempt for a machine.
type Failure struct {
	Seq     uint64    `json:"seq"`
	Trigger Trigger   `json:"trigger"`
	At      time.Time `json:"at"`
	Error   string    `json:"error"`
}

// Generator is a narrative collaborator.
type Generator interface {
	Generate(ctx context.Context, bundle Bundle) (Narrative, error)
}

// Named is implemented by generators that report a provider name.
type Named interface {
	Name() string
}

// ProviderName returns the generator name, or "custom".
func ProviderName(g Generator) string {
	if named, ok := g.(Named); ok {
		return named.Name()
	}
	return "custom"
}
