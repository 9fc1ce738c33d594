package telemetry

import (
	"time"

	machines "machine-monitor/internal/machines/domain"
)

// Source produces readings for one machine. The pipeline only ever sees the
// readings, never how they were generated, so a simulator and a real feed are
// interchangeable.
type Source interface {
	// Next returns the readings produced since the previous call, oldest first.
	// An empty slice means nothing new arrived this tick.
	Next(profile *machines.MachineProfile, at time.Time) []machines.Reading
}
