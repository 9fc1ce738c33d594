package application

import (
	"time"

	alarms "machine-monitor/internal/alarms/domain"
	anomaly "machine-monitor/internal/anomaly/domain"
)

// MachineRegistered is published after a machine joins the pipeline.
type MachineRegistered struct {
	MachineID    string
	RegisteredAt time.Time
}

// MachineDeregistered is published after a machine leaves the pipeline.
type MachineDeregistered struct {
	MachineID string
	At        time.Time
}

// TierChanged is published for every tier change and every actionable
// transition, in tick order per machine.
type TierChanged struct {
	MachineID  string
	Transition alarms.Transition
	Score      anomaly.Score
}
