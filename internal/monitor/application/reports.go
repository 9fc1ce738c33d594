package application

import (
	"machine-monitor/internal/reports"
)

// FleetReport collects the fleet workbook input.
func (e *Engine) FleetReport() reports.Fleet {
	now := e.clock.Now().UTC()
	fleet := reports.Fleet{GeneratedAt: now}
	for _, ent := range e.registry.list() {
		view := e.view(ent, now)
		ent.mu.Lock()
		journal := ent.journal.all()
		ent.mu.Unlock()
		fleet.Machines = append(fleet.Machines, reports.MachineEntry{
			Profile:  view.Profile,
			Status:   view.Status,
			Snapshot: view.Snapshot,
			Journal:  journal,
		})
	}
	return fleet
}

// IncidentReport collects the incident report input for one machine.
func (e *Engine) IncidentReport(machineID string) (reports.Incident, error) {
	ent, err := e.lookup(machineID)
	if err != nil {
		return reports.Incident{}, err
	}
	now := e.clock.Now().UTC()
	view := e.view(ent, now)
	ent.mu.Lock()
	inc := reports.Incident{
		GeneratedAt: now,
		Profile:     view.Profile,
		Status:      view.Status,
		State:       view.State,
		Snapshot:    view.Snapshot,
		History:     ent.history.last(e.cfg.InsightWindow),
		Journal:     ent.journal.all(),
	}
	ent.mu.Unlock()
	if svc := e.insightService(); svc != nil {
		if status, err := svc.Latest(machineID); err == nil {
			inc.Insight = status.Latest
			inc.LastFailure = status.LastFailure
		}
	}
	return inc, nil
}
