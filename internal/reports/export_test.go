package reports

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	alarms "machine-monitor/internal/alarms/domain"
	anomaly "machine-monitor/internal/anomaly/domain"
	insight "machine-monitor/internal/insight/domain"
	machines "machine-monitor/internal/machines/domain"
	"machine-monitor/internal/stream"
)

var at = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func pump() *machines.MachineProfile {
	return &machines.MachineProfile{
		ID:   "pump-1",
		Name: "Coolant Pump",
		Type: machines.TypePump,
		Ranges: machines.NominalRanges{
			Temperature: machines.Range{Min: 20, Max: 60},
			Pressure:    machines.Range{Min: 30, Max: 90},
			Vibration:   machines.Range{Min: 0.5, Max: 4},
			RPM:         machines.Range{Min: 1400, Max: 1800},
			Power:       machines.Range{Min: 5, Max: 15},
		},
	}
}

func snapshot() *stream.Snapshot {
	return &stream.Snapshot{
		MachineID: "pump-1",
		Name:      "Coolant Pump",
		Type:      machines.TypePump,
		Reading: machines.Reading{
			MachineID: "pump-1", Timestamp: at,
			Temperature: 72, Pressure: 60, Vibration: 2, RPM: 1600, Power: 10,
		},
		Score:     0.91,
		Tier:      anomaly.TierCritical,
		Dominant:  "temperature",
		Anomalies: []string{"Temperature anomaly detected: 72.00 (normal: 20-60)"},
		Timestamp: at,
	}
}

func journal() []alarms.Transition {
	return []alarms.Transition{{
		Seq: 4, At: at, Observed: anomaly.TierCritical,
		From: anomaly.TierNormal, To: anomaly.TierCritical,
		Reason: alarms.ReasonEscalated, Actionable: true,
	}}
}

func TestBuildFleetXLSX(t *testing.T) {
	idle := pump()
	idle.ID = "pump-2"
	data, err := BuildFleetXLSX(Fleet{
		GeneratedAt: at,
		Machines: []MachineEntry{
			{Profile: pump(), Status: "critical", Snapshot: snapshot(), Journal: journal()},
			{Profile: idle, Status: "offline"},
		},
	})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{SheetMachines, SheetTransitions}, f.GetSheetList())
	id, err := f.GetCellValue(SheetMachines, "A2")
	require.NoError(t, err)
	assert.Equal(t, "pump-1", id)
	status, err := f.GetCellValue(SheetMachines, "D2")
	require.NoError(t, err)
	assert.Equal(t, "critical", status)
	temp, err := f.GetCellValue(SheetMachines, "G2")
	require.NoError(t, err)
	assert.Equal(t, "72", temp)
	offline, err := f.GetCellValue(SheetMachines, "D3")
	require.NoError(t, err)
	assert.Equal(t, "offline", offline)

	to, err := f.GetCellValue(SheetTransitions, "F2")
	require.NoError(t, err)
	assert.Equal(t, "critical", to)
}

func TestBuildIncidentPDF(t *testing.T) {
	data, err := BuildIncidentPDF(Incident{
		GeneratedAt: at,
		Profile:     pump(),
		Status:      "critical",
		State:       alarms.State{Tier: anomaly.TierCritical, EnteredAt: at},
		Snapshot:    snapshot(),
		Journal:     journal(),
		Insight: &insight.Result{
			Provider:    "template",
			GeneratedAt: at,
			Narrative:   insight.Narrative{Sections: insight.Sections{Issue: "Overheating", Action: "Inspect coolant"}},
		},
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))

	_, err = BuildIncidentPDF(Incident{GeneratedAt: at, Profile: pump(), Status: "offline"})
	require.NoError(t, err)

	_, err = BuildIncidentPDF(Incident{})
	assert.Error(t, err)
}

func TestNarrativeTextFallsBackToSections(t *testing.T) {
	assert.Equal(t, "plain", narrativeText(insight.Narrative{Text: " plain "}))
	assert.Equal(t, "Issue: hot\nAction: cool it", narrativeText(insight.Narrative{
		Sections: insight.Sections{Issue: "hot", Action: "cool it"},
	}))
}
