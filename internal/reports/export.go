package reports

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	alarms "machine-monitor/internal/alarms/domain"
	insight "machine-monitor/internal/insight/domain"
	machines "machine-monitor/internal/machines/domain"
	"machine-monitor/internal/stream"
)

// Sheet names of the fleet workbook.
const (
	SheetMachines    = "machines"
	SheetTransitions = "transitions"
)

// MachineEntry is one machine in a fleet report.
type MachineEntry struct {
	Profile  *machines.MachineProfile
	Status   string
	Snapshot *stream.Snapshot
	Journal  []alarms.Transition
}

// Fleet is the input of the fleet workbook.
type Fleet struct {
	GeneratedAt time.Time
	Machines    []MachineEntry
}

// Incident is the input of a single-machine incident report.
type Incident struct {
	GeneratedAt time.Time
	Profile     *machines.MachineProfile
	Status      string
	State       alarms.State
	Snapshot    *stream.Snapshot
	History     []machines.Reading
	Journal     []alarms.Transition
	Insight     *insight.Result
	LastFailure *insight.Failure
}

// BuildFleetXLSX renders the latest snapshot of every machine plus the
// transition journal.
func BuildFleetXLSX(fleet Fleet) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", SheetMachines); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(SheetTransitions); err != nil {
		return nil, err
	}

	header := []any{"Machine", "Name", "Type", "Status", "Score", "Timestamp"}
	for _, p := range machines.Parameters {
		header = append(header, fmt.Sprintf("%s (%s)", p.Label(), p.Unit()))
	}
	header = append(header, "Anomalies")
	if err := f.SetSheetRow(SheetMachines, "A1", &header); err != nil {
		return nil, err
	}
	for i, m := range fleet.Machines {
		row := []any{m.Profile.ID, m.Profile.Name, string(m.Profile.Type), m.Status}
		if m.Snapshot != nil {
			row = append(row, m.Snapshot.Score, m.Snapshot.Timestamp.Format(time.RFC3339))
			for _, v := range m.Snapshot.Reading.Values() {
				row = append(row, v)
			}
			row = append(row, strings.Join(m.Snapshot.Anomalies, "; "))
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(SheetMachines, cell, &row); err != nil {
			return nil, err
		}
	}

	_ = f.SetSheetRow(SheetTransitions, "A1", &[]any{"Machine", "Seq", "At", "Observed", "From", "To", "Reason", "Actionable"})
	row := 2
	for _, m := range fleet.Machines {
		for _, tr := range m.Journal {
			_ = f.SetCellValue(SheetTransitions, fmt.Sprintf("A%d", row), m.Profile.ID)
			_ = f.SetCellValue(SheetTransitions, fmt.Sprintf("B%d", row), tr.Seq)
			_ = f.SetCellValue(SheetTransitions, fmt.Sprintf("C%d", row), tr.At.Format(time.RFC3339))
			_ = f.SetCellValue(SheetTransitions, fmt.Sprintf("D%d", row), tr.Observed.String())
			_ = f.SetCellValue(SheetTransitions, fmt.Sprintf("E%d", row), tr.From.String())
			_ = f.SetCellValue(SheetTransitions, fmt.Sprintf("F%d", row), tr.To.String())
			_ = f.SetCellValue(SheetTransitions, fmt.Sprintf("G%d", row), string(tr.Reason))
			_ = f.SetCellValue(SheetTransitions, fmt.Sprintf("H%d", row), tr.Actionable)
			row++
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildIncidentPDF renders a one-machine incident report with the latest
// narrative.
func BuildIncidentPDF(inc Incident) ([]byte, error) {
	if inc.Profile == nil {
		return nil, fmt.Errorf("reports: nil profile")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, tr(fmt.Sprintf("Incident Report: %s", inc.Profile.Name)))
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, tr(fmt.Sprintf("Machine: %s (%s)", inc.Profile.ID, inc.Profile.Type)))
	pdf.Ln(5)
	pdf.Cell(0, 6, tr(fmt.Sprintf("Status: %s", inc.Status)))
	pdf.Ln(5)
	if !inc.State.EnteredAt.IsZero() {
		pdf.Cell(0, 6, tr(fmt.Sprintf("In tier since: %s", inc.State.EnteredAt.Format(time.RFC3339))))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, tr(fmt.Sprintf("Generated: %s", inc.GeneratedAt.Format(time.RFC3339))))
	pdf.Ln(8)

	if inc.Snapshot != nil {
		pdf.Cell(0, 6, tr(fmt.Sprintf("Anomaly score: %.3f at %s", inc.Snapshot.Score, inc.Snapshot.Timestamp.Format(time.RFC3339))))
		pdf.Ln(8)

		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(60, 6, "Parameter", "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, "Value", "1", 0, "C", false, 0, "")
		pdf.CellFormat(50, 6, "Normal range", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 10)
		for _, p := range machines.Parameters {
			r := inc.Profile.Ranges.For(p)
			pdf.CellFormat(60, 6, tr(fmt.Sprintf("%s (%s)", p.Label(), p.Unit())), "1", 0, "L", false, 0, "")
			pdf.CellFormat(40, 6, fmt.Sprintf("%.2f", inc.Snapshot.Reading.Value(p)), "1", 0, "R", false, 0, "")
			pdf.CellFormat(50, 6, fmt.Sprintf("%g - %g", r.Min, r.Max), "1", 0, "C", false, 0, "")
			pdf.Ln(-1)
		}
		pdf.Ln(4)
		for _, msg := range inc.Snapshot.Anomalies {
			pdf.MultiCell(0, 5, tr("- "+msg), "", "L", false)
		}
	}

	if len(inc.Journal) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 10)
		pdf.Cell(0, 6, "Transitions")
		pdf.Ln(6)
		pdf.CellFormat(50, 6, "At", "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, "From", "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, "To", "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, "Reason", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 10)
		for _, t := range inc.Journal {
			pdf.CellFormat(50, 6, t.At.Format(time.RFC3339), "1", 0, "C", false, 0, "")
			pdf.CellFormat(30, 6, t.From.String(), "1", 0, "C", false, 0, "")
			pdf.CellFormat(30, 6, t.To.String(), "1", 0, "C", false, 0, "")
			pdf.CellFormat(40, 6, string(t.Reason), "1", 0, "C", false, 0, "")
			pdf.Ln(-1)
		}
	}

	pdf.Ln(4)
	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(0, 6, "Insight")
	pdf.Ln(6)
	pdf.SetFont("Arial", "", 10)
	switch {
	case inc.Insight != nil:
		pdf.MultiCell(0, 5, tr(narrativeText(inc.Insight.Narrative)), "", "L", false)
		pdf.Ln(2)
		pdf.Cell(0, 6, tr(fmt.Sprintf("Provider: %s, generated %s", inc.Insight.Provider, inc.Insight.GeneratedAt.Format(time.RFC3339))))
		pdf.Ln(5)
	case inc.LastFailure != nil:
		pdf.MultiCell(0, 5, tr("Last attempt failed: "+inc.LastFailure.Error), "", "L", false)
	default:
		pdf.Cell(0, 6, "No insight available.")
		pdf.Ln(5)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func narrativeText(n insight.Narrative) string {
	if s := strings.TrimSpace(n.Text); s != "" {
		return s
	}
	var b strings.Builder
	for _, part := range []struct{ label, body string }{
		{"Issue", n.Sections.Issue},
		{"Cause", n.Sections.Cause},
		{"Risk", n.Sections.Risk},
		{"Action", n.Sections.Action},
	} {
		if strings.TrimSpace(part.body) == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", part.label, strings.TrimSpace(part.body))
	}
	return strings.TrimSpace(b.String())
}
