package narrative

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"

	insight "machine-monitor/internal/insight/domain"
	machines "machine-monitor/internal/machines/domain"
)

// SystemInstruction frames the collaborator as a maintenance analyst.
const SystemInstruction = "You are an industrial maintenance engineer. Explain machine anomalies briefly and concretely. " +
	"Answer with the sections **Issue**:, **Cause**:, **Risk**: and **Action**:."

// DefaultPromptTemplate renders a bundle into the text sent to remote collaborators.
const DefaultPromptTemplate = `Machine {{.Name}} ({{.Type}}, id {{.MachineID}}) is at alert tier {{.Tier}} with anomaly score {{.Score}}.
Trigger: {{.Trigger}}
Current reading:
{{- range .Parameters}}
- {{.Label}}: {{.Value}} {{.Unit}} (normal {{.Min}}-{{.Max}}){{if .Flag}} <- {{.Flag}}{{end}}
{{- end}}
{{- if .Recent}}
Recent {{.Parameter}} values, oldest first: {{.Recent}}
{{- end}}
Explain what is going on and what the operator should do next.`

// PromptData is the flattened view of a bundle used by templates.
type PromptData struct {
	MachineID  string
	Name       string
	Type       string
	Tier       string
	Score      string
	Trigger    string
	Parameter  string
	Recent     string
	Summary    string
	Parameters []ParameterLine
}

// ParameterLine is one parameter of the current reading.
type ParameterLine struct {
	Label string
	Unit  string
	Value string
	Min   string
	Max   string
	Flag  string
}

// Prompt renders bundles with a text/template.
type Prompt struct {
	tpl *template.Template
}

// NewPrompt parses tpl, falling back to DefaultPromptTemplate.
func NewPrompt(tpl string) (*Prompt, error) {
	if tpl == "" {
		tpl = DefaultPromptTemplate
	}
	parsed, err := template.New("insight-prompt").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Prompt{tpl: parsed}, nil
}

// Render applies the template to the bundle.
func (p *Prompt) Render(bundle insight.Bundle) (string, error) {
	if p == nil || p.tpl == nil {
		return "", errors.New("insight prompt: nil")
	}
	data, err := BuildPromptData(bundle)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := p.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildPromptData flattens a bundle for templating.
func BuildPromptData(bundle insight.Bundle) (PromptData, error) {
	if bundle.Profile == nil {
		return PromptData{}, errors.New("insight prompt: bundle without profile")
	}
	data := PromptData{
		MachineID: bundle.MachineID,
		Name:      bundle.Profile.Name,
		Type:      string(bundle.Profile.Type),
		Tier:      bundle.Score.Tier.String(),
		Score:     fmt.Sprintf("%.2f", bundle.Score.Value),
		Trigger:   string(bundle.Trigger),
		Parameter: bundle.Score.Dominant.Label(),
		Summary:   bundle.Score.Summary(),
	}
	flags := make(map[machines.Parameter]string, len(bundle.Score.Anomalies))
	for _, d := range bundle.Score.Anomalies {
		if d.Outside {
			flags[d.Parameter] = "out of range " + string(d.Direction)
		} else {
			flags[d.Parameter] = "near " + string(d.Direction) + " limit"
		}
	}
	for _, param := range machines.Parameters {
		r := bundle.Profile.Ranges.For(param)
		data.Parameters = append(data.Parameters, ParameterLine{
			Label: param.Label(),
			Unit:  param.Unit(),
			Value: formatFloat(bundle.Reading.Value(param)),
			Min:   formatFloat(r.Min),
			Max:   formatFloat(r.Max),
			Flag:  flags[param],
		})
	}
	if len(bundle.Window) > 0 {
		var recent bytes.Buffer
		for i, r := range bundle.Window {
			if i > 0 {
				recent.WriteString(", ")
			}
			recent.WriteString(formatFloat(r.Value(bundle.Score.Dominant)))
		}
		data.Recent = recent.String()
	}
	return data, nil
}

func formatFloat(value float64) string {
	return fmt.Sprintf("%.2f", value)
}
