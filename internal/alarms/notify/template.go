package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Machine alert {{.EventLabel}}]
Machine: {{.Machine}} ({{.MachineID}})
Tier: {{.From}} -> {{.To}}
Anomaly Score: {{.Score}}
Dominant Parameter: {{.Dominant}}
Detail: {{.Detail}}
Time: {{.Time}}
Suggestion: {{.Suggestion}}
{{ if .ReportURL }}
Report: {{.ReportURL}}
{{ end }}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Machine    string
	MachineID  string
	From       string
	To         string
	Score      string
	Dominant   string
	Detail     string
	Time       string
	Suggestion string
	ReportURL  string
	Event      string
	EventLabel string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alert-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
