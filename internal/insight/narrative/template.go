package narrative

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	anomaly "machine-monitor/internal/anomaly/domain"
	insight "machine-monitor/internal/insight/domain"
	machines "machine-monitor/internal/machines/domain"
)

// DefaultNarrativeTemplate lays the offline sections out as markdown.
const DefaultNarrativeTemplate = `**Issue**: {{.Issue}}
**Cause**: {{.Cause}}
**Risk**: {{.Risk}}
**Action**: {{.Action}}`

// TemplateGenerator produces narratives offline from canned maintenance knowledge.
type TemplateGenerator struct {
	tpl *template.Template
}

// NewTemplateGenerator parses tpl, falling back to DefaultNarrativeTemplate.
func NewTemplateGenerator(tpl string) (*TemplateGenerator, error) {
	if tpl == "" {
		tpl = DefaultNarrativeTemplate
	}
	parsed, err := template.New("insight-narrative").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &TemplateGenerator{tpl: parsed}, nil
}

// Name implements insight.Named.
func (g *TemplateGenerator) Name() string { return "template" }

// Generate implements insight.Generator.
func (g *TemplateGenerator) Generate(ctx context.Context, bundle insight.Bundle) (insight.Narrative, error) {
	if g == nil || g.tpl == nil {
		return insight.Narrative{}, errors.New("insight template: nil")
	}
	if err := ctx.Err(); err != nil {
		return insight.Narrative{}, err
	}
	if bundle.Profile == nil {
		return insight.Narrative{}, errors.New("insight template: bundle without profile")
	}
	sections := insight.Sections{
		Issue:  issueFor(bundle),
		Cause:  causeFor(bundle.Score),
		Risk:   riskFor(bundle.Score.Tier),
		Action: actionFor(bundle.Score),
	}
	var buf bytes.Buffer
	if err := g.tpl.Execute(&buf, sections); err != nil {
		return insight.Narrative{}, err
	}
	return insight.Narrative{Text: buf.String(), Sections: sections}, nil
}

func issueFor(bundle insight.Bundle) string {
	if summary := bundle.Score.Summary(); summary != "" {
		return fmt.Sprintf("%s on %s (score %.2f, %s).", summary, bundle.Profile.Name, bundle.Score.Value, bundle.Score.Tier)
	}
	return fmt.Sprintf("All parameters of %s are within their normal ranges (score %.2f).", bundle.Profile.Name, bundle.Score.Value)
}

func causeFor(score anomaly.Score) string {
	if len(score.Anomalies) == 0 {
		return "No abnormal signal detected."
	}
	high := true
	for _, d := range score.Anomalies {
		if d.Parameter == score.Dominant {
			high = d.Direction == anomaly.DirectionHigh
		}
	}
	switch score.Dominant {
	case machines.Temperature:
		if high {
			return "Likely insufficient cooling, clogged filters or excessive friction from poor lubrication."
		}
		return "Likely a heater fault or the machine running well below its working load."
	case machines.Pressure:
		if high {
			return "Likely a blocked line, a stuck valve or a failing pressure regulator."
		}
		return "Likely a leak, a worn seal or a weakening pump."
	case machines.Vibration:
		return "Likely bearing wear, rotor imbalance, shaft misalignment or loose mounting."
	case machines.RPM:
		if high {
			return "Likely a drive controller fault or a sudden loss of load."
		}
		return "Likely mechanical binding, belt slip or an overloaded drive."
	case machines.Power:
		if high {
			return "Likely motor overload, increased mechanical resistance or an electrical fault."
		}
		return "Likely a supply problem or the machine idling unexpectedly."
	default:
		return "Cause could not be determined from the available signals."
	}
}

func riskFor(tier anomaly.Tier) string {
	switch tier {
	case anomaly.TierCritical:
		return "High: continued operation may damage the machine or stop the line."
	case anomaly.TierWarning:
		return "Moderate: degradation is likely to worsen without intervention."
	case anomaly.TierInfo:
		return "Low: readings are near their limits but still acceptable."
	default:
		return "None at the moment."
	}
}

func actionFor(score anomaly.Score) string {
	switch score.Tier {
	case anomaly.TierCritical:
		return fmt.Sprintf("Reduce load or stop the machine and inspect %s immediately.", lower(score.Dominant.Label()))
	case anomaly.TierWarning:
		return fmt.Sprintf("Schedule an inspection of %s within the current shift.", lower(score.Dominant.Label()))
	case anomaly.TierInfo:
		return fmt.Sprintf("Keep monitoring %s.", lower(score.Dominant.Label()))
	default:
		return "No action required."
	}
}

func lower(label string) string {
	if label == "RPM" {
		return "spindle speed"
	}
	return strings.ToLower(label)
}
