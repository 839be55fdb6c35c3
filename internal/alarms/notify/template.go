package notify

import (
	"bytes"
	"errors"
	"strconv"
	"text/template"
	"time"

	alarmapp "frostguard/internal/alarms/application"
)

const DefaultTemplate = `[{{.Label}}] {{.Slug}} on unit {{.UnitID}}
Severity: {{.Severity}}
Status: {{.Status}}
{{- if .TriggerValue}}
Trigger: {{.TriggerField}} = {{.TriggerValue}}
{{- end}}
{{- if .Detail}}
Detail: {{.Detail}}
{{- end}}
Triggered: {{.TriggeredAt}}
{{- if .ResolvedAt}}
Resolved: {{.ResolvedAt}}
{{- end}}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Label        string
	Slug         string
	OrgID        string
	SiteID       string
	UnitID       string
	Severity     string
	Status       string
	TriggerField string
	TriggerValue string
	Detail       string
	TriggeredAt  string
	ResolvedAt   string
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
	parsed, err := template.New("alarm-notification").Option("missingkey=zero").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alarm template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// DataFor builds template fields from a lifecycle event.
func DataFor(event alarmapp.AlarmEvent) TemplateData {
	e := event.Event
	data := TemplateData{
		Label:        labelFor(event.Type),
		Slug:         e.Slug,
		OrgID:        e.OrgID,
		SiteID:       e.SiteID,
		UnitID:       e.UnitID,
		Severity:     string(e.Severity),
		Status:       string(e.Status),
		TriggerField: e.TriggerField,
		Detail:       e.Detail,
		TriggeredAt:  formatTime(e.TriggeredAt),
		ResolvedAt:   formatTime(e.ResolvedAt),
	}
	if e.TriggerValue != nil {
		data.TriggerValue = strconv.FormatFloat(*e.TriggerValue, 'f', -1, 64)
	}
	return data
}

func labelFor(eventType string) string {
	switch eventType {
	case alarmapp.EventFired:
		return "ALARM"
	case alarmapp.EventAutoResolved:
		return "CLEARED"
	case alarmapp.EventAcknowledged:
		return "ACKNOWLEDGED"
	case alarmapp.EventResolved:
		return "RESOLVED"
	default:
		return "INFO"
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
