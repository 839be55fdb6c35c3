package alarms

import (
	"errors"
	"strings"
)

// Tier classifies how an alarm is detected.
type Tier string

const (
	TierInstant     Tier = "T1"
	TierPattern     Tier = "T2"
	TierMultiSignal Tier = "T3"
	TierSite        Tier = "T4"
	TierEnvironment Tier = "T5"
)

// Valid reports whether the tier is known.
func (t Tier) Valid() bool {
	switch t {
	case TierInstant, TierPattern, TierMultiSignal, TierSite, TierEnvironment:
		return true
	default:
		return false
	}
}

// Severity is the urgency attached to an alarm.
type Severity string

const (
	SeverityNormal    Severity = "normal"
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// NormalizeSeverity validates a severity string.
func NormalizeSeverity(value string) (Severity, bool) {
	switch Severity(strings.ToLower(strings.TrimSpace(value))) {
	case SeverityNormal:
		return SeverityNormal, true
	case SeverityInfo:
		return SeverityInfo, true
	case SeverityWarning:
		return SeverityWarning, true
	case SeverityCritical:
		return SeverityCritical, true
	case SeverityEmergency:
		return SeverityEmergency, true
	default:
		return "", false
	}
}

// Categories with evaluator-specific handling.
const (
	CategoryTemperature = "temperature"
	CategoryDoor        = "door"
	CategoryDevice      = "device"
	CategoryEnvironment = "environment"
	CategorySite        = "site"
)

// Definition is a catalog entry describing one monitorable failure mode.
type Definition struct {
	ID                    string   `json:"id" yaml:"id"`
	Slug                  string   `json:"slug" yaml:"slug"`
	DisplayName           string   `json:"display_name" yaml:"display_name"`
	Description           string   `json:"description,omitempty" yaml:"description"`
	Category              string   `json:"category" yaml:"category"`
	Subcategory           string   `json:"subcategory,omitempty" yaml:"subcategory"`
	Severity              Severity `json:"severity" yaml:"severity"`
	Tier                  Tier     `json:"tier" yaml:"tier"`
	DetectionField        string   `json:"detection_field,omitempty" yaml:"detection_field"`
	ThresholdMin          *float64 `json:"threshold_min,omitempty" yaml:"threshold_min"`
	ThresholdMax          *float64 `json:"threshold_max,omitempty" yaml:"threshold_max"`
	ThresholdUnit         string   `json:"threshold_unit,omitempty" yaml:"threshold_unit"`
	DurationMinutes       int      `json:"duration_minutes" yaml:"duration_minutes"`
	CooldownMinutes       int      `json:"cooldown_minutes" yaml:"cooldown_minutes"`
	EscalationMinutes     int      `json:"escalation_minutes" yaml:"escalation_minutes"`
	ApplicableUnitTypes   []string `json:"applicable_unit_types,omitempty" yaml:"applicable_unit_types"`
	ApplicableSensorTypes []string `json:"applicable_sensor_types,omitempty" yaml:"applicable_sensor_types"`
	NotificationChannels  []string `json:"notification_channels,omitempty" yaml:"notification_channels"`
	CorrectiveAction      string   `json:"corrective_action,omitempty" yaml:"corrective_action"`
	AIHints               []string `json:"ai_hints,omitempty" yaml:"ai_hints"`
	Enabled               bool     `json:"enabled" yaml:"enabled"`
	SortOrder             int      `json:"sort_order" yaml:"sort_order"`
}

// Validate checks required definition fields.
func (d Definition) Validate() error {
	if d.Slug == "" {
		return errors.New("alarm definition: slug required")
	}
	if !d.Tier.Valid() {
		return errors.New("alarm definition: invalid tier " + string(d.Tier))
	}
	if _, ok := NormalizeSeverity(string(d.Severity)); !ok {
		return errors.New("alarm definition: invalid severity " + string(d.Severity))
	}
	if d.ThresholdMin != nil && d.ThresholdMax != nil && *d.ThresholdMin > *d.ThresholdMax {
		return errors.New("alarm definition: threshold_min greater than threshold_max")
	}
	if d.DurationMinutes < 0 || d.CooldownMinutes < 0 || d.EscalationMinutes < 0 {
		return errors.New("alarm definition: negative window")
	}
	return nil
}

// SensorSpecific reports whether the definition requires an attached sensor type.
func (d Definition) SensorSpecific() bool {
	return len(d.ApplicableSensorTypes) > 0
}

// AppliesTo runs the applicability intersection test for a unit.
func (d Definition) AppliesTo(unitType string, sensorTypes []string) bool {
	if len(d.ApplicableUnitTypes) > 0 && !containsFold(d.ApplicableUnitTypes, unitType) {
		return false
	}
	if !d.SensorSpecific() {
		return true
	}
	for _, sensorType := range sensorTypes {
		if containsFold(d.ApplicableSensorTypes, sensorType) {
			return true
		}
	}
	return false
}

func containsFold(values []string, target string) bool {
	for _, value := range values {
		if strings.EqualFold(value, target) {
			return true
		}
	}
	return false
}
