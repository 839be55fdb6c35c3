package telemetry

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Reading fields the evaluators know how to inspect.
const (
	FieldTemperature    = "temperature"
	FieldHumidity       = "humidity"
	FieldBatteryLevel   = "battery_level"
	FieldBatteryVoltage = "battery_voltage"
	FieldSignalStrength = "signal_strength"
	FieldDoorOpen       = "door_open"
	FieldLeakDetected   = "leak_detected"
	FieldTamper         = "tamper"
	FieldAirQuality     = "air_quality"
)

// Door states reported by door sensors.
const (
	DoorOpen   = "open"
	DoorClosed = "closed"
)

// ErrInvalidReading indicates a reading without required identifiers.
var ErrInvalidReading = errors.New("telemetry: invalid reading")

// Reading is one normalized sensor reading for a unit.
type Reading struct {
	ReadingID      string    `json:"readingId,omitempty"`
	UnitID         string    `json:"unitId"`
	OrgID          string    `json:"orgId"`
	SiteID         string    `json:"siteId,omitempty"`
	DeviceID       string    `json:"deviceId,omitempty"`
	Temperature    *float64  `json:"temperature,omitempty"`
	Humidity       *float64  `json:"humidity,omitempty"`
	BatteryLevel   *float64  `json:"batteryLevel,omitempty"`
	BatteryVoltage *float64  `json:"batteryVoltage,omitempty"`
	SignalStrength *float64  `json:"signalStrength,omitempty"`
	AirQuality     *float64  `json:"airQuality,omitempty"`
	DoorOpen       *bool     `json:"doorOpen,omitempty"`
	DoorState      string    `json:"doorState,omitempty"`
	LeakDetected   *bool     `json:"leakDetected,omitempty"`
	Tamper         *bool     `json:"tamper,omitempty"`
	RecordedAt     time.Time `json:"recordedAt"`
}

// Validate checks identifiers and timestamp.
func (r Reading) Validate() error {
	var missing []string
	if r.UnitID == "" {
		missing = append(missing, "unitId")
	}
	if r.OrgID == "" {
		missing = append(missing, "orgId")
	}
	if r.RecordedAt.IsZero() {
		missing = append(missing, "recordedAt")
	}
	if len(missing) > 0 {
		return errors.Join(ErrInvalidReading, errors.New("missing "+strings.Join(missing, ", ")))
	}
	return nil
}

// NumericField returns a numeric field value, false when absent.
func (r Reading) NumericField(field string) (float64, bool) {
	var value *float64
	switch field {
	case FieldTemperature:
		value = r.Temperature
	case FieldHumidity:
		value = r.Humidity
	case FieldBatteryLevel:
		value = r.BatteryLevel
	case FieldBatteryVoltage:
		value = r.BatteryVoltage
	case FieldSignalStrength:
		value = r.SignalStrength
	case FieldAirQuality:
		value = r.AirQuality
	}
	if value == nil {
		return 0, false
	}
	return *value, true
}

// BoolField returns a boolean field value, false when absent.
func (r Reading) BoolField(field string) (bool, bool) {
	var value *bool
	switch field {
	case FieldDoorOpen:
		if open, ok := r.IsDoorOpen(); ok {
			return open, true
		}
		return false, false
	case FieldLeakDetected:
		value = r.LeakDetected
	case FieldTamper:
		value = r.Tamper
	}
	if value == nil {
		return false, false
	}
	return *value, true
}

// IsBoolField reports whether field is boolean-typed.
func IsBoolField(field string) bool {
	switch field {
	case FieldDoorOpen, FieldLeakDetected, FieldTamper:
		return true
	default:
		return false
	}
}

// IsDoorOpen resolves door state from doorOpen or doorState.
func (r Reading) IsDoorOpen() (bool, bool) {
	if r.DoorOpen != nil {
		return *r.DoorOpen, true
	}
	switch strings.ToLower(r.DoorState) {
	case DoorOpen:
		return true, true
	case DoorClosed:
		return false, true
	}
	return false, false
}

// Snapshot returns the fields present on the reading.
func (r Reading) Snapshot() map[string]any {
	out := map[string]any{"recorded_at": r.RecordedAt.UTC().Format(time.RFC3339)}
	if r.ReadingID != "" {
		out["reading_id"] = r.ReadingID
	}
	if r.DeviceID != "" {
		out["device_id"] = r.DeviceID
	}
	for _, field := range []string{FieldTemperature, FieldHumidity, FieldBatteryLevel, FieldBatteryVoltage, FieldSignalStrength, FieldAirQuality} {
		if value, ok := r.NumericField(field); ok {
			out[field] = value
		}
	}
	for _, field := range []string{FieldDoorOpen, FieldLeakDetected, FieldTamper} {
		if value, ok := r.BoolField(field); ok {
			out[field] = value
		}
	}
	return out
}

// Sample is one historical value of a field.
type Sample struct {
	Value      float64
	RecordedAt time.Time
}

// DoorEvent is a recorded door transition.
type DoorEvent struct {
	State      string
	OccurredAt time.Time
}

// UnitSnapshot is the last known value of a field on one unit.
type UnitSnapshot struct {
	UnitID     string
	Value      float64
	RecordedAt time.Time
}

// History reads historical telemetry for evaluations.
type History interface {
	// Samples returns non-null values of field for a unit in [from, to], oldest first.
	Samples(ctx context.Context, unitID, field string, from, to time.Time) ([]Sample, error)
	// LatestDoorEvent returns the most recent door event with the state at or before at.
	LatestDoorEvent(ctx context.Context, unitID, state string, at time.Time) (*DoorEvent, error)
	// SiteSnapshots returns the last known value of field for every unit at a site.
	SiteSnapshots(ctx context.Context, siteID, field string) ([]UnitSnapshot, error)
}
