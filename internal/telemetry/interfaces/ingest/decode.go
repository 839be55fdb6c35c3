package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	telemetry "frostguard/internal/telemetry/domain"
)

// readingPayload accepts a normalized reading, optionally with an epoch
// timestamp and a flat values map as sent by gateways.
type readingPayload struct {
	telemetry.Reading
	TS     int64              `json:"ts"`
	Values map[string]float64 `json:"values"`
}

// DecodeReading parses a reading payload. Identifiers are validated by the engine.
func DecodeReading(data []byte) (telemetry.Reading, error) {
	var payload readingPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return telemetry.Reading{}, fmt.Errorf("ingest: decode reading: %w", err)
	}
	reading := payload.Reading
	if reading.RecordedAt.IsZero() && payload.TS != 0 {
		ts, err := parseTimestamp(payload.TS)
		if err != nil {
			return telemetry.Reading{}, err
		}
		reading.RecordedAt = ts
	}
	for key, value := range payload.Values {
		applyValue(&reading, key, value)
	}
	if !reading.RecordedAt.IsZero() {
		reading.RecordedAt = reading.RecordedAt.UTC()
	}
	return reading, nil
}

// applyValue sets a field from the values map unless the typed field is already present.
func applyValue(reading *telemetry.Reading, key string, value float64) {
	v := value
	flag := value != 0
	switch strings.ToLower(key) {
	case telemetry.FieldTemperature:
		if reading.Temperature == nil {
			reading.Temperature = &v
		}
	case telemetry.FieldHumidity:
		if reading.Humidity == nil {
			reading.Humidity = &v
		}
	case telemetry.FieldBatteryLevel:
		if reading.BatteryLevel == nil {
			reading.BatteryLevel = &v
		}
	case telemetry.FieldBatteryVoltage:
		if reading.BatteryVoltage == nil {
			reading.BatteryVoltage = &v
		}
	case telemetry.FieldSignalStrength:
		if reading.SignalStrength == nil {
			reading.SignalStrength = &v
		}
	case telemetry.FieldAirQuality:
		if reading.AirQuality == nil {
			reading.AirQuality = &v
		}
	case telemetry.FieldDoorOpen:
		if reading.DoorOpen == nil {
			reading.DoorOpen = &flag
		}
	case telemetry.FieldLeakDetected:
		if reading.LeakDetected == nil {
			reading.LeakDetected = &flag
		}
	case telemetry.FieldTamper:
		if reading.Tamper == nil {
			reading.Tamper = &flag
		}
	}
}

func parseTimestamp(value int64) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, errors.New("ingest: invalid ts")
	}
	// Accept milliseconds or seconds.
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}
