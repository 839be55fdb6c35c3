package ingest

import (
	"testing"
	"time"
)

func TestDecodeNormalizedReading(t *testing.T) {
	reading, err := DecodeReading([]byte(`{
		"readingId": "r-1",
		"unitId": "unit-1",
		"orgId": "org-1",
		"temperature": 45,
		"doorState": "open",
		"recordedAt": "2026-03-01T12:00:00+01:00"
	}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reading.Temperature == nil || *reading.Temperature != 45 {
		t.Fatalf("unexpected temperature %v", reading.Temperature)
	}
	if want := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC); !reading.RecordedAt.Equal(want) || reading.RecordedAt.Location() != time.UTC {
		t.Fatalf("unexpected recordedAt %v", reading.RecordedAt)
	}
	if open, ok := reading.IsDoorOpen(); !ok || !open {
		t.Fatalf("expected door open")
	}
}

func TestDecodeGatewayValues(t *testing.T) {
	reading, err := DecodeReading([]byte(`{
		"unitId": "unit-1",
		"orgId": "org-1",
		"temperature": 38,
		"ts": 1772366400000,
		"values": {"temperature": 99, "humidity": 71.5, "door_open": 1}
	}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *reading.Temperature != 38 {
		t.Fatalf("typed field must win over values map, got %v", *reading.Temperature)
	}
	if reading.Humidity == nil || *reading.Humidity != 71.5 {
		t.Fatalf("unexpected humidity %v", reading.Humidity)
	}
	if reading.DoorOpen == nil || !*reading.DoorOpen {
		t.Fatalf("expected door open from values")
	}
	if !reading.RecordedAt.Equal(time.UnixMilli(1772366400000)) {
		t.Fatalf("unexpected recordedAt %v", reading.RecordedAt)
	}
}

func TestDecodeRejectsInvalidPayloads(t *testing.T) {
	if _, err := DecodeReading([]byte(`{not json`)); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := DecodeReading([]byte(`{"unitId":"u","ts":-5}`)); err == nil {
		t.Fatalf("expected ts error")
	}
}
