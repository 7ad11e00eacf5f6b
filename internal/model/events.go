package model

import (
	"time"

	"github.com/google/uuid"
)

// RunEventKind classifies run history events.
type RunEventKind string

const (
	EventZoneOn        RunEventKind = "zone_on"
	EventZoneOff       RunEventKind = "zone_off"
	EventMoistureSkip  RunEventKind = "moisture_skip"
	EventMoistureCutoff RunEventKind = "moisture_cutoff"
	EventProbeWake     RunEventKind = "probe_wake"
	EventWeatherPause  RunEventKind = "weather_pause"
	EventWeatherResume RunEventKind = "weather_resume"
)

// RunEvent is one annotated irrigation history record.
type RunEvent struct {
	ID        string       `json:"id"`
	Kind      RunEventKind `json:"kind"`
	Zone      EntityRef    `json:"zone_entity_id,omitempty"`
	Probe     string       `json:"probe_id,omitempty"`
	Value     float64      `json:"value,omitempty"`
	Detail    string       `json:"detail,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// NewRunEvent stamps a fresh event with id and time.
func NewRunEvent(kind RunEventKind, ts time.Time) RunEvent {
	return RunEvent{ID: uuid.NewString(), Kind: kind, Timestamp: ts}
}
