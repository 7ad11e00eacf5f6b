package model

import "time"

// SensorCacheEntry is one last-known-good reading.
type SensorCacheEntry struct {
	Ref       EntityRef `json:"entity_id"`
	Value     float64   `json:"value"`
	RawState  string    `json:"raw_state,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DurationAdjustment is the per-zone record of an applied factor.
type DurationAdjustment struct {
	DurationRef EntityRef `json:"entity_id"`
	Zone        EntityRef `json:"zone_entity_id"`
	Base        float64   `json:"base"`
	Applied     float64   `json:"applied"`
	WeatherMult float64   `json:"weather_multiplier"`
	MoistureMult float64  `json:"moisture_multiplier"`
	Combined    float64   `json:"combined_multiplier"`
	Skip        bool      `json:"skip"`
	Reason      string    `json:"reason,omitempty"`
	AppliedAt   time.Time `json:"applied_at"`
}

// AdjustmentState is the persisted snapshot of the Duration Adjustment
// Manager. Bases are authoritative: recovery after a crash must reuse them
// rather than re-reading the possibly already-adjusted live entities.
type AdjustmentState struct {
	Active        bool                              `json:"active"`
	Bases         map[EntityRef]BaseDuration        `json:"bases,omitempty"`
	Adjusted      map[EntityRef]DurationAdjustment  `json:"adjusted,omitempty"`
	SkipDisabled  []EntityRef                       `json:"skip_disabled,omitempty"` // enable switches turned off by skip
	Sequence      uint64                            `json:"sequence"`
	LastEvaluated time.Time                         `json:"last_evaluated,omitempty"`
}

// BaseDuration is one captured user-intent duration.
type BaseDuration struct {
	DurationRef EntityRef `json:"entity_id"`
	Minutes     float64   `json:"minutes"`
	CapturedAt  time.Time `json:"captured_at"`
}
