package model

// DepthSensors holds the three optional depth readings of a soil probe.
// Any ref may be empty when the hardware lacks that sensor.
type DepthSensors struct {
	Shallow EntityRef `json:"shallow,omitempty"`
	Mid     EntityRef `json:"mid,omitempty"`
	Deep    EntityRef `json:"deep,omitempty"`
}

// AuxSensors are the probe's non-depth entities: battery housekeeping and
// the sleep controls the prep machine writes to.
type AuxSensors struct {
	Signal        EntityRef `json:"signal,omitempty"`
	Battery       EntityRef `json:"battery,omitempty"`
	Charging      EntityRef `json:"charging,omitempty"`
	StatusLED     EntityRef `json:"status_led,omitempty"`     // on = awake
	SleepDuration EntityRef `json:"sleep_duration,omitempty"` // sensor, minutes
	SleepNumber   EntityRef `json:"sleep_number,omitempty"`   // writable number, minutes
	SleepDisable  EntityRef `json:"sleep_disable,omitempty"`  // switch, on = stay awake
	SleepNow      EntityRef `json:"sleep_now,omitempty"`      // button
}

// Probe is one low-power soil moisture probe. Probes map many-to-many onto
// zones; an unmapped probe never influences watering.
type Probe struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"display_name,omitempty"`
	DeviceID    string       `json:"device_id,omitempty"`
	Sensors     DepthSensors `json:"sensors"`
	Aux         AuxSensors   `json:"aux"`

	// SleepMinutes is the probe's current sleep cycle; PendingSleepMinutes
	// holds a write that could not be delivered while the probe slept and
	// is retried on the next wake.
	SleepMinutes        float64  `json:"sleep_minutes,omitempty"`
	PendingSleepMinutes *float64 `json:"pending_sleep_minutes,omitempty"`
	PendingSleepDisable *bool    `json:"pending_sleep_disable,omitempty"`

	ZoneMappings []EntityRef `json:"zone_mappings,omitempty"`

	// Thresholds overrides the system defaults when non-nil.
	Thresholds *MoistureThresholds `json:"thresholds,omitempty"`
}

// MappedTo reports whether the probe is mapped to the given zone.
func (p Probe) MappedTo(zone EntityRef) bool {
	for _, z := range p.ZoneMappings {
		if z == zone {
			return true
		}
	}
	return false
}

// MoistureThresholds define the root-zone decision bands (percent volumetric
// moisture) and the bounds of the resulting factor.
type MoistureThresholds struct {
	RootZoneSkip    float64 `json:"root_zone_skip" validate:"gt=0,lte=100"`
	RootZoneWet     float64 `json:"root_zone_wet" validate:"gt=0,ltfield=RootZoneSkip"`
	RootZoneOptimal float64 `json:"root_zone_optimal" validate:"gt=0,ltfield=RootZoneWet"`
	RootZoneDry     float64 `json:"root_zone_dry" validate:"gte=0,ltfield=RootZoneOptimal"`

	MaxIncreasePercent float64 `json:"max_increase_percent" validate:"gte=0,lte=100"`
	MaxDecreasePercent float64 `json:"max_decrease_percent" validate:"gte=0,lte=100"`

	// RainBoostDelta is the shallow-minus-mid excess that indicates a
	// wetting front from recent rain.
	RainBoostDelta float64 `json:"rain_boost_delta" validate:"gte=0"`
}

// DefaultMoistureThresholds returns the stock decision bands.
func DefaultMoistureThresholds() MoistureThresholds {
	return MoistureThresholds{
		RootZoneSkip:       80,
		RootZoneWet:        65,
		RootZoneOptimal:    45,
		RootZoneDry:        30,
		MaxIncreasePercent: 50,
		MaxDecreasePercent: 50,
		RainBoostDelta:     15,
	}
}
