package model

// ZoneRole distinguishes watering zones from plumbing helpers. Pump and
// master-valve zones run last in program order and never receive moisture
// factors.
type ZoneRole string

const (
	RoleIrrigation  ZoneRole = "irrigation"
	RolePump        ZoneRole = "pump"
	RoleMasterValve ZoneRole = "master_valve"
)

// Zone is one controllable irrigation output together with the firmware
// entities that configure it.
type Zone struct {
	ID       EntityRef `json:"id"` // the zone switch/valve entity
	Alias    string    `json:"alias,omitempty"`
	Number   int       `json:"number"`  // 1-based position on the controller
	Ordinal  int       `json:"ordinal"` // program order
	Enabled  bool      `json:"enabled"`
	Role     ZoneRole  `json:"role"`
	EnableSwitch EntityRef `json:"enable_switch"` // switch.*_enable_zone_N
	DurationRef  EntityRef `json:"duration_ref"`  // number.* run duration entity

	// BaseDuration is the user-intended run time in minutes. It is only
	// ever changed by an explicit user set, never by reading the live
	// duration entity back.
	BaseDuration     float64 `json:"base_duration"`
	AdjustedDuration float64 `json:"adjusted_duration,omitempty"`
}

// IsSpecial reports whether the zone is plumbing rather than watering.
func (z Zone) IsSpecial() bool {
	return z.Role == RolePump || z.Role == RoleMasterValve
}
