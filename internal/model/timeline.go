package model

import "time"

// PrepPhase enumerates the probe prep state machine.
type PrepPhase string

const (
	PhaseIdle           PrepPhase = "idle"
	PhasePrepPending    PrepPhase = "prep_pending"
	PhaseAwakeChecking  PrepPhase = "awake_checking"
	PhaseMonitoring     PrepPhase = "monitoring"
	PhaseSleepingBetween PrepPhase = "sleeping_between"
)

// ZoneSlot is one projected zone run inside a schedule window.
type ZoneSlot struct {
	Zone     EntityRef     `json:"zone_entity_id"`
	Ordinal  int           `json:"ordinal"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
	Skipped  bool          `json:"skipped,omitempty"`
}

// ScheduleWindow projects one schedule start into per-zone slots with
// the prep trigger and target wake derived from the first slot.
type ScheduleWindow struct {
	ScheduleRef EntityRef  `json:"schedule_entity_id"`
	Start       time.Time  `json:"start"`
	End         time.Time  `json:"end"`
	Slots       []ZoneSlot `json:"slots"`
	PrepTrigger time.Time  `json:"prep_trigger"`
	TargetWake  time.Time  `json:"target_wake"`
}

// Timeline is the projection of upcoming schedule windows. Sequence is
// bumped on every recompute so stale async results can be discarded.
type Timeline struct {
	Windows    []ScheduleWindow `json:"windows"`
	BuiltAt    time.Time        `json:"built_at"`
	Sequence   uint64           `json:"sequence"`
}

// Next returns the first window starting at or after now, or nil.
func (t *Timeline) Next(now time.Time) *ScheduleWindow {
	for i := range t.Windows {
		if !t.Windows[i].End.Before(now) {
			return &t.Windows[i]
		}
	}
	return nil
}

// PrepState is the persisted probe prep machine snapshot.
type PrepState struct {
	Probe             string      `json:"probe_id"`
	Phase             PrepPhase   `json:"phase"`
	Window            *ScheduleWindow `json:"window,omitempty"`
	OriginalSleep     float64     `json:"original_sleep_minutes,omitempty"`
	SleepShortened    bool        `json:"sleep_shortened,omitempty"`
	SkippedZones      []EntityRef `json:"skipped_zones,omitempty"`
	CutoffZones       []EntityRef `json:"cutoff_zones,omitempty"`
	MonitoringZone    EntityRef   `json:"monitoring_zone,omitempty"`
	AwakeSince        time.Time   `json:"awake_since,omitempty"`
	LastTransition    time.Time   `json:"last_transition,omitempty"`
	PendingRestore    bool        `json:"pending_restore,omitempty"`
}
