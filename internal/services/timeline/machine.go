package timeline

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fluxopenhome/irrigation-core/internal/entity"
	"github.com/fluxopenhome/irrigation-core/internal/history"
	"github.com/fluxopenhome/irrigation-core/internal/model"
	"github.com/fluxopenhome/irrigation-core/internal/services/moisture"
	"github.com/fluxopenhome/irrigation-core/internal/store"
)

// minGapAwake is the slot gap below which cycling a probe's sleep is
// not worth the battery cost of a wake transition.
const minGapAwake = 2 * time.Minute

// DefaultMonitorInterval is how often the mid-run monitor samples.
const DefaultMonitorInterval = 30 * time.Second

// MachineDeps are the prep machine's collaborators.
type MachineDeps struct {
	Entities    entity.Client
	Store       *store.DB
	Recorder    *history.Recorder
	Moisture    *moisture.Service
	Timeline    func() *model.Timeline
	Zones       func() []model.Zone
	AutoAdvance func() []model.EntityRef // controller auto-advance switches
	Weather     func() moisture.WeatherContext
	Now         func() time.Time
}

// Machine runs the per-probe prep state machine. Events come from the
// awake poller and the zone watcher; commands go out through the entity
// client. Every transition is persisted so a restart resumes mid-pass.
type Machine struct {
	deps            MachineDeps
	logger          zerolog.Logger
	monitorInterval time.Duration

	mu       sync.Mutex
	states   map[string]*model.PrepState
	monitors map[model.EntityRef]context.CancelFunc
}

// NewMachine restores any persisted prep snapshots for the configured
// probes.
func NewMachine(deps MachineDeps) (*Machine, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Weather == nil {
		deps.Weather = func() moisture.WeatherContext { return moisture.WeatherContext{} }
	}
	m := &Machine{
		deps:            deps,
		logger:          log.With().Str("component", "prep").Logger(),
		monitorInterval: DefaultMonitorInterval,
		states:          make(map[string]*model.PrepState),
		monitors:        make(map[model.EntityRef]context.CancelFunc),
	}
	if deps.Store != nil && deps.Moisture != nil {
		for _, p := range deps.Moisture.Probes() {
			st, err := deps.Store.LoadPrepState(p.ID)
			if err != nil {
				return nil, fmt.Errorf("load prep state %s: %w", p.ID, err)
			}
			if st != nil {
				m.states[p.ID] = st
			}
		}
	}
	return m, nil
}

// SetMonitorInterval overrides the mid-run sample cadence.
func (m *Machine) SetMonitorInterval(d time.Duration) { m.monitorInterval = d }

// State returns the probe's current prep snapshot.
func (m *Machine) State(probeID string) model.PrepState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[probeID]; ok {
		return *st
	}
	return model.PrepState{Probe: probeID, Phase: model.PhaseIdle}
}

func (m *Machine) state(probeID string) *model.PrepState {
	if st, ok := m.states[probeID]; ok {
		return st
	}
	st := &model.PrepState{Probe: probeID, Phase: model.PhaseIdle}
	m.states[probeID] = st
	return st
}

func (m *Machine) transition(st *model.PrepState, phase model.PrepPhase) {
	m.logger.Info().Str("probe", st.Probe).
		Str("from", string(st.Phase)).Str("to", string(phase)).Msg("prep transition")
	st.Phase = phase
	st.LastTransition = m.deps.Now()
	m.persist(st)
}

func (m *Machine) persist(st *model.PrepState) {
	if m.deps.Store == nil {
		return
	}
	if err := m.deps.Store.SavePrepState(st); err != nil {
		m.logger.Error().Err(err).Str("probe", st.Probe).Msg("prep state persist failed")
	}
}

// HandleTimeReached checks every idle probe against its prep trigger
// and starts a prep cycle for those whose trigger has passed. Called by
// the awake poller each tick.
func (m *Machine) HandleTimeReached(ctx context.Context) {
	t := m.deps.Timeline()
	if t == nil || m.deps.Moisture == nil {
		return
	}
	now := m.deps.Now()
	for _, p := range m.deps.Moisture.Probes() {
		if p.Aux.SleepDisable.IsZero() {
			continue
		}
		m.mu.Lock()
		st := m.state(p.ID)
		idle := st.Phase == model.PhaseIdle
		m.mu.Unlock()
		if !idle {
			continue
		}
		slot, window, ok := nextMappedSlot(t, p, now)
		if !ok || !slot.Start.After(now) {
			continue
		}
		sleep := time.Duration(p.SleepMinutes * float64(time.Minute))
		trigger := slot.Start.Add(-(sleep + PrepBuffer))
		if now.Before(trigger) {
			continue
		}
		m.prepProbe(ctx, p, slot, window)
	}
}

// prepProbe reprograms the probe's sleep so its next wake lands ahead
// of the target zone. A probe already awake skips straight to the
// moisture check.
func (m *Machine) prepProbe(ctx context.Context, p model.Probe, slot model.ZoneSlot, window *model.ScheduleWindow) {
	now := m.deps.Now()
	targetWake := slot.Start.Add(-WakeLead)

	m.mu.Lock()
	st := m.state(p.ID)
	st.Window = window
	st.MonitoringZone = slot.Zone
	if st.OriginalSleep == 0 {
		st.OriginalSleep = m.currentSleep(ctx, p)
	}
	m.mu.Unlock()

	if m.probeAwake(ctx, p) {
		m.logger.Info().Str("probe", p.ID).Msg("probe already awake at prep trigger")
		m.mu.Lock()
		m.transition(st, model.PhaseAwakeChecking)
		m.mu.Unlock()
		m.evaluateTarget(ctx, p)
		return
	}

	// Wrap across midnight; a probe never sleeps less than a minute.
	mins := math.Mod(targetWake.Sub(now).Minutes(), 24*60)
	if mins < 1 {
		mins = 1
	}
	mins = math.Round(mins)
	if err := m.setSleep(ctx, p.ID, mins); err != nil {
		m.logger.Error().Err(err).Str("probe", p.ID).Msg("prep sleep write failed")
		return
	}
	m.mu.Lock()
	st.SleepShortened = true
	m.transition(st, model.PhasePrepPending)
	m.mu.Unlock()
	m.logger.Info().Str("probe", p.ID).Float64("sleep_min", mins).
		Time("target_wake", targetWake).Str("zone", string(slot.Zone)).Msg("probe prepped")
}

// HandleProbeWoke processes a sleeping-to-awake transition: apply any
// pending sleep writes, then run the prepped moisture check if one is
// due, and late-start the mid-run monitor when a mapped zone is
// already running.
func (m *Machine) HandleProbeWoke(ctx context.Context, probeID string) {
	p, ok := m.deps.Moisture.Probe(probeID)
	if !ok {
		return
	}
	now := m.deps.Now()

	if m.deps.Recorder != nil {
		ev := model.NewRunEvent(model.EventProbeWake, now)
		ev.Probe = probeID
		ev.Detail = mappedZonesText(p)
		m.deps.Recorder.Record(ev)
	}

	m.mu.Lock()
	st := m.state(probeID)
	st.AwakeSince = now
	phase := st.Phase
	m.mu.Unlock()

	m.flushPending(ctx, p)

	if phase == model.PhasePrepPending || phase == model.PhaseSleepingBetween {
		m.mu.Lock()
		m.transition(st, model.PhaseAwakeChecking)
		m.mu.Unlock()
		m.evaluateTarget(ctx, p)
	}

	// The probe may have woken mid-run of a mapped zone.
	for _, zref := range p.ZoneMappings {
		zst, err := m.deps.Entities.ReadState(ctx, zref)
		if err != nil || !zst.IsOn() {
			continue
		}
		m.mu.Lock()
		_, active := m.monitors[zref]
		m.mu.Unlock()
		if !active {
			m.logger.Info().Str("probe", probeID).Str("zone", string(zref)).
				Msg("probe woke during zone run, late-starting monitor")
			m.markMonitoring(p.ID, zref)
			m.StartMonitor(ctx, zref, probeID)
		}
	}
}

// flushPending applies sleep writes deferred while the probe slept.
// A write that fails again stays pending for the next wake.
func (m *Machine) flushPending(ctx context.Context, p model.Probe) {
	if p.PendingSleepMinutes != nil && !p.Aux.SleepNumber.IsZero() {
		mins := *p.PendingSleepMinutes
		err := m.deps.Entities.CallService(ctx, p.Aux.SleepNumber, "set_value",
			map[string]interface{}{"value": mins})
		if err != nil {
			m.logger.Warn().Err(err).Str("probe", p.ID).Msg("pending sleep write failed, will retry on next wake")
		} else {
			_ = m.deps.Moisture.UpdateProbe(p.ID, func(pr *model.Probe) {
				pr.SleepMinutes = mins
				pr.PendingSleepMinutes = nil
			})
			m.logger.Info().Str("probe", p.ID).Float64("sleep_min", mins).Msg("pending sleep applied")
		}
	}
	if p.PendingSleepDisable != nil && !p.Aux.SleepDisable.IsZero() {
		action := "turn_off"
		if *p.PendingSleepDisable {
			action = "turn_on"
		}
		if err := m.deps.Entities.CallService(ctx, p.Aux.SleepDisable, action, nil); err != nil {
			m.logger.Warn().Err(err).Str("probe", p.ID).Msg("pending sleep toggle failed, will retry on next wake")
		} else {
			_ = m.deps.Moisture.UpdateProbe(p.ID, func(pr *model.Probe) {
				pr.PendingSleepDisable = nil
			})
		}
	}
}

// evaluateTarget runs the prepped moisture check for the probe's target
// zone. Saturated zones are disabled at the enable switch and the
// machine advances to the probe's next mapped zone, or completes.
func (m *Machine) evaluateTarget(ctx context.Context, p model.Probe) {
	m.mu.Lock()
	st := m.state(p.ID)
	target := st.MonitoringZone
	m.mu.Unlock()
	if target.IsZero() {
		return
	}

	res := m.deps.Moisture.ZoneFactor(ctx, target, m.deps.Weather())
	if !res.Skip {
		// Soil wants water: keep the probe awake through the run.
		m.setSleepDisabled(ctx, p, true)
		m.mu.Lock()
		m.transition(st, model.PhaseMonitoring)
		m.mu.Unlock()
		m.logger.Info().Str("probe", p.ID).Str("zone", string(target)).
			Float64("factor", res.Factor).Msg("moisture below skip threshold, monitoring")
		return
	}

	m.skipZone(ctx, p, st, target, res.Reason)
	m.advance(ctx, p, st, target)
}

// skipZone disables a saturated zone's enable switch so the firmware
// never activates it this pass.
func (m *Machine) skipZone(ctx context.Context, p model.Probe, st *model.PrepState, zone model.EntityRef, reason string) {
	z, ok := m.findZone(zone)
	if ok && !z.EnableSwitch.IsZero() {
		if err := m.deps.Entities.CallService(ctx, z.EnableSwitch, "turn_off", nil); err != nil {
			m.logger.Error().Err(err).Str("zone", string(zone)).Msg("zone disable failed")
			return
		}
	}
	m.mu.Lock()
	st.SkippedZones = append(st.SkippedZones, zone)
	m.persist(st)
	m.mu.Unlock()
	if m.deps.Recorder != nil {
		ev := model.NewRunEvent(model.EventMoistureSkip, m.deps.Now())
		ev.Zone = zone
		ev.Probe = p.ID
		ev.Detail = reason
		m.deps.Recorder.Record(ev)
	}
	m.logger.Info().Str("zone", string(zone)).Str("probe", p.ID).Str("reason", reason).Msg("zone skipped before start")
}

// advance moves the probe to its next mapped zone after the given one,
// or completes the pass when none remain. A short gap keeps the probe
// awake; a long one reprograms sleep to land just before the next zone.
func (m *Machine) advance(ctx context.Context, p model.Probe, st *model.PrepState, after model.EntityRef) {
	t := m.deps.Timeline()
	now := m.deps.Now()
	next, window, ok := nextMappedSlotAfterZone(t, p, after, now)
	if !ok {
		m.finishCycle(ctx, p, st)
		return
	}

	m.mu.Lock()
	st.MonitoringZone = next.Zone
	st.Window = window
	m.mu.Unlock()

	gap := next.Start.Sub(now)
	sleep := time.Duration(p.SleepMinutes * float64(time.Minute))
	if gap < minGapAwake || gap <= sleep {
		m.setSleepDisabled(ctx, p, true)
		m.mu.Lock()
		m.transition(st, model.PhaseMonitoring)
		m.mu.Unlock()
		m.logger.Info().Str("probe", p.ID).Dur("gap", gap).
			Str("next", string(next.Zone)).Msg("gap too short, staying awake")
		return
	}

	mins := math.Max(1, math.Round(gap.Minutes()-WakeLead.Minutes()))
	if err := m.setSleep(ctx, p.ID, mins); err != nil {
		m.logger.Error().Err(err).Str("probe", p.ID).Msg("between-zone sleep write failed")
	}
	m.setSleepDisabled(ctx, p, false)
	m.mu.Lock()
	st.SleepShortened = true
	m.transition(st, model.PhaseSleepingBetween)
	m.mu.Unlock()
	m.logger.Info().Str("probe", p.ID).Float64("sleep_min", mins).
		Str("next", string(next.Zone)).Msg("sleeping until next mapped zone")
}

// HandleZoneStarted keeps mapped probes awake for the run and starts
// the mid-run monitor.
func (m *Machine) HandleZoneStarted(ctx context.Context, zone model.EntityRef) {
	for _, p := range m.deps.Moisture.Probes() {
		if !p.MappedTo(zone) || p.Aux.SleepDisable.IsZero() {
			continue
		}
		m.setSleepDisabled(ctx, p, true)

		m.mu.Lock()
		st := m.state(p.ID)
		if st.OriginalSleep == 0 {
			st.OriginalSleep = m.currentSleep(ctx, p)
		}
		st.MonitoringZone = zone
		m.transition(st, model.PhaseMonitoring)
		m.mu.Unlock()

		m.StartMonitor(ctx, zone, p.ID)
	}
}

// HandleZoneStopped cancels the zone's monitor and either holds the
// probe awake for a close next zone, sleeps it toward a distant one, or
// finishes the pass when no mapped zones remain.
func (m *Machine) HandleZoneStopped(ctx context.Context, zone model.EntityRef) {
	m.StopMonitor(zone)
	for _, p := range m.deps.Moisture.Probes() {
		if !p.MappedTo(zone) || p.Aux.SleepDisable.IsZero() {
			continue
		}
		m.mu.Lock()
		st := m.state(p.ID)
		idle := st.Phase == model.PhaseIdle
		m.mu.Unlock()
		if idle {
			continue
		}
		m.advance(ctx, p, st, zone)
	}
}

// finishCycle restores the probe's normal sleep behavior and re-enables
// every zone skipped during the pass.
func (m *Machine) finishCycle(ctx context.Context, p model.Probe, st *model.PrepState) {
	m.mu.Lock()
	original := st.OriginalSleep
	skipped := append([]model.EntityRef(nil), st.SkippedZones...)
	m.mu.Unlock()

	if original > 0 {
		if err := m.setSleep(ctx, p.ID, original); err != nil {
			m.logger.Error().Err(err).Str("probe", p.ID).Msg("original sleep restore failed")
		}
	}
	m.setSleepDisabled(ctx, p, false)

	for _, zone := range skipped {
		if z, ok := m.findZone(zone); ok && !z.EnableSwitch.IsZero() {
			if err := m.deps.Entities.CallService(ctx, z.EnableSwitch, "turn_on", nil); err != nil {
				m.logger.Error().Err(err).Str("zone", string(zone)).Msg("skipped zone re-enable failed")
			}
		}
	}

	m.mu.Lock()
	*st = model.PrepState{Probe: p.ID, Phase: model.PhaseIdle, LastTransition: m.deps.Now()}
	m.mu.Unlock()
	if m.deps.Store != nil {
		if err := m.deps.Store.DeletePrepState(p.ID); err != nil {
			m.logger.Error().Err(err).Str("probe", p.ID).Msg("prep state delete failed")
		}
	}
	m.logger.Info().Str("probe", p.ID).Float64("restored_sleep", original).
		Int("reenabled", len(skipped)).Msg("prep cycle complete")
}

func (m *Machine) markMonitoring(probeID string, zone model.EntityRef) {
	m.mu.Lock()
	st := m.state(probeID)
	st.MonitoringZone = zone
	m.transition(st, model.PhaseMonitoring)
	m.mu.Unlock()
}

// StartMonitor begins the mid-run moisture loop for a zone. One monitor
// per zone; starting an already monitored zone is a no-op.
func (m *Machine) StartMonitor(ctx context.Context, zone model.EntityRef, probeID string) {
	m.mu.Lock()
	if _, ok := m.monitors[zone]; ok {
		m.mu.Unlock()
		return
	}
	mctx, cancel := context.WithCancel(ctx)
	m.monitors[zone] = cancel
	m.mu.Unlock()

	go func() {
		defer m.StopMonitor(zone)
		ticker := time.NewTicker(m.monitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-mctx.Done():
				return
			case <-ticker.C:
				if done := m.MonitorCheck(mctx, zone, probeID); done {
					return
				}
			}
		}
	}()
}

// StopMonitor cancels the zone's mid-run monitor if one is active.
func (m *Machine) StopMonitor(zone model.EntityRef) {
	m.mu.Lock()
	cancel, ok := m.monitors[zone]
	delete(m.monitors, zone)
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

// MonitorCheck is one mid-run sample. Saturation stops the zone with
// reason moisture_cutoff and advances the program to the next zone.
// Returns true when the monitor should end.
func (m *Machine) MonitorCheck(ctx context.Context, zone model.EntityRef, probeID string) bool {
	zst, err := m.deps.Entities.ReadState(ctx, zone)
	if err != nil || !zst.IsOn() {
		return true
	}

	res := m.deps.Moisture.ZoneFactor(ctx, zone, m.deps.Weather())
	if !res.Skip {
		m.logger.Debug().Str("zone", string(zone)).Float64("factor", res.Factor).Msg("mid-run moisture ok")
		return false
	}

	if err := m.deps.Entities.CallService(ctx, zone, "turn_off", nil); err != nil {
		m.logger.Error().Err(err).Str("zone", string(zone)).Msg("mid-run cutoff stop failed")
		return false
	}
	if m.deps.Recorder != nil {
		ev := model.NewRunEvent(model.EventMoistureCutoff, m.deps.Now())
		ev.Zone = zone
		ev.Probe = probeID
		ev.Detail = res.Reason
		m.deps.Recorder.Record(ev)
	}
	m.mu.Lock()
	st := m.state(probeID)
	st.CutoffZones = append(st.CutoffZones, zone)
	m.persist(st)
	m.mu.Unlock()
	m.logger.Info().Str("zone", string(zone)).Str("probe", probeID).
		Str("reason", res.Reason).Msg("mid-run moisture cutoff")

	m.advanceProgram(ctx, zone)
	return true
}

// advanceProgram starts the next enabled zone after a cutoff so the
// rest of the program still runs, turning on the controller's
// auto-advance so later zones chain on their own.
func (m *Machine) advanceProgram(ctx context.Context, current model.EntityRef) {
	zones := orderedZones(m.deps.Zones())
	idx := -1
	for i, z := range zones {
		if z.ID == current {
			idx = i
			break
		}
	}
	if idx < 0 || idx+1 >= len(zones) {
		m.logger.Info().Str("zone", string(current)).Msg("last zone in program, no advance")
		return
	}
	next := zones[idx+1]

	if m.deps.AutoAdvance != nil {
		for _, sw := range m.deps.AutoAdvance() {
			if err := m.deps.Entities.CallService(ctx, sw, "turn_on", nil); err != nil {
				m.logger.Warn().Err(err).Str("entity", string(sw)).Msg("auto-advance enable failed")
			}
		}
	}
	if err := m.deps.Entities.CallService(ctx, next.ID, "turn_on", nil); err != nil {
		m.logger.Error().Err(err).Str("zone", string(next.ID)).Msg("advance start failed")
		return
	}
	if m.deps.Recorder != nil {
		ev := model.NewRunEvent(model.EventZoneOn, m.deps.Now())
		ev.Zone = next.ID
		ev.Detail = "moisture_advance"
		m.deps.Recorder.Record(ev)
	}
	m.logger.Info().Str("zone", string(next.ID)).Msg("advanced to next zone")
}

// setSleep writes the probe's sleep cycle in minutes. A sleeping probe
// cannot receive the write, so it is parked on the probe record and
// flushed at the next wake.
func (m *Machine) setSleep(ctx context.Context, probeID string, minutes float64) error {
	p, ok := m.deps.Moisture.Probe(probeID)
	if !ok {
		return fmt.Errorf("unknown probe %s", probeID)
	}
	if p.Aux.SleepNumber.IsZero() {
		return fmt.Errorf("probe %s has no sleep control", probeID)
	}
	if !m.probeAwake(ctx, p) {
		return m.deps.Moisture.UpdateProbe(probeID, func(pr *model.Probe) {
			pr.PendingSleepMinutes = &minutes
		})
	}
	err := m.deps.Entities.CallService(ctx, p.Aux.SleepNumber, "set_value",
		map[string]interface{}{"value": minutes})
	if err != nil {
		return err
	}
	return m.deps.Moisture.UpdateProbe(probeID, func(pr *model.Probe) {
		pr.SleepMinutes = minutes
		pr.PendingSleepMinutes = nil
	})
}

// setSleepDisabled toggles the stay-awake switch, parking the write on
// the probe record when it is asleep.
func (m *Machine) setSleepDisabled(ctx context.Context, p model.Probe, disabled bool) {
	if p.Aux.SleepDisable.IsZero() {
		return
	}
	if !m.probeAwake(ctx, p) {
		_ = m.deps.Moisture.UpdateProbe(p.ID, func(pr *model.Probe) {
			pr.PendingSleepDisable = &disabled
		})
		return
	}
	action := "turn_off"
	if disabled {
		action = "turn_on"
	}
	if err := m.deps.Entities.CallService(ctx, p.Aux.SleepDisable, action, nil); err != nil {
		m.logger.Error().Err(err).Str("probe", p.ID).Bool("disabled", disabled).Msg("sleep toggle failed")
	}
}

// probeAwake reads the status LED; on means awake. Probes without one
// are assumed awake.
func (m *Machine) probeAwake(ctx context.Context, p model.Probe) bool {
	if p.Aux.StatusLED.IsZero() {
		return true
	}
	st, err := m.deps.Entities.ReadState(ctx, p.Aux.StatusLED)
	if err != nil {
		return false
	}
	return st.IsOn()
}

// currentSleep reads the probe's live sleep duration sensor, falling
// back on the stored value when unreadable.
func (m *Machine) currentSleep(ctx context.Context, p model.Probe) float64 {
	if !p.Aux.SleepDuration.IsZero() {
		if st, err := m.deps.Entities.ReadState(ctx, p.Aux.SleepDuration); err == nil {
			if v, err := st.Float(); err == nil && v > 0 {
				return v
			}
		}
	}
	return p.SleepMinutes
}

func (m *Machine) findZone(id model.EntityRef) (model.Zone, bool) {
	for _, z := range m.deps.Zones() {
		if z.ID == id {
			return z, true
		}
	}
	return model.Zone{}, false
}

// nextMappedSlot finds the probe's earliest mapped slot ending after
// the given time.
func nextMappedSlot(t *model.Timeline, p model.Probe, after time.Time) (model.ZoneSlot, *model.ScheduleWindow, bool) {
	if t == nil {
		return model.ZoneSlot{}, nil, false
	}
	for wi := range t.Windows {
		w := &t.Windows[wi]
		for _, slot := range w.Slots {
			if slot.End.After(after) && p.MappedTo(slot.Zone) {
				return slot, w, true
			}
		}
	}
	return model.ZoneSlot{}, nil, false
}

// nextMappedSlotAfterZone finds the probe's next mapped slot strictly
// after the given zone's slot in program order.
func nextMappedSlotAfterZone(t *model.Timeline, p model.Probe, zone model.EntityRef, now time.Time) (model.ZoneSlot, *model.ScheduleWindow, bool) {
	if t == nil {
		return model.ZoneSlot{}, nil, false
	}
	passed := false
	for wi := range t.Windows {
		w := &t.Windows[wi]
		for _, slot := range w.Slots {
			if !passed && slot.Zone == zone {
				passed = true
				continue
			}
			if passed && p.MappedTo(slot.Zone) && slot.End.After(now) {
				return slot, w, true
			}
		}
	}
	if passed {
		return model.ZoneSlot{}, nil, false
	}
	// Zone not found in the timeline; fall back on time ordering.
	return nextMappedSlot(t, p, now)
}

func mappedZonesText(p model.Probe) string {
	if len(p.ZoneMappings) == 0 {
		return "no mapped zones"
	}
	parts := make([]string, len(p.ZoneMappings))
	for i, z := range p.ZoneMappings {
		parts[i] = string(z)
	}
	return "mapped to " + strings.Join(parts, ", ")
}
