// Package engine ties the decision components together: the periodic
// weather/moisture cycle, entity change routing, and the control flags
// that gate each subsystem.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fluxopenhome/irrigation-core/internal/config"
	"github.com/fluxopenhome/irrigation-core/internal/entity"
	"github.com/fluxopenhome/irrigation-core/internal/history"
	"github.com/fluxopenhome/irrigation-core/internal/metrics"
	"github.com/fluxopenhome/irrigation-core/internal/model"
	"github.com/fluxopenhome/irrigation-core/internal/services/adjust"
	"github.com/fluxopenhome/irrigation-core/internal/services/moisture"
	"github.com/fluxopenhome/irrigation-core/internal/services/timeline"
	"github.com/fluxopenhome/irrigation-core/internal/services/weather"
	"github.com/fluxopenhome/irrigation-core/internal/store"
)

const docSettings = "engine_settings"

// Settings are the runtime control flags. Disabling a flag takes effect
// synchronously: hardware is restored before the setter returns.
type Settings struct {
	WeatherControl  bool `json:"weather_control"`
	MoistureControl bool `json:"moisture_control"`
	ApplyFactors    bool `json:"apply_factors"`
}

// Deps are the engine's collaborators.
type Deps struct {
	Cfg      config.Config
	Entities entity.Client
	Registry *entity.Registry
	Store    *store.DB
	Recorder *history.Recorder
	Weather  *weather.Engine
	Moisture *moisture.Service
	Adjust   *adjust.Manager
	Builder  *timeline.Builder
	Machine  *timeline.Machine
	Poller   *timeline.AwakePoller
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Engine owns the cycle loop and the zone inventory.
type Engine struct {
	deps      Deps
	logger    zerolog.Logger
	recompute *timeline.Recomputer

	mu       sync.Mutex
	zones    []model.Zone
	settings Settings
	prev     map[model.EntityRef]string // last seen state per watched entity

	cycleMu sync.Mutex
	running bool
}

// NewEngine restores zones and settings from the store.
func NewEngine(deps Deps) (*Engine, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	e := &Engine{
		deps:     deps,
		logger:   log.With().Str("component", "engine").Logger(),
		settings: Settings{WeatherControl: true, MoistureControl: true},
		prev:     make(map[model.EntityRef]string),
	}
	if deps.Store != nil {
		zones, err := deps.Store.LoadZones()
		if err != nil {
			return nil, fmt.Errorf("load zones: %w", err)
		}
		e.zones = zones
		if _, err := deps.Store.LoadDocument(docSettings, &e.settings); err != nil {
			return nil, fmt.Errorf("load settings: %w", err)
		}
	}
	e.recompute = timeline.NewRecomputer(timeline.DefaultDebounce, func() {
		if _, err := deps.Builder.Build(context.Background()); err != nil {
			e.logger.Error().Err(err).Msg("timeline rebuild failed")
		}
	})
	if deps.Registry != nil {
		deps.Registry.OnChange(e.onEntityChange)
	}
	return e, nil
}

// Zones returns a copy of the configured zones.
func (e *Engine) Zones() []model.Zone {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.Zone(nil), e.zones...)
}

// UpsertZone validates and stores a zone definition.
func (e *Engine) UpsertZone(z model.Zone) error {
	if z.ID.IsZero() {
		return fmt.Errorf("zone entity id required")
	}
	if z.Number <= 0 {
		return fmt.Errorf("zone number must be positive")
	}
	if z.Role == "" {
		z.Role = model.RoleIrrigation
	}
	e.mu.Lock()
	replaced := false
	for i := range e.zones {
		if e.zones[i].ID == z.ID {
			e.zones[i] = z
			replaced = true
			break
		}
	}
	if !replaced {
		e.zones = append(e.zones, z)
	}
	e.mu.Unlock()
	e.recompute.Trigger()
	return e.persistZones()
}

// DeleteZone removes a zone from the inventory.
func (e *Engine) DeleteZone(id model.EntityRef) error {
	e.mu.Lock()
	idx := -1
	for i := range e.zones {
		if e.zones[i].ID == id {
			idx = i
			break
		}
	}
	if idx >= 0 {
		e.zones = append(e.zones[:idx], e.zones[idx+1:]...)
	}
	e.mu.Unlock()
	if idx < 0 {
		return fmt.Errorf("unknown zone %s", id)
	}
	e.recompute.Trigger()
	return e.persistZones()
}

func (e *Engine) persistZones() error {
	if e.deps.Store == nil {
		return nil
	}
	return e.deps.Store.SaveZones(e.Zones())
}

// Settings returns the current control flags.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

func (e *Engine) persistSettings() error {
	if e.deps.Store == nil {
		return nil
	}
	s := e.Settings()
	return e.deps.Store.SaveDocument(docSettings, &s)
}

// SetApplyFactors turns duration adjustment on or off. Disabling
// restores every base duration before returning.
func (e *Engine) SetApplyFactors(ctx context.Context, on bool) error {
	e.mu.Lock()
	e.settings.ApplyFactors = on
	e.mu.Unlock()
	if err := e.persistSettings(); err != nil {
		return err
	}
	if on {
		if err := e.deps.Adjust.Activate(ctx); err != nil {
			return err
		}
		return e.applyFactors(ctx)
	}
	return e.deps.Adjust.Deactivate(ctx)
}

// SetWeatherControl toggles weather rule evaluation. Turning it off
// lifts any weather-origin pause and re-applies factors without the
// weather multiplier.
func (e *Engine) SetWeatherControl(ctx context.Context, on bool) error {
	e.mu.Lock()
	e.settings.WeatherControl = on
	e.mu.Unlock()
	if err := e.persistSettings(); err != nil {
		return err
	}
	if !on {
		if paused, _ := e.deps.Weather.Paused(); paused {
			e.deps.Weather.ResumeManual(ctx)
		}
	}
	return e.applyFactors(ctx)
}

// SetMoistureControl toggles the moisture gradient input. Turning it
// off re-applies factors with neutral moisture, clearing any skips.
func (e *Engine) SetMoistureControl(ctx context.Context, on bool) error {
	e.mu.Lock()
	e.settings.MoistureControl = on
	e.mu.Unlock()
	if err := e.persistSettings(); err != nil {
		return err
	}
	return e.applyFactors(ctx)
}

// Cycle runs one full evaluation. Cycles are mutually exclusive; a
// cycle arriving while the previous one still runs is dropped, not
// queued.
func (e *Engine) Cycle(ctx context.Context) {
	e.cycleMu.Lock()
	if e.running {
		e.cycleMu.Unlock()
		if e.deps.Metrics != nil {
			e.deps.Metrics.CyclesSkipped.Inc()
		}
		e.logger.Warn().Msg("previous cycle still running, skipping")
		return
	}
	e.running = true
	e.cycleMu.Unlock()
	defer func() {
		e.cycleMu.Lock()
		e.running = false
		e.cycleMu.Unlock()
	}()

	start := e.deps.Now()
	s := e.Settings()

	if s.WeatherControl {
		if _, err := e.deps.Weather.Evaluate(ctx); err != nil {
			e.logger.Warn().Err(err).Msg("weather evaluation failed, factors keep last state")
		}
	}
	if err := e.applyFactors(ctx); err != nil {
		e.logger.Error().Err(err).Msg("factor application failed")
	}
	e.deps.Moisture.Cache().Prune()

	if e.deps.Metrics != nil {
		e.deps.Metrics.CyclesTotal.Inc()
		e.deps.Metrics.CycleDuration.Observe(e.deps.Now().Sub(start).Seconds())
		paused, _ := e.deps.Weather.Paused()
		if paused {
			e.deps.Metrics.WeatherPaused.Set(1)
		} else {
			e.deps.Metrics.WeatherPaused.Set(0)
		}
		e.deps.Metrics.WeatherMultiplier.Set(e.deps.Weather.Multiplier())
	}
	e.logger.Debug().Dur("took", e.deps.Now().Sub(start)).Msg("cycle complete")
}

// applyFactors recomputes and applies per-zone durations under the
// current control flags.
func (e *Engine) applyFactors(ctx context.Context) error {
	s := e.Settings()

	weatherMult := 1.0
	if s.WeatherControl {
		weatherMult = e.deps.Weather.Multiplier()
	}
	moistureFor := func(zone model.EntityRef) moisture.ZoneResult {
		if !s.MoistureControl {
			return moisture.Neutral("moisture control disabled")
		}
		return e.deps.Moisture.ZoneFactor(ctx, zone, e.deps.Weather.MoistureContext())
	}

	err := e.deps.Adjust.Recompute(ctx, adjust.Inputs{
		WeatherMultiplier: weatherMult,
		MoistureFor:       moistureFor,
	})
	if err != nil {
		return err
	}

	if e.deps.Metrics != nil {
		st := e.deps.Adjust.State()
		for ref, adj := range st.Adjusted {
			if adj.Skip {
				e.deps.Metrics.ZoneFactor.WithLabelValues(string(ref)).Set(0)
				e.deps.Metrics.ZonesSkippedTotal.Inc()
			} else {
				e.deps.Metrics.ZoneFactor.WithLabelValues(string(ref)).Set(adj.Combined)
			}
		}
	}
	return nil
}

// onEntityChange routes registry updates: zone run transitions drive
// the prep machine and deferred factor application, schedule-shaped
// changes debounce into a timeline rebuild.
func (e *Engine) onEntityChange(ref model.EntityRef, st entity.State) {
	ctx := context.Background()

	e.mu.Lock()
	prev := e.prev[ref]
	e.prev[ref] = st.State
	zone, isZone := e.findZoneLocked(ref)
	e.mu.Unlock()

	if isZone && !zone.IsSpecial() {
		wasOn := entity.State{State: prev}.IsOn()
		isOn := st.IsOn()
		switch {
		case isOn && !wasOn:
			e.recordZoneEvent(model.EventZoneOn, ref)
			e.deps.Machine.HandleZoneStarted(ctx, ref)
		case !isOn && wasOn:
			e.recordZoneEvent(model.EventZoneOff, ref)
			e.deps.Machine.HandleZoneStopped(ctx, ref)
			if err := e.deps.Adjust.OnZonesStopped(ctx); err != nil {
				e.logger.Error().Err(err).Msg("deferred factor apply failed")
			}
		}
		return
	}

	if e.isScheduleShaped(ref) {
		e.recompute.Trigger()
	}
}

func (e *Engine) findZoneLocked(ref model.EntityRef) (model.Zone, bool) {
	for _, z := range e.zones {
		if z.ID == ref {
			return z, true
		}
	}
	return model.Zone{}, false
}

// isScheduleShaped reports whether a change to ref can move the
// timeline: start times, zone durations and enables, probe sleep.
func (e *Engine) isScheduleShaped(ref model.EntityRef) bool {
	for _, s := range e.deps.Cfg.ScheduleEntities {
		if model.EntityRef(s) == ref {
			return true
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, z := range e.zones {
		if z.DurationRef == ref || z.EnableSwitch == ref {
			return true
		}
	}
	for _, p := range e.deps.Moisture.Probes() {
		if p.Aux.SleepDuration == ref || p.Aux.SleepNumber == ref {
			return true
		}
	}
	return false
}

func (e *Engine) recordZoneEvent(kind model.RunEventKind, zone model.EntityRef) {
	if e.deps.Recorder == nil {
		return
	}
	ev := model.NewRunEvent(kind, e.deps.Now())
	ev.Zone = zone
	e.deps.Recorder.Record(ev)
	if e.deps.Metrics != nil {
		e.deps.Metrics.RunEventsTotal.WithLabelValues(string(kind)).Inc()
	}
}

// ScheduleRefs adapts the configured schedule entity ids.
func (e *Engine) ScheduleRefs() []model.EntityRef {
	out := make([]model.EntityRef, 0, len(e.deps.Cfg.ScheduleEntities))
	for _, s := range e.deps.Cfg.ScheduleEntities {
		out = append(out, model.EntityRef(s))
	}
	return out
}

// AutoAdvanceRefs adapts the configured auto-advance switch ids.
func (e *Engine) AutoAdvanceRefs() []model.EntityRef {
	out := make([]model.EntityRef, 0, len(e.deps.Cfg.AutoAdvanceEntities))
	for _, s := range e.deps.Cfg.AutoAdvanceEntities {
		out = append(out, model.EntityRef(s))
	}
	return out
}

// Run drives the periodic work until ctx is cancelled: the evaluation
// cycle, the awake poller, and the additive probe entity refresh.
func (e *Engine) Run(ctx context.Context) {
	if _, err := e.deps.Builder.Build(ctx); err != nil {
		e.logger.Error().Err(err).Msg("initial timeline build failed")
	}
	go e.deps.Poller.Run(ctx)
	e.Cycle(ctx)

	cycleTicker := time.NewTicker(e.deps.Cfg.CycleInterval())
	refreshTicker := time.NewTicker(e.deps.Cfg.EntityRefreshInterval())
	defer cycleTicker.Stop()
	defer refreshTicker.Stop()
	defer e.recompute.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cycleTicker.C:
			e.Cycle(ctx)
		case <-refreshTicker.C:
			e.refreshProbeEntities(ctx)
		}
	}
}

// refreshProbeEntities re-discovers each probe's device entities and
// fills in refs that were missing at configuration time. The refresh
// only ever adds; it never removes or overwrites a configured ref.
func (e *Engine) refreshProbeEntities(ctx context.Context) {
	for _, p := range e.deps.Moisture.Probes() {
		if p.DeviceID == "" {
			continue
		}
		found, err := moisture.DiscoverProbe(ctx, e.deps.Entities, p.ID, p.DeviceID)
		if err != nil {
			if e.deps.Metrics != nil {
				e.deps.Metrics.EntityReadFailures.Inc()
			}
			continue
		}
		err = e.deps.Moisture.UpdateProbe(p.ID, func(pr *model.Probe) {
			mergeRef(&pr.Sensors.Shallow, found.Sensors.Shallow)
			mergeRef(&pr.Sensors.Mid, found.Sensors.Mid)
			mergeRef(&pr.Sensors.Deep, found.Sensors.Deep)
			mergeRef(&pr.Aux.Signal, found.Aux.Signal)
			mergeRef(&pr.Aux.Battery, found.Aux.Battery)
			mergeRef(&pr.Aux.Charging, found.Aux.Charging)
			mergeRef(&pr.Aux.StatusLED, found.Aux.StatusLED)
			mergeRef(&pr.Aux.SleepDuration, found.Aux.SleepDuration)
			mergeRef(&pr.Aux.SleepNumber, found.Aux.SleepNumber)
			mergeRef(&pr.Aux.SleepDisable, found.Aux.SleepDisable)
			mergeRef(&pr.Aux.SleepNow, found.Aux.SleepNow)
		})
		if err != nil {
			e.logger.Warn().Err(err).Str("probe", p.ID).Msg("probe refresh failed")
		}
	}
}

func mergeRef(dst *model.EntityRef, src model.EntityRef) {
	if dst.IsZero() && !src.IsZero() {
		*dst = src
	}
}
