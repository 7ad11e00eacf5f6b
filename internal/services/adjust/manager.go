// Package adjust combines the weather and moisture factors and writes
// the resulting run durations back to the controller.
package adjust

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fluxopenhome/irrigation-core/internal/entity"
	"github.com/fluxopenhome/irrigation-core/internal/history"
	"github.com/fluxopenhome/irrigation-core/internal/model"
	"github.com/fluxopenhome/irrigation-core/internal/services/moisture"
	"github.com/fluxopenhome/irrigation-core/internal/store"
)

// Deps are the manager's collaborators.
type Deps struct {
	Entities entity.Client
	Store    *store.DB
	Recorder *history.Recorder
	Zones    func() []model.Zone
	Now      func() time.Time
}

// Inputs is one recompute's factor sources.
type Inputs struct {
	WeatherMultiplier float64
	MoistureFor       func(zone model.EntityRef) moisture.ZoneResult
}

// Manager owns the adjustment lifecycle: capture bases, apply factors,
// restore on deactivation. All duration writes go through here.
type Manager struct {
	deps   Deps
	logger zerolog.Logger

	mu       sync.Mutex
	state    model.AdjustmentState
	seq      uint64
	deferred *pendingApply
}

type pendingApply struct {
	seq     uint64
	inputs  Inputs
}

// NewManager restores persisted state. A persisted active flag means a
// crash interrupted an adjustment cycle: the saved bases stay
// authoritative and are never recaptured from the live entities, which
// may still hold adjusted values.
func NewManager(deps Deps) (*Manager, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	m := &Manager{
		deps:   deps,
		logger: log.With().Str("component", "adjust").Logger(),
	}
	m.state.Bases = make(map[model.EntityRef]model.BaseDuration)
	m.state.Adjusted = make(map[model.EntityRef]model.DurationAdjustment)
	if deps.Store != nil {
		if s, err := deps.Store.LoadAdjustmentState(); err != nil {
			return nil, fmt.Errorf("load adjustment state: %w", err)
		} else if s != nil {
			m.state = *s
			if m.state.Bases == nil {
				m.state.Bases = make(map[model.EntityRef]model.BaseDuration)
			}
			if m.state.Adjusted == nil {
				m.state.Adjusted = make(map[model.EntityRef]model.DurationAdjustment)
			}
			m.seq = m.state.Sequence
		}
	}
	return m, nil
}

// Active reports whether adjustments are being applied.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Active
}

// State returns a copy of the persisted adjustment state.
func (m *Manager) State() model.AdjustmentState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Activate turns adjustment on, capturing base durations from the live
// duration entities for zones that have no persisted base yet.
func (m *Manager) Activate(ctx context.Context) error {
	m.mu.Lock()
	m.state.Active = true
	m.mu.Unlock()

	for _, z := range m.deps.Zones() {
		if z.DurationRef.IsZero() {
			continue
		}
		m.mu.Lock()
		_, have := m.state.Bases[z.DurationRef]
		m.mu.Unlock()
		if have {
			continue
		}
		st, err := m.deps.Entities.ReadState(ctx, z.DurationRef)
		if err != nil {
			m.logger.Warn().Err(err).Str("entity", string(z.DurationRef)).Msg("base capture read failed")
			continue
		}
		v, err := st.Float()
		if err != nil {
			continue
		}
		m.mu.Lock()
		m.state.Bases[z.DurationRef] = model.BaseDuration{
			DurationRef: z.DurationRef, Minutes: v, CapturedAt: m.deps.Now(),
		}
		m.mu.Unlock()
	}
	return m.persist()
}

// Deactivate synchronously restores every base duration, re-enables
// switches disabled by skips, and clears the adjustment state. The
// caller observes fully restored hardware when this returns.
func (m *Manager) Deactivate(ctx context.Context) error {
	m.mu.Lock()
	bases := make(map[model.EntityRef]model.BaseDuration, len(m.state.Bases))
	for k, v := range m.state.Bases {
		bases[k] = v
	}
	skipDisabled := append([]model.EntityRef(nil), m.state.SkipDisabled...)
	m.deferred = nil
	m.mu.Unlock()

	var firstErr error
	for ref, base := range bases {
		if err := m.writeDuration(ctx, ref, base.Minutes); err != nil {
			m.logger.Error().Err(err).Str("entity", string(ref)).Msg("base restore failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	for _, sw := range skipDisabled {
		if err := m.deps.Entities.CallService(ctx, sw, "turn_on", nil); err != nil {
			m.logger.Error().Err(err).Str("entity", string(sw)).Msg("skip re-enable failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	m.mu.Lock()
	m.state = model.AdjustmentState{
		Bases:    make(map[model.EntityRef]model.BaseDuration),
		Adjusted: make(map[model.EntityRef]model.DurationAdjustment),
		Sequence: m.seq,
	}
	m.mu.Unlock()
	if err := m.persist(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// SetBase records an explicit user change to a zone's base duration.
// This is the only path that overwrites a captured base.
func (m *Manager) SetBase(ctx context.Context, ref model.EntityRef, minutes float64) error {
	if minutes <= 0 {
		return fmt.Errorf("base duration must be positive, got %v", minutes)
	}
	m.mu.Lock()
	m.state.Bases[ref] = model.BaseDuration{DurationRef: ref, Minutes: minutes, CapturedAt: m.deps.Now()}
	active := m.state.Active
	m.mu.Unlock()
	if !active {
		// Not adjusting: the new base goes straight to the hardware.
		if err := m.writeDuration(ctx, ref, minutes); err != nil {
			return err
		}
	}
	return m.persist()
}

// AppliedDuration computes the value written for one zone.
func AppliedDuration(base, combined float64) float64 {
	return math.Max(1, math.Round(base*combined))
}

// Recompute evaluates all zones under the given inputs and applies the
// results. When any zone is running the apply is deferred until
// OnZonesStopped; a recompute superseded before application is dropped.
func (m *Manager) Recompute(ctx context.Context, in Inputs) error {
	m.mu.Lock()
	if !m.state.Active {
		m.mu.Unlock()
		return nil
	}
	m.seq++
	seq := m.seq
	m.state.Sequence = seq
	m.mu.Unlock()

	if m.anyZoneRunning(ctx) {
		m.mu.Lock()
		m.deferred = &pendingApply{seq: seq, inputs: in}
		m.mu.Unlock()
		m.logger.Debug().Uint64("seq", seq).Msg("zones running, apply deferred")
		return m.persist()
	}
	return m.apply(ctx, seq, in)
}

// OnZonesStopped applies a deferred recompute once the last zone stops.
func (m *Manager) OnZonesStopped(ctx context.Context) error {
	m.mu.Lock()
	p := m.deferred
	m.deferred = nil
	m.mu.Unlock()
	if p == nil {
		return nil
	}
	if m.anyZoneRunning(ctx) {
		m.mu.Lock()
		m.deferred = p
		m.mu.Unlock()
		return nil
	}
	return m.apply(ctx, p.seq, p.inputs)
}

func (m *Manager) apply(ctx context.Context, seq uint64, in Inputs) error {
	weather := in.WeatherMultiplier
	if weather <= 0 {
		weather = 1.0
	}

	for _, z := range m.deps.Zones() {
		if z.DurationRef.IsZero() {
			continue
		}

		// Superseded recomputes must not touch hardware.
		m.mu.Lock()
		stale := seq != m.seq
		base, haveBase := m.state.Bases[z.DurationRef]
		m.mu.Unlock()
		if stale {
			m.logger.Debug().Uint64("seq", seq).Msg("recompute superseded, discarding")
			return nil
		}
		if !haveBase {
			continue
		}

		moistureMult := 1.0
		skip := false
		reason := ""
		if !z.IsSpecial() && in.MoistureFor != nil {
			res := in.MoistureFor(z.ID)
			moistureMult = res.Factor
			skip = res.Skip
			reason = res.Reason
		}

		if skip {
			m.skipZone(ctx, z, reason)
			continue
		}
		m.unskipZone(ctx, z)

		combined := weather * moistureMult
		applied := AppliedDuration(base.Minutes, combined)

		m.mu.Lock()
		prev, had := m.state.Adjusted[z.DurationRef]
		m.mu.Unlock()
		if had && prev.Applied == applied && !prev.Skip {
			continue
		}

		if err := m.writeDuration(ctx, z.DurationRef, applied); err != nil {
			m.logger.Error().Err(err).Str("zone", string(z.ID)).Msg("duration write failed, will retry next cycle")
			continue
		}

		m.mu.Lock()
		m.state.Adjusted[z.DurationRef] = model.DurationAdjustment{
			DurationRef:  z.DurationRef,
			Zone:         z.ID,
			Base:         base.Minutes,
			Applied:      applied,
			WeatherMult:  weather,
			MoistureMult: moistureMult,
			Combined:     combined,
			AppliedAt:    m.deps.Now(),
		}
		m.state.LastEvaluated = m.deps.Now()
		m.mu.Unlock()
	}
	return m.persist()
}

// skipZone excludes a zone by disabling its enable switch. A zero
// duration is never written: some firmware treats 0 as "run forever".
func (m *Manager) skipZone(ctx context.Context, z model.Zone, reason string) {
	m.mu.Lock()
	alreadyDisabled := false
	for _, sw := range m.state.SkipDisabled {
		if sw == z.EnableSwitch {
			alreadyDisabled = true
			break
		}
	}
	m.mu.Unlock()

	if !alreadyDisabled && !z.EnableSwitch.IsZero() {
		if err := m.deps.Entities.CallService(ctx, z.EnableSwitch, "turn_off", nil); err != nil {
			m.logger.Error().Err(err).Str("zone", string(z.ID)).Msg("skip disable failed")
			return
		}
		m.mu.Lock()
		m.state.SkipDisabled = append(m.state.SkipDisabled, z.EnableSwitch)
		m.mu.Unlock()
		if m.deps.Recorder != nil {
			ev := model.NewRunEvent(model.EventMoistureSkip, m.deps.Now())
			ev.Zone = z.ID
			ev.Detail = reason
			m.deps.Recorder.Record(ev)
		}
		m.logger.Info().Str("zone", string(z.ID)).Str("reason", reason).Msg("zone skipped")
	}

	m.mu.Lock()
	adj := m.state.Adjusted[z.DurationRef]
	adj.DurationRef = z.DurationRef
	adj.Zone = z.ID
	adj.Skip = true
	adj.Reason = reason
	adj.AppliedAt = m.deps.Now()
	m.state.Adjusted[z.DurationRef] = adj
	m.mu.Unlock()
}

// unskipZone re-enables a zone whose saturation cleared.
func (m *Manager) unskipZone(ctx context.Context, z model.Zone) {
	m.mu.Lock()
	idx := -1
	for i, sw := range m.state.SkipDisabled {
		if sw == z.EnableSwitch {
			idx = i
			break
		}
	}
	m.mu.Unlock()
	if idx < 0 {
		return
	}
	if err := m.deps.Entities.CallService(ctx, z.EnableSwitch, "turn_on", nil); err != nil {
		m.logger.Error().Err(err).Str("zone", string(z.ID)).Msg("skip re-enable failed")
		return
	}
	m.mu.Lock()
	m.state.SkipDisabled = append(m.state.SkipDisabled[:idx], m.state.SkipDisabled[idx+1:]...)
	m.mu.Unlock()
	m.logger.Info().Str("zone", string(z.ID)).Msg("zone skip cleared")
}

func (m *Manager) anyZoneRunning(ctx context.Context) bool {
	for _, z := range m.deps.Zones() {
		st, err := m.deps.Entities.ReadState(ctx, z.ID)
		if err == nil && st.IsOn() && !z.IsSpecial() {
			return true
		}
	}
	return false
}

// writeDuration sets a duration entity with a small bounded retry.
func (m *Manager) writeDuration(ctx context.Context, ref model.EntityRef, minutes float64) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second
	return backoff.Retry(func() error {
		return m.deps.Entities.CallService(ctx, ref, "set_value", map[string]interface{}{"value": minutes})
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 2), ctx))
}

func (m *Manager) persist() error {
	if m.deps.Store == nil {
		return nil
	}
	st := m.State()
	if err := m.deps.Store.SaveAdjustmentState(&st); err != nil {
		return fmt.Errorf("persist adjustment state: %w", err)
	}
	return nil
}
