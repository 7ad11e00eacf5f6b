package weather

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fluxopenhome/irrigation-core/internal/entity"
	"github.com/fluxopenhome/irrigation-core/internal/history"
	"github.com/fluxopenhome/irrigation-core/internal/model"
	"github.com/fluxopenhome/irrigation-core/internal/services/moisture"
	"github.com/fluxopenhome/irrigation-core/internal/store"
)

// Deps are the engine's collaborators. ScheduleSwitches lists the
// firmware schedule enable switches a pause must disable; Zones supplies
// the current zone set so running zones can be stopped.
type Deps struct {
	Client   Client
	Entities entity.Client
	Store    *store.DB
	Recorder *history.Recorder
	Zones    func() []model.Zone
	ScheduleSwitches func() []model.EntityRef
	Now      func() time.Time
}

// Engine owns the weather rules and the pause state.
type Engine struct {
	deps     Deps
	validate *validator.Validate
	logger   zerolog.Logger

	mu    sync.Mutex
	rules model.WeatherRules
	state model.WeatherState
}

// NewEngine restores rules and state from the store; missing documents
// fall back to defaults.
func NewEngine(deps Deps) (*Engine, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	e := &Engine{
		deps:     deps,
		validate: validator.New(),
		logger:   log.With().Str("component", "weather").Logger(),
		rules:    model.DefaultWeatherRules(),
	}
	e.state.Multiplier = 1.0
	if deps.Store != nil {
		if r, err := deps.Store.LoadWeatherRules(); err != nil {
			return nil, fmt.Errorf("load weather rules: %w", err)
		} else if r != nil {
			e.rules = *r
		}
		if s, err := deps.Store.LoadWeatherState(); err != nil {
			return nil, fmt.Errorf("load weather state: %w", err)
		} else if s != nil {
			e.state = *s
		}
	}
	return e, nil
}

// Rules returns a copy of the current rule configuration.
func (e *Engine) Rules() model.WeatherRules {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rules
}

// UpdateRules validates and replaces the rule configuration. The caller
// should re-evaluate immediately afterwards.
func (e *Engine) UpdateRules(r model.WeatherRules) error {
	if err := e.validate.Struct(r); err != nil {
		return fmt.Errorf("invalid weather rules: %w", err)
	}
	e.mu.Lock()
	e.rules = r
	e.mu.Unlock()
	if e.deps.Store != nil {
		if err := e.deps.Store.SaveWeatherRules(&r); err != nil {
			return fmt.Errorf("persist weather rules: %w", err)
		}
	}
	return nil
}

// State returns a copy of the last evaluation outcome.
func (e *Engine) State() model.WeatherState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Multiplier is the current weather duration factor. Paused systems
// report 1.0: the pause itself stops watering, the factor must not
// compound it.
func (e *Engine) Multiplier() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Paused {
		return 1.0
	}
	if e.state.Multiplier == 0 {
		return 1.0
	}
	return e.state.Multiplier
}

// Paused reports the pause flag and its origin.
func (e *Engine) Paused() (bool, model.PauseOrigin) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Paused, e.state.PauseOrigin
}

// MoistureContext exposes the slice of weather state the gradient
// analysis needs.
func (e *Engine) MoistureContext() moisture.WeatherContext {
	e.mu.Lock()
	defer e.mu.Unlock()
	ctx := moisture.WeatherContext{Condition: e.state.Snapshot.Condition}
	if len(e.state.Snapshot.Forecast) > 0 {
		ctx.PrecipProbability = e.state.Snapshot.Forecast[0].PrecipProbability
	}
	return ctx
}

// Evaluate fetches conditions, runs the rules, and applies pause/resume
// side effects. A manual pause is never auto-resumed.
func (e *Engine) Evaluate(ctx context.Context) (model.WeatherState, error) {
	if e.deps.Client == nil {
		return e.State(), fmt.Errorf("no weather source configured")
	}
	wx, err := e.deps.Client.Fetch(ctx)
	if err != nil {
		return e.State(), err
	}
	now := e.deps.Now()
	outcome := EvaluateRules(e.Rules(), wx, now)

	e.mu.Lock()
	prevPaused := e.state.Paused
	prevOrigin := e.state.PauseOrigin
	e.state.Snapshot = wx
	e.state.Fired = outcome.Fired
	e.state.Multiplier = outcome.Multiplier
	e.state.EvaluatedAt = now
	e.mu.Unlock()

	switch {
	case outcome.Paused && !prevPaused:
		e.pause(ctx, model.PauseOriginWeather, outcome.PauseReason)
	case outcome.Paused && prevPaused:
		// already paused; keep the original origin and reason
	case !outcome.Paused && prevPaused && prevOrigin == model.PauseOriginWeather:
		e.resume(ctx, "weather conditions cleared")
	}

	st := e.State()
	e.persist(st)
	e.logger.Debug().Bool("paused", st.Paused).Float64("multiplier", st.Multiplier).
		Int("fired", len(st.Fired)).Msg("weather evaluation")
	return st, nil
}

// PauseManual pauses the system at the user's request. It will not
// auto-resume when conditions clear.
func (e *Engine) PauseManual(ctx context.Context, reason string) {
	e.mu.Lock()
	already := e.state.Paused
	e.mu.Unlock()
	if already {
		e.mu.Lock()
		e.state.PauseOrigin = model.PauseOriginManual
		e.state.PauseReason = reason
		st := e.state
		e.mu.Unlock()
		e.persist(st)
		return
	}
	e.pause(ctx, model.PauseOriginManual, reason)
	e.persist(e.State())
}

// ResumeManual clears any pause, whatever its origin.
func (e *Engine) ResumeManual(ctx context.Context) {
	e.mu.Lock()
	paused := e.state.Paused
	e.mu.Unlock()
	if !paused {
		return
	}
	e.resume(ctx, "resumed by user")
	e.persist(e.State())
}

// pause disables schedule switches (remembering their prior states),
// stops running zones, and records the event.
func (e *Engine) pause(ctx context.Context, origin model.PauseOrigin, reason string) {
	saved := make(map[model.EntityRef]string)
	if e.deps.ScheduleSwitches != nil {
		for _, ref := range e.deps.ScheduleSwitches() {
			st, err := e.deps.Entities.ReadState(ctx, ref)
			if err != nil {
				e.logger.Warn().Err(err).Str("entity", string(ref)).Msg("schedule switch read failed during pause")
				continue
			}
			saved[ref] = st.State
			if st.IsOn() {
				if err := e.deps.Entities.CallService(ctx, ref, "turn_off", nil); err != nil {
					e.logger.Error().Err(err).Str("entity", string(ref)).Msg("schedule switch disable failed")
				}
			}
		}
	}

	if e.deps.Zones != nil {
		for _, z := range e.deps.Zones() {
			st, err := e.deps.Entities.ReadState(ctx, z.ID)
			if err != nil || !st.IsOn() {
				continue
			}
			if err := e.deps.Entities.CallService(ctx, z.ID, "turn_off", nil); err != nil {
				e.logger.Error().Err(err).Str("zone", string(z.ID)).Msg("zone stop failed during pause")
				continue
			}
			if e.deps.Recorder != nil {
				ev := model.NewRunEvent(model.EventZoneOff, e.deps.Now())
				ev.Zone = z.ID
				ev.Detail = "stopped by weather pause"
				e.deps.Recorder.Record(ev)
			}
		}
	}

	e.mu.Lock()
	e.state.Paused = true
	e.state.PauseOrigin = origin
	e.state.PauseReason = reason
	e.state.SavedScheduleStates = saved
	e.mu.Unlock()

	if e.deps.Recorder != nil {
		ev := model.NewRunEvent(model.EventWeatherPause, e.deps.Now())
		ev.Detail = reason
		e.deps.Recorder.Record(ev)
	}
	e.logger.Info().Str("origin", string(origin)).Str("reason", reason).Msg("system paused")
}

// resume restores the schedule switches to their pre-pause states and
// records the event.
func (e *Engine) resume(ctx context.Context, reason string) {
	e.mu.Lock()
	saved := e.state.SavedScheduleStates
	e.mu.Unlock()

	for ref, prior := range saved {
		if prior != "on" {
			continue
		}
		if err := e.deps.Entities.CallService(ctx, ref, "turn_on", nil); err != nil {
			e.logger.Error().Err(err).Str("entity", string(ref)).Msg("schedule switch restore failed")
		}
	}

	e.mu.Lock()
	e.state.Paused = false
	e.state.PauseOrigin = ""
	e.state.PauseReason = ""
	e.state.SavedScheduleStates = nil
	e.mu.Unlock()

	if e.deps.Recorder != nil {
		ev := model.NewRunEvent(model.EventWeatherResume, e.deps.Now())
		ev.Detail = reason
		e.deps.Recorder.Record(ev)
	}
	e.logger.Info().Str("reason", reason).Msg("system resumed")
}

func (e *Engine) persist(st model.WeatherState) {
	if e.deps.Store == nil {
		return
	}
	if err := e.deps.Store.SaveWeatherState(&st); err != nil {
		e.logger.Error().Err(err).Msg("weather state persist failed")
	}
}
