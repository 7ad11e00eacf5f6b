package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxopenhome/irrigation-core/internal/config"
	"github.com/fluxopenhome/irrigation-core/internal/entity"
	"github.com/fluxopenhome/irrigation-core/internal/history"
	"github.com/fluxopenhome/irrigation-core/internal/model"
	"github.com/fluxopenhome/irrigation-core/internal/services/adjust"
	"github.com/fluxopenhome/irrigation-core/internal/services/moisture"
	"github.com/fluxopenhome/irrigation-core/internal/services/timeline"
	"github.com/fluxopenhome/irrigation-core/internal/services/weather"
	"github.com/fluxopenhome/irrigation-core/internal/store"
)

var (
	zone1 = model.Zone{
		ID:           "switch.irrigator_zone_1",
		Number:       1,
		Role:         model.RoleIrrigation,
		EnableSwitch: "switch.irrigator_enable_zone_1",
		DurationRef:  "number.irrigator_zone_1_run_duration",
	}
	testProbe = model.Probe{
		ID:           "gophr_1",
		ZoneMappings: []model.EntityRef{zone1.ID},
		Sensors: model.DepthSensors{
			Mid: "sensor.gophr_1_moisture_8in",
		},
	}
)

type stubWeather struct {
	snap model.WeatherSnapshot
	err  error
}

func (s *stubWeather) Fetch(context.Context) (model.WeatherSnapshot, error) {
	return s.snap, s.err
}

type fixture struct {
	fake    *entity.Fake
	weather *stubWeather
	engine  *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := entity.NewFake()
	fake.Set(zone1.ID, "off")
	fake.Set(zone1.EnableSwitch, "on")
	fake.SetFloat(zone1.DurationRef, 20)
	fake.SetFloat(testProbe.Sensors.Mid, 50)

	db, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	now := func() time.Time { return time.Date(2025, 7, 10, 6, 0, 0, 0, time.UTC) }
	recorder := history.NewRecorder(nil, nil)

	stub := &stubWeather{snap: model.WeatherSnapshot{
		Condition:   "sunny",
		Temperature: 100,
		TempUnit:    "°F",
		HasTemp:     true,
	}}

	cache, err := moisture.NewSensorCache(fake, db, 2*time.Hour)
	require.NoError(t, err)
	svc, err := moisture.NewService(cache, db)
	require.NoError(t, err)
	require.NoError(t, svc.UpsertProbe(testProbe))

	wx, err := weather.NewEngine(weather.Deps{
		Client:           stub,
		Entities:         fake,
		Store:            db,
		Recorder:         recorder,
		Zones:            func() []model.Zone { return []model.Zone{zone1} },
		ScheduleSwitches: func() []model.EntityRef { return nil },
		Now:              now,
	})
	require.NoError(t, err)

	mgr, err := adjust.NewManager(adjust.Deps{
		Entities: fake,
		Store:    db,
		Recorder: recorder,
		Zones:    func() []model.Zone { return []model.Zone{zone1} },
		Now:      now,
	})
	require.NoError(t, err)

	builder, err := timeline.NewBuilder(timeline.BuilderDeps{
		Entities:  fake,
		Store:     db,
		Zones:     func() []model.Zone { return []model.Zone{zone1} },
		Probes:    svc.Probes,
		Schedules: func() []model.EntityRef { return nil },
		Now:       now,
	})
	require.NoError(t, err)

	machine, err := timeline.NewMachine(timeline.MachineDeps{
		Entities:    fake,
		Store:       db,
		Recorder:    recorder,
		Moisture:    svc,
		Timeline:    builder.Current,
		Zones:       func() []model.Zone { return []model.Zone{zone1} },
		AutoAdvance: func() []model.EntityRef { return nil },
		Weather:     wx.MoistureContext,
		Now:         now,
	})
	require.NoError(t, err)

	e, err := NewEngine(Deps{
		Cfg:      config.Config{},
		Entities: fake,
		Store:    db,
		Recorder: recorder,
		Weather:  wx,
		Moisture: svc,
		Adjust:   mgr,
		Builder:  builder,
		Machine:  machine,
		Poller: timeline.NewAwakePoller(timeline.PollerDeps{
			Entities: fake,
			Moisture: svc,
			Cache:    cache,
			Machine:  machine,
		}),
		Now: now,
	})
	require.NoError(t, err)
	require.NoError(t, e.UpsertZone(zone1))
	return &fixture{fake: fake, weather: stub, engine: e}
}

func durationOf(t *testing.T, fake *entity.Fake) float64 {
	t.Helper()
	st, err := fake.ReadState(context.Background(), zone1.DurationRef)
	require.NoError(t, err)
	v, err := st.Float()
	require.NoError(t, err)
	return v
}

func TestCycleAppliesCombinedFactor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.SetApplyFactors(ctx, true))
	f.engine.Cycle(ctx)

	// 100°F fires the hot rule (x1.25); mid moisture 50 sits a quarter
	// of the way from optimal to wet (x0.875). 20 x 1.09375 rounds to 22.
	assert.Equal(t, 22.0, durationOf(t, f.fake))
}

func TestDisablingWeatherControlDropsMultiplier(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.SetApplyFactors(ctx, true))
	f.engine.Cycle(ctx)
	require.Equal(t, 22.0, durationOf(t, f.fake))

	require.NoError(t, f.engine.SetWeatherControl(ctx, false))

	// moisture factor alone: 20 x 0.875 = 17.5, rounds to 18
	assert.Equal(t, 18.0, durationOf(t, f.fake))
	assert.False(t, f.engine.Settings().WeatherControl)
}

func TestDisablingMoistureControlRestoresZone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fake.SetFloat(testProbe.Sensors.Mid, 85) // saturated, zone skips
	require.NoError(t, f.engine.SetApplyFactors(ctx, true))
	f.engine.Cycle(ctx)

	st, err := f.fake.ReadState(ctx, zone1.EnableSwitch)
	require.NoError(t, err)
	require.False(t, st.IsOn())

	require.NoError(t, f.engine.SetMoistureControl(ctx, false))

	st, err = f.fake.ReadState(ctx, zone1.EnableSwitch)
	require.NoError(t, err)
	assert.True(t, st.IsOn())
}

func TestDisablingApplyFactorsRestoresBases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.SetApplyFactors(ctx, true))
	f.engine.Cycle(ctx)
	require.Equal(t, 22.0, durationOf(t, f.fake))

	require.NoError(t, f.engine.SetApplyFactors(ctx, false))
	assert.Equal(t, 20.0, durationOf(t, f.fake))
	assert.False(t, f.engine.Settings().ApplyFactors)
}

func TestZoneTransitionRecordsEvents(t *testing.T) {
	f := newFixture(t)

	f.engine.onEntityChange(zone1.ID, entity.State{State: "on"})
	f.engine.onEntityChange(zone1.ID, entity.State{State: "on"}) // no repeat
	f.engine.onEntityChange(zone1.ID, entity.State{State: "off"})

	var on, off int
	for _, ev := range f.engine.deps.Recorder.Recent() {
		switch ev.Kind {
		case model.EventZoneOn:
			on++
		case model.EventZoneOff:
			off++
		}
	}
	assert.Equal(t, 1, on)
	assert.Equal(t, 1, off)
}

func TestValveZoneTransitionRecordsEvents(t *testing.T) {
	f := newFixture(t)
	valveZone := model.Zone{
		ID:     "valve.irrigator_zone_3",
		Number: 3,
		Role:   model.RoleIrrigation,
	}
	require.NoError(t, f.engine.UpsertZone(valveZone))

	f.engine.onEntityChange(valveZone.ID, entity.State{State: "closed"})
	f.engine.onEntityChange(valveZone.ID, entity.State{State: "open"})
	f.engine.onEntityChange(valveZone.ID, entity.State{State: "open"})
	f.engine.onEntityChange(valveZone.ID, entity.State{State: "closed"})

	var on, off int
	for _, ev := range f.engine.deps.Recorder.Recent() {
		if ev.Zone != valveZone.ID {
			continue
		}
		switch ev.Kind {
		case model.EventZoneOn:
			on++
		case model.EventZoneOff:
			off++
		}
	}
	assert.Equal(t, 1, on)
	assert.Equal(t, 1, off)
}

func TestSettingsPersistAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "state.db"))
	require.NoError(t, err)

	e1, err := NewEngine(Deps{Store: db, Builder: mustBuilder(t, db)})
	require.NoError(t, err)
	e1.mu.Lock()
	e1.settings = Settings{WeatherControl: false, MoistureControl: true, ApplyFactors: true}
	e1.mu.Unlock()
	require.NoError(t, e1.persistSettings())
	require.NoError(t, e1.UpsertZone(zone1))
	require.NoError(t, db.Close())

	db2, err := store.Open(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	defer db2.Close()

	e2, err := NewEngine(Deps{Store: db2, Builder: mustBuilder(t, db2)})
	require.NoError(t, err)
	assert.Equal(t, Settings{WeatherControl: false, MoistureControl: true, ApplyFactors: true}, e2.Settings())
	require.Len(t, e2.Zones(), 1)
	assert.Equal(t, zone1.ID, e2.Zones()[0].ID)
}

func mustBuilder(t *testing.T, db *store.DB) *timeline.Builder {
	t.Helper()
	b, err := timeline.NewBuilder(timeline.BuilderDeps{
		Entities:  entity.NewFake(),
		Store:     db,
		Zones:     func() []model.Zone { return nil },
		Probes:    func() []model.Probe { return nil },
		Schedules: func() []model.EntityRef { return nil },
	})
	require.NoError(t, err)
	return b
}
