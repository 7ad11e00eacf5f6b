package adjust

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxopenhome/irrigation-core/internal/entity"
	"github.com/fluxopenhome/irrigation-core/internal/model"
	"github.com/fluxopenhome/irrigation-core/internal/services/moisture"
)

var (
	zone1 = model.Zone{
		ID:           "switch.irrigator_zone_1",
		Number:       1,
		Role:         model.RoleIrrigation,
		EnableSwitch: "switch.irrigator_enable_zone_1",
		DurationRef:  "number.irrigator_zone_1_run_duration",
	}
	zone2 = model.Zone{
		ID:           "switch.irrigator_zone_2",
		Number:       2,
		Role:         model.RoleIrrigation,
		EnableSwitch: "switch.irrigator_enable_zone_2",
		DurationRef:  "number.irrigator_zone_2_run_duration",
	}
	pump = model.Zone{
		ID:          "switch.irrigator_pump",
		Number:      9,
		Role:        model.RolePump,
		DurationRef: "number.irrigator_pump_run_duration",
	}
)

func newTestManager(t *testing.T, fake *entity.Fake, zones ...model.Zone) *Manager {
	t.Helper()
	m, err := NewManager(Deps{
		Entities: fake,
		Zones:    func() []model.Zone { return zones },
		Now:      func() time.Time { return time.Date(2025, 7, 10, 6, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return m
}

func neutralMoisture(model.EntityRef) moisture.ZoneResult { return moisture.Neutral("") }

func TestAppliedDuration(t *testing.T) {
	tests := []struct {
		base, combined, want float64
	}{
		{10, 1.0, 10},
		{10, 0.75, 8},  // round half up
		{10, 0.5, 5},
		{10, 0.04, 1},  // floor of 1, never 0
		{1, 0.1, 1},
		{10, 1.25, 13}, // 12.5 rounds to 13
		{15, 1.5, 23},  // 22.5 rounds to 23
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AppliedDuration(tt.base, tt.combined), "base=%v combined=%v", tt.base, tt.combined)
	}
}

func TestRecomputeAppliesCombinedFactor(t *testing.T) {
	fake := entity.NewFake()
	fake.Set(zone1.ID, "off")
	fake.SetFloat(zone1.DurationRef, 20)
	m := newTestManager(t, fake, zone1)

	require.NoError(t, m.Activate(context.Background()))
	require.NoError(t, m.Recompute(context.Background(), Inputs{
		WeatherMultiplier: 0.75,
		MoistureFor: func(model.EntityRef) moisture.ZoneResult {
			return moisture.ZoneResult{Factor: 0.8}
		},
	}))

	// 20 x 0.75 x 0.8 = 12
	st, err := fake.ReadState(context.Background(), zone1.DurationRef)
	require.NoError(t, err)
	v, err := st.Float()
	require.NoError(t, err)
	assert.Equal(t, 12.0, v)

	adj := m.State().Adjusted[zone1.DurationRef]
	assert.Equal(t, 20.0, adj.Base)
	assert.Equal(t, 12.0, adj.Applied)
}

func TestRecomputeIdempotent(t *testing.T) {
	fake := entity.NewFake()
	fake.Set(zone1.ID, "off")
	fake.SetFloat(zone1.DurationRef, 20)
	m := newTestManager(t, fake, zone1)
	require.NoError(t, m.Activate(context.Background()))

	in := Inputs{WeatherMultiplier: 0.5, MoistureFor: neutralMoisture}
	require.NoError(t, m.Recompute(context.Background(), in))
	writesBefore := len(fake.CallsFor("set_value"))
	require.NoError(t, m.Recompute(context.Background(), in))
	assert.Equal(t, writesBefore, len(fake.CallsFor("set_value")), "identical input must not rewrite")
}

func TestSkipDisablesEnableSwitchNotDuration(t *testing.T) {
	fake := entity.NewFake()
	fake.Set(zone1.ID, "off")
	fake.Set(zone1.EnableSwitch, "on")
	fake.SetFloat(zone1.DurationRef, 20)
	m := newTestManager(t, fake, zone1)
	require.NoError(t, m.Activate(context.Background()))

	require.NoError(t, m.Recompute(context.Background(), Inputs{
		WeatherMultiplier: 1.0,
		MoistureFor: func(model.EntityRef) moisture.ZoneResult {
			return moisture.ZoneResult{Skip: true, Reason: "saturated"}
		},
	}))

	// The enable switch is off; the duration entity still holds its base.
	sw, _ := fake.ReadState(context.Background(), zone1.EnableSwitch)
	assert.False(t, sw.IsOn())
	d, _ := fake.ReadState(context.Background(), zone1.DurationRef)
	v, _ := d.Float()
	assert.Equal(t, 20.0, v)

	// Skip clears: the switch comes back on.
	require.NoError(t, m.Recompute(context.Background(), Inputs{
		WeatherMultiplier: 1.0,
		MoistureFor:       neutralMoisture,
	}))
	sw, _ = fake.ReadState(context.Background(), zone1.EnableSwitch)
	assert.True(t, sw.IsOn())
}

func TestPumpZoneIgnoresMoisture(t *testing.T) {
	fake := entity.NewFake()
	fake.Set(pump.ID, "off")
	fake.SetFloat(pump.DurationRef, 10)
	m := newTestManager(t, fake, pump)
	require.NoError(t, m.Activate(context.Background()))

	require.NoError(t, m.Recompute(context.Background(), Inputs{
		WeatherMultiplier: 0.5,
		MoistureFor: func(model.EntityRef) moisture.ZoneResult {
			return moisture.ZoneResult{Skip: true, Reason: "saturated"}
		},
	}))

	// The pump only sees the weather factor, never skip or moisture.
	d, _ := fake.ReadState(context.Background(), pump.DurationRef)
	v, _ := d.Float()
	assert.Equal(t, 5.0, v)
}

func TestRecomputeDeferredWhileRunning(t *testing.T) {
	fake := entity.NewFake()
	fake.Set(zone1.ID, "on") // zone running
	fake.SetFloat(zone1.DurationRef, 20)
	m := newTestManager(t, fake, zone1)
	require.NoError(t, m.Activate(context.Background()))

	require.NoError(t, m.Recompute(context.Background(), Inputs{
		WeatherMultiplier: 0.5,
		MoistureFor:       neutralMoisture,
	}))

	// Nothing written while the zone runs.
	d, _ := fake.ReadState(context.Background(), zone1.DurationRef)
	v, _ := d.Float()
	assert.Equal(t, 20.0, v)

	// Zone stops: the deferred apply lands.
	fake.Set(zone1.ID, "off")
	require.NoError(t, m.OnZonesStopped(context.Background()))
	d, _ = fake.ReadState(context.Background(), zone1.DurationRef)
	v, _ = d.Float()
	assert.Equal(t, 10.0, v)
}

func TestDeferredApplySupersededByNewerRecompute(t *testing.T) {
	fake := entity.NewFake()
	fake.Set(zone1.ID, "on")
	fake.SetFloat(zone1.DurationRef, 20)
	m := newTestManager(t, fake, zone1)
	require.NoError(t, m.Activate(context.Background()))

	require.NoError(t, m.Recompute(context.Background(), Inputs{
		WeatherMultiplier: 0.5, MoistureFor: neutralMoisture,
	}))
	require.NoError(t, m.Recompute(context.Background(), Inputs{
		WeatherMultiplier: 0.9, MoistureFor: neutralMoisture,
	}))

	fake.Set(zone1.ID, "off")
	require.NoError(t, m.OnZonesStopped(context.Background()))

	// Only the newest recompute reaches the hardware.
	d, _ := fake.ReadState(context.Background(), zone1.DurationRef)
	v, _ := d.Float()
	assert.Equal(t, 18.0, v)
}

func TestDeactivateRestoresSynchronously(t *testing.T) {
	fake := entity.NewFake()
	fake.Set(zone1.ID, "off")
	fake.Set(zone1.EnableSwitch, "on")
	fake.SetFloat(zone1.DurationRef, 20)
	m := newTestManager(t, fake, zone1)
	require.NoError(t, m.Activate(context.Background()))

	require.NoError(t, m.Recompute(context.Background(), Inputs{
		WeatherMultiplier: 0.5, MoistureFor: neutralMoisture,
	}))
	d, _ := fake.ReadState(context.Background(), zone1.DurationRef)
	v, _ := d.Float()
	require.Equal(t, 10.0, v)

	require.NoError(t, m.Deactivate(context.Background()))

	// Base restored, state cleared.
	d, _ = fake.ReadState(context.Background(), zone1.DurationRef)
	v, _ = d.Float()
	assert.Equal(t, 20.0, v)
	assert.False(t, m.Active())
	assert.Empty(t, m.State().Bases)
}

func TestActivateKeepsPersistedBases(t *testing.T) {
	fake := entity.NewFake()
	fake.Set(zone1.ID, "off")
	// The live entity holds an adjusted value from before a crash.
	fake.SetFloat(zone1.DurationRef, 10)
	m := newTestManager(t, fake, zone1)

	// Simulate recovered state: active with a persisted base of 20.
	m.state.Active = true
	m.state.Bases[zone1.DurationRef] = model.BaseDuration{
		DurationRef: zone1.DurationRef, Minutes: 20,
	}

	require.NoError(t, m.Activate(context.Background()))
	assert.Equal(t, 20.0, m.State().Bases[zone1.DurationRef].Minutes,
		"persisted base must never be overwritten from the live entity")

	// A recompute builds on the true base, not the stale adjusted value.
	require.NoError(t, m.Recompute(context.Background(), Inputs{
		WeatherMultiplier: 0.5, MoistureFor: neutralMoisture,
	}))
	d, _ := fake.ReadState(context.Background(), zone1.DurationRef)
	v, _ := d.Float()
	assert.Equal(t, 10.0, v)

	adj := m.State().Adjusted[zone1.DurationRef]
	assert.Equal(t, 20.0, adj.Base)
}

func TestSetBaseWhileInactiveWritesThrough(t *testing.T) {
	fake := entity.NewFake()
	fake.SetFloat(zone1.DurationRef, 20)
	m := newTestManager(t, fake, zone1)

	require.NoError(t, m.SetBase(context.Background(), zone1.DurationRef, 25))
	d, _ := fake.ReadState(context.Background(), zone1.DurationRef)
	v, _ := d.Float()
	assert.Equal(t, 25.0, v)

	assert.Error(t, m.SetBase(context.Background(), zone1.DurationRef, 0))
}

func TestRecomputeInactiveIsNoop(t *testing.T) {
	fake := entity.NewFake()
	fake.SetFloat(zone1.DurationRef, 20)
	m := newTestManager(t, fake, zone1)

	require.NoError(t, m.Recompute(context.Background(), Inputs{
		WeatherMultiplier: 0.5, MoistureFor: neutralMoisture,
	}))
	assert.Empty(t, fake.CallsFor("set_value"))
}

func TestRecomputeTwoZones(t *testing.T) {
	fake := entity.NewFake()
	fake.Set(zone1.ID, "off")
	fake.Set(zone2.ID, "off")
	fake.SetFloat(zone1.DurationRef, 20)
	fake.SetFloat(zone2.DurationRef, 30)
	m := newTestManager(t, fake, zone1, zone2)
	require.NoError(t, m.Activate(context.Background()))

	require.NoError(t, m.Recompute(context.Background(), Inputs{
		WeatherMultiplier: 1.0,
		MoistureFor: func(zone model.EntityRef) moisture.ZoneResult {
			if zone == zone1.ID {
				return moisture.ZoneResult{Factor: 0.5}
			}
			return moisture.ZoneResult{Factor: 1.2}
		},
	}))

	d1, _ := fake.ReadState(context.Background(), zone1.DurationRef)
	v1, _ := d1.Float()
	assert.Equal(t, 10.0, v1)
	d2, _ := fake.ReadState(context.Background(), zone2.DurationRef)
	v2, _ := d2.Float()
	assert.Equal(t, 36.0, v2)
}
