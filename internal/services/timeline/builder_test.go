package timeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxopenhome/irrigation-core/internal/entity"
	"github.com/fluxopenhome/irrigation-core/internal/model"
)

const (
	zone1Ref     = model.EntityRef("switch.irrigator_zone_1")
	zone2Ref     = model.EntityRef("switch.irrigator_zone_2")
	pumpRef      = model.EntityRef("switch.irrigator_pump")
	zone1Dur     = model.EntityRef("number.irrigator_zone_1_run_duration")
	zone2Dur     = model.EntityRef("number.irrigator_zone_2_run_duration")
	zone1Enable  = model.EntityRef("switch.irrigator_enable_zone_1")
	zone2Enable  = model.EntityRef("switch.irrigator_enable_zone_2")
	schedule1Ref = model.EntityRef("text.irrigator_start_time_1")
	schedule2Ref = model.EntityRef("text.irrigator_start_time_2")

	probeLED          = model.EntityRef("binary_sensor.gophr_1_status_led")
	probeSleepNumber  = model.EntityRef("number.gophr_1_sleep_duration")
	probeSleepSensor  = model.EntityRef("sensor.gophr_1_sleep_duration")
	probeSleepDisable = model.EntityRef("switch.gophr_1_sleep_disabled")
	probeMid          = model.EntityRef("sensor.gophr_1_moisture_mid")
)

func testZones() []model.Zone {
	return []model.Zone{
		{ID: zone1Ref, Number: 1, Ordinal: 1, Enabled: true, Role: model.RoleIrrigation,
			EnableSwitch: zone1Enable, DurationRef: zone1Dur, BaseDuration: 20},
		{ID: zone2Ref, Number: 2, Ordinal: 2, Enabled: true, Role: model.RoleIrrigation,
			EnableSwitch: zone2Enable, DurationRef: zone2Dur, BaseDuration: 15},
		{ID: pumpRef, Number: 9, Ordinal: 9, Enabled: true, Role: model.RolePump},
	}
}

func testProbe(sleepMinutes float64, zones ...model.EntityRef) model.Probe {
	return model.Probe{
		ID:           "gophr_1",
		DisplayName:  "Gophr 1",
		Sensors:      model.DepthSensors{Mid: probeMid},
		SleepMinutes: sleepMinutes,
		ZoneMappings: zones,
		Aux: model.AuxSensors{
			StatusLED:     probeLED,
			SleepNumber:   probeSleepNumber,
			SleepDuration: probeSleepSensor,
			SleepDisable:  probeSleepDisable,
		},
	}
}

func at(h, m int) time.Time {
	return time.Date(2025, 7, 10, h, m, 0, 0, time.UTC)
}

func newTestBuilder(t *testing.T, fake *entity.Fake, now *time.Time, probes []model.Probe) *Builder {
	t.Helper()
	b, err := NewBuilder(BuilderDeps{
		Entities:  fake,
		Zones:     testZones,
		Probes:    func() []model.Probe { return probes },
		Schedules: func() []model.EntityRef { return []model.EntityRef{schedule2Ref, schedule1Ref} },
		Now:       func() time.Time { return *now },
	})
	require.NoError(t, err)
	return b
}

func TestBuildProjectsSlotsInProgramOrder(t *testing.T) {
	fake := entity.NewFake()
	fake.Set(schedule1Ref, "06:00")
	fake.Set(schedule2Ref, "18:00")
	fake.SetFloat(zone1Dur, 20)
	fake.SetFloat(zone2Dur, 15)

	now := at(4, 0)
	probes := []model.Probe{testProbe(30, zone1Ref, zone2Ref)}
	b := newTestBuilder(t, fake, &now, probes)

	tl, err := b.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, tl.Windows, 2)

	w := tl.Windows[0]
	assert.Equal(t, schedule1Ref, w.ScheduleRef)
	assert.Equal(t, at(6, 0), w.Start)
	require.Len(t, w.Slots, 2)
	assert.Equal(t, zone1Ref, w.Slots[0].Zone)
	assert.Equal(t, at(6, 0), w.Slots[0].Start)
	assert.Equal(t, at(6, 20), w.Slots[0].End)
	assert.Equal(t, zone2Ref, w.Slots[1].Zone)
	assert.Equal(t, at(6, 20), w.Slots[1].Start)
	assert.Equal(t, at(6, 35), w.Slots[1].End)
	assert.Equal(t, at(6, 35), w.End)

	// The pump has no duration and never gets a slot.
	for _, s := range w.Slots {
		assert.NotEqual(t, pumpRef, s.Zone)
	}

	// Prep trigger = start - (sleep 30 + buffer 20); wake lead 10.
	assert.Equal(t, at(5, 10), w.PrepTrigger)
	assert.Equal(t, at(5, 50), w.TargetWake)

	assert.Equal(t, at(18, 0), tl.Windows[1].Start)
	assert.Equal(t, uint64(1), tl.Sequence)
}

func TestBuildDurationChangeShiftsOnlyLaterSlots(t *testing.T) {
	fake := entity.NewFake()
	fake.Set(schedule1Ref, "06:00")
	fake.Set(schedule2Ref, "unavailable")
	fake.SetFloat(zone1Dur, 20)
	fake.SetFloat(zone2Dur, 15)

	now := at(4, 0)
	b := newTestBuilder(t, fake, &now, nil)

	first, err := b.Build(context.Background())
	require.NoError(t, err)

	fake.SetFloat(zone1Dur, 30)
	second, err := b.Build(context.Background())
	require.NoError(t, err)

	require.Len(t, second.Windows, 1)
	w := second.Windows[0]
	assert.Equal(t, first.Windows[0].Slots[0].Start, w.Slots[0].Start)
	assert.Equal(t, at(6, 30), w.Slots[0].End)
	assert.Equal(t, at(6, 30), w.Slots[1].Start)
	assert.Equal(t, at(6, 45), w.Slots[1].End)
	assert.Equal(t, first.Sequence+1, second.Sequence)
}

func TestBuildSkipsUnparseableScheduleOnly(t *testing.T) {
	fake := entity.NewFake()
	fake.Set(schedule1Ref, "sometime later")
	fake.Set(schedule2Ref, "07:30")
	fake.SetFloat(zone1Dur, 20)
	fake.SetFloat(zone2Dur, 15)

	now := at(4, 0)
	b := newTestBuilder(t, fake, &now, nil)

	tl, err := b.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, tl.Windows, 1)
	assert.Equal(t, schedule2Ref, tl.Windows[0].ScheduleRef)
	assert.Equal(t, at(7, 30), tl.Windows[0].Start)
}

func TestBuildRollsPastWindowToNextDay(t *testing.T) {
	fake := entity.NewFake()
	fake.Set(schedule1Ref, "06:00")
	fake.Set(schedule2Ref, "unavailable")
	fake.SetFloat(zone1Dur, 20)
	fake.SetFloat(zone2Dur, 15)

	now := at(12, 0)
	b := newTestBuilder(t, fake, &now, nil)

	tl, err := b.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, tl.Windows, 1)
	assert.Equal(t, at(6, 0).Add(24*time.Hour), tl.Windows[0].Start)
}

func TestBuildWithoutMappedProbesHasNoPrepTimes(t *testing.T) {
	fake := entity.NewFake()
	fake.Set(schedule1Ref, "06:00")
	fake.Set(schedule2Ref, "unavailable")
	fake.SetFloat(zone1Dur, 20)
	fake.SetFloat(zone2Dur, 15)

	now := at(4, 0)
	b := newTestBuilder(t, fake, &now, nil)

	tl, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.True(t, tl.Windows[0].PrepTrigger.IsZero())
	assert.True(t, tl.Windows[0].TargetWake.IsZero())
}
