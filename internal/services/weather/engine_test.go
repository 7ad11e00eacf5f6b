package weather

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxopenhome/irrigation-core/internal/entity"
	"github.com/fluxopenhome/irrigation-core/internal/model"
)

type stubClient struct {
	wx  model.WeatherSnapshot
	err error
}

func (s *stubClient) Fetch(ctx context.Context) (model.WeatherSnapshot, error) {
	return s.wx, s.err
}

const (
	schedSwitch = model.EntityRef("switch.irrigator_enable_schedule_1")
	zoneSwitch  = model.EntityRef("switch.irrigator_zone_1")
)

func newTestEngine(t *testing.T, client *stubClient, fake *entity.Fake) *Engine {
	t.Helper()
	e, err := NewEngine(Deps{
		Client:   client,
		Entities: fake,
		Zones: func() []model.Zone {
			return []model.Zone{{ID: zoneSwitch, Number: 1, Role: model.RoleIrrigation}}
		},
		ScheduleSwitches: func() []model.EntityRef { return []model.EntityRef{schedSwitch} },
		Now:              func() time.Time { return evalTime },
	})
	require.NoError(t, err)
	return e
}

func TestEnginePauseSideEffects(t *testing.T) {
	fake := entity.NewFake()
	fake.Set(schedSwitch, "on")
	fake.Set(zoneSwitch, "on")
	client := &stubClient{wx: clearSnapshot()}
	client.wx.Condition = "pouring"

	e := newTestEngine(t, client, fake)
	st, err := e.Evaluate(context.Background())
	require.NoError(t, err)

	assert.True(t, st.Paused)
	assert.Equal(t, model.PauseOriginWeather, st.PauseOrigin)
	assert.Equal(t, "on", st.SavedScheduleStates[schedSwitch])

	// Schedule switch and the running zone are both off now.
	ss, _ := fake.ReadState(context.Background(), schedSwitch)
	assert.False(t, ss.IsOn())
	zs, _ := fake.ReadState(context.Background(), zoneSwitch)
	assert.False(t, zs.IsOn())

	// Pause means multiplier contributes nothing.
	assert.Equal(t, 1.0, e.Multiplier())
}

func TestEngineWeatherPauseAutoResumes(t *testing.T) {
	fake := entity.NewFake()
	fake.Set(schedSwitch, "on")
	fake.Set(zoneSwitch, "off")
	client := &stubClient{wx: clearSnapshot()}
	client.wx.Condition = "rainy"

	e := newTestEngine(t, client, fake)
	_, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	paused, origin := e.Paused()
	require.True(t, paused)
	require.Equal(t, model.PauseOriginWeather, origin)

	// Skies clear: the pause lifts and the schedule switch is restored.
	client.wx.Condition = "sunny"
	st, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	assert.False(t, st.Paused)
	ss, _ := fake.ReadState(context.Background(), schedSwitch)
	assert.True(t, ss.IsOn())
}

func TestEngineManualPauseNeverAutoResumes(t *testing.T) {
	fake := entity.NewFake()
	fake.Set(schedSwitch, "on")
	client := &stubClient{wx: clearSnapshot()}

	e := newTestEngine(t, client, fake)
	e.PauseManual(context.Background(), "homeowner on vacation")

	// A clear-sky evaluation must not lift a manual pause.
	st, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Paused)
	assert.Equal(t, model.PauseOriginManual, st.PauseOrigin)

	// Only an explicit resume clears it.
	e.ResumeManual(context.Background())
	paused, _ := e.Paused()
	assert.False(t, paused)
}

func TestEngineResumeRestoresOnlyPriorOn(t *testing.T) {
	other := model.EntityRef("switch.irrigator_enable_schedule_2")
	fake := entity.NewFake()
	fake.Set(schedSwitch, "on")
	fake.Set(other, "off")
	client := &stubClient{wx: clearSnapshot()}
	client.wx.Condition = "rainy"

	e, err := NewEngine(Deps{
		Client:   client,
		Entities: fake,
		ScheduleSwitches: func() []model.EntityRef {
			return []model.EntityRef{schedSwitch, other}
		},
		Now: func() time.Time { return evalTime },
	})
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background())
	require.NoError(t, err)

	client.wx.Condition = "sunny"
	_, err = e.Evaluate(context.Background())
	require.NoError(t, err)

	// The switch that was off before the pause stays off.
	ss, _ := fake.ReadState(context.Background(), schedSwitch)
	assert.True(t, ss.IsOn())
	os, _ := fake.ReadState(context.Background(), other)
	assert.False(t, os.IsOn())
}

func TestEngineUpdateRulesValidates(t *testing.T) {
	fake := entity.NewFake()
	e := newTestEngine(t, &stubClient{wx: clearSnapshot()}, fake)

	bad := model.DefaultWeatherRules()
	bad.RainForecast.ProbabilityThreshold = 150
	assert.Error(t, e.UpdateRules(bad))

	good := model.DefaultWeatherRules()
	good.RainForecast.ProbabilityThreshold = 75
	require.NoError(t, e.UpdateRules(good))
	assert.Equal(t, 75.0, e.Rules().RainForecast.ProbabilityThreshold)
}
